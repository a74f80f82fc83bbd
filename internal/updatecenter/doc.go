// Package updatecenter implements the controller's update center: discovery,
// verification, and installation of plugin packages and core upgrades from
// one or more remote update sites.
//
// The package is organized around a handful of collaborating pieces: a
// Registry of UpdateSites, a Queue that serializes installation work while
// letting metadata refreshes run in parallel, a tagged-union Job model
// dispatched by the installer worker, and a ResumeStore that survives
// process restarts. Callers assemble these through Center, which is the
// only exported entry point most of cmd/ needs.
package updatecenter
