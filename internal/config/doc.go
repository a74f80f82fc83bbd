// Package config loads the update center's process-wide configuration:
// the on-disk home directory layout, the default update site URL, and the
// environment toggles that gate signature verification, outbound refreshes,
// and download timeouts.
//
// Configuration is loaded from a YAML file (config.yaml under the home
// directory) with environment variables taking precedence over file values,
// mirroring how the rest of the update center treats the filesystem as the
// source of truth and the environment as an operator override.
package config
