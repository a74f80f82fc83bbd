// Package logging provides the structured, subsystem-tagged logger used
// throughout the update center: site refreshes, installer job transitions,
// and status-API requests all log through here so operators get one
// consistent, greppable stream regardless of which subsystem emitted it.
//
// Logging is backed by log/slog. Init sets the process-wide minimum level
// and output writer once at startup; Debug/Info/Warn/Error tag each entry
// with a subsystem name ("Installer", "SiteRegistry", "StatusAPI", ...) so
// log aggregation can filter by component without parsing message text.
//
//	logging.Init(logging.LevelInfo, os.Stdout)
//	logging.Info("SiteRegistry", "loaded %d sites from %s", len(sites), path)
//	logging.Error("Installer", err, "job %d failed", job.ID)
//
// Audit records security-relevant outcomes (signature rejection, permission
// denial on the HTTP surface) with a dedicated [AUDIT] prefix so they can be
// filtered independently of ordinary operational logs.
package logging
