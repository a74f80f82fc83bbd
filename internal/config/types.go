package config

import "time"

// Config holds the update center's process-wide settings. It is loaded once
// at startup and passed by value into the components that need it, replacing
// the scattered system-property reads of the original design (see §9 of the
// design notes: "global mutable state ... becomes a field of the UpdateCenter
// instance").
type Config struct {
	// Home is the base directory holding the site registry document, the
	// per-downloadable metadata cache (updates/*.json), the plugins
	// directory, and the install-resume state file.
	Home string `yaml:"home"`

	// Never disables all outbound metadata updates (<pkg>.never).
	Never bool `yaml:"never,omitempty"`

	// NoSignatureCheck disables signature verification on fetched site
	// metadata. Test use only (<pkg>.noSignatureCheck).
	NoSignatureCheck bool `yaml:"noSignatureCheck,omitempty"`

	// DefaultInterval is the default refresh interval for a downloadable's
	// cached metadata before it is considered due for refresh
	// (<pkg>.defaultInterval).
	DefaultInterval time.Duration `yaml:"defaultInterval,omitempty"`

	// UpdateCenterURL overrides the baked-in default site URL
	// (<pkg>.updateCenterUrl).
	UpdateCenterURL string `yaml:"updateCenterUrl,omitempty"`

	// DefaultUpdateSiteID overrides the reserved id of the default site
	// (<pkg>.defaultUpdateSiteId).
	DefaultUpdateSiteID string `yaml:"defaultUpdateSiteId,omitempty"`

	// PluginDownloadReadTimeout is the read timeout applied to plugin and
	// core downloads (<pkg>.pluginDownloadReadTimeoutSeconds).
	PluginDownloadReadTimeout time.Duration `yaml:"pluginDownloadReadTimeoutSeconds,omitempty"`

	// SkipPermissionCheck disables the admin-only check on the HTTP status
	// surface. Escape hatch for single-user deployments
	// (<pkg>.skipPermissionCheck).
	SkipPermissionCheck bool `yaml:"skipPermissionCheck,omitempty"`

	// ListenAddr is the bind address for the read-only status HTTP API.
	ListenAddr string `yaml:"listenAddr,omitempty"`

	// ProxyURL, when set, routes every outbound HTTP request (metadata
	// fetch, connection probe, plugin download) through this proxy
	// regardless of the environment's HTTP_PROXY/HTTPS_PROXY.
	ProxyURL string `yaml:"proxyUrl,omitempty"`

	// MetadataPoolSize bounds the number of concurrent goroutines used for
	// site refreshes and connection probes (§4.8 "metadata pool").
	MetadataPoolSize int `yaml:"metadataPoolSize,omitempty"`

	// GitHubToken authenticates requests a GitHubSite makes against the
	// GitHub releases API. Env-only (UPDATECENTER_GITHUB_TOKEN): a
	// credential has no business sitting in config.yaml alongside
	// everything else here.
	GitHubToken string `yaml:"-"`
}

// ReservedSiteID values that the registry treats specially.
const (
	ReservedDefaultSiteID = "default"
	ReservedUploadSiteID  = "_upload"
)

// DefaultDownloadableRefreshInterval is the fallback "due for refresh"
// interval described in §6: lastModified + interval <= now.
const DefaultDownloadableRefreshInterval = 24 * time.Hour

// DefaultPluginDownloadReadTimeout is the default read timeout for plugin
// downloads described in §5.
const DefaultPluginDownloadReadTimeout = 60 * time.Second

// DefaultMetadataPoolSize bounds the metadata pool when the operator hasn't
// specified one.
const DefaultMetadataPoolSize = 8

// DefaultBuiltinSiteURL is the baked-in update site URL used when no
// override and no persisted default site exist.
const DefaultBuiltinSiteURL = "https://updates.example-ci.org/update-center.json"

// DefaultListenAddr is the default bind address for the status HTTP API.
const DefaultListenAddr = "127.0.0.1:8090"
