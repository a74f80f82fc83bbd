package config

// Default returns a Config populated with the same defaults the original
// Java-based controller baked into its constants, scoped to the given home
// directory.
func Default(home string) Config {
	return Config{
		Home:                      home,
		DefaultInterval:           DefaultDownloadableRefreshInterval,
		UpdateCenterURL:           DefaultBuiltinSiteURL,
		DefaultUpdateSiteID:       ReservedDefaultSiteID,
		PluginDownloadReadTimeout: DefaultPluginDownloadReadTimeout,
		ListenAddr:                DefaultListenAddr,
		MetadataPoolSize:          DefaultMetadataPoolSize,
	}
}
