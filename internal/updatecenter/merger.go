package updatecenter

// MergePlugins collapses one ordered list of per-site plugin lists into a
// single view, preserving first-site-wins for the primary entry under each
// plugin name. A later site offering a *different* version of the same
// plugin is retained under the synthetic key "name:version" so the UI can
// still surface it as an alternate download without duplicating the
// primary row.
func MergePlugins(perSite [][]PluginEntry) map[string]PluginEntry {
	merged := make(map[string]PluginEntry)

	for _, entries := range perSite {
		for _, entry := range entries {
			primary, exists := merged[entry.Name]
			if !exists {
				merged[entry.Name] = entry
				continue
			}
			if primary.Version == entry.Version {
				continue
			}
			altKey := entry.Name + ":" + entry.Version
			if _, altExists := merged[altKey]; !altExists {
				merged[altKey] = entry
			}
		}
	}

	return merged
}
