package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"updatecenter/pkg/logging"

	"gopkg.in/yaml.v3"
)

const (
	userConfigDir  = ".config/updatecenter"
	configFileName = "config.yaml"

	// envPrefix namespaces every environment toggle named in §6.
	envPrefix = "UPDATECENTER_"
)

// GetDefaultHomeOrPanic returns the default home directory, mirroring the
// original controller's JENKINS_HOME-style convention of a single directory
// under the user's home holding all persisted state.
func GetDefaultHomeOrPanic() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		panic(fmt.Errorf("could not determine user home directory: %w", err))
	}
	return filepath.Join(homeDir, userConfigDir)
}

// Load reads config.yaml from home (if present), then applies environment
// overrides on top. A missing file is not an error: the caller gets
// Default(home) with environment overrides applied.
func Load(home string) (Config, error) {
	cfg := Default(home)

	configFilePath := filepath.Join(home, configFileName)
	data, err := os.ReadFile(configFilePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Info("ConfigLoader", "no config.yaml at %s, using defaults", configFilePath)
			applyEnvOverrides(&cfg)
			return cfg, nil
		}
		return Config{}, fmt.Errorf("reading %s: %w", configFilePath, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing %s: %w", configFilePath, err)
	}
	cfg.Home = home // the directory the file was actually read from wins
	logging.Info("ConfigLoader", "loaded configuration from %s", configFilePath)

	applyEnvOverrides(&cfg)
	return cfg, nil
}

// applyEnvOverrides implements the environment toggles from §6. Environment
// variables always win over the file, matching the original's system
// property semantics (a deploy-time override that doesn't require editing
// the persisted config).
func applyEnvOverrides(cfg *Config) {
	if v, ok := boolEnv(envPrefix + "NEVER"); ok {
		cfg.Never = v
	}
	if v, ok := boolEnv(envPrefix + "NO_SIGNATURE_CHECK"); ok {
		cfg.NoSignatureCheck = v
	}
	if v, ok := os.LookupEnv(envPrefix + "UPDATE_CENTER_URL"); ok && v != "" {
		cfg.UpdateCenterURL = v
	}
	if v, ok := os.LookupEnv(envPrefix + "DEFAULT_UPDATE_SITE_ID"); ok && v != "" {
		cfg.DefaultUpdateSiteID = v
	}
	if v, ok := durationSecondsEnv(envPrefix + "DEFAULT_INTERVAL_SECONDS"); ok {
		cfg.DefaultInterval = v
	}
	if v, ok := durationSecondsEnv(envPrefix + "PLUGIN_DOWNLOAD_READ_TIMEOUT_SECONDS"); ok {
		cfg.PluginDownloadReadTimeout = v
	}
	if v, ok := boolEnv(envPrefix + "SKIP_PERMISSION_CHECK"); ok {
		cfg.SkipPermissionCheck = v
	}
	if v, ok := os.LookupEnv(envPrefix + "LISTEN_ADDR"); ok && v != "" {
		cfg.ListenAddr = v
	}
	if v, ok := os.LookupEnv(envPrefix + "PROXY_URL"); ok && v != "" {
		cfg.ProxyURL = v
	}
	if v, ok := os.LookupEnv(envPrefix + "GITHUB_TOKEN"); ok && v != "" {
		cfg.GitHubToken = v
	}
}

func boolEnv(name string) (bool, bool) {
	raw, ok := os.LookupEnv(name)
	if !ok || raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		logging.Warn("ConfigLoader", "ignoring malformed bool env %s=%q: %v", name, raw, err)
		return false, false
	}
	return v, true
}

func durationSecondsEnv(name string) (time.Duration, bool) {
	raw, ok := os.LookupEnv(name)
	if !ok || raw == "" {
		return 0, false
	}
	seconds, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		logging.Warn("ConfigLoader", "ignoring malformed duration env %s=%q: %v", name, raw, err)
		return 0, false
	}
	return time.Duration(seconds) * time.Second, true
}
