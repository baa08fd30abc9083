package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// configName is the base name of the config file.
const configName = "kestrel"

// InitViper initializes Viper with the configuration file and environment variables.
// If configFile is empty, it searches for kestrel.yaml/.yml in standard locations.
// The search requires an explicit YAML extension so the kestrel binary in the
// working directory is never mistaken for its config.
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// No search paths: ReadInConfig returns ConfigFileNotFoundError.
		viper.SetConfigName(configName)
		viper.SetConfigType("yaml")
	}

	// Environment variable support: KESTREL_SERVER_HTTP_ADDR
	viper.SetEnvPrefix("KESTREL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

// findConfigFile searches ".", $HOME/.kestrel and /etc/kestrel.
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".kestrel"),
	}
	if runtime.GOOS == "windows" {
		if pd := os.Getenv("ProgramData"); pd != "" {
			paths = append(paths, filepath.Join(pd, "kestrel"))
		}
	} else {
		paths = append(paths, "/etc/kestrel")
	}
	return findConfigFileInPaths(paths)
}

// findConfigFileInPaths searches the given directories for kestrel.yaml or .yml.
// Returns the full path of the first match, or empty string if none found.
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, configName+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds scalar config keys for environment variable support.
// Example: KESTREL_SERVER_HTTP_ADDR overrides server.http_addr.
// Lists (rules, rate_limits, callers) are file-only.
func bindNestedEnvKeys() {
	for _, key := range []string{
		"server.http_addr",
		"server.log_level",
		"mode",

		"provider.kind",
		"provider.base_url",
		"provider.timeout",
		"provider.credentials_file",
		"provider.oauth.client_id",
		"provider.oauth.client_secret",
		"provider.oauth.token_url",

		"storage.dsn",
		"storage.journal.dir",

		"generator.kind",
		"generator.model",
		"generator.api_key",
		"generator.base_url",

		"policy.default_action",
		"policy.confirm_deletes",
		"policy.idempotency_window",

		"autopilot.discovery.enabled",
		"autopilot.mentions.enabled",
		"autopilot.content.enabled",
		"autopilot.threads.enabled",
		"autopilot.token_refresh.enabled",

		"telemetry.exporter",

		"dev_mode",
	} {
		_ = viper.BindEnv(key)
	}
}

// LoadConfig reads the configuration file, applies environment overrides,
// sets defaults, and returns the validated Config.
func LoadConfig() (*Config, error) {
	cfg, err := LoadConfigRaw()
	if err != nil {
		return nil, err
	}

	cfg.SetDevDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// LoadConfigRaw reads the configuration file and applies defaults,
// but does NOT apply dev defaults or validate.
// Use this when CLI flags may override DevMode before validation.
func LoadConfigRaw() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found: continue with env vars only.
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	return &cfg, nil
}

// ConfigFileUsed returns the path to the configuration file that was loaded.
// Returns an empty string if no config file was found (env vars only mode).
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
