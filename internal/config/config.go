// Package config wraps viper for grafton's layered configuration:
// project config file, user config, environment variables, flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

var v *viper.Viper

// Initialize sets up the viper configuration singleton.
// Should be called once at application startup.
func Initialize() error {
	v = viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	// Config search paths, in order of precedence:
	// 1. Walk up from CWD to find a project .grafton/ directory, so
	//    commands work from subdirectories of the project.
	cwd, err := os.Getwd()
	if err == nil {
		for dir := cwd; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
			graftonDir := filepath.Join(dir, ".grafton")
			configPath := filepath.Join(graftonDir, "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.AddConfigPath(graftonDir)
				break
			}
			if info, err := os.Stat(graftonDir); err == nil && info.IsDir() {
				v.AddConfigPath(graftonDir)
				break
			}
		}
	}

	// 2. User config directory (~/.config/grafton/)
	if configDir, err := os.UserConfigDir(); err == nil {
		v.AddConfigPath(filepath.Join(configDir, "grafton"))
	}

	// 3. Home directory (~/.grafton/)
	if homeDir, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(homeDir, ".grafton"))
	}

	// Environment variables take precedence over the config file.
	// E.g. GRAFTON_DB, GRAFTON_SCHEMA, GRAFTON_REFERENCE_TYPES.
	v.SetEnvPrefix("GRAFTON")
	// GRAFTON_REFERENCE_TYPES maps to the "reference-types" key.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("json", false)
	v.SetDefault("db", "")
	v.SetDefault("schema", "")
	v.SetDefault("reference-types", "")
	v.SetDefault("audit-log", "")

	// Read config file if it exists; missing is fine, defaults apply.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return nil
}

// GetString retrieves a string configuration value
func GetString(key string) string {
	if v == nil {
		return ""
	}
	return v.GetString(key)
}

// GetBool retrieves a boolean configuration value
func GetBool(key string) bool {
	if v == nil {
		return false
	}
	return v.GetBool(key)
}

// GetStringSlice retrieves a comma-separated list value
func GetStringSlice(key string) []string {
	if v == nil {
		return nil
	}
	raw := v.GetString(key)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Set sets a configuration value
func Set(key string, value interface{}) {
	if v != nil {
		v.Set(key, value)
	}
}

// AllSettings returns all configuration settings as a map
func AllSettings() map[string]interface{} {
	if v == nil {
		return map[string]interface{}{}
	}
	return v.AllSettings()
}
