// Package config loads rd settings from $RD_HOME/config.yaml and RD_*
// environment variables through a package-level viper instance.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Keys understood by rd.
const (
	KeyRedmineURL       = "redmine.url"
	KeyRedmineAPIKey    = "redmine.api-key"
	KeyRedmineTimeout   = "redmine.timeout"
	KeyDraftsPath       = "drafts.path"
	KeyTelemetryEnabled = "telemetry.enabled"
)

// ConfigFileName is the config file inside the rd home directory.
const ConfigFileName = "config.yaml"

var v *viper.Viper

// Home returns the rd home directory: $RD_HOME, else
// $XDG_CONFIG_HOME/rd, else ~/.config/rd.
func Home() string {
	if dir := os.Getenv("RD_HOME"); dir != "" {
		return dir
	}
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "rd")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".config", "rd")
	}
	return filepath.Join(home, ".config", "rd")
}

// ConfigPath returns the path of config.yaml.
func ConfigPath() string {
	return filepath.Join(Home(), ConfigFileName)
}

// Initialize reads config.yaml if present and binds RD_* environment
// variables. RD_REDMINE_API_KEY overrides redmine.api-key.
func Initialize() error {
	nv := viper.New()
	nv.SetConfigType("yaml")
	nv.SetConfigFile(ConfigPath())
	nv.SetEnvPrefix("RD")
	nv.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	nv.AutomaticEnv()

	nv.SetDefault(KeyRedmineURL, "")
	nv.SetDefault(KeyRedmineAPIKey, "")
	nv.SetDefault(KeyRedmineTimeout, 30*time.Second)
	nv.SetDefault(KeyDraftsPath, filepath.Join(Home(), "drafts.json"))
	nv.SetDefault(KeyTelemetryEnabled, false)

	if err := nv.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to read %s: %w", ConfigPath(), err)
		}
	}
	v = nv
	return nil
}

// ResetForTesting drops the loaded configuration.
func ResetForTesting() {
	v = nil
}

func current() *viper.Viper {
	if v == nil {
		// Callers that skip Initialize still see defaults and env.
		_ = Initialize()
	}
	return v
}

// GetString returns the string value of key.
func GetString(key string) string { return current().GetString(key) }

// GetBool returns the boolean value of key.
func GetBool(key string) bool { return current().GetBool(key) }

// GetDuration returns the duration value of key.
func GetDuration(key string) time.Duration { return current().GetDuration(key) }

// Set overrides key for the rest of the process. It is not persisted; use
// SetYamlConfig for that.
func Set(key string, value any) { current().Set(key, value) }

// ConfigFileUsed returns the config file path, whether or not it exists.
func ConfigFileUsed() string { return current().ConfigFileUsed() }

// AllSettings returns every known key with its effective value.
func AllSettings() map[string]any {
	out := make(map[string]any, len(KnownKeys))
	for _, key := range KnownKeys {
		out[key] = current().Get(key)
	}
	return out
}

// Settings is the resolved configuration rd runs with.
type Settings struct {
	RedmineURL       string
	APIKey           string
	Timeout          time.Duration
	DraftsPath       string
	StatePath        string
	FlagDir          string
	TelemetryEnabled bool
}

// Load resolves the current configuration.
func Load() Settings {
	return Settings{
		RedmineURL:       strings.TrimRight(GetString(KeyRedmineURL), "/"),
		APIKey:           GetString(KeyRedmineAPIKey),
		Timeout:          GetDuration(KeyRedmineTimeout),
		DraftsPath:       GetString(KeyDraftsPath),
		StatePath:        filepath.Join(Home(), "state.toml"),
		FlagDir:          Home(),
		TelemetryEnabled: GetBool(KeyTelemetryEnabled),
	}
}

// Validate reports settings rd cannot talk to Redmine without.
func (s Settings) Validate() error {
	var missing []string
	if s.RedmineURL == "" {
		missing = append(missing, KeyRedmineURL)
	}
	if s.APIKey == "" {
		missing = append(missing, KeyRedmineAPIKey)
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing configuration: %s (set with 'rd config set <key> <value>' or RD_* environment variables)", strings.Join(missing, ", "))
	}
	if !strings.HasPrefix(s.RedmineURL, "http://") && !strings.HasPrefix(s.RedmineURL, "https://") {
		return fmt.Errorf("%s must start with http:// or https://, got %q", KeyRedmineURL, s.RedmineURL)
	}
	return nil
}
