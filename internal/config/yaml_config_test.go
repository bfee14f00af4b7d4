package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestSetYamlConfigCreatesFile(t *testing.T) {
	dir := useHome(t)
	require.NoError(t, SetYamlConfig(KeyRedmineURL, "https://redmine.example.com"))
	require.NoError(t, SetYamlConfig(KeyRedmineTimeout, "45s"))
	require.NoError(t, SetYamlConfig(KeyTelemetryEnabled, "true"))

	data, err := os.ReadFile(filepath.Join(dir, ConfigFileName))
	require.NoError(t, err)
	var parsed map[string]map[string]any
	require.NoError(t, yaml.Unmarshal(data, &parsed))
	assert.Equal(t, "https://redmine.example.com", parsed["redmine"]["url"])
	assert.Equal(t, "45s", parsed["redmine"]["timeout"])
	assert.Equal(t, true, parsed["telemetry"]["enabled"])

	require.NoError(t, Initialize())
	assert.Equal(t, 45*time.Second, GetDuration(KeyRedmineTimeout))
}

func TestSetYamlConfigPreservesComments(t *testing.T) {
	dir := useHome(t)
	original := "# rd settings\nredmine:\n  url: https://old.example.com # production\n  api-key: abc123\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(original), 0o600))

	require.NoError(t, SetYamlConfig(KeyRedmineURL, "https://new.example.com"))

	data, err := os.ReadFile(filepath.Join(dir, ConfigFileName))
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "# rd settings")
	assert.Contains(t, content, "url: https://new.example.com")
	assert.Contains(t, content, "# production")
	assert.Contains(t, content, "api-key: abc123")
	assert.NotContains(t, content, "old.example.com")
}

func TestSetYamlConfigReloadsViper(t *testing.T) {
	useHome(t)
	require.NoError(t, Initialize())
	require.NoError(t, SetYamlConfig(KeyDraftsPath, "/tmp/elsewhere.json"))
	assert.Equal(t, "/tmp/elsewhere.json", GetString(KeyDraftsPath))
}

func TestSetYamlConfigValidates(t *testing.T) {
	useHome(t)
	tests := []struct {
		key, value string
	}{
		{"redmine.password", "x"},
		{KeyRedmineTimeout, "soon"},
		{KeyTelemetryEnabled, "maybe"},
		{KeyRedmineURL, "redmine.example.com"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			assert.Error(t, SetYamlConfig(tt.key, tt.value))
		})
	}
	assert.NoFileExists(t, ConfigPath())
}

func TestSetYamlConfigKeepsStringsQuoted(t *testing.T) {
	useHome(t)
	// An API key that looks like a number must stay a string.
	require.NoError(t, SetYamlConfig(KeyRedmineAPIKey, "0123"))
	require.NoError(t, Initialize())
	assert.Equal(t, "0123", GetString(KeyRedmineAPIKey))
}

func TestUnsetYamlConfig(t *testing.T) {
	dir := useHome(t)
	require.NoError(t, UnsetYamlConfig(KeyRedmineURL))

	require.NoError(t, SetYamlConfig(KeyRedmineURL, "https://redmine.example.com"))
	require.NoError(t, SetYamlConfig(KeyTelemetryEnabled, "false"))
	require.NoError(t, UnsetYamlConfig(KeyRedmineURL))

	data, err := os.ReadFile(filepath.Join(dir, ConfigFileName))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "redmine")
	assert.Contains(t, string(data), "enabled: false")
}

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "***", MaskSecret("abc"))
	assert.Equal(t, "******7890", MaskSecret("1234567890"))
}
