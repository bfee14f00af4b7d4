package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// useHome points RD_HOME at a fresh directory for one test.
func useHome(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("RD_HOME", dir)
	ResetForTesting()
	t.Cleanup(ResetForTesting)
	return dir
}

func TestHome(t *testing.T) {
	t.Setenv("RD_HOME", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	assert.Equal(t, filepath.Join("/xdg", "rd"), Home())

	t.Setenv("RD_HOME", "/custom/rd")
	assert.Equal(t, "/custom/rd", Home())
	assert.Equal(t, filepath.Join("/custom/rd", ConfigFileName), ConfigPath())
}

func TestDefaultsWithoutConfigFile(t *testing.T) {
	dir := useHome(t)
	require.NoError(t, Initialize())

	s := Load()
	assert.Empty(t, s.RedmineURL)
	assert.Equal(t, 30*time.Second, s.Timeout)
	assert.Equal(t, filepath.Join(dir, "drafts.json"), s.DraftsPath)
	assert.Equal(t, filepath.Join(dir, "state.toml"), s.StatePath)
	assert.False(t, s.TelemetryEnabled)
	assert.Error(t, s.Validate())
}

func TestConfigFileAndEnvironment(t *testing.T) {
	dir := useHome(t)
	yaml := "redmine:\n  url: https://redmine.example.com/\n  api-key: from-file\n  timeout: 5s\ntelemetry:\n  enabled: true\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(yaml), 0o600))
	t.Setenv("RD_REDMINE_API_KEY", "from-env")

	require.NoError(t, Initialize())
	s := Load()
	assert.Equal(t, "https://redmine.example.com", s.RedmineURL)
	assert.Equal(t, "from-env", s.APIKey)
	assert.Equal(t, 5*time.Second, s.Timeout)
	assert.True(t, s.TelemetryEnabled)
	assert.NoError(t, s.Validate())
	assert.Equal(t, filepath.Join(dir, ConfigFileName), ConfigFileUsed())
}

func TestInitializeRejectsBrokenFile(t *testing.T) {
	dir := useHome(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), []byte("redmine: [unclosed"), 0o600))
	assert.Error(t, Initialize())
}

func TestSetOverridesForProcess(t *testing.T) {
	useHome(t)
	require.NoError(t, Initialize())
	Set(KeyRedmineURL, "http://localhost:3000")
	assert.Equal(t, "http://localhost:3000", GetString(KeyRedmineURL))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		s       Settings
		wantErr string
	}{
		{"ok", Settings{RedmineURL: "https://r.example.com", APIKey: "k"}, ""},
		{"missing both", Settings{}, "redmine.url, redmine.api-key"},
		{"missing key", Settings{RedmineURL: "https://r.example.com"}, "redmine.api-key"},
		{"bad scheme", Settings{RedmineURL: "r.example.com", APIKey: "k"}, "must start with"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.s.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
