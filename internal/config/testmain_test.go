package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// TestMain keeps tests away from the user's real ~/.config/rd and any RD_*
// variables set in the calling shell.
func TestMain(m *testing.M) {
	tmp, err := os.MkdirTemp("", "rd-config-tests-*")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create temp dir: %v\n", err)
		os.Exit(1)
	}

	for _, name := range []string{"RD_HOME", "RD_REDMINE_URL", "RD_REDMINE_API_KEY", "RD_REDMINE_TIMEOUT", "RD_DRAFTS_PATH", "RD_TELEMETRY_ENABLED"} {
		_ = os.Unsetenv(name)
	}
	_ = os.Setenv("HOME", tmp)
	_ = os.Setenv("USERPROFILE", tmp) // Windows compatibility
	_ = os.Setenv("XDG_CONFIG_HOME", filepath.Join(tmp, "xdg-config"))

	code := m.Run()

	_ = os.RemoveAll(tmp)
	os.Exit(code)
}
