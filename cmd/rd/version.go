package main

import (
	"fmt"
	"runtime/debug"
)

var (
	// Version is the current version of rd (overridden by ldflags at build time)
	Version = "0.1.0"
	// Build can be set via ldflags at compile time
	Build = "dev"
	// Commit is the git revision the binary was built from (optional ldflag)
	Commit = ""
)

func resolveCommitHash() string {
	if Commit != "" {
		return Commit
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" {
				return s.Value
			}
		}
	}
	return ""
}

func shortCommit(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}

func printVersion() {
	commit := resolveCommitHash()
	if jsonOutput {
		result := map[string]string{"version": Version, "build": Build}
		if commit != "" {
			result["commit"] = commit
		}
		_ = outputJSON(result)
		return
	}
	if commit != "" {
		fmt.Fprintf(stdout, "rd version %s (%s: %s)\n", Version, Build, shortCommit(commit))
		return
	}
	fmt.Fprintf(stdout, "rd version %s (%s)\n", Version, Build)
}
