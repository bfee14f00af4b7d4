package main

import (
	"encoding/json"
	"fmt"

	"github.com/steveyegge/redmine-drafts/internal/debug"
	"github.com/steveyegge/redmine-drafts/internal/ui"
)

// outputJSON outputs data as pretty-printed JSON to stdout.
func outputJSON(v interface{}) error {
	encoder := json.NewEncoder(stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

// outputJSONError writes an error object to stderr.
func outputJSONError(err error, code string) {
	errObj := map[string]string{"error": err.Error()}
	if code != "" {
		errObj["code"] = code
	}
	encoder := json.NewEncoder(stderr)
	encoder.SetIndent("", "  ")
	_ = encoder.Encode(errObj)
}

// printf writes normal output unless --quiet is set.
func printf(format string, args ...interface{}) {
	if debug.IsQuiet() {
		return
	}
	fmt.Fprintf(stdout, format, args...)
}

func warn(msg string) {
	fmt.Fprintf(stderr, "%s %s\n", ui.RenderWarn(ui.IconWarn), msg)
}

// draftNotice tells the user a write was queued rather than sent.
func draftNotice(what string) {
	printf("%s %s %s\n", ui.RenderDraft(ui.IconDraft), what, ui.RenderMuted("(drafted; run 'rd drafts apply' to send)"))
}

// drafting reports whether writes made with ctx will be queued.
func drafting() bool {
	return mode != nil && mode.Enabled() && !noDraftFlag
}
