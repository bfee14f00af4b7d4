package debug

import (
	"bytes"
	"io"
	"os"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// capture redirects *target while fn runs and returns what was written.
func capture(t *testing.T, target **os.File, fn func()) string {
	t.Helper()
	old := *target
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	*target = w
	defer func() { *target = old }()

	fn()

	w.Close()
	var buf bytes.Buffer
	io.Copy(&buf, r)
	return buf.String()
}

func TestLogfAndPrintf(t *testing.T) {
	tests := []struct {
		name    string
		enabled bool
		want    string
	}{
		{"outputs when enabled", true, "retry 2\n"},
		{"no output when disabled", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oldEnabled := enabled
			defer func() { enabled = oldEnabled }()
			enabled = tt.enabled

			if got := capture(t, &os.Stderr, func() { Logf("retry %d\n", 2) }); got != tt.want {
				t.Errorf("Logf() output = %q, want %q", got, tt.want)
			}
			if got := capture(t, &os.Stdout, func() { Printf("retry %d\n", 2) }); got != tt.want {
				t.Errorf("Printf() output = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSetVerbose(t *testing.T) {
	oldVerbose := verboseMode
	oldEnabled := enabled
	defer func() {
		verboseMode = oldVerbose
		enabled = oldEnabled
		resetLogger()
	}()

	enabled = false
	verboseMode = false

	if Enabled() {
		t.Error("Enabled() should be false initially")
	}
	SetVerbose(true)
	if !Enabled() {
		t.Error("Enabled() should be true after SetVerbose(true)")
	}
	SetVerbose(false)
	if Enabled() {
		t.Error("Enabled() should be false after SetVerbose(false)")
	}
}

func TestQuietSuppressesNormalOutput(t *testing.T) {
	oldQuiet := quietMode
	defer func() { quietMode = oldQuiet }()

	SetQuiet(true)
	if !IsQuiet() {
		t.Fatal("IsQuiet() should be true after SetQuiet(true)")
	}
	if got := capture(t, &os.Stdout, func() {
		PrintNormal("applied %d drafts\n", 3)
		PrintlnNormal("done")
	}); got != "" {
		t.Errorf("quiet output = %q, want empty", got)
	}

	SetQuiet(false)
	if got := capture(t, &os.Stdout, func() {
		PrintNormal("applied %d drafts\n", 3)
		PrintlnNormal("done")
	}); got != "applied 3 drafts\ndone\n" {
		t.Errorf("normal output = %q", got)
	}
}

func TestLoggerIsNoopWhenDisabled(t *testing.T) {
	oldEnabled, oldVerbose := enabled, verboseMode
	defer func() {
		enabled, verboseMode = oldEnabled, oldVerbose
		resetLogger()
	}()
	enabled, verboseMode = false, false
	resetLogger()

	if Logger().Core().Enabled(zapcore.ErrorLevel) {
		t.Error("logger should discard everything when debugging is off")
	}
}

func TestLoggerRebuildsOnVerbose(t *testing.T) {
	oldEnabled, oldVerbose := enabled, verboseMode
	defer func() {
		enabled, verboseMode = oldEnabled, oldVerbose
		resetLogger()
	}()
	enabled = false
	SetVerbose(true)

	if !Logger().Core().Enabled(zapcore.DebugLevel) {
		t.Error("verbose logger should emit debug entries")
	}
}

func TestSetLogger(t *testing.T) {
	defer resetLogger()
	l := zap.NewExample()
	SetLogger(l)
	if Logger() != l {
		t.Error("SetLogger() did not replace the logger")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"":        zapcore.DebugLevel,
		"info":    zapcore.InfoLevel,
		" WARN ":  zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"unknown": zapcore.DebugLevel,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
