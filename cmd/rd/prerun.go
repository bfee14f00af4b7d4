package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/redmine-drafts/internal/config"
	"github.com/steveyegge/redmine-drafts/internal/debug"
	"github.com/steveyegge/redmine-drafts/internal/drafts"
	"github.com/steveyegge/redmine-drafts/internal/memento"
	"github.com/steveyegge/redmine-drafts/internal/redmine"
	"github.com/steveyegge/redmine-drafts/internal/storage/fsdoc"
	"github.com/steveyegge/redmine-drafts/internal/telemetry"
	"github.com/steveyegge/redmine-drafts/internal/ui"
)

// Commands declare how much of the backend they need through the "needs"
// annotation. Subcommands inherit it from their parent.
const (
	annotationNeeds = "needs"
	needsNothing    = "nothing" // config, version, help
	needsMode       = "mode"    // draft-mode: only the local switch
	needsBackend    = "backend" // overrides a parent's lighter annotation
)

func needsOf(cmd *cobra.Command) string {
	for c := cmd; c != nil; c = c.Parent() {
		if v, ok := c.Annotations[annotationNeeds]; ok {
			return v
		}
	}
	return ""
}

func isNoBackendCommand(cmd *cobra.Command) bool {
	switch cmd.Name() {
	case "help", "completion", "__complete", "__completeNoDesc":
		return true
	}
	return cmd == rootCmd || needsOf(cmd) == needsNothing
}

func setupSignalContext(parent context.Context) {
	if parent == nil {
		parent = context.Background()
	}
	rootCtx, rootCancel = signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// applyVerbosityFlags propagates --verbose and --quiet to the debug package
// and picks the color profile before anything is printed.
func applyVerbosityFlags() {
	debug.SetVerbose(verboseFlag)
	debug.SetQuiet(quietFlag)
	ui.ApplyColorProfile()
}

func setup(cmd *cobra.Command) error {
	if err := config.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}
	if isNoBackendCommand(cmd) {
		return nil
	}
	cfg = config.Load()

	if err := setupMode(cfg); err != nil {
		return err
	}
	if needsOf(cmd) == needsMode {
		return nil
	}

	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := telemetry.Init(rootCtx, telemetry.Options{
		ServiceName: "rd",
		Version:     Version,
		Enabled:     cfg.TelemetryEnabled,
	}); err != nil {
		// Telemetry never blocks a command.
		debug.Logf("telemetry init failed: %v\n", err)
	}

	client = redmine.NewClient(cfg.RedmineURL, cfg.APIKey).
		WithHTTPClient(telemetry.WrapClient(&http.Client{Timeout: cfg.Timeout}))

	store := telemetry.WrapDocument(fsdoc.New(cfg.DraftsPath))
	queue = drafts.NewQueue(store, drafts.WithQueueLogger(debug.Named("drafts.queue")))
	if err := loadQueue(rootCtx, drafts.HashIdentity(cfg.RedmineURL+cfg.APIKey)); err != nil {
		return err
	}

	proxy = drafts.NewProxy(client, queue, mode)
	proxy.OnWarning = warn

	applier = drafts.NewApplier(queue, client)
	// Outcomes are reported by the apply command itself.
	applier.OnMessage = func(msg string) { debug.Logf("%s\n", msg) }
	applier.OnWarning = warn
	return nil
}

func setupMode(settings config.Settings) error {
	state = memento.Open(settings.StatePath)
	mode = drafts.NewMode(state, memento.NewMarkers(settings.FlagDir))
	if err := mode.Initialize(); err != nil {
		return err
	}
	return nil
}

// loadQueue binds the draft queue to identity. When the saved queue holds
// drafts for another server or API key, the user must agree to discard
// them first.
func loadQueue(ctx context.Context, identity string) error {
	conflict, err := queue.CheckServerConflict(ctx, identity)
	if err != nil {
		return fmt.Errorf("failed to read draft queue: %w", err)
	}
	force := false
	if conflict != nil {
		force, err = confirmIdentitySwitch(conflict.Count)
		if err != nil {
			return err
		}
		if !force {
			return errAborted
		}
	}
	return queue.Load(ctx, identity, drafts.LoadOptions{Force: force})
}

func confirmIdentitySwitch(pending int) (bool, error) {
	if yesFlag {
		return true, nil
	}
	ok, err := ui.Confirm(
		fmt.Sprintf("Discard %d draft(s)?", pending),
		"The saved drafts were made against a different Redmine server or API key. They cannot be applied here.",
		"Discard", "Keep (abort)",
	)
	if err != nil {
		return false, &drafts.IdentityConflictError{Pending: pending}
	}
	return ok, nil
}

// teardown waits briefly for queued writes to reach disk.
func teardown() {
	if queue != nil && queue.Loaded() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := queue.Flush(ctx); err != nil {
			warn(fmt.Sprintf("draft queue may not be saved: %v", err))
		}
		cancel()
	}
	if rootCancel != nil {
		rootCancel()
	}
}
