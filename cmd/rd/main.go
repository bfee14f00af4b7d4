package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/steveyegge/redmine-drafts/internal/config"
	"github.com/steveyegge/redmine-drafts/internal/debug"
	"github.com/steveyegge/redmine-drafts/internal/drafts"
	"github.com/steveyegge/redmine-drafts/internal/memento"
	"github.com/steveyegge/redmine-drafts/internal/redmine"
	"github.com/steveyegge/redmine-drafts/internal/telemetry"
	"github.com/steveyegge/redmine-drafts/internal/ui"
)

var (
	jsonOutput  bool
	verboseFlag bool
	quietFlag   bool
	noDraftFlag bool
	yesFlag     bool

	// Signal-aware context for graceful cancellation
	rootCtx    context.Context
	rootCancel context.CancelFunc

	// Set up by PersistentPreRunE for commands that need them.
	client  *redmine.Client
	queue   *drafts.Queue
	mode    *drafts.Mode
	proxy   *drafts.Proxy
	applier *drafts.Applier
	state   *memento.File
	cfg     config.Settings

	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable verbose/debug output")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "Suppress non-essential output (errors only)")
	rootCmd.PersistentFlags().BoolVar(&noDraftFlag, "no-draft", false, "Send writes to Redmine even when draft mode is on")
	rootCmd.PersistentFlags().BoolVarP(&yesFlag, "yes", "y", false, "Answer yes to confirmation prompts")

	rootCmd.Flags().BoolP("version", "V", false, "Print version information")

	// Assigned here rather than in the literal to break the rootCmd
	// initialization cycle (setup -> isNoBackendCommand -> rootCmd).
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		setupSignalContext(cmd.Context())
		applyVerbosityFlags()
		return setup(cmd)
	}

	rootCmd.AddGroup(&cobra.Group{ID: "drafts", Title: "Drafts:"})
	rootCmd.AddGroup(&cobra.Group{ID: "redmine", Title: "Working With Redmine:"})
	rootCmd.AddGroup(&cobra.Group{ID: "setup", Title: "Setup & Configuration:"})
}

var rootCmd = &cobra.Command{
	Use:           "rd",
	Short:         "rd - Redmine from the terminal, with a draft queue",
	Long:          `A Redmine client whose writes can be drafted locally, reviewed, and applied later.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Run: func(cmd *cobra.Command, args []string) {
		if v, _ := cmd.Flags().GetBool("version"); v {
			printVersion()
			return
		}
		_ = cmd.Help()
	},
}

// commandContext returns the signal-aware root context, with the draft
// bypass marker applied when --no-draft is set.
func commandContext() context.Context {
	ctx := rootCtx
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = drafts.WithChangeSource(ctx, "cli")
	if noDraftFlag {
		ctx = drafts.WithBypass(ctx)
	}
	return ctx
}

func run(args []string) int {
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	// Runs after failed commands too; PersistentPostRun would not.
	teardown()
	if err == nil {
		return 0
	}
	if errors.Is(err, errAborted) {
		return 1
	}
	if jsonOutput {
		outputJSONError(err, errorCode(err))
	} else {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		if hint := errorHint(err); hint != "" {
			fmt.Fprintf(stderr, "Hint: %s\n", ui.RenderMuted(hint))
		}
	}
	return 1
}

func main() {
	code := run(os.Args[1:])
	telemetry.Shutdown(context.Background())
	_ = debug.Sync()
	os.Exit(code)
}
