package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/steveyegge/redmine-drafts/internal/debug"
	"github.com/steveyegge/redmine-drafts/internal/drafts"
	"github.com/steveyegge/redmine-drafts/internal/ui"
)

var draftsCmd = &cobra.Command{
	Use:     "drafts",
	GroupID: "drafts",
	Short:   "Review, apply, or discard queued drafts",
}

var draftsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued drafts in the order they will be applied",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		issueID, _ := cmd.Flags().GetInt("issue")
		watch, _ := cmd.Flags().GetBool("watch")
		if watch {
			return watchDrafts(commandContext(), issueID)
		}
		if err := displayDrafts(listDrafts(issueID)); err != nil {
			return err
		}
		if !jsonOutput && issueID == 0 {
			printLastApply()
		}
		return nil
	},
}

func listDrafts(issueID int) []drafts.Operation {
	if issueID != 0 {
		return queue.ByIssueID(issueID)
	}
	return queue.All()
}

func displayDrafts(ops []drafts.Operation) error {
	if jsonOutput {
		if ops == nil {
			ops = []drafts.Operation{}
		}
		return outputJSON(ops)
	}
	if len(ops) == 0 {
		printf("No drafts queued.\n")
		return nil
	}
	printf("%s\n", ui.RenderCategory(fmt.Sprintf("%d draft(s)", len(ops))))
	for i, op := range ops {
		printf("%3d. %s %s %s\n", i+1, ui.RenderMuted(shortID(op.ID)), ui.FirstLine(op.Description), ui.RenderMuted(age(op.Timestamp)))
		if len(op.DependsOn) > 0 {
			printf("     %s%s\n", ui.TreeLast, ui.RenderMuted("waits for "+strings.Join(op.DependsOn, ", ")))
		}
	}
	return nil
}

// lastApplyKey holds the time of the last apply run that sent anything.
const lastApplyKey = "drafts.last-apply"

func recordLastApply(summary drafts.ApplySummary) {
	if state == nil || summary.Applied == 0 {
		return
	}
	if err := state.SetString(lastApplyKey, time.Now().UTC().Format(time.RFC3339)); err != nil {
		debug.Logf("failed to record last apply: %v\n", err)
	}
}

func printLastApply() {
	if state == nil {
		return
	}
	raw, err := state.GetString(lastApplyKey)
	if err != nil || raw == "" {
		return
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		printf("%s\n", ui.RenderMuted("Last applied "+age(t)))
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func age(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return t.Local().Format("2006-01-02")
	}
}

// watchDrafts redraws the list whenever the draft file changes, including
// changes made by another rd process.
func watchDrafts(ctx context.Context, issueID int) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	dir := filepath.Dir(cfg.DraftsPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	redraw := make(chan struct{}, 1)
	unsubscribe := queue.OnDidChange(func(drafts.Change) {
		select {
		case redraw <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	show := func() {
		if err := displayDrafts(listDrafts(issueID)); err != nil {
			warn(err.Error())
		}
		fmt.Fprintf(stderr, "\nWatching for changes... (Press Ctrl+C to exit)\n")
	}
	show()

	var debounce *time.Timer
	base := filepath.Base(cfg.DraftsPath)
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintf(stderr, "\nStopped watching.\n")
			return nil
		case <-redraw:
			show()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != base || event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(300*time.Millisecond, func() {
				// Reloading fires OnDidChange, which triggers the redraw.
				if err := queue.Load(ctx, queue.Identity(), drafts.LoadOptions{}); err != nil {
					warn(fmt.Sprintf("failed to reload drafts: %v", err))
				}
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			warn(fmt.Sprintf("watcher error: %v", err))
		}
	}
}

// findDraft resolves a list position (1-based) or an id prefix.
func findDraft(ref string) (drafts.Operation, error) {
	ops := queue.All()
	if n, err := strconv.Atoi(ref); err == nil && n >= 1 && n <= len(ops) {
		return ops[n-1], nil
	}
	var matches []drafts.Operation
	for _, op := range ops {
		if strings.HasPrefix(op.ID, ref) {
			matches = append(matches, op)
		}
	}
	switch len(matches) {
	case 0:
		return drafts.Operation{}, fmt.Errorf("%w: %s", drafts.ErrOperationNotFound, ref)
	case 1:
		return matches[0], nil
	default:
		return drafts.Operation{}, fmt.Errorf("draft reference %q is ambiguous (%d matches)", ref, len(matches))
	}
}

var draftsShowCmd = &cobra.Command{
	Use:   "show <n|id>",
	Short: "Show a queued draft and the request it will send",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		op, err := findDraft(args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(op)
		}
		return ui.ToPager(ui.RenderMarkdown(draftMarkdown(op)), ui.PagerOptions{Out: stdout})
	},
}

func draftMarkdown(op drafts.Operation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", op.Description)
	fmt.Fprintf(&b, "- **Id:** `%s`\n", op.ID)
	fmt.Fprintf(&b, "- **Type:** `%s`\n", op.Type)
	fmt.Fprintf(&b, "- **Key:** `%s`\n", op.ResourceKey)
	fmt.Fprintf(&b, "- **Queued:** %s\n", op.Timestamp.Local().Format(time.RFC1123))
	if op.TempID != "" {
		fmt.Fprintf(&b, "- **Creates:** `%s` (placeholder id %d)\n", op.TempID, op.PlaceholderID)
	}
	if len(op.DependsOn) > 0 {
		fmt.Fprintf(&b, "- **Waits for:** `%s`\n", strings.Join(op.DependsOn, "`, `"))
	}
	fmt.Fprintf(&b, "\n## Request\n\n```\n%s %s\n```\n", op.HTTP.Method, op.HTTP.Path)
	if len(op.HTTP.Body) > 0 {
		var pretty bytes.Buffer
		if err := json.Indent(&pretty, op.HTTP.Body, "", "  "); err != nil {
			pretty.Reset()
			pretty.Write(op.HTTP.Body)
		}
		fmt.Fprintf(&b, "\n```json\n%s\n```\n", pretty.String())
	}
	return b.String()
}

var draftsApplyCmd = &cobra.Command{
	Use:   "apply [n|id...]",
	Short: "Send queued drafts to Redmine",
	Long: `Sends queued drafts in the order they were made. Drafts that fail stay
queued, and so do drafts that depend on a create that has not gone through.
With arguments, only the named drafts are sent.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := commandContext()
		if queue.Count() == 0 {
			if jsonOutput {
				return reportApply(nil)
			}
			printf("No drafts queued.\n")
			return nil
		}
		if len(args) == 0 && !yesFlag && ui.IsTerminal() && !jsonOutput {
			ok, err := ui.Confirm(fmt.Sprintf("Apply %d draft(s) to %s?", queue.Count(), cfg.RedmineURL), "", "Apply", "Cancel")
			if err != nil {
				return err
			}
			if !ok {
				return errAborted
			}
		}

		var results []drafts.ApplyResult
		if len(args) == 0 {
			var err error
			if results, err = applier.ApplyAll(ctx); err != nil {
				return err
			}
		} else {
			for _, ref := range args {
				op, err := findDraft(ref)
				if err != nil {
					return err
				}
				result, err := applier.ApplyOne(ctx, op.ID)
				if err != nil {
					return err
				}
				results = append(results, result)
			}
		}
		return reportApply(results)
	},
}

func reportApply(results []drafts.ApplyResult) error {
	summary := drafts.Summarize(results)
	recordLastApply(summary)
	if jsonOutput {
		return outputJSON(map[string]interface{}{
			"results":   results,
			"applied":   summary.Applied,
			"failed":    summary.Failed,
			"skipped":   summary.Skipped,
			"remaining": queue.Count(),
		})
	}
	for _, r := range results {
		line := fmt.Sprintf("%s %s", ui.RenderOutcome(r.Success, r.Skipped), r.Operation.Description)
		if r.RealID != 0 {
			line += ui.RenderMuted(fmt.Sprintf(" → #%d", r.RealID))
		}
		printf("%s\n", line)
		if r.Error != "" {
			printf("   %s%s\n", ui.TreeLast, ui.RenderFail(r.Error))
		}
	}
	printf("\nApplied %d, failed %d, skipped %d. %d draft(s) remain.\n",
		summary.Applied, summary.Failed, summary.Skipped, queue.Count())
	if summary.Failed > 0 {
		return fmt.Errorf("%d draft(s) failed", summary.Failed)
	}
	return nil
}

var draftsDiscardCmd = &cobra.Command{
	Use:     "discard [n|id...]",
	Aliases: []string{"remove", "rm"},
	Short:   "Drop queued drafts without sending them",
	Long: `Without arguments, discards every queued draft. Discarding a drafted
create also discards the drafts that depend on it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := commandContext()
		if len(args) == 0 {
			if queue.Count() == 0 {
				printf("No drafts queued.\n")
				return nil
			}
			if !yesFlag {
				ok, err := ui.Confirm(fmt.Sprintf("Discard all %d draft(s)?", queue.Count()), "This cannot be undone.", "Discard", "Cancel")
				if err != nil {
					return err
				}
				if !ok {
					return errAborted
				}
			}
			n := queue.Count()
			if err := applier.DiscardAll(ctx); err != nil {
				return err
			}
			if jsonOutput {
				return outputJSON(map[string]int{"discarded": n})
			}
			printf("Discarded %d draft(s)\n", n)
			return nil
		}

		var ids []string
		var creates []string
		for _, ref := range args {
			op, err := findDraft(ref)
			if err != nil {
				return err
			}
			if op.TempID != "" {
				creates = append(creates, op.TempID)
				continue
			}
			ids = append(ids, op.ID)
		}
		before := queue.Count()
		if err := queue.RemoveMany(ctx, ids); err != nil {
			return err
		}
		for _, tempID := range creates {
			if err := queue.RemoveByTempIDPrefix(ctx, tempID); err != nil {
				return err
			}
		}
		n := before - queue.Count()
		if jsonOutput {
			return outputJSON(map[string]int{"discarded": n})
		}
		printf("Discarded %d draft(s)\n", n)
		return nil
	},
}

func init() {
	draftsListCmd.Flags().Int("issue", 0, "Only drafts targeting this issue id")
	draftsListCmd.Flags().BoolP("watch", "w", false, "Redraw when the queue changes")

	draftsCmd.AddCommand(draftsListCmd, draftsShowCmd, draftsApplyCmd, draftsDiscardCmd)
	rootCmd.AddCommand(draftsCmd)
}
