package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/steveyegge/redmine-drafts/internal/drafts"
	"github.com/steveyegge/redmine-drafts/internal/redmine"
	"github.com/steveyegge/redmine-drafts/internal/timeparsing"
	"github.com/steveyegge/redmine-drafts/internal/ui"
)

var issueCmd = &cobra.Command{
	Use:     "issue",
	GroupID: "redmine",
	Short:   "Read and change issues",
	Long: `Read and change issues. While draft mode is on, changes are queued.

Drafted issues have negative ids. Put them after -- so they are not read as
flags, e.g. rd issue note -- -4213 "more detail", or write them as #-4213.`,
}

// parseID parses an issue or resource id. Negative ids name drafted creates.
func parseID(s string) (int, error) {
	id, err := strconv.Atoi(strings.TrimPrefix(s, "#"))
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

// resolveStatus accepts a status id or a case-insensitive status name.
func resolveStatus(ctx context.Context, s string) (int, error) {
	if id, err := strconv.Atoi(s); err == nil {
		return id, nil
	}
	statuses, err := proxy.ListIssueStatuses(ctx)
	if err != nil {
		return 0, err
	}
	var names []string
	for _, st := range statuses {
		if strings.EqualFold(st.Name, s) {
			return st.ID, nil
		}
		names = append(names, st.Name)
	}
	return 0, fmt.Errorf("unknown status %q (known: %s)", s, strings.Join(names, ", "))
}

// resolveEnumeration matches s against an id or name from list.
func resolveEnumeration(kind, s string, list []redmine.Enumeration) (int, error) {
	if id, err := strconv.Atoi(s); err == nil {
		return id, nil
	}
	var names []string
	for _, e := range list {
		if strings.EqualFold(e.Name, s) {
			return e.ID, nil
		}
		names = append(names, e.Name)
	}
	return 0, fmt.Errorf("unknown %s %q (known: %s)", kind, s, strings.Join(names, ", "))
}

// parseAssignee maps "none" to an unassign and "me" to the current user.
func parseAssignee(ctx context.Context, s string) (*int, error) {
	switch strings.ToLower(s) {
	case "none", "nobody", "":
		zero := 0
		return &zero, nil
	case "me":
		user, err := proxy.CurrentUser(ctx)
		if err != nil {
			return nil, err
		}
		return &user.ID, nil
	}
	id, err := strconv.Atoi(s)
	if err != nil {
		return nil, fmt.Errorf("invalid assignee %q: use a user id, 'me' or 'none'", s)
	}
	return &id, nil
}

// reportWrite prints the result of a write that may have been drafted.
func reportWrite(what string, fields map[string]interface{}) error {
	if jsonOutput {
		if fields == nil {
			fields = map[string]interface{}{}
		}
		fields["drafted"] = drafting()
		return outputJSON(fields)
	}
	if drafting() {
		draftNotice(what)
		return nil
	}
	printf("%s %s\n", ui.RenderPass(ui.IconPass), what)
	return nil
}

var issueShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show an issue with its relations, time entries and drafts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		if id < 0 {
			return showDraftIssue(id)
		}
		ctx := commandContext()

		var (
			issue     *redmine.Issue
			relations []redmine.Relation
			entries   []redmine.TimeEntry
		)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			issue, err = proxy.GetIssue(gctx, id)
			return err
		})
		g.Go(func() error {
			var err error
			relations, err = proxy.ListRelations(gctx, id)
			return err
		})
		g.Go(func() error {
			var err error
			entries, err = proxy.ListTimeEntries(gctx, redmine.TimeEntryFilter{IssueID: id, Limit: 20})
			return err
		})
		if err := g.Wait(); err != nil {
			return err
		}
		pending := queue.ByIssueID(id)

		if jsonOutput {
			return outputJSON(map[string]interface{}{
				"issue":        issue,
				"relations":    relations,
				"time_entries": entries,
				"drafts":       pending,
			})
		}
		return ui.ToPager(issueDetail(issue, relations, entries, pending), ui.PagerOptions{Out: stdout})
	},
}

func showDraftIssue(id int) error {
	tempID, ok := queue.PlaceholderTempID(id)
	if !ok {
		return fmt.Errorf("%w: %d", drafts.ErrUnknownPlaceholder, id)
	}
	ops := queue.ByKeyPrefix(drafts.IssueKeyPrefix(tempID))
	if jsonOutput {
		return outputJSON(map[string]interface{}{"temp_id": tempID, "drafts": ops})
	}
	printf("%s issue %d only exists as a draft\n", ui.RenderDraftBadge(), id)
	return displayDrafts(ops)
}

func issueDetail(issue *redmine.Issue, relations []redmine.Relation, entries []redmine.TimeEntry, pending []drafts.Operation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", ui.RenderAccent(fmt.Sprintf("#%d", issue.ID)), issue.Subject)
	fmt.Fprintf(&b, "%s\n", ui.RenderSeparator())
	row := func(label, value string) {
		if value != "" {
			fmt.Fprintf(&b, "%-10s %s\n", ui.RenderMuted(label), value)
		}
	}
	row("Project", issue.Project.Name)
	row("Tracker", issue.Tracker.Name)
	row("Status", issue.Status.Name)
	row("Priority", issue.Priority.Name)
	if issue.AssignedTo != nil {
		row("Assignee", issue.AssignedTo.Name)
	}
	if issue.FixedVersion != nil {
		row("Version", issue.FixedVersion.Name)
	}
	row("Start", issue.StartDate)
	row("Due", issue.DueDate)
	row("Done", fmt.Sprintf("%d%%", issue.DoneRatio))
	if issue.SpentHours > 0 {
		row("Spent", fmt.Sprintf("%.2fh", issue.SpentHours))
	}

	if issue.Description != "" {
		fmt.Fprintf(&b, "\n%s", ui.RenderMarkdown(issue.Description))
	}
	if len(relations) > 0 {
		fmt.Fprintf(&b, "\n%s\n", ui.RenderCategory("Relations"))
		for _, r := range relations {
			other := r.IssueToID
			if other == issue.ID {
				other = r.IssueID
			}
			fmt.Fprintf(&b, "  %s #%d %s\n", r.RelationType, other, ui.RenderMuted(fmt.Sprintf("(relation %d)", r.ID)))
		}
	}
	if len(entries) > 0 {
		fmt.Fprintf(&b, "\n%s\n", ui.RenderCategory("Time entries"))
		for _, e := range entries {
			fmt.Fprintf(&b, "  %s %5.2fh %s %s\n", e.SpentOn, e.Hours, e.User.Name, ui.RenderMuted(ui.TruncateSimple(e.Comments, 50)))
		}
	}
	if len(pending) > 0 {
		fmt.Fprintf(&b, "\n%s\n", ui.RenderCategory("Drafts"))
		for _, op := range pending {
			fmt.Fprintf(&b, "  %s %s\n", ui.RenderDraft(ui.IconDraft), op.Description)
		}
	}
	return b.String()
}

var issueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List issues",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		project, _ := cmd.Flags().GetInt("project")
		status, _ := cmd.Flags().GetString("status")
		assignee, _ := cmd.Flags().GetString("assignee")
		limit, _ := cmd.Flags().GetInt("limit")

		issues, err := proxy.ListIssues(commandContext(), redmine.IssueFilter{
			ProjectID:    project,
			StatusID:     status,
			AssignedToID: assignee,
			Limit:        limit,
		})
		if err != nil {
			return err
		}
		if jsonOutput {
			if issues == nil {
				issues = []redmine.Issue{}
			}
			return outputJSON(issues)
		}
		if len(issues) == 0 {
			printf("No issues found.\n")
			return nil
		}
		width := ui.TerminalWidth(100)
		for _, is := range issues {
			marker := " "
			if len(queue.ByIssueID(is.ID)) > 0 {
				marker = ui.RenderDraft(ui.IconDraft)
			}
			line := fmt.Sprintf("#%-6d %-12s %s", is.ID, ui.TruncateSimple(is.Status.Name, 12), is.Subject)
			printf("%s %s\n", marker, ui.TruncateSimple(line, width-2))
		}
		return nil
	},
}

var issueCreateCmd = &cobra.Command{
	Use:   "create <subject>",
	Short: "Create an issue",
	Long: `Creates an issue. In draft mode the issue gets a negative placeholder id
that later commands can use (for example as --parent) until it is applied.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := commandContext()
		project, _ := cmd.Flags().GetInt("project")
		if project == 0 {
			return fmt.Errorf("--project is required")
		}
		tracker, _ := cmd.Flags().GetInt("tracker")
		description, _ := cmd.Flags().GetString("description")
		parent, _ := cmd.Flags().GetInt("parent")
		assignee, _ := cmd.Flags().GetInt("assignee")
		start, _ := cmd.Flags().GetString("start")
		due, _ := cmd.Flags().GetString("due")

		now := time.Now()
		startDate, err := timeparsing.ParseDate(start, now)
		if err != nil {
			return err
		}
		dueDate, err := timeparsing.ParseDate(due, now)
		if err != nil {
			return err
		}
		create := redmine.IssueCreate{
			ProjectID:     project,
			TrackerID:     tracker,
			Subject:       args[0],
			Description:   description,
			AssignedToID:  assignee,
			ParentIssueID: parent,
			StartDate:     startDate,
			DueDate:       dueDate,
		}
		if s, _ := cmd.Flags().GetString("priority"); s != "" {
			priorities, err := proxy.ListIssuePriorities(ctx)
			if err != nil {
				return err
			}
			if create.PriorityID, err = resolveEnumeration("priority", s, priorities); err != nil {
				return err
			}
		}

		result, err := proxy.CreateIssue(ctx, create)
		if err != nil {
			return err
		}
		id := result.Issue.ID
		return reportWrite(fmt.Sprintf("Created issue #%d: %s", id, args[0]), map[string]interface{}{"id": id, "issue": result.Issue})
	},
}

var issueUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Update issue fields",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		var update redmine.IssueUpdate
		changed := false
		if cmd.Flags().Changed("subject") {
			s, _ := cmd.Flags().GetString("subject")
			update.Subject = &s
			changed = true
		}
		if cmd.Flags().Changed("description") {
			s, _ := cmd.Flags().GetString("description")
			update.Description = &s
			changed = true
		}
		if cmd.Flags().Changed("tracker") {
			n, _ := cmd.Flags().GetInt("tracker")
			update.TrackerID = &n
			changed = true
		}
		if cmd.Flags().Changed("version") {
			n, _ := cmd.Flags().GetInt("version")
			update.FixedVersionID = &n
			changed = true
		}
		if cmd.Flags().Changed("estimate") {
			h, _ := cmd.Flags().GetFloat64("estimate")
			update.EstimatedHours = &h
			changed = true
		}
		if !changed {
			return fmt.Errorf("nothing to update: pass at least one field flag")
		}
		if err := proxy.UpdateIssue(commandContext(), id, update); err != nil {
			return err
		}
		return reportWrite(fmt.Sprintf("Updated issue #%d", id), map[string]interface{}{"id": id})
	},
}

var issueStatusCmd = &cobra.Command{
	Use:   "status <id> <status>",
	Short: "Change an issue's status",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := commandContext()
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		statusID, err := resolveStatus(ctx, args[1])
		if err != nil {
			return err
		}
		if err := proxy.SetIssueStatus(ctx, id, statusID); err != nil {
			return err
		}
		return reportWrite(fmt.Sprintf("Set status of issue #%d to %s", id, args[1]), map[string]interface{}{"id": id, "status_id": statusID})
	},
}

var issueNoteCmd = &cobra.Command{
	Use:     "note <id> <text>",
	Aliases: []string{"comment"},
	Short:   "Add a note to an issue",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		if strings.TrimSpace(args[1]) == "" {
			return fmt.Errorf("note text is empty")
		}
		if err := proxy.AddIssueNote(commandContext(), id, args[1]); err != nil {
			return err
		}
		return reportWrite(fmt.Sprintf("Added note to issue #%d", id), map[string]interface{}{"id": id})
	},
}

var issueAssignCmd = &cobra.Command{
	Use:   "assign <id> <user-id|me|none>",
	Short: "Assign or unassign an issue",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := commandContext()
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		assignee, err := parseAssignee(ctx, args[1])
		if err != nil {
			return err
		}
		if err := proxy.SetIssueAssignee(ctx, id, assignee); err != nil {
			return err
		}
		what := fmt.Sprintf("Assigned issue #%d to user %d", id, *assignee)
		if *assignee == 0 {
			what = fmt.Sprintf("Unassigned issue #%d", id)
		}
		return reportWrite(what, map[string]interface{}{"id": id, "assignee_id": *assignee})
	},
}

var issueDoneCmd = &cobra.Command{
	Use:   "done <id> <percent>",
	Short: "Set an issue's done ratio",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		ratio, err := strconv.Atoi(strings.TrimSuffix(args[1], "%"))
		if err != nil || ratio < 0 || ratio > 100 {
			return fmt.Errorf("done ratio must be between 0 and 100, got %q", args[1])
		}
		if err := proxy.SetIssueDoneRatio(commandContext(), id, ratio); err != nil {
			return err
		}
		return reportWrite(fmt.Sprintf("Set issue #%d to %d%% done", id, ratio), map[string]interface{}{"id": id, "done_ratio": ratio})
	},
}

var issuePriorityCmd = &cobra.Command{
	Use:   "priority <id> <priority>",
	Short: "Change an issue's priority",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := commandContext()
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		priorities, err := proxy.ListIssuePriorities(ctx)
		if err != nil {
			return err
		}
		priorityID, err := resolveEnumeration("priority", args[1], priorities)
		if err != nil {
			return err
		}
		if err := proxy.SetIssuePriority(ctx, id, priorityID); err != nil {
			return err
		}
		return reportWrite(fmt.Sprintf("Set priority of issue #%d to %s", id, args[1]), map[string]interface{}{"id": id, "priority_id": priorityID})
	},
}

var issueDatesCmd = &cobra.Command{
	Use:   "dates <id>",
	Short: "Set or clear an issue's start and due dates",
	Long: `Dates accept YYYY-MM-DD, relative forms like +3d or "next friday",
and "none" to clear. An omitted flag clears that date.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		dates, err := datesFromFlags(cmd)
		if err != nil {
			return err
		}
		if err := proxy.SetIssueDates(commandContext(), id, dates); err != nil {
			return err
		}
		return reportWrite(fmt.Sprintf("Set dates of issue #%d to %s → %s", id, orDash(dates.StartDate), orDash(dates.DueDate)),
			map[string]interface{}{"id": id, "start_date": dates.StartDate, "due_date": dates.DueDate})
	},
}

func datesFromFlags(cmd *cobra.Command) (redmine.DateRange, error) {
	now := time.Now()
	start, _ := cmd.Flags().GetString("start")
	due, _ := cmd.Flags().GetString("due")
	startDate, err := timeparsing.ParseDate(start, now)
	if err != nil {
		return redmine.DateRange{}, err
	}
	dueDate, err := timeparsing.ParseDate(due, now)
	if err != nil {
		return redmine.DateRange{}, err
	}
	if startDate != "" && dueDate != "" && dueDate < startDate {
		return redmine.DateRange{}, fmt.Errorf("due date %s is before start date %s", dueDate, startDate)
	}
	return redmine.DateRange{StartDate: startDate, DueDate: dueDate}, nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

var issueQuickCmd = &cobra.Command{
	Use:   "quick <id> <status>",
	Short: "Change status, assignee, note and dates in one step",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := commandContext()
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		statusID, err := resolveStatus(ctx, args[1])
		if err != nil {
			return err
		}
		update := redmine.QuickUpdate{IssueID: id, StatusID: statusID}
		update.Message, _ = cmd.Flags().GetString("message")
		if cmd.Flags().Changed("assignee") {
			s, _ := cmd.Flags().GetString("assignee")
			if update.AssigneeID, err = parseAssignee(ctx, s); err != nil {
				return err
			}
		}
		if cmd.Flags().Changed("start") || cmd.Flags().Changed("due") {
			dates, err := datesFromFlags(cmd)
			if err != nil {
				return err
			}
			update.Dates = &dates
		}

		result, err := proxy.ApplyQuickUpdate(ctx, update)
		if err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(result)
		}
		if result.Drafted {
			draftNotice(fmt.Sprintf("Quick update of issue #%d", id))
			return nil
		}
		printf("%s Updated issue #%d\n", ui.RenderPass(ui.IconPass), id)
		return nil
	},
}

var issueDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete an issue",
	Long:  `Deletes an issue. Deleting a drafted issue (negative id) discards its drafts instead.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		if id > 0 && !yesFlag && !drafting() {
			ok, err := ui.Confirm(fmt.Sprintf("Delete issue #%d from Redmine?", id), "This cannot be undone.", "Delete", "Cancel")
			if err != nil {
				return err
			}
			if !ok {
				return errAborted
			}
		}
		if err := proxy.DeleteIssue(commandContext(), id); err != nil {
			return err
		}
		if id < 0 && !jsonOutput {
			printf("Discarded drafted issue %d and the drafts that depend on it\n", id)
			return nil
		}
		return reportWrite(fmt.Sprintf("Deleted issue #%d", id), map[string]interface{}{"id": id})
	},
}

func init() {
	issueListCmd.Flags().Int("project", 0, "Project id")
	issueListCmd.Flags().String("status", "open", "Status filter: open, closed, * or a status id")
	issueListCmd.Flags().String("assignee", "", "Assignee filter: me or a user id")
	issueListCmd.Flags().IntP("limit", "n", 50, "Maximum number of issues (0 for all)")

	issueCreateCmd.Flags().IntP("project", "p", 0, "Project id (required)")
	issueCreateCmd.Flags().Int("tracker", 0, "Tracker id")
	issueCreateCmd.Flags().StringP("description", "d", "", "Description (Markdown or Textile)")
	issueCreateCmd.Flags().Int("parent", 0, "Parent issue id (negative for a drafted issue)")
	issueCreateCmd.Flags().Int("assignee", 0, "Assignee user id")
	issueCreateCmd.Flags().String("priority", "", "Priority name or id")
	issueCreateCmd.Flags().String("start", "", "Start date")
	issueCreateCmd.Flags().String("due", "", "Due date")

	issueUpdateCmd.Flags().String("subject", "", "New subject")
	issueUpdateCmd.Flags().StringP("description", "d", "", "New description")
	issueUpdateCmd.Flags().Int("tracker", 0, "Tracker id")
	issueUpdateCmd.Flags().Int("version", 0, "Target version id (negative for a drafted version)")
	issueUpdateCmd.Flags().Float64("estimate", 0, "Estimated hours")

	for _, c := range []*cobra.Command{issueDatesCmd, issueQuickCmd} {
		c.Flags().String("start", "", "Start date")
		c.Flags().String("due", "", "Due date")
	}
	issueQuickCmd.Flags().StringP("message", "m", "", "Note to add")
	issueQuickCmd.Flags().String("assignee", "", "Assignee: user id, me or none")

	issueCmd.AddCommand(issueShowCmd, issueListCmd, issueCreateCmd, issueUpdateCmd,
		issueStatusCmd, issueNoteCmd, issueAssignCmd, issueDoneCmd, issuePriorityCmd,
		issueDatesCmd, issueQuickCmd, issueDeleteCmd)
	rootCmd.AddCommand(issueCmd)
}
