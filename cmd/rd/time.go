package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/redmine-drafts/internal/redmine"
	"github.com/steveyegge/redmine-drafts/internal/timeparsing"
	"github.com/steveyegge/redmine-drafts/internal/ui"
)

var timeCmd = &cobra.Command{
	Use:     "time",
	GroupID: "redmine",
	Short:   "Log and manage spent time",
}

// parseHours accepts decimal hours ("1.5"), "1h30m" or "90m".
func parseHours(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if h, err := strconv.ParseFloat(strings.TrimSuffix(s, "h"), 64); err == nil {
		if h <= 0 {
			return 0, fmt.Errorf("hours must be positive, got %q", s)
		}
		return h, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid hours %q: use 1.5, 1h30m or 90m", s)
	}
	return d.Hours(), nil
}

func resolveActivity(ctx context.Context, s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	activities, err := proxy.ListTimeEntryActivities(ctx)
	if err != nil {
		return 0, err
	}
	return resolveEnumeration("activity", s, activities)
}

var timeLogCmd = &cobra.Command{
	Use:   "log <issue-id> <hours>",
	Short: "Log time against an issue",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := commandContext()
		issueID, err := parseID(args[0])
		if err != nil {
			return err
		}
		hours, err := parseHours(args[1])
		if err != nil {
			return err
		}
		activity, _ := cmd.Flags().GetString("activity")
		activityID, err := resolveActivity(ctx, activity)
		if err != nil {
			return err
		}
		comment, _ := cmd.Flags().GetString("comment")
		on, _ := cmd.Flags().GetString("on")
		spentOn, err := timeparsing.ParseDate(on, time.Now())
		if err != nil {
			return err
		}

		result, err := proxy.CreateTimeEntry(ctx, redmine.TimeEntryCreate{
			IssueID:    issueID,
			Hours:      hours,
			ActivityID: activityID,
			Comments:   comment,
			SpentOn:    spentOn,
		})
		if err != nil {
			return err
		}
		id := result.TimeEntry.ID
		return reportWrite(fmt.Sprintf("Logged %.2fh on issue #%d (time entry %d)", hours, issueID, id),
			map[string]interface{}{"id": id, "time_entry": result.TimeEntry})
	},
}

var timeUpdateCmd = &cobra.Command{
	Use:   "update <entry-id>",
	Short: "Change a time entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := commandContext()
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		var update redmine.TimeEntryUpdate
		changed := false
		if cmd.Flags().Changed("hours") {
			s, _ := cmd.Flags().GetString("hours")
			h, err := parseHours(s)
			if err != nil {
				return err
			}
			update.Hours = &h
			changed = true
		}
		if cmd.Flags().Changed("issue") {
			n, _ := cmd.Flags().GetInt("issue")
			update.IssueID = &n
			changed = true
		}
		if cmd.Flags().Changed("activity") {
			s, _ := cmd.Flags().GetString("activity")
			n, err := resolveActivity(ctx, s)
			if err != nil {
				return err
			}
			update.ActivityID = &n
			changed = true
		}
		if cmd.Flags().Changed("comment") {
			s, _ := cmd.Flags().GetString("comment")
			update.Comments = &s
			changed = true
		}
		if cmd.Flags().Changed("on") {
			s, _ := cmd.Flags().GetString("on")
			date, err := timeparsing.ParseDate(s, time.Now())
			if err != nil {
				return err
			}
			update.SpentOn = &date
			changed = true
		}
		if !changed {
			return fmt.Errorf("nothing to update: pass at least one field flag")
		}
		if err := proxy.UpdateTimeEntry(ctx, id, update); err != nil {
			return err
		}
		return reportWrite(fmt.Sprintf("Updated time entry %d", id), map[string]interface{}{"id": id})
	},
}

var timeDeleteCmd = &cobra.Command{
	Use:   "delete <entry-id>",
	Short: "Delete a time entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		if err := proxy.DeleteTimeEntry(commandContext(), id); err != nil {
			return err
		}
		return reportWrite(fmt.Sprintf("Deleted time entry %d", id), map[string]interface{}{"id": id})
	},
}

var timeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List time entries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		issueID, _ := cmd.Flags().GetInt("issue")
		user, _ := cmd.Flags().GetString("user")
		from, _ := cmd.Flags().GetString("from")
		to, _ := cmd.Flags().GetString("to")
		limit, _ := cmd.Flags().GetInt("limit")

		now := time.Now()
		fromDate, err := timeparsing.ParseDate(from, now)
		if err != nil {
			return err
		}
		toDate, err := timeparsing.ParseDate(to, now)
		if err != nil {
			return err
		}
		entries, err := proxy.ListTimeEntries(commandContext(), redmine.TimeEntryFilter{
			IssueID: issueID,
			UserID:  user,
			From:    fromDate,
			To:      toDate,
			Limit:   limit,
		})
		if err != nil {
			return err
		}
		if jsonOutput {
			if entries == nil {
				entries = []redmine.TimeEntry{}
			}
			return outputJSON(entries)
		}
		if len(entries) == 0 {
			printf("No time entries found.\n")
			return nil
		}
		var total float64
		for _, e := range entries {
			issue := "-"
			if e.Issue != nil {
				issue = fmt.Sprintf("#%d", e.Issue.ID)
			}
			printf("%-6d %s %6.2fh %-8s %-12s %s\n", e.ID, e.SpentOn, e.Hours, issue,
				ui.TruncateSimple(e.Activity.Name, 12), ui.RenderMuted(ui.TruncateSimple(e.Comments, 50)))
			total += e.Hours
		}
		printf("%s\n%.2fh total\n", ui.RenderSeparator(), total)
		return nil
	},
}

func init() {
	timeLogCmd.Flags().StringP("activity", "a", "", "Activity name or id")
	timeLogCmd.Flags().StringP("comment", "m", "", "Comment")
	timeLogCmd.Flags().String("on", "", "Date spent (default today)")

	timeUpdateCmd.Flags().String("hours", "", "Hours spent")
	timeUpdateCmd.Flags().Int("issue", 0, "Move the entry to this issue")
	timeUpdateCmd.Flags().StringP("activity", "a", "", "Activity name or id")
	timeUpdateCmd.Flags().StringP("comment", "m", "", "Comment")
	timeUpdateCmd.Flags().String("on", "", "Date spent")

	timeListCmd.Flags().Int("issue", 0, "Issue id")
	timeListCmd.Flags().String("user", "me", "User: me or a user id (empty for everyone)")
	timeListCmd.Flags().String("from", "-7d", "Earliest date")
	timeListCmd.Flags().String("to", "", "Latest date")
	timeListCmd.Flags().IntP("limit", "n", 100, "Maximum number of entries (0 for all)")

	timeCmd.AddCommand(timeLogCmd, timeUpdateCmd, timeDeleteCmd, timeListCmd)
	rootCmd.AddCommand(timeCmd)
}
