package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/redmine-drafts/internal/redmine"
	"github.com/steveyegge/redmine-drafts/internal/timeparsing"
	"github.com/steveyegge/redmine-drafts/internal/ui"
)

// "rd version" prints the binary version; its subcommands manage Redmine
// project versions.
var versionCmd = &cobra.Command{
	Use:         "version",
	GroupID:     "redmine",
	Short:       "Print rd's version, or manage project versions",
	Annotations: map[string]string{annotationNeeds: needsNothing},
	Args:        cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		printVersion()
	},
}

var backendAnnotation = map[string]string{annotationNeeds: needsBackend}

var versionStatuses = map[string]bool{"open": true, "locked": true, "closed": true}

func checkVersionStatus(s string) error {
	if s != "" && !versionStatuses[s] {
		return fmt.Errorf("invalid version status %q: use open, locked or closed", s)
	}
	return nil
}

var versionListCmd = &cobra.Command{
	Use:         "list <project-id>",
	Short:       "List a project's versions",
	Annotations: backendAnnotation,
	Args:        cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		projectID, err := parseID(args[0])
		if err != nil {
			return err
		}
		versions, err := proxy.ListVersions(commandContext(), projectID)
		if err != nil {
			return err
		}
		if jsonOutput {
			if versions == nil {
				versions = []redmine.Version{}
			}
			return outputJSON(versions)
		}
		if len(versions) == 0 {
			printf("No versions.\n")
			return nil
		}
		for _, v := range versions {
			printf("%-6d %-8s %-10s %s\n", v.ID, v.Status, orDash(v.DueDate), v.Name)
		}
		return nil
	},
}

var versionCreateCmd = &cobra.Command{
	Use:         "create <project-id> <name>",
	Short:       "Create a project version",
	Annotations: backendAnnotation,
	Args:        cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		projectID, err := parseID(args[0])
		if err != nil {
			return err
		}
		create := redmine.VersionCreate{Name: args[1]}
		create.Description, _ = cmd.Flags().GetString("description")
		create.Status, _ = cmd.Flags().GetString("status")
		create.Sharing, _ = cmd.Flags().GetString("sharing")
		if err := checkVersionStatus(create.Status); err != nil {
			return err
		}
		due, _ := cmd.Flags().GetString("due")
		if create.DueDate, err = timeparsing.ParseDate(due, time.Now()); err != nil {
			return err
		}

		result, err := proxy.CreateVersion(commandContext(), projectID, create)
		if err != nil {
			return err
		}
		id := result.Version.ID
		return reportWrite(fmt.Sprintf("Created version %d: %s", id, args[1]),
			map[string]interface{}{"id": id, "version": result.Version})
	},
}

var versionUpdateCmd = &cobra.Command{
	Use:         "update <version-id>",
	Short:       "Change a project version",
	Annotations: backendAnnotation,
	Args:        cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		var update redmine.VersionUpdate
		changed := false
		for flag, dst := range map[string]**string{
			"name":        &update.Name,
			"description": &update.Description,
			"status":      &update.Status,
			"sharing":     &update.Sharing,
		} {
			if cmd.Flags().Changed(flag) {
				s, _ := cmd.Flags().GetString(flag)
				*dst = &s
				changed = true
			}
		}
		if update.Status != nil {
			if err := checkVersionStatus(*update.Status); err != nil {
				return err
			}
		}
		if cmd.Flags().Changed("due") {
			s, _ := cmd.Flags().GetString("due")
			date, err := timeparsing.ParseDate(s, time.Now())
			if err != nil {
				return err
			}
			update.DueDate = &date
			changed = true
		}
		if !changed {
			return fmt.Errorf("nothing to update: pass at least one field flag")
		}
		if err := proxy.UpdateVersion(commandContext(), id, update); err != nil {
			return err
		}
		return reportWrite(fmt.Sprintf("Updated version %d", id), map[string]interface{}{"id": id})
	},
}

var versionDeleteCmd = &cobra.Command{
	Use:         "delete <version-id>",
	Short:       "Delete a project version",
	Annotations: backendAnnotation,
	Args:        cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		if id > 0 && !yesFlag && !drafting() {
			ok, err := ui.Confirm(fmt.Sprintf("Delete version %d?", id), "", "Delete", "Cancel")
			if err != nil {
				return err
			}
			if !ok {
				return errAborted
			}
		}
		if err := proxy.DeleteVersion(commandContext(), id); err != nil {
			return err
		}
		return reportWrite(fmt.Sprintf("Deleted version %d", id), map[string]interface{}{"id": id})
	},
}

func init() {
	versionCreateCmd.Flags().StringP("description", "d", "", "Description")
	versionCreateCmd.Flags().String("status", "", "open, locked or closed")
	versionCreateCmd.Flags().String("sharing", "", "none, descendants, hierarchy, tree or system")
	versionCreateCmd.Flags().String("due", "", "Due date")

	versionUpdateCmd.Flags().String("name", "", "New name")
	versionUpdateCmd.Flags().StringP("description", "d", "", "Description")
	versionUpdateCmd.Flags().String("status", "", "open, locked or closed")
	versionUpdateCmd.Flags().String("sharing", "", "Sharing mode")
	versionUpdateCmd.Flags().String("due", "", "Due date (none clears it)")

	versionCmd.AddCommand(versionListCmd, versionCreateCmd, versionUpdateCmd, versionDeleteCmd)
	rootCmd.AddCommand(versionCmd)
}
