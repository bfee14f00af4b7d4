package main

import (
	"github.com/spf13/cobra"

	"github.com/steveyegge/redmine-drafts/internal/ui"
)

var draftModeCmd = &cobra.Command{
	Use:         "draft-mode",
	GroupID:     "drafts",
	Short:       "Turn draft mode on or off",
	Long:        `While draft mode is on, writes are queued locally instead of being sent to Redmine.`,
	Annotations: map[string]string{annotationNeeds: needsMode},
}

var draftModeOnCmd = &cobra.Command{
	Use:   "on",
	Short: "Start queueing writes as drafts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := mode.Enable(); err != nil {
			return err
		}
		return reportMode()
	},
}

var draftModeOffCmd = &cobra.Command{
	Use:   "off",
	Short: "Send writes to Redmine immediately",
	Long:  `Turns draft mode off. Queued drafts are kept; apply or discard them with 'rd drafts'.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := mode.Disable(); err != nil {
			return err
		}
		return reportMode()
	},
}

var draftModeToggleCmd = &cobra.Command{
	Use:   "toggle",
	Short: "Flip draft mode",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := mode.Toggle(); err != nil {
			return err
		}
		return reportMode()
	},
}

var draftModeStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether draft mode is on",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return reportMode()
	},
}

func reportMode() error {
	enabled := mode.Enabled()
	if jsonOutput {
		return outputJSON(map[string]bool{"enabled": enabled})
	}
	if enabled {
		printf("%s writes are queued as drafts\n", ui.RenderDraftBadge())
	} else {
		printf("Draft mode is %s; writes go straight to Redmine\n", ui.RenderAccent("off"))
	}
	return nil
}

func init() {
	draftModeCmd.AddCommand(draftModeOnCmd, draftModeOffCmd, draftModeToggleCmd, draftModeStatusCmd)
	rootCmd.AddCommand(draftModeCmd)
}
