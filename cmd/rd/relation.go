package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/steveyegge/redmine-drafts/internal/redmine"
)

var relationCmd = &cobra.Command{
	Use:     "relation",
	Aliases: []string{"rel"},
	GroupID: "redmine",
	Short:   "Link issues to each other",
}

var relationAddCmd = &cobra.Command{
	Use:   "add <issue-id> <type> <other-issue-id>",
	Short: "Relate two issues",
	Long: `Relates two issues, for example "rd relation add 12 blocks 15".
Types: relates, duplicates, duplicated, blocks, blocked, precedes, follows,
copied_to, copied_from. Either id may be a drafted (negative) issue.`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		from, err := parseID(args[0])
		if err != nil {
			return err
		}
		relType := args[1]
		if !redmine.IsValidRelationType(relType) {
			return fmt.Errorf("invalid relation type %q", relType)
		}
		to, err := parseID(args[2])
		if err != nil {
			return err
		}
		if from == to {
			return fmt.Errorf("an issue cannot be related to itself")
		}
		rel := redmine.RelationCreate{IssueToID: to, RelationType: relType}
		if cmd.Flags().Changed("delay") {
			if relType != redmine.RelationPrecedes && relType != redmine.RelationFollows {
				return fmt.Errorf("--delay only applies to precedes and follows")
			}
			d, _ := cmd.Flags().GetInt("delay")
			rel.Delay = &d
		}

		result, err := proxy.CreateRelation(commandContext(), from, rel)
		if err != nil {
			return err
		}
		id := result.Relation.ID
		return reportWrite(fmt.Sprintf("#%d %s #%d (relation %d)", from, relType, to, id),
			map[string]interface{}{"id": id, "relation": result.Relation})
	},
}

var relationDeleteCmd = &cobra.Command{
	Use:     "delete <relation-id>",
	Aliases: []string{"rm"},
	Short:   "Remove a relation",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		if err := proxy.DeleteRelation(commandContext(), id); err != nil {
			return err
		}
		return reportWrite(fmt.Sprintf("Deleted relation %d", id), map[string]interface{}{"id": id})
	},
}

var relationListCmd = &cobra.Command{
	Use:   "list <issue-id>",
	Short: "List an issue's relations",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		relations, err := proxy.ListRelations(commandContext(), id)
		if err != nil {
			return err
		}
		if jsonOutput {
			if relations == nil {
				relations = []redmine.Relation{}
			}
			return outputJSON(relations)
		}
		if len(relations) == 0 {
			printf("No relations.\n")
			return nil
		}
		for _, r := range relations {
			printf("%-6d #%d %s #%d\n", r.ID, r.IssueID, r.RelationType, r.IssueToID)
		}
		return nil
	},
}

func init() {
	relationAddCmd.Flags().Int("delay", 0, "Delay in days (precedes/follows)")

	relationCmd.AddCommand(relationAddCmd, relationDeleteCmd, relationListCmd)
	rootCmd.AddCommand(relationCmd)
}
