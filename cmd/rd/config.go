package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/steveyegge/redmine-drafts/internal/config"
	"github.com/steveyegge/redmine-drafts/internal/ui"
)

var configCmd = &cobra.Command{
	Use:         "config",
	GroupID:     "setup",
	Short:       "Manage configuration settings",
	Annotations: map[string]string{annotationNeeds: needsNothing},
	Long: `Manage rd configuration stored in config.yaml under the rd home directory
($RD_HOME, else $XDG_CONFIG_HOME/rd, else ~/.config/rd).

Environment variables override the file: redmine.url is read from
RD_REDMINE_URL, redmine.api-key from RD_REDMINE_API_KEY, and so on.

Examples:
  rd config set redmine.url https://redmine.example.com
  rd config set redmine.api-key 0123abcd...
  rd config get redmine.url
  rd config list`,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if err := config.SetYamlConfig(key, value); err != nil {
			return err
		}
		shown := value
		if config.SecretKeys[key] {
			shown = config.MaskSecret(value)
		}
		if jsonOutput {
			return outputJSON(map[string]string{"key": key, "value": shown, "location": config.ConfigPath()})
		}
		printf("Set %s = %s %s\n", key, shown, ui.RenderMuted("(in "+config.ConfigPath()+")"))
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a configuration value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]
		if !config.IsKnownKey(key) {
			return fmt.Errorf("unknown config key %q", key)
		}
		value := config.GetString(key)
		if config.SecretKeys[key] {
			value = config.MaskSecret(value)
		}
		if jsonOutput {
			return outputJSON(map[string]string{"key": key, "value": value})
		}
		if value == "" {
			printf("%s %s\n", key, ui.RenderMuted("(not set)"))
			return nil
		}
		printf("%s\n", value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a configuration value from config.yaml",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetYamlConfig(args[0]); err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(map[string]string{"key": args[0]})
		}
		printf("Unset %s\n", args[0])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all configuration values",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		settings := config.AllSettings()
		for key := range config.SecretKeys {
			if s, ok := settings[key].(string); ok {
				settings[key] = config.MaskSecret(s)
			}
		}
		if jsonOutput {
			return outputJSON(settings)
		}
		keys := make([]string, 0, len(settings))
		for k := range settings {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		printf("%s\n", ui.RenderCategory("Configuration"))
		for _, k := range keys {
			value := fmt.Sprint(settings[k])
			if value == "" {
				value = ui.RenderMuted("(not set)")
			}
			printf("  %-18s %s\n", k, value)
		}
		printf("\n%s\n", ui.RenderMuted("File: "+config.ConfigFileUsed()))
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file location",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if jsonOutput {
			_ = outputJSON(map[string]string{"path": config.ConfigPath(), "home": config.Home()})
			return
		}
		printf("%s\n", config.ConfigPath())
	},
}

func init() {
	configCmd.AddCommand(configSetCmd, configGetCmd, configUnsetCmd, configListCmd, configPathCmd)
	rootCmd.AddCommand(configCmd)
}
