package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Prints the configuration after merging defaults, the config file and
RENDERBOX_* environment variables, as YAML (or JSON with --output json).`,
	RunE: runConfigShow,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	settings := map[string]interface{}{
		"image":            viper.GetString("image"),
		"command":          viper.GetStringSlice("command"),
		"runtime":          viper.GetString("runtime"),
		"grace_period":     viper.GetString("grace_period"),
		"history_db":       viper.GetString("history_db"),
		"metrics_textfile": viper.GetString("metrics_textfile"),
		"listen":           viper.GetString("listen"),
		"api_key_set":      viper.GetString("api_key") != "",
	}

	if IsJSONOutput() {
		output, err := json.MarshalIndent(settings, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(output))
		return nil
	}

	output, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal YAML: %w", err)
	}
	fmt.Print(string(output))
	return nil
}
