package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/psantana5/edgeconnect/internal/connector"
)

var configOutput string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration helpers",
}

var configExampleCmd = &cobra.Command{
	Use:   "example",
	Short: "Print an example connectors override file",
	Long: `Print a commented connectors file. Save it and pass it with --connectors,
or set connectors_file in $HOME/.edgeconnect/config.yaml.

Example:
  edgeconnect config example > connectors.yaml
  edgeconnect --connectors connectors.yaml dev next`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := fmt.Fprint(cmd.OutOrStdout(), connector.ExampleConfig)
		return err
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		settings := map[string]interface{}{
			"config_file":     viper.ConfigFileUsed(),
			"log_level":       viper.GetString("log_level"),
			"log_json":        viper.GetBool("log_json"),
			"listen":          viper.GetString("listen"),
			"connectors_file": viper.GetString("connectors_file"),
			"timeout":         viper.GetString("timeout"),
			"grace_period":    viper.GetString("grace_period"),
		}
		format := configOutput
		if format == "table" || format == "text" {
			format = "yaml"
		}
		_, err := writeStructured(cmd.OutOrStdout(), format, settings)
		return err
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configExampleCmd, configShowCmd)

	configShowCmd.Flags().StringVarP(&configOutput, "output", "o", "yaml", "output format: json, yaml")
}
