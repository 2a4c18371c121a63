package cmd

import (
	"fmt"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var connectorsOutput string

var connectorsCmd = &cobra.Command{
	Use:     "connectors",
	Aliases: []string{"connector"},
	Short:   "Inspect framework connectors",
}

var connectorsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known connectors",
	Long: `List the built-in connector presets merged with the overrides from
--connectors (or connectors_file in the config).

Example:
  edgeconnect connectors list
  edgeconnect connectors list -o json`,
	Args: cobra.NoArgs,
	RunE: runConnectorsList,
}

var connectorsShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show one connector in full",
	Args:  cobra.ExactArgs(1),
	RunE:  runConnectorsShow,
}

func init() {
	rootCmd.AddCommand(connectorsCmd)
	connectorsCmd.AddCommand(connectorsListCmd, connectorsShowCmd)

	connectorsCmd.PersistentFlags().StringVarP(&connectorsOutput, "output", "o", "table", "output format: table, json, yaml")
}

func runConnectorsList(cmd *cobra.Command, args []string) error {
	reg, err := loadRegistry()
	if err != nil {
		return err
	}
	if done, err := writeStructured(cmd.OutOrStdout(), connectorsOutput, reg.Connectors); done {
		return err
	}

	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.Header("Name", "Label", "Command", "Ready When", "Service Worker")
	for _, name := range reg.Names() {
		c, _ := reg.Get(name)
		sw := "-"
		if c.ServiceWorker != nil {
			sw = c.ServiceWorker.Source + " -> " + c.ServiceWorker.Dest
		}
		table.Append(c.Name, c.Label, c.Command, strings.Join(c.ReadyPatterns, " | "), sw)
	}
	table.Render()
	return nil
}

func runConnectorsShow(cmd *cobra.Command, args []string) error {
	reg, err := loadRegistry()
	if err != nil {
		return err
	}
	c, err := reg.Get(args[0])
	if err != nil {
		return err
	}

	format := connectorsOutput
	if format == "table" {
		format = "yaml"
	}
	if done, err := writeStructured(cmd.OutOrStdout(), format, c); done {
		return err
	}
	return fmt.Errorf("unknown output format %q", format)
}
