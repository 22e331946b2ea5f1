package commands

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/bryanchriswhite/lumad/internal/wayland"
	"github.com/spf13/cobra"
)

var outputsCmd = &cobra.Command{
	Use:   "outputs",
	Short: "List compositor outputs",
	Long: `List the outputs announced by the Wayland compositor with their names and
descriptions.

A configured output is matched when its name is contained in the
description, so any distinctive part of it can be used as the name.`,
	Example: `  # List outputs in table format (default)
  lumad outputs

  # List outputs in JSON format
  lumad outputs --format json`,
	RunE: runOutputs,
}

var outputsFormat string

func init() {
	rootCmd.AddCommand(outputsCmd)

	outputsCmd.Flags().StringVarP(&outputsFormat, "format", "f", "table", "output format (table or json)")
}

func runOutputs(cmd *cobra.Command, args []string) error {
	client, err := wayland.Connect("")
	if err != nil {
		return err
	}
	defer client.Close()

	outputs, err := client.ListOutputs()
	if err != nil {
		return fmt.Errorf("failed to list outputs: %w", err)
	}

	out := cmd.OutOrStdout()
	switch outputsFormat {
	case "json":
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(outputs)
	case "table":
		if len(outputs) == 0 {
			fmt.Fprintln(out, "No outputs found")
			return nil
		}
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tDESCRIPTION")
		fmt.Fprintln(w, "----\t-----------")
		for _, o := range outputs {
			fmt.Fprintf(w, "%s\t%s\n", o.Name, o.Description)
		}
		return w.Flush()
	default:
		return fmt.Errorf("unsupported format: %s (use 'table' or 'json')", outputsFormat)
	}
}
