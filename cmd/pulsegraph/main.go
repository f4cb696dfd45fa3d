package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/pulsegraph/am"
	"github.com/teranos/pulsegraph/cmd/pulsegraph/commands"
	"github.com/teranos/pulsegraph/errors"
	"github.com/teranos/pulsegraph/logger"
	"github.com/teranos/pulsegraph/sym"
)

var rootCmd = &cobra.Command{
	Use:   "pulsegraph",
	Short: sym.Pulse + " pulsegraph - dependency-aware job scheduler",
	Long: sym.Pulse + ` pulsegraph - run jobs in dependency order, once or periodically.

Jobs are declared in a TOML or YAML job file. A job starts only after every
job it depends on has completed; periodic jobs re-arm from their completion
time, so a run never overlaps itself.

Available commands:
  validate - Resolve a job file and print the order
  run      - Run the jobs in a job file
  history  - Inspect recorded executions
  am       - Manage configuration ("I am")
  version  - Show version information

Examples:
  pulsegraph validate jobs.toml
  pulsegraph run jobs.toml --workers 8
  pulsegraph -vv run jobs.toml --watch`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, _ := cmd.Flags().GetCount("verbose")
		jsonOutput, _ := cmd.Flags().GetBool("json")
		if !jsonOutput {
			// Config errors surface in the command itself
			if cfg, err := am.Load(); err == nil {
				jsonOutput = cfg.Log.JSON
			}
		}
		if err := logger.Initialize(jsonOutput, verbosity); err != nil {
			return errors.Wrap(err, "failed to initialize logger")
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv, -vvv)")
	rootCmd.PersistentFlags().Bool("json", false, "Emit logs as JSON")

	rootCmd.AddCommand(commands.ValidateCmd)
	rootCmd.AddCommand(commands.RunCmd)
	rootCmd.AddCommand(commands.HistoryCmd)
	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	err := rootCmd.Execute()
	logger.Cleanup()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		for _, hint := range errors.GetAllHints(err) {
			fmt.Fprintf(os.Stderr, "  hint: %s\n", hint)
		}
		os.Exit(1)
	}
}
