package commands

import (
	"fmt"
	"sort"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/pulsegraph/am"
	"github.com/teranos/pulsegraph/db"
	"github.com/teranos/pulsegraph/errors"
	"github.com/teranos/pulsegraph/logger"
	"github.com/teranos/pulsegraph/pulse/history"
	"github.com/teranos/pulsegraph/sym"
)

// HistoryCmd inspects the execution history database
var HistoryCmd = &cobra.Command{
	Use:   "history",
	Short: sym.DB + " Inspect recorded executions",
	Long: sym.DB + ` history - inspect the execution history written by 'run'
when [history] enabled = true or --history-db is set.

Examples:
  pulsegraph history ls               # Most recent executions
  pulsegraph history ls extract -n 5  # Last five runs of one job
  pulsegraph history stats            # Executions per status`,
}

var historyLsCmd = &cobra.Command{
	Use:   "ls [job]",
	Short: "List recent executions",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runHistoryLs,
}

var historyStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Count executions by status",
	Args:  cobra.NoArgs,
	RunE:  runHistoryStats,
}

var (
	historyDBPath string
	historyLimit  int
)

func init() {
	HistoryCmd.PersistentFlags().StringVar(&historyDBPath, "db", "", "History database (default from config)")
	historyLsCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum executions to list (0 = all)")

	HistoryCmd.AddCommand(historyLsCmd)
	HistoryCmd.AddCommand(historyStatsCmd)
}

func openHistoryStore() (*history.Store, func(), error) {
	path := historyDBPath
	if path == "" {
		cfg, err := am.Load()
		if err != nil {
			return nil, nil, errors.Wrap(err, "failed to load config")
		}
		path = cfg.History.Path
	}
	conn, err := db.OpenWithMigrations(path, logger.Logger)
	if err != nil {
		return nil, nil, err
	}
	return history.NewStore(conn, logger.Logger), func() { conn.Close() }, nil
}

func runHistoryLs(cmd *cobra.Command, args []string) error {
	store, closeDB, err := openHistoryStore()
	if err != nil {
		return err
	}
	defer closeDB()

	var jobName string
	if len(args) == 1 {
		jobName = args[0]
	}
	executions, err := store.ListExecutions(jobName, historyLimit)
	if err != nil {
		return err
	}
	if len(executions) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No executions recorded")
		return nil
	}

	rows := [][]string{{"Started", "Job", "Status", "Duration", "Error", "ID"}}
	for _, e := range executions {
		duration := "-"
		if e.DurationMs != nil {
			duration = (time.Duration(*e.DurationMs) * time.Millisecond).String()
		}
		errMsg := ""
		if e.ErrorMessage != nil {
			errMsg = *e.ErrorMessage
		}
		rows = append(rows, []string{e.StartedAt, e.JobName, e.Status, duration, errMsg, e.ID})
	}
	return pterm.DefaultTable.WithHasHeader().WithWriter(cmd.OutOrStdout()).WithData(rows).Render()
}

func runHistoryStats(cmd *cobra.Command, args []string) error {
	store, closeDB, err := openHistoryStore()
	if err != nil {
		return err
	}
	defer closeDB()

	counts, err := store.CountByStatus()
	if err != nil {
		return err
	}
	statuses := make([]string, 0, len(counts))
	for status := range counts {
		statuses = append(statuses, status)
	}
	sort.Strings(statuses)

	out := cmd.OutOrStdout()
	for _, status := range statuses {
		fmt.Fprintf(out, "%-10s %d\n", status, counts[status])
	}
	return nil
}
