package commands

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/teranos/pulsegraph/am"
	"github.com/teranos/pulsegraph/db"
	"github.com/teranos/pulsegraph/errors"
	"github.com/teranos/pulsegraph/jobfile"
	"github.com/teranos/pulsegraph/logger"
	"github.com/teranos/pulsegraph/pulse/history"
	"github.com/teranos/pulsegraph/pulse/schedule"
	"github.com/teranos/pulsegraph/pulse/state"
	"github.com/teranos/pulsegraph/sym"
)

// RunCmd runs the jobs of a job file until interrupted
var RunCmd = &cobra.Command{
	Use:   "run <jobfile>",
	Short: sym.Pulse + " Run the jobs in a job file",
	Long: sym.Pulse + ` run - start the scheduler on a job file.

Jobs start in dependency order; periodic jobs re-arm from their completion
time. The scheduler runs until interrupted (Ctrl+C / SIGTERM), then waits up
to the grace period for running jobs before cancelling them.

Send SIGUSR1 to print a status table. With --watch, jobs appended to the job
file are registered while running; edits to existing jobs are ignored.

Examples:
  pulsegraph run jobs.toml
  pulsegraph run jobs.toml --workers 8 --watch
  pulsegraph run batch.yaml --exit-when-done`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

var (
	runWorkers      int
	runWatch        bool
	runHistoryDB    string
	runExitWhenDone bool
)

func init() {
	RunCmd.Flags().IntVar(&runWorkers, "workers", 0, "Concurrent job bodies (default from config)")
	RunCmd.Flags().BoolVar(&runWatch, "watch", false, "Register jobs added to the job file while running")
	RunCmd.Flags().StringVar(&runHistoryDB, "history-db", "", "Record executions in this SQLite database (enables history)")
	RunCmd.Flags().BoolVar(&runExitWhenDone, "exit-when-done", false, "Exit once every one-shot job has finished (no periodic jobs allowed)")
}

func runRun(cmd *cobra.Command, args []string) error {
	path := args[0]
	log := logger.AddPulseSymbol(logger.Logger.Named("run"))

	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	schedCfg := cfg.ScheduleConfig()
	if runWorkers > 0 {
		schedCfg.Workers = runWorkers
	}
	if runHistoryDB != "" {
		cfg.History.Enabled = true
		cfg.History.Path = runHistoryDB
	}

	defs, err := jobfile.Load(path)
	if err != nil {
		return err
	}
	if runExitWhenDone {
		for _, def := range defs {
			if def.Periodic {
				return errors.Newf("--exit-when-done cannot be used with periodic job %q", def.Name)
			}
		}
	}

	opts := []schedule.Option{schedule.WithLogger(logger.Logger)}
	if cfg.History.Enabled {
		conn, store, err := openHistory(cfg, logger.Logger)
		if err != nil {
			return err
		}
		defer conn.Close()
		opts = append(opts, schedule.WithObserver(store))
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	s := schedule.NewWithContext(ctx, schedCfg, opts...)
	handlers := DefaultHandlers()
	if _, err := registerDefinitions(s, defs, handlers, logger.Logger); err != nil {
		abandon(s, 0, log)
		return err
	}
	if err := s.Start(); err != nil {
		abandon(s, 0, log)
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s Scheduler started: %d job(s), %d worker(s)\n", sym.Pulse, len(defs), schedCfg.Workers)
	fmt.Fprintf(out, "  Order: %v\n", s.Order())
	fmt.Fprintf(out, "\n%s Press Ctrl+C for graceful shutdown\n\n", sym.Pulse)

	if runWatch {
		watcher, err := watchJobFile(path, s, handlers, log)
		if err != nil {
			abandon(s, cfg.GracePeriod(), log)
			return err
		}
		defer watcher.Stop()
	}

	waitForStop(ctx, s, out, log)

	fmt.Fprintf(out, "\n%s Shutting down (grace %s)...\n", sym.PulseClose, cfg.GracePeriod())
	shutdownErr := s.Shutdown(cfg.GracePeriod())
	if err := printStatusTable(out, s.Statuses()); err != nil {
		log.Warnw("Failed to render status table", logger.FieldError, err)
	}
	if shutdownErr != nil {
		return shutdownErr
	}
	fmt.Fprintf(out, "%s Scheduler stopped\n", sym.PulseClose)
	return nil
}

// abandon shuts the scheduler down on an error path. The caller returns the
// original error, so a shutdown failure is only logged.
func abandon(s *schedule.Scheduler, grace time.Duration, log *zap.SugaredLogger) {
	if err := s.Shutdown(grace); err != nil {
		log.Warnw("Scheduler shutdown failed", logger.FieldError, err)
	}
}

// waitForStop blocks until a termination signal, ctx ends, or (with
// --exit-when-done) all jobs have finished. Status signals print a table.
func waitForStop(ctx context.Context, s *schedule.Scheduler, out io.Writer, log *zap.SugaredLogger) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(stop)

	status := make(chan os.Signal, 1)
	if len(statusSignals) > 0 {
		signal.Notify(status, statusSignals...)
		defer signal.Stop(status)
	}

	var done <-chan time.Time
	if runExitWhenDone {
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		done = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-stop:
			log.Infow("Received signal", "signal", sig.String())
			return
		case <-status:
			if err := printStatusTable(out, s.Statuses()); err != nil {
				log.Warnw("Failed to render status table", logger.FieldError, err)
			}
		case <-done:
			if allFinished(s.Statuses()) {
				log.Infow("All jobs finished")
				return
			}
		}
	}
}

// allFinished reports whether no one-shot job can still run: each has
// completed, failed, or is blocked behind a failed dependency.
func allFinished(records []state.Record) bool {
	for _, r := range records {
		if r.Periodic || r.Retired {
			continue
		}
		switch {
		case r.Status == state.StatusCompleted, r.Status == state.StatusFailed:
		case len(r.BlockedBy) > 0:
		default:
			return false
		}
	}
	return true
}

func openHistory(cfg *am.Config, log *zap.SugaredLogger) (*sql.DB, *history.Store, error) {
	conn, err := db.OpenWithMigrations(cfg.History.Path, log)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to open history database")
	}
	store := history.NewStore(conn, log)

	if retention := cfg.HistoryRetention(); retention > 0 {
		deleted, err := store.CleanupOldExecutions(retention)
		if err != nil {
			log.Warnw("History cleanup failed", logger.FieldError, err)
		} else if deleted > 0 {
			log.Infow("Pruned old executions", logger.FieldCount, deleted, logger.FieldPath, cfg.History.Path)
		}
	}
	return conn, store, nil
}

// watchJobFile registers jobs appended to the file while the scheduler runs.
func watchJobFile(path string, s *schedule.Scheduler, handlers *HandlerRegistry, log *zap.SugaredLogger) (*am.ConfigWatcher, error) {
	watcher, err := am.NewConfigWatcher(path, logger.Logger)
	if err != nil {
		return nil, err
	}
	watcher.OnChange(func(changed string) error {
		return hotAdd(changed, s, handlers, log)
	})
	watcher.Start()
	log.Infow("Watching job file for new jobs", logger.FieldPath, watcher.Path())
	return watcher, nil
}

func hotAdd(path string, s *schedule.Scheduler, handlers *HandlerRegistry, log *zap.SugaredLogger) error {
	defs, err := jobfile.Load(path)
	if err != nil {
		return err
	}
	added, err := registerDefinitions(s, defs, handlers, logger.Logger)
	if len(added) > 0 {
		log.Infow("Registered new jobs", logger.FieldCount, len(added), "jobs", added)
	}
	return err
}
