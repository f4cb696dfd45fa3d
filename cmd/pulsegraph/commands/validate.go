package commands

import (
	"fmt"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/pulsegraph/errors"
	"github.com/teranos/pulsegraph/jobfile"
	"github.com/teranos/pulsegraph/logger"
	"github.com/teranos/pulsegraph/pulse/job"
	"github.com/teranos/pulsegraph/pulse/schedule"
	"github.com/teranos/pulsegraph/sym"
)

// ValidateCmd resolves a job file without running anything
var ValidateCmd = &cobra.Command{
	Use:   "validate <jobfile>",
	Short: sym.Graph + " Check a job file and print its resolved order",
	Long: sym.Graph + ` validate - load, register and resolve a job file.

Prints the topological order the scheduler would arm jobs in. Exits non-zero
when a dependency is unknown or the jobs form a cycle; for a cycle, only the
jobs on the cycle are listed.

Examples:
  pulsegraph validate jobs.toml
  pulsegraph validate pipeline.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	order, err := resolveFile(args[0], DefaultHandlers())
	if err != nil {
		if members, ok := errors.CycleMembers(err); ok {
			pterm.Error.WithWriter(cmd.ErrOrStderr()).Printfln("Dependency cycle: %s", strings.Join(members, " → "))
		}
		return err
	}

	out := cmd.OutOrStdout()
	if err := printOrderTable(out, order); err != nil {
		return err
	}
	fmt.Fprintf(out, "%s %d job(s) resolved\n", sym.Graph, len(order))
	return nil
}

// resolveFile registers the file's jobs with an unstarted scheduler and
// returns their specs in resolved order.
func resolveFile(path string, handlers *HandlerRegistry) ([]job.Spec, error) {
	defs, err := jobfile.Load(path)
	if err != nil {
		return nil, err
	}

	s := schedule.New(schedule.DefaultConfig(), schedule.WithLogger(logger.Logger))
	defer abandon(s, 0, logger.Logger)

	if _, err := registerDefinitions(s, defs, handlers, logger.Logger); err != nil {
		return nil, err
	}
	names, err := s.Resolve()
	if err != nil {
		return nil, err
	}

	byName := make(map[string]job.Spec)
	for _, spec := range s.Jobs() {
		byName[spec.Name] = spec
	}
	order := make([]job.Spec, 0, len(names))
	for _, name := range names {
		order = append(order, byName[name])
	}
	return order, nil
}
