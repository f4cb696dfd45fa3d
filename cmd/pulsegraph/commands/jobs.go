package commands

import (
	"go.uber.org/zap"

	"github.com/teranos/pulsegraph/errors"
	"github.com/teranos/pulsegraph/jobfile"
	"github.com/teranos/pulsegraph/pulse/schedule"
)

// registerDefinitions builds and registers every definition not yet known to
// the scheduler, in file order. It returns the names it added. The first
// failure stops registration; jobs added before it stay registered.
func registerDefinitions(s *schedule.Scheduler, defs []jobfile.Definition, handlers *HandlerRegistry, log *zap.SugaredLogger) ([]string, error) {
	known := make(map[string]bool)
	for _, spec := range s.Jobs() {
		known[spec.Name] = true
	}

	var added []string
	for _, def := range defs {
		if known[def.Name] {
			continue
		}
		spec, err := def.Spec()
		if err != nil {
			return added, err
		}
		fn, err := handlers.Build(def, log)
		if err != nil {
			return added, err
		}
		if err := s.RegisterJob(spec, fn); err != nil {
			return added, errors.Wrapf(err, "register %q", def.Name)
		}
		known[def.Name] = true
		added = append(added, def.Name)
	}
	return added, nil
}
