// Package job declares schedulable jobs: their static metadata and the
// capability that runs them.
package job

import (
	"context"
	"time"

	"github.com/teranos/pulsegraph/errors"
)

// Func is the job body supplied by the embedding application.
// Return nil on success, an error on failure. Bodies that run for a long
// time MUST watch ctx.Done() and return once the scheduler cancels them.
type Func func(ctx context.Context) error

// Spec is the immutable declaration of a job.
type Spec struct {
	Name         string
	Dependencies []string      // names of jobs that must complete first
	InitialDelay time.Duration // offset from scheduler start (or registration, if added while running)
	Periodic     bool
	Period       time.Duration // re-arm interval measured from completion; periodic jobs only
}

// Validate checks the spec in isolation. Registry-level checks (duplicates,
// unknown dependencies) happen in Registry.Register.
func (s Spec) Validate() error {
	if s.Name == "" {
		return errors.Wrap(errors.ErrInvalidSpec, "job name is empty")
	}
	if s.InitialDelay < 0 {
		return errors.Wrapf(errors.ErrInvalidSpec, "job %q: initial delay %s is negative", s.Name, s.InitialDelay)
	}
	if s.Periodic && s.Period <= 0 {
		return errors.WithHint(
			errors.Wrapf(errors.ErrInvalidSpec, "job %q: periodic job needs a positive period, got %s", s.Name, s.Period),
			"set period, or declare the job as one-shot")
	}
	for _, dep := range s.Dependencies {
		if dep == "" {
			return errors.Wrapf(errors.ErrInvalidSpec, "job %q: empty dependency name", s.Name)
		}
		if dep == s.Name {
			return errors.Wrapf(errors.NewCycleError([]string{s.Name}), "job %q depends on itself", s.Name)
		}
	}
	return nil
}

// DependsOn reports whether name is one of the spec's dependencies.
func (s Spec) DependsOn(name string) bool {
	for _, dep := range s.Dependencies {
		if dep == name {
			return true
		}
	}
	return false
}

// clone returns a copy whose dependency slice is deduplicated and not shared
// with the caller.
func (s Spec) clone() Spec {
	out := s
	out.Dependencies = nil
	if len(s.Dependencies) == 0 {
		return out
	}
	seen := make(map[string]bool, len(s.Dependencies))
	out.Dependencies = make([]string, 0, len(s.Dependencies))
	for _, dep := range s.Dependencies {
		if seen[dep] {
			continue
		}
		seen[dep] = true
		out.Dependencies = append(out.Dependencies, dep)
	}
	return out
}

// Kind returns "periodic" or "one-shot" for display.
func (s Spec) Kind() string {
	if s.Periodic {
		return "periodic"
	}
	return "one-shot"
}
