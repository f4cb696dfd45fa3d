package commands

import (
	"bytes"
	"context"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kballard/go-shellquote"
	"go.uber.org/zap"

	"github.com/teranos/pulsegraph/errors"
	"github.com/teranos/pulsegraph/jobfile"
	"github.com/teranos/pulsegraph/logger"
	"github.com/teranos/pulsegraph/pulse/job"
)

// HandlerFactory builds a job body from its file definition.
type HandlerFactory func(def jobfile.Definition, log *zap.SugaredLogger) (job.Func, error)

// HandlerRegistry maps handler names from job files to factories.
// Job bodies are built once, when a definition is registered with the scheduler.
type HandlerRegistry struct {
	mu        sync.RWMutex
	factories map[string]HandlerFactory
}

// NewHandlerRegistry creates an empty handler registry
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{factories: make(map[string]HandlerFactory)}
}

// DefaultHandlers returns a registry with the built-in handlers:
// noop, sleep, fail and exec.
func DefaultHandlers() *HandlerRegistry {
	r := NewHandlerRegistry()
	r.Register("noop", noopHandler)
	r.Register("sleep", sleepHandler)
	r.Register("fail", failHandler)
	r.Register("exec", execHandler)
	return r
}

// Register adds or replaces a factory
func (r *HandlerRegistry) Register(name string, factory HandlerFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Names returns registered handler names, sorted
func (r *HandlerRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build constructs the body for def. An empty handler means noop.
func (r *HandlerRegistry) Build(def jobfile.Definition, log *zap.SugaredLogger) (job.Func, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	name := def.Handler
	if name == "" {
		name = "noop"
	}

	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.WithHintf(
			errors.Wrapf(errors.ErrInvalidSpec, "job %q: unknown handler %q", def.Name, name),
			"available handlers: %s", strings.Join(r.Names(), ", "))
	}
	return factory(def, logger.ChildLogger(log, logger.FieldJob, def.Name))
}

func noopHandler(jobfile.Definition, *zap.SugaredLogger) (job.Func, error) {
	return func(context.Context) error { return nil }, nil
}

// sleepHandler waits for the definition's duration, or until cancelled.
func sleepHandler(def jobfile.Definition, _ *zap.SugaredLogger) (job.Func, error) {
	d, err := def.SleepDuration()
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context) error {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}, nil
}

// failHandler always fails, optionally after sleeping for duration.
func failHandler(def jobfile.Definition, log *zap.SugaredLogger) (job.Func, error) {
	wait, err := sleepHandler(def, log)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context) error {
		if err := wait(ctx); err != nil {
			return err
		}
		return errors.Newf("job %q failed by design", def.Name)
	}, nil
}

// maxOutputInError bounds how much command output is attached to an error.
const maxOutputInError = 512

// execHandler runs def.Command without a shell. Quoting follows POSIX shell rules.
func execHandler(def jobfile.Definition, log *zap.SugaredLogger) (job.Func, error) {
	args, err := shellquote.Split(def.Command)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrInvalidSpec, "job %q: command %q: %v", def.Name, def.Command, err)
	}
	if len(args) == 0 {
		return nil, errors.WithHint(
			errors.Wrapf(errors.ErrInvalidSpec, "job %q: exec handler needs a command", def.Name),
			`set command = "..."`)
	}

	return func(ctx context.Context) error {
		cmd := exec.CommandContext(ctx, args[0], args[1:]...)
		var out bytes.Buffer
		cmd.Stdout = &out
		cmd.Stderr = &out

		runErr := cmd.Run()
		output := strings.TrimSpace(out.String())
		if output != "" {
			log.Debugw("Command output", "command", def.Command, "output", output)
		}
		if runErr != nil {
			if len(output) > maxOutputInError {
				output = "..." + output[len(output)-maxOutputInError:]
			}
			return errors.WithDetail(errors.Wrapf(runErr, "command %q", def.Command), output)
		}
		return nil
	}, nil
}
