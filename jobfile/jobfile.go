// Package jobfile loads job declarations from TOML or YAML files.
//
// Example (TOML):
//
//	[[jobs]]
//	name = "extract"
//	handler = "exec"
//	command = "echo extracting"
//
//	[[jobs]]
//	name = "load"
//	depends_on = ["extract"]
//	handler = "sleep"
//	duration = "2s"
//	periodic = true
//	period = "5s"
//
// Definitions keep file order, which becomes registration order and so the
// resolver's tie-break order.
package jobfile

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/teranos/pulsegraph/errors"
	"github.com/teranos/pulsegraph/pulse/job"
)

// Format is a job file encoding
type Format string

const (
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
)

// File is the top-level document
type File struct {
	Jobs []Definition `toml:"jobs" yaml:"jobs"`
}

// Definition is one declared job. Durations are Go duration strings ("1.5s").
type Definition struct {
	Name      string   `toml:"name" yaml:"name"`
	DependsOn []string `toml:"depends_on" yaml:"depends_on"`

	// Handler names the body constructor the embedding application provides.
	// Handler-specific settings:
	//   exec:  command
	//   sleep: duration
	Handler  string `toml:"handler" yaml:"handler"`
	Command  string `toml:"command" yaml:"command"`
	Duration string `toml:"duration" yaml:"duration"`

	Delay    string `toml:"delay" yaml:"delay"`
	Periodic bool   `toml:"periodic" yaml:"periodic"`
	Period   string `toml:"period" yaml:"period"`
}

// FormatFor picks the format from the file extension
func FormatFor(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return FormatTOML, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return "", errors.WithHint(
			errors.Newf("unsupported job file extension %q", filepath.Ext(path)),
			"use .toml, .yaml or .yml")
	}
}

// Load reads and decodes a job file
func Load(path string) ([]Definition, error) {
	format, err := FormatFor(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read job file %s", path)
	}
	defs, err := Parse(data, format)
	if err != nil {
		return nil, errors.Wrapf(err, "job file %s", path)
	}
	return defs, nil
}

// Parse decodes job definitions. Unknown keys are rejected so typos surface
// instead of silently defaulting.
func Parse(data []byte, format Format) ([]Definition, error) {
	var file File
	switch format {
	case FormatTOML:
		md, err := toml.Decode(string(data), &file)
		if err != nil {
			return nil, errors.Wrap(err, "failed to parse TOML")
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, errors.Newf("unknown key %q", undecoded[0].String())
		}
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		// An empty document decodes to io.EOF
		if err := dec.Decode(&file); err != nil && len(bytes.TrimSpace(data)) > 0 {
			return nil, errors.Wrap(err, "failed to parse YAML")
		}
	default:
		return nil, errors.Newf("unknown job file format %q", format)
	}

	for i, def := range file.Jobs {
		if def.Name == "" {
			return nil, errors.Wrapf(errors.ErrInvalidSpec, "job #%d has no name", i+1)
		}
	}
	return file.Jobs, nil
}

// Spec converts the definition into a job.Spec
func (d Definition) Spec() (job.Spec, error) {
	delay, err := parseDuration(d.Name, "delay", d.Delay)
	if err != nil {
		return job.Spec{}, err
	}
	period, err := parseDuration(d.Name, "period", d.Period)
	if err != nil {
		return job.Spec{}, err
	}
	if !d.Periodic && period != 0 {
		return job.Spec{}, errors.WithHint(
			errors.Wrapf(errors.ErrInvalidSpec, "job %q: period set on a one-shot job", d.Name),
			"add periodic = true")
	}

	spec := job.Spec{
		Name:         d.Name,
		Dependencies: d.DependsOn,
		InitialDelay: delay,
		Periodic:     d.Periodic,
		Period:       period,
	}
	if err := spec.Validate(); err != nil {
		return job.Spec{}, err
	}
	return spec, nil
}

// SleepDuration returns the parsed duration setting
func (d Definition) SleepDuration() (time.Duration, error) {
	return parseDuration(d.Name, "duration", d.Duration)
}

func parseDuration(name, field, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(value)
	if err != nil {
		return 0, errors.Wrapf(errors.ErrInvalidSpec, "job %q: %s %q: %v", name, field, value, err)
	}
	if dur < 0 {
		return 0, errors.Wrapf(errors.ErrInvalidSpec, "job %q: %s %s is negative", name, field, dur)
	}
	return dur, nil
}
