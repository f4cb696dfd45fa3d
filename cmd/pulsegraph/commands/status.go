package commands

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pterm/pterm"

	"github.com/teranos/pulsegraph/pulse/job"
	"github.com/teranos/pulsegraph/pulse/state"
	"github.com/teranos/pulsegraph/sym"
)

func statusGlyph(s state.Status) string {
	switch s {
	case state.StatusPending:
		return sym.StatusPending
	case state.StatusEligible:
		return sym.StatusEligible
	case state.StatusRunning:
		return sym.StatusRunning
	case state.StatusCompleted:
		return sym.StatusCompleted
	case state.StatusFailed:
		return sym.StatusFailed
	default:
		return "?"
	}
}

// statusRows renders records as table rows, header first.
func statusRows(records []state.Record) [][]string {
	rows := [][]string{{"", "Job", "Status", "Runs", "OK", "Failed", "Last duration", "Note"}}
	for _, r := range records {
		var note string
		switch {
		case len(r.BlockedBy) > 0:
			note = "blocked by " + strings.Join(r.BlockedBy, ", ")
		case r.LastError != "":
			note = r.LastError
		}
		if r.Retired {
			note = strings.TrimSpace(note + " (retired)")
		}
		duration := "-"
		if d := r.Duration(); d > 0 {
			duration = d.Round(time.Millisecond).String()
		}
		rows = append(rows, []string{
			statusGlyph(r.Status),
			r.Name,
			string(r.Status),
			fmt.Sprint(r.RunCount),
			fmt.Sprint(r.SuccessCount),
			fmt.Sprint(r.FailureCount),
			duration,
			note,
		})
	}
	return rows
}

func printStatusTable(w io.Writer, records []state.Record) error {
	return pterm.DefaultTable.
		WithHasHeader().
		WithWriter(w).
		WithData(statusRows(records)).
		Render()
}

// orderRows renders a resolved order as table rows, header first.
func orderRows(order []job.Spec) [][]string {
	rows := [][]string{{"#", "Job", "Kind", "Depends on", "Delay", "Period"}}
	for i, spec := range order {
		deps := "-"
		if len(spec.Dependencies) > 0 {
			deps = strings.Join(spec.Dependencies, ", ")
		}
		period := "-"
		if spec.Periodic {
			period = spec.Period.String()
		}
		rows = append(rows, []string{
			fmt.Sprint(i + 1),
			spec.Name,
			spec.Kind(),
			deps,
			spec.InitialDelay.String(),
			period,
		})
	}
	return rows
}

func printOrderTable(w io.Writer, order []job.Spec) error {
	return pterm.DefaultTable.
		WithHasHeader().
		WithWriter(w).
		WithData(orderRows(order)).
		Render()
}
