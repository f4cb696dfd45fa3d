// Package sym defines the glyphs pulsegraph attaches to log lines and CLI output.
// Glyphs are carried as a structured "symbol" field, never baked into messages.
package sym

// System glyphs.
const (
	Pulse      = "꩜" // scheduling engine, dispatch, periodic re-arm
	PulseOpen  = "✿" // startup: resolution and initial arming
	PulseClose = "❀" // shutdown: grace period and cancellation
	DB         = "⊔" // execution history storage
	AM         = "≡" // configuration
	Graph      = "⋈" // dependency graph resolution
)

// Status glyphs used by the CLI status table.
const (
	StatusPending   = "○"
	StatusEligible  = "◔"
	StatusRunning   = "◑"
	StatusCompleted = "●"
	StatusFailed    = "✕"
)

// All returns every system glyph keyed by name.
func All() map[string]string {
	return map[string]string{
		"pulse":       Pulse,
		"pulse_open":  PulseOpen,
		"pulse_close": PulseClose,
		"db":          DB,
		"am":          AM,
		"graph":       Graph,
	}
}
