package sym

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAll_GlyphsAreDistinct(t *testing.T) {
	seen := make(map[string]string)
	for name, glyph := range All() {
		assert.NotEmpty(t, glyph, name)
		if other, dup := seen[glyph]; dup {
			t.Errorf("glyph %q shared by %s and %s", glyph, name, other)
		}
		seen[glyph] = name
	}
}
