package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrap(t *testing.T) {
	original := New("original")
	wrapped := Wrap(original, "wrapped")

	assert.Contains(t, wrapped.Error(), "wrapped")
	assert.Contains(t, wrapped.Error(), "original")
	assert.True(t, Is(wrapped, original))
}

func TestWithHint(t *testing.T) {
	err := New("error")
	withHint := WithHint(err, "try this fix")

	hints := GetAllHints(withHint)
	require.Len(t, hints, 1)
	assert.Equal(t, "try this fix", hints[0])
}

func TestSentinelsSurviveWrapping(t *testing.T) {
	sentinels := []error{
		ErrDuplicateJob,
		ErrUnknownDependency,
		ErrUnknownJob,
		ErrCycleDetected,
		ErrInvalidTransition,
		ErrInvalidSpec,
		ErrHasDependents,
	}

	for _, sentinel := range sentinels {
		t.Run(sentinel.Error(), func(t *testing.T) {
			wrapped := Wrapf(sentinel, "job %q", "extract")
			assert.True(t, Is(wrapped, sentinel))

			// Also through fmt-style wrapping
			stdWrapped := fmt.Errorf("outer: %w", wrapped)
			assert.True(t, Is(stdWrapped, sentinel))
		})
	}
}

func TestCycleError(t *testing.T) {
	err := NewCycleError([]string{"A", "B", "C"})

	assert.True(t, Is(err, ErrCycleDetected))
	assert.Equal(t, "cycle detected involving jobs: A, B, C", err.Error())

	members, ok := CycleMembers(err)
	require.True(t, ok)
	assert.Equal(t, []string{"A", "B", "C"}, members)

	hints := GetAllHints(err)
	require.Len(t, hints, 1)
}

func TestCycleError_CopiesMembers(t *testing.T) {
	jobs := []string{"A", "B"}
	err := NewCycleError(jobs)
	jobs[0] = "mutated"

	members, ok := CycleMembers(err)
	require.True(t, ok)
	assert.Equal(t, []string{"A", "B"}, members)
}

func TestCycleMembers_NotACycle(t *testing.T) {
	_, ok := CycleMembers(ErrDuplicateJob)
	assert.False(t, ok)

	_, ok = CycleMembers(nil)
	assert.False(t, ok)
}

func TestIsStructural(t *testing.T) {
	assert.True(t, IsStructural(Wrap(ErrDuplicateJob, "register")))
	assert.True(t, IsStructural(ErrUnknownDependency))
	assert.True(t, IsStructural(NewCycleError([]string{"A"})))
	assert.True(t, IsStructural(ErrInvalidSpec))

	assert.False(t, IsStructural(ErrInvalidTransition))
	assert.False(t, IsStructural(ErrUnknownJob))
	assert.False(t, IsStructural(nil))
}
