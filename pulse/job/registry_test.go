package job

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/pulsegraph/errors"
)

func noop(context.Context) error { return nil }

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Register(Spec{Name: "extract"}, noop))
	require.NoError(t, r.Register(Spec{Name: "load", Dependencies: []string{"extract"}}, noop))

	spec, ok := r.Get("load")
	require.True(t, ok)
	assert.Equal(t, []string{"extract"}, spec.Dependencies)
	assert.NotNil(t, r.Func("load"))
	assert.True(t, r.Has("extract"))
	assert.False(t, r.Has("transform"))
	assert.Equal(t, 2, r.Len())
}

func TestRegistry_Duplicate(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Spec{Name: "extract"}, noop))

	err := r.Register(Spec{Name: "extract"}, noop)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrDuplicateJob))
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_ForwardReference(t *testing.T) {
	r := NewRegistry()

	// Declaration order is free; the resolver checks that names exist
	require.NoError(t, r.Register(Spec{Name: "load", Dependencies: []string{"extract"}}, noop))
	require.NoError(t, r.Register(Spec{Name: "extract"}, noop))
	assert.Equal(t, []string{"load"}, r.Dependents("extract"))
}

func TestRegistry_RegisterResolved_UnknownDependency(t *testing.T) {
	r := NewRegistry()

	err := r.RegisterResolved(Spec{Name: "load", Dependencies: []string{"extract"}}, noop)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrUnknownDependency))
	assert.NotEmpty(t, errors.GetAllHints(err))
	assert.Equal(t, 0, r.Len())

	require.NoError(t, r.RegisterResolved(Spec{Name: "extract"}, noop))
	require.NoError(t, r.RegisterResolved(Spec{Name: "load", Dependencies: []string{"extract"}}, noop))

	err = r.RegisterResolved(Spec{Name: "load"}, noop)
	assert.True(t, errors.Is(err, errors.ErrDuplicateJob))
}

func TestRegistry_SelfDependency(t *testing.T) {
	r := NewRegistry()

	err := r.Register(Spec{Name: "loop", Dependencies: []string{"loop"}}, noop)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCycleDetected))

	members, ok := errors.CycleMembers(err)
	require.True(t, ok)
	assert.Equal(t, []string{"loop"}, members)
}

func TestRegistry_InvalidSpecs(t *testing.T) {
	tests := []struct {
		name string
		spec Spec
		fn   Func
	}{
		{name: "empty name", spec: Spec{}, fn: noop},
		{name: "negative delay", spec: Spec{Name: "a", InitialDelay: -time.Second}, fn: noop},
		{name: "periodic without period", spec: Spec{Name: "a", Periodic: true}, fn: noop},
		{name: "empty dependency", spec: Spec{Name: "a", Dependencies: []string{""}}, fn: noop},
		{name: "nil function", spec: Spec{Name: "a"}, fn: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			err := r.Register(tt.spec, tt.fn)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrInvalidSpec))
		})
	}
}

func TestRegistry_DependenciesCopiedAndDeduplicated(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Spec{Name: "a"}, noop))
	require.NoError(t, r.Register(Spec{Name: "b"}, noop))

	deps := []string{"a", "b", "a"}
	require.NoError(t, r.Register(Spec{Name: "c", Dependencies: deps}, noop))
	deps[0] = "mutated"

	spec, ok := r.Get("c")
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, spec.Dependencies)

	// Mutating a returned copy does not leak back
	spec.Dependencies[0] = "mutated"
	again, _ := r.Get("c")
	assert.Equal(t, []string{"a", "b"}, again.Dependencies)
}

func TestRegistry_SpecsInRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, r.Register(Spec{Name: name}, noop))
	}

	names := make([]string, 0, 3)
	for _, spec := range r.Specs() {
		names = append(names, spec.Name)
	}
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, names)
	assert.Equal(t, names, r.Names())
}

func TestRegistry_Remove(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Spec{Name: "a"}, noop))
	require.NoError(t, r.Register(Spec{Name: "b", Dependencies: []string{"a"}}, noop))
	require.NoError(t, r.Register(Spec{Name: "c"}, noop))

	err := r.Remove("a")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrHasDependents))
	assert.Equal(t, []string{"b"}, r.Dependents("a"))

	err = r.Remove("missing")
	assert.True(t, errors.Is(err, errors.ErrUnknownJob))

	require.NoError(t, r.Remove("b"))
	require.NoError(t, r.Remove("a"))
	assert.Equal(t, []string{"c"}, r.Names())
	assert.Nil(t, r.Func("a"))

	// A removed name can be registered again
	require.NoError(t, r.Register(Spec{Name: "a"}, noop))
	assert.Equal(t, []string{"c", "a"}, r.Names())
}

func TestSpec_Kind(t *testing.T) {
	assert.Equal(t, "one-shot", Spec{Name: "a"}.Kind())
	assert.Equal(t, "periodic", Spec{Name: "a", Periodic: true, Period: time.Second}.Kind())
}
