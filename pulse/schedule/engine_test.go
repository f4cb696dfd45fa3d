package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/time/rate"

	"github.com/teranos/pulsegraph/errors"
	"github.com/teranos/pulsegraph/logger"
	"github.com/teranos/pulsegraph/pulse/job"
	"github.com/teranos/pulsegraph/pulse/pool"
	"github.com/teranos/pulsegraph/sym"
)

func TestEngine_SubmitLimitedSpendsTokenOnlyOnAdmission(t *testing.T) {
	body := func(context.Context) error { return nil }
	now := time.Now()

	newPool := func() *pool.WorkerPool {
		// Never started, so queued tasks stay queued
		p := pool.New(pool.Config{Workers: 1, QueueCapacity: 1}, nil, zap.NewNop().Sugar())
		t.Cleanup(func() { _ = p.Shutdown(0) })
		return p
	}

	t.Run("full queue returns the token", func(t *testing.T) {
		p := newPool()
		_, err := p.Submit(pool.Task{Name: "filler", Run: body})
		require.NoError(t, err)

		limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
		e := &engine{pool: p, limiter: limiter}

		_, err = e.submitLimited(pool.Task{Name: "A", Run: body}, now)
		assert.True(t, errors.Is(err, pool.ErrQueueFull))
		assert.InDelta(t, 1.0, limiter.TokensAt(now), 1e-9)
	})

	t.Run("admitted task spends the token", func(t *testing.T) {
		limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
		e := &engine{pool: newPool(), limiter: limiter}

		h, err := e.submitLimited(pool.Task{Name: "A", Run: body}, now)
		require.NoError(t, err)
		assert.NotEmpty(t, h.ID())
		assert.InDelta(t, 0.0, limiter.TokensAt(now), 1e-9)

		_, err = e.submitLimited(pool.Task{Name: "B", Run: body}, now)
		assert.True(t, errors.Is(err, errRateLimited))
		assert.InDelta(t, 0.0, limiter.TokensAt(now), 1e-9)
	})

	t.Run("no limiter", func(t *testing.T) {
		e := &engine{pool: newPool()}
		_, err := e.submitLimited(pool.Task{Name: "A", Run: body}, now)
		require.NoError(t, err)
	})
}

func TestEngine_LifecycleSymbols(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	s := New(testConfig(), WithLogger(zap.New(core).Sugar()))

	require.NoError(t, s.RegisterJob(job.Spec{Name: "A"}, func(context.Context) error { return nil }))
	require.NoError(t, s.Start())
	require.NoError(t, s.Shutdown(time.Second))

	symbolOf := func(msg string) interface{} {
		entries := logs.FilterMessage(msg).All()
		require.Len(t, entries, 1, msg)
		return entries[0].ContextMap()[logger.FieldSymbol]
	}
	assert.Equal(t, sym.PulseOpen, symbolOf("Scheduling engine started"))
	assert.Equal(t, sym.PulseClose, symbolOf("Scheduling engine stopped"))
}
