package tick_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retrace/internal/tick"
)

func TestUnpacedRunStopsAtMaxTicks(t *testing.T) {
	var seen []uint64
	s := tick.New(tick.Config{Unpaced: true, MaxTicks: 5}, nil)
	err := s.Run(context.Background(), func(_ context.Context, n uint64) error {
		seen = append(seen, n)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2, 3, 4, 5}, seen)
	assert.EqualValues(t, 5, s.Ticks())
}

func TestRunStopsOnErrStop(t *testing.T) {
	s := tick.New(tick.Config{Unpaced: true}, nil)
	err := s.Run(context.Background(), func(_ context.Context, n uint64) error {
		if n == 3 {
			return tick.ErrStop
		}
		return nil
	})
	require.NoError(t, err)
	assert.EqualValues(t, 3, s.Ticks())
}

func TestRunPropagatesStepError(t *testing.T) {
	boom := errors.New("boom")
	s := tick.New(tick.Config{Unpaced: true}, nil)
	err := s.Run(context.Background(), func(context.Context, uint64) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestPacedRunHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	s := tick.New(tick.Config{Rate: 1000}, nil)
	err := s.Run(ctx, func(context.Context, uint64) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Greater(t, s.Ticks(), uint64(0))
}

func TestIntervalDefaultsTo60Hz(t *testing.T) {
	s := tick.New(tick.Config{}, nil)
	assert.Equal(t, time.Second/60, s.Interval())
}

func TestAfterStepObservesTicks(t *testing.T) {
	var results []tick.Result
	s := tick.New(tick.Config{Unpaced: true, MaxTicks: 2, AfterStep: func(r tick.Result) { results = append(results, r) }}, nil)
	require.NoError(t, s.Run(context.Background(), func(context.Context, uint64) error { return nil }))
	require.Len(t, results, 2)
	assert.EqualValues(t, 2, results[1].Tick)
	assert.False(t, results[1].Overrun)
}
