package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vinylogix/api/internal/services"
)

type countingSweeper struct {
	runs atomic.Int32
	err  error
}

func (s *countingSweeper) Sweep(ctx context.Context) (services.SweepReport, error) {
	s.runs.Add(1)
	if _, ok := ctx.Deadline(); !ok {
		return services.SweepReport{}, errors.New("sweep must run with a deadline")
	}
	if s.err != nil {
		return services.SweepReport{}, s.err
	}
	return services.SweepReport{Tenants: 1, Items: 3, Raised: 1}, nil
}

func TestSweepSchedulerRunOnce(t *testing.T) {
	sweeper := &countingSweeper{}
	scheduler, err := NewSweepScheduler(sweeper, SweepSchedulerOptions{Timeout: time.Second})
	require.NoError(t, err)
	require.False(t, scheduler.Enabled())

	report, err := scheduler.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, report.Items)
	require.EqualValues(t, 1, sweeper.runs.Load())
}

func TestSweepSchedulerPropagatesSweepError(t *testing.T) {
	sweeper := &countingSweeper{err: errors.New("firestore unavailable")}
	scheduler, err := NewSweepScheduler(sweeper, SweepSchedulerOptions{})
	require.NoError(t, err)

	_, err = scheduler.RunOnce(context.Background())
	require.ErrorIs(t, err, sweeper.err)
}

func TestSweepSchedulerRejectsInvalidSchedule(t *testing.T) {
	_, err := NewSweepScheduler(&countingSweeper{}, SweepSchedulerOptions{Schedule: "every now and then"})
	require.Error(t, err)

	_, err = NewSweepScheduler(nil, SweepSchedulerOptions{})
	require.Error(t, err)
}

func TestSweepSchedulerRunsOnSchedule(t *testing.T) {
	sweeper := &countingSweeper{}
	scheduler, err := NewSweepScheduler(sweeper, SweepSchedulerOptions{Schedule: "@every 1s"})
	require.NoError(t, err)
	require.True(t, scheduler.Enabled())

	scheduler.Start()
	require.Eventually(t, func() bool { return sweeper.runs.Load() >= 1 }, 5*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, scheduler.Stop(ctx))
}

func TestSweepSchedulerDisabledStartStopAreNoops(t *testing.T) {
	sweeper := &countingSweeper{}
	scheduler, err := NewSweepScheduler(sweeper, SweepSchedulerOptions{Schedule: "  "})
	require.NoError(t, err)

	scheduler.Start()
	require.NoError(t, scheduler.Stop(context.Background()))
	require.Zero(t, sweeper.runs.Load())
}
