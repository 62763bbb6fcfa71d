package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/vinylogix/api/internal/services"
)

// Sweeper runs one low-stock reconciliation pass.
type Sweeper interface {
	Sweep(ctx context.Context) (services.SweepReport, error)
}

// SweepSchedulerOptions configures the periodic low-stock sweep.
type SweepSchedulerOptions struct {
	// Schedule is a robfig/cron spec such as "@every 15m". Empty disables the scheduler.
	Schedule string
	// Timeout bounds a single sweep run.
	Timeout time.Duration
	Logger  *zap.Logger
}

// SweepScheduler triggers Sweeper.Sweep on a cron schedule. Overlapping runs are skipped.
type SweepScheduler struct {
	cron    *cron.Cron
	sweeper Sweeper
	timeout time.Duration
	logger  *zap.Logger
	enabled bool
}

// NewSweepScheduler validates the schedule and registers the sweep job. Call Start to begin.
func NewSweepScheduler(sweeper Sweeper, opts SweepSchedulerOptions) (*SweepScheduler, error) {
	if sweeper == nil {
		return nil, errors.New("sweep scheduler: sweeper is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	cronLogger := zapCronLogger{logger: logger.Sugar()}
	s := &SweepScheduler{
		cron: cron.New(cron.WithChain(
			cron.Recover(cronLogger),
			cron.SkipIfStillRunning(cronLogger),
		)),
		sweeper: sweeper,
		timeout: timeout,
		logger:  logger,
	}

	spec := strings.TrimSpace(opts.Schedule)
	if spec == "" {
		return s, nil
	}
	if _, err := s.cron.AddFunc(spec, func() { _, _ = s.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("sweep scheduler: invalid schedule %q: %w", spec, err)
	}
	s.enabled = true
	return s, nil
}

// Enabled reports whether a schedule was configured.
func (s *SweepScheduler) Enabled() bool {
	return s != nil && s.enabled
}

// Start begins running scheduled sweeps in the background.
func (s *SweepScheduler) Start() {
	if !s.Enabled() {
		return
	}
	s.cron.Start()
	s.logger.Info("low stock sweep scheduled", zap.Int("jobs", len(s.cron.Entries())))
}

// Stop prevents new runs and waits for a running sweep or ctx, whichever ends first.
func (s *SweepScheduler) Stop(ctx context.Context) error {
	if !s.Enabled() {
		return nil
	}
	done := s.cron.Stop().Done()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce performs a single sweep bounded by the configured timeout.
func (s *SweepScheduler) RunOnce(ctx context.Context) (services.SweepReport, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	report, err := s.sweeper.Sweep(ctx)
	if err != nil {
		s.logger.Error("low stock sweep failed", zap.Error(err))
		return services.SweepReport{}, err
	}
	s.logger.Info("low stock sweep completed",
		zap.Int("tenants", report.Tenants),
		zap.Int("items", report.Items),
		zap.Int("raised", report.Raised),
		zap.Int("resolved", report.Resolved),
		zap.Int("failures", report.Failures),
		zap.Duration("duration", report.Duration),
	)
	return report, nil
}

type zapCronLogger struct {
	logger *zap.SugaredLogger
}

func (l zapCronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l zapCronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
