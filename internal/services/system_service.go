package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/vinylogix/api/internal/domain"
	"github.com/vinylogix/api/internal/repositories"
)

const (
	notifierCheckName = "shipmentQueue"
	// The notifier reports degraded once this share of its slots is taken.
	notifierSaturation = 0.9
)

// BuildInfo is the release metadata echoed by the probes.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// NoticeBacklog exposes the fill level of the shipment notice queue.
type NoticeBacklog interface {
	Backlog() (queued, capacity int)
}

// SystemServiceDeps bundles collaborators required to construct a system service.
type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	Notifier         NoticeBacklog
	Clock            func() time.Time
	Build            BuildInfo
}

type systemService struct {
	health   repositories.HealthRepository
	notifier NoticeBacklog
	now      func() time.Time
	build    BuildInfo
}

var _ SystemService = (*systemService)(nil)

// NewSystemService builds the readiness reporter over the dependency probes.
func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	build := deps.Build
	if build.StartedAt.IsZero() {
		build.StartedAt = clock()
	}
	return &systemService{
		health:   deps.HealthRepository,
		notifier: deps.Notifier,
		now:      func() time.Time { return clock().UTC() },
		build:    build,
	}, nil
}

// HealthReport collects the dependency probes, adds the notifier backlog and fills release metadata
// the probes left empty. Status is the worst status among the checks.
func (s *systemService) HealthReport(ctx context.Context) (SystemHealthReport, error) {
	if ctx == nil {
		return SystemHealthReport{}, errors.New("system service: context is required")
	}
	report, err := s.health.Collect(ctx)
	if err != nil {
		return SystemHealthReport{}, err
	}

	now := s.now()
	checks := make(map[string]domain.SystemHealthCheck, len(report.Checks)+1)
	for name, check := range report.Checks {
		checks[name] = check
	}
	if s.notifier != nil {
		checks[notifierCheckName] = backlogCheck(s.notifier, now)
	}
	report.Checks = checks

	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = now
	} else {
		report.GeneratedAt = report.GeneratedAt.UTC()
	}
	report.Version = firstNonBlank(report.Version, s.build.Version)
	report.CommitSHA = firstNonBlank(report.CommitSHA, s.build.CommitSHA)
	report.Environment = firstNonBlank(report.Environment, s.build.Environment)
	if report.Uptime <= 0 {
		report.Uptime = now.Sub(s.build.StartedAt)
	}
	report.Status = worstStatus(report.Status, checks)
	return report, nil
}

func backlogCheck(backlog NoticeBacklog, now time.Time) domain.SystemHealthCheck {
	queued, capacity := backlog.Backlog()
	check := domain.SystemHealthCheck{
		Status:    domain.HealthStatusOK,
		Detail:    fmt.Sprintf("%d/%d queued", queued, capacity),
		CheckedAt: now,
	}
	if capacity > 0 && float64(queued) >= notifierSaturation*float64(capacity) {
		check.Status = domain.HealthStatusDegraded
		check.Error = "shipment notice queue is nearly full"
	}
	return check
}

func statusRank(status string) int {
	switch status {
	case domain.HealthStatusError:
		return 2
	case domain.HealthStatusDegraded:
		return 1
	default:
		return 0
	}
}

func worstStatus(reported string, checks map[string]domain.SystemHealthCheck) string {
	worst := strings.TrimSpace(reported)
	if worst == "" {
		worst = domain.HealthStatusOK
	}
	for _, check := range checks {
		if statusRank(check.Status) > statusRank(worst) {
			worst = check.Status
		}
	}
	return worst
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
