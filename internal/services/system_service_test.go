package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/vinylogix/api/internal/domain"
)

type fakeHealthRepository struct {
	report domain.SystemHealthReport
	err    error
}

func (f *fakeHealthRepository) Collect(context.Context) (domain.SystemHealthReport, error) {
	return f.report, f.err
}

type fixedBacklog struct{ queued, capacity int }

func (b fixedBacklog) Backlog() (int, int) { return b.queued, b.capacity }

func TestSystemService_FillsReleaseMetadata(t *testing.T) {
	started := time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC)
	now := started.Add(3 * time.Hour)
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: &fakeHealthRepository{report: domain.SystemHealthReport{
			Checks: map[string]domain.SystemHealthCheck{"firestore": {Status: domain.HealthStatusOK}},
		}},
		Clock: func() time.Time { return now },
		Build: BuildInfo{Version: "0.9.0", CommitSHA: "beef", Environment: "dev", StartedAt: started},
	})
	require.NoError(t, err)

	report, err := svc.HealthReport(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.HealthStatusOK, report.Status)
	assert.Equal(t, "0.9.0", report.Version)
	assert.Equal(t, "beef", report.CommitSHA)
	assert.Equal(t, "dev", report.Environment)
	assert.Equal(t, 3*time.Hour, report.Uptime)
	assert.Equal(t, now, report.GeneratedAt)
	assert.NotContains(t, report.Checks, notifierCheckName)
}

func TestSystemService_StatusIsWorstCheck(t *testing.T) {
	tests := []struct {
		name     string
		reported string
		checks   map[string]domain.SystemHealthCheck
		want     string
	}{
		{"no checks", "", nil, domain.HealthStatusOK},
		{"degraded wins over ok", "", map[string]domain.SystemHealthCheck{
			"firestore": {Status: domain.HealthStatusOK},
			"pubsub":    {Status: domain.HealthStatusDegraded},
		}, domain.HealthStatusDegraded},
		{"error wins over degraded", domain.HealthStatusDegraded, map[string]domain.SystemHealthCheck{
			"firestore": {Status: domain.HealthStatusError},
			"pubsub":    {Status: domain.HealthStatusDegraded},
		}, domain.HealthStatusError},
		{"reported status is kept when checks are healthy", domain.HealthStatusDegraded, map[string]domain.SystemHealthCheck{
			"firestore": {Status: domain.HealthStatusOK},
		}, domain.HealthStatusDegraded},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc, err := NewSystemService(SystemServiceDeps{HealthRepository: &fakeHealthRepository{
				report: domain.SystemHealthReport{Status: tc.reported, Checks: tc.checks},
			}})
			require.NoError(t, err)
			report, err := svc.HealthReport(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tc.want, report.Status)
		})
	}
}

func TestSystemService_NotifierBacklog(t *testing.T) {
	tests := []struct {
		name       string
		backlog    fixedBacklog
		wantStatus string
		wantDetail string
	}{
		{"idle", fixedBacklog{0, 256}, domain.HealthStatusOK, "0/256 queued"},
		{"busy", fixedBacklog{200, 256}, domain.HealthStatusOK, "200/256 queued"},
		{"saturated", fixedBacklog{240, 256}, domain.HealthStatusDegraded, "240/256 queued"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc, err := NewSystemService(SystemServiceDeps{
				HealthRepository: &fakeHealthRepository{report: domain.SystemHealthReport{
					Checks: map[string]domain.SystemHealthCheck{"firestore": {Status: domain.HealthStatusOK}},
				}},
				Notifier: tc.backlog,
			})
			require.NoError(t, err)

			report, err := svc.HealthReport(context.Background())
			require.NoError(t, err)
			check := report.Checks[notifierCheckName]
			assert.Equal(t, tc.wantStatus, check.Status)
			assert.Equal(t, tc.wantDetail, check.Detail)
			assert.Equal(t, tc.wantStatus, report.Status)
		})
	}
}

func TestSystemService_DoesNotMutateCollectedChecks(t *testing.T) {
	collected := map[string]domain.SystemHealthCheck{"firestore": {Status: domain.HealthStatusOK}}
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: &fakeHealthRepository{report: domain.SystemHealthReport{Checks: collected}},
		Notifier:         fixedBacklog{1, 10},
	})
	require.NoError(t, err)

	_, err = svc.HealthReport(context.Background())
	require.NoError(t, err)
	assert.Len(t, collected, 1)
}

func TestSystemService_Errors(t *testing.T) {
	_, err := NewSystemService(SystemServiceDeps{})
	require.Error(t, err)

	boom := errors.New("collect failed")
	svc, err := NewSystemService(SystemServiceDeps{HealthRepository: &fakeHealthRepository{err: boom}})
	require.NoError(t, err)
	_, err = svc.HealthReport(context.Background())
	require.ErrorIs(t, err, boom)
}
