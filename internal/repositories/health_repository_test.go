package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/vinylogix/api/internal/domain"
)

func waitOrDone(d time.Duration) func(context.Context) error {
	return func(ctx context.Context) error {
		select {
		case <-time.After(d):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func TestDependencyHealthRepository_Collect(t *testing.T) {
	ok := func(context.Context) error { return nil }
	tests := []struct {
		name       string
		checks     []DependencyCheck
		wantStatus string
		wantChecks map[string]string
		wantDetail map[string]string
	}{
		{
			name:       "all healthy",
			checks:     []DependencyCheck{{Name: "firestore", Check: waitOrDone(time.Millisecond)}, {Name: "pubsub", Check: ok}},
			wantStatus: domain.HealthStatusOK,
			wantChecks: map[string]string{"firestore": domain.HealthStatusOK, "pubsub": domain.HealthStatusOK},
		},
		{
			name: "failing probe degrades",
			checks: []DependencyCheck{
				{Name: "firestore", Check: ok},
				{Name: "pubsub", Check: func(context.Context) error { return errors.New("topic missing") }},
			},
			wantStatus: domain.HealthStatusDegraded,
			wantChecks: map[string]string{"firestore": domain.HealthStatusOK, "pubsub": domain.HealthStatusDegraded},
			wantDetail: map[string]string{"pubsub": "topic missing"},
		},
		{
			name: "timeout outranks degraded",
			checks: []DependencyCheck{
				{Name: "firestore", Timeout: 5 * time.Millisecond, Check: waitOrDone(time.Second)},
				{Name: "pubsub", Check: func(context.Context) error { return errors.New("topic missing") }},
			},
			wantStatus: domain.HealthStatusError,
			wantChecks: map[string]string{"firestore": domain.HealthStatusError, "pubsub": domain.HealthStatusDegraded},
			wantDetail: map[string]string{"firestore": "timeout"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			repo, err := NewDependencyHealthRepository(tc.checks)
			if err != nil {
				t.Fatalf("NewDependencyHealthRepository: %v", err)
			}
			report, err := repo.Collect(context.Background())
			if err != nil {
				t.Fatalf("Collect: %v", err)
			}
			if report.Status != tc.wantStatus {
				t.Fatalf("status %s, want %s", report.Status, tc.wantStatus)
			}
			if len(report.Checks) != len(tc.wantChecks) {
				t.Fatalf("got %d checks, want %d", len(report.Checks), len(tc.wantChecks))
			}
			for name, want := range tc.wantChecks {
				if got := report.Checks[name].Status; got != want {
					t.Errorf("%s status %s, want %s", name, got, want)
				}
			}
			for name, want := range tc.wantDetail {
				if got := report.Checks[name].Detail; got != want {
					t.Errorf("%s detail %q, want %q", name, got, want)
				}
			}
		})
	}
}

func TestDependencyHealthRepository_UsesClock(t *testing.T) {
	at := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	repo, err := NewDependencyHealthRepository(
		[]DependencyCheck{{Name: "firestore", Check: func(context.Context) error { return nil }}},
		WithDependencyClock(func() time.Time { return at }),
	)
	if err != nil {
		t.Fatalf("NewDependencyHealthRepository: %v", err)
	}
	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	check := report.Checks["firestore"]
	if !report.GeneratedAt.Equal(at) || !check.CheckedAt.Equal(at) || check.Latency != 0 {
		t.Fatalf("unexpected timing %+v generatedAt=%s", check, report.GeneratedAt)
	}
}

func TestDependencyHealthRepository_DefaultTimeoutApplies(t *testing.T) {
	repo, err := NewDependencyHealthRepository(
		[]DependencyCheck{{Name: "firestore", Check: func(ctx context.Context) error {
			<-ctx.Done()
			return nil
		}}},
		WithDependencyTimeout(5*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("NewDependencyHealthRepository: %v", err)
	}
	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if report.Checks["firestore"].Detail != "timeout" {
		t.Fatalf("a probe returning nil after its deadline must still time out, got %+v", report.Checks["firestore"])
	}
}

func TestNewDependencyHealthRepository_Validation(t *testing.T) {
	noop := func(context.Context) error { return nil }
	cases := map[string][]DependencyCheck{
		"empty":     nil,
		"unnamed":   {{Name: " ", Check: noop}},
		"no func":   {{Name: "firestore"}},
		"duplicate": {{Name: "firestore", Check: noop}, {Name: "firestore ", Check: noop}},
	}
	for name, checks := range cases {
		if _, err := NewDependencyHealthRepository(checks); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}
