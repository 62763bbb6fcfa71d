package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	domain "github.com/vinylogix/api/internal/domain"
	"github.com/vinylogix/api/internal/services"
)

type fakeSystem struct {
	report services.SystemHealthReport
	err    error
	calls  int
}

func (f *fakeSystem) HealthReport(ctx context.Context) (services.SystemHealthReport, error) {
	f.calls++
	if _, ok := ctx.Deadline(); !ok {
		return services.SystemHealthReport{}, errors.New("readiness probe ran without a deadline")
	}
	return f.report, f.err
}

var _ services.SystemService = (*fakeSystem)(nil)

var probeTime = time.Date(2025, 3, 14, 8, 0, 0, 0, time.UTC)

func decodeProbe(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return body
}

func TestHealthz_EchoesBuildAndUptime(t *testing.T) {
	h := NewHealthHandlers(
		WithHealthBuildInfo(services.BuildInfo{
			Version:     "2.3.1",
			CommitSHA:   "f00dcafe",
			Environment: "staging",
			StartedAt:   probeTime.Add(-90 * time.Second),
		}),
		WithHealthClock(func() time.Time { return probeTime }),
	)

	rr := httptest.NewRecorder()
	h.Healthz(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status %d", rr.Code)
	}
	body := decodeProbe(t, rr)
	want := map[string]string{
		"status":      domain.HealthStatusOK,
		"version":     "2.3.1",
		"commitSha":   "f00dcafe",
		"environment": "staging",
		"uptime":      "1m30s",
		"timestamp":   "2025-03-14T08:00:00Z",
	}
	for field, value := range want {
		if body[field] != value {
			t.Errorf("%s = %v, want %q", field, body[field], value)
		}
	}
}

func TestReadyz(t *testing.T) {
	tests := []struct {
		name       string
		system     *fakeSystem
		wantStatus int
		wantBody   string
		wantCode   string
		wantDetail []any
	}{
		{
			name:       "no system service",
			wantStatus: http.StatusOK,
			wantBody:   domain.HealthStatusOK,
		},
		{
			name: "all checks ok",
			system: &fakeSystem{report: services.SystemHealthReport{
				Status: domain.HealthStatusOK,
				Checks: map[string]domain.SystemHealthCheck{
					"firestore": {Status: domain.HealthStatusOK, Latency: 12 * time.Millisecond, CheckedAt: probeTime},
					"pubsub":    {Status: domain.HealthStatusOK},
				},
			}},
			wantStatus: http.StatusOK,
			wantBody:   domain.HealthStatusOK,
		},
		{
			name: "degraded dependency",
			system: &fakeSystem{report: services.SystemHealthReport{
				Status: domain.HealthStatusDegraded,
				Checks: map[string]domain.SystemHealthCheck{
					"firestore": {Status: domain.HealthStatusOK},
					"pubsub":    {Status: domain.HealthStatusDegraded, Error: "topic missing"},
				},
			}},
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   domain.HealthStatusDegraded,
			wantDetail: []any{"pubsub: topic missing"},
		},
		{
			name:       "report failure",
			system:     &fakeSystem{err: errors.New("registry closed")},
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   "health_check_failed",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			opts := []HealthOption{WithHealthClock(func() time.Time { return probeTime })}
			if tc.system != nil {
				opts = append(opts, WithHealthSystemService(tc.system), WithHealthReadyTimeout(time.Second))
			}
			rr := httptest.NewRecorder()
			NewHealthHandlers(opts...).Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

			if rr.Code != tc.wantStatus {
				t.Fatalf("status %d, want %d", rr.Code, tc.wantStatus)
			}
			body := decodeProbe(t, rr)
			if tc.wantCode != "" {
				if body["error"] != tc.wantCode {
					t.Fatalf("error = %v, want %s", body["error"], tc.wantCode)
				}
				return
			}
			if body["status"] != tc.wantBody {
				t.Fatalf("status field = %v, want %s", body["status"], tc.wantBody)
			}
			if tc.wantDetail == nil {
				if _, ok := body["details"]; ok {
					t.Fatalf("unexpected details %v", body["details"])
				}
				return
			}
			details, _ := body["details"].([]any)
			if len(details) != len(tc.wantDetail) || details[0] != tc.wantDetail[0] {
				t.Fatalf("details = %v, want %v", details, tc.wantDetail)
			}
		})
	}
}

func TestReadyz_ReportsCheckLatency(t *testing.T) {
	system := &fakeSystem{report: services.SystemHealthReport{
		Status: domain.HealthStatusOK,
		Checks: map[string]domain.SystemHealthCheck{
			"firestore": {Status: domain.HealthStatusOK, Latency: 42 * time.Millisecond, CheckedAt: probeTime},
		},
	}}
	rr := httptest.NewRecorder()
	NewHealthHandlers(WithHealthSystemService(system)).Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	var body struct {
		Checks map[string]struct {
			LatencyMS int64  `json:"latencyMs"`
			CheckedAt string `json:"checkedAt"`
		} `json:"checks"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	check := body.Checks["firestore"]
	if check.LatencyMS != 42 || check.CheckedAt != "2025-03-14T08:00:00Z" {
		t.Fatalf("unexpected check %+v", check)
	}
	if system.calls != 1 {
		t.Fatalf("expected one report, got %d", system.calls)
	}
}
