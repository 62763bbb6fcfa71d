package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/vinylogix/api/internal/platform/requestctx"
)

func TestEventLoggerPrefersRequestLogger(t *testing.T) {
	fallbackCore, fallbackLogs := observer.New(zapcore.InfoLevel)
	requestCore, requestLogs := observer.New(zapcore.InfoLevel)
	log := EventLogger(zap.New(fallbackCore))

	log(context.Background(), "order.created", map[string]any{"orderId": "ord_1"})
	ctx := requestctx.WithLogger(context.Background(), zap.New(requestCore))
	log(ctx, "order.shipment_notice.dropped", map[string]any{"orderId": "ord_2"})

	if fallbackLogs.Len() != 1 || requestLogs.Len() != 1 {
		t.Fatalf("expected one entry per logger, got %d/%d", fallbackLogs.Len(), requestLogs.Len())
	}
	entry := requestLogs.All()[0]
	if entry.Level != zapcore.WarnLevel {
		t.Fatalf("dropped events should warn, got %s", entry.Level)
	}
	if entry.ContextMap()["orderId"] != "ord_2" || entry.ContextMap()["event"] != "order.shipment_notice.dropped" {
		t.Fatalf("unexpected fields %v", entry.ContextMap())
	}
}

func TestCloudTraceHeaderRoundTrip(t *testing.T) {
	spanCtx, ok := parseCloudTraceContext("105445aa7843bc8bf206b12000100000/1;o=1")
	if !ok {
		t.Fatalf("expected header to parse")
	}
	if !spanCtx.IsSampled() || spanCtx.TraceID().String() != "105445aa7843bc8bf206b12000100000" {
		t.Fatalf("unexpected span context %+v", spanCtx)
	}
	header := formatCloudTraceHeader(requestctx.TraceInfo{
		TraceID: spanCtx.TraceID().String(),
		SpanID:  spanCtx.SpanID().String(),
		Sampled: true,
	})
	if header != "105445aa7843bc8bf206b12000100000/1;o=1" {
		t.Fatalf("unexpected header %q", header)
	}

	for _, bad := range []string{"", "nope", "zz/1", "105445aa7843bc8bf206b12000100000/abc"} {
		if _, ok := parseCloudTraceContext(bad); ok {
			t.Errorf("expected %q to be rejected", bad)
		}
	}
}

func TestTenantMiddlewareAnnotatesContext(t *testing.T) {
	var seen string
	router := chi.NewRouter()
	router.Route("/tenants/{tenantID}", func(r chi.Router) {
		r.Use(TenantMiddleware)
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			seen = requestctx.Tenant(r.Context())
		})
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tenants/shop-1/", nil))
	if seen != "shop-1" {
		t.Fatalf("expected tenant on context, got %q", seen)
	}
}

func TestRecoveryMiddlewareWritesJSON(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	handler := RecoveryMiddleware(zap.New(core))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if logs.Len() != 1 {
		t.Fatalf("expected panic to be logged")
	}
}

func TestNewLedgerMetricsRecords(t *testing.T) {
	metrics, err := NewLedgerMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewLedgerMetrics: %v", err)
	}
	metrics.StockMutated(context.Background(), "deduct", 2)
	metrics.AlertsChanged(context.Background(), 1, 0)
	metrics.NoticeDelivered(context.Background(), false)
}

func TestSanitizeStripsControlCharacters(t *testing.T) {
	if got := SanitizeTenantID("shop\n-1\x00"); got != "shop-1" {
		t.Fatalf("unexpected sanitised tenant %q", got)
	}
	if got := SanitizeRoute(""); got != "/" {
		t.Fatalf("expected root route, got %q", got)
	}
	if got := SanitizeMethod("DELETE\tEXTRA"); got != "DELETEEXTR" {
		t.Fatalf("expected method clipped to 10 runes, got %q", got)
	}
}

func TestNewLoggerFallsBackToInfo(t *testing.T) {
	logger, err := NewLogger(LoggerOptions{Level: "chatty", Service: "ledger-api"})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	if logger.Core().Enabled(zapcore.DebugLevel) || !logger.Core().Enabled(zapcore.InfoLevel) {
		t.Fatalf("expected info level")
	}
}
