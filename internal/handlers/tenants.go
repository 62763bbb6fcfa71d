package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vinylogix/api/internal/platform/httpx"
	"github.com/vinylogix/api/internal/platform/requestctx"
	"github.com/vinylogix/api/internal/services"
)

// TenantHandlers exposes tenant provisioning and alert settings.
type TenantHandlers struct {
	tenants services.TenantService
}

// NewTenantHandlers constructs tenant endpoints.
func NewTenantHandlers(tenants services.TenantService) *TenantHandlers {
	return &TenantHandlers{tenants: tenants}
}

// Routes registers endpoints relative to /tenants/{tenantID}.
func (h *TenantHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Put("/", h.setupTenant)
	r.Get("/", h.getTenant)
	r.Patch("/alert-settings", h.updateAlertSettings)
}

type setupTenantRequest struct {
	DisplayName       string `json:"display_name"`
	Prefix            string `json:"prefix"`
	LowStockThreshold *int   `json:"low_stock_threshold"`
	AlertsDisabled    bool   `json:"alerts_disabled"`
}

type alertSettingsRequest struct {
	Threshold *int  `json:"threshold"`
	Enabled   *bool `json:"enabled"`
}

type tenantPayload struct {
	ID                    string `json:"id"`
	DisplayName           string `json:"display_name,omitempty"`
	LowStockThreshold     int    `json:"low_stock_threshold"`
	LowStockAlertsEnabled bool   `json:"low_stock_alerts_enabled"`
	OrderNumberPrefix     string `json:"order_number_prefix,omitempty"`
	OrderNumberPadding    int    `json:"order_number_padding,omitempty"`
	CreatedAt             string `json:"created_at,omitempty"`
	UpdatedAt             string `json:"updated_at,omitempty"`
}

func (h *TenantHandlers) setupTenant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.tenants == nil {
		serviceUnavailable(ctx, w, "tenant")
		return
	}

	var req setupTenantRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	setup, err := h.tenants.SetupTenant(ctx, services.SetupTenantCommand{
		TenantID:          requestctx.Tenant(ctx),
		DisplayName:       req.DisplayName,
		Prefix:            req.Prefix,
		LowStockThreshold: req.LowStockThreshold,
		AlertsDisabled:    req.AlertsDisabled,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	payload := buildTenantPayload(setup.Settings)
	payload.OrderNumberPrefix = setup.Counter.Prefix
	payload.OrderNumberPadding = setup.Counter.Padding
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{"tenant": payload})
}

func (h *TenantHandlers) getTenant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.tenants == nil {
		serviceUnavailable(ctx, w, "tenant")
		return
	}
	settings, err := h.tenants.GetTenant(ctx, requestctx.Tenant(ctx))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"tenant": buildTenantPayload(settings)})
}

func (h *TenantHandlers) updateAlertSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.tenants == nil {
		serviceUnavailable(ctx, w, "tenant")
		return
	}

	var req alertSettingsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	if req.Threshold == nil || req.Enabled == nil {
		httpx.WriteError(ctx, w, httpx.BadRequest("threshold and enabled are required"))
		return
	}

	settings, err := h.tenants.UpdateAlertSettings(ctx, services.UpdateAlertSettingsCommand{
		TenantID:  requestctx.Tenant(ctx),
		Threshold: *req.Threshold,
		Enabled:   *req.Enabled,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"tenant": buildTenantPayload(settings)})
}

func buildTenantPayload(settings services.TenantSettings) tenantPayload {
	return tenantPayload{
		ID:                    settings.TenantID,
		DisplayName:           strings.TrimSpace(settings.DisplayName),
		LowStockThreshold:     settings.LowStockThreshold,
		LowStockAlertsEnabled: settings.LowStockAlertsEnabled,
		CreatedAt:             formatTimestamp(settings.CreatedAt),
		UpdatedAt:             formatTimestamp(settings.UpdatedAt),
	}
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
