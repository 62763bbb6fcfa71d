package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/vinylogix/api/internal/platform/httpx"
	"github.com/vinylogix/api/internal/services"
)

// writeServiceError maps service sentinels onto the JSON error envelope.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	var shortfall *services.InsufficientStockError
	if errors.As(err, &shortfall) {
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", err.Error(), http.StatusConflict).WithDetails(map[string]any{
			"item_id":   shortfall.ItemID,
			"available": shortfall.Available,
			"requested": shortfall.Requested,
		}))
		return
	}

	var apiErr httpx.Error
	if errors.As(err, &apiErr) {
		httpx.WriteError(ctx, w, apiErr)
		return
	}

	switch {
	case errors.Is(err, services.ErrItemNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("item_not_found", err.Error(), http.StatusNotFound))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrTenantNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("tenant_not_found", "tenant not found", http.StatusNotFound))
	case errors.Is(err, services.ErrPermissionDenied):
		httpx.WriteError(ctx, w, httpx.NewError("permission_denied", "resource belongs to another tenant", http.StatusForbidden))
	case errors.Is(err, services.ErrInsufficientStock):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrTenantAlreadyExists):
		httpx.WriteError(ctx, w, httpx.NewError("tenant_exists", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrNegativeStockAdjustment):
		httpx.WriteError(ctx, w, httpx.NewError("negative_stock_adjustment", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrLedgerInvalidInput),
		errors.Is(err, services.ErrOrderInvalidInput),
		errors.Is(err, services.ErrTenantInvalidInput),
		errors.Is(err, services.ErrAllocatorInvalidInput),
		errors.Is(err, services.ErrAlertInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrAllocatorNotConfigured):
		httpx.WriteError(ctx, w, httpx.NewError("order_numbering_not_configured", err.Error(), http.StatusServiceUnavailable))
	case errors.Is(err, services.ErrAllocatorUnavailable), errors.Is(err, services.ErrLedgerUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", err.Error(), http.StatusServiceUnavailable))
	case errors.Is(err, context.DeadlineExceeded):
		httpx.WriteError(ctx, w, httpx.NewError("timeout", "request timed out", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "failed to process request", http.StatusInternalServerError))
	}
}

func serviceUnavailable(ctx context.Context, w http.ResponseWriter, name string) {
	httpx.WriteError(ctx, w, httpx.NewError(name+"_service_unavailable", name+" service unavailable", http.StatusServiceUnavailable))
}
