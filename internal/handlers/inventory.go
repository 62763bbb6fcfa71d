package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/vinylogix/api/internal/platform/httpx"
	"github.com/vinylogix/api/internal/platform/requestctx"
	"github.com/vinylogix/api/internal/services"
)

const maxMovementPageSize = 200

// InventoryHandlers exposes the stock ledger and low-stock alerts to catalog and operators.
type InventoryHandlers struct {
	ledger services.StockLedgerService
	alerts services.LowStockDeduplicator
}

// NewInventoryHandlers constructs inventory endpoints.
func NewInventoryHandlers(ledger services.StockLedgerService, alerts services.LowStockDeduplicator) *InventoryHandlers {
	return &InventoryHandlers{ledger: ledger, alerts: alerts}
}

// Routes registers endpoints relative to /tenants/{tenantID}.
func (h *InventoryHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/items", h.listItems)
	r.Put("/items/{itemID}", h.registerItem)
	r.Get("/items/{itemID}", h.getItem)
	r.Post("/items/{itemID}:adjust", h.adjustItem)
	r.Get("/items/{itemID}/movements", h.listMovements)
	r.Post("/availability", h.checkAvailability)
	r.Get("/low-stock-alerts", h.listAlerts)
}

type registerItemRequest struct {
	IsSellable       bool     `json:"is_sellable"`
	ShelfQuantity    int      `json:"shelf_quantity"`
	StorageQuantity  int      `json:"storage_quantity"`
	ShelfLocations   []string `json:"shelf_locations"`
	StorageLocations []string `json:"storage_locations"`
}

type adjustItemRequest struct {
	ShelfDelta       int      `json:"shelf_delta"`
	StorageDelta     int      `json:"storage_delta"`
	ShelfLocations   []string `json:"shelf_locations"`
	StorageLocations []string `json:"storage_locations"`
	Actor            string   `json:"actor"`
}

type stockLineRequest struct {
	ItemID   string `json:"item_id"`
	Quantity int    `json:"quantity"`
}

type availabilityRequest struct {
	Lines []stockLineRequest `json:"lines"`
}

type itemPayload struct {
	ID               string   `json:"id"`
	ShelfQuantity    int      `json:"shelf_quantity"`
	StorageQuantity  int      `json:"storage_quantity"`
	Total            int      `json:"total"`
	ShelfLocations   []string `json:"shelf_locations"`
	StorageLocations []string `json:"storage_locations"`
	IsSellable       bool     `json:"is_sellable"`
	UpdatedAt        string   `json:"updated_at,omitempty"`
}

type movementPayload struct {
	ID           string `json:"id"`
	Reason       string `json:"reason"`
	ShelfDelta   int    `json:"shelf_delta"`
	StorageDelta int    `json:"storage_delta"`
	Reference    string `json:"reference,omitempty"`
	CreatedAt    string `json:"created_at"`
}

type alertPayload struct {
	ID        string `json:"id"`
	ItemID    string `json:"item_id"`
	Total     int    `json:"total"`
	Threshold int    `json:"threshold"`
	CreatedAt string `json:"created_at"`
}

func (h *InventoryHandlers) listItems(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.ledger == nil {
		serviceUnavailable(ctx, w, "inventory")
		return
	}
	items, err := h.ledger.ListItems(ctx, requestctx.Tenant(ctx))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	payload := make([]itemPayload, 0, len(items))
	for _, item := range items {
		payload = append(payload, buildItemPayload(item))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": payload})
}

func (h *InventoryHandlers) registerItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.ledger == nil {
		serviceUnavailable(ctx, w, "inventory")
		return
	}

	var req registerItemRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	item, err := h.ledger.RegisterItem(ctx, services.RegisterItemCommand{
		TenantID:         requestctx.Tenant(ctx),
		ItemID:           chi.URLParam(r, "itemID"),
		IsSellable:       req.IsSellable,
		ShelfQuantity:    req.ShelfQuantity,
		StorageQuantity:  req.StorageQuantity,
		ShelfLocations:   req.ShelfLocations,
		StorageLocations: req.StorageLocations,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"item": buildItemPayload(item)})
}

func (h *InventoryHandlers) getItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.ledger == nil {
		serviceUnavailable(ctx, w, "inventory")
		return
	}
	item, err := h.ledger.GetItem(ctx, requestctx.Tenant(ctx), chi.URLParam(r, "itemID"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"item": buildItemPayload(item)})
}

func (h *InventoryHandlers) adjustItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.ledger == nil {
		serviceUnavailable(ctx, w, "inventory")
		return
	}

	var req adjustItemRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	item, err := h.ledger.Adjust(ctx, services.StockAdjustCommand{
		TenantID:         requestctx.Tenant(ctx),
		ItemID:           chi.URLParam(r, "itemID"),
		ShelfDelta:       req.ShelfDelta,
		StorageDelta:     req.StorageDelta,
		ShelfLocations:   req.ShelfLocations,
		StorageLocations: req.StorageLocations,
		Actor:            strings.TrimSpace(req.Actor),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"item": buildItemPayload(item)})
}

func (h *InventoryHandlers) listMovements(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.ledger == nil {
		serviceUnavailable(ctx, w, "inventory")
		return
	}

	limit, ok := parseLimit(r, maxMovementPageSize)
	if !ok {
		httpx.WriteError(ctx, w, httpx.BadRequest("limit must be an integer"))
		return
	}

	movements, err := h.ledger.ListMovements(ctx, requestctx.Tenant(ctx), chi.URLParam(r, "itemID"), limit)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	payload := make([]movementPayload, 0, len(movements))
	for _, m := range movements {
		payload = append(payload, movementPayload{
			ID:           m.ID,
			Reason:       string(m.Reason),
			ShelfDelta:   m.ShelfDelta,
			StorageDelta: m.StorageDelta,
			Reference:    m.Reference,
			CreatedAt:    formatTimestamp(m.CreatedAt),
		})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"movements": payload})
}

func (h *InventoryHandlers) checkAvailability(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.ledger == nil {
		serviceUnavailable(ctx, w, "inventory")
		return
	}

	var req availabilityRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	lines := make([]services.StockLine, 0, len(req.Lines))
	for _, line := range req.Lines {
		lines = append(lines, services.StockLine{ItemID: strings.TrimSpace(line.ItemID), Quantity: line.Quantity})
	}

	if err := h.ledger.CheckAvailability(ctx, requestctx.Tenant(ctx), lines); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"available": true})
}

func (h *InventoryHandlers) listAlerts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.alerts == nil {
		serviceUnavailable(ctx, w, "alerts")
		return
	}
	alerts, err := h.alerts.ListOpen(ctx, requestctx.Tenant(ctx))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	payload := make([]alertPayload, 0, len(alerts))
	for _, alert := range alerts {
		payload = append(payload, alertPayload{
			ID:        alert.ID,
			ItemID:    alert.ItemID,
			Total:     alert.Total,
			Threshold: alert.Threshold,
			CreatedAt: formatTimestamp(alert.CreatedAt),
		})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"alerts": payload})
}

func buildItemPayload(item services.Item) itemPayload {
	return itemPayload{
		ID:               item.ID,
		ShelfQuantity:    item.ShelfQuantity,
		StorageQuantity:  item.StorageQuantity,
		Total:            item.Total(),
		ShelfLocations:   nonNilStrings(item.ShelfLocations),
		StorageLocations: nonNilStrings(item.StorageLocations),
		IsSellable:       item.IsSellable,
		UpdatedAt:        formatTimestamp(item.UpdatedAt),
	}
}

// parseLimit reads ?limit=, returning 0 when absent and clamping to maxLimit.
func parseLimit(r *http.Request, maxLimit int) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	switch {
	case limit < 0:
		return 0, true
	case limit > maxLimit:
		return maxLimit, true
	}
	return limit, true
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
