package api

import (
	"database/sql"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/agritrace/agritrace/internal/metrics"
	"github.com/agritrace/agritrace/internal/model"
	"github.com/agritrace/agritrace/internal/store"
)

// PurchasesHandler handles consumer retail endpoints.
type PurchasesHandler struct {
	DB      *sql.DB
	Metrics *metrics.Metrics
}

type purchaseRequest struct {
	BatchID        int64  `json:"batch_id"`
	Quantity       int64  `json:"quantity"`
	Payment        int64  `json:"payment"`
	PickupLocation string `json:"pickup_location"`
	Immediate      bool   `json:"immediate"`
}

// Create handles POST /api/purchases.
func (h *PurchasesHandler) Create(w http.ResponseWriter, r *http.Request) {
	gctx, ok := mustGate(w, r)
	if !ok {
		return
	}

	var req purchaseRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var p *model.ConsumerPurchase
	var err error
	if req.Immediate {
		p, err = store.PurchaseImmediate(r.Context(), h.DB, gctx, req.BatchID, req.Quantity, req.Payment)
	} else {
		p, err = store.Purchase(r.Context(), h.DB, gctx, req.BatchID, req.Quantity, req.Payment, req.PickupLocation)
	}
	if err != nil {
		storeError(w, err)
		return
	}

	if h.Metrics != nil {
		h.Metrics.RecordEvent(model.EventPurchaseCreated)
		h.Metrics.RecordSettlement(p.PurchasePrice)
	}
	slog.Info("purchase completed", "id", p.ID, "batch", p.BatchID, "consumer", gctx.Username, "price", p.PurchasePrice)
	jsonResponse(w, http.StatusCreated, p)
}

// ConfirmPickup handles POST /api/purchases/{id}/pickup.
func (h *PurchasesHandler) ConfirmPickup(w http.ResponseWriter, r *http.Request) {
	gctx, ok := mustGate(w, r)
	if !ok {
		return
	}
	id, idOK := pathID(r)
	if !idOK {
		jsonError(w, http.StatusBadRequest, "invalid purchase id")
		return
	}

	p, err := store.ConfirmPickup(r.Context(), h.DB, gctx, id)
	if err != nil {
		storeError(w, err)
		return
	}

	if h.Metrics != nil {
		h.Metrics.RecordEvent(model.EventProductPickedUp)
	}
	slog.Info("purchase picked up", "id", id)
	jsonResponse(w, http.StatusOK, p)
}

// Claim handles POST /api/purchases/{id}/claim.
func (h *PurchasesHandler) Claim(w http.ResponseWriter, r *http.Request) {
	gctx, ok := mustGate(w, r)
	if !ok {
		return
	}
	id, idOK := pathID(r)
	if !idOK {
		jsonError(w, http.StatusBadRequest, "invalid purchase id")
		return
	}

	p, err := store.ClaimOwnership(r.Context(), h.DB, gctx, id)
	if err != nil {
		storeError(w, err)
		return
	}

	if h.Metrics != nil {
		h.Metrics.RecordEvent(model.EventOwnershipClaimed)
	}
	slog.Info("purchase ownership claimed", "id", id)
	jsonResponse(w, http.StatusOK, p)
}

// Get handles GET /api/purchases/{id}.
func (h *PurchasesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid purchase id")
		return
	}

	p, err := store.GetPurchase(r.Context(), h.DB, id)
	if err != nil {
		storeError(w, err)
		return
	}
	if p == nil {
		jsonError(w, http.StatusNotFound, "purchase not found")
		return
	}
	jsonResponse(w, http.StatusOK, p)
}

// GetByReceipt handles GET /api/purchases/receipt/{receipt}.
func (h *PurchasesHandler) GetByReceipt(w http.ResponseWriter, r *http.Request) {
	receipt := r.PathValue("receipt")
	if receipt == "" {
		jsonError(w, http.StatusBadRequest, "receipt required")
		return
	}

	p, err := store.GetPurchaseByReceipt(r.Context(), h.DB, receipt)
	if err != nil {
		storeError(w, err)
		return
	}
	if p == nil {
		jsonError(w, http.StatusNotFound, "purchase not found")
		return
	}
	jsonResponse(w, http.StatusOK, p)
}

// List handles GET /api/purchases.
func (h *PurchasesHandler) List(w http.ResponseWriter, r *http.Request) {
	var filter store.PurchaseFilter
	if batch := r.URL.Query().Get("batch"); batch != "" {
		id, err := strconv.ParseInt(batch, 10, 64)
		if err != nil {
			jsonError(w, http.StatusBadRequest, "invalid batch id")
			return
		}
		filter.BatchID = id
	}
	if consumer := r.URL.Query().Get("consumer"); consumer != "" {
		id, err := strconv.ParseInt(consumer, 10, 64)
		if err != nil {
			jsonError(w, http.StatusBadRequest, "invalid consumer id")
			return
		}
		filter.ConsumerID = id
	}
	if retailer := r.URL.Query().Get("retailer"); retailer != "" {
		id, err := strconv.ParseInt(retailer, 10, 64)
		if err != nil {
			jsonError(w, http.StatusBadRequest, "invalid retailer id")
			return
		}
		filter.RetailerID = id
	}

	purchases, err := store.ListPurchases(r.Context(), h.DB, filter)
	if err != nil {
		storeError(w, err)
		return
	}
	if purchases == nil {
		purchases = []model.ConsumerPurchase{}
	}
	jsonResponse(w, http.StatusOK, purchases)
}
