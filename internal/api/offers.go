package api

import (
	"database/sql"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/agritrace/agritrace/internal/metrics"
	"github.com/agritrace/agritrace/internal/model"
	"github.com/agritrace/agritrace/internal/store"
)

// OffersHandler handles negotiation endpoints.
type OffersHandler struct {
	DB      *sql.DB
	Metrics *metrics.Metrics
}

type createOfferRequest struct {
	BatchID        int64  `json:"batch_id"`
	CounterpartyID int64  `json:"counterparty_id"`
	Type           string `json:"type"`
	PricePerUnit   int64  `json:"price_per_unit"`
	Quantity       int64  `json:"quantity"`
	TermsHash      string `json:"terms_hash"`
	ExpiresAt      string `json:"expires_at"` // RFC 3339
}

// Create handles POST /api/offers.
func (h *OffersHandler) Create(w http.ResponseWriter, r *http.Request) {
	gctx, ok := mustGate(w, r)
	if !ok {
		return
	}

	var req createOfferRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	expiresAt, err := time.Parse(time.RFC3339, req.ExpiresAt)
	if err != nil {
		jsonError(w, http.StatusBadRequest, "expires_at must be RFC 3339")
		return
	}

	offer, err := store.CreateOffer(r.Context(), h.DB, gctx, store.CreateOfferParams{
		BatchID:        req.BatchID,
		CounterpartyID: req.CounterpartyID,
		Type:           req.Type,
		PricePerUnit:   req.PricePerUnit,
		Quantity:       req.Quantity,
		TermsHash:      req.TermsHash,
		ExpiresAt:      expiresAt,
	})
	if err != nil {
		storeError(w, err)
		return
	}

	if h.Metrics != nil {
		h.Metrics.RecordEvent(model.EventOfferCreated)
	}
	slog.Info("offer created", "id", offer.ID, "batch", offer.BatchID, "type", offer.Type)
	jsonResponse(w, http.StatusCreated, offer)
}

// List handles GET /api/offers.
func (h *OffersHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := store.OfferFilter{Status: r.URL.Query().Get("status")}
	if batch := r.URL.Query().Get("batch"); batch != "" {
		id, err := strconv.ParseInt(batch, 10, 64)
		if err != nil {
			jsonError(w, http.StatusBadRequest, "invalid batch id")
			return
		}
		filter.BatchID = id
	}
	if creator := r.URL.Query().Get("creator"); creator != "" {
		id, err := strconv.ParseInt(creator, 10, 64)
		if err != nil {
			jsonError(w, http.StatusBadRequest, "invalid creator id")
			return
		}
		filter.CreatorID = id
	}

	offers, err := store.ListOffers(r.Context(), h.DB, filter)
	if err != nil {
		storeError(w, err)
		return
	}
	if offers == nil {
		offers = []model.Offer{}
	}
	jsonResponse(w, http.StatusOK, offers)
}

// Available handles GET /api/offers/available: the open, unexpired
// offers addressed to the caller.
func (h *OffersHandler) Available(w http.ResponseWriter, r *http.Request) {
	gctx, ok := mustGate(w, r)
	if !ok {
		return
	}

	offers, err := store.AvailableOffers(r.Context(), h.DB, gctx)
	if err != nil {
		storeError(w, err)
		return
	}
	if offers == nil {
		offers = []model.Offer{}
	}
	jsonResponse(w, http.StatusOK, offers)
}

// Get handles GET /api/offers/{id}.
func (h *OffersHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid offer id")
		return
	}

	offer, err := store.GetOffer(r.Context(), h.DB, id)
	if err != nil {
		storeError(w, err)
		return
	}
	if offer == nil {
		jsonError(w, http.StatusNotFound, "offer not found")
		return
	}
	jsonResponse(w, http.StatusOK, offer)
}

// Accept handles POST /api/offers/{id}/accept.
func (h *OffersHandler) Accept(w http.ResponseWriter, r *http.Request) {
	gctx, ok := mustGate(w, r)
	if !ok {
		return
	}
	id, idOK := pathID(r)
	if !idOK {
		jsonError(w, http.StatusBadRequest, "invalid offer id")
		return
	}

	offer, err := store.AcceptOffer(r.Context(), h.DB, gctx, id)
	if err != nil {
		storeError(w, err)
		return
	}

	if h.Metrics != nil {
		h.Metrics.RecordEvent(model.EventOfferAccepted)
		h.Metrics.RecordSettlement(offer.Total())
	}
	slog.Info("offer accepted", "id", id, "batch", offer.BatchID, "total", offer.Total())
	jsonResponse(w, http.StatusOK, offer)
}

// Reject handles POST /api/offers/{id}/reject.
func (h *OffersHandler) Reject(w http.ResponseWriter, r *http.Request) {
	gctx, ok := mustGate(w, r)
	if !ok {
		return
	}
	id, idOK := pathID(r)
	if !idOK {
		jsonError(w, http.StatusBadRequest, "invalid offer id")
		return
	}

	offer, err := store.RejectOffer(r.Context(), h.DB, gctx, id)
	if err != nil {
		storeError(w, err)
		return
	}

	if h.Metrics != nil {
		h.Metrics.RecordEvent(model.EventOfferRejected)
	}
	slog.Info("offer rejected", "id", id)
	jsonResponse(w, http.StatusOK, offer)
}

// Cancel handles POST /api/offers/{id}/cancel.
func (h *OffersHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	gctx, ok := mustGate(w, r)
	if !ok {
		return
	}
	id, idOK := pathID(r)
	if !idOK {
		jsonError(w, http.StatusBadRequest, "invalid offer id")
		return
	}

	offer, err := store.CancelOffer(r.Context(), h.DB, gctx, id)
	if err != nil {
		storeError(w, err)
		return
	}

	if h.Metrics != nil {
		h.Metrics.RecordEvent(model.EventOfferCancelled)
	}
	slog.Info("offer cancelled", "id", id)
	jsonResponse(w, http.StatusOK, offer)
}
