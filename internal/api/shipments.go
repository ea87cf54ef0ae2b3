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

// ShipmentsHandler handles custody-tracking endpoints.
type ShipmentsHandler struct {
	DB      *sql.DB
	Metrics *metrics.Metrics
}

type createShipmentRequest struct {
	OfferID      int64  `json:"offer_id"`
	ShipperID    int64  `json:"shipper_id"`
	TrackingID   string `json:"tracking_id"`
	FromLocation string `json:"from_location"`
	ToLocation   string `json:"to_location"`
	MetadataHash string `json:"metadata_hash"`
}

type shipmentStepRequest struct {
	Location string `json:"location"`
	Note     string `json:"note"`
	Reason   string `json:"reason"`
}

func (h *ShipmentsHandler) record(event string) {
	if h.Metrics != nil {
		h.Metrics.RecordEvent(event)
	}
}

// Create handles POST /api/shipments.
func (h *ShipmentsHandler) Create(w http.ResponseWriter, r *http.Request) {
	gctx, ok := mustGate(w, r)
	if !ok {
		return
	}

	var req createShipmentRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	shipment, err := store.CreateShipment(r.Context(), h.DB, gctx, store.CreateShipmentParams{
		OfferID:      req.OfferID,
		ShipperID:    req.ShipperID,
		TrackingID:   req.TrackingID,
		FromLocation: req.FromLocation,
		ToLocation:   req.ToLocation,
		MetadataHash: req.MetadataHash,
	})
	if err != nil {
		storeError(w, err)
		return
	}

	h.record(model.EventShipmentCreated)
	slog.Info("shipment created", "id", shipment.ID, "batch", shipment.BatchID, "tracking", shipment.TrackingID)
	jsonResponse(w, http.StatusCreated, shipment)
}

// Pickup handles POST /api/shipments/{id}/pickup.
func (h *ShipmentsHandler) Pickup(w http.ResponseWriter, r *http.Request) {
	h.step(w, r, func(req shipmentStepRequest, id int64) (*model.Shipment, error) {
		gctx, _ := GetGate(r.Context())
		return store.PickupShipment(r.Context(), h.DB, gctx, id, req.Location, req.Note)
	}, model.EventShipmentPickedUp, "shipment picked up")
}

// UpdateLocation handles POST /api/shipments/{id}/location.
func (h *ShipmentsHandler) UpdateLocation(w http.ResponseWriter, r *http.Request) {
	h.step(w, r, func(req shipmentStepRequest, id int64) (*model.Shipment, error) {
		gctx, _ := GetGate(r.Context())
		return store.UpdateLocation(r.Context(), h.DB, gctx, id, req.Location, req.Note)
	}, model.EventShipmentInTransit, "shipment location updated")
}

// Deliver handles POST /api/shipments/{id}/deliver.
func (h *ShipmentsHandler) Deliver(w http.ResponseWriter, r *http.Request) {
	h.step(w, r, func(req shipmentStepRequest, id int64) (*model.Shipment, error) {
		gctx, _ := GetGate(r.Context())
		return store.MarkDelivered(r.Context(), h.DB, gctx, id, req.Location, req.Note)
	}, model.EventShipmentDelivered, "shipment delivered")
}

// Confirm handles POST /api/shipments/{id}/confirm.
func (h *ShipmentsHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	h.step(w, r, func(req shipmentStepRequest, id int64) (*model.Shipment, error) {
		gctx, _ := GetGate(r.Context())
		return store.ConfirmDelivery(r.Context(), h.DB, gctx, id, req.Note)
	}, model.EventDeliveryConfirmed, "delivery confirmed")
}

// Fail handles POST /api/shipments/{id}/fail.
func (h *ShipmentsHandler) Fail(w http.ResponseWriter, r *http.Request) {
	h.step(w, r, func(req shipmentStepRequest, id int64) (*model.Shipment, error) {
		gctx, _ := GetGate(r.Context())
		return store.MarkUndeliverable(r.Context(), h.DB, gctx, id, req.Reason)
	}, model.EventShipmentFailed, "shipment failed")
}

// Cancel handles POST /api/shipments/{id}/cancel.
func (h *ShipmentsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.step(w, r, func(req shipmentStepRequest, id int64) (*model.Shipment, error) {
		gctx, _ := GetGate(r.Context())
		return store.CancelShipment(r.Context(), h.DB, gctx, id, req.Reason)
	}, model.EventShipmentCancelled, "shipment cancelled")
}

// step is the shared shell of the transition handlers: parse the id and
// the optional body, run the store operation, record and respond.
func (h *ShipmentsHandler) step(w http.ResponseWriter, r *http.Request, op func(shipmentStepRequest, int64) (*model.Shipment, error), event, message string) {
	if _, ok := mustGate(w, r); !ok {
		return
	}
	id, idOK := pathID(r)
	if !idOK {
		jsonError(w, http.StatusBadRequest, "invalid shipment id")
		return
	}

	var req shipmentStepRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			jsonError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	shipment, err := op(req, id)
	if err != nil {
		storeError(w, err)
		return
	}

	h.record(event)
	slog.Info(message, "id", id, "status", shipment.Status)
	jsonResponse(w, http.StatusOK, shipment)
}

// List handles GET /api/shipments.
func (h *ShipmentsHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := store.ShipmentFilter{Status: r.URL.Query().Get("status")}
	if batch := r.URL.Query().Get("batch"); batch != "" {
		id, err := strconv.ParseInt(batch, 10, 64)
		if err != nil {
			jsonError(w, http.StatusBadRequest, "invalid batch id")
			return
		}
		filter.BatchID = id
	}
	if participant := r.URL.Query().Get("participant"); participant != "" {
		id, err := strconv.ParseInt(participant, 10, 64)
		if err != nil {
			jsonError(w, http.StatusBadRequest, "invalid participant id")
			return
		}
		filter.ParticipantID = id
	}

	shipments, err := store.ListShipments(r.Context(), h.DB, filter)
	if err != nil {
		storeError(w, err)
		return
	}
	if shipments == nil {
		shipments = []model.Shipment{}
	}
	jsonResponse(w, http.StatusOK, shipments)
}

// Get handles GET /api/shipments/{id}.
func (h *ShipmentsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid shipment id")
		return
	}

	shipment, err := store.GetShipment(r.Context(), h.DB, id)
	if err != nil {
		storeError(w, err)
		return
	}
	if shipment == nil {
		jsonError(w, http.StatusNotFound, "shipment not found")
		return
	}
	jsonResponse(w, http.StatusOK, shipment)
}

// GetByTracking handles GET /api/shipments/tracking/{tid}.
func (h *ShipmentsHandler) GetByTracking(w http.ResponseWriter, r *http.Request) {
	tid := r.PathValue("tid")
	if tid == "" {
		jsonError(w, http.StatusBadRequest, "tracking number required")
		return
	}

	shipment, err := store.GetShipmentByTracking(r.Context(), h.DB, tid)
	if err != nil {
		storeError(w, err)
		return
	}
	if shipment == nil {
		jsonError(w, http.StatusNotFound, "shipment not found")
		return
	}
	jsonResponse(w, http.StatusOK, shipment)
}

// History handles GET /api/shipments/{id}/history.
func (h *ShipmentsHandler) History(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid shipment id")
		return
	}

	events, err := store.ShipmentHistory(r.Context(), h.DB, id)
	if err != nil {
		storeError(w, err)
		return
	}
	if events == nil {
		events = []model.ShipmentEvent{}
	}
	jsonResponse(w, http.StatusOK, events)
}

// Stats handles GET /api/shipments/stats.
func (h *ShipmentsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := store.GetShipmentStats(r.Context(), h.DB)
	if err != nil {
		storeError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, stats)
}
