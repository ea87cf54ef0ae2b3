package api

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/agritrace/agritrace/internal/imaging"
	"github.com/agritrace/agritrace/internal/metrics"
	"github.com/agritrace/agritrace/internal/model"
	"github.com/agritrace/agritrace/internal/oracle"
	"github.com/agritrace/agritrace/internal/store"
)

// BatchesHandler handles batch lifecycle endpoints.
type BatchesHandler struct {
	DB      *sql.DB
	Feed    oracle.Feed
	Metrics *metrics.Metrics
}

type createBatchRequest struct {
	Name             string  `json:"name"`
	Description      string  `json:"description"`
	Quantity         int64   `json:"quantity"`
	BasePrice        int64   `json:"base_price"`
	OriginLocation   string  `json:"origin_location"`
	MetadataHash     string  `json:"metadata_hash"`
	TradingMode      string  `json:"trading_mode"`
	AuthorizedBuyers []int64 `json:"authorized_buyers"`
	RequiresWeather  bool    `json:"requires_weather"`
}

type listForSaleRequest struct {
	AskingPrice int64  `json:"asking_price"`
	TradingMode string `json:"trading_mode"`
}

type transferRequest struct {
	NewOwnerID int64 `json:"new_owner_id"`
}

type processRequest struct {
	ProcessingType string `json:"processing_type"`
	QualityMetrics string `json:"quality_metrics"`
	OutputQuantity int64  `json:"output_quantity"`
}

type qualityRequest struct {
	Grade    string `json:"grade"`
	Moisture int64  `json:"moisture"`
	Purity   int64  `json:"purity"`
	Organic  bool   `json:"organic"`
	CertBody string `json:"cert_body"`
}

func (h *BatchesHandler) record(event string) {
	if h.Metrics != nil {
		h.Metrics.RecordEvent(event)
	}
}

// Create handles POST /api/batches.
func (h *BatchesHandler) Create(w http.ResponseWriter, r *http.Request) {
	gctx, ok := mustGate(w, r)
	if !ok {
		return
	}

	var req createBatchRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	batch, err := store.CreateBatch(r.Context(), h.DB, gctx, h.Feed, store.CreateBatchParams{
		Name:             req.Name,
		Description:      req.Description,
		Quantity:         req.Quantity,
		BasePrice:        req.BasePrice,
		OriginLocation:   req.OriginLocation,
		MetadataHash:     req.MetadataHash,
		TradingMode:      req.TradingMode,
		AuthorizedBuyers: req.AuthorizedBuyers,
		RequiresWeather:  req.RequiresWeather,
	})
	if err != nil {
		storeError(w, err)
		return
	}

	h.record(model.EventBatchCreated)
	slog.Info("batch created", "id", batch.ID, "farmer", gctx.Username)
	jsonResponse(w, http.StatusCreated, batch)
}

// List handles GET /api/batches.
func (h *BatchesHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := store.BatchFilter{Status: r.URL.Query().Get("status")}
	if filter.Status != "" && !model.ValidBatchStatus(filter.Status) {
		jsonError(w, http.StatusBadRequest, "invalid status")
		return
	}
	switch r.URL.Query().Get("for_sale") {
	case "true":
		t := true
		filter.ForSale = &t
	case "false":
		f := false
		filter.ForSale = &f
	}

	batches, err := store.ListBatches(r.Context(), h.DB, filter)
	if err != nil {
		storeError(w, err)
		return
	}
	if batches == nil {
		batches = []model.Batch{}
	}
	jsonResponse(w, http.StatusOK, batches)
}

// Get handles GET /api/batches/{id}.
func (h *BatchesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid batch id")
		return
	}

	batch, err := store.GetBatch(r.Context(), h.DB, id)
	if err != nil {
		storeError(w, err)
		return
	}
	if batch == nil {
		jsonError(w, http.StatusNotFound, "batch not found")
		return
	}
	jsonResponse(w, http.StatusOK, batch)
}

// ListForSale handles POST /api/batches/{id}/list.
func (h *BatchesHandler) ListForSale(w http.ResponseWriter, r *http.Request) {
	gctx, ok := mustGate(w, r)
	if !ok {
		return
	}
	id, idOK := pathID(r)
	if !idOK {
		jsonError(w, http.StatusBadRequest, "invalid batch id")
		return
	}

	var req listForSaleRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	batch, err := store.ListBatchForSale(r.Context(), h.DB, gctx, h.Feed, id, req.AskingPrice, req.TradingMode)
	if err != nil {
		storeError(w, err)
		return
	}

	h.record(model.EventBatchListed)
	slog.Info("batch listed", "id", id, "price", req.AskingPrice)
	jsonResponse(w, http.StatusOK, batch)
}

// Transfer handles POST /api/batches/{id}/transfer.
func (h *BatchesHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	gctx, ok := mustGate(w, r)
	if !ok {
		return
	}
	id, idOK := pathID(r)
	if !idOK {
		jsonError(w, http.StatusBadRequest, "invalid batch id")
		return
	}

	var req transferRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.NewOwnerID <= 0 {
		jsonError(w, http.StatusBadRequest, "new owner id required")
		return
	}

	batch, err := store.TransferOwnership(r.Context(), h.DB, gctx, id, req.NewOwnerID)
	if err != nil {
		storeError(w, err)
		return
	}

	h.record(model.EventOwnershipTransferred)
	slog.Info("batch transferred", "id", id, "new_owner", req.NewOwnerID)
	jsonResponse(w, http.StatusOK, batch)
}

// Process handles POST /api/batches/{id}/process.
func (h *BatchesHandler) Process(w http.ResponseWriter, r *http.Request) {
	gctx, ok := mustGate(w, r)
	if !ok {
		return
	}
	id, idOK := pathID(r)
	if !idOK {
		jsonError(w, http.StatusBadRequest, "invalid batch id")
		return
	}

	var req processRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	record, err := store.ProcessBatch(r.Context(), h.DB, gctx, h.Feed, id,
		req.ProcessingType, req.QualityMetrics, req.OutputQuantity)
	if err != nil {
		storeError(w, err)
		return
	}

	h.record(model.EventProcessingCompleted)
	slog.Info("batch processed", "id", id, "type", req.ProcessingType, "output", req.OutputQuantity)
	jsonResponse(w, http.StatusCreated, record)
}

// Quality handles POST /api/batches/{id}/quality.
func (h *BatchesHandler) Quality(w http.ResponseWriter, r *http.Request) {
	gctx, ok := mustGate(w, r)
	if !ok {
		return
	}
	id, idOK := pathID(r)
	if !idOK {
		jsonError(w, http.StatusBadRequest, "invalid batch id")
		return
	}

	var req qualityRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	record, err := store.CheckQuality(r.Context(), h.DB, gctx, id,
		req.Grade, req.Moisture, req.Purity, req.Organic, req.CertBody)
	if err != nil {
		storeError(w, err)
		return
	}

	h.record(model.EventQualityChecked)
	slog.Info("batch quality checked", "id", id, "grade", req.Grade, "passed", record.Passed)
	jsonResponse(w, http.StatusCreated, record)
}

// Finalize handles POST /api/batches/{id}/finalize.
func (h *BatchesHandler) Finalize(w http.ResponseWriter, r *http.Request) {
	gctx, ok := mustGate(w, r)
	if !ok {
		return
	}
	id, idOK := pathID(r)
	if !idOK {
		jsonError(w, http.StatusBadRequest, "invalid batch id")
		return
	}

	batch, err := store.FinalizeBatch(r.Context(), h.DB, gctx, id)
	if err != nil {
		storeError(w, err)
		return
	}

	h.record(model.EventBatchFinalized)
	slog.Info("batch finalized", "id", id)
	jsonResponse(w, http.StatusOK, batch)
}

// ProcessingHistory handles GET /api/batches/{id}/processing.
func (h *BatchesHandler) ProcessingHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid batch id")
		return
	}

	records, err := store.ListProcessingHistory(r.Context(), h.DB, id)
	if err != nil {
		storeError(w, err)
		return
	}
	if records == nil {
		records = []model.ProcessingData{}
	}
	jsonResponse(w, http.StatusOK, records)
}

// QualityHistory handles GET /api/batches/{id}/quality.
func (h *BatchesHandler) QualityHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid batch id")
		return
	}

	records, err := store.ListQualityHistory(r.Context(), h.DB, id)
	if err != nil {
		storeError(w, err)
		return
	}
	if records == nil {
		records = []model.QualityData{}
	}
	jsonResponse(w, http.StatusOK, records)
}

// UploadPhoto handles PUT /api/batches/{id}/photo.
func (h *BatchesHandler) UploadPhoto(w http.ResponseWriter, r *http.Request) {
	gctx, ok := mustGate(w, r)
	if !ok {
		return
	}
	id, idOK := pathID(r)
	if !idOK {
		jsonError(w, http.StatusBadRequest, "invalid batch id")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, imaging.MaxUploadBytes)
	if err := r.ParseMultipartForm(imaging.MaxUploadBytes); err != nil {
		jsonError(w, http.StatusBadRequest, "file too large or invalid multipart form")
		return
	}

	file, _, err := r.FormFile("photo")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "photo file required")
		return
	}
	defer file.Close()

	photo, err := imaging.Process(file)
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := store.SetBatchPhoto(r.Context(), h.DB, gctx, id, photo.Data, photo.MIME); err != nil {
		storeError(w, err)
		return
	}

	jsonResponse(w, http.StatusOK, map[string]string{"message": "photo uploaded"})
}

// GetPhoto handles GET /api/batches/{id}/photo.
func (h *BatchesHandler) GetPhoto(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid batch id")
		return
	}

	data, mime, err := store.GetBatchPhoto(r.Context(), h.DB, id)
	if err != nil {
		storeError(w, err)
		return
	}
	if data == nil {
		jsonError(w, http.StatusNotFound, "no photo")
		return
	}

	w.Header().Set("Content-Type", mime)
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Write(data)
}
