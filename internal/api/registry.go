package api

import (
	"database/sql"
	"net/http"
	"strconv"

	"github.com/agritrace/agritrace/internal/model"
	"github.com/agritrace/agritrace/internal/store"
)

// RegistryHandler serves the append-only event trail and aggregate
// trade statistics.
type RegistryHandler struct {
	DB *sql.DB
}

// Events handles GET /api/registry/events.
func (h *RegistryHandler) Events(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var entityID int64
	if raw := q.Get("entity_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			jsonError(w, http.StatusBadRequest, "invalid entity id")
			return
		}
		entityID = id
	}

	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			jsonError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	events, err := store.ListEvents(r.Context(), h.DB, q.Get("entity_kind"), entityID, q.Get("type"), limit)
	if err != nil {
		storeError(w, err)
		return
	}
	if events == nil {
		events = []model.RegistryEvent{}
	}
	jsonResponse(w, http.StatusOK, events)
}

// Stats handles GET /api/registry/stats.
func (h *RegistryHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := store.GetTradeStats(r.Context(), h.DB)
	if err != nil {
		storeError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, stats)
}
