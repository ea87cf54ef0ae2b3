package api

import (
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"golang.org/x/crypto/bcrypt"

	"github.com/agritrace/agritrace/internal/model"
	"github.com/agritrace/agritrace/internal/store"
)

// StakeholdersHandler handles stakeholder administration endpoints.
type StakeholdersHandler struct {
	DB *sql.DB
}

type createStakeholderRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
	Location string `json:"location"`
}

type setRoleRequest struct {
	Role string `json:"role"`
}

type setFlagRequest struct {
	Value bool `json:"value"`
}

type resetPasswordRequest struct {
	Password string `json:"password"`
}

type depositRequest struct {
	Amount int64 `json:"amount"`
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	return id, err == nil && id > 0
}

// List handles GET /api/stakeholders.
func (h *StakeholdersHandler) List(w http.ResponseWriter, r *http.Request) {
	role := r.URL.Query().Get("role")
	if role != "" && !model.ValidRole(role) {
		jsonError(w, http.StatusBadRequest, "invalid role")
		return
	}
	stakeholders, err := store.ListStakeholders(r.Context(), h.DB, role)
	if err != nil {
		storeError(w, err)
		return
	}
	if stakeholders == nil {
		stakeholders = []model.Stakeholder{}
	}
	jsonResponse(w, http.StatusOK, stakeholders)
}

// Create handles POST /api/stakeholders (admin).
func (h *StakeholdersHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createStakeholderRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		jsonError(w, http.StatusBadRequest, "username and password required")
		return
	}
	if req.Role == "" {
		req.Role = model.RoleConsumer
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "failed to hash password")
		return
	}

	s, err := store.CreateStakeholder(r.Context(), h.DB, req.Username, string(hash), req.Role, req.Location)
	if err != nil {
		if errors.Is(err, model.ErrInvalidArgument) {
			storeError(w, err)
		} else {
			jsonError(w, http.StatusConflict, "username already exists")
		}
		return
	}

	slog.Info("stakeholder created", "username", s.Username, "role", s.Role)
	jsonResponse(w, http.StatusCreated, s)
}

// Get handles GET /api/stakeholders/{id}.
func (h *StakeholdersHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid stakeholder id")
		return
	}

	s, err := store.GetStakeholder(r.Context(), h.DB, id)
	if err != nil {
		storeError(w, err)
		return
	}
	if s == nil {
		jsonError(w, http.StatusNotFound, "stakeholder not found")
		return
	}
	jsonResponse(w, http.StatusOK, s)
}

// SetRole handles PUT /api/stakeholders/{id}/role (admin).
func (h *StakeholdersHandler) SetRole(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid stakeholder id")
		return
	}

	var req setRoleRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := store.SetStakeholderRole(r.Context(), h.DB, id, req.Role); err != nil {
		storeError(w, err)
		return
	}

	slog.Info("stakeholder role changed", "id", id, "role", req.Role)
	s, _ := store.GetStakeholder(r.Context(), h.DB, id)
	jsonResponse(w, http.StatusOK, s)
}

// SetActive handles PUT /api/stakeholders/{id}/active (admin).
func (h *StakeholdersHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid stakeholder id")
		return
	}

	var req setFlagRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := store.SetStakeholderActive(r.Context(), h.DB, id, req.Value); err != nil {
		storeError(w, err)
		return
	}

	slog.Info("stakeholder active flag changed", "id", id, "active", req.Value)
	jsonResponse(w, http.StatusOK, map[string]string{"message": "updated"})
}

// SetVerified handles PUT /api/stakeholders/{id}/verified (admin).
func (h *StakeholdersHandler) SetVerified(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid stakeholder id")
		return
	}

	var req setFlagRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := store.SetStakeholderVerified(r.Context(), h.DB, id, req.Value); err != nil {
		storeError(w, err)
		return
	}

	slog.Info("stakeholder verified flag changed", "id", id, "verified", req.Value)
	jsonResponse(w, http.StatusOK, map[string]string{"message": "updated"})
}

// ResetPassword handles PUT /api/stakeholders/{id}/password (admin).
func (h *StakeholdersHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid stakeholder id")
		return
	}

	var req resetPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Password == "" {
		jsonError(w, http.StatusBadRequest, "password required")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "failed to hash password")
		return
	}

	if err := store.UpdateStakeholderPassword(r.Context(), h.DB, id, string(hash)); err != nil {
		storeError(w, err)
		return
	}

	slog.Info("stakeholder password reset", "id", id)
	jsonResponse(w, http.StatusOK, map[string]string{"message": "password updated"})
}

// Delete handles DELETE /api/stakeholders/{id} (admin). Soft delete.
func (h *StakeholdersHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid stakeholder id")
		return
	}

	if err := store.DeleteStakeholder(r.Context(), h.DB, id); err != nil {
		storeError(w, err)
		return
	}

	slog.Info("stakeholder deleted", "id", id)
	jsonResponse(w, http.StatusOK, map[string]string{"message": "stakeholder deleted"})
}

// Deposit handles POST /api/stakeholders/{id}/deposit (admin).
func (h *StakeholdersHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	gctx, ok := mustGate(w, r)
	if !ok {
		return
	}
	id, idOK := pathID(r)
	if !idOK {
		jsonError(w, http.StatusBadRequest, "invalid stakeholder id")
		return
	}

	var req depositRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := store.DepositFunds(r.Context(), h.DB, gctx, id, req.Amount); err != nil {
		storeError(w, err)
		return
	}

	slog.Info("funds deposited", "stakeholder", id, "amount", req.Amount)
	s, _ := store.GetStakeholder(r.Context(), h.DB, id)
	jsonResponse(w, http.StatusOK, s)
}

// Ledger handles GET /api/stakeholders/{id}/ledger. Stakeholders may
// read their own ledger; admins may read anyone's.
func (h *StakeholdersHandler) Ledger(w http.ResponseWriter, r *http.Request) {
	gctx, ok := mustGate(w, r)
	if !ok {
		return
	}
	id, idOK := pathID(r)
	if !idOK {
		jsonError(w, http.StatusBadRequest, "invalid stakeholder id")
		return
	}
	if id != gctx.ActorID && !gctx.HasRole(model.RoleAdmin) {
		jsonError(w, http.StatusForbidden, "cannot read another stakeholder's ledger")
		return
	}

	entries, err := store.ListLedgerEntries(r.Context(), h.DB, id)
	if err != nil {
		storeError(w, err)
		return
	}
	if entries == nil {
		entries = []store.LedgerEntry{}
	}
	jsonResponse(w, http.StatusOK, entries)
}
