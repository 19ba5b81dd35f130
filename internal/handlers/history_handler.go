package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/greenfelt/backend/internal/models"
	"github.com/greenfelt/backend/internal/services"
)

type HistoryHandler struct {
	service *services.HistoryService
}

func NewHistoryHandler(service *services.HistoryService) *HistoryHandler {
	return &HistoryHandler{service: service}
}

// GetNameChanges lists the seat occupancy audit trail
// @Summary Seat occupancy history
// @Tags history
// @Produce json
// @Security BearerAuth
// @Param sessionId path string true "Session ID"
// @Success 200 {array} models.SeatNameChange
// @Failure 404 {object} services.ErrorResponse
// @Router /sessions/{sessionId}/name-changes [get]
func (h *HistoryHandler) GetNameChanges(w http.ResponseWriter, r *http.Request) {
	ident, ok := models.IdentityFrom(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	changes, err := h.service.NameChanges(chi.URLParam(r, "sessionId"), ident.Scope)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), services.StatusForError(err), nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(changes)
}

// GetSeatOperations lists a seat's chip operation log
// @Summary Seat chip operation log
// @Tags history
// @Produce json
// @Security BearerAuth
// @Param sessionId path string true "Session ID"
// @Param seatNo path int true "Seat number"
// @Success 200 {array} models.ChipOp
// @Failure 404 {object} services.ErrorResponse
// @Router /sessions/{sessionId}/seats/{seatNo}/ops [get]
func (h *HistoryHandler) GetSeatOperations(w http.ResponseWriter, r *http.Request) {
	ident, ok := models.IdentityFrom(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	seatNo, err := strconv.Atoi(chi.URLParam(r, "seatNo"))
	if err != nil || seatNo < 1 {
		services.SendErrorResponse(w, "Invalid seat number", http.StatusBadRequest, nil)
		return
	}

	ops, err := h.service.SeatOperations(chi.URLParam(r, "sessionId"), seatNo, ident.Scope)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), services.StatusForError(err), nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ops)
}

// GetPurchases lists the session's money ledger
// @Summary Session purchase ledger
// @Tags history
// @Produce json
// @Security BearerAuth
// @Param sessionId path string true "Session ID"
// @Success 200 {array} models.ChipPurchase
// @Failure 404 {object} services.ErrorResponse
// @Router /sessions/{sessionId}/purchases [get]
func (h *HistoryHandler) GetPurchases(w http.ResponseWriter, r *http.Request) {
	ident, ok := models.IdentityFrom(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	purchases, err := h.service.Purchases(chi.URLParam(r, "sessionId"), ident.Scope)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), services.StatusForError(err), nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(purchases)
}
