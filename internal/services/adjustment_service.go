package services

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/greenfelt/backend/internal/models"
)

// AdjustmentService owns the cash balance ledger: free-form manual
// adjustments and credit settled after a session has closed.
type AdjustmentService struct {
	db        *sql.DB
	validator *ValidationHelper
}

func NewAdjustmentService(db *sql.DB) *AdjustmentService {
	return &AdjustmentService{
		db:        db,
		validator: NewValidationHelper(),
	}
}

type CreateAdjustmentRequest struct {
	Amount  int64  `json:"amount" validate:"required"`
	Comment string `json:"comment" validate:"required,min=1,max=256"`
}

// CreateAdjustment records a manual balance adjustment
// @Summary Create a balance adjustment
// @Tags adjustments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body CreateAdjustmentRequest true "Adjustment"
// @Success 201 {object} models.BalanceAdjustment
// @Failure 400 {object} ErrorResponse
// @Router /adjustments [post]
func (s *AdjustmentService) CreateAdjustment(w http.ResponseWriter, r *http.Request) {
	ident, ok := models.IdentityFrom(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	var req CreateAdjustmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	adj, err := s.insertAdjustment(req.Amount, req.Comment, ident)
	if err != nil {
		log.Printf("[ADJUST] creation failed: %v", err)
		SendErrorResponse(w, "Failed to create adjustment", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[ADJUST] adjustment %d (%d) recorded by user %d", adj.ID, adj.Amount, ident.UserID)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(adj)
}

func (s *AdjustmentService) insertAdjustment(amount int64, comment string, ident models.Identity) (*models.BalanceAdjustment, error) {
	adj := models.BalanceAdjustment{
		Amount:          amount,
		Comment:         comment,
		CreatedByUserID: ident.UserID,
	}
	if !ident.Scope.All {
		owner := ident.Scope.OwnerID
		adj.OwnerID = &owner
	}
	err := s.db.QueryRow(`
		INSERT INTO balance_adjustments (amount, comment, created_by_user_id, owner_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		adj.Amount, adj.Comment, adj.CreatedByUserID, adj.OwnerID, time.Now().UTC()).
		Scan(&adj.ID, &adj.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert adjustment: %w", err)
	}
	return &adj, nil
}

// ListAdjustments returns adjustments visible to the caller, newest first
// @Summary List balance adjustments
// @Tags adjustments
// @Produce json
// @Security BearerAuth
// @Success 200 {array} models.BalanceAdjustment
// @Router /adjustments [get]
func (s *AdjustmentService) ListAdjustments(w http.ResponseWriter, r *http.Request) {
	ident, ok := models.IdentityFrom(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	query := `
		SELECT id, amount, comment, created_by_user_id, owner_id, created_at
		FROM balance_adjustments`
	args := []any{}
	if !ident.Scope.All {
		query += ` WHERE owner_id = $1`
		args = append(args, ident.Scope.OwnerID)
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		log.Printf("[ADJUST] listing failed: %v", err)
		SendErrorResponse(w, "Failed to list adjustments", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	adjustments := []models.BalanceAdjustment{}
	for rows.Next() {
		var a models.BalanceAdjustment
		var ownerID sql.NullInt64
		if err := rows.Scan(&a.ID, &a.Amount, &a.Comment, &a.CreatedByUserID, &ownerID, &a.CreatedAt); err != nil {
			SendErrorResponse(w, "Failed to list adjustments", http.StatusInternalServerError, nil)
			return
		}
		if ownerID.Valid {
			a.OwnerID = &ownerID.Int64
		}
		adjustments = append(adjustments, a)
	}
	if err := rows.Err(); err != nil {
		SendErrorResponse(w, "Failed to list adjustments", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(adjustments)
}

type CloseCreditRequest struct {
	SeatNo int   `json:"seatNo" validate:"required,gte=1"`
	Amount int64 `json:"amount" validate:"required,gt=0"`
}

// CloseCredit settles credit owed on a closed session
// @Summary Settle seat credit after close
// @Description Records a cash repayment against credit outstanding on a closed session
// @Tags adjustments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param sessionId path string true "Session ID"
// @Param request body CloseCreditRequest true "Seat and amount"
// @Success 200 {object} models.BalanceAdjustment
// @Failure 400 {object} ErrorResponse "No credit or amount too large"
// @Router /sessions/{sessionId}/close-credit [post]
func (s *AdjustmentService) CloseCredit(w http.ResponseWriter, r *http.Request) {
	ident, ok := models.IdentityFrom(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}
	sessionID := chi.URLParam(r, "sessionId")

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	var req CloseCreditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	adj, err := s.closeCredit(sessionID, req.SeatNo, req.Amount, ident)
	if err != nil {
		log.Printf("[ADJUST] close-credit failed for session %s seat %d: %v", sessionID, req.SeatNo, err)
		SendErrorResponse(w, err.Error(), StatusForError(err), nil)
		return
	}

	log.Printf("[ADJUST] session %s seat %d: credit of %d settled", sessionID, req.SeatNo, req.Amount)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(adj)
}

// closeCredit repays credit on a closed session: a zero-amount chip
// operation anchors a negative credit purchase so the debt ledger zeroes
// out, and a positive balance adjustment books the incoming cash.
func (s *AdjustmentService) closeCredit(sessionID string, seatNo int, amount int64, ident models.Identity) (*models.BalanceAdjustment, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	session, err := lockSessionTx(tx, sessionID, ident.Scope)
	if err != nil {
		return nil, err
	}
	if session.Status != models.SessionClosed {
		return nil, ErrSessionNotClosed
	}
	if _, err := lockSeatTx(tx, session.ID, seatNo); err != nil {
		return nil, err
	}

	credit, err := seatCreditTx(tx, session.ID, seatNo)
	if err != nil {
		return nil, err
	}
	if credit <= 0 {
		return nil, ErrNoCredit
	}
	if amount > credit {
		return nil, ErrAmountExceedsCredit
	}

	opID, err := insertChipOpTx(tx, session.ID, seatNo, 0)
	if err != nil {
		return nil, err
	}
	if err := insertPurchaseTx(tx, session, seatNo, -amount, opID, models.PaymentCredit, ident.UserID); err != nil {
		return nil, err
	}

	adj := models.BalanceAdjustment{
		Amount:          amount,
		Comment:         fmt.Sprintf("credit repayment, session %s seat %d", session.ID, seatNo),
		CreatedByUserID: ident.UserID,
	}
	if !ident.Scope.All {
		owner := ident.Scope.OwnerID
		adj.OwnerID = &owner
	}
	err = tx.QueryRow(`
		INSERT INTO balance_adjustments (amount, comment, created_by_user_id, owner_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		adj.Amount, adj.Comment, adj.CreatedByUserID, adj.OwnerID, time.Now().UTC()).
		Scan(&adj.ID, &adj.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert adjustment: %w", err)
	}

	return &adj, tx.Commit()
}
