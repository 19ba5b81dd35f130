package services

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/greenfelt/backend/internal/models"
)

// ChipService is the append-only chip operation log and the purchase
// ledger derived from it. Every mutation runs in one transaction: the
// chip op, its purchase rows and the seat total commit together or not
// at all.
type ChipService struct {
	db        *sql.DB
	validator *ValidationHelper
}

func NewChipService(db *sql.DB) *ChipService {
	return &ChipService{
		db:        db,
		validator: NewValidationHelper(),
	}
}

type AddChipsRequest struct {
	SeatNo         int                `json:"seatNo" validate:"required,gte=1"`
	Amount         int64              `json:"amount" validate:"required"`
	PaymentType    models.PaymentType `json:"paymentType" validate:"omitempty,oneof=cash credit"`
	CreditToDeduct int64              `json:"creditToDeduct" validate:"gte=0"`
}

type UndoRequest struct {
	SeatNo int `json:"seatNo" validate:"required,gte=1"`
}

// AddChips records a buy-in or cash-out for a seat
// @Summary Add or remove chips at a seat
// @Description Record a signed chip movement with cash/credit classification
// @Tags sessions
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param sessionId path string true "Session ID"
// @Param request body AddChipsRequest true "Chip movement"
// @Success 200 {object} models.Seat
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /sessions/{sessionId}/chips [post]
func (s *ChipService) AddChips(w http.ResponseWriter, r *http.Request) {
	ident, ok := models.IdentityFrom(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}
	sessionID := chi.URLParam(r, "sessionId")

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req AddChipsRequest
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}
	if req.PaymentType == "" {
		req.PaymentType = models.PaymentCash
	}

	seat, err := s.addChips(sessionID, req, ident)
	if err != nil {
		log.Printf("[CHIPS] add failed for session %s seat %d: %v", sessionID, req.SeatNo, err)
		SendErrorResponse(w, err.Error(), StatusForError(err), nil)
		return
	}

	log.Printf("[CHIPS] session %s seat %d: recorded %+d (%s)", sessionID, req.SeatNo, req.Amount, req.PaymentType)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(seat)
}

func (s *ChipService) addChips(sessionID string, req AddChipsRequest, ident models.Identity) (*models.Seat, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	session, err := lockOpenSessionTx(tx, sessionID, ident.Scope)
	if err != nil {
		return nil, err
	}
	seat, err := lockSeatTx(tx, sessionID, req.SeatNo)
	if err != nil {
		return nil, err
	}

	if req.Amount > 0 {
		err = s.buyInTx(tx, session, seat, req, ident.UserID)
	} else {
		err = s.cashOutTx(tx, session, seat, req, ident.UserID)
	}
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return seat, nil
}

// buyInTx records a positive chip movement. A cash buy-in first pays off
// outstanding credit: the payoff is a zero-chip op with a negative
// credit-classified purchase, and only the remainder moves chips.
func (s *ChipService) buyInTx(tx *sql.Tx, session *models.Session, seat *models.Seat, req AddChipsRequest, userID int64) error {
	amount := req.Amount

	if req.PaymentType == models.PaymentCash {
		credit, err := seatCreditTx(tx, session.ID, seat.SeatNo)
		if err != nil {
			return err
		}
		if credit > 0 {
			payoff := amount
			if credit < payoff {
				payoff = credit
			}
			opID, err := insertChipOpTx(tx, session.ID, seat.SeatNo, 0)
			if err != nil {
				return err
			}
			if err := insertPurchaseTx(tx, session, seat.SeatNo, -payoff, opID, models.PaymentCredit, userID); err != nil {
				return err
			}
			amount -= payoff
		}
	}

	if amount > 0 {
		opID, err := insertChipOpTx(tx, session.ID, seat.SeatNo, amount)
		if err != nil {
			return err
		}
		if err := insertPurchaseTx(tx, session, seat.SeatNo, amount, opID, req.PaymentType, userID); err != nil {
			return err
		}
		seat.Total += amount
		if err := updateSeatTotalTx(tx, seat.ID, seat.Total); err != nil {
			return err
		}
	}

	return raiseChipsInPlayTx(tx, session.ID)
}

// cashOutTx records a negative chip movement split into a credit-deduct
// portion and a cash portion. The cash portion may not exceed the seat's
// cash holdings (total minus outstanding credit).
func (s *ChipService) cashOutTx(tx *sql.Tx, session *models.Session, seat *models.Seat, req AddChipsRequest, userID int64) error {
	credit, err := seatCreditTx(tx, session.ID, seat.SeatNo)
	if err != nil {
		return err
	}

	out := -req.Amount // chips leaving the seat, positive
	deduct := req.CreditToDeduct
	if deduct < 0 || deduct > credit || deduct > out {
		return ErrInvalidCashoutSplit
	}
	cashPortion := out - deduct
	if cashPortion > seat.Total-credit {
		return ErrInvalidCashoutSplit
	}

	opID, err := insertChipOpTx(tx, session.ID, seat.SeatNo, req.Amount)
	if err != nil {
		return err
	}
	if deduct > 0 {
		if err := insertPurchaseTx(tx, session, seat.SeatNo, -deduct, opID, models.PaymentCredit, userID); err != nil {
			return err
		}
	}
	if cashPortion > 0 {
		if err := insertPurchaseTx(tx, session, seat.SeatNo, -cashPortion, opID, models.PaymentCash, userID); err != nil {
			return err
		}
	}

	seat.Total += req.Amount
	return updateSeatTotalTx(tx, seat.ID, seat.Total)
}

// UndoLast reverses the most recent chip op at a seat
// @Summary Undo the last chip operation
// @Description LIFO undo: removes the seat's newest chip op and its purchases
// @Tags sessions
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param sessionId path string true "Session ID"
// @Param request body UndoRequest true "Seat"
// @Success 200 {object} models.Seat
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /sessions/{sessionId}/chips/undo [post]
func (s *ChipService) UndoLast(w http.ResponseWriter, r *http.Request) {
	ident, ok := models.IdentityFrom(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}
	sessionID := chi.URLParam(r, "sessionId")

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req UndoRequest
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	seat, err := s.undoLast(sessionID, req.SeatNo, ident)
	if err != nil {
		log.Printf("[CHIPS] undo failed for session %s seat %d: %v", sessionID, req.SeatNo, err)
		SendErrorResponse(w, err.Error(), StatusForError(err), nil)
		return
	}

	log.Printf("[CHIPS] session %s seat %d: undid last op", sessionID, req.SeatNo)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(seat)
}

func (s *ChipService) undoLast(sessionID string, seatNo int, ident models.Identity) (*models.Seat, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := lockOpenSessionTx(tx, sessionID, ident.Scope); err != nil {
		return nil, err
	}
	seat, err := lockSeatTx(tx, sessionID, seatNo)
	if err != nil {
		return nil, err
	}

	var opID, opAmount int64
	err = tx.QueryRow(`
		SELECT id, amount FROM chip_ops
		WHERE session_id = $1 AND seat_no = $2
		ORDER BY id DESC
		LIMIT 1`, sessionID, seatNo).Scan(&opID, &opAmount)
	if err == sql.ErrNoRows {
		return nil, ErrNoHistory
	}
	if err != nil {
		return nil, fmt.Errorf("find last op: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM chip_purchases WHERE chip_op_id = $1`, opID); err != nil {
		return nil, fmt.Errorf("delete purchases: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM chip_ops WHERE id = $1`, opID); err != nil {
		return nil, fmt.Errorf("delete chip op: %w", err)
	}

	seat.Total -= opAmount
	if err := updateSeatTotalTx(tx, seat.ID, seat.Total); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return seat, nil
}

// SeatCredit groups a seat's outstanding credit for reporting.
type SeatCredit struct {
	SeatNo     int     `json:"seat_no"`
	PlayerName *string `json:"player_name,omitempty"`
	Amount     int64   `json:"amount"`
}

// SessionCredit lists per-seat outstanding credit for a session
// @Summary List outstanding credit by seat
// @Tags sessions
// @Produce json
// @Security BearerAuth
// @Param sessionId path string true "Session ID"
// @Success 200 {object} object{total_credit=int64,credit_by_seat=[]SeatCredit}
// @Failure 404 {object} ErrorResponse
// @Router /sessions/{sessionId}/credit [get]
func (s *ChipService) SessionCredit(w http.ResponseWriter, r *http.Request) {
	ident, ok := models.IdentityFrom(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}
	sessionID := chi.URLParam(r, "sessionId")

	credits, total, err := s.sessionCredit(sessionID, ident.Scope)
	if err != nil {
		log.Printf("[CHIPS] credit listing failed for session %s: %v", sessionID, err)
		SendErrorResponse(w, err.Error(), StatusForError(err), nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"total_credit":   total,
		"credit_by_seat": credits,
	})
}

func (s *ChipService) sessionCredit(sessionID string, scope models.TenantScope) ([]SeatCredit, int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := lockSessionTx(tx, sessionID, scope); err != nil {
		return nil, 0, err
	}

	rows, err := tx.Query(`
		SELECT p.seat_no, st.player_name, SUM(p.amount)
		FROM chip_purchases p
		LEFT JOIN seats st ON st.session_id = p.session_id AND st.seat_no = p.seat_no
		WHERE p.session_id = $1 AND p.payment_type = $2
		GROUP BY p.seat_no, st.player_name
		HAVING SUM(p.amount) <> 0
		ORDER BY p.seat_no`, sessionID, models.PaymentCredit)
	if err != nil {
		return nil, 0, fmt.Errorf("query credit: %w", err)
	}
	defer rows.Close()

	credits := []SeatCredit{}
	var total int64
	for rows.Next() {
		var c SeatCredit
		var name sql.NullString
		if err := rows.Scan(&c.SeatNo, &name, &c.Amount); err != nil {
			return nil, 0, fmt.Errorf("scan credit: %w", err)
		}
		if name.Valid {
			c.PlayerName = &name.String
		}
		credits = append(credits, c)
		total += c.Amount
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return credits, total, tx.Commit()
}

// forcedCashOutTx zeroes a seat at close time: one negative chip op for
// the full remaining total and a cash-classified purchase, no credit
// deduction. Outstanding credit stays on the books until closed
// explicitly through a balance adjustment.
func forcedCashOutTx(tx *sql.Tx, session *models.Session, seat *models.Seat, userID int64) error {
	if seat.Total <= 0 {
		return nil
	}
	opID, err := insertChipOpTx(tx, session.ID, seat.SeatNo, -seat.Total)
	if err != nil {
		return err
	}
	if err := insertPurchaseTx(tx, session, seat.SeatNo, -seat.Total, opID, models.PaymentCash, userID); err != nil {
		return err
	}
	seat.Total = 0
	return updateSeatTotalTx(tx, seat.ID, 0)
}

// totalChipsPlayedTx is the gross buy-in volume for a seat, cash and
// credit combined.
func totalChipsPlayedTx(tx *sql.Tx, sessionID string, seatNo int) (int64, error) {
	var total int64
	err := tx.QueryRow(`
		SELECT COALESCE(SUM(amount), 0)
		FROM chip_purchases
		WHERE session_id = $1 AND seat_no = $2 AND amount > 0`,
		sessionID, seatNo).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum chips played: %w", err)
	}
	return total, nil
}

// StatusForError maps ledger errors onto HTTP status codes.
func StatusForError(err error) int {
	switch {
	case errors.Is(err, ErrSessionNotFound),
		errors.Is(err, ErrSeatNotFound),
		errors.Is(err, ErrTableNotFound),
		errors.Is(err, ErrStaffNotFound),
		errors.Is(err, ErrAssignmentNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrSessionNotOpen),
		errors.Is(err, ErrSessionNotClosed),
		errors.Is(err, ErrDealerAlreadyAssigned),
		errors.Is(err, ErrDealerAlreadyInSession),
		errors.Is(err, ErrWaiterAlreadyInSession),
		errors.Is(err, ErrLastDealer),
		errors.Is(err, ErrMultipleDealers),
		errors.Is(err, ErrAssignmentEnded):
		return http.StatusConflict
	case errors.Is(err, ErrNoHistory),
		errors.Is(err, ErrInvalidCashoutSplit),
		errors.Is(err, ErrDealerUnavailable),
		errors.Is(err, ErrWaiterUnavailable),
		errors.Is(err, ErrNoCredit),
		errors.Is(err, ErrAmountExceedsCredit):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
