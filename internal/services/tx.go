package services

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/greenfelt/backend/internal/models"
)

// Shared transaction helpers. Every logical operation locks the session
// row first, then any seat rows it touches, so concurrent requests against
// the same session serialize on the store's row locks.

func lockSessionTx(tx *sql.Tx, sessionID string, scope models.TenantScope) (*models.Session, error) {
	var s models.Session
	var ownerID sql.NullInt64
	err := tx.QueryRow(`
		SELECT s.id, s.table_id, s.date, s.status, s.chips_in_play, s.created_at, s.closed_at, t.owner_id
		FROM sessions s
		JOIN tables t ON t.id = s.table_id
		WHERE s.id = $1
		FOR UPDATE OF s`, sessionID).
		Scan(&s.ID, &s.TableID, &s.Date, &s.Status, &s.ChipsInPlay, &s.CreatedAt, &s.ClosedAt, &ownerID)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock session: %w", err)
	}
	var owner *int64
	if ownerID.Valid {
		owner = &ownerID.Int64
	}
	if !scope.Owns(owner) {
		return nil, ErrForbidden
	}
	return &s, nil
}

func lockOpenSessionTx(tx *sql.Tx, sessionID string, scope models.TenantScope) (*models.Session, error) {
	s, err := lockSessionTx(tx, sessionID, scope)
	if err != nil {
		return nil, err
	}
	if s.Status != models.SessionOpen {
		return nil, ErrSessionNotOpen
	}
	return s, nil
}

func lockSeatTx(tx *sql.Tx, sessionID string, seatNo int) (*models.Seat, error) {
	var seat models.Seat
	var name sql.NullString
	err := tx.QueryRow(`
		SELECT id, session_id, seat_no, player_name, total
		FROM seats
		WHERE session_id = $1 AND seat_no = $2
		FOR UPDATE`, sessionID, seatNo).
		Scan(&seat.ID, &seat.SessionID, &seat.SeatNo, &name, &seat.Total)
	if err == sql.ErrNoRows {
		return nil, ErrSeatNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock seat: %w", err)
	}
	if name.Valid {
		seat.PlayerName = &name.String
	}
	return &seat, nil
}

func updateSeatTotalTx(tx *sql.Tx, seatID, newTotal int64) error {
	res, err := tx.Exec(`UPDATE seats SET total = $1 WHERE id = $2`, newTotal, seatID)
	if err != nil {
		return fmt.Errorf("update seat total: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrSeatNotFound
	}
	return nil
}

func insertChipOpTx(tx *sql.Tx, sessionID string, seatNo int, amount int64) (int64, error) {
	var opID int64
	err := tx.QueryRow(`
		INSERT INTO chip_ops (session_id, seat_no, amount, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		sessionID, seatNo, amount, time.Now().UTC()).Scan(&opID)
	if err != nil {
		return 0, fmt.Errorf("insert chip op: %w", err)
	}
	return opID, nil
}

func insertPurchaseTx(tx *sql.Tx, s *models.Session, seatNo int, amount, opID int64, paymentType models.PaymentType, createdBy int64) error {
	_, err := tx.Exec(`
		INSERT INTO chip_purchases (table_id, session_id, seat_no, amount, chip_op_id, payment_type, created_by_user_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		s.TableID, s.ID, seatNo, amount, opID, paymentType, createdBy, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert chip purchase: %w", err)
	}
	return nil
}

// seatCreditTx computes outstanding credit for a seat: the signed sum of
// credit-classified purchases. Payoffs are negative rows and net out.
func seatCreditTx(tx *sql.Tx, sessionID string, seatNo int) (int64, error) {
	var credit int64
	err := tx.QueryRow(`
		SELECT COALESCE(SUM(amount), 0)
		FROM chip_purchases
		WHERE session_id = $1 AND seat_no = $2 AND payment_type = $3`,
		sessionID, seatNo, models.PaymentCredit).Scan(&credit)
	if err != nil {
		return 0, fmt.Errorf("sum seat credit: %w", err)
	}
	return credit, nil
}

// raiseChipsInPlayTx bumps the informational high-water mark when the
// cumulative buy-in volume exceeds it.
func raiseChipsInPlayTx(tx *sql.Tx, sessionID string) error {
	_, err := tx.Exec(`
		UPDATE sessions
		SET chips_in_play = bought.total
		FROM (
			SELECT COALESCE(SUM(amount), 0) AS total
			FROM chip_purchases
			WHERE session_id = $1 AND amount > 0
		) AS bought
		WHERE sessions.id = $1 AND bought.total > sessions.chips_in_play`,
		sessionID)
	if err != nil {
		return fmt.Errorf("raise chips in play: %w", err)
	}
	return nil
}
