package services

import (
	"database/sql"
	"fmt"

	"github.com/greenfelt/backend/internal/models"
)

// HistoryService serves the read-only audit trails of a session: the
// chip operation log, the purchase ledger, and seat occupancy changes.
// HTTP wiring lives in the handlers package.
type HistoryService struct {
	db *sql.DB
}

func NewHistoryService(db *sql.DB) *HistoryService {
	return &HistoryService{db: db}
}

// sessionVisible checks existence and tenant ownership without locking.
func (s *HistoryService) sessionVisible(sessionID string, scope models.TenantScope) error {
	var ownerID sql.NullInt64
	err := s.db.QueryRow(`
		SELECT t.owner_id
		FROM sessions se
		JOIN tables t ON t.id = se.table_id
		WHERE se.id = $1`, sessionID).Scan(&ownerID)
	if err == sql.ErrNoRows {
		return ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	var owner *int64
	if ownerID.Valid {
		owner = &ownerID.Int64
	}
	if !scope.Owns(owner) {
		return ErrForbidden
	}
	return nil
}

// NameChanges returns the seat occupancy audit trail in insertion order.
func (s *HistoryService) NameChanges(sessionID string, scope models.TenantScope) ([]models.SeatNameChange, error) {
	if err := s.sessionVisible(sessionID, scope); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`
		SELECT id, session_id, seat_no, old_name, new_name, change_type, created_at, created_by_user_id
		FROM seat_name_changes
		WHERE session_id = $1
		ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list name changes: %w", err)
	}
	defer rows.Close()

	changes := []models.SeatNameChange{}
	for rows.Next() {
		var c models.SeatNameChange
		if err := rows.Scan(&c.ID, &c.SessionID, &c.SeatNo, &c.OldName, &c.NewName, &c.ChangeType, &c.CreatedAt, &c.CreatedByUserID); err != nil {
			return nil, err
		}
		changes = append(changes, c)
	}
	return changes, rows.Err()
}

// SeatOperations returns a seat's chip operation log in insertion order.
func (s *HistoryService) SeatOperations(sessionID string, seatNo int, scope models.TenantScope) ([]models.ChipOp, error) {
	if err := s.sessionVisible(sessionID, scope); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`
		SELECT id, session_id, seat_no, amount, created_at
		FROM chip_ops
		WHERE session_id = $1 AND seat_no = $2
		ORDER BY id`, sessionID, seatNo)
	if err != nil {
		return nil, fmt.Errorf("list chip ops: %w", err)
	}
	defer rows.Close()

	ops := []models.ChipOp{}
	for rows.Next() {
		var op models.ChipOp
		if err := rows.Scan(&op.ID, &op.SessionID, &op.SeatNo, &op.Amount, &op.CreatedAt); err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// Purchases returns the session's money ledger in insertion order.
func (s *HistoryService) Purchases(sessionID string, scope models.TenantScope) ([]models.ChipPurchase, error) {
	if err := s.sessionVisible(sessionID, scope); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`
		SELECT id, table_id, session_id, seat_no, amount, chip_op_id, payment_type, created_by_user_id, created_at
		FROM chip_purchases
		WHERE session_id = $1
		ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list purchases: %w", err)
	}
	defer rows.Close()

	purchases := []models.ChipPurchase{}
	for rows.Next() {
		var p models.ChipPurchase
		var paymentType string
		if err := rows.Scan(&p.ID, &p.TableID, &p.SessionID, &p.SeatNo, &p.Amount, &p.ChipOpID, &paymentType, &p.CreatedByUserID, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.PaymentType = models.PaymentType(paymentType)
		purchases = append(purchases, p)
	}
	return purchases, rows.Err()
}
