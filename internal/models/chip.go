package models

import (
	"time"
)

// PaymentType classifies a chip purchase as settled in cash or extended
// as credit (a tracked player debt).
type PaymentType string

const (
	PaymentCash   PaymentType = "cash"
	PaymentCredit PaymentType = "credit"
)

// ChipOp is an append-only, signed chip-quantity change at a seat.
// Positive means chips handed to the player, negative means chips taken
// off the table. It is the single source of truth for seat totals and
// for rake attribution; the only permitted deletion is LIFO undo.
type ChipOp struct {
	ID        int64     `json:"id" db:"id"`
	SessionID string    `json:"session_id" db:"session_id"`
	SeatNo    int       `json:"seat_no" db:"seat_no"`
	Amount    int64     `json:"amount" db:"amount"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// ChipPurchase is the financial record derived from a chip op. Positive
// amounts are buy-ins, negative amounts cash-outs or credit payoffs. A
// credit payoff references a zero-amount chip op: no chips move, only
// the credit classification shifts.
type ChipPurchase struct {
	ID              int64       `json:"id" db:"id"`
	TableID         int64       `json:"table_id" db:"table_id"`
	SessionID       string      `json:"session_id" db:"session_id"`
	SeatNo          int         `json:"seat_no" db:"seat_no"`
	Amount          int64       `json:"amount" db:"amount"`
	ChipOpID        int64       `json:"chip_op_id" db:"chip_op_id"`
	PaymentType     PaymentType `json:"payment_type" db:"payment_type"`
	CreatedByUserID int64       `json:"created_by_user_id" db:"created_by_user_id"`
	CreatedAt       time.Time   `json:"created_at" db:"created_at"`
}
