package models

import (
	"time"
)

// BalanceAdjustment is a standalone profit/expense ledger entry, not tied
// to a session. Positive = profit, negative = expense. Closing a player's
// credit debt is recorded as a positive adjustment.
type BalanceAdjustment struct {
	ID              int64     `json:"id" db:"id"`
	Amount          int64     `json:"amount" db:"amount"`
	Comment         string    `json:"comment" db:"comment"`
	CreatedByUserID int64     `json:"created_by_user_id" db:"created_by_user_id"`
	OwnerID         *int64    `json:"owner_id,omitempty" db:"owner_id"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}
