package models

import (
	"time"
)

// DealerAssignment is a dealer shift interval on one session. EndedAt nil
// means currently active. Several assignments may be active at once
// (co-dealers), but one dealer never has two active assignments globally.
type DealerAssignment struct {
	ID        int64      `json:"id" db:"id"`
	SessionID string     `json:"session_id" db:"session_id"`
	DealerID  int64      `json:"dealer_id" db:"dealer_id"`
	StartedAt time.Time  `json:"started_at" db:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty" db:"ended_at"`
	Rake      *int64     `json:"rake,omitempty" db:"rake"` // stamped when the shift ends
}

// Active reports whether the shift is still open.
func (a DealerAssignment) Active() bool { return a.EndedAt == nil }

// WaiterAssignment mirrors DealerAssignment without exclusivity: a waiter
// may serve several sessions at once.
type WaiterAssignment struct {
	ID        int64      `json:"id" db:"id"`
	SessionID string     `json:"session_id" db:"session_id"`
	WaiterID  int64      `json:"waiter_id" db:"waiter_id"`
	StartedAt time.Time  `json:"started_at" db:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty" db:"ended_at"`
}

// RakeEntry is one manually attested rake amount for a dealer shift.
// Entries are additive; the shift's attested rake is their sum.
type RakeEntry struct {
	ID              int64     `json:"id" db:"id"`
	AssignmentID    int64     `json:"assignment_id" db:"assignment_id"`
	Amount          int64     `json:"amount" db:"amount"`
	CreatedByUserID int64     `json:"created_by_user_id" db:"created_by_user_id"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}
