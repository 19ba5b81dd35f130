package models

import (
	"time"
)

// SessionStatus is the session lifecycle state. Transitions one way:
// open -> closed.
type SessionStatus string

const (
	SessionOpen   SessionStatus = "open"
	SessionClosed SessionStatus = "closed"
)

// Session is one continuous play period at a table. At most one open
// session exists per table at any time.
type Session struct {
	ID          string        `json:"id" db:"id"` // uuid
	TableID     int64         `json:"table_id" db:"table_id"`
	Date        time.Time     `json:"date" db:"date"`
	Status      SessionStatus `json:"status" db:"status"`
	ChipsInPlay int64         `json:"chips_in_play" db:"chips_in_play"` // informational high-water mark
	CreatedAt   time.Time     `json:"created_at" db:"created_at"`
	ClosedAt    *time.Time    `json:"closed_at,omitempty" db:"closed_at"`
}

// Seat is a numbered position within a session holding a player's chip
// balance. Total always equals the signed sum of the seat's chip ops.
type Seat struct {
	ID         int64   `json:"id" db:"id"`
	SessionID  string  `json:"session_id" db:"session_id"`
	SeatNo     int     `json:"seat_no" db:"seat_no"`
	PlayerName *string `json:"player_name,omitempty" db:"player_name"`
	Total      int64   `json:"total" db:"total"`
}

// SeatNameChange is the audit trail of seat occupancy: player assigned,
// renamed, or left.
type SeatNameChange struct {
	ID              int64     `json:"id" db:"id"`
	SessionID       string    `json:"session_id" db:"session_id"`
	SeatNo          int       `json:"seat_no" db:"seat_no"`
	OldName         *string   `json:"old_name,omitempty" db:"old_name"`
	NewName         *string   `json:"new_name,omitempty" db:"new_name"`
	ChangeType      string    `json:"change_type" db:"change_type"` // name_change | player_left
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	CreatedByUserID int64     `json:"created_by_user_id" db:"created_by_user_id"`
}
