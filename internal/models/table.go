package models

// Table is a physical casino table. Static configuration referenced by
// sessions; owner_id scopes it to the table_admin who runs the casino.
type Table struct {
	ID         int64  `json:"id" db:"id"`
	Name       string `json:"name" db:"name"`
	SeatsCount int    `json:"seats_count" db:"seats_count"`
	OwnerID    *int64 `json:"owner_id,omitempty" db:"owner_id"`
}
