package models

import (
	"fmt"
	"time"
)

// Role is the closed set of staff roles. Handlers never branch on raw
// role strings; they ask the capability table via Role.Can.
type Role string

const (
	RoleSuperadmin Role = "superadmin"
	RoleTableAdmin Role = "table_admin"
	RoleDealer     Role = "dealer"
	RoleWaiter     Role = "waiter"
)

// ParseRole maps a stored role string onto the closed Role set.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleSuperadmin, RoleTableAdmin, RoleDealer, RoleWaiter:
		return Role(s), nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Capability names an operation class a role may perform.
type Capability string

const (
	CapManageTables      Capability = "manage_tables"
	CapManageUsers       Capability = "manage_users"
	CapRunSessions       Capability = "run_sessions"       // create/close sessions, staff changes
	CapOperateSeats      Capability = "operate_seats"      // chips, undo, seat assignment
	CapViewReports       Capability = "view_reports"
	CapAdjustBalance     Capability = "adjust_balance"
	CapCloseCredit       Capability = "close_credit"
)

var roleCapabilities = map[Role][]Capability{
	RoleSuperadmin: {CapManageTables, CapManageUsers, CapRunSessions, CapOperateSeats, CapViewReports, CapAdjustBalance, CapCloseCredit},
	RoleTableAdmin: {CapManageUsers, CapRunSessions, CapOperateSeats, CapViewReports, CapCloseCredit},
	RoleDealer:     {CapOperateSeats},
	RoleWaiter:     {},
}

// Can reports whether the role is granted the capability.
func (r Role) Can(c Capability) bool {
	for _, got := range roleCapabilities[r] {
		if got == c {
			return true
		}
	}
	return false
}

// User is a staff member or administrator account.
type User struct {
	ID           int64      `json:"id" db:"id"`
	Username     string     `json:"username" db:"username"`
	PasswordHash string     `json:"-" db:"password_hash"`
	Role         Role       `json:"role" db:"role"`
	TableID      *int64     `json:"table_id,omitempty" db:"table_id"`
	IsActive     bool       `json:"is_active" db:"is_active"`
	HourlyRate   int64      `json:"hourly_rate" db:"hourly_rate"` // chips per hour, 0 for non-staff
	OwnerID      *int64     `json:"owner_id,omitempty" db:"owner_id"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
}
