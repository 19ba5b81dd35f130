package models

// TenantScope is resolved once at the request boundary and threaded through
// every core call. It replaces ad-hoc owner-id checks inside ledger logic.
type TenantScope struct {
	All     bool  // superadmin: no ownership filter
	OwnerID int64 // owning table_admin when All is false
}

// ScopeAll returns the unrestricted scope.
func ScopeAll() TenantScope { return TenantScope{All: true} }

// ScopeOwner returns a scope restricted to one casino owner.
func ScopeOwner(ownerID int64) TenantScope { return TenantScope{OwnerID: ownerID} }

// Owns reports whether the scope may touch a row with the given owner id.
// Rows with no owner are superadmin-only.
func (s TenantScope) Owns(ownerID *int64) bool {
	if s.All {
		return true
	}
	return ownerID != nil && *ownerID == s.OwnerID
}
