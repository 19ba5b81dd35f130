package services

import "errors"

// Sentinel errors for the ledger and shift engine. Handlers translate
// these into HTTP status codes; anything else is surfaced as a generic
// transaction failure the caller may retry.
var (
	ErrSessionNotFound     = errors.New("session not found")
	ErrSessionNotOpen      = errors.New("session is not open")
	ErrSessionNotClosed    = errors.New("session is not closed")
	ErrSeatNotFound        = errors.New("seat not found")
	ErrTableNotFound       = errors.New("table not found")
	ErrStaffNotFound       = errors.New("staff member not found")
	ErrNoHistory           = errors.New("no history")
	ErrInvalidCashoutSplit = errors.New("invalid cashout split")

	ErrDealerUnavailable      = errors.New("dealer unavailable")
	ErrWaiterUnavailable      = errors.New("waiter unavailable")
	ErrDealerAlreadyAssigned  = errors.New("dealer already assigned to an open session")
	ErrDealerAlreadyInSession = errors.New("dealer already active in this session")
	ErrWaiterAlreadyInSession = errors.New("waiter already active in this session")
	ErrLastDealer             = errors.New("cannot remove the last active dealer")
	ErrMultipleDealers        = errors.New("session has more than one active dealer")
	ErrAssignmentNotFound     = errors.New("assignment not found")
	ErrAssignmentEnded        = errors.New("assignment already ended")

	ErrNoCredit            = errors.New("no credit for this seat")
	ErrAmountExceedsCredit = errors.New("amount exceeds outstanding credit")

	ErrForbidden = errors.New("forbidden for this tenant")
)
