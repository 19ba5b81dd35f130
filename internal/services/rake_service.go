package services

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/greenfelt/backend/internal/models"
)

// RakeService reports session economics: chip flow totals, the manual
// rake ledger, and an informational attribution of table losses to the
// dealer who was on shift when each loss happened.
type RakeService struct {
	db *sql.DB
}

func NewRakeService(db *sql.DB) *RakeService {
	return &RakeService{db: db}
}

// SessionRakeSummary is the accounting view of a single session. TotalRake
// comes from the manual rake ledger and is authoritative for payroll;
// ComputedRake is derived from loss events and exists to cross-check it.
type SessionRakeSummary struct {
	SessionID     string          `json:"session_id"`
	TotalRake     int64           `json:"total_rake"`
	ComputedRake  int64           `json:"computed_rake"`
	TotalBuyins   int64           `json:"total_buyins"`
	TotalCashouts int64           `json:"total_cashouts"`
	ChipsOnTable  int64           `json:"chips_on_table"`
	TotalCredit   int64           `json:"total_credit"`
	RakeByDealer  map[int64]int64 `json:"rake_by_assignment"`
}

// lossEvent is a negative chip operation that has no matching purchase
// row: chips left a seat without money coming back out, i.e. the house won.
type lossEvent struct {
	Amount int64
	At     time.Time
}

type attributionShift struct {
	AssignmentID int64
	StartedAt    time.Time
	EndedAt      *time.Time
}

// attributeLosses assigns each loss to the dealer shift covering its
// timestamp. Shift bounds are inclusive; when handover timestamps collide,
// the most recently started shift wins, then the higher assignment id.
func attributeLosses(losses []lossEvent, shifts []attributionShift, sessionClosed *time.Time, now time.Time) map[int64]int64 {
	out := make(map[int64]int64)
	for _, loss := range losses {
		var best *attributionShift
		for i := range shifts {
			sh := &shifts[i]
			end := now
			if sh.EndedAt != nil {
				end = *sh.EndedAt
			}
			if sessionClosed != nil && sessionClosed.Before(end) {
				end = *sessionClosed
			}
			if loss.At.Before(sh.StartedAt) || loss.At.After(end) {
				continue
			}
			if best == nil ||
				sh.StartedAt.After(best.StartedAt) ||
				(sh.StartedAt.Equal(best.StartedAt) && sh.AssignmentID > best.AssignmentID) {
				best = sh
			}
		}
		if best != nil {
			out[best.AssignmentID] += -loss.Amount
		}
	}
	return out
}

// GetSessionRake returns the session accounting summary
// @Summary Session rake and chip-flow summary
// @Tags reports
// @Produce json
// @Security BearerAuth
// @Param sessionId path string true "Session ID"
// @Success 200 {object} SessionRakeSummary
// @Failure 404 {object} ErrorResponse
// @Router /sessions/{sessionId}/rake [get]
func (s *RakeService) GetSessionRake(w http.ResponseWriter, r *http.Request) {
	ident, ok := models.IdentityFrom(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}
	sessionID := chi.URLParam(r, "sessionId")

	summary, err := s.sessionRake(sessionID, ident.Scope)
	if err != nil {
		log.Printf("[RAKE] summary failed for session %s: %v", sessionID, err)
		SendErrorResponse(w, err.Error(), StatusForError(err), nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(summary)
}

func (s *RakeService) sessionRake(sessionID string, scope models.TenantScope) (*SessionRakeSummary, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	session, err := lockSessionTx(tx, sessionID, scope)
	if err != nil {
		return nil, err
	}

	summary := &SessionRakeSummary{SessionID: session.ID}

	err = tx.QueryRow(`
		SELECT
			COALESCE(SUM(CASE WHEN amount > 0 THEN amount END), 0),
			COALESCE(SUM(CASE WHEN amount < 0 THEN -amount END), 0)
		FROM chip_purchases
		WHERE session_id = $1 AND payment_type = $2`,
		session.ID, models.PaymentCash).
		Scan(&summary.TotalBuyins, &summary.TotalCashouts)
	if err != nil {
		return nil, fmt.Errorf("sum cash flow: %w", err)
	}

	err = tx.QueryRow(`
		SELECT COALESCE(SUM(amount), 0) FROM chip_purchases
		WHERE session_id = $1 AND payment_type = $2`,
		session.ID, models.PaymentCredit).Scan(&summary.TotalCredit)
	if err != nil {
		return nil, fmt.Errorf("sum credit: %w", err)
	}

	err = tx.QueryRow(`
		SELECT COALESCE(SUM(total), 0) FROM seats WHERE session_id = $1`,
		session.ID).Scan(&summary.ChipsOnTable)
	if err != nil {
		return nil, fmt.Errorf("sum seat totals: %w", err)
	}

	err = tx.QueryRow(`
		SELECT COALESCE(SUM(e.amount), 0)
		FROM rake_entries e
		JOIN dealer_assignments a ON a.id = e.assignment_id
		WHERE a.session_id = $1`, session.ID).Scan(&summary.TotalRake)
	if err != nil {
		return nil, fmt.Errorf("sum rake entries: %w", err)
	}

	losses, err := sessionLossesTx(tx, session.ID)
	if err != nil {
		return nil, err
	}
	shifts, err := sessionShiftsTx(tx, session.ID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	summary.RakeByDealer = attributeLosses(losses, shifts, session.ClosedAt, time.Now().UTC())
	for _, amount := range summary.RakeByDealer {
		summary.ComputedRake += amount
	}
	return summary, nil
}

func sessionLossesTx(tx *sql.Tx, sessionID string) ([]lossEvent, error) {
	rows, err := tx.Query(`
		SELECT o.amount, o.created_at
		FROM chip_ops o
		LEFT JOIN chip_purchases p ON p.chip_op_id = o.id
		WHERE o.session_id = $1 AND o.amount < 0 AND p.id IS NULL
		ORDER BY o.id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list loss events: %w", err)
	}
	defer rows.Close()

	var losses []lossEvent
	for rows.Next() {
		var l lossEvent
		if err := rows.Scan(&l.Amount, &l.At); err != nil {
			return nil, err
		}
		losses = append(losses, l)
	}
	return losses, rows.Err()
}

func sessionShiftsTx(tx *sql.Tx, sessionID string) ([]attributionShift, error) {
	rows, err := tx.Query(`
		SELECT id, started_at, ended_at
		FROM dealer_assignments
		WHERE session_id = $1
		ORDER BY started_at, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list dealer shifts: %w", err)
	}
	defer rows.Close()

	var shifts []attributionShift
	for rows.Next() {
		var sh attributionShift
		if err := rows.Scan(&sh.AssignmentID, &sh.StartedAt, &sh.EndedAt); err != nil {
			return nil, err
		}
		shifts = append(shifts, sh)
	}
	return shifts, rows.Err()
}
