package services

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/greenfelt/backend/internal/models"
)

// ShiftService tracks who is working a session and when. Dealer
// assignments are globally exclusive while active; waiter assignments may
// overlap across sessions.
type ShiftService struct {
	db        *sql.DB
	validator *ValidationHelper
}

func NewShiftService(db *sql.DB) *ShiftService {
	return &ShiftService{
		db:        db,
		validator: NewValidationHelper(),
	}
}

// lockStaffTx locks an active staff row of the expected role. The row
// lock serializes concurrent exclusivity checks on the same person.
func lockStaffTx(tx *sql.Tx, userID int64, role models.Role, scope models.TenantScope) (*models.User, error) {
	var u models.User
	var roleStr string
	var tableID, ownerID sql.NullInt64
	err := tx.QueryRow(`
		SELECT id, username, role, table_id, is_active, COALESCE(hourly_rate, 0), owner_id
		FROM users
		WHERE id = $1
		FOR UPDATE`, userID).
		Scan(&u.ID, &u.Username, &roleStr, &tableID, &u.IsActive, &u.HourlyRate, &ownerID)
	if err != nil {
		return nil, fmt.Errorf("lock staff: %w", err)
	}
	u.Role, err = models.ParseRole(roleStr)
	if err != nil {
		return nil, err
	}
	if tableID.Valid {
		u.TableID = &tableID.Int64
	}
	if ownerID.Valid {
		u.OwnerID = &ownerID.Int64
	}
	if u.Role != role || !u.IsActive {
		return nil, fmt.Errorf("user %d is not an active %s", userID, role)
	}
	if !scope.Owns(u.OwnerID) {
		return nil, ErrForbidden
	}
	return &u, nil
}

// dealerActiveTx reports whether the dealer holds an active assignment on
// any open session.
func dealerActiveTx(tx *sql.Tx, dealerID int64) (bool, error) {
	var n int
	err := tx.QueryRow(`
		SELECT COUNT(*)
		FROM dealer_assignments a
		JOIN sessions s ON s.id = a.session_id
		WHERE a.dealer_id = $1 AND a.ended_at IS NULL AND s.status = $2`,
		dealerID, models.SessionOpen).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check dealer exclusivity: %w", err)
	}
	return n > 0, nil
}

func insertDealerAssignmentTx(tx *sql.Tx, sessionID string, dealerID int64) (int64, error) {
	var id int64
	err := tx.QueryRow(`
		INSERT INTO dealer_assignments (session_id, dealer_id, started_at)
		VALUES ($1, $2, $3)
		RETURNING id`, sessionID, dealerID, time.Now().UTC()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert dealer assignment: %w", err)
	}
	return id, nil
}

func insertWaiterAssignmentTx(tx *sql.Tx, sessionID string, waiterID int64) (int64, error) {
	var id int64
	err := tx.QueryRow(`
		INSERT INTO waiter_assignments (session_id, waiter_id, started_at)
		VALUES ($1, $2, $3)
		RETURNING id`, sessionID, waiterID, time.Now().UTC()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert waiter assignment: %w", err)
	}
	return id, nil
}

func endDealerAssignmentTx(tx *sql.Tx, assignmentID int64, rake *int64) error {
	res, err := tx.Exec(`
		UPDATE dealer_assignments
		SET ended_at = $1, rake = $2
		WHERE id = $3 AND ended_at IS NULL`,
		time.Now().UTC(), rake, assignmentID)
	if err != nil {
		return fmt.Errorf("end dealer assignment: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrAssignmentEnded
	}
	return nil
}

// endAllAssignmentsTx finalizes every active dealer and waiter shift on a
// session, stamping caller-supplied rake values by assignment id.
func endAllAssignmentsTx(tx *sql.Tx, sessionID string, rakeByAssignment map[int64]int64) error {
	rows, err := tx.Query(`
		SELECT id FROM dealer_assignments
		WHERE session_id = $1 AND ended_at IS NULL`, sessionID)
	if err != nil {
		return fmt.Errorf("list active dealer assignments: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, id := range ids {
		var rake *int64
		if r, ok := rakeByAssignment[id]; ok {
			rake = &r
		}
		if err := endDealerAssignmentTx(tx, id, rake); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(`
		UPDATE waiter_assignments
		SET ended_at = $1
		WHERE session_id = $2 AND ended_at IS NULL`,
		time.Now().UTC(), sessionID); err != nil {
		return fmt.Errorf("end waiter assignments: %w", err)
	}
	return nil
}

// SessionStaff is the staffing view returned by shift operations.
type SessionStaff struct {
	Session           *models.Session           `json:"session"`
	DealerAssignments []models.DealerAssignment `json:"dealer_assignments"`
	WaiterAssignments []models.WaiterAssignment `json:"waiter_assignments"`
}

func sessionStaffTx(tx *sql.Tx, session *models.Session) (*SessionStaff, error) {
	out := &SessionStaff{Session: session}

	rows, err := tx.Query(`
		SELECT id, session_id, dealer_id, started_at, ended_at, rake
		FROM dealer_assignments
		WHERE session_id = $1
		ORDER BY started_at, id`, session.ID)
	if err != nil {
		return nil, fmt.Errorf("list dealer assignments: %w", err)
	}
	for rows.Next() {
		var a models.DealerAssignment
		var rake sql.NullInt64
		if err := rows.Scan(&a.ID, &a.SessionID, &a.DealerID, &a.StartedAt, &a.EndedAt, &rake); err != nil {
			rows.Close()
			return nil, err
		}
		if rake.Valid {
			a.Rake = &rake.Int64
		}
		out.DealerAssignments = append(out.DealerAssignments, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = tx.Query(`
		SELECT id, session_id, waiter_id, started_at, ended_at
		FROM waiter_assignments
		WHERE session_id = $1
		ORDER BY started_at, id`, session.ID)
	if err != nil {
		return nil, fmt.Errorf("list waiter assignments: %w", err)
	}
	for rows.Next() {
		var a models.WaiterAssignment
		if err := rows.Scan(&a.ID, &a.SessionID, &a.WaiterID, &a.StartedAt, &a.EndedAt); err != nil {
			rows.Close()
			return nil, err
		}
		out.WaiterAssignments = append(out.WaiterAssignments, a)
	}
	rows.Close()
	return out, rows.Err()
}

// GetStaff returns the staffing view without mutating anything
// @Summary Session staffing
// @Tags shifts
// @Produce json
// @Security BearerAuth
// @Param sessionId path string true "Session ID"
// @Success 200 {object} SessionStaff
// @Failure 404 {object} ErrorResponse
// @Router /sessions/{sessionId}/staff [get]
func (s *ShiftService) GetStaff(w http.ResponseWriter, r *http.Request) {
	ident, ok := models.IdentityFrom(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}
	sessionID := chi.URLParam(r, "sessionId")

	staff, err := s.sessionStaff(sessionID, ident.Scope)
	if err != nil {
		log.Printf("[SHIFT] staffing lookup failed for session %s: %v", sessionID, err)
		SendErrorResponse(w, err.Error(), StatusForError(err), nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(staff)
}

func (s *ShiftService) sessionStaff(sessionID string, scope models.TenantScope) (*SessionStaff, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	session, err := lockSessionTx(tx, sessionID, scope)
	if err != nil {
		return nil, err
	}
	staff, err := sessionStaffTx(tx, session)
	if err != nil {
		return nil, err
	}
	return staff, tx.Commit()
}

type AddDealerRequest struct {
	DealerID int64 `json:"dealerId" validate:"required,gte=1"`
}

// AddDealer opens a concurrent dealer shift
// @Summary Add a dealer to a session
// @Description Opens a new assignment without ending existing ones (co-dealer support)
// @Tags shifts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param sessionId path string true "Session ID"
// @Param request body AddDealerRequest true "Dealer"
// @Success 200 {object} SessionStaff
// @Failure 409 {object} ErrorResponse
// @Router /sessions/{sessionId}/dealers [post]
func (s *ShiftService) AddDealer(w http.ResponseWriter, r *http.Request) {
	s.shiftRequest(w, r, func(tx *sql.Tx, session *models.Session, body []byte, ident models.Identity) error {
		var req AddDealerRequest
		if err := unmarshalStrict(body, &req); err != nil {
			return err
		}
		if err := s.validator.ValidateStruct(&req); err != nil {
			return err
		}
		dealer, err := lockStaffTx(tx, req.DealerID, models.RoleDealer, ident.Scope)
		if err != nil {
			return ErrDealerUnavailable
		}
		if active, err := dealerActiveInSessionTx(tx, session.ID, dealer.ID); err != nil {
			return err
		} else if active {
			return ErrDealerAlreadyInSession
		}
		if busy, err := dealerActiveTx(tx, dealer.ID); err != nil {
			return err
		} else if busy {
			return ErrDealerAlreadyAssigned
		}
		_, err = insertDealerAssignmentTx(tx, session.ID, dealer.ID)
		return err
	})
}

func dealerActiveInSessionTx(tx *sql.Tx, sessionID string, dealerID int64) (bool, error) {
	var n int
	err := tx.QueryRow(`
		SELECT COUNT(*) FROM dealer_assignments
		WHERE session_id = $1 AND dealer_id = $2 AND ended_at IS NULL`,
		sessionID, dealerID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check dealer in session: %w", err)
	}
	return n > 0, nil
}

type RemoveDealerRequest struct {
	AssignmentID int64 `json:"assignmentId" validate:"required,gte=1"`
	Rake         int64 `json:"rake" validate:"gte=0"`
}

// RemoveDealer ends a dealer shift
// @Summary Remove a dealer from a session
// @Description Ends the assignment and stamps its rake; the last active dealer cannot be removed
// @Tags shifts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param sessionId path string true "Session ID"
// @Param request body RemoveDealerRequest true "Assignment and rake"
// @Success 200 {object} SessionStaff
// @Failure 409 {object} ErrorResponse
// @Router /sessions/{sessionId}/dealers/remove [post]
func (s *ShiftService) RemoveDealer(w http.ResponseWriter, r *http.Request) {
	s.shiftRequest(w, r, func(tx *sql.Tx, session *models.Session, body []byte, ident models.Identity) error {
		var req RemoveDealerRequest
		if err := unmarshalStrict(body, &req); err != nil {
			return err
		}
		if err := s.validator.ValidateStruct(&req); err != nil {
			return err
		}

		var owner string
		err := tx.QueryRow(`
			SELECT session_id FROM dealer_assignments WHERE id = $1 AND ended_at IS NULL`,
			req.AssignmentID).Scan(&owner)
		if err == sql.ErrNoRows {
			return ErrAssignmentNotFound
		}
		if err != nil {
			return fmt.Errorf("load assignment: %w", err)
		}
		if owner != session.ID {
			return ErrAssignmentNotFound
		}

		active, err := activeDealerCountTx(tx, session.ID)
		if err != nil {
			return err
		}
		if active <= 1 {
			return ErrLastDealer
		}
		return endDealerAssignmentTx(tx, req.AssignmentID, &req.Rake)
	})
}

func activeDealerCountTx(tx *sql.Tx, sessionID string) (int, error) {
	var n int
	err := tx.QueryRow(`
		SELECT COUNT(*) FROM dealer_assignments
		WHERE session_id = $1 AND ended_at IS NULL`, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active dealers: %w", err)
	}
	return n, nil
}

type ReplaceDealerRequest struct {
	DealerID     int64 `json:"dealerId" validate:"required,gte=1"`
	OutgoingRake int64 `json:"outgoingRake" validate:"gte=0"`
}

// ReplaceDealer swaps the active dealer
// @Summary Replace the active dealer
// @Description Atomically ends the single active assignment with its rake and opens one for the new dealer
// @Tags shifts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param sessionId path string true "Session ID"
// @Param request body ReplaceDealerRequest true "Incoming dealer and outgoing rake"
// @Success 200 {object} SessionStaff
// @Failure 409 {object} ErrorResponse
// @Router /sessions/{sessionId}/dealers/replace [post]
func (s *ShiftService) ReplaceDealer(w http.ResponseWriter, r *http.Request) {
	s.shiftRequest(w, r, func(tx *sql.Tx, session *models.Session, body []byte, ident models.Identity) error {
		var req ReplaceDealerRequest
		if err := unmarshalStrict(body, &req); err != nil {
			return err
		}
		if err := s.validator.ValidateStruct(&req); err != nil {
			return err
		}

		var outgoingID, outgoingDealer int64
		rows, err := tx.Query(`
			SELECT id, dealer_id FROM dealer_assignments
			WHERE session_id = $1 AND ended_at IS NULL
			ORDER BY started_at DESC, id DESC`, session.ID)
		if err != nil {
			return fmt.Errorf("list active assignments: %w", err)
		}
		count := 0
		for rows.Next() {
			count++
			if count == 1 {
				if err := rows.Scan(&outgoingID, &outgoingDealer); err != nil {
					rows.Close()
					return err
				}
			} else {
				var discardID, discardDealer int64
				if err := rows.Scan(&discardID, &discardDealer); err != nil {
					rows.Close()
					return err
				}
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if count == 0 {
			return ErrAssignmentNotFound
		}
		if count > 1 {
			// With co-dealers there is no single shift to hand over;
			// callers must remove and add explicitly.
			return ErrMultipleDealers
		}

		incoming, err := lockStaffTx(tx, req.DealerID, models.RoleDealer, ident.Scope)
		if err != nil {
			return ErrDealerUnavailable
		}
		if incoming.ID == outgoingDealer {
			return ErrDealerAlreadyInSession
		}

		if err := endDealerAssignmentTx(tx, outgoingID, &req.OutgoingRake); err != nil {
			return err
		}
		if busy, err := dealerActiveTx(tx, incoming.ID); err != nil {
			return err
		} else if busy {
			return ErrDealerAlreadyAssigned
		}
		_, err = insertDealerAssignmentTx(tx, session.ID, incoming.ID)
		return err
	})
}

type AddWaiterRequest struct {
	WaiterID int64 `json:"waiterId" validate:"required,gte=1"`
}

// AddWaiter opens a waiter shift
// @Summary Add a waiter to a session
// @Tags shifts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param sessionId path string true "Session ID"
// @Param request body AddWaiterRequest true "Waiter"
// @Success 200 {object} SessionStaff
// @Failure 409 {object} ErrorResponse
// @Router /sessions/{sessionId}/waiters [post]
func (s *ShiftService) AddWaiter(w http.ResponseWriter, r *http.Request) {
	s.shiftRequest(w, r, func(tx *sql.Tx, session *models.Session, body []byte, ident models.Identity) error {
		var req AddWaiterRequest
		if err := unmarshalStrict(body, &req); err != nil {
			return err
		}
		if err := s.validator.ValidateStruct(&req); err != nil {
			return err
		}
		waiter, err := lockStaffTx(tx, req.WaiterID, models.RoleWaiter, ident.Scope)
		if err != nil {
			return ErrWaiterUnavailable
		}

		var n int
		if err := tx.QueryRow(`
			SELECT COUNT(*) FROM waiter_assignments
			WHERE session_id = $1 AND waiter_id = $2 AND ended_at IS NULL`,
			session.ID, waiter.ID).Scan(&n); err != nil {
			return fmt.Errorf("check waiter in session: %w", err)
		}
		if n > 0 {
			return ErrWaiterAlreadyInSession
		}
		_, err = insertWaiterAssignmentTx(tx, session.ID, waiter.ID)
		return err
	})
}

type RemoveWaiterRequest struct {
	AssignmentID int64 `json:"assignmentId" validate:"required,gte=1"`
}

// RemoveWaiter ends a waiter shift
// @Summary Remove a waiter from a session
// @Tags shifts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param sessionId path string true "Session ID"
// @Param request body RemoveWaiterRequest true "Assignment"
// @Success 200 {object} SessionStaff
// @Failure 404 {object} ErrorResponse
// @Router /sessions/{sessionId}/waiters/remove [post]
func (s *ShiftService) RemoveWaiter(w http.ResponseWriter, r *http.Request) {
	s.shiftRequest(w, r, func(tx *sql.Tx, session *models.Session, body []byte, ident models.Identity) error {
		var req RemoveWaiterRequest
		if err := unmarshalStrict(body, &req); err != nil {
			return err
		}
		if err := s.validator.ValidateStruct(&req); err != nil {
			return err
		}

		res, err := tx.Exec(`
			UPDATE waiter_assignments
			SET ended_at = $1
			WHERE id = $2 AND session_id = $3 AND ended_at IS NULL`,
			time.Now().UTC(), req.AssignmentID, session.ID)
		if err != nil {
			return fmt.Errorf("end waiter assignment: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return ErrAssignmentNotFound
		}
		return nil
	})
}

type AddRakeEntryRequest struct {
	Amount int64 `json:"amount" validate:"required,gt=0"`
}

// AddRakeEntry records a manual rake amount on a dealer shift
// @Summary Add a rake entry
// @Description Appends to the additive rake audit trail for an assignment
// @Tags shifts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param assignmentId path int true "Assignment ID"
// @Param request body AddRakeEntryRequest true "Rake amount"
// @Success 200 {object} SessionStaff
// @Failure 404 {object} ErrorResponse
// @Router /assignments/{assignmentId}/rake-entries [post]
func (s *ShiftService) AddRakeEntry(w http.ResponseWriter, r *http.Request) {
	ident, ok := models.IdentityFrom(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}
	assignmentID, err := strconv.ParseInt(chi.URLParam(r, "assignmentId"), 10, 64)
	if err != nil {
		SendErrorResponse(w, "Invalid assignment id", http.StatusBadRequest, nil)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	var req AddRakeEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	staff, err := s.addRakeEntry(assignmentID, req.Amount, ident)
	if err != nil {
		log.Printf("[SHIFT] rake entry failed for assignment %d: %v", assignmentID, err)
		SendErrorResponse(w, err.Error(), StatusForError(err), nil)
		return
	}

	log.Printf("[SHIFT] assignment %d: rake entry %d recorded", assignmentID, req.Amount)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(staff)
}

func (s *ShiftService) addRakeEntry(assignmentID, amount int64, ident models.Identity) (*SessionStaff, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var sessionID string
	err = tx.QueryRow(`SELECT session_id FROM dealer_assignments WHERE id = $1`, assignmentID).Scan(&sessionID)
	if err == sql.ErrNoRows {
		return nil, ErrAssignmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load assignment: %w", err)
	}

	session, err := lockSessionTx(tx, sessionID, ident.Scope)
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(`
		INSERT INTO rake_entries (assignment_id, amount, created_by_user_id, created_at)
		VALUES ($1, $2, $3, $4)`,
		assignmentID, amount, ident.UserID, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("insert rake entry: %w", err)
	}

	staff, err := sessionStaffTx(tx, session)
	if err != nil {
		return nil, err
	}
	return staff, tx.Commit()
}

// shiftRequest wraps the shared plumbing of shift mutations: decode the
// body once, lock the open session, run the mutation, and answer with the
// refreshed staffing view.
func (s *ShiftService) shiftRequest(w http.ResponseWriter, r *http.Request, mutate func(tx *sql.Tx, session *models.Session, body []byte, ident models.Identity) error) {
	ident, ok := models.IdentityFrom(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}
	sessionID := chi.URLParam(r, "sessionId")

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	staff, err := s.runShift(sessionID, body, ident, mutate)
	if err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
			return
		}
		if isBodyError(err) {
			SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
			return
		}
		log.Printf("[SHIFT] session %s: %v", sessionID, err)
		SendErrorResponse(w, err.Error(), StatusForError(err), err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(staff)
}

func (s *ShiftService) runShift(sessionID string, body []byte, ident models.Identity, mutate func(tx *sql.Tx, session *models.Session, body []byte, ident models.Identity) error) (*SessionStaff, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	session, err := lockOpenSessionTx(tx, sessionID, ident.Scope)
	if err != nil {
		return nil, err
	}
	if err := mutate(tx, session, body, ident); err != nil {
		return nil, err
	}
	staff, err := sessionStaffTx(tx, session)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return staff, nil
}

func unmarshalStrict(body []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// isBodyError reports whether err came from decoding the request body
// rather than from the mutation itself, so the caller answers 400.
func isBodyError(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		strings.Contains(err.Error(), "json: unknown field")
}
