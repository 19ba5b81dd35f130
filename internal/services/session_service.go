package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/greenfelt/backend/internal/config"
	"github.com/greenfelt/backend/internal/models"
)

// SessionService orchestrates the session lifecycle: idempotent creation
// with the opening dealer shift, seat occupancy, and the atomic close
// that reconciles every chip on the table.
type SessionService struct {
	db        *sql.DB
	redis     *redis.Client
	cfg       *config.CasinoConfig
	validator *ValidationHelper
}

func NewSessionService(db *sql.DB, redisClient *redis.Client, cfg *config.CasinoConfig) *SessionService {
	return &SessionService{
		db:        db,
		redis:     redisClient,
		cfg:       cfg,
		validator: NewValidationHelper(),
	}
}

type CreateSessionRequest struct {
	TableID     int64  `json:"tableId" validate:"required,gte=1"`
	Date        string `json:"date" validate:"omitempty,datetime=2006-01-02"`
	SeatsCount  int    `json:"seatsCount" validate:"omitempty,gte=1"`
	DealerID    int64  `json:"dealerId" validate:"required,gte=1"`
	WaiterID    *int64 `json:"waiterId" validate:"omitempty,gte=1"`
	ChipsInPlay int64  `json:"chipsInPlay" validate:"gte=0"`
}

// Create opens a session on a table
// @Summary Create a session
// @Description Opens a session with the first dealer shift; returns the existing open session if one exists (idempotent)
// @Tags sessions
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body CreateSessionRequest true "Session parameters"
// @Success 200 {object} models.Session
// @Failure 400 {object} ErrorResponse
// @Router /sessions [post]
func (s *SessionService) Create(w http.ResponseWriter, r *http.Request) {
	ident, ok := models.IdentityFrom(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req CreateSessionRequest
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	session, err := s.create(req, ident)
	if err != nil {
		log.Printf("[SESSION] create failed for table %d: %v", req.TableID, err)
		SendErrorResponse(w, err.Error(), StatusForError(err), nil)
		return
	}

	log.Printf("[SESSION] table %d: session %s open", req.TableID, session.ID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(session)
}

func (s *SessionService) create(req CreateSessionRequest, ident models.Identity) (*models.Session, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	// Lock the table row so concurrent creates on the same table serialize.
	var table models.Table
	var tableOwner sql.NullInt64
	err = tx.QueryRow(`
		SELECT id, name, seats_count, owner_id FROM tables WHERE id = $1 FOR UPDATE`,
		req.TableID).Scan(&table.ID, &table.Name, &table.SeatsCount, &tableOwner)
	if err == sql.ErrNoRows {
		return nil, ErrTableNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock table: %w", err)
	}
	if tableOwner.Valid {
		table.OwnerID = &tableOwner.Int64
	}
	if !ident.Scope.Owns(table.OwnerID) {
		return nil, ErrForbidden
	}

	// Idempotent create: a duplicate request gets the already-open session.
	existing, err := openSessionForTableTx(tx, req.TableID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	dealer, err := lockStaffTx(tx, req.DealerID, models.RoleDealer, ident.Scope)
	if err != nil {
		return nil, ErrDealerUnavailable
	}
	if busy, err := dealerActiveTx(tx, dealer.ID); err != nil {
		return nil, err
	} else if busy {
		return nil, ErrDealerAlreadyAssigned
	}

	var waiter *models.User
	if req.WaiterID != nil {
		waiter, err = lockStaffTx(tx, *req.WaiterID, models.RoleWaiter, ident.Scope)
		if err != nil {
			return nil, ErrWaiterUnavailable
		}
	}

	date := time.Now().UTC()
	if req.Date != "" {
		date, _ = time.Parse("2006-01-02", req.Date)
	}
	seats := req.SeatsCount
	if seats == 0 {
		seats = table.SeatsCount
	}
	if seats > s.cfg.MaxSeatCount {
		seats = s.cfg.MaxSeatCount
	}

	session := &models.Session{
		ID:          uuid.NewString(),
		TableID:     table.ID,
		Date:        date,
		Status:      models.SessionOpen,
		ChipsInPlay: req.ChipsInPlay,
		CreatedAt:   time.Now().UTC(),
	}
	_, err = tx.Exec(`
		INSERT INTO sessions (id, table_id, date, status, chips_in_play, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		session.ID, session.TableID, session.Date, session.Status, session.ChipsInPlay, session.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}

	for seatNo := 1; seatNo <= seats; seatNo++ {
		if _, err := tx.Exec(`
			INSERT INTO seats (session_id, seat_no, player_name, total)
			VALUES ($1, $2, NULL, 0)`, session.ID, seatNo); err != nil {
			return nil, fmt.Errorf("insert seat %d: %w", seatNo, err)
		}
	}

	if _, err := insertDealerAssignmentTx(tx, session.ID, dealer.ID); err != nil {
		return nil, err
	}
	if waiter != nil {
		if _, err := insertWaiterAssignmentTx(tx, session.ID, waiter.ID); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	s.cacheOpenSession(session)
	return session, nil
}

// GetOpen returns the open session for a table
// @Summary Get the open session for a table
// @Tags sessions
// @Produce json
// @Security BearerAuth
// @Param tableId query int true "Table ID"
// @Success 200 {object} models.Session
// @Failure 404 {object} ErrorResponse
// @Router /sessions/open [get]
func (s *SessionService) GetOpen(w http.ResponseWriter, r *http.Request) {
	ident, ok := models.IdentityFrom(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}
	tableID, err := strconv.ParseInt(r.URL.Query().Get("tableId"), 10, 64)
	if err != nil {
		SendErrorResponse(w, "tableId is required", http.StatusBadRequest, nil)
		return
	}

	session, err := s.openSessionForTable(tableID, ident.Scope)
	if err != nil {
		SendErrorResponse(w, err.Error(), StatusForError(err), nil)
		return
	}
	if session == nil {
		SendErrorResponse(w, "No open session for this table", http.StatusNotFound, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(session)
}

func (s *SessionService) openSessionForTable(tableID int64, scope models.TenantScope) (*models.Session, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var owner sql.NullInt64
	err = tx.QueryRow(`SELECT owner_id FROM tables WHERE id = $1`, tableID).Scan(&owner)
	if err == sql.ErrNoRows {
		return nil, ErrTableNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load table: %w", err)
	}
	var ownerID *int64
	if owner.Valid {
		ownerID = &owner.Int64
	}
	if !scope.Owns(ownerID) {
		return nil, ErrForbidden
	}

	// Ownership verified; the cache only skips the session lookup itself.
	if cached := s.cachedOpenSession(tableID); cached != nil {
		return cached, nil
	}

	session, err := openSessionForTableTx(tx, tableID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	if session != nil {
		s.cacheOpenSession(session)
	}
	return session, nil
}

func openSessionForTableTx(tx *sql.Tx, tableID int64) (*models.Session, error) {
	var session models.Session
	err := tx.QueryRow(`
		SELECT id, table_id, date, status, chips_in_play, created_at, closed_at
		FROM sessions
		WHERE table_id = $1 AND status = $2
		ORDER BY created_at DESC
		LIMIT 1`, tableID, models.SessionOpen).
		Scan(&session.ID, &session.TableID, &session.Date, &session.Status,
			&session.ChipsInPlay, &session.CreatedAt, &session.ClosedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find open session: %w", err)
	}
	return &session, nil
}

// ListSeats lists a session's seats
// @Summary List seats
// @Tags sessions
// @Produce json
// @Security BearerAuth
// @Param sessionId path string true "Session ID"
// @Success 200 {array} models.Seat
// @Failure 404 {object} ErrorResponse
// @Router /sessions/{sessionId}/seats [get]
func (s *SessionService) ListSeats(w http.ResponseWriter, r *http.Request) {
	ident, ok := models.IdentityFrom(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}
	sessionID := chi.URLParam(r, "sessionId")

	seats, err := s.listSeats(sessionID, ident.Scope)
	if err != nil {
		SendErrorResponse(w, err.Error(), StatusForError(err), nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(seats)
}

func (s *SessionService) listSeats(sessionID string, scope models.TenantScope) ([]models.Seat, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := lockSessionTx(tx, sessionID, scope); err != nil {
		return nil, err
	}

	rows, err := tx.Query(`
		SELECT id, session_id, seat_no, player_name, total
		FROM seats
		WHERE session_id = $1
		ORDER BY seat_no`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list seats: %w", err)
	}
	defer rows.Close()

	seats := []models.Seat{}
	for rows.Next() {
		var seat models.Seat
		var name sql.NullString
		if err := rows.Scan(&seat.ID, &seat.SessionID, &seat.SeatNo, &name, &seat.Total); err != nil {
			return nil, fmt.Errorf("scan seat: %w", err)
		}
		if name.Valid {
			seat.PlayerName = &name.String
		}
		seats = append(seats, seat)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return seats, tx.Commit()
}

type AssignPlayerRequest struct {
	PlayerName *string `json:"playerName" validate:"omitempty,max=255"`
}

// AssignPlayer sets or changes the player occupying a seat
// @Summary Assign a player to a seat
// @Tags sessions
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param sessionId path string true "Session ID"
// @Param seatNo path int true "Seat number"
// @Param request body AssignPlayerRequest true "Player name"
// @Success 200 {object} models.Seat
// @Failure 404 {object} ErrorResponse
// @Router /sessions/{sessionId}/seats/{seatNo} [put]
func (s *SessionService) AssignPlayer(w http.ResponseWriter, r *http.Request) {
	ident, ok := models.IdentityFrom(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}
	sessionID := chi.URLParam(r, "sessionId")
	seatNo, err := strconv.Atoi(chi.URLParam(r, "seatNo"))
	if err != nil {
		SendErrorResponse(w, "Invalid seat number", http.StatusBadRequest, nil)
		return
	}

	var req AssignPlayerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	seat, err := s.assignPlayer(sessionID, seatNo, req.PlayerName, ident)
	if err != nil {
		log.Printf("[SESSION] assign player failed for session %s seat %d: %v", sessionID, seatNo, err)
		SendErrorResponse(w, err.Error(), StatusForError(err), nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(seat)
}

func (s *SessionService) assignPlayer(sessionID string, seatNo int, name *string, ident models.Identity) (*models.Seat, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := lockOpenSessionTx(tx, sessionID, ident.Scope); err != nil {
		return nil, err
	}
	seat, err := lockSeatTx(tx, sessionID, seatNo)
	if err != nil {
		return nil, err
	}

	if err := recordNameChangeTx(tx, sessionID, seatNo, seat.PlayerName, name, "name_change", ident.UserID); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(`UPDATE seats SET player_name = $1 WHERE id = $2`, name, seat.ID); err != nil {
		return nil, fmt.Errorf("update player name: %w", err)
	}
	seat.PlayerName = name

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return seat, nil
}

// ClearSeat resets a seat when its player leaves
// @Summary Clear a seat
// @Description Clears the player name, zeroes the total, and removes the occupant's ledger rows
// @Tags sessions
// @Produce json
// @Security BearerAuth
// @Param sessionId path string true "Session ID"
// @Param seatNo path int true "Seat number"
// @Success 200 {object} models.Seat
// @Failure 404 {object} ErrorResponse
// @Router /sessions/{sessionId}/seats/{seatNo} [delete]
func (s *SessionService) ClearSeat(w http.ResponseWriter, r *http.Request) {
	ident, ok := models.IdentityFrom(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}
	sessionID := chi.URLParam(r, "sessionId")
	seatNo, err := strconv.Atoi(chi.URLParam(r, "seatNo"))
	if err != nil {
		SendErrorResponse(w, "Invalid seat number", http.StatusBadRequest, nil)
		return
	}

	seat, err := s.clearSeat(sessionID, seatNo, ident)
	if err != nil {
		log.Printf("[SESSION] clear seat failed for session %s seat %d: %v", sessionID, seatNo, err)
		SendErrorResponse(w, err.Error(), StatusForError(err), nil)
		return
	}

	log.Printf("[SESSION] session %s seat %d cleared", sessionID, seatNo)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(seat)
}

func (s *SessionService) clearSeat(sessionID string, seatNo int, ident models.Identity) (*models.Seat, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := lockOpenSessionTx(tx, sessionID, ident.Scope); err != nil {
		return nil, err
	}
	seat, err := lockSeatTx(tx, sessionID, seatNo)
	if err != nil {
		return nil, err
	}

	if err := recordNameChangeTx(tx, sessionID, seatNo, seat.PlayerName, nil, "player_left", ident.UserID); err != nil {
		return nil, err
	}

	played, err := totalChipsPlayedTx(tx, sessionID, seatNo)
	if err != nil {
		return nil, err
	}
	log.Printf("[SESSION] session %s seat %d: occupant leaving with %d chips, %d played", sessionID, seatNo, seat.Total, played)

	// The occupant's ledger rows leave with them; the seat starts fresh
	// with no history, so the total invariant holds trivially.
	if _, err := tx.Exec(`DELETE FROM chip_purchases WHERE session_id = $1 AND seat_no = $2`, sessionID, seatNo); err != nil {
		return nil, fmt.Errorf("delete purchases: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM chip_ops WHERE session_id = $1 AND seat_no = $2`, sessionID, seatNo); err != nil {
		return nil, fmt.Errorf("delete chip ops: %w", err)
	}
	if _, err := tx.Exec(`UPDATE seats SET player_name = NULL, total = 0 WHERE id = $1`, seat.ID); err != nil {
		return nil, fmt.Errorf("reset seat: %w", err)
	}
	seat.PlayerName = nil
	seat.Total = 0

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return seat, nil
}

func recordNameChangeTx(tx *sql.Tx, sessionID string, seatNo int, oldName, newName *string, changeType string, userID int64) error {
	_, err := tx.Exec(`
		INSERT INTO seat_name_changes (session_id, seat_no, old_name, new_name, change_type, created_at, created_by_user_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		sessionID, seatNo, oldName, newName, changeType, time.Now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("record name change: %w", err)
	}
	return nil
}

type CloseSessionRequest struct {
	DealerRakes []DealerRake `json:"dealerRakes" validate:"dive"`
}

type DealerRake struct {
	AssignmentID int64 `json:"assignmentId" validate:"required,gte=1"`
	Rake         int64 `json:"rake" validate:"gte=0"`
}

// Close closes a session
// @Summary Close a session
// @Description Forces cash-outs for all seats, ends all active shifts, and marks the session closed in one transaction
// @Tags sessions
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param sessionId path string true "Session ID"
// @Param request body CloseSessionRequest true "Per-assignment rake values"
// @Success 200 {object} models.Session
// @Failure 404 {object} ErrorResponse
// @Router /sessions/{sessionId}/close [post]
func (s *SessionService) Close(w http.ResponseWriter, r *http.Request) {
	ident, ok := models.IdentityFrom(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}
	sessionID := chi.URLParam(r, "sessionId")

	var req CloseSessionRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
			return
		}
		if err := s.validator.ValidateStruct(&req); err != nil {
			SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
			return
		}
	}

	session, err := s.close(sessionID, req.DealerRakes, ident)
	if err != nil {
		log.Printf("[SESSION] close failed for session %s: %v", sessionID, err)
		SendErrorResponse(w, err.Error(), StatusForError(err), nil)
		return
	}

	log.Printf("[SESSION] session %s closed", sessionID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(session)
}

// close is the reconciliation point: after it commits, every chip that
// entered the table is either cashed out or carried as explicit credit
// debt, and no shift is left open.
func (s *SessionService) close(sessionID string, rakes []DealerRake, ident models.Identity) (*models.Session, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	session, err := lockOpenSessionTx(tx, sessionID, ident.Scope)
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(`
		SELECT id, session_id, seat_no, player_name, total
		FROM seats
		WHERE session_id = $1
		ORDER BY seat_no
		FOR UPDATE`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("lock seats: %w", err)
	}
	seats := []models.Seat{}
	for rows.Next() {
		var seat models.Seat
		var name sql.NullString
		if err := rows.Scan(&seat.ID, &seat.SessionID, &seat.SeatNo, &name, &seat.Total); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan seat: %w", err)
		}
		if name.Valid {
			seat.PlayerName = &name.String
		}
		seats = append(seats, seat)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range seats {
		if err := forcedCashOutTx(tx, session, &seats[i], ident.UserID); err != nil {
			return nil, err
		}
	}

	rakeByAssignment := make(map[int64]int64, len(rakes))
	for _, dr := range rakes {
		rakeByAssignment[dr.AssignmentID] = dr.Rake
	}
	if err := endAllAssignmentsTx(tx, sessionID, rakeByAssignment); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(`
		UPDATE sessions SET status = $1, closed_at = $2 WHERE id = $3`,
		models.SessionClosed, now, sessionID); err != nil {
		return nil, fmt.Errorf("close session: %w", err)
	}
	session.Status = models.SessionClosed
	session.ClosedAt = &now

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	s.evictOpenSession(session.TableID)
	return session, nil
}

func (s *SessionService) cacheOpenSession(session *models.Session) {
	if s.redis == nil {
		return
	}
	payload, err := json.Marshal(session)
	if err != nil {
		return
	}
	key := fmt.Sprintf("open_session:%d", session.TableID)
	if err := s.redis.Set(context.Background(), key, payload, s.cfg.OpenSessionTTL).Err(); err != nil {
		log.Printf("[SESSION] failed to cache open session: %v", err)
	}
}

func (s *SessionService) cachedOpenSession(tableID int64) *models.Session {
	if s.redis == nil {
		return nil
	}
	key := fmt.Sprintf("open_session:%d", tableID)
	payload, err := s.redis.Get(context.Background(), key).Result()
	if err != nil {
		return nil
	}
	var session models.Session
	if err := json.Unmarshal([]byte(payload), &session); err != nil {
		return nil
	}
	return &session
}

func (s *SessionService) evictOpenSession(tableID int64) {
	if s.redis == nil {
		return
	}
	s.redis.Del(context.Background(), fmt.Sprintf("open_session:%d", tableID))
}
