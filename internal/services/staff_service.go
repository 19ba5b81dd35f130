package services

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/greenfelt/backend/internal/models"
)

// StaffService manages the table and staff directory. Every read and
// write is tenant-scoped: a table admin only ever sees rows they own.
type StaffService struct {
	db        *sql.DB
	validator *ValidationHelper
}

func NewStaffService(db *sql.DB) *StaffService {
	return &StaffService{
		db:        db,
		validator: NewValidationHelper(),
	}
}

type CreateTableRequest struct {
	Name       string `json:"name" validate:"required,min=1,max=64"`
	SeatsCount int    `json:"seatsCount" validate:"gte=0,lte=24"`
}

// CreateTable registers a game table
// @Summary Create a table
// @Tags admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body CreateTableRequest true "Table"
// @Success 201 {object} models.Table
// @Failure 400 {object} ErrorResponse
// @Router /tables [post]
func (s *StaffService) CreateTable(w http.ResponseWriter, r *http.Request) {
	ident, ok := models.IdentityFrom(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	var req CreateTableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	table := models.Table{Name: req.Name, SeatsCount: req.SeatsCount}
	if !ident.Scope.All {
		owner := ident.Scope.OwnerID
		table.OwnerID = &owner
	}

	err := s.db.QueryRow(`
		INSERT INTO tables (name, seats_count, owner_id)
		VALUES ($1, $2, $3)
		RETURNING id`, table.Name, table.SeatsCount, table.OwnerID).Scan(&table.ID)
	if err != nil {
		log.Printf("[STAFF] table creation failed: %v", err)
		SendErrorResponse(w, "Failed to create table", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[STAFF] table %d (%s) created by user %d", table.ID, table.Name, ident.UserID)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(table)
}

// ListTables returns tables visible to the caller
// @Summary List tables
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Success 200 {array} models.Table
// @Router /tables [get]
func (s *StaffService) ListTables(w http.ResponseWriter, r *http.Request) {
	ident, ok := models.IdentityFrom(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	query := `SELECT id, name, seats_count, owner_id FROM tables`
	args := []any{}
	if !ident.Scope.All {
		query += ` WHERE owner_id = $1`
		args = append(args, ident.Scope.OwnerID)
	}
	query += ` ORDER BY id`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		log.Printf("[STAFF] table listing failed: %v", err)
		SendErrorResponse(w, "Failed to list tables", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	tables := []models.Table{}
	for rows.Next() {
		var t models.Table
		var ownerID sql.NullInt64
		if err := rows.Scan(&t.ID, &t.Name, &t.SeatsCount, &ownerID); err != nil {
			SendErrorResponse(w, "Failed to list tables", http.StatusInternalServerError, nil)
			return
		}
		if ownerID.Valid {
			t.OwnerID = &ownerID.Int64
		}
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		SendErrorResponse(w, "Failed to list tables", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(tables)
}

type CreateStaffRequest struct {
	Username   string `json:"username" validate:"required,min=2,max=64"`
	Password   string `json:"password" validate:"required,min=6"`
	Role       string `json:"role" validate:"required,oneof=table_admin dealer waiter"`
	TableID    *int64 `json:"tableId,omitempty"`
	HourlyRate int64  `json:"hourlyRate" validate:"gte=0"`
}

// CreateStaff registers a staff member
// @Summary Create a staff member
// @Description Creates a dealer, waiter, or table admin; only superadmins may create table admins
// @Tags admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body CreateStaffRequest true "Staff member"
// @Success 201 {object} models.User
// @Failure 409 {object} ErrorResponse "Username taken"
// @Router /staff [post]
func (s *StaffService) CreateStaff(w http.ResponseWriter, r *http.Request) {
	ident, ok := models.IdentityFrom(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	var req CreateStaffRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	role, err := models.ParseRole(req.Role)
	if err != nil {
		SendErrorResponse(w, "Unknown role", http.StatusBadRequest, nil)
		return
	}
	if role == models.RoleTableAdmin && !ident.Scope.All {
		SendErrorResponse(w, "Only superadmins may create table admins", http.StatusForbidden, nil)
		return
	}

	hash, err := hashPassword(req.Password)
	if err != nil {
		log.Printf("[STAFF] password hashing failed: %v", err)
		SendErrorResponse(w, "An Internal Error Occurred", http.StatusInternalServerError, nil)
		return
	}

	user := models.User{
		Username:   strings.ToLower(req.Username),
		Role:       role,
		TableID:    req.TableID,
		IsActive:   true,
		HourlyRate: req.HourlyRate,
	}
	if !ident.Scope.All {
		owner := ident.Scope.OwnerID
		user.OwnerID = &owner
	}

	err = s.db.QueryRow(`
		INSERT INTO users (username, password_hash, role, table_id, is_active, hourly_rate, owner_id, created_at)
		VALUES ($1, $2, $3, $4, TRUE, $5, $6, $7)
		RETURNING id, created_at`,
		user.Username, hash, string(user.Role), user.TableID, user.HourlyRate, user.OwnerID, time.Now().UTC()).
		Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		log.Printf("[STAFF] staff creation failed for %s: %v", user.Username, err)
		SendErrorResponse(w, "Username Already Exists", http.StatusConflict, nil)
		return
	}

	log.Printf("[STAFF] %s %d (%s) created by user %d", user.Role, user.ID, user.Username, ident.UserID)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(user)
}

// ListStaff returns staff visible to the caller, optionally filtered by role
// @Summary List staff
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param role query string false "Role filter"
// @Success 200 {array} models.User
// @Router /staff [get]
func (s *StaffService) ListStaff(w http.ResponseWriter, r *http.Request) {
	ident, ok := models.IdentityFrom(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	query := `
		SELECT id, username, role, table_id, is_active, COALESCE(hourly_rate, 0), owner_id, created_at
		FROM users WHERE role <> $1`
	args := []any{string(models.RoleSuperadmin)}
	if !ident.Scope.All {
		query += ` AND owner_id = $2`
		args = append(args, ident.Scope.OwnerID)
	}
	if roleFilter := r.URL.Query().Get("role"); roleFilter != "" {
		role, err := models.ParseRole(roleFilter)
		if err != nil {
			SendErrorResponse(w, "Unknown role", http.StatusBadRequest, nil)
			return
		}
		query += fmt.Sprintf(` AND role = $%d`, len(args)+1)
		args = append(args, string(role))
	}
	query += ` ORDER BY username`

	users, err := s.queryUsers(query, args...)
	if err != nil {
		log.Printf("[STAFF] staff listing failed: %v", err)
		SendErrorResponse(w, "Failed to list staff", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(users)
}

type UpdateStaffRequest struct {
	IsActive   *bool  `json:"isActive,omitempty"`
	HourlyRate *int64 `json:"hourlyRate,omitempty" validate:"omitempty,gte=0"`
	TableID    *int64 `json:"tableId,omitempty"`
}

// UpdateStaff changes staff status, rate, or home table
// @Summary Update a staff member
// @Tags admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param userId path int true "User ID"
// @Param request body UpdateStaffRequest true "Fields to change"
// @Success 200 {object} models.User
// @Failure 404 {object} ErrorResponse
// @Router /staff/{userId} [patch]
func (s *StaffService) UpdateStaff(w http.ResponseWriter, r *http.Request) {
	ident, ok := models.IdentityFrom(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}
	userID, err := strconv.ParseInt(chi.URLParam(r, "userId"), 10, 64)
	if err != nil {
		SendErrorResponse(w, "Invalid user id", http.StatusBadRequest, nil)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	var req UpdateStaffRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	user, err := s.updateStaff(userID, &req, ident)
	if err != nil {
		log.Printf("[STAFF] update failed for user %d: %v", userID, err)
		SendErrorResponse(w, err.Error(), StatusForError(err), nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(user)
}

func (s *StaffService) updateStaff(userID int64, req *UpdateStaffRequest, ident models.Identity) (*models.User, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var roleStr string
	var ownerID sql.NullInt64
	err = tx.QueryRow(`SELECT role, owner_id FROM users WHERE id = $1 FOR UPDATE`, userID).
		Scan(&roleStr, &ownerID)
	if err == sql.ErrNoRows {
		return nil, ErrStaffNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock user: %w", err)
	}
	var owner *int64
	if ownerID.Valid {
		owner = &ownerID.Int64
	}
	if !ident.Scope.Owns(owner) {
		return nil, ErrForbidden
	}

	if req.IsActive != nil {
		if _, err := tx.Exec(`UPDATE users SET is_active = $1 WHERE id = $2`, *req.IsActive, userID); err != nil {
			return nil, fmt.Errorf("update is_active: %w", err)
		}
	}
	if req.HourlyRate != nil {
		if _, err := tx.Exec(`UPDATE users SET hourly_rate = $1 WHERE id = $2`, *req.HourlyRate, userID); err != nil {
			return nil, fmt.Errorf("update hourly_rate: %w", err)
		}
	}
	if req.TableID != nil {
		if _, err := tx.Exec(`UPDATE users SET table_id = $1 WHERE id = $2`, *req.TableID, userID); err != nil {
			return nil, fmt.Errorf("update table_id: %w", err)
		}
	}

	user, _, err := scanUserRow(tx.QueryRow(`
		SELECT id, username, password_hash, role, table_id, is_active, COALESCE(hourly_rate, 0), owner_id, created_at
		FROM users WHERE id = $1`, userID))
	if err != nil {
		return nil, err
	}
	return user, tx.Commit()
}

// AvailableDealers lists active dealers with no running shift anywhere
// @Summary List available dealers
// @Tags shifts
// @Produce json
// @Security BearerAuth
// @Success 200 {array} models.User
// @Router /staff/dealers/available [get]
func (s *StaffService) AvailableDealers(w http.ResponseWriter, r *http.Request) {
	ident, ok := models.IdentityFrom(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	query := `
		SELECT u.id, u.username, u.role, u.table_id, u.is_active, COALESCE(u.hourly_rate, 0), u.owner_id, u.created_at
		FROM users u
		WHERE u.role = $1 AND u.is_active
		AND NOT EXISTS (
			SELECT 1 FROM dealer_assignments a
			JOIN sessions s ON s.id = a.session_id
			WHERE a.dealer_id = u.id AND a.ended_at IS NULL AND s.status = $2
		)`
	args := []any{string(models.RoleDealer), string(models.SessionOpen)}
	if !ident.Scope.All {
		query += ` AND u.owner_id = $3`
		args = append(args, ident.Scope.OwnerID)
	}
	query += ` ORDER BY u.username`

	users, err := s.queryUsers(query, args...)
	if err != nil {
		log.Printf("[STAFF] available dealers listing failed: %v", err)
		SendErrorResponse(w, "Failed to list dealers", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(users)
}

// AvailableWaiters lists active waiters. Waiters may cover several tables
// at once, so holding a shift does not make one unavailable.
// @Summary List available waiters
// @Tags shifts
// @Produce json
// @Security BearerAuth
// @Success 200 {array} models.User
// @Router /staff/waiters/available [get]
func (s *StaffService) AvailableWaiters(w http.ResponseWriter, r *http.Request) {
	ident, ok := models.IdentityFrom(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	query := `
		SELECT id, username, role, table_id, is_active, COALESCE(hourly_rate, 0), owner_id, created_at
		FROM users
		WHERE role = $1 AND is_active`
	args := []any{string(models.RoleWaiter)}
	if !ident.Scope.All {
		query += ` AND owner_id = $2`
		args = append(args, ident.Scope.OwnerID)
	}
	query += ` ORDER BY username`

	users, err := s.queryUsers(query, args...)
	if err != nil {
		log.Printf("[STAFF] available waiters listing failed: %v", err)
		SendErrorResponse(w, "Failed to list waiters", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(users)
}

func (s *StaffService) queryUsers(query string, args ...any) ([]models.User, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		var u models.User
		var roleStr string
		var tableID, ownerID sql.NullInt64
		if err := rows.Scan(&u.ID, &u.Username, &roleStr, &tableID, &u.IsActive, &u.HourlyRate, &ownerID, &u.CreatedAt); err != nil {
			return nil, err
		}
		if u.Role, err = models.ParseRole(roleStr); err != nil {
			return nil, err
		}
		if tableID.Valid {
			u.TableID = &tableID.Int64
		}
		if ownerID.Valid {
			u.OwnerID = &ownerID.Int64
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
