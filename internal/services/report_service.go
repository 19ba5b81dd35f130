package services

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"net/http"
	"time"

	"github.com/lib/pq"

	"github.com/greenfelt/backend/internal/config"
	"github.com/greenfelt/backend/internal/models"
)

// ReportService produces shift-accounting reports. The reporting day
// follows the floor clock, not midnight: sessions opened between one
// workday start and the next belong to the same day.
type ReportService struct {
	db  *sql.DB
	cfg *config.CasinoConfig
}

func NewReportService(db *sql.DB, cfg *config.CasinoConfig) *ReportService {
	return &ReportService{db: db, cfg: cfg}
}

// StaffPay is one staff member's payable line in a day summary.
type StaffPay struct {
	UserID     int64   `json:"user_id"`
	Username   string  `json:"username"`
	Role       string  `json:"role"`
	Hours      float64 `json:"hours"`
	HourlyRate int64   `json:"hourly_rate"`
	Salary     int64   `json:"salary"`
}

// DaySummary is the end-of-day accounting view for one reporting day.
type DaySummary struct {
	Date          string     `json:"date"`
	Sessions      int        `json:"sessions"`
	TotalBuyins   int64      `json:"total_buyins"`
	TotalCashouts int64      `json:"total_cashouts"`
	PlayerResult  int64      `json:"player_result"` // buyins - cashouts
	GrossRake     int64      `json:"gross_rake"`
	Adjustments   int64      `json:"adjustments"`
	Salaries      int64      `json:"salaries"`
	NetResult     int64      `json:"net_result"`
	Staff         []StaffPay `json:"staff"`
}

// GetDaySummary builds the end-of-day report
// @Summary Day summary
// @Description Chip flow, rake, adjustments, and payroll for one reporting day
// @Tags reports
// @Produce json
// @Security BearerAuth
// @Param date query string true "Reporting day (YYYY-MM-DD)"
// @Success 200 {object} DaySummary
// @Failure 400 {object} ErrorResponse
// @Router /reports/day [get]
func (s *ReportService) GetDaySummary(w http.ResponseWriter, r *http.Request) {
	ident, ok := models.IdentityFrom(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	date, err := time.Parse("2006-01-02", r.URL.Query().Get("date"))
	if err != nil {
		SendErrorResponse(w, "Invalid date, expected YYYY-MM-DD", http.StatusBadRequest, nil)
		return
	}

	summary, err := s.daySummary(date, ident.Scope)
	if err != nil {
		log.Printf("[REPORT] day summary failed for %s: %v", date.Format("2006-01-02"), err)
		SendErrorResponse(w, "Failed to build day summary", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(summary)
}

func (s *ReportService) daySummary(date time.Time, scope models.TenantScope) (*DaySummary, error) {
	start, end := s.cfg.WorkdayBounds(date)
	now := time.Now().UTC()

	summary := &DaySummary{Date: date.Format("2006-01-02"), Staff: []StaffPay{}}

	sessionIDs, closedAt, err := s.daySessions(start, end, scope)
	if err != nil {
		return nil, err
	}
	summary.Sessions = len(sessionIDs)
	if len(sessionIDs) == 0 {
		summary.Adjustments, err = s.dayAdjustments(start, end, scope)
		if err != nil {
			return nil, err
		}
		summary.NetResult = summary.Adjustments
		return summary, nil
	}

	err = s.db.QueryRow(`
		SELECT
			COALESCE(SUM(CASE WHEN amount > 0 THEN amount END), 0),
			COALESCE(SUM(CASE WHEN amount < 0 THEN -amount END), 0)
		FROM chip_purchases
		WHERE payment_type = $1 AND session_id = ANY($2)`,
		models.PaymentCash, sessionIDArray(sessionIDs)).
		Scan(&summary.TotalBuyins, &summary.TotalCashouts)
	if err != nil {
		return nil, fmt.Errorf("sum day cash flow: %w", err)
	}
	summary.PlayerResult = summary.TotalBuyins - summary.TotalCashouts

	err = s.db.QueryRow(`
		SELECT COALESCE(SUM(e.amount), 0)
		FROM rake_entries e
		JOIN dealer_assignments a ON a.id = e.assignment_id
		WHERE a.session_id = ANY($1)`, sessionIDArray(sessionIDs)).Scan(&summary.GrossRake)
	if err != nil {
		return nil, fmt.Errorf("sum day rake: %w", err)
	}

	summary.Adjustments, err = s.dayAdjustments(start, end, scope)
	if err != nil {
		return nil, err
	}

	dealerShifts, waiterShifts, rates, names, err := s.dayShifts(sessionIDs)
	if err != nil {
		return nil, err
	}

	for userID, shifts := range dealerShifts {
		hours := DealerHours(shifts, closedAt, now)
		pay := payLine(userID, names[userID], string(models.RoleDealer), hours, rates[userID])
		summary.Salaries += pay.Salary
		summary.Staff = append(summary.Staff, pay)
	}
	for userID, shifts := range waiterShifts {
		hours := WaiterHours(shifts, closedAt, now)
		pay := payLine(userID, names[userID], string(models.RoleWaiter), hours, rates[userID])
		summary.Salaries += pay.Salary
		summary.Staff = append(summary.Staff, pay)
	}

	summary.NetResult = summary.GrossRake + summary.Adjustments - summary.Salaries
	return summary, nil
}

func sessionIDArray(ids []string) any {
	return pq.Array(ids)
}

func payLine(userID int64, username, role string, hours float64, rate int64) StaffPay {
	return StaffPay{
		UserID:     userID,
		Username:   username,
		Role:       role,
		Hours:      math.Round(hours*100) / 100,
		HourlyRate: rate,
		Salary:     int64(math.Round(hours * float64(rate))),
	}
}

func (s *ReportService) daySessions(start, end time.Time, scope models.TenantScope) ([]string, map[string]*time.Time, error) {
	query := `
		SELECT s.id, s.closed_at
		FROM sessions s
		JOIN tables t ON t.id = s.table_id
		WHERE s.created_at >= $1 AND s.created_at < $2`
	args := []any{start, end}
	if !scope.All {
		query += ` AND t.owner_id = $3`
		args = append(args, scope.OwnerID)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("list day sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	closedAt := make(map[string]*time.Time)
	for rows.Next() {
		var id string
		var closed sql.NullTime
		if err := rows.Scan(&id, &closed); err != nil {
			return nil, nil, err
		}
		ids = append(ids, id)
		if closed.Valid {
			t := closed.Time
			closedAt[id] = &t
		}
	}
	return ids, closedAt, rows.Err()
}

func (s *ReportService) dayAdjustments(start, end time.Time, scope models.TenantScope) (int64, error) {
	query := `
		SELECT COALESCE(SUM(amount), 0) FROM balance_adjustments
		WHERE created_at >= $1 AND created_at < $2`
	args := []any{start, end}
	if !scope.All {
		query += ` AND owner_id = $3`
		args = append(args, scope.OwnerID)
	}
	var total int64
	if err := s.db.QueryRow(query, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("sum day adjustments: %w", err)
	}
	return total, nil
}

func (s *ReportService) dayShifts(sessionIDs []string) (map[int64][]models.DealerAssignment, map[int64][]models.WaiterAssignment, map[int64]int64, map[int64]string, error) {
	dealerShifts := make(map[int64][]models.DealerAssignment)
	waiterShifts := make(map[int64][]models.WaiterAssignment)
	rates := make(map[int64]int64)
	names := make(map[int64]string)

	rows, err := s.db.Query(`
		SELECT a.id, a.session_id, a.dealer_id, a.started_at, a.ended_at, u.username, COALESCE(u.hourly_rate, 0)
		FROM dealer_assignments a
		JOIN users u ON u.id = a.dealer_id
		WHERE a.session_id = ANY($1)`, sessionIDArray(sessionIDs))
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("list day dealer shifts: %w", err)
	}
	for rows.Next() {
		var a models.DealerAssignment
		var username string
		var rate int64
		if err := rows.Scan(&a.ID, &a.SessionID, &a.DealerID, &a.StartedAt, &a.EndedAt, &username, &rate); err != nil {
			rows.Close()
			return nil, nil, nil, nil, err
		}
		dealerShifts[a.DealerID] = append(dealerShifts[a.DealerID], a)
		rates[a.DealerID] = rate
		names[a.DealerID] = username
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, nil, nil, nil, err
	}

	rows, err = s.db.Query(`
		SELECT a.id, a.session_id, a.waiter_id, a.started_at, a.ended_at, u.username, COALESCE(u.hourly_rate, 0)
		FROM waiter_assignments a
		JOIN users u ON u.id = a.waiter_id
		WHERE a.session_id = ANY($1)`, sessionIDArray(sessionIDs))
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("list day waiter shifts: %w", err)
	}
	for rows.Next() {
		var a models.WaiterAssignment
		var username string
		var rate int64
		if err := rows.Scan(&a.ID, &a.SessionID, &a.WaiterID, &a.StartedAt, &a.EndedAt, &username, &rate); err != nil {
			rows.Close()
			return nil, nil, nil, nil, err
		}
		waiterShifts[a.WaiterID] = append(waiterShifts[a.WaiterID], a)
		rates[a.WaiterID] = rate
		names[a.WaiterID] = username
	}
	rows.Close()
	return dealerShifts, waiterShifts, rates, names, rows.Err()
}
