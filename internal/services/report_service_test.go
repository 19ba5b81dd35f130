package services

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"github.com/greenfelt/backend/internal/models"
)

func TestReportService_DaySummary(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewReportService(db, testCasinoConfig())
	date := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)
	dayStart := at(18, 0)
	dayEnd := dayStart.Add(24 * time.Hour)
	sessionID := "a3c1a1de-0000-4000-8000-000000000010"

	t.Run("net result covers rake, adjustments, and payroll", func(t *testing.T) {
		mock.ExpectQuery("FROM sessions").
			WithArgs(dayStart, dayEnd).
			WillReturnRows(sqlmock.NewRows([]string{"id", "closed_at"}).
				AddRow(sessionID, at(23, 0)))
		mock.ExpectQuery("CASE WHEN amount").
			WithArgs("cash", sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"buyins", "cashouts"}).AddRow(100000, 80000))
		mock.ExpectQuery("FROM rake_entries").
			WithArgs(sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(30000))
		mock.ExpectQuery("FROM balance_adjustments").
			WithArgs(dayStart, dayEnd).
			WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(-4000))
		mock.ExpectQuery("FROM dealer_assignments").
			WithArgs(sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id", "session_id", "dealer_id", "started_at", "ended_at", "username", "coalesce"}).
				AddRow(11, sessionID, 21, at(19, 0), at(22, 0), "dealer_ana", 5000))
		mock.ExpectQuery("FROM waiter_assignments").
			WithArgs(sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id", "session_id", "waiter_id", "started_at", "ended_at", "username", "coalesce"}).
				AddRow(51, sessionID, 31, at(19, 0), at(22, 0), "waiter_mia", 2000))

		summary, err := service.daySummary(date, models.ScopeAll())
		assert.NoError(t, err)
		assert.Equal(t, 1, summary.Sessions)
		assert.Equal(t, int64(100000), summary.TotalBuyins)
		assert.Equal(t, int64(80000), summary.TotalCashouts)
		assert.Equal(t, int64(20000), summary.PlayerResult)
		assert.Equal(t, int64(30000), summary.GrossRake)
		assert.Equal(t, int64(-4000), summary.Adjustments)
		// dealer 3h x 5000 + waiter 3h x 2000
		assert.Equal(t, int64(21000), summary.Salaries)
		assert.Equal(t, int64(5000), summary.NetResult)
		assert.Len(t, summary.Staff, 2)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("shift clipped to session close", func(t *testing.T) {
		closed := at(21, 0)
		mock.ExpectQuery("FROM sessions").
			WithArgs(dayStart, dayEnd).
			WillReturnRows(sqlmock.NewRows([]string{"id", "closed_at"}).
				AddRow(sessionID, closed))
		mock.ExpectQuery("CASE WHEN amount").
			WithArgs("cash", sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"buyins", "cashouts"}).AddRow(0, 0))
		mock.ExpectQuery("FROM rake_entries").
			WithArgs(sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(0))
		mock.ExpectQuery("FROM balance_adjustments").
			WithArgs(dayStart, dayEnd).
			WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(0))
		mock.ExpectQuery("FROM dealer_assignments").
			WithArgs(sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id", "session_id", "dealer_id", "started_at", "ended_at", "username", "coalesce"}).
				AddRow(11, sessionID, 21, at(19, 0), at(23, 0), "dealer_ana", 5000))
		mock.ExpectQuery("FROM waiter_assignments").
			WithArgs(sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id", "session_id", "waiter_id", "started_at", "ended_at", "username", "coalesce"}))

		summary, err := service.daySummary(date, models.ScopeAll())
		assert.NoError(t, err)
		// assignment record runs to 23:00 but the session closed at 21:00
		assert.Equal(t, int64(10000), summary.Salaries)
		assert.Equal(t, int64(-10000), summary.NetResult)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("day without sessions reports adjustments only", func(t *testing.T) {
		mock.ExpectQuery("FROM sessions").
			WithArgs(dayStart, dayEnd).
			WillReturnRows(sqlmock.NewRows([]string{"id", "closed_at"}))
		mock.ExpectQuery("FROM balance_adjustments").
			WithArgs(dayStart, dayEnd).
			WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(2500))

		summary, err := service.daySummary(date, models.ScopeAll())
		assert.NoError(t, err)
		assert.Equal(t, 0, summary.Sessions)
		assert.Equal(t, int64(2500), summary.Adjustments)
		assert.Equal(t, int64(2500), summary.NetResult)
		assert.Empty(t, summary.Staff)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("scoped caller filters by owner", func(t *testing.T) {
		mock.ExpectQuery("FROM sessions").
			WithArgs(dayStart, dayEnd, int64(42)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "closed_at"}))
		mock.ExpectQuery("FROM balance_adjustments").
			WithArgs(dayStart, dayEnd, int64(42)).
			WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(0))

		summary, err := service.daySummary(date, models.ScopeOwner(42))
		assert.NoError(t, err)
		assert.Equal(t, 0, summary.Sessions)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPayLine(t *testing.T) {
	pay := payLine(21, "dealer_ana", "dealer", 7.3333333, 3000)
	assert.Equal(t, 7.33, pay.Hours)
	assert.Equal(t, int64(22000), pay.Salary)
}
