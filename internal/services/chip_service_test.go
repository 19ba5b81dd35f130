package services

import (
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"github.com/greenfelt/backend/internal/models"
)

func openSessionRows(sessionID string, tableID int64) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "table_id", "date", "status", "chips_in_play", "created_at", "closed_at", "owner_id"}).
		AddRow(sessionID, tableID, time.Now(), "open", 0, time.Now(), nil, nil)
}

func seatRows(seatID int64, sessionID string, seatNo int, name *string, total int64) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "session_id", "seat_no", "player_name", "total"}).
		AddRow(seatID, sessionID, seatNo, name, total)
}

func TestChipService_AddChips(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewChipService(db)
	ident := models.Identity{UserID: 7, Role: models.RoleTableAdmin, Scope: models.ScopeAll()}
	sessionID := "a3c1a1de-0000-4000-8000-000000000001"
	tableID := int64(3)

	t.Run("cash buy-in pays off credit first", func(t *testing.T) {
		// Seat owes 50 credit and buys in 80 cash: a zero-chip payoff op
		// retires the 50, only the remaining 30 moves chips.
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT s.id, s.table_id").
			WithArgs(sessionID).
			WillReturnRows(openSessionRows(sessionID, tableID))
		mock.ExpectQuery("FROM seats").
			WithArgs(sessionID, 4).
			WillReturnRows(seatRows(40, sessionID, 4, nil, 120))
		mock.ExpectQuery("FROM chip_purchases").
			WithArgs(sessionID, 4, "credit").
			WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(50))

		mock.ExpectQuery("INSERT INTO chip_ops").
			WithArgs(sessionID, 4, int64(0), sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(101))
		mock.ExpectExec("INSERT INTO chip_purchases").
			WithArgs(tableID, sessionID, 4, int64(-50), int64(101), "credit", int64(7), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectQuery("INSERT INTO chip_ops").
			WithArgs(sessionID, 4, int64(30), sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(102))
		mock.ExpectExec("INSERT INTO chip_purchases").
			WithArgs(tableID, sessionID, 4, int64(30), int64(102), "cash", int64(7), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(2, 1))
		mock.ExpectExec("UPDATE seats SET total").
			WithArgs(int64(150), int64(40)).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE sessions").
			WithArgs(sessionID).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		seat, err := service.addChips(sessionID, AddChipsRequest{
			SeatNo:      4,
			Amount:      80,
			PaymentType: models.PaymentCash,
		}, ident)
		assert.NoError(t, err)
		assert.Equal(t, int64(150), seat.Total)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("credit buy-in moves full amount", func(t *testing.T) {
		// Credit buy-ins never pay off existing credit.
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT s.id, s.table_id").
			WithArgs(sessionID).
			WillReturnRows(openSessionRows(sessionID, tableID))
		mock.ExpectQuery("FROM seats").
			WithArgs(sessionID, 2).
			WillReturnRows(seatRows(42, sessionID, 2, nil, 0))

		mock.ExpectQuery("INSERT INTO chip_ops").
			WithArgs(sessionID, 2, int64(200), sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(110))
		mock.ExpectExec("INSERT INTO chip_purchases").
			WithArgs(tableID, sessionID, 2, int64(200), int64(110), "credit", int64(7), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(3, 1))
		mock.ExpectExec("UPDATE seats SET total").
			WithArgs(int64(200), int64(42)).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE sessions").
			WithArgs(sessionID).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		seat, err := service.addChips(sessionID, AddChipsRequest{
			SeatNo:      2,
			Amount:      200,
			PaymentType: models.PaymentCredit,
		}, ident)
		assert.NoError(t, err)
		assert.Equal(t, int64(200), seat.Total)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("cash-out splits into credit and cash portions", func(t *testing.T) {
		// Total 100 with 40 credit outstanding: cashing out everything
		// deducts the 40 and pays 60 in cash, all under one chip op.
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT s.id, s.table_id").
			WithArgs(sessionID).
			WillReturnRows(openSessionRows(sessionID, tableID))
		mock.ExpectQuery("FROM seats").
			WithArgs(sessionID, 5).
			WillReturnRows(seatRows(45, sessionID, 5, nil, 100))
		mock.ExpectQuery("FROM chip_purchases").
			WithArgs(sessionID, 5, "credit").
			WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(40))

		mock.ExpectQuery("INSERT INTO chip_ops").
			WithArgs(sessionID, 5, int64(-100), sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(120))
		mock.ExpectExec("INSERT INTO chip_purchases").
			WithArgs(tableID, sessionID, 5, int64(-40), int64(120), "credit", int64(7), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(4, 1))
		mock.ExpectExec("INSERT INTO chip_purchases").
			WithArgs(tableID, sessionID, 5, int64(-60), int64(120), "cash", int64(7), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(5, 1))
		mock.ExpectExec("UPDATE seats SET total").
			WithArgs(int64(0), int64(45)).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		seat, err := service.addChips(sessionID, AddChipsRequest{
			SeatNo:         5,
			Amount:         -100,
			PaymentType:    models.PaymentCash,
			CreditToDeduct: 40,
		}, ident)
		assert.NoError(t, err)
		assert.Equal(t, int64(0), seat.Total)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("cash-out rejects deduction above outstanding credit", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT s.id, s.table_id").
			WithArgs(sessionID).
			WillReturnRows(openSessionRows(sessionID, tableID))
		mock.ExpectQuery("FROM seats").
			WithArgs(sessionID, 5).
			WillReturnRows(seatRows(45, sessionID, 5, nil, 100))
		mock.ExpectQuery("FROM chip_purchases").
			WithArgs(sessionID, 5, "credit").
			WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(40))
		mock.ExpectRollback()

		_, err := service.addChips(sessionID, AddChipsRequest{
			SeatNo:         5,
			Amount:         -100,
			PaymentType:    models.PaymentCash,
			CreditToDeduct: 50,
		}, ident)
		assert.ErrorIs(t, err, ErrInvalidCashoutSplit)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("cash-out rejects cash portion above cash holdings", func(t *testing.T) {
		// Total 100, credit 40: at most 60 may leave as cash.
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT s.id, s.table_id").
			WithArgs(sessionID).
			WillReturnRows(openSessionRows(sessionID, tableID))
		mock.ExpectQuery("FROM seats").
			WithArgs(sessionID, 5).
			WillReturnRows(seatRows(45, sessionID, 5, nil, 100))
		mock.ExpectQuery("FROM chip_purchases").
			WithArgs(sessionID, 5, "credit").
			WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(40))
		mock.ExpectRollback()

		_, err := service.addChips(sessionID, AddChipsRequest{
			SeatNo:         5,
			Amount:         -80,
			PaymentType:    models.PaymentCash,
			CreditToDeduct: 0,
		}, ident)
		assert.ErrorIs(t, err, ErrInvalidCashoutSplit)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("closed session rejected", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT s.id, s.table_id").
			WithArgs(sessionID).
			WillReturnRows(sqlmock.NewRows([]string{"id", "table_id", "date", "status", "chips_in_play", "created_at", "closed_at", "owner_id"}).
				AddRow(sessionID, tableID, time.Now(), "closed", 0, time.Now(), time.Now(), nil))
		mock.ExpectRollback()

		_, err := service.addChips(sessionID, AddChipsRequest{SeatNo: 1, Amount: 100, PaymentType: models.PaymentCash}, ident)
		assert.ErrorIs(t, err, ErrSessionNotOpen)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestChipService_UndoLast(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewChipService(db)
	ident := models.Identity{UserID: 7, Role: models.RoleTableAdmin, Scope: models.ScopeAll()}
	sessionID := "a3c1a1de-0000-4000-8000-000000000002"

	t.Run("removes newest op and its purchases", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT s.id, s.table_id").
			WithArgs(sessionID).
			WillReturnRows(openSessionRows(sessionID, 3))
		mock.ExpectQuery("FROM seats").
			WithArgs(sessionID, 6).
			WillReturnRows(seatRows(46, sessionID, 6, nil, 130))
		mock.ExpectQuery("SELECT id, amount FROM chip_ops").
			WithArgs(sessionID, 6).
			WillReturnRows(sqlmock.NewRows([]string{"id", "amount"}).AddRow(130, 30))
		mock.ExpectExec("DELETE FROM chip_purchases WHERE chip_op_id").
			WithArgs(int64(130)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("DELETE FROM chip_ops WHERE id").
			WithArgs(int64(130)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE seats SET total").
			WithArgs(int64(100), int64(46)).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		seat, err := service.undoLast(sessionID, 6, ident)
		assert.NoError(t, err)
		assert.Equal(t, int64(100), seat.Total)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty history", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT s.id, s.table_id").
			WithArgs(sessionID).
			WillReturnRows(openSessionRows(sessionID, 3))
		mock.ExpectQuery("FROM seats").
			WithArgs(sessionID, 6).
			WillReturnRows(seatRows(46, sessionID, 6, nil, 0))
		mock.ExpectQuery("SELECT id, amount FROM chip_ops").
			WithArgs(sessionID, 6).
			WillReturnRows(sqlmock.NewRows([]string{"id", "amount"}))
		mock.ExpectRollback()

		_, err := service.undoLast(sessionID, 6, ident)
		assert.True(t, errors.Is(err, ErrNoHistory))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
