package services

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"

	"github.com/greenfelt/backend/internal/models"
)

func TestSessionService_OpenSessionCache(t *testing.T) {
	sessionID := "a3c1a1de-0000-4000-8000-000000000007"
	tableID := int64(3)
	opened := time.Date(2025, 3, 14, 19, 0, 0, 0, time.UTC)

	session := models.Session{
		ID:          sessionID,
		TableID:     tableID,
		Date:        opened,
		Status:      models.SessionOpen,
		ChipsInPlay: 500,
		CreatedAt:   opened,
	}
	payload, err := json.Marshal(&session)
	assert.NoError(t, err)

	t.Run("cache hit skips the session lookup", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		redisClient, redisMock := redismock.NewClientMock()

		service := NewSessionService(db, redisClient, testCasinoConfig())

		// Ownership is always checked against the store; only the open
		// session lookup is served from cache.
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT owner_id FROM tables").
			WithArgs(tableID).
			WillReturnRows(sqlmock.NewRows([]string{"owner_id"}).AddRow(nil))
		mock.ExpectRollback()
		redisMock.ExpectGet("open_session:3").SetVal(string(payload))

		got, err := service.openSessionForTable(tableID, models.ScopeAll())
		assert.NoError(t, err)
		assert.Equal(t, sessionID, got.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("cache miss falls through and repopulates", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		redisClient, redisMock := redismock.NewClientMock()

		service := NewSessionService(db, redisClient, testCasinoConfig())

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT owner_id FROM tables").
			WithArgs(tableID).
			WillReturnRows(sqlmock.NewRows([]string{"owner_id"}).AddRow(nil))
		redisMock.ExpectGet("open_session:3").RedisNil()
		mock.ExpectQuery("FROM sessions").
			WithArgs(tableID, "open").
			WillReturnRows(sqlmock.NewRows([]string{"id", "table_id", "date", "status", "chips_in_play", "created_at", "closed_at"}).
				AddRow(sessionID, tableID, opened, "open", 500, opened, nil))
		mock.ExpectCommit()
		redisMock.ExpectSet("open_session:3", payload, 30*time.Second).SetVal("OK")

		got, err := service.openSessionForTable(tableID, models.ScopeAll())
		assert.NoError(t, err)
		assert.Equal(t, sessionID, got.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("tenant mismatch rejected before cache consult", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		redisClient, redisMock := redismock.NewClientMock()

		service := NewSessionService(db, redisClient, testCasinoConfig())

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT owner_id FROM tables").
			WithArgs(tableID).
			WillReturnRows(sqlmock.NewRows([]string{"owner_id"}).AddRow(99))
		mock.ExpectRollback()

		_, err = service.openSessionForTable(tableID, models.ScopeOwner(42))
		assert.ErrorIs(t, err, ErrForbidden)
		assert.NoError(t, mock.ExpectationsWereMet())
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})
}
