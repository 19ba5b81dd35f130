package services

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"

	"github.com/greenfelt/backend/internal/models"
)

func shiftTestRouter(service *ShiftService) chi.Router {
	r := chi.NewRouter()
	r.Post("/sessions/{sessionId}/dealers", service.AddDealer)
	r.Post("/sessions/{sessionId}/dealers/remove", service.RemoveDealer)
	r.Post("/sessions/{sessionId}/dealers/replace", service.ReplaceDealer)
	r.Post("/sessions/{sessionId}/waiters", service.AddWaiter)
	return r
}

func shiftRequest(t *testing.T, router chi.Router, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	ident := models.Identity{UserID: 7, Role: models.RoleTableAdmin, Scope: models.ScopeAll()}
	req = req.WithContext(models.WithIdentity(req.Context(), ident))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestShiftService_AddWaiter(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewShiftService(db)
	router := shiftTestRouter(service)
	sessionID := "a3c1a1de-0000-4000-8000-000000000004"

	t.Run("opens a waiter shift", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT s.id, s.table_id").
			WithArgs(sessionID).
			WillReturnRows(openSessionRows(sessionID, 3))
		mock.ExpectQuery("FROM users").
			WithArgs(int64(31)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "username", "role", "table_id", "is_active", "hourly_rate", "owner_id"}).
				AddRow(31, "waiter_mia", "waiter", nil, true, 1800, nil))
		mock.ExpectQuery("FROM waiter_assignments").
			WithArgs(sessionID, int64(31)).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
		mock.ExpectQuery("INSERT INTO waiter_assignments").
			WithArgs(sessionID, int64(31), sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(51))

		mock.ExpectQuery("FROM dealer_assignments").
			WithArgs(sessionID).
			WillReturnRows(sqlmock.NewRows([]string{"id", "session_id", "dealer_id", "started_at", "ended_at", "rake"}).
				AddRow(11, sessionID, 21, time.Now(), nil, nil))
		mock.ExpectQuery("FROM waiter_assignments").
			WithArgs(sessionID).
			WillReturnRows(sqlmock.NewRows([]string{"id", "session_id", "waiter_id", "started_at", "ended_at"}).
				AddRow(51, sessionID, 31, time.Now(), nil))
		mock.ExpectCommit()

		w := shiftRequest(t, router, "/sessions/"+sessionID+"/waiters", `{"waiterId":31}`)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"waiter_assignments"`)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("waiter already in session", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT s.id, s.table_id").
			WithArgs(sessionID).
			WillReturnRows(openSessionRows(sessionID, 3))
		mock.ExpectQuery("FROM users").
			WithArgs(int64(31)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "username", "role", "table_id", "is_active", "hourly_rate", "owner_id"}).
				AddRow(31, "waiter_mia", "waiter", nil, true, 1800, nil))
		mock.ExpectQuery("FROM waiter_assignments").
			WithArgs(sessionID, int64(31)).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
		mock.ExpectRollback()

		w := shiftRequest(t, router, "/sessions/"+sessionID+"/waiters", `{"waiterId":31}`)
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestShiftService_RemoveDealer(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewShiftService(db)
	router := shiftTestRouter(service)
	sessionID := "a3c1a1de-0000-4000-8000-000000000005"

	t.Run("last active dealer cannot be removed", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT s.id, s.table_id").
			WithArgs(sessionID).
			WillReturnRows(openSessionRows(sessionID, 3))
		mock.ExpectQuery("SELECT session_id FROM dealer_assignments").
			WithArgs(int64(11)).
			WillReturnRows(sqlmock.NewRows([]string{"session_id"}).AddRow(sessionID))
		mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM dealer_assignments").
			WithArgs(sessionID).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
		mock.ExpectRollback()

		w := shiftRequest(t, router, "/sessions/"+sessionID+"/dealers/remove", `{"assignmentId":11,"rake":40}`)
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Contains(t, w.Body.String(), "last active dealer")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("removes a co-dealer and stamps rake", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT s.id, s.table_id").
			WithArgs(sessionID).
			WillReturnRows(openSessionRows(sessionID, 3))
		mock.ExpectQuery("SELECT session_id FROM dealer_assignments").
			WithArgs(int64(11)).
			WillReturnRows(sqlmock.NewRows([]string{"session_id"}).AddRow(sessionID))
		mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM dealer_assignments").
			WithArgs(sessionID).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
		mock.ExpectExec("UPDATE dealer_assignments").
			WithArgs(sqlmock.AnyArg(), int64(40), int64(11)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		ended := time.Now()
		mock.ExpectQuery("FROM dealer_assignments").
			WithArgs(sessionID).
			WillReturnRows(sqlmock.NewRows([]string{"id", "session_id", "dealer_id", "started_at", "ended_at", "rake"}).
				AddRow(11, sessionID, 21, time.Now().Add(-2*time.Hour), ended, 40).
				AddRow(12, sessionID, 22, time.Now().Add(-time.Hour), nil, nil))
		mock.ExpectQuery("FROM waiter_assignments").
			WithArgs(sessionID).
			WillReturnRows(sqlmock.NewRows([]string{"id", "session_id", "waiter_id", "started_at", "ended_at"}))
		mock.ExpectCommit()

		w := shiftRequest(t, router, "/sessions/"+sessionID+"/dealers/remove", `{"assignmentId":11,"rake":40}`)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestShiftService_ReplaceDealer(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewShiftService(db)
	router := shiftTestRouter(service)
	sessionID := "a3c1a1de-0000-4000-8000-000000000006"

	t.Run("refuses with co-dealers active", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT s.id, s.table_id").
			WithArgs(sessionID).
			WillReturnRows(openSessionRows(sessionID, 3))
		mock.ExpectQuery("SELECT id, dealer_id FROM dealer_assignments").
			WithArgs(sessionID).
			WillReturnRows(sqlmock.NewRows([]string{"id", "dealer_id"}).
				AddRow(11, 21).
				AddRow(12, 22))
		mock.ExpectRollback()

		w := shiftRequest(t, router, "/sessions/"+sessionID+"/dealers/replace", `{"dealerId":23,"outgoingRake":60}`)
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("hands over the single active shift", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT s.id, s.table_id").
			WithArgs(sessionID).
			WillReturnRows(openSessionRows(sessionID, 3))
		mock.ExpectQuery("SELECT id, dealer_id FROM dealer_assignments").
			WithArgs(sessionID).
			WillReturnRows(sqlmock.NewRows([]string{"id", "dealer_id"}).AddRow(11, 21))
		mock.ExpectQuery("FROM users").
			WithArgs(int64(23)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "username", "role", "table_id", "is_active", "hourly_rate", "owner_id"}).
				AddRow(23, "dealer_omar", "dealer", nil, true, 2500, nil))
		mock.ExpectExec("UPDATE dealer_assignments").
			WithArgs(sqlmock.AnyArg(), int64(60), int64(11)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("FROM dealer_assignments a").
			WithArgs(int64(23), "open").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
		mock.ExpectQuery("INSERT INTO dealer_assignments").
			WithArgs(sessionID, int64(23), sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(13))

		ended := time.Now()
		mock.ExpectQuery("FROM dealer_assignments").
			WithArgs(sessionID).
			WillReturnRows(sqlmock.NewRows([]string{"id", "session_id", "dealer_id", "started_at", "ended_at", "rake"}).
				AddRow(11, sessionID, 21, time.Now().Add(-3*time.Hour), ended, 60).
				AddRow(13, sessionID, 23, time.Now(), nil, nil))
		mock.ExpectQuery("FROM waiter_assignments").
			WithArgs(sessionID).
			WillReturnRows(sqlmock.NewRows([]string{"id", "session_id", "waiter_id", "started_at", "ended_at"}))
		mock.ExpectCommit()

		w := shiftRequest(t, router, "/sessions/"+sessionID+"/dealers/replace", `{"dealerId":23,"outgoingRake":60}`)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestShiftService_BadRequestBodies(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewShiftService(db)
	router := shiftTestRouter(service)
	sessionID := "a3c1a1de-0000-4000-8000-000000000006"

	t.Run("missing fields answer 400 with details", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT s.id, s.table_id").
			WithArgs(sessionID).
			WillReturnRows(openSessionRows(sessionID, 3))
		mock.ExpectRollback()

		w := shiftRequest(t, router, "/sessions/"+sessionID+"/dealers", `{}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "Validation failed")
		assert.Contains(t, w.Body.String(), "DealerID")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("malformed json answers 400", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT s.id, s.table_id").
			WithArgs(sessionID).
			WillReturnRows(openSessionRows(sessionID, 3))
		mock.ExpectRollback()

		w := shiftRequest(t, router, "/sessions/"+sessionID+"/dealers", `{"dealerId":`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "Invalid request body")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown field answers 400", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT s.id, s.table_id").
			WithArgs(sessionID).
			WillReturnRows(openSessionRows(sessionID, 3))
		mock.ExpectRollback()

		w := shiftRequest(t, router, "/sessions/"+sessionID+"/waiters", `{"dealer":5}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "Invalid request body")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
