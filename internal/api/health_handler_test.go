package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedDepth struct {
	n   int64
	err error
}

func (f fixedDepth) Len(context.Context) (int64, error) { return f.n, f.err }

func readiness(t *testing.T, hc *HealthChecker) (int, map[string]interface{}) {
	t.Helper()
	rec := httptest.NewRecorder()
	hc.HandleReadiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func TestHealth_AllUp(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectPing()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	st := NewHealthChecker(db, rdb, fixedDepth{n: 3}).status(context.Background())
	assert.Equal(t, statusOK, st.Status)
	assert.Equal(t, stateUp, st.Checks["database"].State)
	assert.Equal(t, stateUp, st.Checks["redis"].State)
	assert.Equal(t, "3 tasks", st.Checks["queue"].Detail)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHealth_DatabaseDownIsNotReady(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	code, body := readiness(t, NewHealthChecker(db, nil, nil))
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, false, body["ready"])
	assert.Equal(t, statusDown, body["status"])
}

func TestHealth_QueueBacklogDegrades(t *testing.T) {
	hc := NewHealthChecker(nil, nil, fixedDepth{n: 5000})
	code, body := readiness(t, hc)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["ready"])
	assert.Equal(t, statusDegraded, body["status"])

	st := NewHealthChecker(nil, nil, fixedDepth{err: errors.New("timeout")}).status(context.Background())
	assert.Equal(t, stateDown, st.Checks["queue"].State)
	assert.Equal(t, statusDegraded, st.Status)
}

func TestHealth_Liveness(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHealthChecker(nil, nil, nil).HandleLiveness(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"alive"`)
}
