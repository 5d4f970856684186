package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func post(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestEvents_Acknowledged(t *testing.T) {
	var logs bytes.Buffer
	h := newRouter(log.New(&logs, "", 0))

	rec := post(t, h, "/v19.0/123456/events",
		`{"access_token":"tok","data":[{"event_name":"Purchase","event_time":1700000000,"action_source":"website","user_data":{}},{"event_name":"Lead","event_time":1700000001,"action_source":"website","user_data":{}}]}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		EventsReceived int    `json:"events_received"`
		TraceID        string `json:"fbtrace_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.EventsReceived)
	assert.Len(t, resp.TraceID, 16)
	assert.Contains(t, logs.String(), "pixel=123456 events=2")
}

func TestEvents_FailToken(t *testing.T) {
	h := newRouter(log.New(io.Discard, "", 0))

	rec := post(t, h, "/v19.0/123456/events", `{"access_token":"fail","data":[{"event_name":"Lead"}]}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var env struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    int    `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, "OAuthException", env.Error.Type)
	assert.Equal(t, 190, env.Error.Code)
}

func TestEvents_FailTokenInQuery(t *testing.T) {
	h := newRouter(log.New(io.Discard, "", 0))
	rec := post(t, h, "/v19.0/1/events?access_token=fail", `{"data":[{"event_name":"Lead"}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEvents_BadPayloads(t *testing.T) {
	h := newRouter(log.New(io.Discard, "", 0))

	assert.Equal(t, http.StatusBadRequest, post(t, h, "/v19.0/1/events", `{not json`).Code)
	assert.Equal(t, http.StatusBadRequest, post(t, h, "/v19.0/1/events", `{"access_token":"tok","data":[]}`).Code)
}

func TestHealth(t *testing.T) {
	h := newRouter(log.New(io.Discard, "", 0))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}
