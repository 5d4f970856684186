package main

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/ignite/pixelrelay/internal/capi"
	"github.com/ignite/pixelrelay/internal/pkg/httputil"
)

const maxPayloadBytes = 8 << 20

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
	TraceID string `json:"fbtrace_id"`
}

func newRouter(logger *log.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httputil.OK(w, map[string]string{"status": "healthy", "service": "pixelrelay-stub-api"})
	})
	r.Post("/{version}/{pixel}/events", handleEvents(logger))
	return r
}

func handleEvents(logger *log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pixel := chi.URLParam(r, "pixel")
		traceID := strings.ReplaceAll(uuid.NewString(), "-", "")[:16]

		raw, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
		if err != nil {
			writeAPIError(w, http.StatusBadRequest, "could not read body", "OAuthException", 100, traceID)
			return
		}
		var req capi.Request
		if err := json.Unmarshal(raw, &req); err != nil {
			writeAPIError(w, http.StatusBadRequest, "malformed JSON payload", "OAuthException", 100, traceID)
			return
		}
		if req.AccessToken == "" {
			req.AccessToken = r.URL.Query().Get("access_token")
		}

		logger.Printf("[stub-api] %s pixel=%s events=%d test_code=%q payload=%s",
			chi.URLParam(r, "version"), pixel, len(req.Data), req.TestEventCode, raw)

		if req.AccessToken == "fail" {
			writeAPIError(w, http.StatusBadRequest, "Invalid OAuth access token - Cannot parse access token", "OAuthException", 190, traceID)
			return
		}
		if len(req.Data) == 0 {
			writeAPIError(w, http.StatusBadRequest, "The parameter data is required", "OAuthException", 100, traceID)
			return
		}

		httputil.OK(w, capi.Response{EventsReceived: len(req.Data), TraceID: traceID})
	}
}

func writeAPIError(w http.ResponseWriter, status int, msg, typ string, code int, traceID string) {
	httputil.JSON(w, status, map[string]apiError{
		"error": {Message: msg, Type: typ, Code: code, TraceID: traceID},
	})
}
