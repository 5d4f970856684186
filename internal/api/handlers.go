package api

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/ignite/pixelrelay/internal/config"
	"github.com/ignite/pixelrelay/internal/service/ingest"
)

// Admitter runs submissions through the admission gate.
type Admitter interface {
	Admit(ctx context.Context, sub ingest.Submission, meta ingest.RequestMeta) (*ingest.Result, error)
	AdmitBatch(ctx context.Context, subs []ingest.Submission, meta ingest.RequestMeta) *ingest.BatchResult
}

// Handlers holds the ingestion endpoints and their dependencies.
type Handlers struct {
	admitter     Admitter
	apiKeys      map[string]struct{}
	maxBatch     int
	cookieDomain string
	cookieMaxAge time.Duration
	now          func() time.Time
}

// NewHandlers builds the handler set from the server and pipeline config.
func NewHandlers(admitter Admitter, cfg *config.Config) *Handlers {
	keys := make(map[string]struct{}, len(cfg.Ingest.APIKeys))
	for _, k := range cfg.Ingest.APIKeys {
		if k = strings.TrimSpace(k); k != "" {
			keys[k] = struct{}{}
		}
	}
	maxBatch := cfg.Pipeline.MaxBatchEvents
	if maxBatch <= 0 {
		maxBatch = 1000
	}
	return &Handlers{
		admitter:     admitter,
		apiKeys:      keys,
		maxBatch:     maxBatch,
		cookieDomain: cfg.Server.CookieDomain,
		cookieMaxAge: cfg.Server.CookieMaxAge(),
		now:          time.Now,
	}
}

// authorized checks the ingestion key. Disguised clients send it as
// X-Request-Token; image pixels can only pass it in the query string.
func (h *Handlers) authorized(r *http.Request) bool {
	if len(h.apiKeys) == 0 {
		return true
	}
	key := r.Header.Get("X-API-Key")
	if key == "" {
		key = r.Header.Get("X-Request-Token")
	}
	if key == "" {
		key = r.URL.Query().Get("k")
	}
	_, ok := h.apiKeys[key]
	return ok
}

func requestMeta(r *http.Request, transport string) ingest.RequestMeta {
	origin := r.Header.Get("Origin")
	if origin == "" || origin == "null" {
		origin = r.Header.Get("Referer")
	}
	return ingest.RequestMeta{
		ClientIP:  realIP(r),
		UserAgent: r.UserAgent(),
		Origin:    origin,
		Transport: transport,
	}
}

// realIP prefers the first X-Forwarded-For hop, then X-Real-Ip, then the
// socket address.
func realIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if xr := strings.TrimSpace(r.Header.Get("X-Real-Ip")); xr != "" {
		return xr
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
