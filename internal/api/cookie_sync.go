package api

import (
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"

	"github.com/ignite/pixelrelay/internal/pkg/httputil"
)

// Cookie names re-issued as first-party cookies.
const (
	cookieBrowserID = "_fbp"
	cookieClickID   = "_fbc"
	cookieVisitorID = "_pr_vid"
)

type cookieSyncRequest struct {
	FBP       string `json:"fbp"`
	FBC       string `json:"fbc"`
	VisitorID string `json:"visitor_id"`
}

type cookieSyncResponse struct {
	Synced []string `json:"synced"`
}

// HandleCookieSync handles POST /api/v1/cookie-sync. Identifiers the client
// holds in script-set storage are re-issued as server-set cookies, which
// browsers keep longer.
func (h *Handlers) HandleCookieSync(w http.ResponseWriter, r *http.Request) {
	var req cookieSyncRequest
	raw, err := io.ReadAll(io.LimitReader(r.Body, 16<<10))
	if err != nil {
		httputil.BadRequest(w, "could not read request body")
		return
	}
	if len(strings.TrimSpace(string(raw))) > 0 {
		if err := json.Unmarshal(raw, &req); err != nil {
			httputil.BadRequest(w, "malformed cookie sync payload")
			return
		}
	}

	if strings.TrimSpace(req.FBP) == "" {
		req.FBP = h.newBrowserID()
	}

	resp := cookieSyncResponse{Synced: []string{}}
	secure := r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
	for _, c := range []struct{ name, value string }{
		{cookieBrowserID, req.FBP},
		{cookieClickID, req.FBC},
		{cookieVisitorID, req.VisitorID},
	} {
		v := strings.TrimSpace(c.value)
		if v == "" {
			continue
		}
		http.SetCookie(w, &http.Cookie{
			Name:     c.name,
			Value:    v,
			Path:     "/",
			Domain:   h.cookieDomain,
			MaxAge:   int(h.cookieMaxAge.Seconds()),
			Expires:  h.now().Add(h.cookieMaxAge),
			Secure:   secure,
			SameSite: http.SameSiteLaxMode,
		})
		resp.Synced = append(resp.Synced, c.name)
	}
	httputil.OK(w, resp)
}

// newBrowserID builds a value in the fb.1.<ms>.<random> shape.
func (h *Handlers) newBrowserID() string {
	return fmt.Sprintf("fb.1.%d.%d", h.now().UnixMilli(), rand.Int63n(1<<31))
}
