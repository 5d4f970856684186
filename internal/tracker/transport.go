package tracker

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/ignite/pixelrelay/internal/pkg/httpretry"
)

// errURLTooLong is returned by the image transport when the payload does
// not fit the URL length limit.
var errURLTooLong = errors.New("payload exceeds image url length limit")

// Request is one delivery attempt against one endpoint.
type Request struct {
	EventsURL string
	PixelURL  string
	Body      []byte
	// AuthHeader is X-API-Key, or X-Request-Token in disguise mode.
	AuthHeader string
	APIKey     string
}

// Transport is one way of getting a payload to the relay.
type Transport interface {
	Name() string
	Send(ctx context.Context, req Request) error
}

// delivered reports whether the relay processed the payload. Rejections
// of the payload itself are final; retrying them cannot succeed.
func delivered(code int) bool {
	switch {
	case code >= 200 && code < 300:
		return true
	case code == http.StatusBadRequest, code == http.StatusConflict,
		code == http.StatusRequestEntityTooLarge, code == http.StatusUnprocessableEntity:
		return true
	}
	return false
}

// httpTransport is the primary request/response POST.
type httpTransport struct {
	client httpretry.HTTPDoer
}

func (t *httpTransport) Name() string { return "http" }

func (t *httpTransport) Send(ctx context.Context, r Request) error {
	return postJSON(ctx, t.client, r, "application/json")
}

// beaconTransport is fire-and-forget: text/plain so it stays a simple CORS
// request, no custom headers, and the status is not inspected.
type beaconTransport struct {
	client httpretry.HTTPDoer
}

func (t *beaconTransport) Name() string { return "beacon" }

func (t *beaconTransport) Send(ctx context.Context, r Request) error {
	target := withQuery(r.EventsURL, "k", r.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(r.Body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "text/plain;charset=UTF-8")
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// manualTransport builds the request by hand on a separate retrying client,
// for environments where the shared client is intercepted.
type manualTransport struct {
	client *httpretry.RetryClient
}

func (t *manualTransport) Name() string { return "manual" }

func (t *manualTransport) Send(ctx context.Context, r Request) error {
	return postJSON(ctx, t.client, r, "application/json")
}

// imageTransport is the last resort: a GET for a 1x1 image with the
// payload base64url-encoded in the query string.
type imageTransport struct {
	client    httpretry.HTTPDoer
	maxURLLen int
}

func (t *imageTransport) Name() string { return "image" }

func (t *imageTransport) Send(ctx context.Context, r Request) error {
	target := withQuery(r.PixelURL, "d", base64.RawURLEncoding.EncodeToString(r.Body))
	target = withQuery(target, "k", r.APIKey)
	if len(target) > t.maxURLLen {
		return errURLTooLong
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("pixel returned %d", resp.StatusCode)
	}
	return nil
}

func postJSON(ctx context.Context, client httpretry.HTTPDoer, r Request, contentType string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.EventsURL, bytes.NewReader(r.Body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	if r.APIKey != "" {
		req.Header.Set(r.AuthHeader, r.APIKey)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if !delivered(resp.StatusCode) {
		return fmt.Errorf("relay returned %d", resp.StatusCode)
	}
	return nil
}

func withQuery(raw, key, value string) string {
	if value == "" {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}
