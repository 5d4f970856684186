// Package capi delivers event chunks to the advertising platform's
// conversions API. Each channel gets its own circuit breaker so one
// misconfigured pixel cannot stall delivery for the others.
package capi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/ignite/pixelrelay/internal/config"
	"github.com/ignite/pixelrelay/internal/domain"
	"github.com/ignite/pixelrelay/internal/metrics"
	"github.com/ignite/pixelrelay/internal/pkg/httpretry"
	"github.com/ignite/pixelrelay/internal/pkg/logger"
)

// ErrBreakerOpen is returned while a channel's breaker rejects calls.
var ErrBreakerOpen = errors.New("conversions api circuit open")

// maxResponseBytes bounds how much of a response body is kept.
const maxResponseBytes = 64 << 10

// Client is a conversions API client.
type Client struct {
	baseURL    string
	version    string
	httpClient httpretry.HTTPDoer
	breaker    config.BreakerConfig
	log        *logger.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[*Response]
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPDoer replaces the retrying HTTP client.
func WithHTTPDoer(d httpretry.HTTPDoer) Option {
	return func(c *Client) { c.httpClient = d }
}

// NewClient creates a conversions API client.
func NewClient(cfg config.CAPIConfig, breaker config.BreakerConfig, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		version: cfg.APIVersion,
		httpClient: httpretry.NewRetryClient(&http.Client{
			Timeout: cfg.Timeout(),
		}, cfg.MaxRetries),
		breaker:  breaker,
		log:      logger.Default().With("component", "capi"),
		breakers: make(map[string]*gobreaker.CircuitBreaker[*Response]),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Send submits events for ch in one call. It rejects chunks above the
// platform limit without calling out.
func (c *Client) Send(ctx context.Context, ch domain.Channel, events []domain.TrackedEvent) (*Response, error) {
	if len(events) == 0 {
		return &Response{}, nil
	}
	if len(events) > MaxEventsPerRequest {
		return nil, fmt.Errorf("chunk of %d events exceeds the %d per-call limit", len(events), MaxEventsPerRequest)
	}
	if ch.PixelID == "" || ch.AccessToken == "" {
		return nil, fmt.Errorf("channel %s has no pixel id or access token", ch.ID)
	}

	resp, err := c.breakerFor(ch.ID).Execute(func() (*Response, error) {
		return c.post(ctx, ch, BuildRequest(ch, events))
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w for channel %s", ErrBreakerOpen, ch.ID)
	}
	return resp, err
}

func (c *Client) post(ctx context.Context, ch domain.Channel, body Request) (*Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling request body: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s/%s/events", c.baseURL, c.version, url.PathEscape(ch.PixelID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.CAPIRequestDuration.WithLabelValues("transport_error").Observe(time.Since(start).Seconds())
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		metrics.CAPIRequestDuration.WithLabelValues("transport_error").Observe(time.Since(start).Seconds())
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.CAPIRequestDuration.WithLabelValues("api_error").Observe(time.Since(start).Seconds())
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(raw)}
		var env errorEnvelope
		if json.Unmarshal(raw, &env) == nil {
			apiErr.Message = env.Error.Message
			apiErr.Type = env.Error.Type
			apiErr.Code = env.Error.Code
			apiErr.TraceID = env.Error.TraceID
		}
		c.log.Warn("conversions api rejected chunk",
			"channel", ch.ID, "status", resp.StatusCode, "events", len(body.Data), "fbtrace_id", apiErr.TraceID)
		return nil, apiErr
	}

	metrics.CAPIRequestDuration.WithLabelValues("ok").Observe(time.Since(start).Seconds())
	out := &Response{Body: string(raw)}
	if err := json.Unmarshal(raw, out); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	return out, nil
}

func (c *Client) breakerFor(channelID string) *gobreaker.CircuitBreaker[*Response] {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cb, ok := c.breakers[channelID]; ok {
		return cb
	}
	cfg := c.breaker
	cb := gobreaker.NewCircuitBreaker[*Response](gobreaker.Settings{
		Name:        channelID,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval(),
		Timeout:     cfg.Timeout(),
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if cfg.MinRequests == 0 || counts.Requests < cfg.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= cfg.FailureRatio
		},
		// A rejected payload says nothing about the platform's health.
		IsSuccessful: func(err error) bool {
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return !apiErr.Temporary()
			}
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.BreakerStateChanges.WithLabelValues(name, to.String()).Inc()
			c.log.Warn("conversions api breaker state change", "channel", name, "from", from.String(), "to", to.String())
		},
	})
	c.breakers[channelID] = cb
	return cb
}
