package api

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/ignite/pixelrelay/internal/metrics"
	"github.com/ignite/pixelrelay/internal/pkg/httputil"
	"github.com/ignite/pixelrelay/internal/service/ingest"
)

const maxBodyBytes = 4 << 20

// eventResponse describes one admitted event.
type eventResponse struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	MatchQuality int    `json:"match_quality"`
}

type rejectedResponse struct {
	Index   int    `json:"index"`
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

type batchResponse struct {
	Accepted []eventResponse    `json:"accepted"`
	Rejected []rejectedResponse `json:"rejected"`
}

// wrapped is the payload envelope disguised clients send.
type wrapped struct {
	D string `json:"d"`
	T int64  `json:"t"`
	V string `json:"v"`
}

// parsedBody is either one submission or a batch.
type parsedBody struct {
	single *ingest.Submission
	batch  []ingest.Submission
}

// HandleEvents handles POST /api/v1/events.
// Accepts application/json and text/plain (sendBeacon).
func (h *Handlers) HandleEvents(w http.ResponseWriter, r *http.Request) {
	h.serveEvents(w, r, transportFor(r, "http"))
}

// HandleCollect handles POST {prefix}/collect, the disguised mirror of
// HandleEvents.
func (h *Handlers) HandleCollect(w http.ResponseWriter, r *http.Request) {
	h.serveEvents(w, r, "disguised")
}

func (h *Handlers) serveEvents(w http.ResponseWriter, r *http.Request, transport string) {
	if !h.authorized(r) {
		metrics.IngestRejections.WithLabelValues("UNAUTHORIZED").Inc()
		httputil.Unauthorized(w, "missing or invalid api key")
		return
	}

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			httputil.ErrorCode(w, http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE", "request body too large", nil)
			return
		}
		httputil.BadRequest(w, "could not read request body")
		return
	}

	body, err := parseEvents(raw)
	if err != nil {
		metrics.IngestRejections.WithLabelValues("BAD_REQUEST").Inc()
		httputil.BadRequest(w, err.Error())
		return
	}

	meta := requestMeta(r, transport)
	if body.single != nil {
		h.admitOne(w, r, *body.single, meta)
		return
	}
	h.admitBatch(w, r, body.batch, meta)
}

func (h *Handlers) admitOne(w http.ResponseWriter, r *http.Request, sub ingest.Submission, meta ingest.RequestMeta) {
	res, err := h.admitter.Admit(r.Context(), sub, meta)
	if err != nil {
		status, code, details := classify(err)
		metrics.IngestRejections.WithLabelValues(code).Inc()
		if status >= http.StatusInternalServerError {
			respondSafeError(w, err)
			return
		}
		if code == "DUPLICATE_EVENT" && res != nil && res.Event != nil {
			details = map[string]string{"id": res.Event.ID, "duplicate_of": res.Event.DuplicateOf}
		}
		httputil.ErrorCode(w, status, code, publicMessage(err), details)
		return
	}
	httputil.Accepted(w, toEventResponse(res))
}

func (h *Handlers) admitBatch(w http.ResponseWriter, r *http.Request, subs []ingest.Submission, meta ingest.RequestMeta) {
	if len(subs) == 0 {
		metrics.IngestRejections.WithLabelValues("VALIDATION_ERROR").Inc()
		httputil.Unprocessable(w, "VALIDATION_ERROR", "events must not be empty", nil)
		return
	}
	if len(subs) > h.maxBatch {
		metrics.IngestRejections.WithLabelValues("BATCH_TOO_LARGE").Inc()
		httputil.Unprocessable(w, "BATCH_TOO_LARGE", fmt.Sprintf("a batch holds at most %d events", h.maxBatch), nil)
		return
	}

	result := h.admitter.AdmitBatch(r.Context(), subs, meta)
	resp := batchResponse{
		Accepted: make([]eventResponse, 0, len(result.Accepted)),
		Rejected: make([]rejectedResponse, 0, len(result.Rejected)),
	}
	for i := range result.Accepted {
		resp.Accepted = append(resp.Accepted, toEventResponse(&result.Accepted[i]))
	}
	for _, rej := range result.Rejected {
		status, code, details := classify(rej.Err)
		metrics.IngestRejections.WithLabelValues(code).Inc()
		msg := publicMessage(rej.Err)
		if status >= http.StatusInternalServerError {
			msg = sanitizedError(status, rej.Err)
		}
		resp.Rejected = append(resp.Rejected, rejectedResponse{Index: rej.Index, Error: msg, Code: code, Details: details})
	}

	switch {
	case len(resp.Rejected) == 0:
		httputil.Accepted(w, resp)
	case len(resp.Accepted) == 0:
		httputil.JSON(w, http.StatusUnprocessableEntity, resp)
	default:
		httputil.MultiStatus(w, resp)
	}
}

func toEventResponse(res *ingest.Result) eventResponse {
	out := eventResponse{ID: res.Event.ID, Status: string(res.Event.Status)}
	if res.Event.MatchQuality != nil {
		out.MatchQuality = *res.Event.MatchQuality
	}
	return out
}

// classify maps an admission error to a status code, error code and
// optional details.
func classify(err error) (int, string, any) {
	var verr *ingest.ValidationError
	switch {
	case errors.Is(err, ingest.ErrDuplicate):
		return http.StatusConflict, "DUPLICATE_EVENT", nil
	case errors.As(err, &verr):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", verr.Fields
	case errors.Is(err, ingest.ErrInvalidEvent):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", nil
	case errors.Is(err, ingest.ErrChannelNotFound):
		return http.StatusUnprocessableEntity, "CHANNEL_NOT_FOUND", nil
	case errors.Is(err, ingest.ErrChannelInactive):
		return http.StatusUnprocessableEntity, "CHANNEL_INACTIVE", nil
	case errors.Is(err, ingest.ErrOriginNotAllowed):
		return http.StatusForbidden, "ORIGIN_NOT_ALLOWED", nil
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR", nil
	}
}

// publicMessage strips the wrapped detail from sentinel errors that carry
// identifiers the client already knows.
func publicMessage(err error) string {
	switch {
	case errors.Is(err, ingest.ErrDuplicate):
		return ingest.ErrDuplicate.Error()
	case errors.Is(err, ingest.ErrChannelNotFound):
		return ingest.ErrChannelNotFound.Error()
	case errors.Is(err, ingest.ErrChannelInactive):
		return ingest.ErrChannelInactive.Error()
	}
	return err.Error()
}

// parseEvents accepts a single event, an {"events":[...]} batch, or either
// of those wrapped as {"d":base64(json),"t":...,"v":...}.
func parseEvents(raw []byte) (parsedBody, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return parsedBody{}, errors.New("empty request body")
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return parsedBody{}, errors.New("request body must be a JSON object")
	}

	if _, ok := envelope["d"]; ok && envelope["event_name"] == nil && envelope["events"] == nil {
		var w wrapped
		if err := json.Unmarshal(raw, &w); err != nil || w.D == "" {
			return parsedBody{}, errors.New("invalid payload envelope")
		}
		inner, err := decodeBase64(w.D)
		if err != nil {
			return parsedBody{}, errors.New("invalid payload envelope encoding")
		}
		return parseEvents(inner)
	}

	if events, ok := envelope["events"]; ok {
		var subs []ingest.Submission
		if err := json.Unmarshal(events, &subs); err != nil {
			return parsedBody{}, errors.New("events must be an array of event objects")
		}
		if subs == nil {
			subs = []ingest.Submission{}
		}
		return parsedBody{batch: subs}, nil
	}

	var sub ingest.Submission
	if err := json.Unmarshal(raw, &sub); err != nil {
		return parsedBody{}, errors.New("malformed event object")
	}
	return parsedBody{single: &sub}, nil
}

// decodeBase64 accepts standard and URL alphabets, padded or not.
func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.RawURLEncoding} {
		if b, err := enc.DecodeString(s); err == nil {
			return b, nil
		}
	}
	return nil, errors.New("not base64")
}

func transportFor(r *http.Request, fallback string) string {
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mt == "text/plain" {
		return "beacon"
	}
	return fallback
}
