package capi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ignite/pixelrelay/internal/config"
	"github.com/ignite/pixelrelay/internal/domain"
)

func testChannel() domain.Channel {
	return domain.Channel{ID: "c1", PixelID: "123", AccessToken: "tok", TestEventCode: "TEST42", Active: true}
}

func testEvents(n int) []domain.TrackedEvent {
	out := make([]domain.TrackedEvent, n)
	for i := range out {
		out[i] = domain.TrackedEvent{
			ID:        "row-" + string(rune('a'+i%26)),
			ChannelID: "c1",
			EventName: domain.EventPurchase,
			EventTime: time.Unix(1700000000, 0),
			SourceURL: "https://shop.example.com/thanks",
			UserData: domain.HashedUserData{
				Emails:    []string{"e1", "e2"},
				FirstName: "fnhash",
				ClientIP:  "203.0.113.5",
				BrowserID: "fb.1.1.2",
			},
		}
	}
	return out
}

func newTestClient(url string, breaker config.BreakerConfig) *Client {
	return NewClient(config.CAPIConfig{BaseURL: url + "/", APIVersion: "v18.0", TimeoutSeconds: 5}, breaker,
		WithHTTPDoer(&http.Client{Timeout: 5 * time.Second}))
}

func TestClient_Send_Success(t *testing.T) {
	var got Request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v18.0/123/events" {
			t.Errorf("URL.Path = %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.Write([]byte(`{"events_received":2,"fbtrace_id":"AbC"}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, config.BreakerConfig{})
	resp, err := client.Send(context.Background(), testChannel(), testEvents(2))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp.EventsReceived != 2 || resp.TraceID != "AbC" || resp.Body == "" {
		t.Errorf("resp = %+v", resp)
	}
	if got.AccessToken != "tok" || got.TestEventCode != "TEST42" || len(got.Data) != 2 {
		t.Fatalf("request = %+v", got)
	}
	ev := got.Data[0]
	if ev.ActionSource != "website" || ev.EventID != "row-a" || ev.EventTime != 1700000000 {
		t.Errorf("event = %+v", ev)
	}
	if len(ev.UserData.Em) != 2 || ev.UserData.Fn[0] != "fnhash" || ev.UserData.Fbp != "fb.1.1.2" {
		t.Errorf("user_data = %+v", ev.UserData)
	}
}

func TestClient_Send_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"Invalid OAuth access token","type":"OAuthException","code":190,"fbtrace_id":"T1"}}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, config.BreakerConfig{})
	_, err := client.Send(context.Background(), testChannel(), testEvents(1))
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.StatusCode != 400 || apiErr.Code != 190 || apiErr.TraceID != "T1" || apiErr.Temporary() {
		t.Errorf("apiErr = %+v", apiErr)
	}
	if apiErr.Body == "" {
		t.Error("raw body must be kept")
	}
}

func TestClient_Send_Limits(t *testing.T) {
	client := newTestClient("http://127.0.0.1:1", config.BreakerConfig{})
	if _, err := client.Send(context.Background(), testChannel(), testEvents(MaxEventsPerRequest+1)); err == nil {
		t.Error("oversized chunk must be rejected")
	}
	ch := testChannel()
	ch.AccessToken = ""
	if _, err := client.Send(context.Background(), ch, testEvents(1)); err == nil {
		t.Error("channel without token must be rejected")
	}
	resp, err := client.Send(context.Background(), testChannel(), nil)
	if err != nil || resp.EventsReceived != 0 {
		t.Errorf("empty chunk: resp=%+v err=%v", resp, err)
	}
}

func TestClient_BreakerOpensPerChannel(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	breaker := config.BreakerConfig{MaxRequests: 1, IntervalSeconds: 60, TimeoutSeconds: 60, FailureRatio: 0.5, MinRequests: 2}
	client := newTestClient(server.URL, breaker)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := client.Send(ctx, testChannel(), testEvents(1)); err == nil {
			t.Fatal("expected failure")
		}
	}
	_, err := client.Send(ctx, testChannel(), testEvents(1))
	if !errors.Is(err, ErrBreakerOpen) {
		t.Fatalf("err = %v, want ErrBreakerOpen", err)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Errorf("calls = %d, open breaker must not call out", calls)
	}

	other := testChannel()
	other.ID = "c2"
	if _, err := client.Send(ctx, other, testEvents(1)); errors.Is(err, ErrBreakerOpen) {
		t.Error("breakers are per channel")
	}
}

func TestClient_ClientErrorsDoNotTrip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	breaker := config.BreakerConfig{MaxRequests: 1, IntervalSeconds: 60, TimeoutSeconds: 60, FailureRatio: 0.5, MinRequests: 1}
	client := newTestClient(server.URL, breaker)
	for i := 0; i < 3; i++ {
		_, err := client.Send(context.Background(), testChannel(), testEvents(1))
		if errors.Is(err, ErrBreakerOpen) {
			t.Fatal("4xx answers must not open the breaker")
		}
	}
}

func TestBuildEvent_CustomData(t *testing.T) {
	v := 12.5
	e := testEvents(1)[0]
	e.EventID = "order-1"
	e.CustomData = &domain.CustomData{Value: &v, Currency: "USD"}

	se := BuildEvent(e)
	if se.EventID != "order-1" || se.CustomData == nil || *se.CustomData.Value != 12.5 {
		t.Errorf("event = %+v", se)
	}
	if BuildEvent(testEvents(1)[0]).CustomData != nil {
		t.Error("empty custom data is omitted")
	}
}
