package upstream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ChamsBouzaiene/rsp4copilot/internal/api"
)

func TestRetryableBody(t *testing.T) {
	cases := []struct {
		status int
		body   string
		want   bool
	}{
		{400, "", true},
		{422, `{"error":"bad shape"}`, true},
		{400, `{"error":{"message":"Not Found"}}`, false},
		{400, "Invalid API key provided", false},
		{400, "model_not_found", false},
		{400, "the model does not exist", false},
		{500, "", false},
		{403, "anything", false},
	}
	for _, c := range cases {
		if got := RetryableBody(c.status, []byte(c.body)); got != c.want {
			t.Errorf("RetryableBody(%d, %q): expected %v, got %v", c.status, c.body, c.want, got)
		}
	}
}

func TestHopToNextURL(t *testing.T) {
	for _, status := range []int{400, 403, 404, 405, 422, 500, 502, 503} {
		if !HopToNextURL(status) {
			t.Errorf("status %d must hop", status)
		}
	}
	for _, status := range []int{401, 429, 501} {
		if HopToNextURL(status) {
			t.Errorf("status %d must not hop", status)
		}
	}
}

func TestProbeStreamVerdicts(t *testing.T) {
	// Zero-byte EOF is empty.
	empty, _ := ProbeStream(io.NopCloser(strings.NewReader("")), 50*time.Millisecond, 4096)
	if !empty {
		t.Error("zero-byte EOF must be empty")
	}

	// A data line is non-empty and fully replayed.
	payload := "event: x\ndata: {\"type\":\"response.created\"}\n\n"
	empty, replay := ProbeStream(io.NopCloser(strings.NewReader(payload)), 50*time.Millisecond, 4096)
	if empty {
		t.Fatal("stream with data line must be non-empty")
	}
	got, err := io.ReadAll(replay)
	if err != nil || string(got) != payload {
		t.Errorf("probe must not consume bytes: got %q err %v", got, err)
	}

	// Comment padding without a data line is empty.
	empty, _ = ProbeStream(io.NopCloser(strings.NewReader(": ping\n: ping\n")), 50*time.Millisecond, 4096)
	if !empty {
		t.Error("comment-only stream must be empty")
	}

	// Byte budget exhausted without a data line is empty.
	empty, _ = ProbeStream(io.NopCloser(strings.NewReader(strings.Repeat(": pad\n", 100))), time.Second, 64)
	if !empty {
		t.Error("padding past the byte budget must be empty")
	}
}

func TestProbeStreamSlowUpstreamIsNonEmpty(t *testing.T) {
	pr, pw := io.Pipe()
	go func() {
		pw.Write([]byte(": warming up\n"))
		// No further bytes before the probe deadline.
		time.Sleep(200 * time.Millisecond)
		pw.Write([]byte("data: {}\n\n"))
		pw.Close()
	}()
	empty, replay := ProbeStream(pr, 50*time.Millisecond, 4096)
	if empty {
		t.Fatal("bytes before the deadline mean the upstream is slow, not empty")
	}
	got, _ := io.ReadAll(replay)
	if !strings.Contains(string(got), "data: {}") {
		t.Errorf("late bytes must still be delivered, got %q", got)
	}
}

func sseBody(events ...string) string {
	return strings.Join(events, "")
}

func TestSelectURLFallbackOn404(t *testing.T) {
	a := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"message":"not found"}}`))
	}))
	defer a.Close()

	b := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(sseBody("data: {\"type\":\"response.created\"}\n\n")))
	}))
	defer b.Close()

	s := &Selector{ProbeTimeout: 100 * time.Millisecond}
	variants := []map[string]any{{"model": "m", "stream": true}}
	result, err := s.Select(context.Background(), []string{a.URL, b.URL}, variants, nil)
	if err != nil {
		t.Fatalf("select failed: %v", err)
	}
	defer result.Response.Body.Close()
	if result.URL != b.URL {
		t.Errorf("expected fallback to %s, got %s", b.URL, result.URL)
	}
	if !result.Streaming {
		t.Error("expected streaming acceptance")
	}
}

func TestSelectEmptyStreamRecovery(t *testing.T) {
	var calls int
	var nonStreamAttempted bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			// Empty event stream on the first attempt.
			w.Header().Set("Content-Type", "text/event-stream")
			return
		}
		nonStreamAttempted = r.Header.Get("Accept") == "application/json"
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"r_1","object":"response","output":[]}`))
	}))
	defer srv.Close()

	s := &Selector{ProbeTimeout: 50 * time.Millisecond}
	variants := []map[string]any{
		{"model": "m", "stream": true},
		{"model": "m", "stream": true, "max_tokens": 5},
	}
	result, err := s.Select(context.Background(), []string{srv.URL}, variants, nil)
	if err != nil {
		t.Fatalf("select failed: %v", err)
	}
	defer result.Response.Body.Close()
	if result.Streaming {
		t.Error("recovered response must be non-streaming")
	}
	if result.VariantIndex != 0 {
		t.Errorf("variant 1 must not be attempted, got index %d", result.VariantIndex)
	}
	if !nonStreamAttempted {
		t.Error("retry must carry accept: application/json")
	}
	if calls != 2 {
		t.Errorf("expected 2 upstream calls, got %d", calls)
	}
}

func TestSelectVariantRetryOn400(t *testing.T) {
	var bodies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(raw))
		if len(bodies) == 1 {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":{"message":"unknown parameter max_output_tokens"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"r_1"}`))
	}))
	defer srv.Close()

	s := &Selector{}
	variants := []map[string]any{
		{"model": "m", "max_output_tokens": 5},
		{"model": "m", "max_tokens": 5},
	}
	result, err := s.Select(context.Background(), []string{srv.URL}, variants, nil)
	if err != nil {
		t.Fatalf("select failed: %v", err)
	}
	defer result.Response.Body.Close()
	if result.VariantIndex != 1 {
		t.Errorf("expected variant 1 accepted, got %d", result.VariantIndex)
	}
}

func TestSelectFirstErrorPropagated(t *testing.T) {
	first := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"message":"first failure"}}`))
	}))
	defer first.Close()
	second := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"message":"second failure"}}`))
	}))
	defer second.Close()

	s := &Selector{}
	variants := []map[string]any{{"model": "m"}}
	_, err := s.Select(context.Background(), []string{first.URL, second.URL}, variants, nil)
	if err == nil {
		t.Fatal("expected exhaustion error")
	}
	var ge *api.GatewayError
	if !errors.As(err, &ge) {
		t.Fatalf("expected GatewayError, got %T", err)
	}
	if ge.UpstreamStatus != 404 || !strings.Contains(string(ge.UpstreamBody), "first failure") {
		t.Errorf("expected the first error, got status %d body %s", ge.UpstreamStatus, ge.UpstreamBody)
	}
}

func TestSelectNonHoppableStatusFailsFast(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	}))
	defer srv.Close()
	unused := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("second URL must not be tried on a non-hoppable status")
	}))
	defer unused.Close()

	s := &Selector{}
	_, err := s.Select(context.Background(), []string{srv.URL, unused.URL}, []map[string]any{{"model": "m"}}, nil)
	if err == nil {
		t.Fatal("expected upstream error")
	}
	if calls != 1 {
		t.Errorf("expected a single attempt, got %d", calls)
	}
	ge := api.AsGatewayError(err)
	if ge.UpstreamStatus != 429 {
		t.Errorf("expected status 429 propagated, got %d", ge.UpstreamStatus)
	}
}

func TestResponsesHeaders(t *testing.T) {
	h := ResponsesHeaders("sk-test", true, "sess-1")
	if h.Get("Authorization") != "Bearer sk-test" {
		t.Errorf("unexpected authorization %q", h.Get("Authorization"))
	}
	for _, key := range []string{"X-Api-Key", "X-Goog-Api-Key"} {
		if h.Get(key) != "sk-test" {
			t.Errorf("expected %s set", key)
		}
	}
	if h.Get("Openai-Beta") != "responses=v1" {
		t.Error("expected responses=v1 beta header")
	}
	if h.Get("Accept") != "text/event-stream" {
		t.Error("streaming requests must accept SSE")
	}
	if h.Get("X-Session-Id") != "sess-1" {
		t.Error("session id must be forwarded")
	}
	if ResponsesHeaders("k", false, "").Get("Accept") != "application/json" {
		t.Error("non-streaming requests must accept JSON")
	}
}
