package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ChamsBouzaiene/rsp4copilot/internal/api"
	"github.com/ChamsBouzaiene/rsp4copilot/internal/config"
	"github.com/ChamsBouzaiene/rsp4copilot/internal/session"
)

func testConfig(baseURL string) *config.Config {
	return &config.Config{
		OpenAIBaseURL:       baseURL,
		OpenAIAPIKey:        "test-key",
		MaxTurns:            12,
		MaxMessages:         40,
		MaxInputChars:       300000,
		MaxBufferedSSEBytes: 8 << 20,
		ProbeTimeoutMS:      150,
		ProbeMaxBytes:       4 << 10,
		ClaudeMaxTokens:     8192,
	}
}

func userItem(text string) api.InputItem {
	return api.InputItem{Role: "user", Content: []api.ContentPart{{Type: "input_text", Text: text}}}
}

func assistantItem(text string) api.InputItem {
	return api.InputItem{Role: "assistant", Content: []api.ContentPart{{Type: "input_text", Text: text}}}
}

func writeSSE(w http.ResponseWriter, events ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	for _, ev := range events {
		fmt.Fprintf(w, "data: %s\n\n", ev)
	}
}

func TestCompleteRoundTripAndSessionPersistence(t *testing.T) {
	var bodies []map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		bodies = append(bodies, body)
		writeSSE(w,
			`{"type":"response.created","response":{"id":"resp_turn1","model":"gpt-5.1"}}`,
			`{"type":"response.output_text.delta","delta":"hi"}`,
			`{"type":"response.output_item.done","item":{"type":"function_call","call_id":"call_sig","name":"f","arguments":"{}","thought_signature":"sig-1"}}`,
			`{"type":"response.completed","response":{"id":"resp_turn1"}}`,
			`[DONE]`,
		)
	}))
	defer ts.Close()

	g := New(testConfig(ts.URL), session.NewStore(session.NewMemoryKV(), time.Minute))
	req := &api.ResponsesRequest{
		Model: "gpt-5.1",
		Input: []api.InputItem{userItem("first question")},
	}
	out, err := g.Complete(context.Background(), req, CompleteOptions{SessionID: "sess-1"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out.Text != "hi" || out.ResponseID != "resp_turn1" {
		t.Fatalf("outcome = %+v", out)
	}

	// Second turn: previous_response_id rides along, input shrinks to the
	// delta, and the cached signature is restored onto the replayed call.
	req2 := &api.ResponsesRequest{
		Model: "gpt-5.1",
		Input: []api.InputItem{
			userItem("first question"),
			assistantItem("hi"),
			{Type: "function_call", CallID: "call_sig", Name: "f", Arguments: "{}"},
			{Type: "function_call_output", CallID: "call_sig", Output: "ok"},
			userItem("second question"),
		},
	}
	if _, err := g.Complete(context.Background(), req2, CompleteOptions{SessionID: "sess-1"}); err != nil {
		t.Fatalf("second Complete: %v", err)
	}

	if len(bodies) < 2 {
		t.Fatalf("expected 2 upstream calls, got %d", len(bodies))
	}
	second := bodies[len(bodies)-1]
	if second["previous_response_id"] != "resp_turn1" {
		t.Fatalf("previous_response_id = %v", second["previous_response_id"])
	}
	input := second["input"].([]any)
	for _, item := range input {
		m := item.(map[string]any)
		if m["role"] == "assistant" {
			t.Fatalf("delta input still carries assistant history: %v", input)
		}
		if m["type"] == "function_call" && m["thought_signature"] != "sig-1" {
			t.Fatalf("cached signature not applied: %v", m)
		}
	}
}

func TestCompleteRetriesWithoutStalePreviousID(t *testing.T) {
	var sawPrev, sawFull bool
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["previous_response_id"] != nil {
			sawPrev = true
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":{"message":"previous response not found"}}`)
			return
		}
		sawFull = true
		writeSSE(w,
			`{"type":"response.created","response":{"id":"resp_fresh"}}`,
			`{"type":"response.output_text.delta","delta":"recovered"}`,
			`{"type":"response.completed","response":{"id":"resp_fresh"}}`,
			`[DONE]`,
		)
	}))
	defer ts.Close()

	store := session.NewStore(session.NewMemoryKV(), time.Minute)
	store.SetPreviousResponseID(context.Background(), "sess-2", "resp_stale")

	g := New(testConfig(ts.URL), store)
	req := &api.ResponsesRequest{
		Model: "gpt-5.1",
		Input: []api.InputItem{userItem("q"), assistantItem("a"), userItem("q2")},
	}
	out, err := g.Complete(context.Background(), req, CompleteOptions{SessionID: "sess-2"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if !sawPrev || !sawFull {
		t.Fatalf("sawPrev = %v, sawFull = %v", sawPrev, sawFull)
	}
	if out.Text != "recovered" {
		t.Fatalf("text = %q", out.Text)
	}
	if got := store.PreviousResponseID(context.Background(), "sess-2"); got != "resp_fresh" {
		t.Fatalf("stored id = %q", got)
	}
}

func TestCompleteMissingKey(t *testing.T) {
	g := New(&config.Config{}, nil)
	_, err := g.Complete(context.Background(), &api.ResponsesRequest{
		Model: "gpt-5.1",
		Input: []api.InputItem{userItem("q")},
	}, CompleteOptions{})
	if err == nil {
		t.Fatal("expected misconfiguration error")
	}
	if ge := api.AsGatewayError(err); ge.Class != api.ClassMisconfigured {
		t.Fatalf("class = %q", ge.Class)
	}
}

func TestCompleteGemini(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "/v1beta/models/gemini-2.5-pro:streamGenerateContent") {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.Header.Get("X-Goog-Api-Key") != "gem-key" {
			t.Errorf("missing api key header")
		}
		writeSSE(w,
			`{"candidates":[{"content":{"role":"model","parts":[{"text":"pong"}]},"finishReason":"STOP","index":0}]}`,
		)
	}))
	defer ts.Close()

	cfg := testConfig("")
	cfg.GeminiBaseURL = ts.URL
	cfg.GeminiAPIKey = "gem-key"
	g := New(cfg, nil)

	req := &api.GeminiRequest{Contents: []api.GeminiContent{{Role: "user", Parts: []api.GeminiPart{{Text: "ping"}}}}}
	out, err := g.CompleteGemini(context.Background(), req, "gemini-2.5-pro", true, nil)
	if err != nil {
		t.Fatalf("CompleteGemini: %v", err)
	}
	if out.Text != "pong" {
		t.Fatalf("text = %q", out.Text)
	}
}

func TestCompleteClaudeURLFallback(t *testing.T) {
	calls := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.Header.Get("Anthropic-Version") == "" {
			t.Errorf("missing anthropic-version header")
		}
		if calls == 1 {
			http.NotFound(w, r)
			return
		}
		writeSSE(w,
			`{"type":"message_start","message":{"id":"msg_1","model":"claude-sonnet-4"}}`,
			`{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`,
			`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"claude says hi"}}`,
			`{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"input_tokens":1,"output_tokens":2}}`,
			`{"type":"message_stop"}`,
		)
	}))
	defer ts.Close()

	cfg := testConfig("")
	cfg.ClaudeBaseURL = ts.URL
	cfg.ClaudeAPIKey = "cl-key"
	g := New(cfg, nil)

	req := &api.ChatRequest{
		Model:    "claude-sonnet-4",
		Messages: []api.ChatMessage{{Role: "user", Content: json.RawMessage(`"hello"`)}},
	}
	out, err := g.CompleteClaude(context.Background(), req, true, nil)
	if err != nil {
		t.Fatalf("CompleteClaude: %v", err)
	}
	if out.Text != "claude says hi" {
		t.Fatalf("text = %q", out.Text)
	}
	if calls < 2 {
		t.Fatalf("expected url fallback, got %d calls", calls)
	}
}

func TestClaudeRequestConversion(t *testing.T) {
	g := New(testConfig(""), nil)
	temp := 0.4
	req := &api.ChatRequest{
		Model:       "claude-sonnet-4",
		Temperature: &temp,
		Messages: []api.ChatMessage{
			{Role: "system", Content: json.RawMessage(`"be brief"`)},
			{Role: "user", Content: json.RawMessage(`"run the tool"`)},
			{Role: "assistant", ToolCalls: []api.ToolCall{{
				ID: "call_1", Type: "function",
				Function: api.FunctionCall{Name: "lookup", Arguments: `{"q":"x"}`},
			}}},
			{Role: "tool", ToolCallID: "call_1", Content: json.RawMessage(`"result"`)},
		},
		Tools: []json.RawMessage{json.RawMessage(
			`{"type":"function","function":{"name":"lookup","description":"d","parameters":{"type":"object"}}}`)},
	}

	wire, err := g.claudeRequest(req, false)
	if err != nil {
		t.Fatalf("claudeRequest: %v", err)
	}
	if len(wire.MultiSystem) != 1 || wire.MultiSystem[0].Text != "be brief" {
		t.Fatalf("system = %+v", wire.MultiSystem)
	}
	if len(wire.Messages) != 3 {
		t.Fatalf("messages = %d", len(wire.Messages))
	}
	if wire.MaxTokens != 8192 {
		t.Fatalf("max tokens = %d", wire.MaxTokens)
	}
	if wire.Temperature == nil || *wire.Temperature != 0.4 {
		t.Fatalf("temperature = %v", wire.Temperature)
	}
	if len(wire.Tools) != 1 || wire.Tools[0].Name != "lookup" {
		t.Fatalf("tools = %+v", wire.Tools)
	}
	if wire.ToolChoice == nil || wire.ToolChoice.Type != "auto" {
		t.Fatalf("tool choice = %+v", wire.ToolChoice)
	}
}

func TestApplyCachedSignatures(t *testing.T) {
	sigs := map[string]session.SignatureRecord{
		"call_known": {ThoughtSignature: "sig-k", Thought: "because"},
	}
	items := []api.InputItem{
		{Type: "function_call", CallID: "call_known", Name: "f", Arguments: "{}"},
		{Type: "function_call_output", CallID: "call_known", Output: "ok"},
		{Type: "function_call", CallID: "call_unknown", Name: "g", Arguments: "{}"},
		{Type: "function_call_output", CallID: "call_unknown", Output: "ok"},
		userItem("next"),
	}

	out := applyCachedSignatures(items, sigs, true)
	var keptCalls []string
	for _, it := range out {
		if it.Type == "function_call" {
			keptCalls = append(keptCalls, it.CallID)
			if it.CallID == "call_known" && it.ThoughtSignature != "sig-k" {
				t.Fatalf("signature not applied: %+v", it)
			}
		}
	}
	if len(keptCalls) != 1 || keptCalls[0] != "call_known" {
		t.Fatalf("kept calls = %v", keptCalls)
	}

	// Without a previous response id every call survives.
	out = applyCachedSignatures(items, sigs, false)
	count := 0
	for _, it := range out {
		if it.Type == "function_call" {
			count++
		}
	}
	if count != 2 {
		t.Fatalf("kept %d calls without previous id", count)
	}
}

func TestTrimInputBudgets(t *testing.T) {
	var items []api.InputItem
	items = append(items, api.InputItem{Role: "system", Content: []api.ContentPart{{Type: "input_text", Text: "sys"}}})
	for i := 0; i < 20; i++ {
		items = append(items, userItem(fmt.Sprintf("question %d", i)))
		items = append(items, assistantItem(fmt.Sprintf("answer %d", i)))
	}

	out := trimInput(items, 5, 8, 0, false)
	if len(out) > 8 {
		t.Fatalf("kept %d items", len(out))
	}
	if out[0].Role != "system" {
		t.Fatalf("system message dropped: %+v", out[0])
	}
	last := out[len(out)-1]
	if last.Role != "assistant" {
		t.Fatalf("tail = %+v", last)
	}
	sawLastUser := false
	for _, it := range out {
		if it.Role == "user" && strings.Contains(it.Content[0].Text, "question 19") {
			sawLastUser = true
		}
	}
	if !sawLastUser {
		t.Fatal("final user message dropped")
	}
}

func TestTrimInputDropsOrphanedToolItems(t *testing.T) {
	items := []api.InputItem{
		{Type: "function_call_output", CallID: "call_gone", Output: "orphan"},
		{Type: "function_call", CallID: "call_pair", Name: "f", Arguments: "{}"},
		{Type: "function_call_output", CallID: "call_pair", Output: "ok"},
		{Type: "function_call", CallID: "call_noresult", Name: "g", Arguments: "{}"},
		userItem("q"),
	}
	out := trimInput(items, 0, 0, 0, false)
	for _, it := range out {
		if it.CallID == "call_gone" || it.CallID == "call_noresult" {
			t.Fatalf("orphan survived: %+v", it)
		}
	}
	calls := 0
	for _, it := range out {
		if it.Type == "function_call" {
			calls++
		}
	}
	if calls != 1 {
		t.Fatalf("paired call count = %d", calls)
	}

	// Anchored by a previous response id, an output whose call lives
	// upstream is kept; a call without any output still goes.
	out = trimInput(items, 0, 0, 0, true)
	sawAnchored := false
	for _, it := range out {
		if it.CallID == "call_noresult" {
			t.Fatalf("resultless call survived: %+v", it)
		}
		if it.Type == "function_call_output" && it.CallID == "call_gone" {
			sawAnchored = true
		}
	}
	if !sawAnchored {
		t.Fatalf("anchored output dropped: %+v", out)
	}
}

func TestToolOutputSurvivesSignatureDrop(t *testing.T) {
	// A signature-less call replayed under a previous response id is
	// dropped, but its result must still reach the upstream through the
	// whole trim-and-delta pipeline.
	items := []api.InputItem{
		userItem("q1"),
		assistantItem("a1"),
		{Type: "function_call", CallID: "call_x", Name: "f", Arguments: "{}"},
		{Type: "function_call_output", CallID: "call_x", Output: "tool says 42"},
	}

	patched := applyCachedSignatures(items, map[string]session.SignatureRecord{}, true)
	trimmed := trimInput(patched, 12, 40, 300000, true)
	delta := deltaInput(trimmed)

	sawOutput := false
	for _, it := range delta {
		if it.Type == "function_call" {
			t.Fatalf("signature-less call replayed: %+v", it)
		}
		if it.Type == "function_call_output" && it.CallID == "call_x" {
			sawOutput = true
		}
	}
	if !sawOutput {
		t.Fatalf("tool output missing from delta request: %+v", delta)
	}
}

func TestDeltaInput(t *testing.T) {
	items := []api.InputItem{
		userItem("q1"),
		assistantItem("a1"),
		{Type: "function_call", CallID: "call_d", Name: "f", Arguments: "{}"},
		{Type: "function_call_output", CallID: "call_d", Output: "ok"},
		userItem("q2"),
	}
	out := deltaInput(items)
	if len(out) != 3 {
		t.Fatalf("delta = %+v", out)
	}
	if out[0].Type != "function_call" || out[2].Role != "user" {
		t.Fatalf("delta order = %+v", out)
	}

	// A history ending in the assistant turn resends that turn.
	out = deltaInput(items[:2])
	if len(out) != 1 || out[0].Role != "assistant" {
		t.Fatalf("tail delta = %+v", out)
	}
}

func TestResolveModel(t *testing.T) {
	cases := []struct {
		in       string
		provider Provider
		name     string
	}{
		{"gpt-5.1", ProviderOpenAI, "gpt-5.1"},
		{"gemini-2.5-pro", ProviderGemini, "gemini-2.5-pro"},
		{"models/gemini-2.5-flash", ProviderGemini, "gemini-2.5-flash"},
		{"claude-sonnet-4", ProviderClaude, "claude-sonnet-4"},
		{"openai.o4-mini", ProviderOpenAI, "o4-mini"},
		{"claude.opus-4", ProviderClaude, "opus-4"},
		{"gemma-3-27b", ProviderGemini, "gemma-3-27b"},
	}
	for _, tc := range cases {
		provider, name := ResolveModel(tc.in)
		if provider != tc.provider || name != tc.name {
			t.Errorf("ResolveModel(%q) = %v, %q; want %v, %q", tc.in, provider, name, tc.provider, tc.name)
		}
	}
}

func TestPreviousResponseRejected(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{api.UpstreamFailure(400, []byte(`{"error":{"message":"previous response not found"}}`)), true},
		{api.UpstreamFailure(404, []byte(`{"error":{"message":"response resp_x not found"}}`)), true},
		{api.UpstreamFailure(400, []byte(`{"error":{"message":"bad temperature"}}`)), false},
		{api.UpstreamFailure(500, []byte(`previous_response_id`)), false},
		{api.BadGatewayf("all upstream URLs exhausted"), false},
	}
	for i, tc := range cases {
		if got := previousResponseRejected(tc.err); got != tc.want {
			t.Errorf("case %d: got %v, want %v", i, got, tc.want)
		}
	}
}
