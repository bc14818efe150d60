package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestGatewayErrorStatusAndCode(t *testing.T) {
	cases := []struct {
		err    *GatewayError
		status int
		code   string
	}{
		{InvalidRequestf("bad body"), 400, "bad_request"},
		{Unauthorizedf("no token"), 401, "unauthorized"},
		{Misconfiguredf("OPENAI_BASE_URL missing"), 500, "server_error"},
		{BadGatewayf("all upstreams failed"), 502, "bad_gateway"},
		{UpstreamFailure(422, []byte(`{"error":{"message":"nope"}}`)), 422, ""},
	}
	for _, c := range cases {
		if got := c.err.HTTPStatus(); got != c.status {
			t.Errorf("%s: expected status %d, got %d", c.err.Class, c.status, got)
		}
		if c.code != "" {
			if got := c.err.Code(); got != c.code {
				t.Errorf("%s: expected code %q, got %q", c.err.Class, c.code, got)
			}
		}
	}
}

func TestUpstreamFailureBodyPassthrough(t *testing.T) {
	ge := UpstreamFailure(404, []byte(`{"error":{"message":"not found"}}`))
	body := ge.Body()
	m, ok := body.(map[string]any)
	if !ok {
		t.Fatalf("expected parsed JSON passthrough, got %T", body)
	}
	inner := m["error"].(map[string]any)
	if inner["message"] != "not found" {
		t.Errorf("unexpected propagated message: %v", inner["message"])
	}

	// Non-JSON upstream bodies are wrapped in the uniform envelope.
	ge = UpstreamFailure(500, []byte("<html>boom</html>"))
	wrapped, ok := ge.Body().(ErrorBody)
	if !ok {
		t.Fatalf("expected wrapped body, got %T", ge.Body())
	}
	if wrapped.Error.Type != "invalid_request_error" {
		t.Errorf("unexpected error type %q", wrapped.Error.Type)
	}
	if !strings.Contains(wrapped.Error.Message, "boom") {
		t.Errorf("expected original body in message, got %q", wrapped.Error.Message)
	}
}

func TestAsGatewayErrorUnwrapsAndWraps(t *testing.T) {
	base := InvalidRequestf("empty input")
	wrapped := fmt.Errorf("handling request: %w", base)
	if got := AsGatewayError(wrapped); got != base {
		t.Errorf("expected unwrap to original, got %v", got)
	}

	plain := errors.New("connection reset")
	ge := AsGatewayError(plain)
	if ge.Class != ClassBadGateway {
		t.Errorf("expected unknown errors to map to bad_gateway, got %s", ge.Class)
	}
	if !errors.Is(ge, plain) {
		t.Error("expected wrapped error to unwrap to the original")
	}
}

func TestContentText(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{`"plain"`, "plain"},
		{`[{"type":"text","text":"a"},{"type":"text","text":"b"}]`, "ab"},
		{`[{"type":"input_text","text":"canon"}]`, "canon"},
		{`[{"type":"image_url","image_url":{"url":"http://x"}},{"type":"text","text":"cap"}]`, "cap"},
		{``, ""},
		{`42`, ""},
	}
	for _, c := range cases {
		if got := ContentText(json.RawMessage(c.raw)); got != c.want {
			t.Errorf("ContentText(%s): expected %q, got %q", c.raw, c.want, got)
		}
	}
}

func TestContentParts(t *testing.T) {
	raw := json.RawMessage(`[{"type":"text","text":"hi"},{"type":"image_url","image_url":"u"}]`)
	parts := ContentParts(raw)
	if len(parts) != 2 {
		t.Fatalf("expected 2 parts, got %d", len(parts))
	}
	if ContentParts(json.RawMessage(`"just text"`)) != nil {
		t.Error("string content must yield nil parts")
	}
}

func TestAnthropicBlocks(t *testing.T) {
	if blocks := AnthropicBlocks(json.RawMessage(`"hi"`)); len(blocks) != 1 || blocks[0].Text != "hi" {
		t.Errorf("string content should become one text block, got %v", blocks)
	}
	raw := json.RawMessage(`[{"type":"tool_result","tool_use_id":"t1","content":"42"}]`)
	blocks := AnthropicBlocks(raw)
	if len(blocks) != 1 || blocks[0].ToolUseID != "t1" {
		t.Errorf("unexpected blocks: %v", blocks)
	}
}

func TestNormalizeCallID(t *testing.T) {
	if got := NormalizeCallID("fc_abc"); got != "abc" {
		t.Errorf("expected fc_ stripped, got %q", got)
	}
	if got := NormalizeCallID("call_abc"); got != "call_abc" {
		t.Errorf("expected call_ untouched, got %q", got)
	}
}

func TestNewIDPrefixes(t *testing.T) {
	id := NewID(IDPrefixCall)
	if !strings.HasPrefix(id, "call_") || len(id) < 10 {
		t.Errorf("unexpected id %q", id)
	}
	if strings.Contains(id, "-") {
		t.Errorf("expected dashes stripped, got %q", id)
	}
	if NewID(IDPrefixCall) == id {
		t.Error("ids must be unique")
	}
}

func TestChatIDFor(t *testing.T) {
	if got := ChatIDFor("r_1"); got != "chatcmpl_r_1" {
		t.Errorf("expected chatcmpl_r_1, got %q", got)
	}
	if got := ChatIDFor(""); !strings.HasPrefix(got, "chatcmpl_") {
		t.Errorf("expected generated chat id, got %q", got)
	}
}

func TestStreamEventLooseText(t *testing.T) {
	ev, err := ParseStreamEvent([]byte(`{"type":"response.output_text.delta","delta":"He"}`))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if ev.DeltaText() != "He" {
		t.Errorf("expected string delta, got %q", ev.DeltaText())
	}

	ev, err = ParseStreamEvent([]byte(`{"type":"response.output_text.done","text":{"value":"Hello"}}`))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if ev.DoneText() != "Hello" {
		t.Errorf("expected object text, got %q", ev.DoneText())
	}
}

func TestImageURLString(t *testing.T) {
	if got := ImageURLString("http://a"); got != "http://a" {
		t.Errorf("unexpected %q", got)
	}
	if got := ImageURLString(map[string]any{"url": "http://b"}); got != "http://b" {
		t.Errorf("unexpected %q", got)
	}
	if got := ImageURLString(42); got != "" {
		t.Errorf("expected empty for unknown shape, got %q", got)
	}
}
