package translate

import (
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/ChamsBouzaiene/rsp4copilot/internal/api"
	"github.com/ChamsBouzaiene/rsp4copilot/internal/sse"
)

// anthropicStreamEvent is the union of Messages stream event payloads.
type anthropicStreamEvent struct {
	Type    string `json:"type"`
	Index   int    `json:"index"`
	Message *struct {
		ID    string              `json:"id"`
		Model string              `json:"model"`
		Usage *api.AnthropicUsage `json:"usage"`
	} `json:"message"`
	ContentBlock *struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block"`
	Delta *struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		Thinking    string `json:"thinking"`
		PartialJSON string `json:"partial_json"`
		Signature   string `json:"signature"`
		StopReason  string `json:"stop_reason"`
	} `json:"delta"`
	Usage *api.AnthropicUsage `json:"usage"`
}

// RunAnthropic consumes a Messages SSE body and drives the same emitter
// surface as the Responses path. Thinking signatures are attached to tool
// calls opened after them so the session cache can replay them.
func RunAnthropic(ctx context.Context, body io.Reader, emitter Emitter, opts Options) (*Outcome, error) {
	t := &translator{state: newState(), emitter: emitter}
	t.state.meta.Model = opts.Model

	blockKeys := map[int]string{}
	var lastSignature, lastThinking string

	var parser sse.Parser
	var raw []byte
	chunk := make([]byte, 16<<10)

	handle := func(ev sse.Event) bool {
		data := strings.TrimSpace(ev.Data)
		if data == "" {
			return false
		}
		t.sawData = true
		var event anthropicStreamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			log.Debug().Str("data", truncate(data, 200)).Msg("unparseable anthropic event")
			return false
		}
		if event.Type == "" {
			event.Type = ev.Event
		}

		switch event.Type {
		case "message_start":
			if event.Message != nil {
				if event.Message.ID != "" && t.state.meta.ResponseID == "" {
					t.state.meta.ResponseID = api.IDPrefixResponse + strings.TrimPrefix(event.Message.ID, api.IDPrefixMessage)
					t.state.meta.ChatID = api.ChatIDFor(t.state.meta.ResponseID)
				}
				if event.Message.Model != "" {
					t.state.meta.Model = event.Message.Model
				}
			}
			t.start()

		case "content_block_start":
			if event.ContentBlock == nil || event.ContentBlock.Type != "tool_use" {
				return false
			}
			t.start()
			key := t.state.callKey(event.ContentBlock.ID, "", nil)
			tc, nameNew := t.state.upsertDelta(key, event.ContentBlock.Name, "", nil)
			blockKeys[event.Index] = key
			if lastSignature != "" && tc.ThoughtSignature == "" {
				tc.ThoughtSignature = lastSignature
				tc.Thought = lastThinking
			}
			t.emitTool(tc, nameNew, "")

		case "content_block_delta":
			if event.Delta == nil {
				return false
			}
			t.start()
			switch event.Delta.Type {
			case "text_delta":
				if delta := t.state.textDelta(event.Delta.Text); delta != "" {
					t.emit(func(e Emitter, m *Meta) error { return e.TextDelta(m, delta) })
				}
			case "thinking_delta":
				lastThinking += event.Delta.Thinking
				if delta := t.state.reasoningDelta(t.state.reasoning.String() + event.Delta.Thinking); delta != "" {
					t.emit(func(e Emitter, m *Meta) error { return e.ReasoningDelta(m, delta) })
				}
			case "signature_delta":
				lastSignature += event.Delta.Signature
			case "input_json_delta":
				key, ok := blockKeys[event.Index]
				if !ok {
					return false
				}
				tc, nameNew := t.state.upsertDelta(key, "", event.Delta.PartialJSON, nil)
				t.emitTool(tc, nameNew, event.Delta.PartialJSON)
			}

		case "message_delta":
			if event.Delta != nil && event.Delta.StopReason == "max_tokens" {
				t.state.finishHint = "length"
			}
			if event.Usage != nil {
				t.state.usage = &api.ResponsesUsage{
					InputTokens:  event.Usage.InputTokens,
					OutputTokens: event.Usage.OutputTokens,
					TotalTokens:  event.Usage.InputTokens + event.Usage.OutputTokens,
				}
			}

		case "message_stop":
			return true

		case "error":
			t.state.failed = true
			return true
		}
		return false
	}

	for {
		if err := ctx.Err(); err != nil {
			return t.finish()
		}
		n, err := body.Read(chunk)
		if n > 0 {
			if !t.sawData {
				raw = append(raw, chunk[:n]...)
			}
			for _, ev := range parser.Push(chunk[:n]) {
				if handle(ev) {
					return t.finish()
				}
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Debug().Err(err).Msg("anthropic stream failed mid-flight")
			return t.finish()
		}
	}
	for _, ev := range parser.Finish() {
		if handle(ev) {
			return t.finish()
		}
	}

	if !t.sawData && len(raw) > 0 {
		t.ingestAnthropicResponse(raw)
	}
	return t.finish()
}

// ingestAnthropicResponse harvests a complete non-streaming Messages body.
func (t *translator) ingestAnthropicResponse(body []byte) {
	var resp api.AnthropicResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		log.Debug().Str("body", truncate(string(body), 200)).Msg("unparseable anthropic body")
		return
	}
	if resp.ID != "" {
		t.state.meta.ResponseID = api.IDPrefixResponse + strings.TrimPrefix(resp.ID, api.IDPrefixMessage)
		t.state.meta.ChatID = api.ChatIDFor(t.state.meta.ResponseID)
	}
	if resp.Model != "" {
		t.state.meta.Model = resp.Model
	}
	t.start()

	var lastSignature, lastThinking string
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			if delta := t.state.textDelta(block.Text); delta != "" {
				t.emit(func(e Emitter, m *Meta) error { return e.TextDelta(m, delta) })
			}
		case "thinking":
			lastThinking = block.Thinking
			lastSignature = block.Signature
			if delta := t.state.reasoningDelta(block.Thinking); delta != "" {
				t.emit(func(e Emitter, m *Meta) error { return e.ReasoningDelta(m, delta) })
			}
		case "tool_use":
			args := "{}"
			if len(block.Input) > 0 {
				args = string(block.Input)
			}
			key := t.state.callKey(block.ID, "", nil)
			tc, nameNew, suffix := t.state.upsertFull(key, block.Name, args, nil)
			if lastSignature != "" && tc.ThoughtSignature == "" {
				tc.ThoughtSignature = lastSignature
				tc.Thought = lastThinking
			}
			t.emitTool(tc, nameNew, suffix)
		}
	}
	if resp.StopReason == "max_tokens" {
		t.state.finishHint = "length"
	}
	if resp.Usage != nil {
		t.state.usage = &api.ResponsesUsage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
			TotalTokens:  resp.Usage.InputTokens + resp.Usage.OutputTokens,
		}
	}
}
