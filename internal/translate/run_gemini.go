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

// RunGemini consumes a streamGenerateContent SSE body and drives the same
// emitter surface as the Responses path. Thought signatures attached to
// functionCall parts land in the Outcome for caching; fresh call_ ids are
// minted because Gemini has none.
func RunGemini(ctx context.Context, body io.Reader, emitter Emitter, opts Options) (*Outcome, error) {
	t := &translator{state: newState(), emitter: emitter}
	t.state.meta.Model = opts.Model
	t.state.meta.ResponseID = api.NewID(api.IDPrefixResponse)
	t.state.meta.ChatID = api.ChatIDFor(t.state.meta.ResponseID)

	var parser sse.Parser
	var raw []byte
	chunk := make([]byte, 16<<10)

	handle := func(ev sse.Event) {
		data := strings.TrimSpace(ev.Data)
		if data == "" || data == "[DONE]" {
			return
		}
		t.sawData = true
		var resp api.GeminiResponse
		if err := json.Unmarshal([]byte(data), &resp); err != nil {
			log.Debug().Str("data", truncate(data, 200)).Msg("unparseable gemini event")
			return
		}
		t.ingestGemini(&resp)
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
				handle(ev)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Debug().Err(err).Msg("gemini stream failed mid-flight")
			return t.finish()
		}
	}
	for _, ev := range parser.Finish() {
		handle(ev)
	}

	// Non-SSE bodies carry either one response object or an array of them.
	if !t.sawData && len(raw) > 0 {
		var one api.GeminiResponse
		if err := json.Unmarshal(raw, &one); err == nil && (len(one.Candidates) > 0 || one.Error != nil) {
			t.ingestGemini(&one)
		} else {
			var many []api.GeminiResponse
			if err := json.Unmarshal(raw, &many); err == nil {
				for i := range many {
					t.ingestGemini(&many[i])
				}
			}
		}
	}
	return t.finish()
}

func (t *translator) ingestGemini(resp *api.GeminiResponse) {
	t.start()
	if resp.UsageMetadata != nil {
		t.state.usage = &api.ResponsesUsage{
			InputTokens:  resp.UsageMetadata.PromptTokenCount,
			OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:  resp.UsageMetadata.TotalTokenCount,
		}
	}
	if len(resp.Candidates) == 0 {
		return
	}
	cand := resp.Candidates[0]
	for _, part := range cand.Content.Parts {
		if part.Text != "" {
			if thought, _ := part.Thought.(bool); thought {
				if delta := t.state.reasoningDelta(part.Text); delta != "" {
					t.emit(func(e Emitter, m *Meta) error { return e.ReasoningDelta(m, delta) })
				}
				continue
			}
			if delta := t.state.textDelta(part.Text); delta != "" {
				t.emit(func(e Emitter, m *Meta) error { return e.TextDelta(m, delta) })
			}
		}
		if part.FunctionCall != nil {
			args := "{}"
			if len(part.FunctionCall.Args) > 0 {
				args = string(part.FunctionCall.Args)
			}
			tc, nameNew, suffix := t.state.upsertFull("", part.FunctionCall.Name, args, nil)
			if part.ThoughtSignature != "" {
				tc.ThoughtSignature = part.ThoughtSignature
			}
			t.emitTool(tc, nameNew, suffix)
		}
	}
	if cand.FinishReason == "MAX_TOKENS" {
		t.state.finishHint = "length"
	}
}
