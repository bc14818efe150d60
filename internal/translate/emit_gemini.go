package translate

import (
	"encoding/json"

	"github.com/ChamsBouzaiene/rsp4copilot/internal/api"
)

// GeminiEmitter renders the translation as streamGenerateContent events:
// every text delta becomes one candidates payload; assembled tool calls ride
// in the terminal event with the finish reason.
type GeminiEmitter struct {
	W     *StreamWriter
	Model string
}

func (e *GeminiEmitter) candidates(parts []api.GeminiPart, finish string) *api.GeminiResponse {
	return &api.GeminiResponse{
		ModelVersion: e.Model,
		Candidates: []api.GeminiCandidate{{
			Content:      api.GeminiContent{Role: "model", Parts: parts},
			FinishReason: finish,
			Index:        0,
		}},
	}
}

func (e *GeminiEmitter) Start(*Meta) error { return nil }

func (e *GeminiEmitter) TextDelta(m *Meta, delta string) error {
	return e.W.Data(e.candidates([]api.GeminiPart{{Text: delta}}, ""))
}

// Gemini has no wire shape for incremental reasoning; it is dropped from
// the stream and available in the non-streaming outcome only.
func (e *GeminiEmitter) ReasoningDelta(*Meta, string) error { return nil }

// Tool-call fragments are buffered by the translator state; Gemini clients
// receive whole functionCall parts in the terminal event.
func (e *GeminiEmitter) ToolDelta(*Meta, ToolDelta) error { return nil }

func (e *GeminiEmitter) Finish(m *Meta, fin Final) error {
	var parts []api.GeminiPart
	for _, tc := range fin.ToolCalls {
		parts = append(parts, api.GeminiPart{
			FunctionCall: &api.GeminiFunctionCall{
				Name: tc.Name,
				Args: json.RawMessage(tc.ArgumentsJSON()),
				ID:   tc.CallID,
			},
		})
	}

	finish := "STOP"
	if fin.FinishReason == "length" {
		finish = "MAX_TOKENS"
	}
	if len(parts) == 0 {
		parts = []api.GeminiPart{{Text: ""}}
	}

	final := e.candidates(parts, finish)
	if fin.Usage != nil {
		final.UsageMetadata = &api.GeminiUsage{
			PromptTokenCount:     fin.Usage.InputTokens,
			CandidatesTokenCount: fin.Usage.OutputTokens,
			TotalTokenCount:      fin.Usage.TotalTokens,
		}
	}
	return e.W.Data(final)
}
