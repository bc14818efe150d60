package translate

import (
	"strings"
	"time"

	"github.com/ChamsBouzaiene/rsp4copilot/internal/api"
)

// CompletionsEmitter renders the translation as legacy text-completion
// chunks with cmpl_ ids, ending with a finish_reason chunk and [DONE].
type CompletionsEmitter struct {
	W     *StreamWriter
	Model string

	id        string
	sentFinal bool
}

func (e *CompletionsEmitter) chunk(m *Meta, text string, finish *string) api.CompletionResponse {
	model := e.Model
	if model == "" {
		model = m.Model
	}
	created := m.CreatedAt
	if created == 0 {
		created = time.Now().Unix()
	}
	return api.CompletionResponse{
		ID:      e.id,
		Object:  "text_completion",
		Created: created,
		Model:   model,
		Choices: []api.CompletionChoice{{Index: 0, Text: text, FinishReason: finish}},
	}
}

func (e *CompletionsEmitter) Start(m *Meta) error {
	e.id = api.IDPrefixCompletion + strings.TrimPrefix(m.ResponseID, api.IDPrefixResponse)
	return nil
}

func (e *CompletionsEmitter) TextDelta(m *Meta, delta string) error {
	return e.W.Data(e.chunk(m, delta, nil))
}

func (e *CompletionsEmitter) ReasoningDelta(*Meta, string) error { return nil }

// The completions dialect has no tool-call framing.
func (e *CompletionsEmitter) ToolDelta(*Meta, ToolDelta) error { return nil }

func (e *CompletionsEmitter) Finish(m *Meta, fin Final) error {
	if e.sentFinal {
		return nil
	}
	e.sentFinal = true
	finish := fin.FinishReason
	if finish == "tool_calls" {
		finish = "stop"
	}
	if err := e.W.Data(e.chunk(m, "", &finish)); err != nil {
		return err
	}
	return e.W.Done()
}

// BuildCompletionResponse assembles the complete text completion from a
// finished translation.
func BuildCompletionResponse(out *Outcome, model string) *api.CompletionResponse {
	if model == "" {
		model = out.Model
	}
	finish := out.FinishReason
	if finish == "tool_calls" {
		finish = "stop"
	}
	resp := &api.CompletionResponse{
		ID:      api.IDPrefixCompletion + strings.TrimPrefix(out.ResponseID, api.IDPrefixResponse),
		Object:  "text_completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []api.CompletionChoice{{Index: 0, Text: out.Text, FinishReason: &finish}},
	}
	if out.Usage != nil {
		resp.Usage = &api.Usage{
			PromptTokens:     out.Usage.InputTokens,
			CompletionTokens: out.Usage.OutputTokens,
			TotalTokens:      out.Usage.TotalTokens,
		}
	}
	return resp
}
