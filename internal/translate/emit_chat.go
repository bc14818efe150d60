package translate

import (
	"time"

	"github.com/ChamsBouzaiene/rsp4copilot/internal/api"
)

// ChatEmitter renders the translation as Chat Completions chunks: one
// role-only chunk, content/reasoning/tool deltas, exactly one terminal chunk
// with a finish_reason, then [DONE].
type ChatEmitter struct {
	W         *StreamWriter
	Model     string // reported model; falls back to the upstream's
	sentRole  bool
	sentFinal bool
}

func (e *ChatEmitter) chunk(m *Meta, delta api.ChunkDelta, finish *string) api.ChatChunk {
	model := e.Model
	if model == "" {
		model = m.Model
	}
	created := m.CreatedAt
	if created == 0 {
		created = time.Now().Unix()
	}
	return api.ChatChunk{
		ID:      m.ChatID,
		Object:  "chat.completion.chunk",
		Created: created,
		Model:   model,
		Choices: []api.ChunkChoice{{Index: 0, Delta: delta, FinishReason: finish}},
	}
}

func (e *ChatEmitter) role(m *Meta) error {
	if e.sentRole {
		return nil
	}
	e.sentRole = true
	return e.W.Data(e.chunk(m, api.ChunkDelta{Role: "assistant"}, nil))
}

func (e *ChatEmitter) Start(*Meta) error { return nil }

func (e *ChatEmitter) TextDelta(m *Meta, delta string) error {
	if err := e.role(m); err != nil {
		return err
	}
	return e.W.Data(e.chunk(m, api.ChunkDelta{Content: &delta}, nil))
}

func (e *ChatEmitter) ReasoningDelta(m *Meta, delta string) error {
	if err := e.role(m); err != nil {
		return err
	}
	return e.W.Data(e.chunk(m, api.ChunkDelta{ReasoningContent: &delta}, nil))
}

func (e *ChatEmitter) ToolDelta(m *Meta, d ToolDelta) error {
	if err := e.role(m); err != nil {
		return err
	}
	idx := d.Index
	tc := api.ToolCall{Index: &idx, Type: "function"}
	if d.Name != "" {
		// First fragment for this call: attach the id alongside the name.
		tc.ID = d.CallID
		tc.Function.Name = d.Name
	}
	if d.Arguments != "" {
		tc.Function.Arguments = d.Arguments
	}
	return e.W.Data(e.chunk(m, api.ChunkDelta{ToolCalls: []api.ToolCall{tc}}, nil))
}

func (e *ChatEmitter) Finish(m *Meta, fin Final) error {
	if e.sentFinal {
		return nil
	}
	e.sentFinal = true
	if err := e.role(m); err != nil {
		return err
	}
	finish := fin.FinishReason
	terminal := e.chunk(m, api.ChunkDelta{}, &finish)
	if fin.Usage != nil {
		terminal.Usage = &api.Usage{
			PromptTokens:     fin.Usage.InputTokens,
			CompletionTokens: fin.Usage.OutputTokens,
			TotalTokens:      fin.Usage.TotalTokens,
		}
	}
	if err := e.W.Data(terminal); err != nil {
		return err
	}
	return e.W.Done()
}

// BuildChatResponse assembles the complete (non-streaming) chat response
// from a finished translation.
func BuildChatResponse(out *Outcome, model string) *api.ChatResponse {
	if model == "" {
		model = out.Model
	}
	msg := api.AssistantMessage{Role: "assistant"}
	if out.Text != "" {
		text := out.Text
		msg.Content = &text
	}
	msg.ReasoningContent = out.Reasoning
	for _, tc := range out.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, api.ToolCall{
			ID:       tc.CallID,
			Type:     "function",
			Function: api.FunctionCall{Name: tc.Name, Arguments: tc.ArgumentsJSON()},
		})
	}
	resp := &api.ChatResponse{
		ID:      api.ChatIDFor(out.ResponseID),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []api.ChatChoice{{Index: 0, Message: msg, FinishReason: out.FinishReason}},
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
