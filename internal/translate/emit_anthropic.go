package translate

import (
	"encoding/json"

	"github.com/ChamsBouzaiene/rsp4copilot/internal/api"
	"github.com/ChamsBouzaiene/rsp4copilot/internal/convert"
)

// AnthropicEmitter renders the translation as a Messages event stream:
// message_start, lazily opened content blocks, deltas, block stops, a
// message_delta with the stop reason, then message_stop.
type AnthropicEmitter struct {
	W     *StreamWriter
	Model string

	msgID      string
	nextBlock  int
	textBlock  *int
	thinkBlock *int
	toolBlocks map[string]*anthropicToolBlock
	toolOrder  []string
}

// anthropicToolBlock buffers argument deltas until the tool name is known;
// Anthropic clients need the name inside content_block_start.
type anthropicToolBlock struct {
	index   int
	started bool
	name    string
	pending string
}

func (e *AnthropicEmitter) model(m *Meta) string {
	if e.Model != "" {
		return e.Model
	}
	return m.Model
}

func (e *AnthropicEmitter) Start(m *Meta) error {
	e.msgID = api.NewID(api.IDPrefixMessage)
	return e.W.Event("message_start", map[string]any{
		"type": "message_start",
		"message": map[string]any{
			"id":            e.msgID,
			"type":          "message",
			"role":          "assistant",
			"model":         e.model(m),
			"content":       []any{},
			"stop_reason":   nil,
			"stop_sequence": nil,
			"usage":         map[string]int{"input_tokens": 0, "output_tokens": 0},
		},
	})
}

func (e *AnthropicEmitter) TextDelta(m *Meta, delta string) error {
	if e.textBlock == nil {
		idx := e.nextBlock
		e.nextBlock++
		e.textBlock = &idx
		err := e.W.Event("content_block_start", map[string]any{
			"type":          "content_block_start",
			"index":         idx,
			"content_block": map[string]any{"type": "text", "text": ""},
		})
		if err != nil {
			return err
		}
	}
	return e.W.Event("content_block_delta", map[string]any{
		"type":  "content_block_delta",
		"index": *e.textBlock,
		"delta": map[string]any{"type": "text_delta", "text": delta},
	})
}

func (e *AnthropicEmitter) ReasoningDelta(m *Meta, delta string) error {
	if e.thinkBlock == nil {
		idx := e.nextBlock
		e.nextBlock++
		e.thinkBlock = &idx
		err := e.W.Event("content_block_start", map[string]any{
			"type":          "content_block_start",
			"index":         idx,
			"content_block": map[string]any{"type": "thinking", "thinking": ""},
		})
		if err != nil {
			return err
		}
	}
	return e.W.Event("content_block_delta", map[string]any{
		"type":  "content_block_delta",
		"index": *e.thinkBlock,
		"delta": map[string]any{"type": "thinking_delta", "thinking": delta},
	})
}

func (e *AnthropicEmitter) ToolDelta(m *Meta, d ToolDelta) error {
	if e.toolBlocks == nil {
		e.toolBlocks = map[string]*anthropicToolBlock{}
	}
	block, ok := e.toolBlocks[d.CallID]
	if !ok {
		block = &anthropicToolBlock{index: e.nextBlock}
		e.nextBlock++
		e.toolBlocks[d.CallID] = block
		e.toolOrder = append(e.toolOrder, d.CallID)
	}
	if d.Name != "" {
		block.name = d.Name
	}
	block.pending += d.Arguments

	// Buffer until the name arrives, then open the block and flush.
	if !block.started {
		if block.name == "" {
			return nil
		}
		block.started = true
		err := e.W.Event("content_block_start", map[string]any{
			"type":  "content_block_start",
			"index": block.index,
			"content_block": map[string]any{
				"type":  "tool_use",
				"id":    d.CallID,
				"name":  block.name,
				"input": map[string]any{},
			},
		})
		if err != nil {
			return err
		}
	}
	if block.pending == "" {
		return nil
	}
	pending := block.pending
	block.pending = ""
	return e.W.Event("content_block_delta", map[string]any{
		"type":  "content_block_delta",
		"index": block.index,
		"delta": map[string]any{"type": "input_json_delta", "partial_json": pending},
	})
}

func (e *AnthropicEmitter) Finish(m *Meta, fin Final) error {
	// Open any tool block that never learned its name from deltas but did
	// from the assembled calls, then flush whatever is still buffered.
	for _, tc := range fin.ToolCalls {
		block, ok := e.toolBlocks[tc.CallID]
		if !ok || block.started {
			continue
		}
		if err := e.ToolDelta(m, ToolDelta{CallID: tc.CallID, Index: tc.OutputIndex, Name: tc.Name}); err != nil {
			return err
		}
	}

	stops := make([]int, 0, e.nextBlock)
	if e.thinkBlock != nil {
		stops = append(stops, *e.thinkBlock)
	}
	if e.textBlock != nil {
		stops = append(stops, *e.textBlock)
	}
	for _, callID := range e.toolOrder {
		if block := e.toolBlocks[callID]; block.started {
			stops = append(stops, block.index)
		}
	}
	for _, idx := range stops {
		err := e.W.Event("content_block_stop", map[string]any{
			"type":  "content_block_stop",
			"index": idx,
		})
		if err != nil {
			return err
		}
	}

	usage := map[string]int{"input_tokens": 0, "output_tokens": 0}
	if fin.Usage != nil {
		usage["input_tokens"] = fin.Usage.InputTokens
		usage["output_tokens"] = fin.Usage.OutputTokens
	}
	err := e.W.Event("message_delta", map[string]any{
		"type": "message_delta",
		"delta": map[string]any{
			"stop_reason":   convert.FinishReasonToStopReason(fin.FinishReason),
			"stop_sequence": nil,
		},
		"usage": usage,
	})
	if err != nil {
		return err
	}
	return e.W.Event("message_stop", map[string]any{"type": "message_stop"})
}

// BuildAnthropicResponse assembles the complete message object from a
// finished translation for non-streaming Messages clients.
func BuildAnthropicResponse(out *Outcome, model string) *api.AnthropicResponse {
	if model == "" {
		model = out.Model
	}
	resp := &api.AnthropicResponse{
		ID:         api.NewID(api.IDPrefixMessage),
		Type:       "message",
		Role:       "assistant",
		Model:      model,
		StopReason: convert.FinishReasonToStopReason(out.FinishReason),
	}
	if out.Reasoning != "" {
		resp.Content = append(resp.Content, api.AnthropicBlock{Type: "thinking", Thinking: out.Reasoning})
	}
	if out.Text != "" {
		resp.Content = append(resp.Content, api.AnthropicBlock{Type: "text", Text: out.Text})
	}
	for _, tc := range out.ToolCalls {
		resp.Content = append(resp.Content, api.AnthropicBlock{
			Type:  "tool_use",
			ID:    tc.CallID,
			Name:  tc.Name,
			Input: json.RawMessage(tc.ArgumentsJSON()),
		})
	}
	if out.Usage != nil {
		resp.Usage = &api.AnthropicUsage{
			InputTokens:  out.Usage.InputTokens,
			OutputTokens: out.Usage.OutputTokens,
		}
	}
	return resp
}
