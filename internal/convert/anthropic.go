package convert

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/ChamsBouzaiene/rsp4copilot/internal/api"
)

// AnthropicToChat converts an inbound Messages request into the chat dialect
// so the normal routing and conversion pipeline applies. tool_result blocks
// become separate tool-role messages; tool_use blocks become tool_calls;
// base64 image blocks become data-URL image parts.
func AnthropicToChat(req *api.AnthropicRequest) (*api.ChatRequest, error) {
	out := &api.ChatRequest{Model: req.Model, Stream: req.Stream}

	if system := anthropicSystemText(req.System); system != "" {
		out.Messages = append(out.Messages, api.ChatMessage{
			Role:    "system",
			Content: mustRawString(system),
		})
	}

	for _, msg := range req.Messages {
		blocks := msg.Blocks()

		// tool_result blocks split out first so they directly follow the
		// assistant turn that issued the calls.
		for _, b := range blocks {
			if b.Type != "tool_result" {
				continue
			}
			out.Messages = append(out.Messages, api.ChatMessage{
				Role:       "tool",
				ToolCallID: b.ToolUseID,
				Content:    mustRawString(anthropicResultText(b.Content)),
			})
		}

		switch msg.Role {
		case "assistant":
			chat := api.ChatMessage{Role: "assistant"}
			var text strings.Builder
			for _, b := range blocks {
				switch b.Type {
				case "text":
					text.WriteString(b.Text)
				case "thinking":
					if chat.ReasoningContent == "" {
						chat.ReasoningContent = b.Thinking
					}
				case "tool_use":
					args := "{}"
					if len(b.Input) > 0 {
						args = string(b.Input)
					}
					chat.ToolCalls = append(chat.ToolCalls, api.ToolCall{
						ID:       b.ID,
						Type:     "function",
						Function: api.FunctionCall{Name: b.Name, Arguments: args},
					})
				}
			}
			if text.Len() > 0 {
				chat.Content = mustRawString(text.String())
			}
			if chat.Content != nil || len(chat.ToolCalls) > 0 || chat.ReasoningContent != "" {
				out.Messages = append(out.Messages, chat)
			}

		case "user":
			var parts []map[string]any
			for _, b := range blocks {
				switch b.Type {
				case "text":
					if b.Text != "" {
						parts = append(parts, map[string]any{"type": "text", "text": b.Text})
					}
				case "image":
					if url := anthropicImageURL(b.Source); url != "" {
						parts = append(parts, map[string]any{
							"type":      "image_url",
							"image_url": map[string]any{"url": url},
						})
					}
				}
			}
			if len(parts) > 0 {
				raw, err := json.Marshal(parts)
				if err != nil {
					return nil, api.InvalidRequestf("unencodable content parts: %v", err)
				}
				out.Messages = append(out.Messages, api.ChatMessage{Role: "user", Content: raw})
			}
		}
	}

	if len(out.Messages) == 0 {
		return nil, api.InvalidRequestf("request converts to an empty input list")
	}

	for _, t := range req.Tools {
		raw, err := json.Marshal(map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.InputSchema,
			},
		})
		if err != nil {
			continue
		}
		out.Tools = append(out.Tools, raw)
	}
	out.ToolChoice = anthropicToolChoice(req.ToolChoice)

	if req.MaxTokens > 0 {
		mt := req.MaxTokens
		out.MaxTokens = &mt
	}
	out.Temperature = req.Temperature
	out.TopP = req.TopP

	return out, nil
}

// anthropicSystemText flattens string-or-blocks system content.
func anthropicSystemText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var out strings.Builder
	for _, b := range api.AnthropicBlocks(raw) {
		if b.Type == "text" {
			out.WriteString(b.Text)
		}
	}
	return out.String()
}

// anthropicResultText flattens a tool_result content field, which is either
// a string or a list of blocks.
func anthropicResultText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var out strings.Builder
	for _, b := range api.AnthropicBlocks(raw) {
		if b.Type == "text" {
			out.WriteString(b.Text)
		}
	}
	if out.Len() > 0 {
		return out.String()
	}
	return string(raw)
}

func anthropicImageURL(src *api.AnthropicSource) string {
	if src == nil {
		return ""
	}
	switch src.Type {
	case "base64":
		mime := src.MediaType
		if mime == "" {
			mime = "image/png"
		}
		return "data:" + mime + ";base64," + src.Data
	case "url":
		return src.URL
	}
	return ""
}

// anthropicToolChoice maps the Messages tool_choice onto the chat shape.
func anthropicToolChoice(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	var choice struct {
		Type string `json:"type"`
		Name string `json:"name,omitempty"`
	}
	if err := json.Unmarshal(raw, &choice); err != nil {
		return nil
	}
	switch choice.Type {
	case "auto":
		return json.RawMessage(`"auto"`)
	case "any":
		return json.RawMessage(`"required"`)
	case "none":
		return json.RawMessage(`"none"`)
	case "tool":
		b, err := json.Marshal(map[string]any{
			"type":     "function",
			"function": map[string]string{"name": choice.Name},
		})
		if err != nil {
			return nil
		}
		return b
	}
	return nil
}

// StopReasonToFinishReason maps an Anthropic stop_reason onto the chat
// finish_reason.
func StopReasonToFinishReason(stop string) string {
	switch stop {
	case "end_turn":
		return "stop"
	case "tool_use":
		return "tool_calls"
	case "max_tokens":
		return "length"
	}
	return "stop"
}

// FinishReasonToStopReason is the inverse mapping; unknown reasons map to
// end_turn.
func FinishReasonToStopReason(finish string) string {
	switch finish {
	case "stop":
		return "end_turn"
	case "tool_calls":
		return "tool_use"
	case "length":
		return "max_tokens"
	}
	return "end_turn"
}

// ChatResponseToAnthropic renders a complete chat response as an Anthropic
// message object for non-streaming Messages clients.
func ChatResponseToAnthropic(resp *api.ChatResponse, model string) *api.AnthropicResponse {
	out := &api.AnthropicResponse{
		ID:    api.NewID("msg_"),
		Type:  "message",
		Role:  "assistant",
		Model: model,
	}
	if len(resp.Choices) == 0 {
		out.StopReason = "end_turn"
		return out
	}
	choice := resp.Choices[0]

	if choice.Message.Content != nil && *choice.Message.Content != "" {
		out.Content = append(out.Content, api.AnthropicBlock{Type: "text", Text: *choice.Message.Content})
	}
	for _, tc := range choice.Message.ToolCalls {
		id := tc.ID
		if id == "" {
			id = api.NewID(api.IDPrefixAnthropicTool)
		}
		out.Content = append(out.Content, api.AnthropicBlock{
			Type:  "tool_use",
			ID:    id,
			Name:  tc.Function.Name,
			Input: argumentsObject(tc.Function.Arguments),
		})
	}
	out.StopReason = FinishReasonToStopReason(choice.FinishReason)

	if resp.Usage != nil {
		out.Usage = &api.AnthropicUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		}
	}
	return out
}

// Per-block overhead used by the local token estimate when the upstream
// count_tokens endpoint is unavailable.
const (
	estimateBlockOverhead = 8
	estimateImageTokens   = 1500
)

// EstimateAnthropicTokens computes the local fallback estimate for a
// count_tokens request: ceil(bytes/4) per string field plus fixed per-block
// overhead; image blocks count as a flat 1500 tokens.
func EstimateAnthropicTokens(req *api.AnthropicRequest) int {
	total := estimateStringTokens(anthropicSystemText(req.System))
	for _, msg := range req.Messages {
		blocks := msg.Blocks()
		if blocks == nil {
			total += estimateBlockOverhead
			continue
		}
		for _, b := range blocks {
			total += estimateBlockOverhead
			switch b.Type {
			case "image":
				total += estimateImageTokens
			case "tool_use":
				total += estimateStringTokens(b.Name)
				total += estimateStringTokens(string(b.Input))
			case "tool_result":
				total += estimateStringTokens(anthropicResultText(b.Content))
			default:
				total += estimateStringTokens(b.Text)
				total += estimateStringTokens(b.Thinking)
			}
		}
	}
	for _, t := range req.Tools {
		total += estimateBlockOverhead
		total += estimateStringTokens(t.Name)
		total += estimateStringTokens(t.Description)
		if schema, err := json.Marshal(t.InputSchema); err == nil {
			total += estimateStringTokens(string(schema))
		}
	}
	return total
}

func estimateStringTokens(s string) int {
	if s == "" {
		return 0
	}
	return int(math.Ceil(float64(len(s)) / 4))
}
