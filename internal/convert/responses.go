// Package convert holds the pure dialect converters: Chat, Text Completions,
// Gemini, and Anthropic shapes in and out of the canonical Responses form.
package convert

import (
	"encoding/json"
	"strings"

	"github.com/ChamsBouzaiene/rsp4copilot/internal/api"
)

// ChatToResponses converts a chat request into the canonical Responses
// request. defaultEffort applies when the request carries no reasoning
// effort of its own; "off" disables reasoning entirely.
func ChatToResponses(req *api.ChatRequest, defaultEffort string) (*api.ResponsesRequest, error) {
	var instructions []string
	var input []api.InputItem

	for _, msg := range req.Messages {
		switch msg.Role {
		case "system", "developer":
			if text := msg.Text(); text != "" {
				instructions = append(instructions, text)
			}

		case "tool":
			if msg.ToolCallID == "" {
				continue
			}
			input = append(input, api.InputItem{
				Type:   "function_call_output",
				CallID: api.NormalizeCallID(msg.ToolCallID),
				Output: msg.Text(),
			})

		case "assistant":
			text := msg.Text()
			if text == "" && msg.ReasoningContent != "" {
				text = msg.ReasoningContent
			}
			if text != "" {
				input = append(input, api.InputItem{
					Role:    "assistant",
					Content: []api.ContentPart{{Type: "input_text", Text: text}},
				})
			}
			for _, tc := range msg.ToolCalls {
				args := tc.Function.Arguments
				if args == "" {
					args = "{}"
				}
				input = append(input, api.InputItem{
					Type:             "function_call",
					CallID:           api.NormalizeCallID(tc.ID),
					Name:             tc.Function.Name,
					Arguments:        args,
					ThoughtSignature: tc.ThoughtSignature,
					Thought:          tc.Thought,
				})
			}

		case "user":
			parts := userContentParts(msg)
			if len(parts) == 0 {
				continue
			}
			input = append(input, api.InputItem{Role: "user", Content: parts})
		}
	}

	if len(input) == 0 {
		return nil, api.InvalidRequestf("request converts to an empty input list")
	}

	out := &api.ResponsesRequest{
		Model:                req.Model,
		Instructions:         strings.Join(instructions, "\n"),
		Input:                input,
		Tools:                ToolsToResponses(req.Tools),
		ToolChoice:           ToolChoiceToResponses(req.ToolChoice),
		Temperature:          req.Temperature,
		TopP:                 req.TopP,
		Stream:               req.Stream,
		PreviousResponseID:   req.PreviousResponseID,
		User:                 req.User,
		PromptCacheRetention: req.PromptCacheRetention,
		SafetyIdentifier:     req.SafetyIdentifier,
	}

	if req.MaxCompletionTokens != nil {
		out.MaxOutputTokens = req.MaxCompletionTokens
	} else if req.MaxTokens != nil {
		out.MaxOutputTokens = req.MaxTokens
	}

	effort := req.ReasoningEffort
	if effort == "" {
		effort = defaultEffort
	}
	if effort != "" && effort != "off" {
		out.Reasoning = &api.Reasoning{Effort: effort}
	}

	return out, nil
}

// CompletionToResponses converts a legacy text-completion request into the
// canonical form: the prompt becomes a single user message.
func CompletionToResponses(req *api.CompletionRequest, defaultEffort string) (*api.ResponsesRequest, error) {
	prompt := req.PromptText()
	if prompt == "" {
		return nil, api.InvalidRequestf("prompt is empty")
	}

	out := &api.ResponsesRequest{
		Model: req.Model,
		Input: []api.InputItem{{
			Role:    "user",
			Content: []api.ContentPart{{Type: "input_text", Text: prompt}},
		}},
		MaxOutputTokens: req.MaxTokens,
		Temperature:     req.Temperature,
		TopP:            req.TopP,
		Stream:          req.Stream,
		User:            req.User,
	}
	if defaultEffort != "" && defaultEffort != "off" {
		out.Reasoning = &api.Reasoning{Effort: defaultEffort}
	}
	return out, nil
}

// userContentParts maps chat user content into canonical parts: text parts
// become input_text, image parts become input_image, anything else is
// dropped.
func userContentParts(msg api.ChatMessage) []api.ContentPart {
	if parts := msg.Parts(); parts != nil {
		var out []api.ContentPart
		for _, p := range parts {
			switch p["type"] {
			case "text", "input_text", nil:
				if text, _ := p["text"].(string); text != "" {
					out = append(out, api.ContentPart{Type: "input_text", Text: text})
				}
			case "image_url", "input_image":
				if u := api.ImageURLString(p["image_url"]); u != "" {
					out = append(out, api.ContentPart{Type: "input_image", ImageURL: u})
				}
			}
		}
		return out
	}
	if text := msg.Text(); text != "" {
		return []api.ContentPart{{Type: "input_text", Text: text}}
	}
	return nil
}

// ToolsToResponses flattens chat-dialect function tools into the Responses
// form; tool types the gateway does not interpret pass through untouched.
func ToolsToResponses(raw []json.RawMessage) []map[string]any {
	var out []map[string]any
	for _, r := range raw {
		var m map[string]any
		if err := json.Unmarshal(r, &m); err != nil {
			continue
		}
		fn, ok := m["function"].(map[string]any)
		if m["type"] == "function" && ok {
			flat := map[string]any{"type": "function"}
			if name, ok := fn["name"]; ok {
				flat["name"] = name
			}
			if desc, ok := fn["description"]; ok {
				flat["description"] = desc
			}
			if params, ok := fn["parameters"]; ok {
				flat["parameters"] = params
			}
			out = append(out, flat)
			continue
		}
		out = append(out, m)
	}
	return out
}

// ToolChoiceToResponses rewrites a chat tool_choice for the Responses
// dialect: strings pass through, the nested function form is flattened.
func ToolChoiceToResponses(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return raw
	}
	var choice struct {
		Type     string `json:"type"`
		Function struct {
			Name string `json:"name"`
		} `json:"function"`
	}
	if err := json.Unmarshal(raw, &choice); err == nil &&
		choice.Type == "function" && choice.Function.Name != "" {
		flat, err := json.Marshal(map[string]string{"type": "function", "name": choice.Function.Name})
		if err == nil {
			return flat
		}
	}
	return raw
}
