package api

import (
	"encoding/json"
)

// ChatRequest is the OpenAI Chat Completions request body. Fields the
// gateway does not interpret are intentionally absent; unknown JSON keys are
// ignored on decode.
type ChatRequest struct {
	Model                string            `json:"model"`
	Messages             []ChatMessage     `json:"messages"`
	Tools                []json.RawMessage `json:"tools,omitempty"`
	ToolChoice           json.RawMessage   `json:"tool_choice,omitempty"`
	Temperature          *float64          `json:"temperature,omitempty"`
	TopP                 *float64          `json:"top_p,omitempty"`
	MaxTokens            *int              `json:"max_tokens,omitempty"`
	MaxCompletionTokens  *int              `json:"max_completion_tokens,omitempty"`
	Stream               bool              `json:"stream,omitempty"`
	StreamOptions        *StreamOptions    `json:"stream_options,omitempty"`
	User                 string            `json:"user,omitempty"`
	ReasoningEffort      string            `json:"reasoning_effort,omitempty"`
	PreviousResponseID   string            `json:"previous_response_id,omitempty"`
	PromptCacheRetention string            `json:"prompt_cache_retention,omitempty"`
	SafetyIdentifier     string            `json:"safety_identifier,omitempty"`
}

// StreamOptions controls optional streaming behavior.
type StreamOptions struct {
	IncludeUsage bool `json:"include_usage,omitempty"`
}

// ChatMessage is one inbound chat message. Content is kept raw because
// clients send either a string or an array of typed parts.
type ChatMessage struct {
	Role             string          `json:"role"`
	Content          json.RawMessage `json:"content,omitempty"`
	ReasoningContent string          `json:"reasoning_content,omitempty"`
	ToolCalls        []ToolCall      `json:"tool_calls,omitempty"`
	ToolCallID       string          `json:"tool_call_id,omitempty"`
	Name             string          `json:"name,omitempty"`
}

// ToolCall is a chat-dialect tool invocation. ThoughtSignature and Thought
// are opaque extensions echoed by some clients; the gateway caches them to
// restore reasoning state on later turns.
type ToolCall struct {
	Index            *int         `json:"index,omitempty"`
	ID               string       `json:"id,omitempty"`
	Type             string       `json:"type,omitempty"`
	Function         FunctionCall `json:"function"`
	ThoughtSignature string       `json:"thought_signature,omitempty"`
	Thought          string       `json:"thought,omitempty"`
}

// FunctionCall carries the function name and its JSON-encoded arguments.
type FunctionCall struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// ChatTool declares a callable function in the chat dialect.
type ChatTool struct {
	Type     string       `json:"type"`
	Function ChatFunction `json:"function"`
}

// ChatFunction is the function payload of a ChatTool.
type ChatFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// FunctionTools decodes the function-typed entries of a raw tools list,
// skipping tool types the gateway does not interpret.
func FunctionTools(raw []json.RawMessage) []ChatTool {
	var out []ChatTool
	for _, r := range raw {
		var t ChatTool
		if err := json.Unmarshal(r, &t); err != nil {
			continue
		}
		if t.Type == "function" && t.Function.Name != "" {
			out = append(out, t)
		}
	}
	return out
}

// Text flattens the message content into a plain string: either the literal
// string form or the concatenation of text parts.
func (m ChatMessage) Text() string {
	return ContentText(m.Content)
}

// Parts decodes array-form content into loose maps; nil when the content is
// a plain string or absent.
func (m ChatMessage) Parts() []map[string]any {
	return ContentParts(m.Content)
}

// ContentText extracts a plain string from string-or-parts message content.
func ContentText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parts); err == nil {
		var out string
		for _, p := range parts {
			if p.Type == "" || p.Type == "text" || p.Type == "input_text" {
				out += p.Text
			}
		}
		return out
	}
	return ""
}

// ContentParts decodes array-form content; nil for any other shape.
func ContentParts(raw json.RawMessage) []map[string]any {
	if len(raw) == 0 || raw[0] != '[' {
		return nil
	}
	var parts []map[string]any
	if err := json.Unmarshal(raw, &parts); err != nil {
		return nil
	}
	return parts
}

// ChatResponse is a complete (non-streaming) chat completion.
type ChatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	Usage   *Usage       `json:"usage,omitempty"`
}

// ChatChoice is one completed choice.
type ChatChoice struct {
	Index        int              `json:"index"`
	Message      AssistantMessage `json:"message"`
	FinishReason string           `json:"finish_reason"`
}

// AssistantMessage is the assistant turn in a complete response.
type AssistantMessage struct {
	Role             string     `json:"role"`
	Content          *string    `json:"content"`
	ReasoningContent string     `json:"reasoning_content,omitempty"`
	ToolCalls        []ToolCall `json:"tool_calls,omitempty"`
}

// Usage reports token counts in the chat dialect.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatChunk is one streaming chunk in the chat dialect.
type ChatChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []ChunkChoice `json:"choices"`
	Usage   *Usage        `json:"usage,omitempty"`
}

// ChunkChoice is one choice inside a streaming chunk.
type ChunkChoice struct {
	Index        int        `json:"index"`
	Delta        ChunkDelta `json:"delta"`
	FinishReason *string    `json:"finish_reason"`
}

// ChunkDelta is the incremental payload of one chunk.
type ChunkDelta struct {
	Role             string     `json:"role,omitempty"`
	Content          *string    `json:"content,omitempty"`
	ReasoningContent *string    `json:"reasoning_content,omitempty"`
	ToolCalls        []ToolCall `json:"tool_calls,omitempty"`
}
