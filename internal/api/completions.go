package api

import "encoding/json"

// CompletionRequest is the legacy text-completions request body. Prompt
// stays raw: clients send a string or an array of strings.
type CompletionRequest struct {
	Model       string          `json:"model"`
	Prompt      json.RawMessage `json:"prompt,omitempty"`
	MaxTokens   *int            `json:"max_tokens,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	TopP        *float64        `json:"top_p,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
	Stop        json.RawMessage `json:"stop,omitempty"`
	User        string          `json:"user,omitempty"`
}

// PromptText flattens the prompt into one string; array entries are joined
// with newlines.
func (r CompletionRequest) PromptText() string {
	if len(r.Prompt) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(r.Prompt, &s); err == nil {
		return s
	}
	var many []string
	if err := json.Unmarshal(r.Prompt, &many); err == nil {
		out := ""
		for i, p := range many {
			if i > 0 {
				out += "\n"
			}
			out += p
		}
		return out
	}
	return ""
}

// CompletionResponse is a complete text completion.
type CompletionResponse struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []CompletionChoice `json:"choices"`
	Usage   *Usage             `json:"usage,omitempty"`
}

// CompletionChoice is one completed or streamed text choice.
type CompletionChoice struct {
	Index        int     `json:"index"`
	Text         string  `json:"text"`
	FinishReason *string `json:"finish_reason"`
}
