package api

import (
	"encoding/json"

	"github.com/spf13/cast"
)

// ResponsesRequest is the canonical internal request form. Every inbound
// dialect converts into this shape before variants are generated.
type ResponsesRequest struct {
	Model                string           `json:"model"`
	Instructions         string           `json:"instructions,omitempty"`
	Input                []InputItem      `json:"input"`
	Tools                []map[string]any `json:"tools,omitempty"`
	ToolChoice           json.RawMessage  `json:"tool_choice,omitempty"`
	Reasoning            *Reasoning       `json:"reasoning,omitempty"`
	MaxOutputTokens      *int             `json:"max_output_tokens,omitempty"`
	Temperature          *float64         `json:"temperature,omitempty"`
	TopP                 *float64         `json:"top_p,omitempty"`
	Stream               bool             `json:"stream"`
	PreviousResponseID   string           `json:"previous_response_id,omitempty"`
	User                 string           `json:"user,omitempty"`
	PromptCacheRetention string           `json:"prompt_cache_retention,omitempty"`
	SafetyIdentifier     string           `json:"safety_identifier,omitempty"`
}

// Reasoning configures reasoning effort on the canonical request.
type Reasoning struct {
	Effort string `json:"effort,omitempty"`
}

// InputItem is one canonical input entry: a role message (Type empty or
// "message"), a "function_call", or a "function_call_output".
type InputItem struct {
	Type    string        `json:"type,omitempty"`
	Role    string        `json:"role,omitempty"`
	Content []ContentPart `json:"content,omitempty"`

	ID               string `json:"id,omitempty"`
	CallID           string `json:"call_id,omitempty"`
	Name             string `json:"name,omitempty"`
	Arguments        string `json:"arguments,omitempty"`
	ThoughtSignature string `json:"thought_signature,omitempty"`
	Thought          string `json:"thought,omitempty"`

	Output string `json:"output,omitempty"`
}

// IsMessage reports whether the item is a role message rather than a tool
// item.
func (it InputItem) IsMessage() bool {
	return it.Type == "" || it.Type == "message"
}

// ContentPart is one element of a message's content list. ImageURL is either
// a URL string or an object carrying a url field.
type ContentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL any    `json:"image_url,omitempty"`
}

// ImageURLString extracts the URL from either accepted image_url shape.
func ImageURLString(v any) string {
	switch u := v.(type) {
	case string:
		return u
	case map[string]any:
		return cast.ToString(u["url"])
	}
	return ""
}

// ToMap renders the canonical request as a loose map for variant mutation.
func (r *ResponsesRequest) ToMap() (map[string]any, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// ResponseObject is a complete Responses payload, received either inside
// response.created/response.completed events or as a bare JSON body.
type ResponseObject struct {
	ID                string          `json:"id,omitempty"`
	Object            string          `json:"object,omitempty"`
	CreatedAt         int64           `json:"created_at,omitempty"`
	Status            string          `json:"status,omitempty"`
	Model             string          `json:"model,omitempty"`
	Output            []OutputItem    `json:"output,omitempty"`
	Usage             *ResponsesUsage `json:"usage,omitempty"`
	Error             json.RawMessage `json:"error,omitempty"`
	IncompleteDetails json.RawMessage `json:"incomplete_details,omitempty"`
}

// OutputItem is one entry of a response's output list.
type OutputItem struct {
	ID               string          `json:"id,omitempty"`
	Type             string          `json:"type,omitempty"`
	Status           string          `json:"status,omitempty"`
	Role             string          `json:"role,omitempty"`
	Content          []OutputContent `json:"content,omitempty"`
	Summary          []OutputContent `json:"summary,omitempty"`
	CallID           string          `json:"call_id,omitempty"`
	Name             string          `json:"name,omitempty"`
	Arguments        string          `json:"arguments,omitempty"`
	ThoughtSignature string          `json:"thought_signature,omitempty"`
}

// OutputContent is one typed text fragment inside an output item.
type OutputContent struct {
	Type string `json:"type,omitempty"`
	Text string `json:"text,omitempty"`
}

// ResponsesUsage reports token counts in the Responses dialect.
type ResponsesUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// StreamEvent is the decoded form of one upstream Responses SSE payload.
// Delta and Text stay raw because upstreams disagree on whether they are
// plain strings or objects wrapping a text field.
type StreamEvent struct {
	Type           string          `json:"type"`
	SequenceNumber *int64          `json:"sequence_number,omitempty"`
	Response       *ResponseObject `json:"response,omitempty"`
	Item           *OutputItem     `json:"item,omitempty"`
	ItemID         string          `json:"item_id,omitempty"`
	OutputIndex    *int            `json:"output_index,omitempty"`
	ContentIndex   *int            `json:"content_index,omitempty"`
	CallID         string          `json:"call_id,omitempty"`
	Name           string          `json:"name,omitempty"`
	Delta          json.RawMessage `json:"delta,omitempty"`
	Text           json.RawMessage `json:"text,omitempty"`
	Arguments      string          `json:"arguments,omitempty"`
	Error          json.RawMessage `json:"error,omitempty"`
}

// ParseStreamEvent decodes one SSE data payload.
func ParseStreamEvent(data []byte) (*StreamEvent, error) {
	var ev StreamEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// DeltaText returns the delta payload as plain text.
func (e *StreamEvent) DeltaText() string {
	return looseText(e.Delta)
}

// DoneText returns the completed-text payload as plain text.
func (e *StreamEvent) DoneText() string {
	return looseText(e.Text)
}

func looseText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Text  string `json:"text"`
		Value string `json:"value"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		if obj.Text != "" {
			return obj.Text
		}
		return obj.Value
	}
	return ""
}
