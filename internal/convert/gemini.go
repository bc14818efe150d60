package convert

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"github.com/rs/zerolog/log"

	"github.com/ChamsBouzaiene/rsp4copilot/internal/api"
)

// ChatToGemini converts a chat request into a Gemini generateContent body.
// Remote image URLs are fetched and inlined; parts that cannot be resolved
// are dropped rather than failing the request.
func ChatToGemini(ctx context.Context, req *api.ChatRequest, client *http.Client) (*api.GeminiRequest, error) {
	out := &api.GeminiRequest{}

	var systemParts []api.GeminiPart

	// Pending tool results are flushed as one user turn whose
	// functionResponse parts follow the order of the preceding
	// functionCall parts.
	var pendingResults map[string]api.GeminiPart
	var pendingOrder []string
	var lastCallOrder []string
	callNames := map[string]string{}

	flushResults := func() {
		if len(pendingResults) == 0 {
			return
		}
		var parts []api.GeminiPart
		emitted := map[string]bool{}
		for _, id := range lastCallOrder {
			if p, ok := pendingResults[id]; ok {
				parts = append(parts, p)
				emitted[id] = true
			}
		}
		for _, id := range pendingOrder {
			if !emitted[id] {
				parts = append(parts, pendingResults[id])
			}
		}
		out.Contents = append(out.Contents, api.GeminiContent{Role: "user", Parts: parts})
		pendingResults = nil
		pendingOrder = nil
	}

	for _, msg := range req.Messages {
		if msg.Role != "tool" {
			flushResults()
		}

		switch msg.Role {
		case "system", "developer":
			if text := msg.Text(); text != "" {
				systemParts = append(systemParts, api.GeminiPart{Text: text})
			}

		case "user":
			parts := geminiUserParts(ctx, msg, client)
			if len(parts) > 0 {
				out.Contents = append(out.Contents, api.GeminiContent{Role: "user", Parts: parts})
			}

		case "assistant":
			var parts []api.GeminiPart
			if text := msg.Text(); text != "" {
				parts = append(parts, api.GeminiPart{Text: text})
			}
			lastCallOrder = lastCallOrder[:0]
			for _, tc := range msg.ToolCalls {
				id := api.NormalizeCallID(tc.ID)
				lastCallOrder = append(lastCallOrder, id)
				callNames[id] = tc.Function.Name
				part := api.GeminiPart{
					FunctionCall: &api.GeminiFunctionCall{
						Name: tc.Function.Name,
						Args: argumentsObject(tc.Function.Arguments),
					},
					ThoughtSignature: tc.ThoughtSignature,
				}
				if tc.Thought != "" {
					part.Thought = tc.Thought
				}
				parts = append(parts, part)
			}
			if len(parts) > 0 {
				out.Contents = append(out.Contents, api.GeminiContent{Role: "model", Parts: parts})
			}

		case "tool":
			id := api.NormalizeCallID(msg.ToolCallID)
			if id == "" {
				continue
			}
			name := callNames[id]
			if name == "" {
				name = msg.Name
			}
			if pendingResults == nil {
				pendingResults = map[string]api.GeminiPart{}
			}
			pendingResults[id] = api.GeminiPart{
				FunctionResponse: &api.GeminiFunctionResp{
					Name:     name,
					Response: functionResponseObject(msg.Text()),
					ID:       id,
				},
			}
			pendingOrder = append(pendingOrder, id)
		}
	}
	flushResults()

	if len(out.Contents) == 0 {
		return nil, api.InvalidRequestf("request converts to an empty input list")
	}

	if len(systemParts) > 0 {
		out.SystemInstruction = &api.GeminiContent{Parts: systemParts}
	}

	if tools := api.FunctionTools(req.Tools); len(tools) > 0 {
		decls := make([]api.GeminiFunctionDecl, 0, len(tools))
		for _, t := range tools {
			decls = append(decls, api.GeminiFunctionDecl{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  GeminiSchema(t.Function.Parameters),
			})
		}
		out.Tools = []api.GeminiTool{{FunctionDeclarations: decls}}
	}

	out.ToolConfig = geminiToolConfig(req.ToolChoice)

	if req.Temperature != nil || req.TopP != nil || req.MaxTokens != nil || req.MaxCompletionTokens != nil {
		cfg := &api.GeminiGenConfig{Temperature: req.Temperature, TopP: req.TopP}
		if req.MaxCompletionTokens != nil {
			cfg.MaxOutputTokens = req.MaxCompletionTokens
		} else {
			cfg.MaxOutputTokens = req.MaxTokens
		}
		out.GenerationConfig = cfg
	}

	return out, nil
}

func geminiUserParts(ctx context.Context, msg api.ChatMessage, client *http.Client) []api.GeminiPart {
	parts := msg.Parts()
	if parts == nil {
		if text := msg.Text(); text != "" {
			return []api.GeminiPart{{Text: text}}
		}
		return nil
	}

	var out []api.GeminiPart
	for _, p := range parts {
		switch p["type"] {
		case "text", "input_text", nil:
			if text, _ := p["text"].(string); text != "" {
				out = append(out, api.GeminiPart{Text: text})
			}
		case "image_url", "input_image":
			url := api.ImageURLString(p["image_url"])
			if url == "" {
				continue
			}
			inline := InlineFromString(url)
			if inline == nil && strings.HasPrefix(url, "http") {
				fetched, err := FetchInline(ctx, client, url)
				if err != nil {
					log.Debug().Err(err).Str("url", url).Msg("dropping unfetchable image part")
					continue
				}
				inline = fetched
			}
			if inline != nil {
				out = append(out, api.GeminiPart{
					InlineData: &api.GeminiBlob{MimeType: inline.MimeType, Data: inline.Data},
				})
			}
		}
	}
	return out
}

// argumentsObject parses a tool-call argument string into a JSON object,
// repairing near-JSON before giving up.
func argumentsObject(args string) json.RawMessage {
	args = strings.TrimSpace(args)
	if args == "" {
		return json.RawMessage("{}")
	}
	if json.Valid([]byte(args)) {
		return json.RawMessage(args)
	}
	if repaired, err := jsonrepair.JSONRepair(args); err == nil && json.Valid([]byte(repaired)) {
		return json.RawMessage(repaired)
	}
	return json.RawMessage("{}")
}

// functionResponseObject wraps a tool output for Gemini, which requires an
// object rather than a bare string.
func functionResponseObject(content string) json.RawMessage {
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "{") && json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed)
	}
	wrapped, err := json.Marshal(map[string]string{"return_value": content})
	if err != nil {
		return json.RawMessage(`{"return_value":""}`)
	}
	return wrapped
}

// geminiToolConfig maps a chat tool_choice onto Gemini's functionCallingConfig.
func geminiToolConfig(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	mode := ""
	var allowed []string

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		switch s {
		case "auto":
			mode = "AUTO"
		case "none":
			mode = "NONE"
		case "required":
			mode = "ANY"
		}
	} else {
		var choice struct {
			Type     string `json:"type"`
			Function struct {
				Name string `json:"name"`
			} `json:"function"`
		}
		if err := json.Unmarshal(raw, &choice); err == nil &&
			choice.Type == "function" && choice.Function.Name != "" {
			mode = "ANY"
			allowed = []string{choice.Function.Name}
		}
	}
	if mode == "" {
		return nil
	}

	cfg := map[string]any{"mode": mode}
	if len(allowed) > 0 {
		cfg["allowedFunctionNames"] = allowed
	}
	b, err := json.Marshal(map[string]any{"functionCallingConfig": cfg})
	if err != nil {
		return nil
	}
	return b
}

// GeminiToChat converts a native generateContent request into the chat
// dialect so the normal routing and conversion pipeline applies.
func GeminiToChat(req *api.GeminiRequest, model string, stream bool) (*api.ChatRequest, error) {
	out := &api.ChatRequest{Model: model, Stream: stream}

	if req.SystemInstruction != nil {
		var text strings.Builder
		for _, p := range req.SystemInstruction.Parts {
			text.WriteString(p.Text)
		}
		if text.Len() > 0 {
			out.Messages = append(out.Messages, api.ChatMessage{
				Role:    "system",
				Content: mustRawString(text.String()),
			})
		}
	}

	for _, content := range req.Contents {
		switch content.Role {
		case "model":
			msg := api.ChatMessage{Role: "assistant"}
			var text strings.Builder
			for _, p := range content.Parts {
				if p.Text != "" {
					text.WriteString(p.Text)
				}
				if p.FunctionCall != nil {
					id := p.FunctionCall.ID
					if id == "" {
						id = api.NewID(api.IDPrefixCall)
					}
					args := "{}"
					if len(p.FunctionCall.Args) > 0 {
						args = string(p.FunctionCall.Args)
					}
					msg.ToolCalls = append(msg.ToolCalls, api.ToolCall{
						ID:               id,
						Type:             "function",
						Function:         api.FunctionCall{Name: p.FunctionCall.Name, Arguments: args},
						ThoughtSignature: p.ThoughtSignature,
					})
				}
			}
			if text.Len() > 0 {
				msg.Content = mustRawString(text.String())
			}
			if msg.Content != nil || len(msg.ToolCalls) > 0 {
				out.Messages = append(out.Messages, msg)
			}

		default: // "user" and untagged turns
			var toolMsgs []api.ChatMessage
			var parts []map[string]any
			for _, p := range content.Parts {
				switch {
				case p.FunctionResponse != nil:
					toolMsgs = append(toolMsgs, api.ChatMessage{
						Role:       "tool",
						ToolCallID: p.FunctionResponse.ID,
						Name:       p.FunctionResponse.Name,
						Content:    mustRawString(string(p.FunctionResponse.Response)),
					})
				case p.InlineData != nil:
					parts = append(parts, map[string]any{
						"type": "image_url",
						"image_url": map[string]any{
							"url": "data:" + p.InlineData.MimeType + ";base64," + p.InlineData.Data,
						},
					})
				case p.Text != "":
					parts = append(parts, map[string]any{"type": "text", "text": p.Text})
				}
			}
			out.Messages = append(out.Messages, toolMsgs...)
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

	for _, tool := range req.Tools {
		for _, decl := range tool.FunctionDeclarations {
			raw, err := json.Marshal(map[string]any{
				"type": "function",
				"function": map[string]any{
					"name":        decl.Name,
					"description": decl.Description,
					"parameters":  decl.Parameters,
				},
			})
			if err != nil {
				continue
			}
			out.Tools = append(out.Tools, raw)
		}
	}

	if cfg := req.GenerationConfig; cfg != nil {
		out.Temperature = cfg.Temperature
		out.TopP = cfg.TopP
		out.MaxTokens = cfg.MaxOutputTokens
	}

	return out, nil
}

// GeminiResponseToChat maps a generateContent response onto the chat shape.
// Tool calls get fresh call ids; thought signatures are routed to stash
// rather than surfaced to the client.
func GeminiResponseToChat(resp *api.GeminiResponse, model string, stash func(callID, signature, thought, name string)) *api.ChatResponse {
	out := &api.ChatResponse{
		ID:     api.NewID(api.IDPrefixChat),
		Object: "chat.completion",
		Model:  model,
	}

	msg := api.AssistantMessage{Role: "assistant"}
	finish := "stop"

	if len(resp.Candidates) > 0 {
		cand := resp.Candidates[0]
		var text strings.Builder
		for _, p := range cand.Content.Parts {
			if p.Text != "" {
				text.WriteString(p.Text)
			}
			if p.FunctionCall == nil {
				continue
			}
			callID := api.NewID(api.IDPrefixCall)
			args := "{}"
			if len(p.FunctionCall.Args) > 0 {
				args = string(p.FunctionCall.Args)
			}
			msg.ToolCalls = append(msg.ToolCalls, api.ToolCall{
				ID:       callID,
				Type:     "function",
				Function: api.FunctionCall{Name: p.FunctionCall.Name, Arguments: args},
			})
			if stash != nil && p.ThoughtSignature != "" {
				thought, _ := p.Thought.(string)
				stash(callID, p.ThoughtSignature, thought, p.FunctionCall.Name)
			}
		}
		if text.Len() > 0 {
			s := text.String()
			msg.Content = &s
		}
		if len(msg.ToolCalls) > 0 {
			finish = "tool_calls"
		} else if cand.FinishReason == "MAX_TOKENS" {
			finish = "length"
		}
	}

	out.Choices = []api.ChatChoice{{Index: 0, Message: msg, FinishReason: finish}}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = &api.Usage{
			PromptTokens:     u.PromptTokenCount,
			CompletionTokens: u.CandidatesTokenCount,
			TotalTokens:      u.TotalTokenCount,
		}
	}
	return out
}

// ChatResponseToGemini renders a complete chat response in the Gemini
// dialect for native generateContent clients.
func ChatResponseToGemini(resp *api.ChatResponse, model string) *api.GeminiResponse {
	out := &api.GeminiResponse{ModelVersion: model}
	if len(resp.Choices) == 0 {
		return out
	}
	choice := resp.Choices[0]

	var parts []api.GeminiPart
	if choice.Message.Content != nil && *choice.Message.Content != "" {
		parts = append(parts, api.GeminiPart{Text: *choice.Message.Content})
	}
	for _, tc := range choice.Message.ToolCalls {
		parts = append(parts, api.GeminiPart{
			FunctionCall: &api.GeminiFunctionCall{
				Name: tc.Function.Name,
				Args: argumentsObject(tc.Function.Arguments),
				ID:   tc.ID,
			},
			ThoughtSignature: tc.ThoughtSignature,
		})
	}
	if len(parts) == 0 {
		parts = []api.GeminiPart{{Text: ""}}
	}

	finish := "STOP"
	if choice.FinishReason == "length" {
		finish = "MAX_TOKENS"
	}

	out.Candidates = []api.GeminiCandidate{{
		Content:      api.GeminiContent{Role: "model", Parts: parts},
		FinishReason: finish,
		Index:        0,
	}}
	if resp.Usage != nil {
		out.UsageMetadata = &api.GeminiUsage{
			PromptTokenCount:     resp.Usage.PromptTokens,
			CandidatesTokenCount: resp.Usage.CompletionTokens,
			TotalTokenCount:      resp.Usage.TotalTokens,
		}
	}
	return out
}

func mustRawString(s string) json.RawMessage {
	b, err := json.Marshal(s)
	if err != nil {
		return json.RawMessage(`""`)
	}
	return b
}
