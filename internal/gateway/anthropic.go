package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	anthropic "github.com/liushuangls/go-anthropic/v2"
	"github.com/rs/zerolog/log"

	"github.com/ChamsBouzaiene/rsp4copilot/internal/api"
	"github.com/ChamsBouzaiene/rsp4copilot/internal/convert"
	"github.com/ChamsBouzaiene/rsp4copilot/internal/translate"
	"github.com/ChamsBouzaiene/rsp4copilot/internal/upstream"
)

const (
	defaultClaudeBase = "https://api.anthropic.com"
	anthropicVersion  = "2023-06-01"
)

// ClaudeAvailable reports whether an Anthropic upstream is configured.
func (g *Gateway) ClaudeAvailable() bool {
	return g.cfg.ClaudeAPIKey != ""
}

// ClaudeModel resolves the model sent upstream for a Claude-routed request.
func (g *Gateway) ClaudeModel(model string) string {
	if g.cfg.ClaudeDefaultModel != "" {
		return g.cfg.ClaudeDefaultModel
	}
	return model
}

// CompleteClaude sends a chat-shaped request to the Anthropic Messages
// upstream, trying each candidate URL in order, and translates the reply.
func (g *Gateway) CompleteClaude(ctx context.Context, req *api.ChatRequest, stream bool, emitter translate.Emitter) (*translate.Outcome, error) {
	if !g.ClaudeAvailable() {
		return nil, api.Misconfiguredf("CLAUDE_API_KEY is not set")
	}

	wire, err := g.claudeRequest(req, stream)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(wire)
	if err != nil {
		return nil, api.AsGatewayError(err)
	}

	bases := []string{defaultClaudeBase}
	if g.cfg.ClaudeBaseURL != "" {
		bases = []string{g.cfg.ClaudeBaseURL}
	}
	urls := upstream.BuildMessagesURLs(bases, g.cfg.ClaudeMessagesPath)

	var firstErr error
	for _, u := range urls {
		hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(raw))
		if err != nil {
			return nil, api.AsGatewayError(err)
		}
		hreq.Header.Set("Content-Type", "application/json")
		hreq.Header.Set("X-Api-Key", g.cfg.ClaudeAPIKey)
		hreq.Header.Set("Anthropic-Version", anthropicVersion)
		if stream {
			hreq.Header.Set("Accept", "text/event-stream")
		} else {
			hreq.Header.Set("Accept", "application/json")
		}

		resp, err := g.client.Do(hreq)
		if err != nil {
			if firstErr == nil {
				firstErr = api.BadGatewayf("claude upstream %s unreachable: %v", u, err)
			}
			continue
		}
		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
			resp.Body.Close()
			uerr := api.UpstreamFailure(resp.StatusCode, body)
			if upstream.HopToNextURL(resp.StatusCode) {
				if firstErr == nil {
					firstErr = uerr
				}
				log.Debug().Str("upstream_url", u).Int("status", resp.StatusCode).
					Msg("claude url rejected, trying next")
				continue
			}
			return nil, uerr
		}

		defer resp.Body.Close()
		topts := translate.Options{Model: req.Model}
		if emitter == nil {
			topts.MaxBufferedBytes = g.cfg.MaxBufferedSSEBytes
		}
		return translate.RunAnthropic(ctx, resp.Body, emitter, topts)
	}

	if firstErr != nil {
		return nil, firstErr
	}
	return nil, api.BadGatewayf("no claude upstream URLs available")
}

// CountClaudeTokens forwards a count_tokens request to the Anthropic
// upstream when one is configured, falling back to a local byte-based
// estimate when the upstream cannot answer.
func (g *Gateway) CountClaudeTokens(ctx context.Context, raw []byte, req *api.AnthropicRequest) int {
	if g.ClaudeAvailable() {
		base := defaultClaudeBase
		if g.cfg.ClaudeBaseURL != "" {
			base = strings.TrimRight(g.cfg.ClaudeBaseURL, "/")
		}
		endpoint := upstream.CollapsePath(base + "/v1/messages/count_tokens")

		hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(raw))
		if err == nil {
			hreq.Header.Set("Content-Type", "application/json")
			hreq.Header.Set("X-Api-Key", g.cfg.ClaudeAPIKey)
			hreq.Header.Set("Anthropic-Version", anthropicVersion)
			if resp, err := g.client.Do(hreq); err == nil {
				defer resp.Body.Close()
				if resp.StatusCode < 300 {
					var counted struct {
						InputTokens int `json:"input_tokens"`
					}
					if json.NewDecoder(resp.Body).Decode(&counted) == nil && counted.InputTokens > 0 {
						return counted.InputTokens
					}
				}
				log.Debug().Int("status", resp.StatusCode).Msg("count_tokens upstream declined, estimating locally")
			}
		}
	}
	return convert.EstimateAnthropicTokens(req)
}

// claudeRequest maps the chat dialect onto the Messages wire form.
func (g *Gateway) claudeRequest(req *api.ChatRequest, stream bool) (*anthropic.MessagesRequest, error) {
	out := &anthropic.MessagesRequest{
		Model:  anthropic.Model(req.Model),
		Stream: stream,
	}

	maxTokens := g.cfg.ClaudeMaxTokens
	if req.MaxCompletionTokens != nil {
		maxTokens = *req.MaxCompletionTokens
	} else if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}
	out.MaxTokens = maxTokens

	if req.Temperature != nil {
		temp := float32(*req.Temperature)
		out.Temperature = &temp
	}
	if req.TopP != nil {
		topP := float32(*req.TopP)
		out.TopP = &topP
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case "system", "developer":
			if text := msg.Text(); text != "" {
				out.MultiSystem = append(out.MultiSystem, anthropic.MessageSystemPart{
					Type: "text",
					Text: text,
				})
			}

		case "user":
			content := claudeUserContent(msg)
			if len(content) == 0 {
				continue
			}
			out.Messages = append(out.Messages, anthropic.Message{
				Role:    anthropic.RoleUser,
				Content: content,
			})

		case "assistant":
			var content []anthropic.MessageContent
			if text := msg.Text(); text != "" {
				content = append(content, anthropic.NewTextMessageContent(text))
			}
			for _, tc := range msg.ToolCalls {
				args := tc.Function.Arguments
				if args == "" || !json.Valid([]byte(args)) {
					args = "{}"
				}
				content = append(content, anthropic.NewToolUseMessageContent(
					tc.ID, tc.Function.Name, json.RawMessage(args)))
			}
			if len(content) == 0 {
				continue
			}
			out.Messages = append(out.Messages, anthropic.Message{
				Role:    anthropic.RoleAssistant,
				Content: content,
			})

		case "tool":
			if msg.ToolCallID == "" {
				continue
			}
			result := msg.Text()
			if result == "" {
				result = "{}"
			}
			out.Messages = append(out.Messages, anthropic.Message{
				Role: anthropic.RoleUser,
				Content: []anthropic.MessageContent{
					anthropic.NewToolResultMessageContent(msg.ToolCallID, result, false),
				},
			})
		}
	}

	if len(out.Messages) == 0 {
		return nil, api.InvalidRequestf("request converts to an empty message list")
	}

	for _, rawTool := range req.Tools {
		var tool struct {
			Type     string `json:"type"`
			Function struct {
				Name        string         `json:"name"`
				Description string         `json:"description"`
				Parameters  map[string]any `json:"parameters"`
			} `json:"function"`
		}
		if err := json.Unmarshal(rawTool, &tool); err != nil || tool.Function.Name == "" {
			continue
		}
		out.Tools = append(out.Tools, anthropic.ToolDefinition{
			Name:        tool.Function.Name,
			Description: tool.Function.Description,
			InputSchema: tool.Function.Parameters,
		})
	}

	out.ToolChoice = claudeToolChoice(req.ToolChoice, len(out.Tools) > 0)
	return out, nil
}

func claudeUserContent(msg api.ChatMessage) []anthropic.MessageContent {
	parts := msg.Parts()
	if parts == nil {
		if text := msg.Text(); text != "" {
			return []anthropic.MessageContent{anthropic.NewTextMessageContent(text)}
		}
		return nil
	}

	var content []anthropic.MessageContent
	for _, p := range parts {
		switch p["type"] {
		case "text", "input_text", nil:
			if text, _ := p["text"].(string); text != "" {
				content = append(content, anthropic.NewTextMessageContent(text))
			}
		case "image_url", "input_image":
			u := api.ImageURLString(p["image_url"])
			mime, data, ok := convert.ParseDataURL(u)
			if !ok {
				continue
			}
			content = append(content, anthropic.NewImageMessageContent(
				anthropic.NewMessageContentSource(
					anthropic.MessagesContentSourceTypeBase64, mime, data)))
		}
	}
	return content
}

func claudeToolChoice(raw json.RawMessage, haveTools bool) *anthropic.ToolChoice {
	if !haveTools {
		return nil
	}
	if len(raw) == 0 {
		return &anthropic.ToolChoice{Type: "auto"}
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		switch strings.ToLower(s) {
		case "none":
			return nil
		case "required", "any":
			return &anthropic.ToolChoice{Type: "any"}
		default:
			return &anthropic.ToolChoice{Type: "auto"}
		}
	}

	var choice struct {
		Type     string `json:"type"`
		Function struct {
			Name string `json:"name"`
		} `json:"function"`
	}
	if err := json.Unmarshal(raw, &choice); err == nil &&
		choice.Type == "function" && choice.Function.Name != "" {
		return &anthropic.ToolChoice{Type: "tool", Name: choice.Function.Name}
	}
	return &anthropic.ToolChoice{Type: "auto"}
}
