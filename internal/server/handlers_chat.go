package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ChamsBouzaiene/rsp4copilot/internal/api"
	"github.com/ChamsBouzaiene/rsp4copilot/internal/convert"
	"github.com/ChamsBouzaiene/rsp4copilot/internal/gateway"
	"github.com/ChamsBouzaiene/rsp4copilot/internal/translate"
)

func (s *Server) handleChatCompletions(c *gin.Context) {
	var req api.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, api.InvalidRequestf("invalid request body: %v", err))
		return
	}
	if req.Model == "" {
		req.Model = s.cfg.DefaultModel
	}
	c.Set(modelContextKey, req.Model)

	var emitter translate.Emitter
	if req.Stream {
		emitter = &translate.ChatEmitter{W: sseStream(c), Model: req.Model}
	}

	out, err := s.routeChat(c, &req, emitter)
	if err != nil {
		writeError(c, err)
		return
	}
	if !req.Stream {
		c.JSON(http.StatusOK, translate.BuildChatResponse(out, req.Model))
	}
}

// routeChat dispatches a chat-shaped request to the provider its model
// belongs to and returns the translated outcome.
func (s *Server) routeChat(c *gin.Context, req *api.ChatRequest, emitter translate.Emitter) (*translate.Outcome, error) {
	provider, name := gateway.ResolveModel(req.Model)
	ctx := c.Request.Context()

	switch provider {
	case gateway.ProviderGemini:
		greq, err := convert.ChatToGemini(ctx, req, s.client)
		if err != nil {
			return nil, err
		}
		return s.gw.CompleteGemini(ctx, greq, s.gw.GeminiModel(name), req.Stream, emitter)

	case gateway.ProviderClaude:
		routed := *req
		routed.Model = s.gw.ClaudeModel(name)
		return s.gw.CompleteClaude(ctx, &routed, req.Stream, emitter)

	default:
		canonical, err := convert.ChatToResponses(req, s.cfg.ReasoningEffort)
		if err != nil {
			return nil, err
		}
		canonical.Model = name
		sessionID, bearer := sessionOpts(c)
		return s.gw.Complete(ctx, canonical, gateway.CompleteOptions{
			SessionID:   sessionID,
			BearerToken: bearer,
			Emitter:     emitter,
		})
	}
}

func (s *Server) handleCompletions(c *gin.Context) {
	var req api.CompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, api.InvalidRequestf("invalid request body: %v", err))
		return
	}
	if req.Model == "" {
		req.Model = s.cfg.DefaultModel
	}
	c.Set(modelContextKey, req.Model)

	canonical, err := convert.CompletionToResponses(&req, s.cfg.ReasoningEffort)
	if err != nil {
		writeError(c, err)
		return
	}
	_, name := gateway.ResolveModel(req.Model)
	canonical.Model = name

	var emitter translate.Emitter
	if req.Stream {
		emitter = &translate.CompletionsEmitter{W: sseStream(c), Model: req.Model}
	}

	sessionID, bearer := sessionOpts(c)
	out, err := s.gw.Complete(c.Request.Context(), canonical, gateway.CompleteOptions{
		SessionID:   sessionID,
		BearerToken: bearer,
		Emitter:     emitter,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	if !req.Stream {
		c.JSON(http.StatusOK, translate.BuildCompletionResponse(out, req.Model))
	}
}
