package server

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ChamsBouzaiene/rsp4copilot/internal/api"
	"github.com/ChamsBouzaiene/rsp4copilot/internal/convert"
	"github.com/ChamsBouzaiene/rsp4copilot/internal/translate"
)

// handleMessages serves the Anthropic Messages dialect. Whatever provider
// the model routes to, the reply comes back as Messages events or a
// complete message object.
func (s *Server) handleMessages(c *gin.Context) {
	var req api.AnthropicRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, api.InvalidRequestf("invalid request body: %v", err))
		return
	}
	if req.Model == "" {
		req.Model = s.cfg.DefaultModel
	}
	c.Set(modelContextKey, req.Model)

	chatReq, err := convert.AnthropicToChat(&req)
	if err != nil {
		writeError(c, err)
		return
	}
	chatReq.Stream = req.Stream

	var emitter translate.Emitter
	if req.Stream {
		emitter = &translate.AnthropicEmitter{W: sseStream(c), Model: req.Model}
	}

	out, err := s.routeChat(c, chatReq, emitter)
	if err != nil {
		writeError(c, err)
		return
	}
	if !req.Stream {
		c.JSON(http.StatusOK, translate.BuildAnthropicResponse(out, req.Model))
	}
}

// handleCountTokens forwards token counting upstream when possible and
// otherwise estimates locally, so clients always get an answer.
func (s *Server) handleCountTokens(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, 8<<20))
	if err != nil {
		writeError(c, api.InvalidRequestf("unreadable request body: %v", err))
		return
	}
	var req api.AnthropicRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		writeError(c, api.InvalidRequestf("invalid request body: %v", err))
		return
	}

	tokens := s.gw.CountClaudeTokens(c.Request.Context(), raw, &req)
	c.JSON(http.StatusOK, gin.H{"input_tokens": tokens})
}
