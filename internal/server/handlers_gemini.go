package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ChamsBouzaiene/rsp4copilot/internal/api"
	"github.com/ChamsBouzaiene/rsp4copilot/internal/convert"
	"github.com/ChamsBouzaiene/rsp4copilot/internal/gateway"
	"github.com/ChamsBouzaiene/rsp4copilot/internal/translate"
)

// handleGeminiGenerate serves the native Gemini surface:
// POST /v1beta/models/{model}:generateContent and :streamGenerateContent.
// Non-Gemini models are accepted too; the request is converted and routed
// to whichever provider the model belongs to.
func (s *Server) handleGeminiGenerate(c *gin.Context) {
	action := strings.TrimPrefix(c.Param("action"), "/")
	model, verb, ok := strings.Cut(action, ":")
	if !ok || model == "" {
		writeError(c, api.InvalidRequestf("expected models/{model}:generateContent"))
		return
	}

	var stream bool
	switch verb {
	case "generateContent":
	case "streamGenerateContent":
		stream = true
	default:
		ge := &api.GatewayError{Class: api.ClassNotFound, Message: "unsupported action " + verb}
		c.JSON(ge.HTTPStatus(), ge.Body())
		return
	}

	var req api.GeminiRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, api.InvalidRequestf("invalid request body: %v", err))
		return
	}
	c.Set(modelContextKey, model)

	var emitter translate.Emitter
	if stream {
		emitter = &translate.GeminiEmitter{W: sseStream(c), Model: model}
	}

	provider, name := gateway.ResolveModel(model)
	ctx := c.Request.Context()

	var out *translate.Outcome
	var err error
	if provider == gateway.ProviderGemini {
		out, err = s.gw.CompleteGemini(ctx, &req, s.gw.GeminiModel(name), stream, emitter)
	} else {
		var chatReq *api.ChatRequest
		chatReq, err = convert.GeminiToChat(&req, model, stream)
		if err == nil {
			out, err = s.routeChat(c, chatReq, emitter)
		}
	}
	if err != nil {
		writeError(c, err)
		return
	}
	if !stream {
		chat := translate.BuildChatResponse(out, model)
		c.JSON(http.StatusOK, convert.ChatResponseToGemini(chat, model))
	}
}
