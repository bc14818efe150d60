// Package server exposes the gateway over HTTP in every dialect it speaks.
package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/ChamsBouzaiene/rsp4copilot/internal/api"
	"github.com/ChamsBouzaiene/rsp4copilot/internal/config"
	"github.com/ChamsBouzaiene/rsp4copilot/internal/gateway"
	"github.com/ChamsBouzaiene/rsp4copilot/internal/translate"
)

// bearerContextKey stores the authenticated client token for session
// fingerprinting; modelContextKey carries the parsed model for the request
// log line.
const (
	bearerContextKey = "client_bearer"
	modelContextKey  = "request_model"
)

// Server wires the HTTP routes to the gateway.
type Server struct {
	cfg    *config.Config
	gw     *gateway.Gateway
	client *http.Client
}

// New builds the server. The embedded HTTP client serves inline image
// fetches during request conversion, not upstream calls.
func New(cfg *config.Config, gw *gateway.Gateway) *Server {
	return &Server{
		cfg:    cfg,
		gw:     gw,
		client: &http.Client{Timeout: 20 * time.Second},
	}
}

// Router assembles the gin engine with all routes registered both bare and
// under /v1, matching what the assorted client SDKs expect.
func (s *Server) Router() *gin.Engine {
	if !s.cfg.DebugEnabled() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLog())

	r.GET("/health", s.handleHealth)
	r.GET("/v1/health", s.handleHealth)

	auth := s.auth()

	r.GET("/models", auth, s.handleModels)
	r.GET("/v1/models", auth, s.handleModels)

	r.POST("/chat/completions", auth, s.handleChatCompletions)
	r.POST("/v1/chat/completions", auth, s.handleChatCompletions)

	r.POST("/completions", auth, s.handleCompletions)
	r.POST("/v1/completions", auth, s.handleCompletions)

	r.POST("/messages", auth, s.handleMessages)
	r.POST("/v1/messages", auth, s.handleMessages)
	r.POST("/messages/count_tokens", auth, s.handleCountTokens)
	r.POST("/v1/messages/count_tokens", auth, s.handleCountTokens)

	r.POST("/v1beta/models/*action", auth, s.handleGeminiGenerate)

	r.NoRoute(func(c *gin.Context) {
		ge := &api.GatewayError{Class: api.ClassNotFound, Message: "unknown route " + c.Request.URL.Path}
		c.JSON(ge.HTTPStatus(), ge.Body())
	})
	return r
}

// auth validates the client bearer against the configured worker keys. With
// no keys configured the gateway is open.
func (s *Server) auth() gin.HandlerFunc {
	return func(c *gin.Context) {
		keys := s.cfg.AuthKeys()
		token := clientToken(c)
		if len(keys) == 0 {
			c.Set(bearerContextKey, token)
			c.Next()
			return
		}
		for _, k := range keys {
			if token != "" && token == k {
				c.Set(bearerContextKey, token)
				c.Next()
				return
			}
		}
		c.Header("WWW-Authenticate", "Bearer")
		ge := api.Unauthorizedf("missing or invalid api key")
		c.AbortWithStatusJSON(ge.HTTPStatus(), ge.Body())
	}
}

// clientToken extracts the credential from any header scheme clients use.
func clientToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); h != "" {
		return config.NormalizeAuthKey(h)
	}
	if h := c.GetHeader("X-Api-Key"); h != "" {
		return config.NormalizeAuthKey(h)
	}
	if h := c.GetHeader("X-Goog-Api-Key"); h != "" {
		return config.NormalizeAuthKey(h)
	}
	if q := c.Query("key"); q != "" {
		return config.NormalizeAuthKey(q)
	}
	return ""
}

// requestLog emits one structured line per request.
func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		ev := log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start))
		if model := c.GetString(modelContextKey); model != "" {
			ev = ev.Str("model", model)
		}
		ev.Msg("request")
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true, "time": time.Now().UTC().Format(time.RFC3339)})
}

// sseWriter defers the event-stream headers until the first frame, so a
// failure before any event still reaches the client as a JSON error with
// the propagated status instead of an empty 200 stream.
type sseWriter struct {
	c       *gin.Context
	started bool
}

func (w *sseWriter) Write(p []byte) (int, error) {
	if !w.started {
		w.started = true
		h := w.c.Writer.Header()
		h.Set("Content-Type", "text/event-stream; charset=utf-8")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "close")
		h.Set("X-Accel-Buffering", "no")
		w.c.Writer.WriteHeader(http.StatusOK)
	}
	return w.c.Writer.Write(p)
}

func (w *sseWriter) Flush() {
	if w.started {
		w.c.Writer.Flush()
	}
}

// sseStream returns the stream writer emitters send frames through.
func sseStream(c *gin.Context) *translate.StreamWriter {
	return translate.NewStreamWriter(&sseWriter{c: c})
}

// writeError reports a failure to the client unless the stream already
// started, in which case the translator has finalized what it could and the
// error is only logged.
func writeError(c *gin.Context, err error) {
	ge := api.AsGatewayError(err)
	if c.Writer.Written() {
		log.Warn().Err(ge).Msg("request failed after stream start")
		return
	}
	c.JSON(ge.HTTPStatus(), ge.Body())
}

// sessionOpts collects the per-request session inputs for the gateway.
func sessionOpts(c *gin.Context) (sessionID, bearer string) {
	return c.GetHeader("X-Session-Id"), c.GetString(bearerContextKey)
}
