package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/ChamsBouzaiene/rsp4copilot/internal/api"
	"github.com/ChamsBouzaiene/rsp4copilot/internal/translate"
)

const defaultGeminiBase = "https://generativelanguage.googleapis.com"

// GeminiAvailable reports whether a Gemini upstream is configured.
func (g *Gateway) GeminiAvailable() bool {
	return g.cfg.GeminiAPIKey != ""
}

// GeminiModel resolves the model sent upstream for a Gemini-routed request.
func (g *Gateway) GeminiModel(model string) string {
	if g.cfg.GeminiDefaultModel != "" {
		return g.cfg.GeminiDefaultModel
	}
	return model
}

// CompleteGemini posts a native generateContent request to the Gemini
// upstream and translates the reply through the shared emitter surface.
func (g *Gateway) CompleteGemini(ctx context.Context, req *api.GeminiRequest, model string, stream bool, emitter translate.Emitter) (*translate.Outcome, error) {
	if !g.GeminiAvailable() {
		return nil, api.Misconfiguredf("GEMINI_API_KEY is not set")
	}

	base := strings.TrimRight(g.cfg.GeminiBaseURL, "/")
	if base == "" {
		base = defaultGeminiBase
	}
	verb := ":generateContent"
	if stream {
		verb = ":streamGenerateContent?alt=sse"
	}
	endpoint := base + "/v1beta/models/" + url.PathEscape(model) + verb

	raw, err := json.Marshal(req)
	if err != nil {
		return nil, api.AsGatewayError(err)
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(raw))
	if err != nil {
		return nil, api.AsGatewayError(err)
	}
	hreq.Header.Set("Content-Type", "application/json")
	hreq.Header.Set("X-Goog-Api-Key", g.cfg.GeminiAPIKey)
	if stream {
		hreq.Header.Set("Accept", "text/event-stream")
	} else {
		hreq.Header.Set("Accept", "application/json")
	}

	resp, err := g.client.Do(hreq)
	if err != nil {
		return nil, api.BadGatewayf("gemini upstream unreachable: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, api.UpstreamFailure(resp.StatusCode, body)
	}

	topts := translate.Options{Model: model}
	if emitter == nil {
		topts.MaxBufferedBytes = g.cfg.MaxBufferedSSEBytes
	}
	return translate.RunGemini(ctx, resp.Body, emitter, topts)
}
