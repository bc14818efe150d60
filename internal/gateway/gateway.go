// Package gateway orchestrates one client request end to end: session
// lookup, request shaping, upstream selection, and stream translation.
package gateway

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ChamsBouzaiene/rsp4copilot/internal/api"
	"github.com/ChamsBouzaiene/rsp4copilot/internal/config"
	"github.com/ChamsBouzaiene/rsp4copilot/internal/session"
	"github.com/ChamsBouzaiene/rsp4copilot/internal/translate"
	"github.com/ChamsBouzaiene/rsp4copilot/internal/upstream"
)

const defaultOpenAIBase = "https://api.openai.com"

// Gateway drives requests through the configured upstreams. Store may wrap a
// NoopKV; a nil Store disables session handling entirely (stateless mode).
type Gateway struct {
	cfg      *config.Config
	store    *session.Store
	client   *http.Client
	selector *upstream.Selector
}

// New builds a gateway from the loaded configuration. The HTTP client
// carries no overall timeout: streamed responses are open-ended, and the
// per-request context bounds everything else.
func New(cfg *config.Config, store *session.Store) *Gateway {
	client := &http.Client{
		Transport: &http.Transport{
			MaxIdleConnsPerHost:   8,
			ResponseHeaderTimeout: 120 * time.Second,
		},
	}
	return &Gateway{
		cfg:    cfg,
		store:  store,
		client: client,
		selector: &upstream.Selector{
			Client:        client,
			ProbeTimeout:  cfg.ProbeTimeout(),
			ProbeMaxBytes: cfg.ProbeMaxBytes,
		},
	}
}

// CompleteOptions carry the per-request inputs that are not part of the
// canonical body.
type CompleteOptions struct {
	SessionID   string // x-session-id header, verbatim
	BearerToken string // client bearer, used only for session fingerprinting
	Emitter     translate.Emitter
}

// Complete runs one canonical request against the Responses upstream and
// returns the translated outcome. When the session store knows a previous
// response id the request is sent as a delta on top of it; a rejection
// attributable to that id triggers one full-history retry.
func (g *Gateway) Complete(ctx context.Context, req *api.ResponsesRequest, opts CompleteOptions) (*translate.Outcome, error) {
	if g.cfg.OpenAIAPIKey == "" {
		return nil, api.Misconfiguredf("OPENAI_API_KEY is not set")
	}

	bases := g.cfg.OpenAIBases()
	if len(bases) == 0 {
		bases = []string{defaultOpenAIBase}
	}
	urls := upstream.BuildResponsesURLs(bases, g.cfg.ResponsesPath)

	sessionKey := ""
	prev := ""
	if g.store != nil {
		sessionKey = session.DeriveKey(session.KeyParams{
			SessionID:     opts.SessionID,
			User:          req.User,
			Model:         req.Model,
			FirstUserText: firstUserText(req.Input),
			BearerToken:   opts.BearerToken,
		})
		prev = g.store.PreviousResponseID(ctx, sessionKey)
		sigs := g.store.Signatures(ctx, sessionKey)
		req.Input = applyCachedSignatures(req.Input, sigs, prev != "")
	}

	attempt := func(r *api.ResponsesRequest) (*upstream.Result, error) {
		variants, err := upstream.Variants(r, r.Stream)
		if err != nil {
			return nil, api.AsGatewayError(err)
		}
		headers := upstream.ResponsesHeaders(g.cfg.OpenAIAPIKey, r.Stream, opts.SessionID)
		return g.selector.Select(ctx, urls, variants, headers)
	}

	full := *req
	full.Input = trimInput(req.Input, g.cfg.MaxTurns, g.cfg.MaxMessages, g.cfg.MaxInputChars, prev != "")

	var result *upstream.Result
	var err error
	if prev != "" {
		delta := full
		delta.PreviousResponseID = prev
		delta.Input = deltaInput(full.Input)
		result, err = attempt(&delta)
		if err != nil && previousResponseRejected(err) {
			log.Debug().Str("session", session.KeyHash(sessionKey)).
				Msg("previous_response_id rejected, retrying with full history")
			full.PreviousResponseID = ""
			result, err = attempt(&full)
		}
	} else {
		result, err = attempt(&full)
	}
	if err != nil {
		return nil, err
	}
	defer result.Response.Body.Close()

	topts := translate.Options{Model: req.Model}
	if opts.Emitter == nil {
		topts.MaxBufferedBytes = g.cfg.MaxBufferedSSEBytes
	}
	outcome, terr := translate.Run(ctx, result.Response.Body, opts.Emitter, topts)
	if terr != nil {
		return nil, terr
	}

	g.persist(ctx, sessionKey, outcome)
	return outcome, nil
}

// persist best-effort updates the session store after a completed turn.
func (g *Gateway) persist(ctx context.Context, sessionKey string, outcome *translate.Outcome) {
	if g.store == nil || sessionKey == "" || outcome == nil {
		return
	}
	g.store.SetPreviousResponseID(ctx, sessionKey, outcome.ResponseID)
	g.store.MergeSignatures(ctx, sessionKey, outcome.Signatures)
}

// previousResponseRejected reports whether an upstream failure is
// attributable to a stale previous_response_id rather than the request
// itself.
func previousResponseRejected(err error) bool {
	ge := api.AsGatewayError(err)
	if ge.Class != api.ClassUpstream {
		return false
	}
	if ge.UpstreamStatus != http.StatusBadRequest && ge.UpstreamStatus != http.StatusNotFound {
		return false
	}
	body := strings.ToLower(string(ge.UpstreamBody))
	return strings.Contains(body, "previous_response") ||
		strings.Contains(body, "previous response") ||
		(ge.UpstreamStatus == http.StatusNotFound && strings.Contains(body, "response"))
}
