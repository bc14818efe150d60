package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog/log"

	"github.com/ChamsBouzaiene/rsp4copilot/internal/api"
)

// maxErrorBodyBytes caps how much of an upstream error body is retained.
const maxErrorBodyBytes = 64 << 10

// Selector sweeps (URL x variant) until one upstream produces a usable
// response.
type Selector struct {
	Client        *http.Client
	ProbeTimeout  time.Duration
	ProbeMaxBytes int64
}

// Result is the accepted upstream response. Body is safe to consume in
// full: bytes read by the empty-stream probe are replayed ahead of the live
// stream.
type Result struct {
	Response     *http.Response
	URL          string
	VariantIndex int
	Streaming    bool
}

type outcome int

const (
	outcomeAccept outcome = iota
	outcomeRetryVariant
	outcomeNextURL
	outcomeFatal
)

// Select walks the URLs in order and, per URL, the variants in order. The
// first usable response wins; the first upstream error observed across the
// sweep is the one reported when everything is exhausted.
func (s *Selector) Select(ctx context.Context, urls []string, variants []map[string]any, headers http.Header) (*Result, error) {
	if len(urls) == 0 {
		return nil, api.Misconfiguredf("no upstream URLs configured")
	}
	if len(variants) == 0 {
		return nil, api.BadGatewayf("no request variants generated")
	}

	var firstErr error
	var sweep *multierror.Error

	for _, u := range urls {
	variantLoop:
		for i, variant := range variants {
			result, verdict, err := s.attempt(ctx, u, i, variant, headers)
			switch verdict {
			case outcomeAccept:
				log.Debug().Str("upstream_url", u).Int("variant", i).
					Bool("streaming", result.Streaming).Msg("upstream accepted")
				return result, nil
			case outcomeRetryVariant:
				sweep = multierror.Append(sweep, err)
				continue
			case outcomeNextURL:
				sweep = multierror.Append(sweep, err)
				if firstErr == nil {
					firstErr = err
				}
				break variantLoop
			case outcomeFatal:
				return nil, err
			}
		}
	}

	log.Debug().Err(sweep.ErrorOrNil()).Msg("upstream sweep exhausted")
	if firstErr != nil {
		return nil, firstErr
	}
	if err := sweep.ErrorOrNil(); err != nil {
		return nil, api.AsGatewayError(err)
	}
	return nil, api.BadGatewayf("all upstream URLs exhausted")
}

// attempt posts one variant to one URL, running the empty-stream recovery
// chain when the upstream answers with a silent event stream.
func (s *Selector) attempt(ctx context.Context, u string, index int, variant map[string]any, headers http.Header) (*Result, outcome, error) {
	resp, err := s.post(ctx, u, variant, headers, "")
	if err != nil {
		return nil, outcomeNextURL, api.BadGatewayf("upstream %s unreachable: %v", u, err)
	}

	result, verdict, aerr := s.classify(resp, u, index)
	if verdict != outcomeRetryVariant || aerr == nil || !isEmptyStream(aerr) {
		return result, verdict, aerr
	}

	// Empty event stream: retry the same body non-streaming, then with the
	// stream field removed entirely.
	for _, mutate := range []func(map[string]any) map[string]any{
		func(v map[string]any) map[string]any {
			out := deepCopy(v)
			out["stream"] = false
			return out
		},
		func(v map[string]any) map[string]any {
			return without(v, "stream")
		},
	} {
		resp, err = s.post(ctx, u, mutate(variant), headers, "application/json")
		if err != nil {
			return nil, outcomeNextURL, api.BadGatewayf("upstream %s unreachable: %v", u, err)
		}
		result, verdict, aerr = s.classify(resp, u, index)
		if verdict != outcomeRetryVariant || aerr == nil || !isEmptyStream(aerr) {
			return result, verdict, aerr
		}
	}
	return nil, outcomeRetryVariant, aerr
}

// classify applies the response decision table.
func (s *Selector) classify(resp *http.Response, u string, index int) (*Result, outcome, error) {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if isEventStream(resp.Header.Get("Content-Type")) {
			empty, replay := ProbeStream(resp.Body, s.ProbeTimeout, s.ProbeMaxBytes)
			if empty {
				return nil, outcomeRetryVariant, errEmptyStream{url: u, variant: index}
			}
			resp.Body = replay
			return &Result{Response: resp, URL: u, VariantIndex: index, Streaming: true}, outcomeAccept, nil
		}
		return &Result{Response: resp, URL: u, VariantIndex: index}, outcomeAccept, nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	resp.Body.Close()

	if RetryableBody(resp.StatusCode, body) {
		return nil, outcomeRetryVariant, api.UpstreamFailure(resp.StatusCode, body)
	}
	uerr := api.UpstreamFailure(resp.StatusCode, body)
	if HopToNextURL(resp.StatusCode) {
		return nil, outcomeNextURL, uerr
	}
	return nil, outcomeFatal, uerr
}

func (s *Selector) post(ctx context.Context, u string, body map[string]any, headers http.Header, acceptOverride string) (*http.Response, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	for k, vals := range headers {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
	if acceptOverride != "" {
		req.Header.Set("Accept", acceptOverride)
	}
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	return client.Do(req)
}

func isEventStream(contentType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "text/event-stream")
}

// errEmptyStream marks a confirmed silent event stream for one variant.
type errEmptyStream struct {
	url     string
	variant int
}

func (e errEmptyStream) Error() string {
	return fmt.Sprintf("empty sse stream from %s (variant %d)", e.url, e.variant)
}

func isEmptyStream(err error) bool {
	_, ok := err.(errEmptyStream)
	return ok
}

// ResponsesHeaders builds the header set sent with every Responses upstream
// request. The key rides in every auth header scheme seen in the wild so a
// compatibility proxy can pick whichever it honors.
func ResponsesHeaders(apiKey string, streaming bool, sessionID string) http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Authorization", "Bearer "+apiKey)
	h.Set("X-Api-Key", apiKey)
	h.Set("X-Goog-Api-Key", apiKey)
	h.Set("Openai-Beta", "responses=v1")
	if streaming {
		h.Set("Accept", "text/event-stream")
	} else {
		h.Set("Accept", "application/json")
	}
	if sessionID != "" {
		h.Set("X-Session-Id", sessionID)
	}
	return h
}
