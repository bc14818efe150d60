// Package upstream generates candidate endpoint URLs and request-body
// variants, and selects the first upstream that produces a usable response.
package upstream

import (
	"net/url"
	"strings"
)

// maxCollapsePasses bounds the path normalization loop.
const maxCollapsePasses = 6

// BuildResponsesURLs resolves the configured bases into the ordered,
// deduplicated list of OpenAI Responses endpoints to try. configuredPath,
// when set, overrides path inference for every base.
func BuildResponsesURLs(bases []string, configuredPath string) []string {
	return buildEndpointURLs(bases, configuredPath, "responses", []string{"/v1", "/openai/v1"})
}

// BuildMessagesURLs resolves bases into Anthropic Messages endpoints.
func BuildMessagesURLs(bases []string, configuredPath string) []string {
	return buildEndpointURLs(bases, configuredPath, "messages", []string{"/v1"})
}

func buildEndpointURLs(bases []string, configuredPath, leaf string, v1Suffixes []string) []string {
	var out []string
	seen := map[string]bool{}
	add := func(candidate string) {
		candidate = CollapsePath(candidate)
		if candidate == "" || strings.Contains(candidate, "/v1/v1/"+leaf) {
			return
		}
		if !seen[candidate] {
			seen[candidate] = true
			out = append(out, candidate)
		}
	}

	for _, base := range bases {
		base = normalizeBase(base)
		if base == "" {
			continue
		}

		// A base that already names the endpoint is taken as-is.
		if strings.HasSuffix(strings.TrimRight(base, "/"), "/"+leaf) {
			add(strings.TrimRight(base, "/"))
			continue
		}

		if configuredPath != "" {
			add(base + "/" + strings.TrimLeft(configuredPath, "/"))
			continue
		}

		// Inferred candidate first, then the common fallbacks.
		trimmed := strings.TrimRight(base, "/")
		endsInV1 := false
		for _, suffix := range v1Suffixes {
			if strings.HasSuffix(trimmed, suffix) {
				endsInV1 = true
				break
			}
		}
		if endsInV1 {
			add(trimmed + "/" + leaf)
		} else {
			add(trimmed + "/v1/" + leaf)
		}
		add(trimmed + "/v1/" + leaf)
		add(trimmed + "/" + leaf)
	}
	return out
}

// normalizeBase applies the default scheme and rejects degenerate values.
func normalizeBase(base string) string {
	base = strings.TrimSpace(base)
	if base == "" || base == "http" || base == "https" {
		return ""
	}
	if !strings.Contains(base, "://") {
		base = "https://" + base
	}
	u, err := url.Parse(base)
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.TrimRight(base, "/")
}

// CollapsePath squashes duplicate slashes and repeated /v1 segments in the
// path portion of a URL, iterating to a fixed point.
func CollapsePath(raw string) string {
	scheme := ""
	rest := raw
	if i := strings.Index(raw, "://"); i >= 0 {
		scheme = raw[:i+3]
		rest = raw[i+3:]
	}
	host := rest
	path := ""
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		host = rest[:i]
		path = rest[i:]
	}
	for pass := 0; pass < maxCollapsePasses; pass++ {
		next := strings.ReplaceAll(path, "//", "/")
		next = strings.ReplaceAll(next, "/v1/v1", "/v1")
		if next == path {
			break
		}
		path = next
	}
	return scheme + host + path
}
