package gateway

import "strings"

// Provider identifies which upstream serves a given model.
type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderGemini Provider = "gemini"
	ProviderClaude Provider = "claude"
)

// ResolveModel routes a model name to its provider. An explicit
// "<provider>." prefix wins; otherwise the model family name decides.
// The returned name is what goes upstream, with routing prefixes removed.
func ResolveModel(model string) (Provider, string) {
	name := strings.TrimPrefix(model, "models/")

	lower := strings.ToLower(name)
	for _, p := range []Provider{ProviderOpenAI, ProviderGemini, ProviderClaude} {
		if strings.HasPrefix(lower, string(p)+".") {
			return p, name[len(p)+1:]
		}
	}

	switch {
	case strings.HasPrefix(lower, "gemini") || strings.HasPrefix(lower, "gemma"):
		return ProviderGemini, name
	case strings.HasPrefix(lower, "claude"):
		return ProviderClaude, name
	}
	return ProviderOpenAI, name
}
