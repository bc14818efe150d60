package server

import (
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ChamsBouzaiene/rsp4copilot/internal/gateway"
)

type modelEntry struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// handleModels lists the configured catalog in the OpenAI shape. A name
// offered by more than one provider is disambiguated as <provider>.<name>;
// unique names stay bare.
func (s *Server) handleModels(c *gin.Context) {
	byProvider := map[gateway.Provider][]string{}
	add := func(p gateway.Provider, names ...string) {
		for _, n := range names {
			if n != "" {
				byProvider[p] = append(byProvider[p], n)
			}
		}
	}

	for _, n := range append(append([]string{}, s.cfg.Models...), s.cfg.AdapterModels...) {
		if n == "" {
			continue
		}
		p, name := gateway.ResolveModel(n)
		add(p, name)
	}
	add(gateway.ProviderOpenAI, s.cfg.DefaultModel)
	if s.gw.GeminiAvailable() {
		add(gateway.ProviderGemini, s.cfg.GeminiDefaultModel)
	}
	if s.gw.ClaudeAvailable() {
		add(gateway.ProviderClaude, s.cfg.ClaudeDefaultModel)
	}

	owners := map[string]map[gateway.Provider]bool{}
	for p, names := range byProvider {
		for _, n := range names {
			if owners[n] == nil {
				owners[n] = map[gateway.Provider]bool{}
			}
			owners[n][p] = true
		}
	}

	now := time.Now().Unix()
	seen := map[string]bool{}
	var data []modelEntry
	for p, names := range byProvider {
		for _, n := range names {
			id := n
			if len(owners[n]) > 1 {
				id = string(p) + "." + n
			}
			if seen[id] {
				continue
			}
			seen[id] = true
			data = append(data, modelEntry{ID: id, Object: "model", Created: now, OwnedBy: string(p)})
		}
	}
	sort.Slice(data, func(i, j int) bool { return data[i].ID < data[j].ID })

	c.JSON(http.StatusOK, gin.H{"object": "list", "data": data})
}
