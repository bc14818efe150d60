package upstream

import (
	"encoding/json"
	"testing"

	"github.com/ChamsBouzaiene/rsp4copilot/internal/api"
)

func intPtr(v int) *int { return &v }

func textRequest() *api.ResponsesRequest {
	return &api.ResponsesRequest{
		Model:        "gpt-test",
		Instructions: "be brief",
		Input: []api.InputItem{
			{Role: "user", Content: []api.ContentPart{{Type: "input_text", Text: "hi"}}},
		},
		MaxOutputTokens: intPtr(128),
	}
}

func TestVariantsBaseFirst(t *testing.T) {
	vs, err := Variants(textRequest(), true)
	if err != nil {
		t.Fatalf("expansion failed: %v", err)
	}
	base := vs[0]
	if base["stream"] != true {
		t.Error("base variant must carry the caller's stream choice")
	}
	if base["instructions"] != "be brief" {
		t.Error("base variant must keep instructions untouched")
	}
	if _, ok := base["max_output_tokens"]; !ok {
		t.Error("base variant must keep max_output_tokens")
	}
}

func TestVariantsMaxTokensRename(t *testing.T) {
	vs, _ := Variants(textRequest(), false)
	renamed := vs[1]
	if _, ok := renamed["max_output_tokens"]; ok {
		t.Error("renamed variant must drop max_output_tokens")
	}
	if renamed["max_tokens"] != float64(128) {
		t.Errorf("expected max_tokens 128, got %v", renamed["max_tokens"])
	}
}

func TestVariantsInstructionsInlined(t *testing.T) {
	vs, _ := Variants(textRequest(), false)
	var found bool
	for _, v := range vs {
		if _, ok := v["instructions"]; ok {
			continue
		}
		input, ok := v["input"].([]any)
		if !ok || len(input) == 0 {
			continue
		}
		first, _ := input[0].(map[string]any)
		if first["role"] == "system" {
			found = true
			break
		}
	}
	if !found {
		t.Error("expected a variant with instructions inlined as a system message")
	}
}

func TestVariantsFlatAndConcatenated(t *testing.T) {
	vs, _ := Variants(textRequest(), false)
	var flat, concat bool
	for _, v := range vs {
		input, ok := v["input"].([]any)
		if !ok {
			continue
		}
		for _, item := range input {
			m, _ := item.(map[string]any)
			if _, ok := m["content"].(string); ok {
				flat = true
			}
		}
		if len(input) == 1 {
			m, _ := input[0].(map[string]any)
			if m["role"] == "user" {
				if parts, ok := m["content"].([]any); ok && len(parts) == 1 {
					part, _ := parts[0].(map[string]any)
					if text, _ := part["text"].(string); text == "be brief\n\nhi" {
						concat = true
					}
				}
			}
		}
	}
	if !flat {
		t.Error("expected a flat-string variant for text-only input")
	}
	if !concat {
		t.Error("expected a concatenated-prompt variant")
	}
}

func TestVariantsWithToolsSkipFlattening(t *testing.T) {
	req := textRequest()
	req.Input = append(req.Input, api.InputItem{
		Type: "function_call", CallID: "c1", Name: "f", Arguments: "{}",
	})
	vs, _ := Variants(req, false)
	for _, v := range vs {
		input, ok := v["input"].([]any)
		if !ok {
			continue
		}
		for _, item := range input {
			m, _ := item.(map[string]any)
			if _, ok := m["content"].(string); ok && m["type"] == nil {
				t.Fatal("tool-carrying requests must not be flattened")
			}
		}
	}
}

func TestVariantsImageObjectForm(t *testing.T) {
	req := &api.ResponsesRequest{
		Model: "gpt-test",
		Input: []api.InputItem{
			{Role: "user", Content: []api.ContentPart{
				{Type: "input_text", Text: "what is this"},
				{Type: "input_image", ImageURL: "https://img.example/x.png"},
			}},
		},
	}
	vs, _ := Variants(req, true)
	var stringForm, objectForm bool
	for _, v := range vs {
		input := v["input"].([]any)
		parts := input[0].(map[string]any)["content"].([]any)
		for _, p := range parts {
			part := p.(map[string]any)
			if part["type"] != "input_image" {
				continue
			}
			switch part["image_url"].(type) {
			case string:
				stringForm = true
			case map[string]any:
				objectForm = true
			}
		}
	}
	if !stringForm || !objectForm {
		t.Errorf("expected both image_url shapes, got string=%v object=%v", stringForm, objectForm)
	}
}

func TestVariantsReasoningShapes(t *testing.T) {
	req := textRequest()
	req.Reasoning = &api.Reasoning{Effort: "high"}
	vs, _ := Variants(req, false)

	var objForm, strForm, removed bool
	for _, v := range vs {
		_, hasObj := v["reasoning"]
		_, hasStr := v["reasoning_effort"]
		switch {
		case hasObj && !hasStr:
			objForm = true
		case hasStr && !hasObj:
			strForm = true
		case !hasObj && !hasStr:
			removed = true
		}
	}
	if !objForm || !strForm || !removed {
		t.Errorf("expected all three reasoning shapes, got obj=%v str=%v removed=%v",
			objForm, strForm, removed)
	}
}

func TestVariantsCompatFieldsRemoved(t *testing.T) {
	req := textRequest()
	req.PromptCacheRetention = "24h"
	req.SafetyIdentifier = "abc"
	vs, _ := Variants(req, false)

	var bothGone bool
	for _, v := range vs {
		_, hasPCR := v["prompt_cache_retention"]
		_, hasSI := v["safety_identifier"]
		if !hasPCR && !hasSI {
			bothGone = true
		}
	}
	if !bothGone {
		t.Error("expected a variant with both compat fields removed")
	}
}

func TestVariantsDeduplicatedAndStable(t *testing.T) {
	first, _ := Variants(textRequest(), true)
	second, _ := Variants(textRequest(), true)
	if len(first) != len(second) {
		t.Fatalf("expansion must be stable: %d vs %d", len(first), len(second))
	}
	seen := map[string]bool{}
	for i, v := range first {
		key, _ := json.Marshal(v)
		if seen[string(key)] {
			t.Errorf("duplicate variant at index %d", i)
		}
		seen[string(key)] = true

		other, _ := json.Marshal(second[i])
		if string(key) != string(other) {
			t.Errorf("variant order differs at index %d", i)
		}
	}
}
