package upstream

import (
	"encoding/json"
	"strings"

	"github.com/spf13/cast"

	"github.com/ChamsBouzaiene/rsp4copilot/internal/api"
)

// Variants expands a canonical request into the ordered, deduplicated list
// of equivalent bodies tried against each upstream URL. Earlier variants are
// preferred; the expansion tolerates upstreams that disagree on field names,
// system-message placement, content shape, and reasoning syntax.
func Variants(req *api.ResponsesRequest, stream bool) ([]map[string]any, error) {
	base, err := req.ToMap()
	if err != nil {
		return nil, err
	}
	base["stream"] = stream

	vs := []map[string]any{base}

	if _, ok := base["max_output_tokens"]; ok {
		vs = append(vs, renameMaxTokens(base))
	}

	if cast.ToString(base["instructions"]) != "" {
		if _, ok := base["input"].([]any); ok {
			for _, v := range snapshot(vs) {
				vs = append(vs, inlineInstructions(v))
			}
		}
	}

	if !hasImageParts(base) && !hasToolItems(base) {
		for _, v := range snapshot(vs) {
			vs = append(vs, flattenInput(v))
		}
		vs = append(vs, concatenatedPrompt(base))
	}

	for _, v := range snapshot(vs) {
		if hasImageParts(v) {
			vs = append(vs, objectImageURLs(v))
		}
	}

	for _, v := range snapshot(vs) {
		effort := reasoningEffort(v)
		if effort == "" {
			continue
		}
		vs = append(vs,
			withReasoningObject(v, effort),
			withReasoningEffortString(v, effort),
			withoutReasoning(v),
		)
	}

	for _, v := range snapshot(vs) {
		_, hasPCR := v["prompt_cache_retention"]
		_, hasSI := v["safety_identifier"]
		if hasPCR {
			vs = append(vs, without(v, "prompt_cache_retention"))
		}
		if hasSI {
			vs = append(vs, without(v, "safety_identifier"))
		}
		if hasPCR && hasSI {
			vs = append(vs, without(without(v, "prompt_cache_retention"), "safety_identifier"))
		}
	}

	return dedupe(vs), nil
}

func snapshot(vs []map[string]any) []map[string]any {
	return append([]map[string]any(nil), vs...)
}

func renameMaxTokens(v map[string]any) map[string]any {
	out := deepCopy(v)
	out["max_tokens"] = out["max_output_tokens"]
	delete(out, "max_output_tokens")
	return out
}

// inlineInstructions moves instructions into a leading system message.
func inlineInstructions(v map[string]any) map[string]any {
	out := deepCopy(v)
	instructions := cast.ToString(out["instructions"])
	input, ok := out["input"].([]any)
	if instructions == "" || !ok {
		return out
	}
	delete(out, "instructions")
	system := map[string]any{
		"role": "system",
		"content": []any{
			map[string]any{"type": "input_text", "text": instructions},
		},
	}
	out["input"] = append([]any{system}, input...)
	return out
}

// flattenInput rewrites every message's content list into a plain string.
func flattenInput(v map[string]any) map[string]any {
	out := deepCopy(v)
	input, ok := out["input"].([]any)
	if !ok {
		return out
	}
	flat := make([]any, 0, len(input))
	for _, item := range input {
		m, ok := item.(map[string]any)
		if !ok {
			flat = append(flat, item)
			continue
		}
		role := cast.ToString(m["role"])
		if role == "" {
			flat = append(flat, item)
			continue
		}
		flat = append(flat, map[string]any{"role": role, "content": itemText(m)})
	}
	out["input"] = flat
	return out
}

// concatenatedPrompt folds the whole conversation into one user message.
func concatenatedPrompt(v map[string]any) map[string]any {
	out := deepCopy(v)
	var segments []string
	if instructions := cast.ToString(out["instructions"]); instructions != "" {
		segments = append(segments, instructions)
		delete(out, "instructions")
	}
	if input, ok := out["input"].([]any); ok {
		for _, item := range input {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if text := itemText(m); text != "" {
				segments = append(segments, text)
			}
		}
	}
	out["input"] = []any{map[string]any{
		"role": "user",
		"content": []any{
			map[string]any{"type": "input_text", "text": strings.Join(segments, "\n\n")},
		},
	}}
	return out
}

// objectImageURLs rewrites string-form image_url fields into {url: ...}.
func objectImageURLs(v map[string]any) map[string]any {
	out := deepCopy(v)
	input, ok := out["input"].([]any)
	if !ok {
		return out
	}
	for _, item := range input {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		parts, ok := m["content"].([]any)
		if !ok {
			continue
		}
		for _, p := range parts {
			part, ok := p.(map[string]any)
			if !ok || part["type"] != "input_image" {
				continue
			}
			if u, ok := part["image_url"].(string); ok {
				part["image_url"] = map[string]any{"url": u}
			}
		}
	}
	return out
}

func reasoningEffort(v map[string]any) string {
	if r, ok := v["reasoning"].(map[string]any); ok {
		if effort := cast.ToString(r["effort"]); effort != "" {
			return effort
		}
	}
	return cast.ToString(v["reasoning_effort"])
}

func withReasoningObject(v map[string]any, effort string) map[string]any {
	out := deepCopy(v)
	delete(out, "reasoning_effort")
	out["reasoning"] = map[string]any{"effort": effort}
	return out
}

func withReasoningEffortString(v map[string]any, effort string) map[string]any {
	out := deepCopy(v)
	delete(out, "reasoning")
	out["reasoning_effort"] = effort
	return out
}

func withoutReasoning(v map[string]any) map[string]any {
	out := deepCopy(v)
	delete(out, "reasoning")
	delete(out, "reasoning_effort")
	return out
}

func without(v map[string]any, key string) map[string]any {
	out := deepCopy(v)
	delete(out, key)
	return out
}

func hasImageParts(v map[string]any) bool {
	input, ok := v["input"].([]any)
	if !ok {
		return false
	}
	for _, item := range input {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		parts, ok := m["content"].([]any)
		if !ok {
			continue
		}
		for _, p := range parts {
			if part, ok := p.(map[string]any); ok && part["type"] == "input_image" {
				return true
			}
		}
	}
	return false
}

func hasToolItems(v map[string]any) bool {
	input, ok := v["input"].([]any)
	if !ok {
		return false
	}
	for _, item := range input {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		switch m["type"] {
		case "function_call", "function_call_output":
			return true
		}
	}
	return false
}

// itemText flattens a message item's content into plain text.
func itemText(item map[string]any) string {
	switch content := item["content"].(type) {
	case string:
		return content
	case []any:
		var out strings.Builder
		for _, p := range content {
			part, ok := p.(map[string]any)
			if !ok {
				continue
			}
			switch part["type"] {
			case "input_text", "text", nil:
				out.WriteString(cast.ToString(part["text"]))
			}
		}
		return out.String()
	}
	return ""
}

// dedupe removes structural duplicates; json.Marshal orders map keys, so the
// rendered form is a stable structural fingerprint.
func dedupe(vs []map[string]any) []map[string]any {
	out := make([]map[string]any, 0, len(vs))
	seen := map[string]bool{}
	for _, v := range vs {
		key, err := json.Marshal(v)
		if err != nil {
			continue
		}
		if !seen[string(key)] {
			seen[string(key)] = true
			out = append(out, v)
		}
	}
	return out
}

func deepCopy(v map[string]any) map[string]any {
	raw, err := json.Marshal(v)
	if err != nil {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{}
	}
	return out
}
