package convert

import (
	"strings"

	"github.com/spf13/cast"
)

// Keywords Gemini's Schema dialect rejects outright.
var droppedSchemaKeys = map[string]bool{
	"$id":                  true,
	"$schema":              true,
	"title":                true,
	"examples":             true,
	"default":              true,
	"additionalProperties": true,
	"definitions":          true,
	"$defs":                true,
}

// GeminiSchema rewrites a JSON schema for tool parameters into Gemini's
// Schema form: types uppercased, $ref resolved against the root, allOf
// shallow-merged, null unions turned into nullable, rejected keywords
// dropped.
func GeminiSchema(schema map[string]any) map[string]any {
	if schema == nil {
		return nil
	}
	return rewriteSchema(schema, schema, map[string]bool{})
}

func rewriteSchema(node, root map[string]any, seen map[string]bool) map[string]any {
	if ref, ok := node["$ref"].(string); ok {
		if seen[ref] {
			return map[string]any{}
		}
		target := resolveRef(root, ref)
		if target == nil {
			return map[string]any{}
		}
		seen[ref] = true
		out := rewriteSchema(target, root, seen)
		delete(seen, ref)
		return out
	}

	out := map[string]any{}
	for k, v := range node {
		if droppedSchemaKeys[k] {
			continue
		}
		switch k {
		case "type":
			applyType(out, v)
		case "properties":
			if props, ok := v.(map[string]any); ok {
				rewritten := map[string]any{}
				for name, sub := range props {
					if subMap, ok := sub.(map[string]any); ok {
						rewritten[name] = rewriteSchema(subMap, root, seen)
					}
				}
				out[k] = rewritten
			}
		case "items":
			switch items := v.(type) {
			case map[string]any:
				out[k] = rewriteSchema(items, root, seen)
			case []any:
				// Gemini takes a single item schema; tuples collapse to
				// their first entry.
				if len(items) > 0 {
					if first, ok := items[0].(map[string]any); ok {
						out[k] = rewriteSchema(first, root, seen)
					}
				}
			}
		case "anyOf", "oneOf":
			applyUnion(out, v, root, seen)
		case "allOf":
			entries, ok := v.([]any)
			if !ok {
				continue
			}
			for _, entry := range entries {
				sub, ok := entry.(map[string]any)
				if !ok {
					continue
				}
				for mk, mv := range rewriteSchema(sub, root, seen) {
					if _, exists := out[mk]; !exists {
						out[mk] = mv
					}
				}
			}
		default:
			out[k] = v
		}
	}
	return out
}

// applyType uppercases a scalar type; array types collapse to their first
// non-null member with nullable set.
func applyType(out map[string]any, v any) {
	switch t := v.(type) {
	case string:
		if t == "null" {
			out["nullable"] = true
			return
		}
		out["type"] = strings.ToUpper(t)
	case []any:
		for _, entry := range t {
			s := cast.ToString(entry)
			if s == "null" {
				out["nullable"] = true
				continue
			}
			if _, exists := out["type"]; !exists && s != "" {
				out["type"] = strings.ToUpper(s)
			}
		}
	}
}

// applyUnion folds anyOf/oneOf into the parent: a {type:"null"} member sets
// nullable, a single remaining member is inlined, several are kept as anyOf.
func applyUnion(out map[string]any, v any, root map[string]any, seen map[string]bool) {
	entries, ok := v.([]any)
	if !ok {
		return
	}
	var members []map[string]any
	for _, entry := range entries {
		sub, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		if sub["type"] == "null" {
			out["nullable"] = true
			continue
		}
		members = append(members, rewriteSchema(sub, root, seen))
	}
	switch len(members) {
	case 0:
	case 1:
		for mk, mv := range members[0] {
			if _, exists := out[mk]; !exists {
				out[mk] = mv
			}
		}
	default:
		list := make([]any, len(members))
		for i, m := range members {
			list[i] = m
		}
		out["anyOf"] = list
	}
}

// resolveRef walks a local "#/path/to/node" pointer against the root schema.
func resolveRef(root map[string]any, ref string) map[string]any {
	if !strings.HasPrefix(ref, "#") {
		return nil
	}
	node := any(root)
	for _, step := range strings.Split(strings.TrimPrefix(ref, "#"), "/") {
		if step == "" {
			continue
		}
		m, ok := node.(map[string]any)
		if !ok {
			return nil
		}
		node = m[step]
	}
	out, _ := node.(map[string]any)
	return out
}
