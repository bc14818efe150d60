package gateway

import (
	"github.com/ChamsBouzaiene/rsp4copilot/internal/api"
	"github.com/ChamsBouzaiene/rsp4copilot/internal/session"
)

// firstUserText returns the opening user message text, used to fingerprint
// sessions that carry no explicit id.
func firstUserText(items []api.InputItem) string {
	for _, it := range items {
		if !it.IsMessage() || it.Role != "user" {
			continue
		}
		for _, part := range it.Content {
			if part.Text != "" {
				return part.Text
			}
		}
	}
	return ""
}

// applyCachedSignatures restores cached thought signatures onto replayed
// function_call items. When a previous response id will carry the turn's
// context upstream, a call whose output is also present and for which no
// signature is known is dropped: the upstream already holds it and a bare
// replay without the signature is rejected by reasoning models.
func applyCachedSignatures(items []api.InputItem, sigs map[string]session.SignatureRecord, havePrev bool) []api.InputItem {
	outputs := map[string]bool{}
	for _, it := range items {
		if it.Type == "function_call_output" {
			outputs[api.NormalizeCallID(it.CallID)] = true
		}
	}

	out := make([]api.InputItem, 0, len(items))
	for _, it := range items {
		if it.Type != "function_call" {
			out = append(out, it)
			continue
		}
		callID := api.NormalizeCallID(it.CallID)
		if rec, ok := sigs[callID]; ok && it.ThoughtSignature == "" {
			it.ThoughtSignature = rec.ThoughtSignature
			if it.Thought == "" {
				it.Thought = rec.Thought
			}
		}
		if havePrev && it.ThoughtSignature == "" && outputs[callID] {
			continue
		}
		out = append(out, it)
	}
	return out
}

// deltaInput returns the tail of the conversation that follows the last
// assistant message: what the upstream has not seen under the previous
// response id.
func deltaInput(items []api.InputItem) []api.InputItem {
	last := -1
	for i, it := range items {
		if it.IsMessage() && it.Role == "assistant" {
			last = i
		}
	}
	if last < 0 {
		return items
	}
	tail := items[last+1:]
	if len(tail) == 0 {
		// Nothing after the assistant turn; resend the final item so the
		// request is never empty.
		tail = items[last:]
	}
	// Deltas always ride on a previous response id, so outputs whose call
	// lives upstream stay in.
	return dropUnpairedToolItems(tail, true)
}

// trimInput enforces the turn, message, and character budgets on a full
// history. System-role messages and the final user message always survive;
// everything else drops oldest-first.
func trimInput(items []api.InputItem, maxTurns, maxMessages, maxChars int, anchored bool) []api.InputItem {
	if len(items) == 0 {
		return items
	}

	lastUser := -1
	for i, it := range items {
		if it.IsMessage() && it.Role == "user" {
			lastUser = i
		}
	}

	protected := func(i int) bool {
		it := items[i]
		if it.IsMessage() && (it.Role == "system" || it.Role == "developer") {
			return true
		}
		return i == lastUser
	}

	keep := make([]bool, len(items))
	for i := range keep {
		keep[i] = true
	}
	kept := len(items)
	turns := 0
	chars := 0
	for _, it := range items {
		if it.IsMessage() && it.Role == "user" {
			turns++
		}
		chars += itemChars(it)
	}

	overBudget := func() bool {
		return (maxTurns > 0 && turns > maxTurns) ||
			(maxMessages > 0 && kept > maxMessages) ||
			(maxChars > 0 && chars > maxChars)
	}

	for i := 0; i < len(items) && overBudget(); i++ {
		if !keep[i] || protected(i) {
			continue
		}
		keep[i] = false
		kept--
		chars -= itemChars(items[i])
		if items[i].IsMessage() && items[i].Role == "user" {
			turns--
		}
	}

	out := make([]api.InputItem, 0, kept)
	for i, it := range items {
		if keep[i] {
			out = append(out, it)
		}
	}
	return dropUnpairedToolItems(out, anchored)
}

// dropUnpairedToolItems removes function_call items whose output was trimmed
// away, and function_call_output items whose call was, so the upstream never
// sees a half of a tool exchange. With anchored set, an output without a
// local call survives: its call is already held upstream under the previous
// response id (the signature-less drop leaves exactly this shape).
func dropUnpairedToolItems(items []api.InputItem, anchored bool) []api.InputItem {
	calls := map[string]bool{}
	outputs := map[string]bool{}
	for _, it := range items {
		switch it.Type {
		case "function_call":
			calls[api.NormalizeCallID(it.CallID)] = true
		case "function_call_output":
			outputs[api.NormalizeCallID(it.CallID)] = true
		}
	}

	out := make([]api.InputItem, 0, len(items))
	for _, it := range items {
		switch it.Type {
		case "function_call":
			if !outputs[api.NormalizeCallID(it.CallID)] {
				continue
			}
		case "function_call_output":
			if !anchored && !calls[api.NormalizeCallID(it.CallID)] {
				continue
			}
		}
		out = append(out, it)
	}
	return out
}

func itemChars(it api.InputItem) int {
	n := len(it.Arguments) + len(it.Output) + len(it.Thought)
	for _, part := range it.Content {
		n += len(part.Text)
	}
	return n
}
