// Package translate consumes upstream Responses streams and re-emits them
// in the dialect the client requested.
package translate

import (
	"strings"
	"unicode/utf8"

	"github.com/ChamsBouzaiene/rsp4copilot/internal/api"
)

// Meta is the response identity captured from response.created, shared with
// every emitter.
type Meta struct {
	ResponseID string
	ChatID     string
	Model      string
	CreatedAt  int64
}

// ToolCall is one assembled tool invocation.
type ToolCall struct {
	CallID           string
	Name             string
	Arguments        string
	OutputIndex      int
	ThoughtSignature string
	Thought          string
}

// ArgumentsJSON returns the arguments as a guaranteed-valid JSON string.
func (tc ToolCall) ArgumentsJSON() string {
	return ensureJSONObject(tc.Arguments)
}

// state accumulates one translation: text, reasoning, and tool calls keyed
// by call id, with an index fallback for upstreams that only name the
// output index in later events.
type state struct {
	meta Meta

	text          strings.Builder
	textPending   string // incomplete UTF-8 tail held back from emission
	textEmitted   bool   // any delta reached the client
	reasoning     strings.Builder
	reasoningPend string

	calls     map[string]*ToolCall
	callOrder []string
	indexToID map[int]string
	nextIndex int

	finishHint string
	usage      *api.ResponsesUsage
	failed     bool
}

func newState() *state {
	return &state{
		calls:     map[string]*ToolCall{},
		indexToID: map[int]string{},
	}
}

// captureMeta fills identity fields from response.created (or whatever event
// first carries them).
func (s *state) captureMeta(resp *api.ResponseObject) {
	if resp == nil {
		return
	}
	if resp.ID != "" && s.meta.ResponseID == "" {
		s.meta.ResponseID = resp.ID
		s.meta.ChatID = api.ChatIDFor(resp.ID)
	}
	if resp.Model != "" {
		s.meta.Model = resp.Model
	}
	if resp.CreatedAt != 0 {
		s.meta.CreatedAt = resp.CreatedAt
	}
}

// textDelta appends a chunk and returns the emission-safe portion: a rune
// split across two upstream events is held back until its remaining bytes
// arrive.
func (s *state) textDelta(chunk string) string {
	s.text.WriteString(chunk)
	s.textEmitted = true
	whole := s.textPending + chunk
	valid, rest := splitIncompleteRune(whole)
	s.textPending = rest
	return valid
}

// textDone resolves the done-event text: when no delta was ever emitted the
// full text becomes the sole chunk, otherwise the deltas already covered it.
func (s *state) textDone(full string) string {
	if s.textEmitted || full == "" {
		return ""
	}
	s.text.WriteString(full)
	s.textEmitted = true
	return full
}

// reasoningDelta reconciles a chunk against upstreams that send cumulative
// strings instead of deltas: a chunk extending what we hold emits only the
// suffix, a chunk we already hold (client restart) emits nothing, anything
// else appends.
func (s *state) reasoningDelta(chunk string) string {
	soFar := s.reasoning.String()
	switch {
	case chunk == "":
		return ""
	case strings.HasPrefix(chunk, soFar):
		suffix := chunk[len(soFar):]
		s.reasoning.Reset()
		s.reasoning.WriteString(chunk)
		return s.safeReasoning(suffix)
	case strings.HasPrefix(soFar, chunk):
		return ""
	default:
		s.reasoning.WriteString(chunk)
		return s.safeReasoning(chunk)
	}
}

func (s *state) safeReasoning(chunk string) string {
	whole := s.reasoningPend + chunk
	valid, rest := splitIncompleteRune(whole)
	s.reasoningPend = rest
	return valid
}

// callKey resolves the record key for an event that may carry any of
// call_id, item_id, or only an output index.
func (s *state) callKey(callID, itemID string, outputIndex *int) string {
	if callID != "" {
		return api.NormalizeCallID(callID)
	}
	if itemID != "" {
		return api.NormalizeCallID(itemID)
	}
	if outputIndex != nil {
		if id, ok := s.indexToID[*outputIndex]; ok {
			return id
		}
		return ""
	}
	return ""
}

// upsertDelta appends an argument fragment to the call record, creating it
// on first sight. Returns the record and whether its name became known now.
func (s *state) upsertDelta(key, name, fragment string, outputIndex *int) (*ToolCall, bool) {
	tc, nameNew := s.ensure(key, name, outputIndex)
	tc.Arguments += fragment
	return tc, nameNew
}

// upsertFull installs a complete argument value: a value extending the
// current accumulation wins (it is the full form), anything else replaces.
// The returned suffix is what remains unemitted for delta-mode clients.
func (s *state) upsertFull(key, name, args string, outputIndex *int) (tc *ToolCall, nameNew bool, suffix string) {
	tc, nameNew = s.ensure(key, name, outputIndex)
	if args == "" {
		return tc, nameNew, ""
	}
	if strings.HasPrefix(args, tc.Arguments) {
		suffix = args[len(tc.Arguments):]
		tc.Arguments = args
		return tc, nameNew, suffix
	}
	tc.Arguments = args
	return tc, nameNew, ""
}

func (s *state) ensure(key, name string, outputIndex *int) (*ToolCall, bool) {
	if key == "" {
		key = api.NewID(api.IDPrefixCall)
	}
	tc, ok := s.calls[key]
	if !ok {
		tc = &ToolCall{CallID: key, OutputIndex: s.nextIndex}
		s.nextIndex++
		s.calls[key] = tc
		s.callOrder = append(s.callOrder, key)
	}
	if outputIndex != nil {
		s.indexToID[*outputIndex] = key
	}
	nameNew := false
	if name != "" && tc.Name == "" {
		tc.Name = name
		nameNew = true
	}
	return tc, nameNew
}

// toolCalls returns the assembled calls in first-seen order.
func (s *state) toolCalls() []ToolCall {
	out := make([]ToolCall, 0, len(s.callOrder))
	for _, key := range s.callOrder {
		out = append(out, *s.calls[key])
	}
	return out
}

// harvestMetaOnly picks up identity, usage, and late thought signatures from
// the terminal response without re-ingesting content the deltas already
// delivered.
func (s *state) harvestMetaOnly(resp *api.ResponseObject) {
	if resp == nil {
		return
	}
	s.captureMeta(resp)
	if resp.Usage != nil {
		s.usage = resp.Usage
	}
	for _, item := range resp.Output {
		if item.Type != "function_call" || item.ThoughtSignature == "" {
			continue
		}
		key := s.callKey(item.CallID, item.ID, nil)
		if tc, ok := s.calls[key]; ok {
			tc.ThoughtSignature = item.ThoughtSignature
		}
	}
}

// harvest pulls text and tool calls out of a complete response object when
// the stream never delivered them as deltas.
func (s *state) harvest(resp *api.ResponseObject) (text string) {
	if resp == nil {
		return ""
	}
	s.captureMeta(resp)
	if resp.Usage != nil {
		s.usage = resp.Usage
	}
	for _, item := range resp.Output {
		switch item.Type {
		case "message":
			for _, c := range item.Content {
				switch c.Type {
				case "output_text", "text", "refusal":
					text += c.Text
				}
			}
		case "function_call":
			key := s.callKey(item.CallID, item.ID, nil)
			tc, _, _ := s.upsertFull(key, item.Name, item.Arguments, nil)
			if item.ThoughtSignature != "" {
				tc.ThoughtSignature = item.ThoughtSignature
			}
		case "reasoning":
			for _, c := range item.Summary {
				s.reasoningDelta(c.Text)
			}
		}
	}
	return text
}

// finishReason derives the terminal finish_reason: tool calls always win
// over the upstream hint.
func (s *state) finishReason() string {
	if len(s.callOrder) > 0 {
		return "tool_calls"
	}
	if s.finishHint != "" {
		return s.finishHint
	}
	return "stop"
}

// splitIncompleteRune cuts a string before a trailing incomplete UTF-8
// sequence so emitted chunks never split a rune. Invalid bytes that are not
// a truncated sequence pass through untouched.
func splitIncompleteRune(s string) (valid, rest string) {
	n := len(s)
	for i := n - 1; i >= 0 && n-i < utf8.UTFMax; i-- {
		b := s[i]
		if !utf8.RuneStart(b) {
			continue
		}
		var need int
		switch {
		case b < 0x80:
			need = 1
		case b&0xE0 == 0xC0:
			need = 2
		case b&0xF0 == 0xE0:
			need = 3
		case b&0xF8 == 0xF0:
			need = 4
		default:
			return s, ""
		}
		if n-i < need {
			return s[:i], s[i:]
		}
		return s, ""
	}
	return s, ""
}
