package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"github.com/rs/zerolog/log"

	"github.com/ChamsBouzaiene/rsp4copilot/internal/api"
	"github.com/ChamsBouzaiene/rsp4copilot/internal/session"
	"github.com/ChamsBouzaiene/rsp4copilot/internal/sse"
)

// ToolDelta is one incremental tool-call fragment handed to an emitter.
type ToolDelta struct {
	CallID    string
	Index     int    // stable per call id, first-seen order
	Name      string // set only on the event where the name became known
	Arguments string // fragment not yet emitted; may be empty
}

// Final is the terminal translation result handed to an emitter exactly
// once.
type Final struct {
	FinishReason string
	Text         string
	Reasoning    string
	ToolCalls    []ToolCall
	Usage        *api.ResponsesUsage
	Failed       bool
}

// Emitter renders translation progress in one client dialect. Calls arrive
// on a single goroutine in stream order; Finish is always last and always
// called.
type Emitter interface {
	Start(m *Meta) error
	TextDelta(m *Meta, delta string) error
	ReasoningDelta(m *Meta, delta string) error
	ToolDelta(m *Meta, d ToolDelta) error
	Finish(m *Meta, fin Final) error
}

// Outcome is what the orchestrator needs after a translation: the new
// response id for the session store and any thought signatures to cache.
type Outcome struct {
	ResponseID   string
	Model        string
	FinishReason string
	Text         string
	Reasoning    string
	ToolCalls    []ToolCall
	Usage        *api.ResponsesUsage
	Signatures   map[string]session.SignatureRecord
}

// Options tune one translation run.
type Options struct {
	// MaxBufferedBytes aborts the run when the upstream body exceeds it;
	// zero disables the guard. Set for non-streaming client requests only.
	MaxBufferedBytes int64
	// Model overrides the reported model name when the upstream omits it.
	Model string
}

// Run consumes an upstream Responses body (SSE or a bare JSON document) and
// drives the emitter. A nil emitter collects silently; non-streaming callers
// build their complete response from the Outcome.
func Run(ctx context.Context, body io.Reader, emitter Emitter, opts Options) (*Outcome, error) {
	t := &translator{
		state:   newState(),
		emitter: emitter,
	}
	t.state.meta.Model = opts.Model

	var parser sse.Parser
	var raw bytes.Buffer
	var total int64
	chunk := make([]byte, 16<<10)

	for {
		if err := ctx.Err(); err != nil {
			return t.finish() // client gone; finalize with what we have
		}
		n, err := body.Read(chunk)
		if n > 0 {
			total += int64(n)
			if opts.MaxBufferedBytes > 0 && total > opts.MaxBufferedBytes {
				return nil, api.BadGatewayf(
					"upstream response exceeds %d buffered bytes; retry with stream:true",
					opts.MaxBufferedBytes)
			}
			if !t.sawData {
				raw.Write(chunk[:n])
			}
			for _, ev := range parser.Push(chunk[:n]) {
				if done := t.handle(ev); done {
					return t.finish()
				}
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			// Mid-stream transport failure: finalize the partial stream.
			log.Debug().Err(err).Msg("upstream stream failed mid-flight")
			return t.finish()
		}
	}
	for _, ev := range parser.Finish() {
		if done := t.handle(ev); done {
			return t.finish()
		}
	}

	if !t.sawData {
		t.fallback(raw.Bytes())
	}
	return t.finish()
}

type translator struct {
	state    *state
	emitter  Emitter
	sawData  bool
	started  bool
	finished bool
	emitErr  error
}

// handle dispatches one SSE event; true means the stream is over.
func (t *translator) handle(ev sse.Event) bool {
	data := strings.TrimSpace(ev.Data)
	if data == "" {
		return false
	}
	t.sawData = true
	if data == "[DONE]" {
		return true
	}

	event, err := api.ParseStreamEvent([]byte(data))
	if err != nil {
		log.Debug().Str("data", truncate(data, 200)).Msg("unparseable upstream event")
		return false
	}
	if event.Type == "" {
		event.Type = ev.Event
	}

	switch event.Type {
	case "response.created", "response.in_progress":
		t.state.captureMeta(event.Response)
		t.start()

	case "response.output_text.delta", "response.refusal.delta":
		t.start()
		if delta := t.state.textDelta(event.DeltaText()); delta != "" {
			t.emit(func(e Emitter, m *Meta) error { return e.TextDelta(m, delta) })
		}

	case "response.output_text.done", "response.refusal.done":
		t.start()
		if whole := t.state.textDone(event.DoneText()); whole != "" {
			t.emit(func(e Emitter, m *Meta) error { return e.TextDelta(m, whole) })
		}

	case "response.reasoning.delta", "response.reasoning_summary.delta",
		"response.reasoning_text.delta", "response.reasoning_summary_text.delta":
		t.start()
		if delta := t.state.reasoningDelta(event.DeltaText()); delta != "" {
			t.emit(func(e Emitter, m *Meta) error { return e.ReasoningDelta(m, delta) })
		}

	case "response.function_call_arguments.delta":
		t.start()
		key := t.state.callKey(event.CallID, event.ItemID, event.OutputIndex)
		tc, nameNew := t.state.upsertDelta(key, event.Name, event.DeltaText(), event.OutputIndex)
		t.emitTool(tc, nameNew, event.DeltaText())

	case "response.function_call_arguments.done", "response.function_call.done":
		t.start()
		key := t.state.callKey(event.CallID, event.ItemID, event.OutputIndex)
		args := event.Arguments
		if args == "" {
			args = event.DeltaText()
		}
		tc, nameNew, suffix := t.state.upsertFull(key, event.Name, args, event.OutputIndex)
		t.emitTool(tc, nameNew, suffix)

	case "response.output_item.added", "response.output_item.done":
		item := event.Item
		if item == nil || item.Type != "function_call" {
			return false
		}
		t.start()
		key := t.state.callKey(item.CallID, item.ID, event.OutputIndex)
		tc, nameNew, suffix := t.state.upsertFull(key, item.Name, item.Arguments, event.OutputIndex)
		if item.ThoughtSignature != "" {
			tc.ThoughtSignature = item.ThoughtSignature
		}
		t.emitTool(tc, nameNew, suffix)

	case "response.completed", "response.incomplete":
		if event.Type == "response.incomplete" {
			t.state.finishHint = "length"
		}
		if !t.state.textEmitted {
			before := len(t.state.callOrder)
			text := t.state.harvest(event.Response)
			t.start()
			if text != "" {
				if chunk := t.state.textDelta(text); chunk != "" {
					t.emit(func(e Emitter, m *Meta) error { return e.TextDelta(m, chunk) })
				}
			}
			// Calls that only ever appeared in the final output still need
			// delta framing for streaming clients.
			for _, key := range t.state.callOrder[before:] {
				tc := t.state.calls[key]
				t.emit(func(e Emitter, m *Meta) error {
					return e.ToolDelta(m, ToolDelta{
						CallID:    tc.CallID,
						Index:     tc.OutputIndex,
						Name:      tc.Name,
						Arguments: tc.Arguments,
					})
				})
			}
		} else {
			t.state.harvestMetaOnly(event.Response)
		}
		return true

	case "response.failed", "error":
		t.state.failed = true
		if event.Response != nil {
			t.state.captureMeta(event.Response)
		}
		return true
	}
	return false
}

func (t *translator) start() {
	if t.started {
		return
	}
	t.started = true
	if t.state.meta.ChatID == "" {
		t.state.meta.ResponseID = api.NewID(api.IDPrefixResponse)
		t.state.meta.ChatID = api.ChatIDFor(t.state.meta.ResponseID)
	}
	t.emit(func(e Emitter, m *Meta) error { return e.Start(m) })
}

func (t *translator) emit(fn func(Emitter, *Meta) error) {
	if t.emitter == nil || t.emitErr != nil {
		return
	}
	if err := fn(t.emitter, &t.state.meta); err != nil {
		t.emitErr = err
	}
}

func (t *translator) emitTool(tc *ToolCall, nameNew bool, fragment string) {
	if fragment == "" && !nameNew {
		return
	}
	d := ToolDelta{CallID: tc.CallID, Index: tc.OutputIndex, Arguments: fragment}
	if nameNew {
		d.Name = tc.Name
	}
	t.emit(func(e Emitter, m *Meta) error { return e.ToolDelta(m, d) })
}

// fallback interprets a body that never produced a data line: either a
// complete Responses object or a string wrapping nested SSE text.
func (t *translator) fallback(body []byte) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return
	}

	var nested string
	if err := json.Unmarshal(body, &nested); err == nil {
		if strings.Contains(nested, "data:") {
			var parser sse.Parser
			for _, ev := range parser.Push([]byte(nested)) {
				if t.handle(ev) {
					return
				}
			}
			for _, ev := range parser.Finish() {
				if t.handle(ev) {
					return
				}
			}
			return
		}
		// A bare string is the whole output text.
		t.start()
		if chunk := t.state.textDelta(nested); chunk != "" {
			t.emit(func(e Emitter, m *Meta) error { return e.TextDelta(m, chunk) })
		}
		return
	}

	var resp api.ResponseObject
	if err := json.Unmarshal(body, &resp); err != nil {
		log.Debug().Str("body", truncate(string(body), 200)).Msg("unparseable upstream body")
		return
	}
	t.start()
	if text := t.state.harvest(&resp); text != "" {
		if chunk := t.state.textDelta(text); chunk != "" {
			t.emit(func(e Emitter, m *Meta) error { return e.TextDelta(m, chunk) })
		}
	}
	// Replay assembled tool calls through the emitter.
	for _, key := range t.state.callOrder {
		tc := t.state.calls[key]
		t.emit(func(e Emitter, m *Meta) error {
			return e.ToolDelta(m, ToolDelta{
				CallID:    tc.CallID,
				Index:     tc.OutputIndex,
				Name:      tc.Name,
				Arguments: tc.Arguments,
			})
		})
	}
}

func (t *translator) finish() (*Outcome, error) {
	if !t.finished {
		t.finished = true
		t.start()
		fin := Final{
			FinishReason: t.state.finishReason(),
			Text:         t.state.text.String(),
			Reasoning:    t.state.reasoning.String(),
			ToolCalls:    t.state.toolCalls(),
			Usage:        t.state.usage,
			Failed:       t.state.failed,
		}
		t.emit(func(e Emitter, m *Meta) error { return e.Finish(m, fin) })
	}
	if t.emitErr != nil {
		return nil, t.emitErr
	}

	out := &Outcome{
		ResponseID:   t.state.meta.ResponseID,
		Model:        t.state.meta.Model,
		FinishReason: t.state.finishReason(),
		Text:         t.state.text.String(),
		Reasoning:    t.state.reasoning.String(),
		ToolCalls:    t.state.toolCalls(),
		Usage:        t.state.usage,
		Signatures:   map[string]session.SignatureRecord{},
	}
	for _, tc := range out.ToolCalls {
		if tc.ThoughtSignature == "" {
			continue
		}
		out.Signatures[tc.CallID] = session.SignatureRecord{
			ThoughtSignature: tc.ThoughtSignature,
			Thought:          tc.Thought,
			Name:             tc.Name,
		}
	}
	return out, nil
}

// ensureJSONObject guarantees tool-call arguments are valid JSON on output,
// repairing near-JSON and defaulting to "{}".
func ensureJSONObject(args string) string {
	args = strings.TrimSpace(args)
	if args == "" {
		return "{}"
	}
	if json.Valid([]byte(args)) {
		return args
	}
	if repaired, err := jsonrepair.JSONRepair(args); err == nil && json.Valid([]byte(repaired)) {
		return repaired
	}
	return "{}"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
