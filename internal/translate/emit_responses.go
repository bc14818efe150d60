package translate

import (
	"time"

	"github.com/ChamsBouzaiene/rsp4copilot/internal/api"
)

// ResponsesEmitter replays the translation as a well-formed Responses event
// stream: strictly increasing sequence numbers, every opened output item
// closed, and at least one message item even for empty responses.
type ResponsesEmitter struct {
	W     *StreamWriter
	Model string

	seq         int64
	nextIndex   int
	msgID       string
	msgIndex    int
	msgText     string
	reasonID    string
	reasonIndex int
	reasonText  string
	callItems   map[string]*respCallItem
	callOrder   []string
}

type respCallItem struct {
	itemID string
	index  int
	name   string
	args   string
}

func (e *ResponsesEmitter) event(m *Meta, typ string, fields map[string]any) error {
	e.seq++
	payload := map[string]any{"type": typ, "sequence_number": e.seq}
	for k, v := range fields {
		payload[k] = v
	}
	return e.W.Event(typ, payload)
}

func (e *ResponsesEmitter) model(m *Meta) string {
	if e.Model != "" {
		return e.Model
	}
	return m.Model
}

func (e *ResponsesEmitter) createdAt(m *Meta) int64 {
	if m.CreatedAt != 0 {
		return m.CreatedAt
	}
	return time.Now().Unix()
}

func (e *ResponsesEmitter) Start(m *Meta) error {
	return e.event(m, "response.created", map[string]any{
		"response": map[string]any{
			"id":         m.ResponseID,
			"object":     "response",
			"created_at": e.createdAt(m),
			"status":     "in_progress",
			"model":      e.model(m),
			"output":     []any{},
		},
	})
}

func (e *ResponsesEmitter) openMessage(m *Meta) error {
	if e.msgID != "" {
		return nil
	}
	e.msgID = api.NewID(api.IDPrefixMessage)
	e.msgIndex = e.nextIndex
	e.nextIndex++
	return e.event(m, "response.output_item.added", map[string]any{
		"output_index": e.msgIndex,
		"item": map[string]any{
			"id":      e.msgID,
			"type":    "message",
			"role":    "assistant",
			"status":  "in_progress",
			"content": []any{},
		},
	})
}

func (e *ResponsesEmitter) TextDelta(m *Meta, delta string) error {
	if err := e.openMessage(m); err != nil {
		return err
	}
	e.msgText += delta
	return e.event(m, "response.output_text.delta", map[string]any{
		"item_id":       e.msgID,
		"output_index":  e.msgIndex,
		"content_index": 0,
		"delta":         delta,
	})
}

func (e *ResponsesEmitter) ReasoningDelta(m *Meta, delta string) error {
	if e.reasonID == "" {
		e.reasonID = api.NewID(api.IDPrefixReasoning)
		e.reasonIndex = e.nextIndex
		e.nextIndex++
		err := e.event(m, "response.output_item.added", map[string]any{
			"output_index": e.reasonIndex,
			"item": map[string]any{
				"id":      e.reasonID,
				"type":    "reasoning",
				"status":  "in_progress",
				"summary": []any{},
			},
		})
		if err != nil {
			return err
		}
	}
	e.reasonText += delta
	return e.event(m, "response.reasoning_text.delta", map[string]any{
		"item_id":       e.reasonID,
		"output_index":  e.reasonIndex,
		"content_index": 0,
		"delta":         delta,
	})
}

func (e *ResponsesEmitter) ToolDelta(m *Meta, d ToolDelta) error {
	if e.callItems == nil {
		e.callItems = map[string]*respCallItem{}
	}
	item, ok := e.callItems[d.CallID]
	if !ok {
		item = &respCallItem{
			itemID: api.IDPrefixFunctionCall + api.NormalizeCallID(d.CallID),
			index:  e.nextIndex,
		}
		e.nextIndex++
		e.callItems[d.CallID] = item
		e.callOrder = append(e.callOrder, d.CallID)
		err := e.event(m, "response.output_item.added", map[string]any{
			"output_index": item.index,
			"item": map[string]any{
				"id":        item.itemID,
				"type":      "function_call",
				"status":    "in_progress",
				"call_id":   d.CallID,
				"name":      d.Name,
				"arguments": "",
			},
		})
		if err != nil {
			return err
		}
	}
	if d.Name != "" {
		item.name = d.Name
	}
	if d.Arguments == "" {
		return nil
	}
	item.args += d.Arguments
	return e.event(m, "response.function_call_arguments.delta", map[string]any{
		"item_id":      item.itemID,
		"output_index": item.index,
		"delta":        d.Arguments,
	})
}

func (e *ResponsesEmitter) Finish(m *Meta, fin Final) error {
	// Parsers downstream expect at least one output item.
	if e.msgID == "" && e.reasonID == "" && len(e.callOrder) == 0 {
		if err := e.openMessage(m); err != nil {
			return err
		}
	}

	var output []any

	if e.reasonID != "" {
		if err := e.event(m, "response.reasoning_text.done", map[string]any{
			"item_id":       e.reasonID,
			"output_index":  e.reasonIndex,
			"content_index": 0,
			"text":          e.reasonText,
		}); err != nil {
			return err
		}
		item := map[string]any{
			"id":      e.reasonID,
			"type":    "reasoning",
			"status":  "completed",
			"summary": []any{map[string]any{"type": "summary_text", "text": e.reasonText}},
		}
		if err := e.event(m, "response.output_item.done", map[string]any{
			"output_index": e.reasonIndex,
			"item":         item,
		}); err != nil {
			return err
		}
		output = append(output, item)
	}

	if e.msgID != "" {
		if err := e.event(m, "response.output_text.done", map[string]any{
			"item_id":       e.msgID,
			"output_index":  e.msgIndex,
			"content_index": 0,
			"text":          e.msgText,
		}); err != nil {
			return err
		}
		item := map[string]any{
			"id":     e.msgID,
			"type":   "message",
			"role":   "assistant",
			"status": "completed",
			"content": []any{
				map[string]any{"type": "output_text", "text": e.msgText},
			},
		}
		if err := e.event(m, "response.output_item.done", map[string]any{
			"output_index": e.msgIndex,
			"item":         item,
		}); err != nil {
			return err
		}
		output = append(output, item)
	}

	for _, callID := range e.callOrder {
		item := e.callItems[callID]
		args := ensureJSONObject(item.args)
		if err := e.event(m, "response.function_call_arguments.done", map[string]any{
			"item_id":      item.itemID,
			"output_index": item.index,
			"arguments":    args,
		}); err != nil {
			return err
		}
		done := map[string]any{
			"id":        item.itemID,
			"type":      "function_call",
			"status":    "completed",
			"call_id":   callID,
			"name":      item.name,
			"arguments": args,
		}
		if err := e.event(m, "response.output_item.done", map[string]any{
			"output_index": item.index,
			"item":         done,
		}); err != nil {
			return err
		}
		output = append(output, done)
	}

	status := "completed"
	if fin.Failed {
		status = "failed"
	}
	response := map[string]any{
		"id":         m.ResponseID,
		"object":     "response",
		"created_at": e.createdAt(m),
		"status":     status,
		"model":      e.model(m),
		"output":     output,
	}
	if fin.Usage != nil {
		response["usage"] = fin.Usage
	}
	if err := e.event(m, "response.completed", map[string]any{"response": response}); err != nil {
		return err
	}
	return e.W.Done()
}
