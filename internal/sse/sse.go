// Package sse implements an incremental codec for text/event-stream payloads.
package sse

import (
	"bytes"
	"strings"
)

// Event is one parsed server-sent event. Data carries the joined value of
// all data lines in the frame.
type Event struct {
	Event string
	Data  string
}

// Parser decodes a text/event-stream byte sequence fed in arbitrarily
// fragmented chunks. A partial trailing line is retained between Push calls,
// so splitting the input at any byte boundary yields the same events. The
// zero value is ready to use and the parser is restartable after Finish.
type Parser struct {
	partial []byte
	event   string
	data    []string
	open    bool
}

// Push consumes the next chunk and returns any events completed by it.
func (p *Parser) Push(chunk []byte) []Event {
	var out []Event
	if len(p.partial) > 0 {
		chunk = append(p.partial, chunk...)
		p.partial = nil
	}
	for {
		i := bytes.IndexByte(chunk, '\n')
		if i < 0 {
			break
		}
		out = p.line(chunk[:i], out)
		chunk = chunk[i+1:]
	}
	if len(chunk) > 0 {
		p.partial = append([]byte(nil), chunk...)
	}
	return out
}

// Finish flushes the retained partial line and any accumulated event. The
// parser may be reused afterwards.
func (p *Parser) Finish() []Event {
	var out []Event
	if len(p.partial) > 0 {
		out = p.line(p.partial, out)
		p.partial = nil
	}
	out = p.dispatch(out)
	return out
}

func (p *Parser) line(line []byte, out []Event) []Event {
	line = bytes.TrimSuffix(line, []byte("\r"))

	switch {
	case len(line) == 0:
		out = p.dispatch(out)
	case line[0] == ':':
		// comment
	case bytes.HasPrefix(line, []byte("event:")):
		p.event = strings.TrimSpace(string(line[len("event:"):]))
		p.open = true
	case bytes.HasPrefix(line, []byte("data:")):
		v := line[len("data:"):]
		if len(v) > 0 && v[0] == ' ' {
			v = v[1:]
		}
		p.data = append(p.data, string(v))
		p.open = true
	default:
		// unknown field, dropped
	}
	return out
}

func (p *Parser) dispatch(out []Event) []Event {
	if !p.open {
		return out
	}
	out = append(out, Event{Event: p.event, Data: strings.Join(p.data, "\n")})
	p.event = ""
	p.data = nil
	p.open = false
	return out
}

// Encode renders one SSE frame. An empty event name yields a bare data frame.
func Encode(event, data string) string {
	if event == "" {
		return "data: " + data + "\n\n"
	}
	return "event: " + event + "\ndata: " + data + "\n\n"
}

// HasDataLine reports whether any line in b starts with "data:". Used by the
// empty-stream probe, which must not be fooled by comments or padding.
func HasDataLine(b []byte) bool {
	for len(b) > 0 {
		line := b
		if i := bytes.IndexByte(b, '\n'); i >= 0 {
			line = b[:i]
			b = b[i+1:]
		} else {
			b = nil
		}
		if bytes.HasPrefix(line, []byte("data:")) {
			return true
		}
	}
	return false
}
