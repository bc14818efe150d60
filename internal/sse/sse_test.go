package sse

import (
	"reflect"
	"testing"
)

func collect(p *Parser, chunks ...string) []Event {
	var events []Event
	for _, c := range chunks {
		events = append(events, p.Push([]byte(c))...)
	}
	events = append(events, p.Finish()...)
	return events
}

func TestParseBasicFrames(t *testing.T) {
	p := &Parser{}
	events := collect(p, "event: response.created\ndata: {\"id\":1}\n\ndata: [DONE]\n\n")

	want := []Event{
		{Event: "response.created", Data: `{"id":1}`},
		{Event: "", Data: "[DONE]"},
	}
	if !reflect.DeepEqual(events, want) {
		t.Errorf("expected %v, got %v", want, events)
	}
}

func TestParseFragmentationIdempotence(t *testing.T) {
	input := "event: a\ndata: hello\n\n:comment\ndata: wor\ndata: ld\n\nevent: b\r\ndata: crlf\r\n\r\ndata: tail"

	whole := collect(&Parser{}, input)

	// Re-parse the same input split at every possible boundary.
	for cut := 0; cut <= len(input); cut++ {
		got := collect(&Parser{}, input[:cut], input[cut:])
		if !reflect.DeepEqual(got, whole) {
			t.Fatalf("split at %d diverged: %v vs %v", cut, got, whole)
		}
	}

	want := []Event{
		{Event: "a", Data: "hello"},
		{Event: "", Data: "wor\nld"},
		{Event: "b", Data: "crlf"},
		{Event: "", Data: "tail"},
	}
	if !reflect.DeepEqual(whole, want) {
		t.Errorf("expected %v, got %v", want, whole)
	}
}

func TestParseDataSpaceStripping(t *testing.T) {
	events := collect(&Parser{}, "data:no-space\n\ndata:  two-spaces\n\n")
	if events[0].Data != "no-space" {
		t.Errorf("expected %q, got %q", "no-space", events[0].Data)
	}
	if events[1].Data != " two-spaces" {
		t.Errorf("expected one space stripped, got %q", events[1].Data)
	}
}

func TestParseIgnoresCommentsAndUnknownFields(t *testing.T) {
	events := collect(&Parser{}, ": ping\nid: 7\nretry: 100\n\ndata: x\n\n")
	if len(events) != 1 || events[0].Data != "x" {
		t.Errorf("expected only the data event, got %v", events)
	}
}

func TestParserRestartableAfterFinish(t *testing.T) {
	p := &Parser{}
	first := collect(p, "data: one")
	if len(first) != 1 || first[0].Data != "one" {
		t.Fatalf("unexpected first run: %v", first)
	}
	second := collect(p, "data: two\n\n")
	if len(second) != 1 || second[0].Data != "two" {
		t.Errorf("parser not clean after Finish: %v", second)
	}
}

func TestParseBareEventName(t *testing.T) {
	events := collect(&Parser{}, "event: ping\n\n")
	if len(events) != 1 || events[0].Event != "ping" || events[0].Data != "" {
		t.Errorf("expected dataless ping event, got %v", events)
	}
}

func TestEncode(t *testing.T) {
	if got := Encode("", "[DONE]"); got != "data: [DONE]\n\n" {
		t.Errorf("unexpected bare frame: %q", got)
	}
	if got := Encode("message_start", `{"a":1}`); got != "event: message_start\ndata: {\"a\":1}\n\n" {
		t.Errorf("unexpected named frame: %q", got)
	}
}

func TestHasDataLine(t *testing.T) {
	if HasDataLine([]byte(": keepalive\n\n: metadata: x\n")) {
		t.Error("comments must not count as data")
	}
	if !HasDataLine([]byte(": pad\ndata: {}\n")) {
		t.Error("expected data line to be found")
	}
	if !HasDataLine([]byte("data: partial")) {
		t.Error("expected unterminated data line to be found")
	}
}
