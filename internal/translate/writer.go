package translate

import (
	"io"
	"net/http"

	jsoniter "github.com/json-iterator/go"

	"github.com/ChamsBouzaiene/rsp4copilot/internal/sse"
)

var jsonFast = jsoniter.ConfigCompatibleWithStandardLibrary

// StreamWriter frames emitter payloads as SSE and flushes after every
// event so clients see tokens as they arrive.
type StreamWriter struct {
	w       io.Writer
	flusher http.Flusher
}

// NewStreamWriter wraps a response writer; flushing is a no-op when the
// writer cannot flush (buffers in tests).
func NewStreamWriter(w io.Writer) *StreamWriter {
	sw := &StreamWriter{w: w}
	if f, ok := w.(http.Flusher); ok {
		sw.flusher = f
	}
	return sw
}

// Event writes one named SSE frame with a JSON payload.
func (s *StreamWriter) Event(name string, payload any) error {
	data, err := jsonFast.Marshal(payload)
	if err != nil {
		return err
	}
	return s.raw(name, string(data))
}

// Data writes one bare data frame with a JSON payload.
func (s *StreamWriter) Data(payload any) error {
	return s.Event("", payload)
}

// Done writes the literal [DONE] terminator.
func (s *StreamWriter) Done() error {
	return s.raw("", "[DONE]")
}

func (s *StreamWriter) raw(event, data string) error {
	if _, err := io.WriteString(s.w, sse.Encode(event, data)); err != nil {
		return err
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}
