package upstream

import (
	"bytes"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ChamsBouzaiene/rsp4copilot/internal/sse"
)

// Probe defaults; both are tunable through configuration.
const (
	DefaultProbeTimeout  = 150 * time.Millisecond
	DefaultProbeMaxBytes = 4 << 10
)

// ProbeStream peeks at an event-stream body to decide whether the upstream
// will ever say anything. Empty means: EOF without a data line, or the byte
// budget exhausted without one. A time-budget expiry with at least one byte
// read counts as non-empty; the upstream is merely slow.
//
// The returned body replays every probed byte, so downstream consumers see
// the stream untouched. When the verdict is empty the caller discards the
// response; the body is closed to release the blocked reader.
func ProbeStream(body io.ReadCloser, timeout time.Duration, maxBytes int64) (empty bool, replay io.ReadCloser) {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	if maxBytes <= 0 {
		maxBytes = DefaultProbeMaxBytes
	}

	p := &probedBody{rest: body, done: make(chan struct{}), progress: make(chan struct{}, 1)}
	go p.pump(maxBytes)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-p.done:
			// The pump concluded: data line seen, EOF, or byte budget hit.
			if p.hasData() {
				return false, p
			}
			body.Close()
			return true, nil
		case <-timer.C:
			p.stop.Store(true)
			if p.bytesRead() > 0 {
				return false, p
			}
			body.Close()
			<-p.done
			return true, nil
		case <-p.progress:
			// Bytes arrived but no verdict yet; keep waiting.
		}
	}
}

// probedBody owns the upstream body during the probe and replays the probed
// prefix ahead of the remaining stream afterwards.
type probedBody struct {
	rest io.ReadCloser

	mu   sync.Mutex
	buf  bytes.Buffer
	data bool

	stop     atomic.Bool
	done     chan struct{}
	progress chan struct{}

	reader io.Reader
}

func (p *probedBody) pump(maxBytes int64) {
	defer close(p.done)
	chunk := make([]byte, 512)
	for {
		if p.stop.Load() {
			return
		}
		n, err := p.rest.Read(chunk)
		if n > 0 {
			p.mu.Lock()
			p.buf.Write(chunk[:n])
			if !p.data && sse.HasDataLine(p.buf.Bytes()) {
				p.data = true
			}
			size := int64(p.buf.Len())
			found := p.data
			p.mu.Unlock()

			select {
			case p.progress <- struct{}{}:
			default:
			}
			if found || size >= maxBytes {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func (p *probedBody) hasData() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.data
}

func (p *probedBody) bytesRead() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.Len()
}

// Read waits for the pump to let go of the underlying body, then serves the
// probed prefix followed by the live stream.
func (p *probedBody) Read(b []byte) (int, error) {
	if p.reader == nil {
		p.stop.Store(true)
		<-p.done
		p.mu.Lock()
		prefix := append([]byte(nil), p.buf.Bytes()...)
		p.mu.Unlock()
		p.reader = io.MultiReader(bytes.NewReader(prefix), p.rest)
	}
	return p.reader.Read(b)
}

func (p *probedBody) Close() error {
	p.stop.Store(true)
	return p.rest.Close()
}
