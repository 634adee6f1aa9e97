package ws

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// SSEClient writes Server-Sent Events frames to an HTTP response. The first
// failed write poisons the client; later calls return that error.
type SSEClient struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
	rc      *http.ResponseController
	event   string
	log     *slog.Logger
	err     error
	last    time.Time
}

// NewSSEClient builds an SSE client that tags each frame with event.
// An empty event emits unnamed frames. When w is an http.ResponseWriter
// every write is bounded by writeWait so a stalled reader cannot hold up
// the hub.
func NewSSEClient(w io.Writer, flusher http.Flusher, event string, logger *slog.Logger) *SSEClient {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	c := &SSEClient{w: w, flusher: flusher, event: event, log: logger, last: time.Now().UTC()}
	if rw, ok := w.(http.ResponseWriter); ok {
		c.rc = http.NewResponseController(rw)
	}
	return c
}

// Send emits payload as one data frame. Multi-line payloads are split over
// several data fields.
func (c *SSEClient) Send(payload []byte) error {
	var frame bytes.Buffer
	if c.event != "" {
		frame.WriteString("event: ")
		frame.WriteString(c.event)
		frame.WriteByte('\n')
	}
	for _, line := range bytes.Split(payload, []byte{'\n'}) {
		frame.WriteString("data: ")
		frame.Write(line)
		frame.WriteByte('\n')
	}
	frame.WriteByte('\n')
	return c.write("send", frame.Bytes())
}

// Heartbeat emits a comment frame so idle proxies keep the stream open.
func (c *SSEClient) Heartbeat() error {
	return c.write("heartbeat", []byte(": ping\n\n"))
}

// Close stops further writes.
func (c *SSEClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		c.err = io.EOF
	}
}

// LastActivity reports the time of the most recent successful write.
func (c *SSEClient) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

func (c *SSEClient) write(op string, frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	if c.rc != nil {
		if err := c.rc.SetWriteDeadline(time.Now().Add(writeWait)); err != nil && !errors.Is(err, http.ErrNotSupported) {
			c.err = err
			c.log.Warn("sse deadline failed", "op", op, "error", err)
			return err
		}
	}
	if _, err := c.w.Write(frame); err != nil {
		c.err = err
		c.log.Warn("sse write failed", "op", op, "error", err)
		return err
	}
	if c.flusher != nil {
		c.flusher.Flush()
	}
	c.last = time.Now().UTC()
	return nil
}
