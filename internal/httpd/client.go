package httpd

import (
	"time"

	"github.com/s00inx/webserv/internal/reactor"
)

// parsePhase is the coarse parse progress of a connection's accumulated
// read buffer. Because the parser (internal/httpparse) always re-scans
// the whole accumulated buffer from the start, phase is derived rather
// than driven: it exists so callers and tests can observe where a
// connection currently sits without re-deriving it from raw bytes.
type parsePhase int

const (
	AwaitingRequestLine parsePhase = iota
	AwaitingHeaders
	AwaitingBody
)

// client is the per-connection state an Endpoint tracks between reads. It
// is owned by exactly one Endpoint for the life of the client socket.
type client struct {
	handle   reactor.Handle
	peerAddr string

	buf   []byte
	phase parsePhase

	lastActivity time.Time
	requestCount int
}

func newClient(h reactor.Handle, peer string) *client {
	return &client{
		handle:       h,
		peerAddr:     peer,
		buf:          make([]byte, 0, 4096),
		phase:        AwaitingRequestLine,
		lastActivity: time.Now(),
	}
}

// reset prepares the client for another request on the same keepalive
// connection: empties the buffer and returns phase to
// AwaitingRequestLine.
func (c *client) reset() {
	c.buf = c.buf[:0]
	c.phase = AwaitingRequestLine
}

// touch records read activity for the keepalive timeout sweep.
func (c *client) touch() {
	c.lastActivity = time.Now()
	c.requestCount++
}

// derivePhase recomputes phase from the current buffer contents; called
// after an append whose parse attempt reported the request incomplete.
// The size cap is enforced by the parser, which rejects a buffer over
// MaxHeaderBytes that still lacks a header terminator, so the read
// buffer never exceeds MaxHeaderBytes while phase is AwaitingRequestLine
// or AwaitingHeaders.
func (c *client) derivePhase(headerTerminatorFound bool) {
	switch {
	case !headerTerminatorFound && len(c.buf) == 0:
		c.phase = AwaitingRequestLine
	case !headerTerminatorFound:
		c.phase = AwaitingHeaders
	default:
		c.phase = AwaitingBody
	}
}
