package client

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/vinayprograms/thunderclient/logging"
	"github.com/vinayprograms/thunderclient/transport"
)

// Conn is the handle of one feed connection. A new handle is created for
// every dial, so comparing handles (or IDs) tells reconnects apart.
type Conn struct {
	id      string
	url     string
	created time.Time
	open    atomic.Bool
}

// ID returns the connection's unique ID.
func (c *Conn) ID() string {
	return c.id
}

// URL returns the feed URL the connection dialed.
func (c *Conn) URL() string {
	return c.url
}

// Created returns when the connection was dialed.
func (c *Conn) Created() time.Time {
	return c.created
}

// Open reports whether the handshake has completed and the connection has
// not ended yet.
func (c *Conn) Open() bool {
	return c.open.Load()
}

// connState is the control goroutine's private view of a connection.
type connState struct {
	handle    *Conn
	log       *logging.Logger
	reconnect bool

	ctx    context.Context
	cancel context.CancelFunc
	span   trace.Span

	// done is closed when the connection is torn down; goroutines feeding
	// the control loop give up on it.
	done chan struct{}

	tc       *transport.Conn
	openedAt time.Time
	waiters  []chan error

	// failure is the dial or read error being reported, if any.
	failure error
}

func (cs *connState) resolve(err error) {
	for _, w := range cs.waiters {
		w <- err
	}
	cs.waiters = nil
}
