package transport

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is an open feed connection.
type Conn struct {
	ws     *websocket.Conn
	config Config

	recv chan []byte
	done chan struct{}

	mu     sync.Mutex
	closed bool
	err    error
}

// Dial opens a WebSocket to url offering Subprotocol. A non-101 answer is
// reported as *HandshakeError.
func Dial(ctx context.Context, url string, header http.Header, cfg Config) (*Conn, error) {
	if cfg.RecvBufferSize <= 0 {
		cfg.RecvBufferSize = DefaultConfig().RecvBufferSize
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = DefaultConfig().MaxMessageSize
	}

	dialer := *websocket.DefaultDialer
	dialer.Subprotocols = []string{Subprotocol}
	if cfg.HandshakeTimeout > 0 {
		dialer.HandshakeTimeout = cfg.HandshakeTimeout
	}

	ws, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil && errors.Is(err, websocket.ErrBadHandshake) {
			return nil, &HandshakeError{StatusCode: resp.StatusCode, Err: err}
		}
		return nil, err
	}

	return newConn(ws, cfg), nil
}

func newConn(ws *websocket.Conn, cfg Config) *Conn {
	ws.SetReadLimit(cfg.MaxMessageSize)

	c := &Conn{
		ws:     ws,
		config: cfg,
		recv:   make(chan []byte, cfg.RecvBufferSize),
		done:   make(chan struct{}),
	}

	go c.readLoop()
	if cfg.PingInterval > 0 {
		go c.pingLoop()
	}
	return c
}

// NewUpgrader creates an upgrader that accepts the feed sub-protocol.
func NewUpgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		Subprotocols:    []string{Subprotocol},
		CheckOrigin:     func(r *http.Request) bool { return true },
	}
}

// Recv returns the channel of inbound frames.
// It is closed when the connection ends; Err then reports why.
func (c *Conn) Recv() <-chan []byte {
	return c.recv
}

// Err returns the error that ended the read loop. It is nil while the
// connection is open and after a local Close.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Subprotocol returns the sub-protocol negotiated with the server.
func (c *Conn) Subprotocol() string {
	return c.ws.Subprotocol()
}

// Close sends a close frame and closes the socket. Safe to call repeatedly.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)

	c.ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	c.mu.Unlock()

	return c.ws.Close()
}

func (c *Conn) readLoop() {
	defer close(c.recv)

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if !c.closed {
				c.err = err
			}
			c.mu.Unlock()
			return
		}

		select {
		case c.recv <- data:
		case <-c.done:
			return
		}
	}
}

func (c *Conn) pingLoop() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writePing()
		}
	}
}

func (c *Conn) writePing() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	deadline := time.Now().Add(time.Second)
	if c.config.WriteTimeout > 0 {
		deadline = time.Now().Add(c.config.WriteTimeout)
	}
	c.ws.WriteControl(websocket.PingMessage, nil, deadline)
}

// IsCloseError reports whether err is a WebSocket close frame or abnormal
// closure rather than a protocol or I/O failure.
func IsCloseError(err error) bool {
	var closeErr *websocket.CloseError
	return errors.As(err, &closeErr)
}
