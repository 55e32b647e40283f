package client

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vinayprograms/thunderclient/config"
	feederrors "github.com/vinayprograms/thunderclient/errors"
	"github.com/vinayprograms/thunderclient/events"
	"github.com/vinayprograms/thunderclient/feed"
	"github.com/vinayprograms/thunderclient/heartbeat"
	"github.com/vinayprograms/thunderclient/logging"
	"github.com/vinayprograms/thunderclient/telemetry"
	"github.com/vinayprograms/thunderclient/transport"
)

// Client supervises one feed connection.
type Client struct {
	cfg       config.Config
	log       *logging.Logger
	tracer    *telemetry.Tracer
	transport transport.Config

	dispatcher *events.Dispatcher
	monitor    *heartbeat.Monitor

	// current mirrors the control goroutine's connection for Connection.
	current atomic.Pointer[Conn]

	starts  chan startRequest
	stops   chan stopRequest
	results chan dialResult
	frames  chan frame
	ends    chan readEnd
	misses  chan missed

	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	// Owned by the control goroutine.
	conn    *connState
	closing bool
}

type startRequest struct {
	quiet bool
	reply chan error
}

type stopRequest struct {
	quiet bool
	done  chan struct{}
}

type dialResult struct {
	conn *connState
	tc   *transport.Conn
	err  error
}

type frame struct {
	conn *connState
	data []byte
}

type readEnd struct {
	conn *connState
	err  error
}

type missed struct {
	handle  *Conn
	silence time.Duration
}

// New creates a client for cfg and starts its control goroutine. The client
// is idle until Start is called; Close releases it.
func New(cfg config.Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		cfg:        cfg,
		log:        logging.Discard(),
		tracer:     telemetry.GetTracer(),
		transport:  transport.DefaultConfig(),
		dispatcher: events.NewDispatcher(),
		starts:     make(chan startRequest),
		stops:      make(chan stopRequest),
		results:    make(chan dialResult),
		frames:     make(chan frame),
		ends:       make(chan readEnd),
		misses:     make(chan missed, 1),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.monitor = heartbeat.New(heartbeat.MonitorConfig{
		Timeout:       cfg.HeartbeatTimeout,
		CheckInterval: cfg.HeartbeatInterval,
		OnMissed:      c.onMissed,
	})

	go c.run()
	return c, nil
}

// Config returns the client's configuration.
func (c *Client) Config() config.Config {
	return c.cfg
}

// Events returns the notification source.
func (c *Client) Events() events.Emitter {
	return c.dispatcher
}

// Subscribe registers h for name and returns a subscription ID.
func (c *Client) Subscribe(name events.Name, h events.Handler) string {
	return c.dispatcher.Subscribe(name, h)
}

// Unsubscribe removes a subscription.
func (c *Client) Unsubscribe(id string) bool {
	return c.dispatcher.Unsubscribe(id)
}

// Connection returns the current connection handle, or nil when idle.
func (c *Client) Connection() *Conn {
	return c.current.Load()
}

// LastBeat returns when the last heartbeat arrived, or when the current
// connection opened if none has.
func (c *Client) LastBeat() time.Time {
	return c.monitor.LastBeat()
}

// Start connects to the feed unless a connection already exists, and emits
// started unless Quiet is given. It returns once the handshake of the
// current connection has succeeded (nil) or failed, or when ctx ends; in
// the last case the connection attempt carries on.
func (c *Client) Start(ctx context.Context, opts ...CallOption) error {
	o := applyCallOptions(opts)
	req := startRequest{quiet: o.quiet, reply: make(chan error, 1)}

	select {
	case c.starts <- req:
	case <-c.done:
		return feederrors.Closed("client closed")
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop closes the current connection, if any, and emits stopped unless
// Quiet is given. A Start still waiting for the handshake fails with CLOSED.
func (c *Client) Stop(opts ...CallOption) {
	o := applyCallOptions(opts)
	req := stopRequest{quiet: o.quiet, done: make(chan struct{})}

	select {
	case c.stops <- req:
	case <-c.done:
		return
	}
	<-req.done
}

// Close tears down any connection without emitting stopped and ends the
// control goroutine. The client cannot be started again.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.quit)
	})
	<-c.done
	return nil
}

// OnShutdown closes the client within the deadline of ctx.
func (c *Client) OnShutdown(ctx context.Context) error {
	c.closeOnce.Do(func() {
		close(c.quit)
	})
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// onMissed runs on the monitor's goroutine. It must not block: the control
// goroutine may be waiting in monitor.Stop.
func (c *Client) onMissed(silence time.Duration) {
	select {
	case c.misses <- missed{handle: c.current.Load(), silence: silence}:
	default:
	}
}

func (c *Client) run() {
	defer close(c.done)

	for {
		select {
		case <-c.quit:
			c.closing = true
			c.stop(true)
			return
		case req := <-c.starts:
			c.start(req.quiet, false, req.reply)
		case req := <-c.stops:
			c.stop(req.quiet)
			close(req.done)
		case r := <-c.results:
			c.handleDialResult(r)
		case f := <-c.frames:
			if f.conn == c.conn {
				c.handleFrame(f.data)
			}
		case r := <-c.ends:
			if r.conn == c.conn {
				c.handleReadEnd(r.err)
			}
		case m := <-c.misses:
			c.handleMissed(m)
		}
	}
}

// emit delivers ev and returns once every handler has. Handlers run on a
// helper goroutine while this goroutine keeps serving Start, Stop and
// handshake results, so a handler may call Start or Stop directly.
func (c *Client) emit(ev events.Event) {
	if c.dispatcher.Count(ev.Name) == 0 {
		return
	}

	delivered := make(chan struct{})
	go func() {
		defer close(delivered)
		c.dispatcher.Emit(ev)
	}()

	for {
		select {
		case <-delivered:
			return
		case req := <-c.starts:
			c.start(req.quiet, false, req.reply)
		case req := <-c.stops:
			c.stop(req.quiet)
			close(req.done)
		case r := <-c.results:
			c.handleDialResult(r)
		}
	}
}

func (c *Client) connID() string {
	if c.conn == nil {
		return ""
	}
	return c.conn.handle.id
}

func (c *Client) start(quiet, reconnect bool, reply chan error) {
	if c.closing {
		if reply != nil {
			reply <- feederrors.Closed("client closed")
		}
		return
	}
	if c.conn == nil {
		c.dial(reconnect)
	}

	if !quiet {
		c.emit(events.Event{Name: events.Started, ConnID: c.connID()})
	}

	if reply == nil {
		return
	}

	// A started handler may have stopped the connection already.
	cs := c.conn
	if cs == nil {
		reply <- feederrors.Closed("connection stopped before the handshake completed")
		return
	}
	if cs.handle.Open() {
		reply <- nil
		return
	}
	cs.waiters = append(cs.waiters, reply)
}

func (c *Client) dial(reconnect bool) {
	handle := &Conn{
		id:      uuid.NewString(),
		url:     c.cfg.URL,
		created: time.Now(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	ctx, span := c.tracer.StartConnectSpan(ctx, c.cfg.URL)

	cs := &connState{
		handle:    handle,
		log:       c.log.WithConnID(handle.id),
		reconnect: reconnect,
		ctx:       ctx,
		cancel:    cancel,
		span:      span,
		done:      make(chan struct{}),
	}
	c.conn = cs
	c.current.Store(handle)

	header := http.Header{}
	header.Set("Authorization", c.cfg.Credentials().Authorization())

	cs.log.Dialing(c.cfg.URL)
	go func() {
		tc, err := transport.Dial(ctx, c.cfg.URL, header, c.transport)
		select {
		case c.results <- dialResult{conn: cs, tc: tc, err: err}:
		case <-c.done:
			if tc != nil {
				tc.Close()
			}
		}
	}()
}

func (c *Client) handleDialResult(r dialResult) {
	cs := r.conn
	if cs != c.conn {
		if r.tc != nil {
			r.tc.Close()
		}
		return
	}

	if r.err != nil {
		c.fail(r.err)
		return
	}

	cs.tc = r.tc
	cs.openedAt = time.Now()
	cs.handle.open.Store(true)

	took := cs.openedAt.Sub(cs.handle.created)
	cs.log.ConnectionOpened(c.cfg.URL, took)
	c.tracer.MarkOpened(cs.span, took, r.tc.Subprotocol())

	c.monitor.Start()
	c.emit(events.Event{Name: events.Opened, ConnID: cs.handle.id})
	if c.conn != cs {
		return
	}
	cs.resolve(nil)

	go c.read(cs)
}

func (c *Client) read(cs *connState) {
	for data := range cs.tc.Recv() {
		select {
		case c.frames <- frame{conn: cs, data: data}:
		case <-cs.done:
			return
		}
	}

	select {
	case c.ends <- readEnd{conn: cs, err: cs.tc.Err()}:
	case <-cs.done:
	}
}

func (c *Client) handleFrame(data []byte) {
	cs := c.conn

	msg, err := feed.Parse(data)
	if err != nil {
		cs.log.Warn("malformed_frame", map[string]interface{}{"error": err.Error()})
		c.emit(events.Event{
			Name:   events.Error,
			ConnID: cs.handle.id,
			Err:    feederrors.Wrap(err, "parsing frame", feederrors.WithConnID(cs.handle.id)),
		})
		return
	}

	if msg.IsHeartbeat() {
		c.monitor.Beat()
		last := c.monitor.LastBeat()
		cs.log.Heartbeat(last)
		c.emit(events.Event{Name: events.Heartbeat, ConnID: cs.handle.id, LastBeat: last})
		return
	}

	strike := msg.Strike
	if strike.Pos != nil {
		cs.log.Strike(strike.CountryCode, strike.Pos.Lat, strike.Pos.Lon)
	}
	c.emit(events.Event{Name: events.Strike, ConnID: cs.handle.id, Strike: &strike})
}

func (c *Client) handleReadEnd(err error) {
	if err != nil && !transport.IsCloseError(err) {
		c.fail(err)
		return
	}
	c.teardown(err)
}

// fail reports a dial or read failure and tears the connection down.
func (c *Client) fail(err error) {
	cs := c.conn
	id := cs.handle.id

	var hs *transport.HandshakeError
	if errors.As(err, &hs) && hs.Unauthorized() {
		cs.log.Unauthorized(c.cfg.URL)
		ferr := feederrors.Unauthorized("feed rejected the credentials",
			feederrors.WithConnID(id), feederrors.WithCause(err))
		cs.failure = ferr
		c.emit(events.Event{Name: events.Unauthorized, ConnID: id, Err: ferr})
		if c.conn == cs {
			c.teardown(ferr)
		}
		return
	}

	cs.log.TransportError(err)
	ferr := feederrors.Wrap(err, "feed connection failed", feederrors.WithConnID(id))
	cs.failure = ferr
	c.emit(events.Event{Name: events.Error, ConnID: id, Err: ferr})
	if c.conn == cs {
		c.teardown(ferr)
	}
}

func (c *Client) handleMissed(m missed) {
	cs := c.conn
	if cs == nil || m.handle != cs.handle || !cs.handle.Open() {
		return
	}

	last := c.monitor.LastBeat()
	cs.log.HeartbeatMissed(m.silence, c.monitor.Timeout())
	c.tracer.RecordReconnect(cs.ctx, telemetry.ReconnectSpanOptions{
		ConnID:   cs.handle.id,
		LastBeat: last,
		Silence:  m.silence,
		Timeout:  c.monitor.Timeout(),
	})
	c.emit(events.Event{Name: events.Timeout, ConnID: cs.handle.id, LastBeat: last})
	if c.conn != cs {
		return
	}

	c.stop(true)
	c.start(true, true, nil)
}

func (c *Client) stop(quiet bool) {
	if c.conn != nil {
		c.teardown(nil)
	}
	if !quiet {
		c.emit(events.Event{Name: events.Stopped})
	}
}

// teardown ends the current connection and emits closed for it. cause is
// nil for a local stop.
func (c *Client) teardown(cause error) {
	cs := c.conn
	c.conn = nil
	c.current.Store(nil)

	c.monitor.Stop()
	cs.handle.open.Store(false)
	close(cs.done)
	cs.cancel()

	var lifetime time.Duration
	if cs.tc != nil {
		cs.tc.Close()
		lifetime = time.Since(cs.openedAt)
	}

	opts := telemetry.ConnectSpanOptions{
		URL:       c.cfg.URL,
		ConnID:    cs.handle.id,
		Reconnect: cs.reconnect,
		Username:  c.cfg.Username,
	}
	var hs *transport.HandshakeError
	if errors.As(cause, &hs) {
		opts.StatusCode = hs.StatusCode
	}
	if cs.tc != nil {
		opts.Subprotocol = cs.tc.Subprotocol()
	}
	c.tracer.EndConnectSpan(cs.span, opts, cause)

	cs.log.ConnectionClosed(lifetime, cause)
	c.emit(events.Event{Name: events.Closed, ConnID: cs.handle.id, Err: cause})

	if len(cs.waiters) > 0 {
		if cause == nil {
			cause = cs.failure
		}
		if cause == nil {
			cause = feederrors.Closed("connection stopped before the handshake completed",
				feederrors.WithConnID(cs.handle.id))
		}
		cs.resolve(cause)
	}
}
