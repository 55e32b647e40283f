// Package feedtest provides an in-process stand-in for the SMHI push feed.
//
// A Feed upgrades requests that offer the feed sub-protocol, optionally
// checks their Authorization header, and pushes whatever frames the test
// sends. It can also emit heartbeats on a ticker like the real service.
//
//	srv := feedtest.NewServer(feedtest.WithCredentials("alice", "s3cret"))
//	defer srv.Close()
//	cfg := config.Default()
//	cfg.URL = srv.URL()
package feedtest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vinayprograms/thunderclient/credentials"
	"github.com/vinayprograms/thunderclient/errors"
	"github.com/vinayprograms/thunderclient/feed"
	"github.com/vinayprograms/thunderclient/transport"
)

// Feed is an http.Handler speaking the feed protocol.
type Feed struct {
	upgrader      *websocket.Upgrader
	authorization string // expected header; empty accepts anything

	mu          sync.Mutex
	conns       map[*peer]struct{}
	lastAuth    string
	lastProto   string
	accepted    int
	rejected    int
	connChanged chan struct{}

	beating atomic.Bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

type peer struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (p *peer) write(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ws.SetWriteDeadline(time.Now().Add(time.Second))
	return p.ws.WriteMessage(websocket.TextMessage, data)
}

// Option configures a Feed.
type Option func(*Feed)

// WithCredentials makes the feed answer 401 unless the request carries the
// Authorization header built from username and password.
func WithCredentials(username, password string) Option {
	return func(f *Feed) {
		creds := &credentials.Credentials{Username: username, Password: password}
		f.authorization = creds.Authorization()
	}
}

// New creates a feed handler.
func New(opts ...Option) *Feed {
	f := &Feed{
		upgrader:    transport.NewUpgrader(),
		conns:       make(map[*peer]struct{}),
		connChanged: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// ServeHTTP upgrades the request and holds the connection until either side
// closes it.
func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	auth := r.Header.Get("Authorization")

	f.mu.Lock()
	f.lastAuth = auth
	f.mu.Unlock()

	if f.authorization != "" && auth != f.authorization {
		f.mu.Lock()
		f.rejected++
		f.mu.Unlock()
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	p := &peer{ws: ws}
	f.mu.Lock()
	f.conns[p] = struct{}{}
	f.accepted++
	f.lastProto = ws.Subprotocol()
	f.notifyLocked()
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		delete(f.conns, p)
		f.notifyLocked()
		f.mu.Unlock()
		ws.Close()
	}()

	// The feed is push-only; reading just surfaces the close.
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (f *Feed) notifyLocked() {
	close(f.connChanged)
	f.connChanged = make(chan struct{})
}

// Send pushes a raw frame to every connected client.
func (f *Feed) Send(data []byte) error {
	var firstErr error
	for _, p := range f.peers() {
		if err := p.write(data); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// SendJSON marshals v and pushes it to every connected client.
func (f *Feed) SendJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrCodeInvalidInput, "marshaling frame")
	}
	return f.Send(data)
}

// SendStrike pushes a strike.
func (f *Feed) SendStrike(s feed.Strike) error {
	return f.SendJSON(s)
}

// SendHeartbeat pushes a heartbeat stamped with the current time.
func (f *Feed) SendHeartbeat() error {
	return f.SendJSON(Heartbeat(time.Now()))
}

// Heartbeat builds the heartbeat message the feed sends at t.
func Heartbeat(t time.Time) feed.Strike {
	return feed.Strike{
		Time:        t.UTC().Format(time.RFC3339Nano),
		CountryCode: feed.HeartbeatCountryCode,
	}
}

// StartHeartbeats sends a heartbeat immediately and then every interval
// until StopHeartbeats. Starting again replaces the interval.
func (f *Feed) StartHeartbeats(interval time.Duration) {
	f.StopHeartbeats()

	f.stopCh = make(chan struct{})
	f.doneCh = make(chan struct{})
	f.beating.Store(true)
	go f.beat(interval, f.stopCh, f.doneCh)
}

func (f *Feed) beat(interval time.Duration, stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	f.SendHeartbeat()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			f.SendHeartbeat()
		}
	}
}

// StopHeartbeats stops the heartbeat ticker. No-op when not running.
func (f *Feed) StopHeartbeats() {
	if !f.beating.Swap(false) {
		return
	}
	close(f.stopCh)
	<-f.doneCh
}

// Kick closes every connection with a normal close frame.
func (f *Feed) Kick() {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
	for _, p := range f.peers() {
		p.mu.Lock()
		p.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		p.mu.Unlock()
		p.ws.Close()
	}
}

// Drop closes every connection without a close frame.
func (f *Feed) Drop() {
	for _, p := range f.peers() {
		p.ws.Close()
	}
}

func (f *Feed) peers() []*peer {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*peer, 0, len(f.conns))
	for p := range f.conns {
		out = append(out, p)
	}
	return out
}

// Connections returns the number of open connections.
func (f *Feed) Connections() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}

// Accepted returns how many connections were upgraded in total.
func (f *Feed) Accepted() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accepted
}

// Rejected returns how many requests were answered with 401.
func (f *Feed) Rejected() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rejected
}

// LastAuthorization returns the Authorization header of the latest request.
func (f *Feed) LastAuthorization() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastAuth
}

// LastSubprotocol returns the sub-protocol negotiated on the latest upgrade.
func (f *Feed) LastSubprotocol() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastProto
}

// WaitForConnections blocks until exactly n connections are open.
func (f *Feed) WaitForConnections(n int, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		f.mu.Lock()
		count := len(f.conns)
		changed := f.connChanged
		f.mu.Unlock()

		if count == n {
			return nil
		}

		select {
		case <-changed:
		case <-deadline.C:
			return errors.Newf(errors.ErrCodeTimeout, "waiting for %d connections, have %d", n, count)
		}
	}
}

// Server is a Feed behind an httptest server.
type Server struct {
	*Feed
	srv *httptest.Server
}

// NewServer starts a feed on a loopback address.
func NewServer(opts ...Option) *Server {
	f := New(opts...)
	return &Server{
		Feed: f,
		srv:  httptest.NewServer(f),
	}
}

// URL returns the ws:// URL of the feed.
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

// Close stops heartbeats, shuts the listener down and drops clients.
func (s *Server) Close() {
	s.StopHeartbeats()
	s.srv.Close()
	s.Drop()
}
