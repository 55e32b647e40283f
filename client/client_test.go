package client

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/vinayprograms/thunderclient/config"
	feederrors "github.com/vinayprograms/thunderclient/errors"
	"github.com/vinayprograms/thunderclient/events"
	"github.com/vinayprograms/thunderclient/feedtest"
)

const waitTimeout = 2 * time.Second

// recorder collects every notification a client emits.
type recorder struct {
	mu      sync.Mutex
	events  []events.Event
	changed chan struct{}
}

func record(c *Client) *recorder {
	r := &recorder{changed: make(chan struct{})}
	for _, name := range events.All {
		c.Subscribe(name, r.add)
	}
	return r
}

func (r *recorder) add(ev events.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	close(r.changed)
	r.changed = make(chan struct{})
	r.mu.Unlock()
}

func (r *recorder) count(name events.Name) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Name == name {
			n++
		}
	}
	return n
}

func (r *recorder) names() []events.Name {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Name, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Name
	}
	return out
}

// last returns the most recent event with the given name.
func (r *recorder) last(name events.Name) (events.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Name == name {
			return r.events[i], true
		}
	}
	return events.Event{}, false
}

// waitFor blocks until at least n events with the given name were seen.
func (r *recorder) waitFor(t *testing.T, name events.Name, n int) events.Event {
	t.Helper()
	deadline := time.NewTimer(waitTimeout)
	defer deadline.Stop()

	for {
		r.mu.Lock()
		changed := r.changed
		r.mu.Unlock()

		if r.count(name) >= n {
			ev, _ := r.last(name)
			return ev
		}

		select {
		case <-changed:
		case <-deadline.C:
			t.Fatalf("timed out waiting for %d %q events; saw %v", n, name, r.names())
		}
	}
}

func newTestClient(t *testing.T, url string, mutate func(*config.Config)) *Client {
	t.Helper()
	cfg := config.Default()
	cfg.URL = url
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func startClient(t *testing.T, c *Client) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
}

// silentListener accepts TCP connections but never answers the upgrade.
func silentListener(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	return "ws://" + ln.Addr().String() + "/"
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.URL = "http://example.com"
	if _, err := New(cfg); !feederrors.Is(err, feederrors.ErrCodeInvalidInput) {
		t.Errorf("New() error = %v, want INVALID_INPUT", err)
	}
}

func TestClient_ConnectionLifecycle(t *testing.T) {
	srv := feedtest.NewServer()
	defer srv.Close()

	c := newTestClient(t, srv.URL(), nil)
	r := record(c)

	if c.Connection() != nil {
		t.Fatal("connection exists before Start")
	}

	startClient(t, c)
	first := c.Connection()
	if first == nil || !first.Open() {
		t.Fatalf("Connection() = %v after Start", first)
	}
	if err := srv.WaitForConnections(1, waitTimeout); err != nil {
		t.Fatal(err)
	}
	if srv.LastSubprotocol() != "echo-protocol" {
		t.Errorf("subprotocol = %q", srv.LastSubprotocol())
	}

	c.Stop()
	if c.Connection() != nil {
		t.Fatal("connection exists after Stop")
	}
	if first.Open() {
		t.Error("stopped handle still reports open")
	}

	startClient(t, c)
	second := c.Connection()
	if second == nil {
		t.Fatal("no connection after restart")
	}
	if second == first || second.ID() == first.ID() {
		t.Error("restart reused the connection handle")
	}

	want := []events.Name{
		events.Started, events.Opened,
		events.Closed, events.Stopped,
		events.Started, events.Opened,
	}
	got := r.names()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestClient_QuietCalls(t *testing.T) {
	srv := feedtest.NewServer()
	defer srv.Close()

	c := newTestClient(t, srv.URL(), nil)
	r := record(c)

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	if err := c.Start(ctx, Quiet()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	c.Stop(Quiet())

	if r.count(events.Started) != 0 || r.count(events.Stopped) != 0 {
		t.Errorf("quiet calls emitted %v", r.names())
	}
	if r.count(events.Opened) != 1 || r.count(events.Closed) != 1 {
		t.Errorf("events = %v, want one opened and one closed", r.names())
	}
}

func TestClient_StopWhenIdle(t *testing.T) {
	c := newTestClient(t, "ws://127.0.0.1:1/", nil)
	r := record(c)

	c.Stop()
	c.Stop()

	if r.count(events.Stopped) != 2 {
		t.Errorf("stopped = %d, want 2", r.count(events.Stopped))
	}
	if r.count(events.Closed) != 0 {
		t.Errorf("closed emitted without a connection")
	}
}

func TestClient_StartWhileConnected(t *testing.T) {
	srv := feedtest.NewServer()
	defer srv.Close()

	c := newTestClient(t, srv.URL(), nil)
	r := record(c)

	startClient(t, c)
	first := c.Connection()
	startClient(t, c)

	if c.Connection() != first {
		t.Error("second Start replaced the connection")
	}
	if err := srv.WaitForConnections(1, waitTimeout); err != nil {
		t.Fatal(err)
	}
	if srv.Accepted() != 1 {
		t.Errorf("Accepted() = %d, want 1", srv.Accepted())
	}
	if r.count(events.Started) != 2 {
		t.Errorf("started = %d, want 2", r.count(events.Started))
	}
	if r.count(events.Opened) != 1 {
		t.Errorf("opened = %d, want 1", r.count(events.Opened))
	}
}

func TestClient_AuthorizationHeader(t *testing.T) {
	tests := []struct {
		name     string
		username string
		password string
		want     string
	}{
		{"with credentials", "alice", "s3cret", "Bearer Basic YWxpY2U6czNjcmV0"},
		{"without credentials", "", "", "Bearer Basic Og=="},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := feedtest.NewServer()
			defer srv.Close()

			c := newTestClient(t, srv.URL(), func(cfg *config.Config) {
				cfg.Username = tt.username
				cfg.Password = tt.password
			})
			startClient(t, c)

			if got := srv.LastAuthorization(); got != tt.want {
				t.Errorf("Authorization = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClient_Unauthorized(t *testing.T) {
	srv := feedtest.NewServer(feedtest.WithCredentials("alice", "s3cret"))
	defer srv.Close()

	c := newTestClient(t, srv.URL(), func(cfg *config.Config) {
		cfg.Username = "alice"
		cfg.Password = "wrong"
	})
	r := record(c)

	err := c.Start(context.Background())
	if !feederrors.Is(err, feederrors.ErrCodeUnauthorized) {
		t.Fatalf("Start() error = %v, want UNAUTHORIZED", err)
	}

	if r.count(events.Unauthorized) != 1 {
		t.Errorf("unauthorized = %d, want 1", r.count(events.Unauthorized))
	}
	if r.count(events.Error) != 0 {
		t.Errorf("401 also emitted error: %v", r.names())
	}
	if r.count(events.Closed) != 1 {
		t.Errorf("closed = %d, want 1", r.count(events.Closed))
	}
	if c.Connection() != nil {
		t.Error("connection kept after rejection")
	}
	if srv.Rejected() != 1 {
		t.Errorf("Rejected() = %d, want 1", srv.Rejected())
	}
}

func TestClient_DialError(t *testing.T) {
	srv := feedtest.NewServer()
	url := srv.URL()
	srv.Close()

	c := newTestClient(t, url, nil)
	r := record(c)

	err := c.Start(context.Background())
	if !feederrors.Is(err, feederrors.ErrCodeNetworkErr) {
		t.Fatalf("Start() error = %v, want NETWORK_ERR", err)
	}

	ev, ok := r.last(events.Error)
	if !ok {
		t.Fatalf("no error event; saw %v", r.names())
	}
	if feederrors.Code(ev.Err) != feederrors.ErrCodeNetworkErr {
		t.Errorf("error code = %q", feederrors.Code(ev.Err))
	}
	if r.count(events.Unauthorized) != 0 {
		t.Error("network failure reported as unauthorized")
	}
}

func TestClient_HeartbeatsAndStrikes(t *testing.T) {
	srv := feedtest.NewServer()
	defer srv.Close()

	c := newTestClient(t, srv.URL(), nil)
	r := record(c)
	startClient(t, c)

	frames := []string{
		`{"countryCode":"ZZ"}`,
		`{"countryCode":"SE","pos":{"lat":61.9,"lon":14.7,"proj":"EPSG:4326"}}`,
		`{"countryCode":"ZZ"}`,
		`{"countryCode":"ZZ"}`,
		`{"countryCode":"NO","pos":{"lat":60.1,"lon":10.2,"proj":"EPSG:4326"}}`,
	}
	for _, f := range frames {
		if err := srv.Send([]byte(f)); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}

	r.waitFor(t, events.Strike, 2)

	if got := r.count(events.Heartbeat); got != 3 {
		t.Errorf("heartbeat = %d, want 3", got)
	}
	if got := r.count(events.Strike); got != 2 {
		t.Errorf("strike = %d, want 2", got)
	}

	hb, _ := r.last(events.Heartbeat)
	if hb.LastBeat.IsZero() {
		t.Error("heartbeat event carries no timestamp")
	}
	if !hb.LastBeat.Equal(c.LastBeat()) {
		t.Errorf("heartbeat LastBeat = %v, monitor = %v", hb.LastBeat, c.LastBeat())
	}
}

func TestClient_StrikePayload(t *testing.T) {
	srv := feedtest.NewServer()
	defer srv.Close()

	c := newTestClient(t, srv.URL(), nil)
	r := record(c)
	startClient(t, c)

	raw := `{"countryCode":"SE","pos":{"lat":61.9,"lon":14.7,"proj":"EPSG:4326"},"meta":{"peakCurrent":123,"cloudIndicator":0}}`
	if err := srv.Send([]byte(raw)); err != nil {
		t.Fatalf("Send: %v", err)
	}

	ev := r.waitFor(t, events.Strike, 1)
	s := ev.Strike
	if s == nil {
		t.Fatal("strike event without payload")
	}
	if s.CountryCode != "SE" {
		t.Errorf("CountryCode = %q", s.CountryCode)
	}
	if s.Pos == nil || s.Pos.Lat != 61.9 || s.Pos.Lon != 14.7 || s.Pos.Proj != "EPSG:4326" {
		t.Errorf("Pos = %+v", s.Pos)
	}
	if s.Meta == nil || s.Meta.PeakCurrent != 123 || s.Meta.CloudIndicator != 0 {
		t.Errorf("Meta = %+v", s.Meta)
	}
	if string(s.Raw) != raw {
		t.Errorf("Raw = %s", s.Raw)
	}
	if ev.ConnID != c.Connection().ID() {
		t.Errorf("ConnID = %q, want %q", ev.ConnID, c.Connection().ID())
	}
}

func TestClient_MalformedFrame(t *testing.T) {
	srv := feedtest.NewServer()
	defer srv.Close()

	c := newTestClient(t, srv.URL(), nil)
	r := record(c)
	startClient(t, c)

	srv.Send([]byte("not json"))
	srv.Send([]byte(`{"countryCode":"SE"}`))

	r.waitFor(t, events.Strike, 1)

	ev, ok := r.last(events.Error)
	if !ok {
		t.Fatalf("no error event; saw %v", r.names())
	}
	if !feederrors.Is(ev.Err, feederrors.ErrCodeInvalidInput) {
		t.Errorf("error = %v, want INVALID_INPUT", ev.Err)
	}
	if c.Connection() == nil {
		t.Error("malformed frame dropped the connection")
	}
}

func TestClient_AnyNonHeartbeatObjectIsAStrike(t *testing.T) {
	srv := feedtest.NewServer()
	defer srv.Close()

	c := newTestClient(t, srv.URL(), nil)
	r := record(c)
	startClient(t, c)

	frames := []struct {
		name string
		data string
	}{
		{"no pos or meta", `{"countryCode":"SE","time":"2024-06-01T12:00:00Z"}`},
		{"empty object", `{}`},
		{"extra fields", `{"countryCode":"NO","station":"Kiruna","pos":{"lat":67.8,"lon":20.2,"proj":"EPSG:4326","alt":530}}`},
		{"numeric time", `{"countryCode":"SE","time":1700000000,"pos":{"lat":61.9,"lon":14.7,"proj":"EPSG:4326"}}`},
		{"fractional cloudIndicator", `{"countryCode":"SE","meta":{"peakCurrent":12,"cloudIndicator":1.5}}`},
		{"string latitude", `{"countryCode":"SE","pos":{"lat":"61.9","lon":14.7,"proj":"EPSG:4326"}}`},
		{"numeric countryCode", `{"countryCode":46}`},
	}
	for _, f := range frames {
		if err := srv.Send([]byte(f.data)); err != nil {
			t.Fatalf("Send(%s): %v", f.name, err)
		}
	}

	r.waitFor(t, events.Strike, len(frames))

	if got := r.count(events.Error); got != 0 {
		ev, _ := r.last(events.Error)
		t.Errorf("error = %d, want 0 (%v)", got, ev.Err)
	}
	if got := r.count(events.Heartbeat); got != 0 {
		t.Errorf("heartbeat = %d, want 0", got)
	}

	r.mu.Lock()
	var strikes []events.Event
	for _, ev := range r.events {
		if ev.Name == events.Strike {
			strikes = append(strikes, ev)
		}
	}
	r.mu.Unlock()

	for i, f := range frames {
		if string(strikes[i].Strike.Raw) != f.data {
			t.Errorf("%s: Raw = %s", f.name, strikes[i].Strike.Raw)
		}
	}
	if s := strikes[3].Strike; s.Pos == nil || s.Pos.Lat != 61.9 || s.Time != "" {
		t.Errorf("numeric time: strike = %+v", s)
	}
	if s := strikes[4].Strike; s.Meta == nil || s.Meta.PeakCurrent != 12 {
		t.Errorf("fractional cloudIndicator: meta = %+v", s.Meta)
	}
}

func TestClient_HeartbeatTimeoutReconnects(t *testing.T) {
	srv := feedtest.NewServer()
	defer srv.Close()

	c := newTestClient(t, srv.URL(), func(cfg *config.Config) {
		cfg.HeartbeatTimeout = 100 * time.Millisecond
		cfg.HeartbeatInterval = 10 * time.Millisecond
	})
	r := record(c)
	startClient(t, c)
	first := c.Connection()

	timeout := r.waitFor(t, events.Timeout, 1)
	if timeout.ConnID != first.ID() {
		t.Errorf("timeout ConnID = %q, want %q", timeout.ConnID, first.ID())
	}
	if timeout.LastBeat.IsZero() {
		t.Error("timeout event carries no last beat")
	}

	// Keep the replacement connection alive.
	srv.StartHeartbeats(10 * time.Millisecond)
	r.waitFor(t, events.Opened, 2)
	time.Sleep(250 * time.Millisecond)

	if got := r.count(events.Timeout); got != 1 {
		t.Errorf("timeout = %d, want 1", got)
	}
	second := c.Connection()
	if second == nil || second == first {
		t.Fatalf("connection not replaced: %v", second)
	}
	if r.count(events.Started) != 1 {
		t.Errorf("started = %d, want 1", r.count(events.Started))
	}
	if r.count(events.Stopped) != 0 {
		t.Errorf("stopped = %d, want 0", r.count(events.Stopped))
	}
	if r.count(events.Closed) != 1 {
		t.Errorf("closed = %d, want 1", r.count(events.Closed))
	}
}

func TestClient_ServerClose(t *testing.T) {
	srv := feedtest.NewServer()
	defer srv.Close()

	c := newTestClient(t, srv.URL(), nil)
	r := record(c)
	startClient(t, c)

	srv.Kick()
	r.waitFor(t, events.Closed, 1)

	if c.Connection() != nil {
		t.Error("connection kept after the server closed it")
	}
	if r.count(events.Error) != 0 {
		t.Errorf("close frame reported as error: %v", r.names())
	}
}

func TestClient_StopDuringHandshake(t *testing.T) {
	url := silentListener(t)
	c := newTestClient(t, url, nil)
	r := record(c)

	errCh := make(chan error, 1)
	go func() {
		errCh <- c.Start(context.Background())
	}()

	r.waitFor(t, events.Started, 1)
	if c.Connection() == nil {
		t.Fatal("no connection while connecting")
	}
	c.Stop()

	select {
	case err := <-errCh:
		if !feederrors.Is(err, feederrors.ErrCodeClosed) {
			t.Errorf("Start() error = %v, want CLOSED", err)
		}
	case <-time.After(waitTimeout):
		t.Fatal("Start did not return after Stop")
	}

	if r.count(events.Opened) != 0 {
		t.Error("opened emitted for an abandoned handshake")
	}
	if r.count(events.Closed) != 1 {
		t.Errorf("closed = %d, want 1", r.count(events.Closed))
	}
}

func TestClient_StartContextEnds(t *testing.T) {
	url := silentListener(t)
	c := newTestClient(t, url, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := c.Start(ctx)
	if err != context.DeadlineExceeded {
		t.Fatalf("Start() error = %v, want deadline exceeded", err)
	}
	if c.Connection() == nil {
		t.Error("connection attempt abandoned with the caller's context")
	}
}

func TestClient_Close(t *testing.T) {
	srv := feedtest.NewServer()
	defer srv.Close()

	c := newTestClient(t, srv.URL(), nil)
	r := record(c)
	startClient(t, c)

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	c.Close()

	if r.count(events.Closed) != 1 || r.count(events.Stopped) != 0 {
		t.Errorf("events after Close = %v", r.names())
	}
	if err := c.Start(context.Background()); !feederrors.Is(err, feederrors.ErrCodeClosed) {
		t.Errorf("Start() after Close = %v, want CLOSED", err)
	}
	if err := srv.WaitForConnections(0, waitTimeout); err != nil {
		t.Error(err)
	}
}

func TestClient_OnShutdown(t *testing.T) {
	srv := feedtest.NewServer()
	defer srv.Close()

	c := newTestClient(t, srv.URL(), nil)
	startClient(t, c)

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	if err := c.OnShutdown(ctx); err != nil {
		t.Fatalf("OnShutdown() error = %v", err)
	}
	if c.Connection() != nil {
		t.Error("connection kept after shutdown")
	}
}

func TestClient_Unsubscribe(t *testing.T) {
	srv := feedtest.NewServer()
	defer srv.Close()

	c := newTestClient(t, srv.URL(), nil)
	r := record(c)

	var mu sync.Mutex
	strikes := 0
	id := c.Subscribe(events.Strike, func(events.Event) {
		mu.Lock()
		strikes++
		mu.Unlock()
	})
	startClient(t, c)

	srv.Send([]byte(`{"countryCode":"SE"}`))
	r.waitFor(t, events.Strike, 1)

	if !c.Unsubscribe(id) {
		t.Fatal("Unsubscribe() = false")
	}
	if c.Unsubscribe(id) {
		t.Error("second Unsubscribe() = true")
	}

	srv.Send([]byte(`{"countryCode":"SE"}`))
	r.waitFor(t, events.Strike, 2)

	mu.Lock()
	defer mu.Unlock()
	if strikes != 1 {
		t.Errorf("unsubscribed handler saw %d strikes, want 1", strikes)
	}
}

func TestClient_RestartFromHandler(t *testing.T) {
	srv := feedtest.NewServer()
	defer srv.Close()

	c := newTestClient(t, srv.URL(), nil)
	r := record(c)

	var once sync.Once
	restarted := make(chan error, 1)
	c.Subscribe(events.Closed, func(ev events.Event) {
		if ev.Err == nil {
			return
		}
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
			defer cancel()
			restarted <- c.Start(ctx, Quiet())
		})
	})
	startClient(t, c)
	first := c.Connection()

	srv.Drop()

	select {
	case err := <-restarted:
		if err != nil {
			t.Fatalf("Start() from handler error = %v", err)
		}
	case <-time.After(waitTimeout):
		t.Fatal("Start() called from a handler did not return")
	}

	second := c.Connection()
	if second == nil || second == first || !second.Open() {
		t.Fatalf("Connection() = %v after restart", second)
	}
	if r.count(events.Opened) != 2 {
		t.Errorf("opened = %d, want 2", r.count(events.Opened))
	}
	if r.count(events.Started) != 1 {
		t.Errorf("started = %d, want 1", r.count(events.Started))
	}
}

func TestClient_StopFromHandler(t *testing.T) {
	srv := feedtest.NewServer()
	defer srv.Close()

	c := newTestClient(t, srv.URL(), nil)
	r := record(c)

	stopped := make(chan struct{})
	c.Subscribe(events.Strike, func(events.Event) {
		c.Stop()
		close(stopped)
	})
	startClient(t, c)

	srv.Send([]byte(`{"countryCode":"SE"}`))

	select {
	case <-stopped:
	case <-time.After(waitTimeout):
		t.Fatalf("Stop() called from a handler did not return; saw %v", r.names())
	}

	if c.Connection() != nil {
		t.Error("connection kept after Stop from a handler")
	}
	if r.count(events.Closed) != 1 || r.count(events.Stopped) != 1 {
		t.Errorf("events = %v", r.names())
	}

	// The client still serves calls afterwards.
	startClient(t, c)
	if c.Connection() == nil {
		t.Fatal("no connection after restarting")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

func TestClient_StopFromStartedHandler(t *testing.T) {
	srv := feedtest.NewServer()
	defer srv.Close()

	c := newTestClient(t, srv.URL(), nil)
	r := record(c)

	c.Subscribe(events.Started, func(events.Event) {
		c.Stop(Quiet())
	})

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	err := c.Start(ctx)
	if !feederrors.Is(err, feederrors.ErrCodeClosed) {
		t.Fatalf("Start() error = %v, want CLOSED", err)
	}

	if c.Connection() != nil {
		t.Error("connection kept after Stop from the started handler")
	}
	if r.count(events.Opened) != 0 {
		t.Errorf("opened emitted for a stopped connection: %v", r.names())
	}
	if r.count(events.Closed) != 1 {
		t.Errorf("closed = %d, want 1", r.count(events.Closed))
	}
}
