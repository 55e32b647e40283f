// Package relay republishes feed notifications on a message bus.
//
// Each notification becomes one JSON Envelope. Strikes go to
// <prefix>.strike.<countryCode>, heartbeats to <prefix>.heartbeat and
// lifecycle notifications to <prefix>.<name> (for example thunder.timeout),
// so consumers can subscribe to exactly what they need:
//
//	r := relay.New(natsBus, relay.Config{SubjectPrefix: "thunder"})
//	r.Attach(client.Events())
package relay

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vinayprograms/thunderclient/bus"
	"github.com/vinayprograms/thunderclient/errors"
	"github.com/vinayprograms/thunderclient/events"
	"github.com/vinayprograms/thunderclient/logging"
	"github.com/vinayprograms/thunderclient/telemetry"
)

// DefaultSubjectPrefix is used when Config.SubjectPrefix is empty.
const DefaultSubjectPrefix = "thunder"

// Envelope is the JSON payload published for every notification.
type Envelope struct {
	Event    events.Name     `json:"event"`
	At       time.Time       `json:"at"`
	ConnID   string          `json:"connId,omitempty"`
	Strike   json.RawMessage `json:"strike,omitempty"`
	LastBeat *time.Time      `json:"lastBeat,omitempty"`
	Error    *errors.Error   `json:"error,omitempty"`

	// Trace carries the W3C trace context of the publish span.
	Trace telemetry.MapCarrier `json:"trace,omitempty"`
}

// Config configures a Relay.
type Config struct {
	// SubjectPrefix is the first subject token. Default: "thunder".
	SubjectPrefix string

	// Events lists the notifications to forward. Default: all.
	Events []events.Name
}

// Option configures a Relay.
type Option func(*Relay)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Relay) {
		if l != nil {
			r.log = l.WithComponent("relay")
		}
	}
}

// WithTracer sets the tracer used for publish spans.
func WithTracer(t *telemetry.Tracer) Option {
	return func(r *Relay) {
		if t != nil {
			r.tracer = t
		}
	}
}

// Relay forwards notifications from an emitter to a bus.
type Relay struct {
	bus    bus.MessageBus
	prefix string
	names  []events.Name
	log    *logging.Logger
	tracer *telemetry.Tracer

	mu      sync.Mutex
	emitter events.Emitter
	subs    []string

	published atomic.Int64
	failed    atomic.Int64
}

// New creates a relay publishing to b.
func New(b bus.MessageBus, cfg Config, opts ...Option) *Relay {
	prefix := strings.Trim(cfg.SubjectPrefix, ".")
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	names := cfg.Events
	if len(names) == 0 {
		names = events.All
	}

	r := &Relay{
		bus:    b,
		prefix: prefix,
		names:  names,
		log:    logging.Discard(),
		tracer: telemetry.GetTracer(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Attach subscribes to em. A relay follows one emitter at a time; attaching
// again detaches from the previous one.
func (r *Relay) Attach(em events.Emitter) {
	r.Detach()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.emitter = em
	for _, name := range r.names {
		r.subs = append(r.subs, em.Subscribe(name, r.forward))
	}
}

// Detach removes the relay's subscriptions.
func (r *Relay) Detach() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.emitter == nil {
		return
	}
	for _, id := range r.subs {
		r.emitter.Unsubscribe(id)
	}
	r.subs = nil
	r.emitter = nil
}

// Subject returns the subject ev is published on.
func (r *Relay) Subject(ev events.Event) string {
	switch ev.Name {
	case events.Strike:
		cc := "unknown"
		if ev.Strike != nil && ev.Strike.CountryCode != "" {
			cc = sanitizeToken(ev.Strike.CountryCode)
		}
		return r.prefix + ".strike." + cc
	default:
		return r.prefix + "." + string(ev.Name)
	}
}

// Envelope builds the payload for ev.
func (r *Relay) Envelope(ev events.Event) (*Envelope, error) {
	env := &Envelope{
		Event:  ev.Name,
		At:     ev.At,
		ConnID: ev.ConnID,
	}

	if ev.Strike != nil {
		if len(ev.Strike.Raw) > 0 {
			env.Strike = ev.Strike.Raw
		} else {
			data, err := json.Marshal(ev.Strike)
			if err != nil {
				return nil, errors.WrapWithCode(err, errors.ErrCodeInternal, "marshaling strike")
			}
			env.Strike = data
		}
	}
	if !ev.LastBeat.IsZero() {
		lb := ev.LastBeat
		env.LastBeat = &lb
	}
	if ev.Err != nil {
		var feedErr *errors.Error
		if stderrors.As(ev.Err, &feedErr) {
			env.Error = feedErr
		} else {
			env.Error = errors.Wrap(ev.Err, "transport error", errors.WithConnID(ev.ConnID))
		}
	}
	return env, nil
}

func (r *Relay) forward(ev events.Event) {
	subject := r.Subject(ev)
	ctx, span := r.tracer.StartRelaySpan(context.Background(), string(ev.Name))

	env, err := r.Envelope(ev)
	var data []byte
	if err == nil {
		env.Trace = telemetry.MapCarrier{}
		telemetry.InjectContext(ctx, env.Trace)
		data, err = json.Marshal(env)
		if err != nil {
			err = errors.WrapWithCode(err, errors.ErrCodeInternal, "marshaling envelope")
		}
	}
	if err == nil {
		err = r.bus.Publish(subject, data)
	}

	r.tracer.EndRelaySpan(span, telemetry.RelaySpanOptions{
		Subject: subject,
		Event:   string(ev.Name),
		Payload: data,
	}, err)

	if err != nil {
		r.failed.Add(1)
		r.log.Warn("publish_failed", map[string]interface{}{
			"subject": subject,
			"error":   err.Error(),
		})
		return
	}
	r.published.Add(1)
}

// Stats returns how many notifications were published and how many failed.
func (r *Relay) Stats() (published, failed int64) {
	return r.published.Load(), r.failed.Load()
}

// OnShutdown detaches, flushes the bus and closes it.
func (r *Relay) OnShutdown(ctx context.Context) error {
	r.Detach()

	done := make(chan error, 1)
	go func() {
		err := r.bus.Flush()
		if cerr := r.bus.Close(); err == nil {
			err = cerr
		}
		done <- err
	}()

	select {
	case err := <-done:
		if err == bus.ErrClosed {
			return nil
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func sanitizeToken(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, s)
}
