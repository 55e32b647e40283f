// OpenTelemetry tracing support for feed connections.
package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Tracer wraps OpenTelemetry tracing with feed-specific helpers.
type Tracer struct {
	tracer trace.Tracer
	debug  bool // When true, include credentials identity and raw frames
}

var (
	globalTracer *Tracer
	tracerMu     sync.RWMutex
)

// SetGlobalTracer sets the global tracer instance.
func SetGlobalTracer(t *Tracer) {
	tracerMu.Lock()
	defer tracerMu.Unlock()
	globalTracer = t
}

// GetTracer returns the global tracer, or a no-op tracer if not set.
func GetTracer() *Tracer {
	tracerMu.RLock()
	defer tracerMu.RUnlock()
	if globalTracer == nil {
		return NoopTracer()
	}
	return globalTracer
}

// NoopTracer returns a tracer that records nothing.
func NoopTracer() *Tracer {
	return &Tracer{tracer: noop.NewTracerProvider().Tracer("")}
}

// NewTracer creates a new tracer with the given name.
func NewTracer(name string, debug bool) *Tracer {
	return &Tracer{
		tracer: otel.Tracer(name),
		debug:  debug,
	}
}

// NewTracerFromProvider creates a tracer backed by tp instead of the global
// provider.
func NewTracerFromProvider(tp trace.TracerProvider, name string, debug bool) *Tracer {
	return &Tracer{
		tracer: tp.Tracer(name),
		debug:  debug,
	}
}

// SetDebug enables or disables debug mode.
func (t *Tracer) SetDebug(debug bool) {
	t.debug = debug
}

// Debug returns whether debug mode is enabled.
func (t *Tracer) Debug() bool {
	return t.debug
}

// StartSpan starts a new span with the given name.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// --- Connection Spans ---

// ConnectSpanOptions describes one connection attempt.
type ConnectSpanOptions struct {
	URL         string
	ConnID      string
	Reconnect   bool
	StatusCode  int    // Handshake status when the server refused the upgrade
	Subprotocol string // Negotiated sub-protocol on success
	Username    string // Only in debug mode
}

// StartConnectSpan starts a span covering a connection from dial until it
// closes.
func (t *Tracer) StartConnectSpan(ctx context.Context, url string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "feed.connect",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("feed.url", url)),
	)
}

// MarkOpened records the completed handshake on a connect span.
func (t *Tracer) MarkOpened(span trace.Span, took time.Duration, subprotocol string) {
	span.AddEvent("opened", trace.WithAttributes(
		attribute.Int64("feed.handshake_ms", took.Milliseconds()),
		attribute.String("feed.subprotocol", subprotocol),
	))
}

// EndConnectSpan ends a connect span with attributes.
func (t *Tracer) EndConnectSpan(span trace.Span, opts ConnectSpanOptions, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("feed.url", opts.URL),
		attribute.String("feed.conn_id", opts.ConnID),
		attribute.Bool("feed.reconnect", opts.Reconnect),
	}

	if opts.StatusCode != 0 {
		attrs = append(attrs, attribute.Int("feed.handshake_status", opts.StatusCode))
	}
	if opts.Subprotocol != "" {
		attrs = append(attrs, attribute.String("feed.subprotocol", opts.Subprotocol))
	}
	if t.debug && opts.Username != "" {
		attrs = append(attrs, attribute.String("feed.username", opts.Username))
	}

	span.SetAttributes(attrs...)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.End()
}

// --- Reconnect Spans ---

// ReconnectSpanOptions describes a liveness-triggered reconnect.
type ReconnectSpanOptions struct {
	ConnID   string // Connection being replaced
	LastBeat time.Time
	Silence  time.Duration
	Timeout  time.Duration
}

// RecordReconnect records a zero-length span marking a reconnect after a
// missed heartbeat.
func (t *Tracer) RecordReconnect(ctx context.Context, opts ReconnectSpanOptions) {
	_, span := t.tracer.Start(ctx, "feed.reconnect", trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(
		attribute.String("feed.conn_id", opts.ConnID),
		attribute.String("feed.last_beat", opts.LastBeat.UTC().Format(time.RFC3339Nano)),
		attribute.Int64("feed.silence_ms", opts.Silence.Milliseconds()),
		attribute.Int64("feed.timeout_ms", opts.Timeout.Milliseconds()),
	)
	span.End()
}

// --- Relay Spans ---

// RelaySpanOptions describes one notification forwarded to a bus.
type RelaySpanOptions struct {
	Subject string
	Event   string
	Payload []byte // Only in debug mode
}

// StartRelaySpan starts a span for publishing a notification.
func (t *Tracer) StartRelaySpan(ctx context.Context, event string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "relay."+event, trace.WithSpanKind(trace.SpanKindProducer))
}

// EndRelaySpan ends a relay span with attributes.
func (t *Tracer) EndRelaySpan(span trace.Span, opts RelaySpanOptions, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("relay.subject", opts.Subject),
		attribute.String("relay.event", opts.Event),
	}
	if t.debug && len(opts.Payload) > 0 {
		attrs = append(attrs, attribute.String("relay.payload", truncate(string(opts.Payload), 2000)))
	}

	span.SetAttributes(attrs...)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.End()
}

// --- Context Propagation ---

// InjectContext injects trace context into a carrier for cross-process propagation.
func InjectContext(ctx context.Context, carrier propagation.TextMapCarrier) {
	otel.GetTextMapPropagator().Inject(ctx, carrier)
}

// ExtractContext extracts trace context from a carrier.
func ExtractContext(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

// MapCarrier is a simple map-based TextMapCarrier for context propagation.
type MapCarrier map[string]string

func (c MapCarrier) Get(key string) string {
	return c[key]
}

func (c MapCarrier) Set(key, value string) {
	c[key] = value
}

func (c MapCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
