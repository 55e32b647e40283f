package client

import (
	"github.com/vinayprograms/thunderclient/logging"
	"github.com/vinayprograms/thunderclient/telemetry"
	"github.com/vinayprograms/thunderclient/transport"
)

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l.WithComponent("client")
		}
	}
}

// WithTransportConfig overrides the socket settings.
func WithTransportConfig(cfg transport.Config) Option {
	return func(c *Client) {
		c.transport = cfg
	}
}

// WithTracer sets the tracer used for connection spans. The default is the
// global tracer.
func WithTracer(t *telemetry.Tracer) Option {
	return func(c *Client) {
		if t != nil {
			c.tracer = t
		}
	}
}

// CallOption modifies a single Start or Stop call.
type CallOption func(*callOptions)

type callOptions struct {
	quiet bool
}

// Quiet suppresses the started or stopped notification of the call.
func Quiet() CallOption {
	return func(o *callOptions) {
		o.quiet = true
	}
}

func applyCallOptions(opts []CallOption) callOptions {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
