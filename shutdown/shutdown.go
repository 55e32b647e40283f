package shutdown

import (
	"context"
	"errors"
	"time"

	"github.com/vinayprograms/thunderclient/logging"
)

// Common errors.
var (
	// ErrAlreadyShutdown indicates shutdown was already initiated.
	ErrAlreadyShutdown = errors.New("shutdown already initiated")

	// ErrTimeout indicates shutdown did not complete within the timeout.
	ErrTimeout = errors.New("shutdown timeout exceeded")

	// ErrHandlerFailed indicates one or more handlers failed during shutdown.
	ErrHandlerFailed = errors.New("one or more handlers failed")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Phases used by the feed binaries. Lower phases shut down first.
const (
	PhaseClient    = 10
	PhaseRelay     = 20
	PhaseTelemetry = 30
)

// ShutdownHandler is implemented by components that need graceful shutdown.
type ShutdownHandler interface {
	// OnShutdown releases the component's resources. ctx ends at the
	// shutdown deadline.
	OnShutdown(ctx context.Context) error
}

// ShutdownFunc is a convenience type for simple shutdown functions.
type ShutdownFunc func(ctx context.Context) error

// OnShutdown implements ShutdownHandler.
func (f ShutdownFunc) OnShutdown(ctx context.Context) error {
	return f(ctx)
}

// HandlerResult contains the result of a single handler's shutdown.
type HandlerResult struct {
	Name     string
	Phase    int
	Duration time.Duration
	Err      error
}

// ShutdownResult contains the complete shutdown result.
type ShutdownResult struct {
	// Signal that triggered the shutdown, empty when Shutdown was called.
	Signal string

	TotalDuration time.Duration
	Results       []HandlerResult

	// Err is the overall error (nil if all handlers succeeded).
	Err error
}

// Failed returns true if any handler failed.
func (r *ShutdownResult) Failed() bool {
	return r.Err != nil
}

// FailedHandlers returns the names of handlers that failed.
func (r *ShutdownResult) FailedHandlers() []string {
	var failed []string
	for _, hr := range r.Results {
		if hr.Err != nil {
			failed = append(failed, hr.Name)
		}
	}
	return failed
}

// Config configures the shutdown coordinator.
type Config struct {
	// DefaultTimeout bounds a signal-triggered shutdown and
	// ShutdownWithTimeout(0).
	// Default: 10 seconds
	DefaultTimeout time.Duration

	// DefaultPhase is assigned to handlers registered without a phase.
	// Default: 100
	DefaultPhase int

	// ContinueOnError runs later phases even if a handler failed.
	ContinueOnError bool

	// Logger receives one line per handler. Nil discards.
	Logger *logging.Logger

	// OnProgress is called when each handler completes.
	OnProgress func(result HandlerResult)
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.DefaultTimeout < 0 {
		return ErrInvalidConfig
	}
	return nil
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DefaultTimeout:  10 * time.Second,
		DefaultPhase:    100,
		ContinueOnError: true,
	}
}

type registration struct {
	name    string
	handler ShutdownHandler
	phase   int
}
