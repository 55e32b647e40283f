package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sort"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/vinayprograms/thunderclient/logging"
)

// Coordinator runs registered handlers phase by phase, once.
type Coordinator struct {
	config Config
	log    *logging.Logger

	mu          sync.Mutex
	handlers    []registration
	started     atomic.Bool
	shutdownErr error
	done        chan struct{}
	result      *ShutdownResult
	signal      string
	signalChan  chan os.Signal
}

// NewCoordinator creates a new shutdown coordinator.
func NewCoordinator(config Config) *Coordinator {
	if config.DefaultTimeout == 0 {
		config.DefaultTimeout = DefaultConfig().DefaultTimeout
	}
	if config.DefaultPhase == 0 {
		config.DefaultPhase = DefaultConfig().DefaultPhase
	}

	log := config.Logger
	if log == nil {
		log = logging.Discard()
	}

	return &Coordinator{
		config:     config,
		log:        log.WithComponent("shutdown"),
		done:       make(chan struct{}),
		signalChan: make(chan os.Signal, 1),
	}
}

// Register adds a handler in the default phase.
func (c *Coordinator) Register(name string, handler ShutdownHandler) {
	c.RegisterWithPhase(name, handler, c.config.DefaultPhase)
}

// RegisterWithPhase adds a handler with a specific phase.
func (c *Coordinator) RegisterWithPhase(name string, handler ShutdownHandler, phase int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.handlers = append(c.handlers, registration{
		name:    name,
		handler: handler,
		phase:   phase,
	})
}

// RegisterFuncWithPhase registers a function as a handler.
func (c *Coordinator) RegisterFuncWithPhase(name string, fn func(ctx context.Context) error, phase int) {
	c.RegisterWithPhase(name, ShutdownFunc(fn), phase)
}

// Shutdown runs every handler. Later calls return ErrAlreadyShutdown while
// the first is running and its error after it finished.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		select {
		case <-c.done:
			return c.shutdownErr
		default:
			return ErrAlreadyShutdown
		}
	}

	c.shutdownErr = c.doShutdown(ctx)
	close(c.done)
	return c.shutdownErr
}

// ShutdownWithTimeout runs Shutdown with a deadline. Zero uses the default.
func (c *Coordinator) ShutdownWithTimeout(timeout time.Duration) error {
	if timeout == 0 {
		timeout = c.config.DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return c.Shutdown(ctx)
}

// HandleSignals shuts down on the first SIGTERM or SIGINT.
func (c *Coordinator) HandleSignals() {
	signal.Notify(c.signalChan, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		select {
		case sig := <-c.signalChan:
			signal.Stop(c.signalChan)
			c.mu.Lock()
			c.signal = sig.String()
			c.mu.Unlock()
			c.log.Info("signal_received", map[string]interface{}{"signal": sig.String()})
			_ = c.ShutdownWithTimeout(c.config.DefaultTimeout)
		case <-c.done:
			signal.Stop(c.signalChan)
		}
	}()
}

// Trigger simulates a SIGTERM for HandleSignals.
func (c *Coordinator) Trigger() {
	select {
	case c.signalChan <- syscall.SIGTERM:
	default:
	}
}

// Done returns a channel that is closed when shutdown is complete.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Err returns the shutdown error once Done is closed.
func (c *Coordinator) Err() error {
	select {
	case <-c.done:
		return c.shutdownErr
	default:
		return nil
	}
}

// Result returns the detailed shutdown result once Done is closed.
func (c *Coordinator) Result() *ShutdownResult {
	select {
	case <-c.done:
		return c.result
	default:
		return nil
	}
}

func (c *Coordinator) doShutdown(ctx context.Context) error {
	start := time.Now()

	c.mu.Lock()
	handlers := make([]registration, len(c.handlers))
	copy(handlers, c.handlers)
	sig := c.signal
	c.mu.Unlock()

	sort.SliceStable(handlers, func(i, j int) bool {
		return handlers[i].phase < handlers[j].phase
	})

	result := &ShutdownResult{
		Signal:  sig,
		Results: make([]HandlerResult, 0, len(handlers)),
	}
	finish := func(err error) error {
		result.Err = err
		result.TotalDuration = time.Since(start)
		c.result = result
		c.log.Info("shutdown_complete", map[string]interface{}{
			"duration": result.TotalDuration.String(),
			"failed":   len(result.FailedHandlers()),
		})
		return err
	}

	var overallErr error
	for _, group := range groupByPhase(handlers) {
		select {
		case <-ctx.Done():
			return finish(ErrTimeout)
		default:
		}

		phaseResults := c.executePhase(ctx, group)
		result.Results = append(result.Results, phaseResults...)

		for _, hr := range phaseResults {
			if hr.Err == nil {
				continue
			}
			overallErr = ErrHandlerFailed
			if !c.config.ContinueOnError {
				return finish(overallErr)
			}
		}
	}

	return finish(overallErr)
}

// executePhase runs all handlers in a phase concurrently.
func (c *Coordinator) executePhase(ctx context.Context, handlers []registration) []HandlerResult {
	results := make([]HandlerResult, len(handlers))
	var wg sync.WaitGroup

	for i, reg := range handlers {
		wg.Add(1)
		go func(idx int, r registration) {
			defer wg.Done()

			start := time.Now()
			err := r.handler.OnShutdown(ctx)

			hr := HandlerResult{
				Name:     r.name,
				Phase:    r.phase,
				Duration: time.Since(start),
				Err:      err,
			}
			results[idx] = hr

			fields := map[string]interface{}{
				"handler":  hr.Name,
				"phase":    hr.Phase,
				"duration": hr.Duration.String(),
			}
			if err != nil {
				fields["error"] = err.Error()
				c.log.Warn("handler_failed", fields)
			} else {
				c.log.Debug("handler_done", fields)
			}

			if c.config.OnProgress != nil {
				c.config.OnProgress(hr)
			}
		}(i, reg)
	}

	wg.Wait()
	return results
}

// groupByPhase splits handlers sorted by phase into runs of equal phase.
func groupByPhase(handlers []registration) [][]registration {
	var groups [][]registration
	for i, h := range handlers {
		if i == 0 || h.phase != handlers[i-1].phase {
			groups = append(groups, nil)
		}
		groups[len(groups)-1] = append(groups[len(groups)-1], h)
	}
	return groups
}
