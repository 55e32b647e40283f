package heartbeat

import (
	"sync"
	"sync/atomic"
	"time"
)

// Monitor tracks the time of the last heartbeat and reports silences longer
// than its timeout.
type Monitor struct {
	timeout       time.Duration
	checkInterval time.Duration
	onMissed      MissedFunc
	now           func() time.Time

	mu       sync.Mutex
	lastBeat time.Time
	stopCh   chan struct{}
	doneCh   chan struct{}

	inMissed atomic.Bool
}

// New creates a stopped monitor. Zero durations fall back to the defaults.
func New(cfg MonitorConfig) *Monitor {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultMonitorConfig().Timeout
	}

	checkInterval := cfg.CheckInterval
	if checkInterval <= 0 {
		checkInterval = DefaultMonitorConfig().CheckInterval
	}

	onMissed := cfg.OnMissed
	if onMissed == nil {
		onMissed = func(time.Duration) {}
	}

	return &Monitor{
		timeout:       timeout,
		checkInterval: checkInterval,
		onMissed:      onMissed,
		now:           time.Now,
		lastBeat:      time.Now(),
	}
}

// Start resets the last heartbeat to now and begins polling.
// Starting a running monitor replaces its ticker.
func (m *Monitor) Start() {
	m.Stop()

	m.mu.Lock()
	m.lastBeat = m.now()
	stopCh := make(chan struct{})
	doneCh := make(chan struct{})
	m.stopCh = stopCh
	m.doneCh = doneCh
	m.mu.Unlock()

	go m.run(stopCh, doneCh)
}

// Stop cancels polling. It is a no-op on a stopped monitor.
// Stop waits for the polling goroutine to exit unless OnMissed is running,
// which lets OnMissed call Stop itself.
func (m *Monitor) Stop() {
	m.mu.Lock()
	stopCh, doneCh := m.stopCh, m.doneCh
	m.stopCh, m.doneCh = nil, nil
	m.mu.Unlock()

	if stopCh == nil {
		return
	}
	close(stopCh)

	if m.inMissed.Load() {
		return
	}
	<-doneCh
}

// Beat records a heartbeat. The ticker is not touched.
func (m *Monitor) Beat() {
	m.mu.Lock()
	m.lastBeat = m.now()
	m.mu.Unlock()
}

// LastBeat returns the time of the last heartbeat (or of the last Start).
func (m *Monitor) LastBeat() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastBeat
}

// Running reports whether the monitor is polling.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopCh != nil
}

// Timeout returns the configured timeout.
func (m *Monitor) Timeout() time.Duration {
	return m.timeout
}

// CheckInterval returns the configured poll interval.
func (m *Monitor) CheckInterval() time.Duration {
	return m.checkInterval
}

func (m *Monitor) run(stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			select {
			case <-stopCh:
				return
			default:
			}
			m.check()
		}
	}
}

// check invokes onMissed if the silence exceeds the timeout.
func (m *Monitor) check() {
	m.mu.Lock()
	silence := m.now().Sub(m.lastBeat)
	m.mu.Unlock()

	if silence <= m.timeout {
		return
	}

	m.inMissed.Store(true)
	defer m.inMissed.Store(false)
	m.onMissed(silence)
}
