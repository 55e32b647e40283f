package heartbeat

import (
	"time"
)

// MissedFunc is called with the time elapsed since the last heartbeat.
type MissedFunc func(silence time.Duration)

// MonitorConfig configures a heartbeat monitor.
type MonitorConfig struct {
	// Timeout is the longest allowed silence between heartbeats.
	// Default: 35 seconds
	Timeout time.Duration

	// CheckInterval is how often the silence is checked.
	// Default: 1 second
	CheckInterval time.Duration

	// OnMissed is invoked on every check that finds the timeout exceeded.
	OnMissed MissedFunc
}

// DefaultMonitorConfig returns configuration with the feed's defaults.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Timeout:       35 * time.Second,
		CheckInterval: time.Second,
	}
}
