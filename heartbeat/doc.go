// Package heartbeat provides liveness detection for a push feed connection.
//
// # Overview
//
// A feed that only ever pushes data cannot be asked whether it is alive, so the
// server interleaves heartbeat messages with real data. A Monitor records when
// the last heartbeat arrived and polls that timestamp on a ticker. When the
// silence exceeds the configured timeout, the OnMissed callback is invoked.
//
// # Usage
//
//	monitor := heartbeat.New(heartbeat.MonitorConfig{
//	    Timeout:       35 * time.Second,
//	    CheckInterval: time.Second,
//	    OnMissed: func(silence time.Duration) {
//	        log.Printf("no heartbeat for %s", silence)
//	    },
//	})
//	monitor.Start()
//	defer monitor.Stop()
//
//	// on every heartbeat message:
//	monitor.Beat()
//
// # Re-firing
//
// OnMissed runs on every tick while the timeout is exceeded, not once per
// silent period. Handlers must be idempotent or call Stop.
//
// OnMissed runs on the monitor's polling goroutine and never inside Beat or
// Start. It must not block; hand the signal to another goroutine if work is
// needed. Calling Stop from inside OnMissed is allowed.
package heartbeat
