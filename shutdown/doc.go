// Package shutdown stops a feed process in order when it is signalled.
//
// Components register a ShutdownHandler with a phase. On SIGTERM or SIGINT
// (or an explicit Shutdown call) the coordinator runs the phases from the
// lowest number up; handlers sharing a phase run concurrently. Every handler
// receives the same context, which ends at the shutdown deadline.
//
// The feed binaries use three phases:
//
//   - PhaseClient: close the feed connection so no new notifications arrive
//   - PhaseRelay: flush and close the message bus
//   - PhaseTelemetry: export the remaining spans
//
// Usage:
//
//	coord := shutdown.NewCoordinator(shutdown.DefaultConfig())
//	coord.RegisterWithPhase("client", c, shutdown.PhaseClient)
//	coord.RegisterWithPhase("relay", r, shutdown.PhaseRelay)
//	coord.HandleSignals()
//	<-coord.Done()
package shutdown
