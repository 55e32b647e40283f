// Package bus carries feed notifications to other processes.
//
// A MessageBus publishes byte payloads on dot-separated subjects. The relay
// package uses it to fan strikes and connection lifecycle notifications out
// to downstream consumers.
//
// # Available Implementations
//
//   - NATSBus: publishes through a NATS server
//   - MemoryBus: in-process delivery for tests and single-binary setups
//
// # Subjects
//
// Subjects follow NATS conventions. Subscribers may use "*" to match one
// token and a trailing ">" to match one or more:
//
//	sub, _ := b.Subscribe("thunder.strike.*")
//	for msg := range sub.Messages() {
//	    // msg.Subject is e.g. "thunder.strike.SE"
//	}
package bus
