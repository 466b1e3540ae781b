package interfaces

import "liveclass/pkg/types"

// Sender is the outbound half of one live client connection.
// ARCHITECTURAL DISCOVERY: Rooms only ever see this abstraction, so the
// session layer can be tested with in-memory fakes and never touches sockets.
type Sender interface {
	// Send queues an event for delivery without blocking. It returns an error
	// when the event was dropped (closed connection or full buffer); callers
	// broadcasting to many recipients log and move on.
	Send(event types.Event) error

	// Close tears down the underlying transport. Safe to call more than once.
	Close() error
}
