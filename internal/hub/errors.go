package hub

import (
	"errors"
	"fmt"
)

var (
	ErrHubClosed        = errors.New("hub closed")
	ErrNotReady         = errors.New("endpoint not ready")
	ErrTooManyEndpoints = errors.New("too many endpoints")
	ErrUnknownPeer      = errors.New("unknown peer")
	ErrBackpressure     = errors.New("endpoint send queue full")
	ErrConnClosed       = errors.New("endpoint connection closed")
	ErrIDAllocation     = errors.New("failed to allocate unique endpoint id")
	ErrAlreadyRunning   = errors.New("hub already running")
	errNilConn          = errors.New("hub: nil conn")
)

// RoutingError reports an envelope that was not delivered.
type RoutingError struct {
	HandlerID string
	PeerID    string
	Err       error
}

func (e *RoutingError) Error() string {
	return fmt.Sprintf("route %q to %q: %v", e.HandlerID, e.PeerID, e.Err)
}

func (e *RoutingError) Unwrap() error { return e.Err }
