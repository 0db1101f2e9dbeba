package negotiation

import (
	"errors"
	"fmt"
)

var (
	ErrChannelNotOpen           = errors.New("negotiation: channel not open")
	ErrChannelNotFound          = errors.New("negotiation: channel not found")
	ErrSessionNotFound          = errors.New("negotiation: session not found")
	ErrIdentifierSpaceExhausted = errors.New("negotiation: no free channel identifier")
	ErrNegotiationTimeout       = errors.New("negotiation: deadline exceeded")
	ErrRenegotiationUnsupported = errors.New("negotiation: renegotiation unsupported")
	ErrNoListener               = errors.New("negotiation: no listener for channel")
	ErrUnexpectedDescription    = errors.New("negotiation: unexpected session description")
	ErrConnectionFailed         = errors.New("negotiation: connection failed")
	ErrUndeliverable            = errors.New("negotiation: offer could not be delivered")
	ErrInvalidPayload           = errors.New("negotiation: invalid signaling payload")
	ErrSelfSession              = errors.New("negotiation: cannot negotiate with self")
	ErrManagerClosed            = errors.New("negotiation: manager closed")
	errNilChannel               = errors.New("negotiation: engine returned nil channel")
)

// Operations reported in NegotiationError.Op.
const (
	OpOffer      = "offer"
	OpAnswer     = "answer"
	OpSetRemote  = "set-remote"
	OpSetLocal   = "set-local"
	OpCandidate  = "candidate"
	OpDeadline   = "deadline"
	OpConnection = "connection"
	OpChannel    = "channel"
)

// NegotiationError describes a failed step of the handshake with one remote
// endpoint. SessionID is the remote endpoint id.
type NegotiationError struct {
	SessionID string
	Op        string
	Err       error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("negotiation with %q: %s: %v", e.SessionID, e.Op, e.Err)
}

func (e *NegotiationError) Unwrap() error { return e.Err }

// IdentifierCollisionError is returned when every attempt to mint a channel
// identifier hit one already in use.
type IdentifierCollisionError struct {
	Attempts int
}

func (e *IdentifierCollisionError) Error() string {
	return fmt.Sprintf("negotiation: channel identifier collided %d times", e.Attempts)
}

func (e *IdentifierCollisionError) Unwrap() error { return ErrIdentifierSpaceExhausted }
