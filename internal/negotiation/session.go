package negotiation

import (
	"fmt"
	"slices"
	"time"
)

type State int

const (
	StateIdle State = iota
	StateOffering
	StateAwaitingOffer
	StateAnswering
	StateConnected
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOffering:
		return "offering"
	case StateAwaitingOffer:
		return "awaiting-offer"
	case StateAnswering:
		return "answering"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

func (s State) terminal() bool { return s == StateFailed || s == StateClosed }

type Role int

const (
	RoleInitiator Role = iota + 1
	RoleResponder
)

func (r Role) String() string {
	switch r {
	case RoleInitiator:
		return "initiator"
	case RoleResponder:
		return "responder"
	default:
		return fmt.Sprintf("Role(%d)", int(r))
	}
}

// Session is the negotiation with one remote endpoint. It owns at most one
// engine connection for its whole life; all fields belong to the Manager's
// event loop.
type Session struct {
	localID  string
	remoteID string
	role     Role
	state    State

	conn     Connection
	token    string
	registry *Registry

	// name is the channel-name handler the offer and answer travel on.
	name     string
	nameHeld bool
	// handlers apply to remote-created channels with no listener of their own.
	handlers ChannelHandlers

	remoteDescSet bool
	pendingICE    []Candidate
	localDone     bool
	remoteDone    bool

	deadline  *time.Timer
	connected bool
}

func newSession(localID, remoteID string, role Role, state State, registry *Registry) *Session {
	return &Session{
		localID:  localID,
		remoteID: remoteID,
		role:     role,
		state:    state,
		registry: registry,
	}
}

// takePending returns the buffered remote candidates in arrival order and
// marks the remote description as set, so later candidates apply directly.
func (s *Session) takePending() []Candidate {
	s.remoteDescSet = true
	pending := s.pendingICE
	s.pendingICE = nil
	return pending
}

func (s *Session) stopDeadline() {
	if s.deadline != nil {
		s.deadline.Stop()
		s.deadline = nil
	}
}

// SessionInfo is a point-in-time view of a session.
type SessionInfo struct {
	RemoteID   string
	Role       Role
	State      State
	Channels   []string
	PendingICE int
	Connected  bool
}

func (s *Session) info() SessionInfo {
	names := make([]string, 0, len(s.registry.byName))
	for name := range s.registry.byName {
		names = append(names, name)
	}
	slices.Sort(names)
	return SessionInfo{
		RemoteID:   s.remoteID,
		Role:       s.role,
		State:      s.state,
		Channels:   names,
		PendingICE: len(s.pendingICE),
		Connected:  s.connected,
	}
}
