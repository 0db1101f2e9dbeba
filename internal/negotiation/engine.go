package negotiation

import (
	"fmt"
	"strings"
)

// SDPKind is the type of a session description. There are exactly two.
type SDPKind int

const (
	SDPOffer SDPKind = iota + 1
	SDPAnswer
)

func (k SDPKind) String() string {
	switch k {
	case SDPOffer:
		return "offer"
	case SDPAnswer:
		return "answer"
	default:
		return fmt.Sprintf("SDPKind(%d)", int(k))
	}
}

func (k SDPKind) MarshalText() ([]byte, error) {
	switch k {
	case SDPOffer, SDPAnswer:
		return []byte(k.String()), nil
	default:
		return nil, fmt.Errorf("invalid sdp kind %d", int(k))
	}
}

// UnmarshalText accepts "offer" and "answer" in any case.
func (k *SDPKind) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "offer":
		*k = SDPOffer
	case "answer":
		*k = SDPAnswer
	default:
		return fmt.Errorf("invalid sdp kind %q", string(b))
	}
	return nil
}

// SessionDescription is carried on the channel-name handler as
// {"kind":"offer","body":"v=0..."}.
type SessionDescription struct {
	Kind SDPKind `json:"kind"`
	SDP  string  `json:"body"`
}

// Candidate is one ICE candidate in browser RTCIceCandidateInit form.
type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// ChannelOptions configures a data channel. The zero value is unordered and
// reliable; DefaultChannelOptions is ordered and reliable.
type ChannelOptions struct {
	Ordered           bool
	MaxRetransmits    *uint16
	MaxPacketLifeTime *uint16
}

func DefaultChannelOptions() ChannelOptions {
	return ChannelOptions{Ordered: true}
}

type ChannelState int32

const (
	ChannelConnecting ChannelState = iota
	ChannelOpen
	ChannelClosing
	ChannelClosed
)

func (s ChannelState) String() string {
	switch s {
	case ChannelConnecting:
		return "connecting"
	case ChannelOpen:
		return "open"
	case ChannelClosing:
		return "closing"
	case ChannelClosed:
		return "closed"
	default:
		return fmt.Sprintf("ChannelState(%d)", int32(s))
	}
}

type ConnectionState int

const (
	ConnectionNew ConnectionState = iota
	ConnectionConnecting
	ConnectionConnected
	ConnectionDisconnected
	ConnectionFailed
	ConnectionClosed
)

func (s ConnectionState) String() string {
	switch s {
	case ConnectionNew:
		return "new"
	case ConnectionConnecting:
		return "connecting"
	case ConnectionConnected:
		return "connected"
	case ConnectionDisconnected:
		return "disconnected"
	case ConnectionFailed:
		return "failed"
	case ConnectionClosed:
		return "closed"
	default:
		return fmt.Sprintf("ConnectionState(%d)", int(s))
	}
}

type EventKind int

const (
	EventLocalCandidate EventKind = iota + 1
	EventGatheringComplete
	EventRemoteChannel
	EventChannelOpen
	EventChannelMessage
	EventChannelClosed
	EventChannelError
	EventConnectionState
)

// Event is reported by an engine connection. SessionID is the token the
// connection was created with, unique to one session instance; Channel identifies the engine channel for
// channel events and is compared by identity.
type Event struct {
	SessionID string
	Kind      EventKind

	Candidate Candidate
	Channel   DataChannel
	Data      []byte
	IsString  bool
	State     ConnectionState
	Err       error
}

// EventSink receives engine events. Implementations must not block.
type EventSink func(Event)

// Engine creates peer connections. Everything that touches ICE, DTLS and SCTP
// lives behind it.
type Engine interface {
	NewConnection(sessionID string, sink EventSink) (Connection, error)
}

type Connection interface {
	CreateChannel(label, protocol string, opts ChannelOptions) (DataChannel, error)
	CreateOffer() (SessionDescription, error)
	CreateAnswer() (SessionDescription, error)
	SetLocalDescription(SessionDescription) error
	SetRemoteDescription(SessionDescription) error
	AddICECandidate(Candidate) error
	Close() error
}

type DataChannel interface {
	Label() string
	Protocol() string
	Send(data []byte) error
	SendText(text string) error
	ReadyState() ChannelState
	Close() error
}
