package signaling

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

type FrameType string

const (
	FrameRegister       FrameType = "register"
	FrameReady          FrameType = "ready"
	FramePeer           FrameType = "peer"
	FrameMessageToPeer  FrameType = "MessageToPeer"
	FrameDeliveryFailed FrameType = "delivery_failed"
	FrameError          FrameType = "error"
)

// Error codes carried by FrameError.
const (
	CodeBadFrame         = "bad_frame"
	CodeNotRegistered    = "not_registered"
	CodeNotReady         = "not_ready"
	CodeClientIDMismatch = "client_id_mismatch"
	CodeTooManyEndpoints = "too_many_endpoints"
	CodeRateLimited      = "rate_limited"
	CodeMessageTooLarge  = "message_too_large"
	CodeInternal         = "internal"
)

// Frame is one JSON text message on the relay WebSocket. Which fields are
// populated depends on Type; see validate.
type Frame struct {
	Type      FrameType       `json:"type"`
	Ready     *bool           `json:"ready,omitempty"`
	ClientID  string          `json:"client_id,omitempty"`
	PeerID    string          `json:"peer_id,omitempty"`
	HandlerID string          `json:"handler_id,omitempty"`
	Message   json.RawMessage `json:"message,omitempty"`
	Code      string          `json:"code,omitempty"`
	Reason    string          `json:"reason,omitempty"`
}

func RegisterFrame(ready bool) Frame {
	return Frame{Type: FrameRegister, Ready: &ready}
}

func ReadyFrame(clientID string) Frame {
	return Frame{Type: FrameReady, ClientID: clientID}
}

func PeerFrame(peerID string) Frame {
	return Frame{Type: FramePeer, PeerID: peerID}
}

func ErrorFrame(code, reason string) Frame {
	return Frame{Type: FrameError, Code: code, Reason: reason}
}

func DeliveryFailedFrame(handlerID, peerID, reason string) Frame {
	return Frame{Type: FrameDeliveryFailed, HandlerID: handlerID, PeerID: peerID, Reason: reason}
}

// OutboundFrame encodes env from the sender's perspective: peer_id is the
// destination and client_id is the sender.
func OutboundFrame(env Envelope) Frame {
	return Frame{
		Type:      FrameMessageToPeer,
		HandlerID: env.HandlerID,
		PeerID:    env.ToID,
		ClientID:  env.FromID,
		Message:   env.Payload,
	}
}

// Outbound is the inverse of OutboundFrame.
func (f Frame) Outbound() Envelope {
	return Envelope{HandlerID: f.HandlerID, FromID: f.ClientID, ToID: f.PeerID, Payload: f.Message}
}

// InboundFrame encodes env from the recipient's perspective: peer_id is the
// sender and client_id is the recipient.
func InboundFrame(env Envelope) Frame {
	return Frame{
		Type:      FrameMessageToPeer,
		HandlerID: env.HandlerID,
		PeerID:    env.FromID,
		ClientID:  env.ToID,
		Message:   env.Payload,
	}
}

// Inbound is the inverse of InboundFrame.
func (f Frame) Inbound() Envelope {
	return Envelope{HandlerID: f.HandlerID, FromID: f.PeerID, ToID: f.ClientID, Payload: f.Message}
}

// ParseFrame strictly decodes a single frame: unknown fields, trailing data and
// frames missing required fields are rejected.
func ParseFrame(data []byte) (Frame, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var f Frame
	if err := dec.Decode(&f); err != nil {
		return Frame{}, err
	}
	if err := f.validate(); err != nil {
		return Frame{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Frame{}, fmt.Errorf("unexpected trailing data")
	}
	return f, nil
}

func (f Frame) validate() error {
	switch f.Type {
	case FrameRegister:
		if f.Ready == nil {
			return fmt.Errorf("register frame missing ready")
		}
		if f.ClientID != "" || f.PeerID != "" || f.HandlerID != "" || len(f.Message) != 0 {
			return fmt.Errorf("register frame has unexpected fields")
		}
	case FrameReady:
		if f.ClientID == "" {
			return fmt.Errorf("ready frame missing client_id")
		}
	case FramePeer:
		if f.PeerID == "" {
			return fmt.Errorf("peer frame missing peer_id")
		}
	case FrameMessageToPeer:
		if f.HandlerID == "" || f.PeerID == "" {
			return fmt.Errorf("MessageToPeer frame missing handler_id/peer_id")
		}
		if len(f.Message) == 0 {
			return fmt.Errorf("MessageToPeer frame missing message")
		}
		if f.Ready != nil || f.Code != "" || f.Reason != "" {
			return fmt.Errorf("MessageToPeer frame has unexpected fields")
		}
	case FrameDeliveryFailed:
		if f.HandlerID == "" || f.PeerID == "" {
			return fmt.Errorf("delivery_failed frame missing handler_id/peer_id")
		}
	case FrameError:
		if f.Code == "" {
			return fmt.Errorf("error frame missing code")
		}
	default:
		return fmt.Errorf("unsupported frame type %q", f.Type)
	}
	return nil
}
