package negotiation

import (
	"encoding/json"
	"fmt"
)

// iceMessage is the payload on an ICE handler: one candidate, or Done after
// the sender finished gathering.
type iceMessage struct {
	Candidate        string  `json:"candidate,omitempty"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
	Done             bool    `json:"done,omitempty"`
}

func encodeCandidate(c Candidate) (json.RawMessage, error) {
	return json.Marshal(iceMessage{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	})
}

func encodeEndOfCandidates() json.RawMessage {
	return json.RawMessage(`{"done":true}`)
}

// decodeICE returns the candidate carried by payload, or done=true for an
// end-of-candidates marker.
func decodeICE(payload json.RawMessage) (c Candidate, done bool, err error) {
	var msg iceMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Candidate{}, false, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if msg.Done {
		return Candidate{}, true, nil
	}
	if msg.Candidate == "" {
		return Candidate{}, false, fmt.Errorf("%w: empty candidate", ErrInvalidPayload)
	}
	return Candidate{
		Candidate:        msg.Candidate,
		SDPMid:           msg.SDPMid,
		SDPMLineIndex:    msg.SDPMLineIndex,
		UsernameFragment: msg.UsernameFragment,
	}, false, nil
}

func encodeDescription(d SessionDescription) (json.RawMessage, error) {
	return json.Marshal(d)
}

func decodeDescription(payload json.RawMessage) (SessionDescription, error) {
	var d SessionDescription
	if err := json.Unmarshal(payload, &d); err != nil {
		return SessionDescription{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if d.Kind != SDPOffer && d.Kind != SDPAnswer {
		return SessionDescription{}, fmt.Errorf("%w: missing kind", ErrInvalidPayload)
	}
	if d.SDP == "" {
		return SessionDescription{}, fmt.Errorf("%w: empty body", ErrInvalidPayload)
	}
	return d, nil
}
