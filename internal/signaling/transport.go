package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
)

// Envelope is a handler-addressed message between two endpoints. Payload is
// opaque to every relay.
type Envelope struct {
	HandlerID string
	FromID    string
	ToID      string
	Payload   json.RawMessage
}

// Transport sends and receives envelopes. Send is fire-and-forget: a nil error
// only means the envelope left this process. Subscribe registers a listener
// invoked once per matching envelope until cancel is called.
type Transport interface {
	Send(ctx context.Context, env Envelope) error
	Subscribe(handlerID string, fn func(Envelope)) (cancel func())
}

// ICEHandlerID names the handler carrying candidates sent from one endpoint to
// another. The receiving side subscribes with the arguments swapped.
func ICEHandlerID(fromID, toID string) string {
	return "ice:" + fromID + ":" + toID
}

var ErrUndeliverable = errors.New("signaling: envelope undeliverable")

// DeliveryError reports that the relay could not deliver an envelope.
type DeliveryError struct {
	HandlerID string
	PeerID    string
	Reason    string
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("signaling: delivery of %q to %q failed: %s", e.HandlerID, e.PeerID, e.Reason)
}

func (e *DeliveryError) Unwrap() error { return ErrUndeliverable }

// Subscribers is a handler-id keyed listener set shared by Transport
// implementations.
type Subscribers struct {
	mu   sync.Mutex
	next uint64
	subs map[string]map[uint64]func(Envelope)
}

func (s *Subscribers) Add(handlerID string, fn func(Envelope)) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs == nil {
		s.subs = make(map[string]map[uint64]func(Envelope))
	}
	if s.subs[handlerID] == nil {
		s.subs[handlerID] = make(map[uint64]func(Envelope))
	}
	id := s.next
	s.next++
	s.subs[handlerID][id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs[handlerID], id)
			if len(s.subs[handlerID]) == 0 {
				delete(s.subs, handlerID)
			}
		})
	}
}

// Dispatch invokes every listener for env.HandlerID synchronously, in
// registration order, and reports whether any listener existed.
func (s *Subscribers) Dispatch(env Envelope) bool {
	s.mu.Lock()
	set := s.subs[env.HandlerID]
	ids := make([]uint64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	fns := make([]func(Envelope), 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		fns = append(fns, set[id])
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(env)
	}
	return len(fns) > 0
}

func (s *Subscribers) Len(handlerID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs[handlerID])
}
