package metrics

import "sync"

// Event names shared by the hub and the negotiation layer.
const (
	HubEndpointsRegistered       = "hub_endpoints_registered"
	HubEndpointsDeregistered     = "hub_endpoints_deregistered"
	HubPeerBroadcasts            = "hub_peer_broadcasts"
	HubEnvelopesRouted           = "hub_envelopes_routed"
	HubEnvelopesUnknownPeer      = "hub_envelopes_unknown_peer"
	HubFramesDroppedBackpressure = "hub_frames_dropped_backpressure"
	HubTooManyEndpoints          = "hub_too_many_endpoints"
	HubProtocolErrors            = "hub_protocol_errors"
	HubRateLimited               = "hub_rate_limited"

	NegotiationOffersSent       = "negotiation_offers_sent"
	NegotiationAnswersSent      = "negotiation_answers_sent"
	NegotiationCandidatesSent   = "negotiation_candidates_sent"
	NegotiationCandidatesQueued = "negotiation_candidates_queued"
	NegotiationErrors           = "negotiation_errors"
	NegotiationTimeouts         = "negotiation_timeouts"
	ChannelSendNotOpen          = "channel_send_not_open"
)

// Metrics is a concurrency-safe counter registry. A nil *Metrics is valid and
// discards everything, so components can treat metrics as optional.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{m: make(map[string]uint64)}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, delta uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	if m.m == nil {
		m.m = make(map[string]uint64)
	}
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of every counter.
func (m *Metrics) Snapshot() map[string]uint64 {
	out := make(map[string]uint64)
	if m == nil {
		return out
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
