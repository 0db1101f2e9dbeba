package negotiation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/wilsonzlin/aero/proxy/peersock/internal/signaling"
)

// fakeNetwork is an in-memory Engine. Two connections pair up when each has
// applied the other's description; channels then open on both sides.
type fakeNetwork struct {
	mu           sync.Mutex
	nextID       int
	conns        map[string]*fakeConn
	bySession    map[string][]*fakeConn
	candidates   int
	holdConnect  bool
	setRemoteErr error
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{
		conns:      make(map[string]*fakeConn),
		bySession:  make(map[string][]*fakeConn),
		candidates: 2,
	}
}

func (n *fakeNetwork) NewConnection(sessionID string, sink EventSink) (Connection, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextID++
	c := &fakeConn{net: n, id: fmt.Sprintf("c%d", n.nextID), sessionID: sessionID, sink: sink}
	n.conns[c.id] = c
	remoteID := remoteOf(sessionID)
	n.bySession[remoteID] = append(n.bySession[remoteID], c)
	return c, nil
}

// remoteOf strips the per-session generation from a connection token.
func remoteOf(token string) string {
	if i := strings.LastIndexByte(token, '#'); i >= 0 {
		return token[:i]
	}
	return token
}

// conn returns the most recent connection created towards remoteID.
func (n *fakeNetwork) conn(remoteID string) *fakeConn {
	n.mu.Lock()
	defer n.mu.Unlock()
	conns := n.bySession[remoteID]
	if len(conns) == 0 {
		return nil
	}
	return conns[len(conns)-1]
}

func (n *fakeNetwork) connCount(remoteID string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.bySession[remoteID])
}

type fakeConn struct {
	net       *fakeNetwork
	id        string
	sessionID string
	sink      EventSink

	localSet  bool
	remoteSet bool
	peer      *fakeConn
	connected bool
	closed    bool
	channels  []*fakeDC
	applied   []string
}

func (c *fakeConn) emit(ev Event) {
	ev.SessionID = c.sessionID
	c.sink(ev)
}

func (c *fakeConn) CreateChannel(label, protocol string, _ ChannelOptions) (DataChannel, error) {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	if c.closed {
		return nil, errors.New("connection closed")
	}
	dc := &fakeDC{conn: c, label: label, protocol: protocol}
	c.channels = append(c.channels, dc)
	if c.connected {
		c.link(dc)
	}
	return dc, nil
}

func (c *fakeConn) CreateOffer() (SessionDescription, error) {
	return SessionDescription{Kind: SDPOffer, SDP: "fake:" + c.id}, nil
}

func (c *fakeConn) CreateAnswer() (SessionDescription, error) {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	if !c.remoteSet {
		return SessionDescription{}, errors.New("answer before remote description")
	}
	return SessionDescription{Kind: SDPAnswer, SDP: "fake:" + c.id}, nil
}

func (c *fakeConn) SetLocalDescription(SessionDescription) error {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	c.localSet = true
	for i := 0; i < c.net.candidates; i++ {
		c.emit(Event{Kind: EventLocalCandidate, Candidate: Candidate{Candidate: fmt.Sprintf("candidate:%s-%d", c.id, i)}})
	}
	c.emit(Event{Kind: EventGatheringComplete})
	c.net.maybeConnect(c)
	return nil
}

func (c *fakeConn) SetRemoteDescription(d SessionDescription) error {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	if c.net.setRemoteErr != nil {
		return c.net.setRemoteErr
	}
	c.remoteSet = true
	if p, ok := c.net.conns[strings.TrimPrefix(d.SDP, "fake:")]; ok {
		c.peer = p
	}
	c.net.maybeConnect(c)
	return nil
}

func (c *fakeConn) AddICECandidate(cand Candidate) error {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	if !c.remoteSet {
		return errors.New("candidate before remote description")
	}
	c.applied = append(c.applied, cand.Candidate)
	return nil
}

func (c *fakeConn) Close() error {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	c.closed = true
	for _, dc := range c.channels {
		dc.closeLocked()
	}
	return nil
}

func (c *fakeConn) appliedCandidates() []string {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	return append([]string(nil), c.applied...)
}

func (c *fakeConn) isClosed() bool {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	return c.closed
}

func (c *fakeConn) reportState(s ConnectionState) {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	c.emit(Event{Kind: EventConnectionState, State: s})
}

func (n *fakeNetwork) maybeConnect(c *fakeConn) {
	p := c.peer
	if n.holdConnect || p == nil || p.peer != c || c.connected {
		return
	}
	if !c.localSet || !c.remoteSet || !p.localSet || !p.remoteSet {
		return
	}
	c.connected, p.connected = true, true
	c.emit(Event{Kind: EventConnectionState, State: ConnectionConnected})
	p.emit(Event{Kind: EventConnectionState, State: ConnectionConnected})
	for _, side := range []*fakeConn{c, p} {
		for _, dc := range side.channels {
			if dc.twin == nil && !dc.remote {
				side.link(dc)
			}
		}
	}
}

// link creates the remote half of dc and opens both.
func (c *fakeConn) link(dc *fakeDC) {
	other := c.peer
	twin := &fakeDC{conn: other, label: dc.label, protocol: dc.protocol, remote: true, twin: dc}
	dc.twin = twin
	other.channels = append(other.channels, twin)
	other.emit(Event{Kind: EventRemoteChannel, Channel: twin})

	dc.state, twin.state = ChannelOpen, ChannelOpen
	c.emit(Event{Kind: EventChannelOpen, Channel: dc})
	other.emit(Event{Kind: EventChannelOpen, Channel: twin})
}

type fakeDC struct {
	conn     *fakeConn
	label    string
	protocol string
	remote   bool
	state    ChannelState
	twin     *fakeDC
	sent     []string
}

func (d *fakeDC) Label() string    { return d.label }
func (d *fakeDC) Protocol() string { return d.protocol }

func (d *fakeDC) Send(data []byte) error { return d.send(data, false) }

func (d *fakeDC) SendText(text string) error { return d.send([]byte(text), true) }

func (d *fakeDC) send(data []byte, isString bool) error {
	d.conn.net.mu.Lock()
	defer d.conn.net.mu.Unlock()
	if d.state != ChannelOpen {
		return errors.New("fake channel not open")
	}
	d.sent = append(d.sent, string(data))
	if d.twin != nil {
		d.twin.conn.emit(Event{Kind: EventChannelMessage, Channel: d.twin, Data: append([]byte(nil), data...), IsString: isString})
	}
	return nil
}

func (d *fakeDC) ReadyState() ChannelState {
	d.conn.net.mu.Lock()
	defer d.conn.net.mu.Unlock()
	return d.state
}

func (d *fakeDC) Close() error {
	d.conn.net.mu.Lock()
	defer d.conn.net.mu.Unlock()
	d.closeLocked()
	return nil
}

func (d *fakeDC) closeLocked() {
	if d.state == ChannelClosed {
		return
	}
	d.state = ChannelClosed
	if t := d.twin; t != nil && t.state != ChannelClosed {
		t.state = ChannelClosed
		t.conn.emit(Event{Kind: EventChannelClosed, Channel: t})
	}
}

func (d *fakeDC) sentMessages() []string {
	d.conn.net.mu.Lock()
	defer d.conn.net.mu.Unlock()
	return append([]string(nil), d.sent...)
}

// recordingTransport records outbound envelopes; tests inject inbound ones
// with deliver.
type recordingTransport struct {
	mu   sync.Mutex
	sent []signaling.Envelope
	subs signaling.Subscribers
}

func (t *recordingTransport) Send(_ context.Context, env signaling.Envelope) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, env)
	return nil
}

func (t *recordingTransport) Subscribe(handlerID string, fn func(signaling.Envelope)) func() {
	return t.subs.Add(handlerID, fn)
}

func (t *recordingTransport) deliver(env signaling.Envelope) bool {
	return t.subs.Dispatch(env)
}

func (t *recordingTransport) envelopes() []signaling.Envelope {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]signaling.Envelope(nil), t.sent...)
}

// bus connects several managers in-process, delivering synchronously.
type bus struct {
	mu    sync.Mutex
	peers map[string]*busTransport
}

func newBus() *bus { return &bus{peers: make(map[string]*busTransport)} }

func (b *bus) join(id string) *busTransport {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := &busTransport{bus: b, id: id}
	b.peers[id] = t
	return t
}

type busTransport struct {
	bus  *bus
	id   string
	subs signaling.Subscribers
}

func (t *busTransport) Send(_ context.Context, env signaling.Envelope) error {
	t.bus.mu.Lock()
	target, ok := t.bus.peers[env.ToID]
	t.bus.mu.Unlock()
	if !ok {
		return &signaling.DeliveryError{HandlerID: env.HandlerID, PeerID: env.ToID, Reason: "unknown peer"}
	}
	target.subs.Dispatch(env)
	return nil
}

func (t *busTransport) Subscribe(handlerID string, fn func(signaling.Envelope)) func() {
	return t.subs.Add(handlerID, fn)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func (c *fakeConn) channel(i int) *fakeDC {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	return c.channels[i]
}
