package negotiation

import (
	"strconv"
	"sync/atomic"

	"github.com/wilsonzlin/aero/proxy/peersock/internal/metrics"
)

// lowIDSpace bounds channel identifiers to [0, lowIDSpace).
const lowIDSpace = 9999

// Channel is an application-named data channel to one remote endpoint. State
// and Send are safe from any goroutine.
type Channel struct {
	name     string
	lowID    uint16
	remoteID string
	dc       DataChannel
	state    atomic.Int32

	handlers ChannelHandlers
	mgr      *Manager
	metrics  *metrics.Metrics
}

func newChannel(name string, lowID uint16, dc DataChannel) *Channel {
	ch := &Channel{name: name, lowID: lowID, dc: dc}
	ch.state.Store(int32(ChannelConnecting))
	return ch
}

func (c *Channel) Name() string { return c.name }

// LowID is the engine-level identifier, also used as the channel label.
func (c *Channel) LowID() uint16 { return c.lowID }

func (c *Channel) RemoteID() string { return c.remoteID }

func (c *Channel) State() ChannelState { return ChannelState(c.state.Load()) }

func (c *Channel) setState(s ChannelState) ChannelState {
	return ChannelState(c.state.Swap(int32(s)))
}

// Send writes data as a binary message. It fails with ErrChannelNotOpen, and
// writes nothing, unless the channel is open.
func (c *Channel) Send(data []byte) error {
	if c.State() != ChannelOpen {
		c.metrics.Inc(metrics.ChannelSendNotOpen)
		return ErrChannelNotOpen
	}
	return c.dc.Send(data)
}

// SendText writes text as a string message, with the same open check as Send.
func (c *Channel) SendText(text string) error {
	if c.State() != ChannelOpen {
		c.metrics.Inc(metrics.ChannelSendNotOpen)
		return ErrChannelNotOpen
	}
	return c.dc.SendText(text)
}

// Close closes the channel and removes it from its session. Closing while the
// session is still negotiating does not affect the negotiation.
func (c *Channel) Close() error {
	switch c.State() {
	case ChannelClosing, ChannelClosed:
		return nil
	}
	c.setState(ChannelClosing)
	if c.mgr != nil && c.mgr.post(func() { c.mgr.closeChannel(c) }) {
		return nil
	}
	c.setState(ChannelClosed)
	return c.dc.Close()
}

// Registry maps application channel names to channels for one session. It is
// not safe for concurrent use; the owning Manager only touches it from its
// event loop.
type Registry struct {
	maxAttempts int
	intn        func(n int) int

	byName   map[string]*Channel
	byEngine map[DataChannel]*Channel
	ids      map[uint16]*Channel
}

func NewRegistry(maxAttempts int, intn func(n int) int) *Registry {
	return &Registry{
		maxAttempts: maxAttempts,
		intn:        intn,
		byName:      make(map[string]*Channel),
		byEngine:    make(map[DataChannel]*Channel),
		ids:         make(map[uint16]*Channel),
	}
}

// Create mints a free identifier, opens an engine channel labelled with it,
// and stores the handle under name. An existing handle with the same name is
// replaced and its engine channel closed.
func (r *Registry) Create(name string, open func(label string) (DataChannel, error)) (*Channel, error) {
	id, err := r.mint()
	if err != nil {
		return nil, err
	}
	dc, err := open(strconv.Itoa(int(id)))
	if err != nil {
		return nil, err
	}
	if dc == nil {
		return nil, errNilChannel
	}
	ch := newChannel(name, id, dc)
	r.store(ch, true)
	return ch, nil
}

// Adopt stores a channel the remote endpoint created. A free numeric label
// becomes its identifier; any other label gets a minted one. The identifier is
// reserved either way.
func (r *Registry) Adopt(name, label string, dc DataChannel) (*Channel, error) {
	id, ok := r.labelID(name, label)
	if !ok {
		var err error
		if id, err = r.mint(); err != nil {
			return nil, err
		}
	}
	ch := newChannel(name, id, dc)
	r.store(ch, true)
	return ch, nil
}

// labelID reports whether label is an identifier that is free, or held only by
// the channel name is about to replace.
func (r *Registry) labelID(name, label string) (uint16, bool) {
	n, err := strconv.ParseUint(label, 10, 16)
	if err != nil || n >= lowIDSpace {
		return 0, false
	}
	id := uint16(n)
	if held, taken := r.ids[id]; taken && held != r.byName[name] {
		return 0, false
	}
	return id, true
}

func (r *Registry) store(ch *Channel, reserveID bool) {
	if old, ok := r.byName[ch.name]; ok {
		r.drop(old)
		old.setState(ChannelClosed)
		_ = old.dc.Close()
	}
	r.byName[ch.name] = ch
	r.byEngine[ch.dc] = ch
	if reserveID {
		r.ids[ch.lowID] = ch
	}
}

func (r *Registry) mint() (uint16, error) {
	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		id := uint16(r.intn(lowIDSpace))
		if _, taken := r.ids[id]; !taken {
			return id, nil
		}
	}
	return 0, &IdentifierCollisionError{Attempts: r.maxAttempts}
}

func (r *Registry) Get(name string) (*Channel, error) {
	ch, ok := r.byName[name]
	if !ok {
		return nil, ErrChannelNotFound
	}
	return ch, nil
}

// Send writes data on the named channel; see Channel.Send.
func (r *Registry) Send(name string, data []byte) error {
	ch, err := r.Get(name)
	if err != nil {
		return err
	}
	return ch.Send(data)
}

// Remove forgets the named channel without closing it.
func (r *Registry) Remove(name string) *Channel {
	ch, ok := r.byName[name]
	if !ok {
		return nil
	}
	r.drop(ch)
	return ch
}

// removeHandle forgets ch only if it is still the current handle for its name.
func (r *Registry) removeHandle(ch *Channel) bool {
	if r.byName[ch.name] != ch {
		return false
	}
	r.drop(ch)
	return true
}

func (r *Registry) drop(ch *Channel) {
	if r.byName[ch.name] == ch {
		delete(r.byName, ch.name)
	}
	if r.byEngine[ch.dc] == ch {
		delete(r.byEngine, ch.dc)
	}
	if r.ids[ch.lowID] == ch {
		delete(r.ids, ch.lowID)
	}
}

func (r *Registry) lookup(dc DataChannel) *Channel {
	return r.byEngine[dc]
}

// CloseAll closes and forgets every channel, returning the handles that were
// not already closed.
func (r *Registry) CloseAll() []*Channel {
	var closed []*Channel
	for _, ch := range r.byName {
		r.drop(ch)
		if ch.setState(ChannelClosed) != ChannelClosed {
			closed = append(closed, ch)
		}
		_ = ch.dc.Close()
	}
	return closed
}

func (r *Registry) Len() int { return len(r.byName) }
