package negotiation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/wilsonzlin/aero/proxy/peersock/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/peersock/internal/signaling"
)

type nameSub struct {
	cancel func()
	refs   int
}

// Manager runs every negotiation session of one local endpoint. Sessions are
// keyed by remote endpoint id.
//
// All session state is owned by a single event-loop goroutine. Engine events,
// transport deliveries and public calls are queued onto an unbounded FIFO and
// applied one at a time. Outbound envelopes go through a second FIFO so the
// loop never waits on the network, and application callbacks run on a third
// so they may call back into the Manager.
type Manager struct {
	localID   string
	transport signaling.Transport
	engine    Engine
	opts      Options
	log       *slog.Logger
	metrics   *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc

	loop          *fifo
	loopDone      chan struct{}
	outbox        *fifo
	outboxDone    chan struct{}
	callbacks     *fifo
	callbacksDone chan struct{}
	closeOnce     sync.Once

	// Owned by the event loop.
	sessions  map[string]*Session
	listeners map[string]ChannelHandlers
	nameSubs  map[string]*nameSub
	// byToken maps engine connection tokens to the session that owns them.
	// A token is never reused, so late events from a closed connection find
	// nothing.
	byToken map[string]*Session
	nextGen uint64

	iceMu     sync.Mutex
	iceSubs   map[string]func()
	iceClosed bool
}

func New(localID string, transport signaling.Transport, engine Engine, opts Options) (*Manager, error) {
	if localID == "" {
		return nil, errors.New("negotiation: empty local id")
	}
	if transport == nil {
		return nil, errors.New("negotiation: nil transport")
	}
	if engine == nil {
		return nil, errors.New("negotiation: nil engine")
	}
	opts = opts.withDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		localID:       localID,
		transport:     transport,
		engine:        engine,
		opts:          opts,
		log:           opts.Logger.With("local_id", localID),
		metrics:       opts.Metrics,
		ctx:           ctx,
		cancel:        cancel,
		loop:          newFIFO(),
		loopDone:      make(chan struct{}),
		outbox:        newFIFO(),
		outboxDone:    make(chan struct{}),
		callbacks:     newFIFO(),
		callbacksDone: make(chan struct{}),
		sessions:      make(map[string]*Session),
		listeners:     make(map[string]ChannelHandlers),
		nameSubs:      make(map[string]*nameSub),
		byToken:       make(map[string]*Session),
		iceSubs:       make(map[string]func()),
	}
	go m.loop.run(m.loopDone)
	go m.outbox.run(m.outboxDone)
	go m.callbacks.run(m.callbacksDone)
	return m, nil
}

func (m *Manager) LocalID() string { return m.localID }

// Listen answers offers for channel name from any remote endpoint. Channels
// accepted this way use h, merged over the Manager defaults.
func (m *Manager) Listen(name string, h ChannelHandlers) error {
	if name == "" {
		return errors.New("negotiation: empty channel name")
	}
	return m.call(context.Background(), func() {
		if _, ok := m.listeners[name]; !ok {
			m.acquireName(name)
		}
		m.listeners[name] = h.merge(m.opts.Defaults)
		m.log.Debug("listening", "channel", name)
	})
}

func (m *Manager) Unlisten(name string) error {
	return m.call(context.Background(), func() {
		if _, ok := m.listeners[name]; !ok {
			return
		}
		delete(m.listeners, name)
		m.releaseName(name)
	})
}

// Initiate opens channel name to remoteID. The first call for a remote
// creates the connection and sends an offer; later calls add channels to the
// existing connection without renegotiating. The returned channel is
// Connecting until the engine opens it.
func (m *Manager) Initiate(ctx context.Context, remoteID, name string, h ChannelHandlers) (*Channel, error) {
	if remoteID == "" || name == "" {
		return nil, errors.New("negotiation: empty remote id or channel name")
	}
	var (
		ch  *Channel
		err error
	)
	if callErr := m.call(ctx, func() { ch, err = m.initiate(remoteID, name, h) }); callErr != nil {
		return nil, callErr
	}
	return ch, err
}

// Channel returns the named channel to remoteID.
func (m *Manager) Channel(ctx context.Context, remoteID, name string) (*Channel, error) {
	var (
		ch  *Channel
		err error
	)
	if callErr := m.call(ctx, func() {
		s, ok := m.sessions[remoteID]
		if !ok {
			err = ErrSessionNotFound
			return
		}
		ch, err = s.registry.Get(name)
	}); callErr != nil {
		return nil, callErr
	}
	return ch, err
}

// Send writes data on the named channel to remoteID. It fails with
// ErrChannelNotOpen unless the channel is open.
func (m *Manager) Send(ctx context.Context, remoteID, name string, data []byte) error {
	ch, err := m.Channel(ctx, remoteID, name)
	if err != nil {
		return err
	}
	return ch.Send(data)
}

// CloseChannel closes one channel; the session keeps negotiating.
func (m *Manager) CloseChannel(ctx context.Context, remoteID, name string) error {
	var err error
	if callErr := m.call(ctx, func() {
		s, ok := m.sessions[remoteID]
		if !ok {
			err = ErrSessionNotFound
			return
		}
		var ch *Channel
		if ch, err = s.registry.Get(name); err == nil {
			m.closeChannel(ch)
		}
	}); callErr != nil {
		return callErr
	}
	return err
}

// CloseSession tears down everything for remoteID: the deadline, the ICE
// subscription, every channel and the engine connection.
func (m *Manager) CloseSession(ctx context.Context, remoteID string) error {
	var err error
	if callErr := m.call(ctx, func() {
		s, ok := m.sessions[remoteID]
		if !ok {
			err = ErrSessionNotFound
			return
		}
		m.teardown(s, StateClosed)
	}); callErr != nil {
		return callErr
	}
	return err
}

func (m *Manager) Session(ctx context.Context, remoteID string) (SessionInfo, error) {
	var (
		info SessionInfo
		err  error
	)
	if callErr := m.call(ctx, func() {
		s, ok := m.sessions[remoteID]
		if !ok {
			err = ErrSessionNotFound
			return
		}
		info = s.info()
	}); callErr != nil {
		return SessionInfo{}, callErr
	}
	return info, err
}

// Sessions lists live sessions ordered by remote id.
func (m *Manager) Sessions(ctx context.Context) ([]SessionInfo, error) {
	var out []SessionInfo
	if err := m.call(ctx, func() {
		for _, s := range m.sessions {
			out = append(out, s.info())
		}
	}); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RemoteID < out[j].RemoteID })
	return out, nil
}

// Close closes every session and stops the Manager. Queued callbacks still
// run.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		done := make(chan struct{})
		if m.loop.Enqueue(func() { defer close(done); m.shutdown() }) {
			<-done
		}
		m.loop.Close()
		<-m.loopDone
		m.cancel()
		m.outbox.Close()
		<-m.outboxDone
		m.callbacks.Close()
	})
	return nil
}

// ReportUndeliverable tells the Manager that the signaling network dropped a
// message on handlerID addressed to peerID. A session still waiting for the
// answer to an offer on that handler fails at once instead of at its
// deadline. Anything else is only logged.
func (m *Manager) ReportUndeliverable(peerID, handlerID, reason string) {
	m.post(func() {
		s, ok := m.sessions[peerID]
		if !ok || s.state != StateOffering || s.name != handlerID {
			m.log.Debug("undeliverable message", "peer_id", peerID, "handler_id", handlerID, "reason", reason)
			return
		}
		m.fail(s, &NegotiationError{SessionID: peerID, Op: OpOffer, Err: fmt.Errorf("%w: %s", ErrUndeliverable, reason)})
	})
}

func (m *Manager) post(fn func()) bool {
	return m.loop.Enqueue(fn)
}

// call runs fn on the event loop and waits for it. If ctx ends first fn may
// still run later.
func (m *Manager) call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !m.post(func() { defer close(done); fn() }) {
		return ErrManagerClosed
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) notify(fn func()) {
	m.callbacks.Enqueue(fn)
}

func (m *Manager) sink(ev Event) {
	m.post(func() { m.handleEvent(ev) })
}

// send queues env for the transport. Envelopes leave in queue order. A failed
// offer or answer fails the session; other failures are only reported.
func (m *Manager) send(op, remoteID string, env signaling.Envelope) {
	m.outbox.Enqueue(func() {
		ctx, cancel := context.WithTimeout(m.ctx, m.opts.SendTimeout)
		err := m.transport.Send(ctx, env)
		cancel()
		if err == nil {
			return
		}
		m.post(func() {
			nerr := &NegotiationError{SessionID: remoteID, Op: op, Err: fmt.Errorf("send %s: %w", env.HandlerID, err)}
			if s, ok := m.sessions[remoteID]; ok && (op == OpOffer || op == OpAnswer) {
				m.fail(s, nerr)
				return
			}
			m.reportError(nerr)
		})
	})
}

func (m *Manager) initiate(remoteID, name string, h ChannelHandlers) (*Channel, error) {
	if remoteID == m.localID {
		return nil, ErrSelfSession
	}
	s, existed := m.sessions[remoteID]
	if !existed {
		s = newSession(m.localID, remoteID, RoleInitiator, StateIdle, m.newRegistry())
		s.handlers = m.opts.Defaults
		if err := m.connect(s); err != nil {
			return nil, fmt.Errorf("create connection to %s: %w", remoteID, err)
		}
		m.ensureICESub(remoteID)
	}

	prev, _ := s.registry.Get(name)
	ch, err := s.registry.Create(name, func(label string) (DataChannel, error) {
		return s.conn.CreateChannel(label, name, *m.opts.Channel)
	})
	if err != nil {
		if !existed {
			m.teardown(s, StateClosed)
		}
		return nil, fmt.Errorf("create channel %q: %w", name, err)
	}
	m.attach(s, ch, h.merge(m.opts.Defaults))
	if prev != nil {
		m.notifyClose(prev)
	}

	if s.state != StateIdle {
		return ch, nil
	}

	offer, err := s.conn.CreateOffer()
	if err != nil {
		nerr := &NegotiationError{SessionID: remoteID, Op: OpOffer, Err: err}
		m.fail(s, nerr)
		return nil, nerr
	}
	if err := s.conn.SetLocalDescription(offer); err != nil {
		nerr := &NegotiationError{SessionID: remoteID, Op: OpSetLocal, Err: err}
		m.fail(s, nerr)
		return nil, nerr
	}
	payload, err := encodeDescription(offer)
	if err != nil {
		nerr := &NegotiationError{SessionID: remoteID, Op: OpOffer, Err: err}
		m.fail(s, nerr)
		return nil, nerr
	}

	s.name = name
	s.nameHeld = true
	m.acquireName(name)
	m.setState(s, StateOffering)
	m.startDeadline(s)
	m.send(OpOffer, remoteID, signaling.Envelope{HandlerID: name, FromID: m.localID, ToID: remoteID, Payload: payload})
	m.metrics.Inc(metrics.NegotiationOffersSent)
	m.log.Info("offer sent", "peer_id", remoteID, "channel", name)
	return ch, nil
}

func (m *Manager) handleDescription(name string, env signaling.Envelope) {
	desc, err := decodeDescription(env.Payload)
	if err != nil {
		m.dropOrphanICESub(env.FromID)
		m.reportError(&NegotiationError{SessionID: env.FromID, Op: OpSetRemote, Err: err})
		return
	}
	switch desc.Kind {
	case SDPOffer:
		m.onOffer(name, env.FromID, desc)
	case SDPAnswer:
		m.onAnswer(name, env.FromID, desc)
	}
}

func (m *Manager) onOffer(name, remoteID string, offer SessionDescription) {
	h, ok := m.listeners[name]
	if !ok {
		m.dropOrphanICESub(remoteID)
		m.reportError(&NegotiationError{SessionID: remoteID, Op: OpOffer, Err: fmt.Errorf("%w %q", ErrNoListener, name)})
		return
	}
	if _, live := m.sessions[remoteID]; live {
		m.reportError(&NegotiationError{SessionID: remoteID, Op: OpOffer, Err: ErrRenegotiationUnsupported})
		return
	}
	if remoteID == m.localID || remoteID == "" {
		m.reportError(&NegotiationError{SessionID: remoteID, Op: OpOffer, Err: ErrSelfSession})
		return
	}

	s := newSession(m.localID, remoteID, RoleResponder, StateIdle, m.newRegistry())
	s.name = name
	s.handlers = h
	if err := m.connect(s); err != nil {
		m.dropOrphanICESub(remoteID)
		m.reportError(&NegotiationError{SessionID: remoteID, Op: OpOffer, Err: err})
		return
	}
	conn := s.conn
	m.ensureICESub(remoteID)
	m.setState(s, StateAwaitingOffer)

	if err := conn.SetRemoteDescription(offer); err != nil {
		m.fail(s, &NegotiationError{SessionID: remoteID, Op: OpSetRemote, Err: err})
		return
	}
	m.applyPending(s)

	m.setState(s, StateAnswering)
	m.startDeadline(s)

	answer, err := conn.CreateAnswer()
	if err != nil {
		m.fail(s, &NegotiationError{SessionID: remoteID, Op: OpAnswer, Err: err})
		return
	}
	if err := conn.SetLocalDescription(answer); err != nil {
		m.fail(s, &NegotiationError{SessionID: remoteID, Op: OpSetLocal, Err: err})
		return
	}
	payload, err := encodeDescription(answer)
	if err != nil {
		m.fail(s, &NegotiationError{SessionID: remoteID, Op: OpAnswer, Err: err})
		return
	}
	m.send(OpAnswer, remoteID, signaling.Envelope{HandlerID: name, FromID: m.localID, ToID: remoteID, Payload: payload})
	m.metrics.Inc(metrics.NegotiationAnswersSent)
	m.log.Info("answer sent", "peer_id", remoteID, "channel", name)
	m.setState(s, StateConnected)
}

func (m *Manager) onAnswer(name, remoteID string, answer SessionDescription) {
	s, ok := m.sessions[remoteID]
	if !ok || s.state != StateOffering || s.name != name {
		m.reportError(&NegotiationError{SessionID: remoteID, Op: OpAnswer, Err: ErrUnexpectedDescription})
		return
	}
	if err := s.conn.SetRemoteDescription(answer); err != nil {
		m.fail(s, &NegotiationError{SessionID: remoteID, Op: OpSetRemote, Err: err})
		return
	}
	m.applyPending(s)
	if s.nameHeld {
		s.nameHeld = false
		m.releaseName(s.name)
	}
	m.log.Info("answer received", "peer_id", remoteID, "channel", name)
	m.setState(s, StateConnected)
}

func (m *Manager) handleRemoteICE(remoteID string, env signaling.Envelope) {
	s, ok := m.sessions[remoteID]
	if !ok {
		m.log.Debug("dropping candidate for unknown session", "peer_id", remoteID)
		return
	}
	c, done, err := decodeICE(env.Payload)
	if err != nil {
		m.reportError(&NegotiationError{SessionID: remoteID, Op: OpCandidate, Err: err})
		return
	}
	if done {
		s.remoteDone = true
		return
	}
	if !s.remoteDescSet {
		s.pendingICE = append(s.pendingICE, c)
		m.metrics.Inc(metrics.NegotiationCandidatesQueued)
		return
	}
	if err := s.conn.AddICECandidate(c); err != nil {
		m.reportError(&NegotiationError{SessionID: remoteID, Op: OpCandidate, Err: err})
	}
}

// applyPending applies buffered remote candidates in arrival order. From here
// on candidates are applied as they arrive.
func (m *Manager) applyPending(s *Session) {
	for _, c := range s.takePending() {
		if err := s.conn.AddICECandidate(c); err != nil {
			m.reportError(&NegotiationError{SessionID: s.remoteID, Op: OpCandidate, Err: err})
		}
	}
}

// connect creates the engine connection for s under a fresh token and makes s
// the live session for its remote id.
func (m *Manager) connect(s *Session) error {
	m.nextGen++
	token := s.remoteID + "#" + strconv.FormatUint(m.nextGen, 10)
	conn, err := m.engine.NewConnection(token, m.sink)
	if err != nil {
		return err
	}
	s.conn = conn
	s.token = token
	m.sessions[s.remoteID] = s
	m.byToken[token] = s
	return nil
}

func (m *Manager) handleEvent(ev Event) {
	s, ok := m.byToken[ev.SessionID]
	if !ok {
		m.log.Debug("dropping event for stale connection", "token", ev.SessionID, "kind", ev.Kind)
		return
	}
	switch ev.Kind {
	case EventLocalCandidate:
		if s.localDone {
			return
		}
		payload, err := encodeCandidate(ev.Candidate)
		if err != nil {
			m.reportError(&NegotiationError{SessionID: s.remoteID, Op: OpCandidate, Err: err})
			return
		}
		m.send(OpCandidate, s.remoteID, signaling.Envelope{
			HandlerID: signaling.ICEHandlerID(m.localID, s.remoteID),
			FromID:    m.localID,
			ToID:      s.remoteID,
			Payload:   payload,
		})
		m.metrics.Inc(metrics.NegotiationCandidatesSent)

	case EventGatheringComplete:
		if s.localDone {
			return
		}
		s.localDone = true
		m.send(OpCandidate, s.remoteID, signaling.Envelope{
			HandlerID: signaling.ICEHandlerID(m.localID, s.remoteID),
			FromID:    m.localID,
			ToID:      s.remoteID,
			Payload:   encodeEndOfCandidates(),
		})

	case EventRemoteChannel:
		if ev.Channel == nil {
			return
		}
		name := ev.Channel.Protocol()
		if name == "" {
			name = ev.Channel.Label()
		}
		prev, _ := s.registry.Get(name)
		ch, err := s.registry.Adopt(name, ev.Channel.Label(), ev.Channel)
		if err != nil {
			_ = ev.Channel.Close()
			m.reportError(&NegotiationError{SessionID: s.remoteID, Op: OpChannel, Err: fmt.Errorf("adopt channel %q: %w", name, err)})
			return
		}
		h, ok := m.listeners[name]
		if !ok {
			h = s.handlers
		}
		m.attach(s, ch, h)
		if prev != nil {
			m.notifyClose(prev)
		}
		if ev.Channel.ReadyState() == ChannelOpen {
			m.openChannel(ch)
		}

	case EventChannelOpen:
		if ch := s.registry.lookup(ev.Channel); ch != nil {
			m.openChannel(ch)
		}

	case EventChannelMessage:
		ch := s.registry.lookup(ev.Channel)
		if ch == nil {
			return
		}
		msg := Message{Channel: ch, Data: ev.Data, IsString: ev.IsString}
		onMessage := ch.handlers.OnMessage
		m.notify(func() { onMessage(msg) })

	case EventChannelClosed:
		ch := s.registry.lookup(ev.Channel)
		if ch == nil {
			return
		}
		s.registry.removeHandle(ch)
		if ch.setState(ChannelClosed) != ChannelClosed {
			m.notifyClose(ch)
		}

	case EventChannelError:
		ch := s.registry.lookup(ev.Channel)
		if ch == nil {
			m.log.Debug("error on unknown channel", "peer_id", s.remoteID, "err", ev.Err)
			return
		}
		onError, err := ch.handlers.OnError, ev.Err
		m.notify(func() { onError(ch, err) })

	case EventConnectionState:
		m.log.Debug("connection state", "peer_id", s.remoteID, "state", ev.State)
		switch ev.State {
		case ConnectionConnected:
			s.connected = true
			s.stopDeadline()
		case ConnectionFailed:
			m.fail(s, &NegotiationError{SessionID: s.remoteID, Op: OpConnection, Err: ErrConnectionFailed})
		case ConnectionClosed:
			m.teardown(s, StateClosed)
		}
	}
}

func (m *Manager) attach(s *Session, ch *Channel, h ChannelHandlers) {
	ch.remoteID = s.remoteID
	ch.handlers = h
	ch.mgr = m
	ch.metrics = m.metrics
}

func (m *Manager) openChannel(ch *Channel) {
	if !ch.state.CompareAndSwap(int32(ChannelConnecting), int32(ChannelOpen)) {
		return
	}
	onOpen := ch.handlers.OnOpen
	m.notify(func() { onOpen(ch) })
}

func (m *Manager) notifyClose(ch *Channel) {
	onClose := ch.handlers.OnClose
	if onClose == nil {
		return
	}
	m.notify(func() { onClose(ch) })
}

// closeChannel runs on the loop for Channel.Close and CloseChannel.
func (m *Manager) closeChannel(ch *Channel) {
	if s, ok := m.sessions[ch.remoteID]; ok {
		s.registry.removeHandle(ch)
	}
	_ = ch.dc.Close()
	if ch.setState(ChannelClosed) != ChannelClosed {
		m.notifyClose(ch)
	}
}

func (m *Manager) startDeadline(s *Session) {
	s.stopDeadline()
	s.deadline = time.AfterFunc(m.opts.NegotiationTimeout, func() {
		m.post(func() {
			if m.sessions[s.remoteID] != s || s.connected {
				return
			}
			m.metrics.Inc(metrics.NegotiationTimeouts)
			m.fail(s, &NegotiationError{SessionID: s.remoteID, Op: OpDeadline, Err: ErrNegotiationTimeout})
		})
	})
}

func (m *Manager) fail(s *Session, nerr *NegotiationError) {
	m.log.Warn("negotiation failed", "peer_id", s.remoteID, "state", s.state, "op", nerr.Op, "err", nerr.Err)
	m.teardown(s, StateFailed)
	m.reportError(nerr)
}

func (m *Manager) reportError(nerr *NegotiationError) {
	m.metrics.Inc(metrics.NegotiationErrors)
	onError := m.opts.OnError
	m.notify(func() { onError(nerr) })
}

func (m *Manager) teardown(s *Session, final State) {
	s.stopDeadline()
	delete(m.byToken, s.token)
	if m.sessions[s.remoteID] == s {
		delete(m.sessions, s.remoteID)
		m.dropICESub(s.remoteID)
	}
	if s.nameHeld {
		s.nameHeld = false
		m.releaseName(s.name)
	}
	for _, ch := range s.registry.CloseAll() {
		m.notifyClose(ch)
	}
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			m.log.Debug("close connection", "peer_id", s.remoteID, "err", err)
		}
	}
	s.pendingICE = nil
	m.setState(s, final)
}

func (m *Manager) setState(s *Session, st State) {
	if s.state == st {
		return
	}
	m.log.Debug("session state", "peer_id", s.remoteID, "from", s.state, "to", st)
	s.state = st
	onState := m.opts.OnStateChange
	remoteID := s.remoteID
	m.notify(func() { onState(remoteID, st) })
}

func (m *Manager) newRegistry() *Registry {
	return NewRegistry(m.opts.MaxIDAttempts, m.opts.Intn)
}

func (m *Manager) shutdown() {
	for _, s := range m.sessions {
		m.teardown(s, StateClosed)
	}
	for name, ns := range m.nameSubs {
		ns.cancel()
		delete(m.nameSubs, name)
	}
	clear(m.listeners)

	m.iceMu.Lock()
	m.iceClosed = true
	for remoteID, cancel := range m.iceSubs {
		cancel()
		delete(m.iceSubs, remoteID)
	}
	m.iceMu.Unlock()
}

// acquireName subscribes the channel-name handler on first use.
func (m *Manager) acquireName(name string) {
	ns, ok := m.nameSubs[name]
	if !ok {
		ns = &nameSub{cancel: m.transport.Subscribe(name, m.onNameEnvelope(name))}
		m.nameSubs[name] = ns
	}
	ns.refs++
}

func (m *Manager) releaseName(name string) {
	ns, ok := m.nameSubs[name]
	if !ok {
		return
	}
	ns.refs--
	if ns.refs <= 0 {
		ns.cancel()
		delete(m.nameSubs, name)
	}
}

// onNameEnvelope runs on the transport's goroutine. For an offer the ICE
// handler is subscribed before the offer is queued, so candidates that follow
// it on the wire are not lost.
func (m *Manager) onNameEnvelope(name string) func(signaling.Envelope) {
	return func(env signaling.Envelope) {
		var peek struct {
			Kind SDPKind `json:"kind"`
		}
		if json.Unmarshal(env.Payload, &peek) == nil && peek.Kind == SDPOffer && env.FromID != "" && env.FromID != m.localID {
			m.ensureICESub(env.FromID)
		}
		m.post(func() { m.handleDescription(name, env) })
	}
}

func (m *Manager) ensureICESub(remoteID string) {
	m.iceMu.Lock()
	defer m.iceMu.Unlock()
	if m.iceClosed {
		return
	}
	if _, ok := m.iceSubs[remoteID]; ok {
		return
	}
	m.iceSubs[remoteID] = m.transport.Subscribe(signaling.ICEHandlerID(remoteID, m.localID), func(env signaling.Envelope) {
		m.post(func() { m.handleRemoteICE(remoteID, env) })
	})
}

func (m *Manager) dropICESub(remoteID string) {
	m.iceMu.Lock()
	defer m.iceMu.Unlock()
	if cancel, ok := m.iceSubs[remoteID]; ok {
		cancel()
		delete(m.iceSubs, remoteID)
	}
}

// dropOrphanICESub removes an ICE subscription made for an offer that did not
// produce a session.
func (m *Manager) dropOrphanICESub(remoteID string) {
	if _, live := m.sessions[remoteID]; !live {
		m.dropICESub(remoteID)
	}
}
