package hub

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/wilsonzlin/aero/proxy/peersock/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/peersock/internal/signaling"
)

// Conn is the transport handle of one endpoint. Deliver must never block; a
// frame that cannot be queued is dropped and reported as an error.
type Conn interface {
	Deliver(f signaling.Frame) error
	Close() error
}

type Options struct {
	// MaxEndpoints caps concurrent registrations (0 = unlimited).
	MaxEndpoints int
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
	// NewID mints endpoint ids. Defaults to random UUIDs.
	NewID func() string
}

type endpoint struct {
	id        string
	conn      Conn
	connected bool
}

// Hub owns the endpoint registry. Every exported method is serialized through
// the goroutine running Run, so registry mutations never interleave.
type Hub struct {
	log          *slog.Logger
	metrics      *metrics.Metrics
	maxEndpoints int
	newID        func() string

	cmds      chan func()
	stop      chan struct{}
	done      chan struct{}
	stopOnce  sync.Once
	running   atomic.Bool
	endpoints map[string]*endpoint
	byConn    map[Conn]*endpoint
}

func New(opts Options) *Hub {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	return &Hub{
		log:          log,
		metrics:      opts.Metrics,
		maxEndpoints: opts.MaxEndpoints,
		newID:        newID,
		cmds:         make(chan func()),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
		endpoints:    make(map[string]*endpoint),
		byConn:       make(map[Conn]*endpoint),
	}
}

// Run processes hub commands until ctx is done or Close is called. On exit
// every registered connection is closed and later calls fail with
// ErrHubClosed.
func (h *Hub) Run(ctx context.Context) error {
	if !h.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(h.done)
	defer h.teardown()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-h.stop:
			return nil
		case fn := <-h.cmds:
			fn()
		}
	}
}

// Close stops Run. It does not wait for it to return; use Done for that.
func (h *Hub) Close() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// Done is closed once Run has returned and every connection was closed.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// do runs fn on the Run goroutine. Commands issued before Run starts wait for
// it; once Close is called, whether or not Run ever started, they fail with
// ErrHubClosed.
func (h *Hub) do(fn func()) error {
	finished := make(chan struct{})
	select {
	case h.cmds <- func() { defer close(finished); fn() }:
	case <-h.stop:
		return ErrHubClosed
	case <-h.done:
		return ErrHubClosed
	}
	<-finished
	return nil
}

// Register adds conn to the registry and returns its id. Registering an
// already registered conn returns the existing id with no side effects.
//
// On first registration the hub sends ready{client_id} to conn and then
// broadcasts peer{peer_id} to every endpoint, conn included.
func (h *Hub) Register(conn Conn, ready bool) (string, error) {
	if conn == nil {
		return "", errNilConn
	}
	var (
		id  string
		err error
	)
	if doErr := h.do(func() { id, err = h.register(conn, ready) }); doErr != nil {
		return "", doErr
	}
	return id, err
}

func (h *Hub) register(conn Conn, ready bool) (string, error) {
	if ep, ok := h.byConn[conn]; ok {
		return ep.id, nil
	}
	if !ready {
		return "", ErrNotReady
	}
	if h.maxEndpoints > 0 && len(h.endpoints) >= h.maxEndpoints {
		h.metrics.Inc(metrics.HubTooManyEndpoints)
		return "", ErrTooManyEndpoints
	}

	var id string
	for attempt := 0; attempt < 3; attempt++ {
		candidate := h.newID()
		if _, exists := h.endpoints[candidate]; candidate != "" && !exists {
			id = candidate
			break
		}
	}
	if id == "" {
		return "", ErrIDAllocation
	}

	ep := &endpoint{id: id, conn: conn, connected: true}
	h.endpoints[id] = ep
	h.byConn[conn] = ep
	h.metrics.Inc(metrics.HubEndpointsRegistered)
	h.log.Info("endpoint registered", "endpoint_id", id, "endpoints", len(h.endpoints))

	h.deliver(ep, signaling.ReadyFrame(id))
	announce := signaling.PeerFrame(id)
	for _, other := range h.endpoints {
		h.deliver(other, announce)
	}
	h.metrics.Inc(metrics.HubPeerBroadcasts)
	return id, nil
}

// Deregister removes conn. Remaining endpoints are not notified.
func (h *Hub) Deregister(conn Conn) {
	_ = h.do(func() {
		ep, ok := h.byConn[conn]
		if !ok {
			return
		}
		ep.connected = false
		delete(h.byConn, conn)
		delete(h.endpoints, ep.id)
		h.metrics.Inc(metrics.HubEndpointsDeregistered)
		h.log.Info("endpoint deregistered", "endpoint_id", ep.id, "endpoints", len(h.endpoints))
	})
}

// Route forwards env to env.ToID as seen from the recipient: peer_id carries
// the sender and client_id the recipient, under the same handler id. An
// unknown destination delivers nothing and yields a *RoutingError.
func (h *Hub) Route(env signaling.Envelope) error {
	var err error
	if doErr := h.do(func() { err = h.route(env) }); doErr != nil {
		return doErr
	}
	return err
}

func (h *Hub) route(env signaling.Envelope) error {
	target, ok := h.endpoints[env.ToID]
	if !ok {
		h.metrics.Inc(metrics.HubEnvelopesUnknownPeer)
		h.log.Debug("dropping envelope for unknown peer", "handler_id", env.HandlerID, "from_id", env.FromID, "to_id", env.ToID)
		return &RoutingError{HandlerID: env.HandlerID, PeerID: env.ToID, Err: ErrUnknownPeer}
	}
	if err := h.deliver(target, signaling.InboundFrame(env)); err != nil {
		return &RoutingError{HandlerID: env.HandlerID, PeerID: env.ToID, Err: err}
	}
	h.metrics.Inc(metrics.HubEnvelopesRouted)
	return nil
}

// Len returns the number of registered endpoints.
func (h *Hub) Len() int {
	var n int
	_ = h.do(func() { n = len(h.endpoints) })
	return n
}

// IDs returns the registered endpoint ids in sorted order.
func (h *Hub) IDs() []string {
	var ids []string
	_ = h.do(func() {
		ids = make([]string, 0, len(h.endpoints))
		for id := range h.endpoints {
			ids = append(ids, id)
		}
	})
	sort.Strings(ids)
	return ids
}

func (h *Hub) deliver(ep *endpoint, f signaling.Frame) error {
	err := ep.conn.Deliver(f)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrBackpressure) {
		h.metrics.Inc(metrics.HubFramesDroppedBackpressure)
	}
	h.log.Debug("frame not delivered", "endpoint_id", ep.id, "type", f.Type, "err", err)
	return err
}

func (h *Hub) teardown() {
	for id, ep := range h.endpoints {
		ep.connected = false
		_ = ep.conn.Close()
		delete(h.endpoints, id)
	}
	clear(h.byConn)
}
