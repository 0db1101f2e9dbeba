package webrtcpeer_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/pion/logging"
	"github.com/pion/transport/v4/vnet"

	"github.com/wilsonzlin/aero/proxy/peersock/internal/config"
	"github.com/wilsonzlin/aero/proxy/peersock/internal/negotiation"
	"github.com/wilsonzlin/aero/proxy/peersock/internal/signaling"
	"github.com/wilsonzlin/aero/proxy/peersock/internal/webrtcpeer"
)

// memSignal delivers envelopes between in-process endpoints, in send order.
type memSignal struct {
	mu    sync.Mutex
	peers map[string]*memEndpoint
}

type memEndpoint struct {
	hub  *memSignal
	subs signaling.Subscribers
}

func (s *memSignal) endpoint(id string) *memEndpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.peers == nil {
		s.peers = make(map[string]*memEndpoint)
	}
	ep := &memEndpoint{hub: s}
	s.peers[id] = ep
	return ep
}

func (e *memEndpoint) Send(_ context.Context, env signaling.Envelope) error {
	e.hub.mu.Lock()
	target, ok := e.hub.peers[env.ToID]
	e.hub.mu.Unlock()
	if !ok {
		return &signaling.DeliveryError{HandlerID: env.HandlerID, PeerID: env.ToID, Reason: "unknown peer"}
	}
	target.subs.Dispatch(env)
	return nil
}

func (e *memEndpoint) Subscribe(handlerID string, fn func(signaling.Envelope)) func() {
	return e.subs.Add(handlerID, fn)
}

func newVNetEngine(t *testing.T, router *vnet.Router, ip string) *webrtcpeer.Engine {
	t.Helper()
	n, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{ip}})
	if err != nil {
		t.Fatalf("new net %s: %v", ip, err)
	}
	if err := router.AddNet(n); err != nil {
		t.Fatalf("add net %s: %v", ip, err)
	}
	e, err := webrtcpeer.NewEngine(config.Config{}, webrtcpeer.Options{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Net:    n,
	})
	if err != nil {
		t.Fatalf("new engine %s: %v", ip, err)
	}
	return e
}

func TestNegotiationOverVNet(t *testing.T) {
	router, err := vnet.NewRouter(&vnet.RouterConfig{
		CIDR:          "10.0.0.0/24",
		LoggerFactory: logging.NewDefaultLoggerFactory(),
	})
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	engineA := newVNetEngine(t, router, "10.0.0.1")
	engineB := newVNetEngine(t, router, "10.0.0.2")
	if err := router.Start(); err != nil {
		t.Fatalf("start router: %v", err)
	}
	t.Cleanup(func() { _ = router.Stop() })

	var sig memSignal
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	errs := make(chan error, 8)
	onError := func(err *negotiation.NegotiationError) {
		select {
		case errs <- err:
		default:
		}
	}

	a, err := negotiation.New("a", sig.endpoint("a"), engineA, negotiation.Options{Logger: logger, OnError: onError})
	if err != nil {
		t.Fatalf("new manager a: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	b, err := negotiation.New("b", sig.endpoint("b"), engineB, negotiation.Options{Logger: logger, OnError: onError})
	if err != nil {
		t.Fatalf("new manager b: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })

	received := make(chan negotiation.Message, 1)
	remoteOpen := make(chan *negotiation.Channel, 1)
	if err := b.Listen("chat", negotiation.ChannelHandlers{
		OnOpen:    func(ch *negotiation.Channel) { remoteOpen <- ch },
		OnMessage: func(msg negotiation.Message) { received <- msg },
	}); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	localOpen := make(chan struct{})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	ch, err := a.Initiate(ctx, "b", "chat", negotiation.ChannelHandlers{
		OnOpen: func(*negotiation.Channel) { close(localOpen) },
	})
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}

	select {
	case <-localOpen:
	case err := <-errs:
		t.Fatalf("negotiation error: %v", err)
	case <-ctx.Done():
		t.Fatalf("timeout waiting for channel open")
	}
	var remote *negotiation.Channel
	select {
	case remote = <-remoteOpen:
	case <-ctx.Done():
		t.Fatalf("timeout waiting for remote channel")
	}
	if remote.Name() != "chat" || remote.RemoteID() != "a" || remote.LowID() != ch.LowID() {
		t.Fatalf("remote channel=%q/%q/%d, want chat/a/%d", remote.Name(), remote.RemoteID(), remote.LowID(), ch.LowID())
	}

	if err := ch.SendText("hello over vnet"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	select {
	case msg := <-received:
		if string(msg.Data) != "hello over vnet" || !msg.IsString {
			t.Fatalf("message=%q isString=%v", msg.Data, msg.IsString)
		}
	case <-ctx.Done():
		t.Fatalf("timeout waiting for message")
	}

	info, err := a.Session(ctx, "b")
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if info.State != negotiation.StateConnected || !info.Connected {
		t.Fatalf("session=%+v, want connected", info)
	}
}
