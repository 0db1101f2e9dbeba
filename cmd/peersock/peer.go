package main

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/wilsonzlin/aero/proxy/peersock/internal/discovery"
	"github.com/wilsonzlin/aero/proxy/peersock/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/peersock/internal/mqttsignal"
	"github.com/wilsonzlin/aero/proxy/peersock/internal/negotiation"
	"github.com/wilsonzlin/aero/proxy/peersock/internal/relayclient"
	"github.com/wilsonzlin/aero/proxy/peersock/internal/signaling"
	"github.com/wilsonzlin/aero/proxy/peersock/internal/webrtcpeer"
)

var errSignalingClosed = errors.New("signaling connection closed")

// peer is one signaling connection plus the negotiation manager on top of it.
type peer struct {
	localID   string
	transport signaling.Transport
	mgr       *negotiation.Manager
	live      atomic.Pointer[negotiation.Manager]
	metrics   *metrics.Metrics
	failures  chan *negotiation.NegotiationError

	// done is closed when the signaling connection ends. Nil for transports
	// that reconnect on their own.
	done           <-chan struct{}
	closeTransport func() error
}

func (p *peer) Close() error {
	err := p.mgr.Close()
	if cerr := p.closeTransport(); err == nil {
		err = cerr
	}
	return err
}

// connect joins the configured signaling network and starts a Manager.
func (a *app) connect(ctx context.Context) (*peer, error) {
	p := &peer{
		metrics:  metrics.New(),
		failures: make(chan *negotiation.NegotiationError, 16),
	}
	if err := a.dialSignaling(ctx, p); err != nil {
		return nil, err
	}

	engine, err := webrtcpeer.NewEngine(a.cfg, webrtcpeer.Options{Logger: a.log})
	if err != nil {
		_ = p.closeTransport()
		return nil, fmt.Errorf("configure webrtc: %w", err)
	}

	channel := negotiation.DefaultChannelOptions()
	channel.Ordered = a.cfg.ChannelOrdered
	channel.MaxRetransmits = a.cfg.ChannelMaxRetransmits

	mgr, err := negotiation.New(p.localID, p.transport, engine, negotiation.Options{
		OnError: func(nerr *negotiation.NegotiationError) {
			a.con.failure.Printfln("negotiation with %s failed during %s: %v", nerr.SessionID, nerr.Op, nerr.Err)
			select {
			case p.failures <- nerr:
			default:
			}
		},
		OnStateChange: func(remoteID string, state negotiation.State) {
			a.log.Debug("session state", "peer_id", remoteID, "state", state.String())
		},
		Channel:            &channel,
		NegotiationTimeout: a.cfg.NegotiationTimeout,
		MaxIDAttempts:      a.cfg.ChannelIDAttempts,
		Logger:             a.log,
		Metrics:            p.metrics,
	})
	if err != nil {
		_ = p.closeTransport()
		return nil, err
	}
	p.mgr = mgr
	p.live.Store(mgr)
	return p, nil
}

// undeliverable hands a relay delivery failure to the Manager. Failures that
// arrive before the Manager exists cannot concern one of its offers.
func (p *peer) undeliverable(derr *signaling.DeliveryError) {
	if mgr := p.live.Load(); mgr != nil {
		mgr.ReportUndeliverable(derr.PeerID, derr.HandlerID, derr.Reason)
	}
}

func (a *app) dialSignaling(ctx context.Context, p *peer) error {
	if a.cfg.MQTTBrokerURL != "" {
		t, err := mqttsignal.Connect(ctx, mqttsignal.Options{
			BrokerURL:   a.cfg.MQTTBrokerURL,
			TopicPrefix: a.cfg.MQTTTopicPrefix,
			LocalID:     a.peerID,
			Logger:      a.log,
		})
		if err != nil {
			return err
		}
		p.localID = t.LocalID()
		p.transport = t
		p.closeTransport = t.Close
		return nil
	}

	url, err := a.relayURL(ctx)
	if err != nil {
		return err
	}
	c, err := relayclient.Dial(ctx, url, relayclient.Options{Logger: a.log})
	if err != nil {
		return err
	}
	c.OnPeer(func(id string) {
		if id != c.ID() {
			a.con.info.Printfln("peer %s joined the relay", id)
		}
	})
	c.OnDeliveryFailure(func(derr *signaling.DeliveryError) {
		a.con.warning.Printfln("relay could not deliver to %s: %s", derr.PeerID, derr.Reason)
		p.undeliverable(derr)
	})
	c.OnRelayError(func(rerr *relayclient.RelayError) {
		a.con.failure.Println(rerr.Error())
	})
	id, err := c.Register(ctx)
	if err != nil {
		_ = c.Close()
		return fmt.Errorf("register with relay %s: %w", url, err)
	}
	p.localID = id
	p.transport = c
	p.closeTransport = c.Close
	p.done = c.Done()
	return nil
}

func (a *app) relayURL(ctx context.Context) (string, error) {
	if !a.relayMDNS {
		return a.cfg.RelayURL, nil
	}
	ctx, cancel := context.WithTimeout(ctx, a.browseTimeout)
	defer cancel()
	r, err := discovery.Find(ctx)
	if err != nil {
		return "", err
	}
	a.con.info.Printfln("using relay %s at %s", r.Instance, r.URL())
	return r.URL(), nil
}
