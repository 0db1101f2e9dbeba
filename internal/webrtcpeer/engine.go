package webrtcpeer

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/peersock/internal/config"
	"github.com/wilsonzlin/aero/proxy/peersock/internal/negotiation"
)

// Engine creates pion PeerConnections for the negotiation manager.
type Engine struct {
	api        *webrtc.API
	iceServers []webrtc.ICEServer
	log        *slog.Logger
}

var _ negotiation.Engine = (*Engine)(nil)

func NewEngine(cfg config.Config, opts Options) (*Engine, error) {
	api, err := NewAPI(cfg, opts)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{api: api, iceServers: cfg.ICEServers, log: logger}, nil
}

func (e *Engine) NewConnection(sessionID string, sink negotiation.EventSink) (negotiation.Connection, error) {
	pc, err := e.api.NewPeerConnection(webrtc.Configuration{ICEServers: e.iceServers})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	c := &connection{
		pc:        pc,
		sessionID: sessionID,
		sink:      sink,
		log:       e.log.With("session", sessionID),
		channels:  make(map[*webrtc.DataChannel]*dataChannel),
	}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			c.emit(negotiation.Event{Kind: negotiation.EventGatheringComplete})
			return
		}
		init := cand.ToJSON()
		c.emit(negotiation.Event{
			Kind: negotiation.EventLocalCandidate,
			Candidate: negotiation.Candidate{
				Candidate:        init.Candidate,
				SDPMid:           init.SDPMid,
				SDPMLineIndex:    init.SDPMLineIndex,
				UsernameFragment: init.UsernameFragment,
			},
		})
	})
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		opts := channelOptions(dc)
		var maxRetransmits any
		if opts.MaxRetransmits != nil {
			maxRetransmits = int(*opts.MaxRetransmits)
		}
		c.log.Debug("remote datachannel",
			"label", dc.Label(),
			"protocol", dc.Protocol(),
			"ordered", opts.Ordered,
			"max_retransmits", maxRetransmits,
		)
		d := c.wrap(dc)
		c.emit(negotiation.Event{Kind: negotiation.EventRemoteChannel, Channel: d})
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		c.emit(negotiation.Event{Kind: negotiation.EventConnectionState, State: connectionState(state)})
	})
	return c, nil
}

type connection struct {
	pc        *webrtc.PeerConnection
	sessionID string
	sink      negotiation.EventSink
	log       *slog.Logger

	mu       sync.Mutex
	channels map[*webrtc.DataChannel]*dataChannel
}

func (c *connection) emit(ev negotiation.Event) {
	ev.SessionID = c.sessionID
	c.sink(ev)
}

// wrap returns the single adapter for dc and forwards its events.
func (c *connection) wrap(dc *webrtc.DataChannel) *dataChannel {
	c.mu.Lock()
	if d, ok := c.channels[dc]; ok {
		c.mu.Unlock()
		return d
	}
	d := &dataChannel{dc: dc}
	c.channels[dc] = d
	c.mu.Unlock()

	dc.OnOpen(func() {
		c.emit(negotiation.Event{Kind: negotiation.EventChannelOpen, Channel: d})
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		// pion reuses its read buffer.
		data := append([]byte(nil), msg.Data...)
		c.emit(negotiation.Event{Kind: negotiation.EventChannelMessage, Channel: d, Data: data, IsString: msg.IsString})
	})
	dc.OnClose(func() {
		c.mu.Lock()
		delete(c.channels, dc)
		c.mu.Unlock()
		c.emit(negotiation.Event{Kind: negotiation.EventChannelClosed, Channel: d})
	})
	dc.OnError(func(err error) {
		c.emit(negotiation.Event{Kind: negotiation.EventChannelError, Channel: d, Err: err})
	})
	return d
}

func (c *connection) CreateChannel(label, protocol string, opts negotiation.ChannelOptions) (negotiation.DataChannel, error) {
	init, err := dataChannelInit(protocol, opts)
	if err != nil {
		return nil, err
	}
	dc, err := c.pc.CreateDataChannel(label, init)
	if err != nil {
		return nil, fmt.Errorf("create datachannel %q: %w", label, err)
	}
	return c.wrap(dc), nil
}

func (c *connection) CreateOffer() (negotiation.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return negotiation.SessionDescription{}, err
	}
	return negotiation.SessionDescription{Kind: negotiation.SDPOffer, SDP: offer.SDP}, nil
}

func (c *connection) CreateAnswer() (negotiation.SessionDescription, error) {
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return negotiation.SessionDescription{}, err
	}
	return negotiation.SessionDescription{Kind: negotiation.SDPAnswer, SDP: answer.SDP}, nil
}

func (c *connection) SetLocalDescription(d negotiation.SessionDescription) error {
	desc, err := toPion(d)
	if err != nil {
		return err
	}
	return c.pc.SetLocalDescription(desc)
}

func (c *connection) SetRemoteDescription(d negotiation.SessionDescription) error {
	desc, err := toPion(d)
	if err != nil {
		return err
	}
	return c.pc.SetRemoteDescription(desc)
}

func (c *connection) AddICECandidate(cand negotiation.Candidate) error {
	return c.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:        cand.Candidate,
		SDPMid:           cand.SDPMid,
		SDPMLineIndex:    cand.SDPMLineIndex,
		UsernameFragment: cand.UsernameFragment,
	})
}

func (c *connection) Close() error {
	return c.pc.Close()
}

func toPion(d negotiation.SessionDescription) (webrtc.SessionDescription, error) {
	switch d.Kind {
	case negotiation.SDPOffer:
		return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: d.SDP}, nil
	case negotiation.SDPAnswer:
		return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: d.SDP}, nil
	default:
		return webrtc.SessionDescription{}, fmt.Errorf("unsupported description kind %v", d.Kind)
	}
}

func connectionState(s webrtc.PeerConnectionState) negotiation.ConnectionState {
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		return negotiation.ConnectionConnecting
	case webrtc.PeerConnectionStateConnected:
		return negotiation.ConnectionConnected
	case webrtc.PeerConnectionStateDisconnected:
		return negotiation.ConnectionDisconnected
	case webrtc.PeerConnectionStateFailed:
		return negotiation.ConnectionFailed
	case webrtc.PeerConnectionStateClosed:
		return negotiation.ConnectionClosed
	default:
		return negotiation.ConnectionNew
	}
}
