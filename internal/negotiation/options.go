package negotiation

import (
	"log/slog"
	"math/rand"
	"time"

	"github.com/wilsonzlin/aero/proxy/peersock/internal/metrics"
)

const (
	DefaultNegotiationTimeout = 30 * time.Second
	DefaultMaxIDAttempts      = 16
	defaultSendTimeout        = 10 * time.Second
)

// Message is one data channel message together with the channel it arrived
// on.
type Message struct {
	Channel  *Channel
	Data     []byte
	IsString bool
}

// ChannelHandlers are the application callbacks for a channel. Nil fields fall
// back to the Manager's defaults. Callbacks run on a single goroutine in event
// order and may call back into the Manager.
type ChannelHandlers struct {
	OnOpen    func(ch *Channel)
	OnMessage func(msg Message)
	OnClose   func(ch *Channel)
	OnError   func(ch *Channel, err error)
}

func (h ChannelHandlers) merge(defaults ChannelHandlers) ChannelHandlers {
	if h.OnOpen == nil {
		h.OnOpen = defaults.OnOpen
	}
	if h.OnMessage == nil {
		h.OnMessage = defaults.OnMessage
	}
	if h.OnClose == nil {
		h.OnClose = defaults.OnClose
	}
	if h.OnError == nil {
		h.OnError = defaults.OnError
	}
	return h
}

type Options struct {
	// Defaults apply to every channel whose own handlers leave a field nil.
	Defaults ChannelHandlers
	// OnError receives handshake failures. Channel-level errors go to
	// ChannelHandlers.OnError instead.
	OnError       func(err *NegotiationError)
	OnStateChange func(remoteID string, state State)

	// Channel configures locally created channels. Nil means ordered and
	// reliable.
	Channel            *ChannelOptions
	NegotiationTimeout time.Duration
	MaxIDAttempts      int
	SendTimeout        time.Duration

	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// Intn picks channel identifiers. Defaults to math/rand/v2.IntN.
	Intn func(n int) int
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	log := o.Logger
	o.Defaults = o.Defaults.merge(ChannelHandlers{
		OnOpen: func(ch *Channel) {
			log.Debug("channel open", "peer_id", ch.RemoteID(), "channel", ch.Name())
		},
		OnMessage: func(msg Message) {
			log.Debug("channel message", "peer_id", msg.Channel.RemoteID(), "channel", msg.Channel.Name(), "bytes", len(msg.Data))
		},
		OnClose: func(ch *Channel) {
			log.Debug("channel closed", "peer_id", ch.RemoteID(), "channel", ch.Name())
		},
		OnError: func(ch *Channel, err error) {
			log.Warn("channel error", "peer_id", ch.RemoteID(), "channel", ch.Name(), "err", err)
		},
	})
	if o.OnError == nil {
		o.OnError = func(err *NegotiationError) {
			log.Warn("negotiation failed", "peer_id", err.SessionID, "op", err.Op, "err", err.Err)
		}
	}
	if o.OnStateChange == nil {
		o.OnStateChange = func(string, State) {}
	}
	if o.Channel == nil {
		def := DefaultChannelOptions()
		o.Channel = &def
	}
	if o.NegotiationTimeout <= 0 {
		o.NegotiationTimeout = DefaultNegotiationTimeout
	}
	if o.MaxIDAttempts <= 0 {
		o.MaxIDAttempts = DefaultMaxIDAttempts
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = defaultSendTimeout
	}
	if o.Intn == nil {
		o.Intn = rand.Intn
	}
	return o
}
