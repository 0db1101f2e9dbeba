package webrtcpeer

import (
	"errors"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/peersock/internal/negotiation"
)

var errPartialReliability = errors.New("datachannel may set maxRetransmits or maxPacketLifeTime, not both")

func dataChannelInit(protocol string, opts negotiation.ChannelOptions) (*webrtc.DataChannelInit, error) {
	if opts.MaxRetransmits != nil && opts.MaxPacketLifeTime != nil {
		return nil, errPartialReliability
	}
	ordered := opts.Ordered
	return &webrtc.DataChannelInit{
		Ordered:           &ordered,
		MaxRetransmits:    opts.MaxRetransmits,
		MaxPacketLifeTime: opts.MaxPacketLifeTime,
		Protocol:          &protocol,
	}, nil
}

// channelOptions reads back the reliability settings pion negotiated for dc.
func channelOptions(dc *webrtc.DataChannel) negotiation.ChannelOptions {
	return negotiation.ChannelOptions{
		Ordered:           dc.Ordered(),
		MaxRetransmits:    dc.MaxRetransmits(),
		MaxPacketLifeTime: dc.MaxPacketLifeTime(),
	}
}

// dataChannel adapts a pion DataChannel. The manager matches events to
// channels by this wrapper's identity, so each pion channel gets exactly one.
type dataChannel struct {
	dc *webrtc.DataChannel
}

func (d *dataChannel) Label() string    { return d.dc.Label() }
func (d *dataChannel) Protocol() string { return d.dc.Protocol() }

func (d *dataChannel) Send(data []byte) error { return d.dc.Send(data) }

func (d *dataChannel) SendText(text string) error { return d.dc.SendText(text) }

func (d *dataChannel) ReadyState() negotiation.ChannelState {
	switch d.dc.ReadyState() {
	case webrtc.DataChannelStateOpen:
		return negotiation.ChannelOpen
	case webrtc.DataChannelStateClosing:
		return negotiation.ChannelClosing
	case webrtc.DataChannelStateClosed:
		return negotiation.ChannelClosed
	default:
		return negotiation.ChannelConnecting
	}
}

func (d *dataChannel) Close() error { return d.dc.Close() }
