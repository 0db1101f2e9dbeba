package webrtcpeer

import (
	"fmt"
	"log/slog"
	"net"

	"github.com/pion/transport/v4"
	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/peersock/internal/config"
)

type Options struct {
	Logger *slog.Logger
	// Net replaces the host network stack, for example with a vnet.Net.
	Net transport.Net
}

func NewAPI(cfg config.Config, opts Options) (*webrtc.API, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	se := webrtc.SettingEngine{
		LoggerFactory: NewLoggerFactory(logger),
	}
	if opts.Net != nil {
		se.SetNet(opts.Net)
	}
	if err := ApplyNetworkSettings(&se, cfg); err != nil {
		return nil, err
	}
	return webrtc.NewAPI(webrtc.WithSettingEngine(se)), nil
}

func ApplyNetworkSettings(se *webrtc.SettingEngine, cfg config.Config) error {
	if cfg.WebRTCUDPPortRange != nil {
		if err := se.SetEphemeralUDPPortRange(cfg.WebRTCUDPPortRange.Min, cfg.WebRTCUDPPortRange.Max); err != nil {
			return fmt.Errorf("set ephemeral udp port range: %w", err)
		}
	}

	if len(cfg.WebRTCNAT1To1IPs) > 0 {
		var candidateType webrtc.ICECandidateType
		switch cfg.WebRTCNAT1To1IPCandidateType {
		case config.NAT1To1CandidateTypeHost:
			candidateType = webrtc.ICECandidateTypeHost
		case config.NAT1To1CandidateTypeSrflx:
			candidateType = webrtc.ICECandidateTypeSrflx
		default:
			return fmt.Errorf("invalid NAT 1:1 IP candidate type %q", cfg.WebRTCNAT1To1IPCandidateType)
		}
		se.SetNAT1To1IPs(cfg.WebRTCNAT1To1IPs, candidateType)
	}

	// There is no bind-address setting; gathering is restricted with an IP
	// filter instead.
	if !config.IsUnspecifiedIP(cfg.WebRTCUDPListenIP) {
		listenIP := cfg.WebRTCUDPListenIP
		se.SetIPFilter(func(ip net.IP) bool {
			return ip.Equal(listenIP)
		})
	}

	return nil
}
