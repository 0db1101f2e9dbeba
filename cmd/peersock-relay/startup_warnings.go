package main

import (
	"log/slog"
	"net"

	"github.com/wilsonzlin/aero/proxy/peersock/internal/config"
)

func logStartupSecurityWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	if !isLoopbackListenAddr(cfg.ListenAddr) {
		logger.Warn("startup security warning: signaling is unauthenticated and the relay listens beyond loopback (any client can register and message any peer)",
			"warning_code", "unauthenticated_public_listener",
			"listen_addr", cfg.ListenAddr,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && cfg.MaxEndpoints <= 0 {
		logger.Warn("startup security warning: PEERSOCK_MAX_ENDPOINTS is unset/0 (unlimited) while --mode=prod",
			"warning_code", "max_endpoints_unlimited_in_prod",
			"max_endpoints", cfg.MaxEndpoints,
			"mode", cfg.Mode,
		)
	}

	if cfg.MaxSignalingMessagesPerSecond > 1000 {
		logger.Warn("startup security warning: PEERSOCK_MAX_SIGNALING_MESSAGES_PER_SECOND is very large (one client can flood the hub)",
			"warning_code", "signaling_rate_large",
			"max_signaling_messages_per_second", cfg.MaxSignalingMessagesPerSecond,
			"mode", cfg.Mode,
		)
	}

	if cfg.MaxSignalingMessageBytes > 1<<20 { // 1MiB
		logger.Warn("startup security warning: PEERSOCK_MAX_SIGNALING_MESSAGE_BYTES is very large (increases per-message allocation risk)",
			"warning_code", "signaling_message_bytes_large",
			"max_signaling_message_bytes", cfg.MaxSignalingMessageBytes,
			"mode", cfg.Mode,
		)
	}

	if cfg.Advertise && cfg.Mode == config.ModeProd {
		logger.Warn("startup security warning: mDNS advertisement is enabled while --mode=prod",
			"warning_code", "advertise_in_prod",
			"advertise_instance", cfg.AdvertiseInstance,
			"mode", cfg.Mode,
		)
	}
}

func isLoopbackListenAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
