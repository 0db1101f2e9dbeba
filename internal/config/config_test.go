package config

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func lookupMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func noEnv(string) (string, bool) { return "", false }

func TestDefaultsDev(t *testing.T) {
	cfg, err := load(noEnv, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != ModeDev {
		t.Fatalf("mode=%q, want %q", cfg.Mode, ModeDev)
	}
	if cfg.LogFormat != LogFormatText {
		t.Fatalf("logFormat=%q, want %q", cfg.LogFormat, LogFormatText)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("logLevel=%v, want %v", cfg.LogLevel, slog.LevelDebug)
	}
	if cfg.ListenAddr != DefaultListenAddr {
		t.Fatalf("listenAddr=%q, want %q", cfg.ListenAddr, DefaultListenAddr)
	}
	if cfg.NegotiationTimeout != DefaultNegotiationTimeout {
		t.Fatalf("NegotiationTimeout=%v, want %v", cfg.NegotiationTimeout, DefaultNegotiationTimeout)
	}
	if !cfg.ChannelOrdered || cfg.ChannelMaxRetransmits != nil {
		t.Fatalf("channel ordered=%v maxRetransmits=%v, want ordered reliable", cfg.ChannelOrdered, cfg.ChannelMaxRetransmits)
	}
	if cfg.ChannelIDAttempts != DefaultChannelIDAttempts {
		t.Fatalf("ChannelIDAttempts=%d, want %d", cfg.ChannelIDAttempts, DefaultChannelIDAttempts)
	}
	if cfg.MaxEndpoints != 0 {
		t.Fatalf("MaxEndpoints=%d, want 0", cfg.MaxEndpoints)
	}
	if cfg.WebRTCUDPPortRange != nil {
		t.Fatalf("expected WebRTCUDPPortRange unset, got %+v", *cfg.WebRTCUDPPortRange)
	}
	if !cfg.WebRTCUDPListenIP.Equal(net.IPv4zero) {
		t.Fatalf("WebRTCUDPListenIP=%v, want 0.0.0.0", cfg.WebRTCUDPListenIP)
	}
	if len(cfg.ICEServers) != 1 {
		t.Fatalf("ICEServers=%#v, want default STUN entry", cfg.ICEServers)
	}
}

func TestDefaultsProdWhenModeFlagSet(t *testing.T) {
	cfg, err := load(noEnv, []string{"--mode", "prod"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != ModeProd {
		t.Fatalf("mode=%q, want %q", cfg.Mode, ModeProd)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Fatalf("logLevel=%v, want %v", cfg.LogLevel, slog.LevelInfo)
	}
}

func TestProdModeFromEnvSelectsJSON(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{envVarMode: "production"}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogFormat != LogFormatJSON {
		t.Fatalf("logFormat=%q, want %q", cfg.LogFormat, LogFormatJSON)
	}
}

func TestFlagOverridesEnv(t *testing.T) {
	env := lookupMap(map[string]string{
		envVarListenAddr:         "0.0.0.0:9000",
		envVarNegotiationTimeout: "5s",
		envVarMaxEndpoints:       "10",
	})
	cfg, err := load(env, []string{"--listen-addr", "127.0.0.1:9001", "--max-endpoints", "3"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:9001" {
		t.Fatalf("listenAddr=%q, want flag value", cfg.ListenAddr)
	}
	if cfg.MaxEndpoints != 3 {
		t.Fatalf("MaxEndpoints=%d, want 3", cfg.MaxEndpoints)
	}
	if cfg.NegotiationTimeout != 5*time.Second {
		t.Fatalf("NegotiationTimeout=%v, want env value 5s", cfg.NegotiationTimeout)
	}
}

func TestDebugForcesDebugLevel(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{envVarMode: "prod", envVarDebug: "true"}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("logLevel=%v, want debug", cfg.LogLevel)
	}
}

func TestChannelMaxRetransmits(t *testing.T) {
	cfg, err := load(noEnv, []string{"--channel-max-retransmits", "0", "--channel-ordered=false"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ChannelOrdered {
		t.Fatalf("ChannelOrdered=true, want false")
	}
	if cfg.ChannelMaxRetransmits == nil || *cfg.ChannelMaxRetransmits != 0 {
		t.Fatalf("ChannelMaxRetransmits=%v, want 0", cfg.ChannelMaxRetransmits)
	}
}

func TestWebRTCPortRange(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envVarWebRTCUDPPortMin: "50000",
		envVarWebRTCUDPPortMax: "50100",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.WebRTCUDPPortRange == nil || cfg.WebRTCUDPPortRange.Min != 50000 || cfg.WebRTCUDPPortRange.Max != 50100 {
		t.Fatalf("WebRTCUDPPortRange=%+v, want 50000-50100", cfg.WebRTCUDPPortRange)
	}
}

func TestInvalidValues(t *testing.T) {
	for _, tc := range []struct {
		name string
		env  map[string]string
		args []string
	}{
		{name: "mode", args: []string{"--mode", "staging"}},
		{name: "log format", args: []string{"--log-format", "xml"}},
		{name: "log level", env: map[string]string{envVarLogLevel: "loud"}},
		{name: "env int", env: map[string]string{envVarMaxEndpoints: "many"}},
		{name: "env duration", env: map[string]string{envVarNegotiationTimeout: "soon"}},
		{name: "ping >= idle", args: []string{"--signaling-ws-ping-interval", "2m"}},
		{name: "relay url scheme", args: []string{"--relay-url", "http://example.com/signal"}},
		{name: "mqtt prefix wildcard", args: []string{"--mqtt-topic-prefix", "a/#"}},
		{name: "half port range", args: []string{"--webrtc-udp-port-min", "5000"}},
		{name: "inverted port range", args: []string{"--webrtc-udp-port-min", "6000", "--webrtc-udp-port-max", "5000"}},
		{name: "retransmits", args: []string{"--channel-max-retransmits", "-2"}},
		{name: "id attempts", args: []string{"--channel-id-attempts", "0"}},
		{name: "nat ip", args: []string{"--webrtc-nat-1to1-ips", "not-an-ip"}},
		{name: "nat type", args: []string{"--webrtc-nat-1to1-ip-candidate-type", "relay"}},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			if _, err := load(lookupMap(tc.env), tc.args); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestHelpFlag(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	if _, err := BindFlags(fs, noEnv); err != nil {
		t.Fatalf("BindFlags: %v", err)
	}
	if err := fs.Parse([]string{"--help"}); !errors.Is(err, pflag.ErrHelp) {
		t.Fatalf("Parse err=%v, want pflag.ErrHelp", err)
	}
}
