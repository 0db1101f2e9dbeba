package config

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/spf13/pflag"
)

const (
	envVarMode            = "PEERSOCK_MODE"
	envVarLogFormat       = "PEERSOCK_LOG_FORMAT"
	envVarLogLevel        = "PEERSOCK_LOG_LEVEL"
	envVarDebug           = "PEERSOCK_DEBUG"
	envVarListenAddr      = "PEERSOCK_LISTEN_ADDR"
	envVarShutdownTimeout = "PEERSOCK_SHUTDOWN_TIMEOUT"

	// Relay hub knobs.
	envVarMaxEndpoints                  = "PEERSOCK_MAX_ENDPOINTS"
	envVarEndpointQueueFrames           = "PEERSOCK_ENDPOINT_QUEUE_FRAMES"
	envVarMaxSignalingMessageBytes      = "PEERSOCK_MAX_SIGNALING_MESSAGE_BYTES"
	envVarMaxSignalingMessagesPerSecond = "PEERSOCK_MAX_SIGNALING_MESSAGES_PER_SECOND"
	envVarSignalingWSIdleTimeout        = "PEERSOCK_SIGNALING_WS_IDLE_TIMEOUT"
	envVarSignalingWSPingInterval       = "PEERSOCK_SIGNALING_WS_PING_INTERVAL"
	envVarAdvertise                     = "PEERSOCK_ADVERTISE"
	envVarAdvertiseInstance             = "PEERSOCK_ADVERTISE_INSTANCE"

	// Peer-side knobs.
	envVarRelayURL              = "PEERSOCK_RELAY_URL"
	envVarMQTTBrokerURL         = "PEERSOCK_MQTT_BROKER_URL"
	envVarMQTTTopicPrefix       = "PEERSOCK_MQTT_TOPIC_PREFIX"
	envVarNegotiationTimeout    = "PEERSOCK_NEGOTIATION_TIMEOUT"
	envVarChannelOrdered        = "PEERSOCK_CHANNEL_ORDERED"
	envVarChannelMaxRetransmits = "PEERSOCK_CHANNEL_MAX_RETRANSMITS"
	envVarChannelIDAttempts     = "PEERSOCK_CHANNEL_ID_ATTEMPTS"

	envVarWebRTCUDPPortMin             = "PEERSOCK_WEBRTC_UDP_PORT_MIN"
	envVarWebRTCUDPPortMax             = "PEERSOCK_WEBRTC_UDP_PORT_MAX"
	envVarWebRTCUDPListenIP            = "PEERSOCK_WEBRTC_UDP_LISTEN_IP"
	envVarWebRTCNAT1To1IPs             = "PEERSOCK_WEBRTC_NAT_1TO1_IPS"
	envVarWebRTCNAT1To1IPCandidateType = "PEERSOCK_WEBRTC_NAT_1TO1_IP_CANDIDATE_TYPE"
)

const (
	DefaultListenAddr                    = "127.0.0.1:8080"
	DefaultShutdown                      = 15 * time.Second
	DefaultMode                     Mode = ModeDev
	DefaultEndpointQueueFrames           = 256
	DefaultMaxSignalingMessageBytes      = int64(64 * 1024)
	DefaultMaxSignalingMessagesPerSecond = 50
	DefaultSignalingWSIdleTimeout        = 60 * time.Second
	DefaultSignalingWSPingInterval       = 20 * time.Second
	DefaultAdvertiseInstance             = "peersock-relay"

	DefaultRelayURL           = "ws://127.0.0.1:8080/signal"
	DefaultMQTTTopicPrefix    = "peersock"
	DefaultNegotiationTimeout = 30 * time.Second
	DefaultChannelIDAttempts  = 16
	DefaultWebRTCUDPListenIP  = "0.0.0.0"
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type NAT1To1IPCandidateType string

const (
	NAT1To1CandidateTypeHost  NAT1To1IPCandidateType = "host"
	NAT1To1CandidateTypeSrflx NAT1To1IPCandidateType = "srflx"
)

type UDPPortRange struct {
	Min uint16
	Max uint16
}

type Config struct {
	Mode            Mode
	LogFormat       LogFormat
	LogLevel        slog.Level
	ListenAddr      string
	ShutdownTimeout time.Duration

	MaxEndpoints                  int
	EndpointQueueFrames           int
	MaxSignalingMessageBytes      int64
	MaxSignalingMessagesPerSecond int
	SignalingWSIdleTimeout        time.Duration
	SignalingWSPingInterval       time.Duration
	Advertise                     bool
	AdvertiseInstance             string

	RelayURL        string
	MQTTBrokerURL   string
	MQTTTopicPrefix string

	ICEServers         []webrtc.ICEServer
	NegotiationTimeout time.Duration
	ChannelOrdered     bool
	// ChannelMaxRetransmits is nil for a fully reliable channel.
	ChannelMaxRetransmits *uint16
	ChannelIDAttempts     int

	WebRTCUDPPortRange           *UDPPortRange
	WebRTCUDPListenIP            net.IP
	WebRTCNAT1To1IPs             []string
	WebRTCNAT1To1IPCandidateType NAT1To1IPCandidateType
}

// Flags holds raw flag values bound to a FlagSet. Environment variables supply
// the defaults, so an explicitly passed flag always wins.
type Flags struct {
	mode        string
	logFormat   string
	logLevel    string
	debug       bool
	listenAddr  string
	shutdown    time.Duration
	maxEnd      int
	queueFrames int
	maxMsgBytes int64
	maxMsgRate  int
	wsIdle      time.Duration
	wsPing      time.Duration
	advertise   bool
	advertiseAs string

	relayURL    string
	mqttBroker  string
	mqttPrefix  string
	negTimeout  time.Duration
	ordered     bool
	maxRetrans  int
	idAttempts  int
	iceJSON     string
	stunURLs    string
	turnURLs    string
	turnUser    string
	turnCred    string
	portMin     uint
	portMax     uint
	listenIP    string
	nat1To1IPs  string
	nat1To1Type string
}

// BindFlags registers every configuration flag on fs. Defaults come from
// lookup (normally os.LookupEnv).
func BindFlags(fs *pflag.FlagSet, lookup func(string) (string, bool)) (*Flags, error) {
	f := &Flags{}

	modeDefault := envOrDefault(lookup, envVarMode, string(DefaultMode))
	logFormatDefault := envOrDefault(lookup, envVarLogFormat, defaultLogFormatForMode(modeDefault))
	logLevelDefault := envOrDefault(lookup, envVarLogLevel, defaultLogLevelForMode(modeDefault))

	var err error
	if f.debug, err = envBoolOrDefault(lookup, envVarDebug, false); err != nil {
		return nil, err
	}
	if f.shutdown, err = envDurationOrDefault(lookup, envVarShutdownTimeout, DefaultShutdown); err != nil {
		return nil, err
	}
	if f.maxEnd, err = envIntOrDefault(lookup, envVarMaxEndpoints, 0); err != nil {
		return nil, err
	}
	if f.queueFrames, err = envIntOrDefault(lookup, envVarEndpointQueueFrames, DefaultEndpointQueueFrames); err != nil {
		return nil, err
	}
	maxMsgBytes, err := envIntOrDefault(lookup, envVarMaxSignalingMessageBytes, int(DefaultMaxSignalingMessageBytes))
	if err != nil {
		return nil, err
	}
	f.maxMsgBytes = int64(maxMsgBytes)
	if f.maxMsgRate, err = envIntOrDefault(lookup, envVarMaxSignalingMessagesPerSecond, DefaultMaxSignalingMessagesPerSecond); err != nil {
		return nil, err
	}
	if f.wsIdle, err = envDurationOrDefault(lookup, envVarSignalingWSIdleTimeout, DefaultSignalingWSIdleTimeout); err != nil {
		return nil, err
	}
	if f.wsPing, err = envDurationOrDefault(lookup, envVarSignalingWSPingInterval, DefaultSignalingWSPingInterval); err != nil {
		return nil, err
	}
	if f.advertise, err = envBoolOrDefault(lookup, envVarAdvertise, false); err != nil {
		return nil, err
	}
	if f.negTimeout, err = envDurationOrDefault(lookup, envVarNegotiationTimeout, DefaultNegotiationTimeout); err != nil {
		return nil, err
	}
	if f.ordered, err = envBoolOrDefault(lookup, envVarChannelOrdered, true); err != nil {
		return nil, err
	}
	if f.maxRetrans, err = envIntOrDefault(lookup, envVarChannelMaxRetransmits, -1); err != nil {
		return nil, err
	}
	if f.idAttempts, err = envIntOrDefault(lookup, envVarChannelIDAttempts, DefaultChannelIDAttempts); err != nil {
		return nil, err
	}
	portMin, err := envIntOrDefault(lookup, envVarWebRTCUDPPortMin, 0)
	if err != nil {
		return nil, err
	}
	portMax, err := envIntOrDefault(lookup, envVarWebRTCUDPPortMax, 0)
	if err != nil {
		return nil, err
	}

	fs.StringVar(&f.mode, "mode", modeDefault, "Run mode: dev or prod (env "+envVarMode+")")
	fs.StringVar(&f.logFormat, "log-format", logFormatDefault, "Log format: text or json (env "+envVarLogFormat+")")
	fs.StringVar(&f.logLevel, "log-level", logLevelDefault, "Log level: debug, info, warn, error (env "+envVarLogLevel+")")
	fs.BoolVar(&f.debug, "debug", f.debug, "Force debug logging (env "+envVarDebug+")")
	fs.StringVar(&f.listenAddr, "listen-addr", envOrDefault(lookup, envVarListenAddr, DefaultListenAddr), "HTTP listen address (host:port)")
	fs.DurationVar(&f.shutdown, "shutdown-timeout", f.shutdown, "Graceful shutdown timeout (e.g. 15s)")

	fs.IntVar(&f.maxEnd, "max-endpoints", f.maxEnd, "Maximum registered endpoints (0 = unlimited; env "+envVarMaxEndpoints+")")
	fs.IntVar(&f.queueFrames, "endpoint-queue-frames", f.queueFrames, "Outbound frames buffered per endpoint before dropping (env "+envVarEndpointQueueFrames+")")
	fs.Int64Var(&f.maxMsgBytes, "max-signaling-message-bytes", f.maxMsgBytes, "Max inbound signaling frame size (env "+envVarMaxSignalingMessageBytes+")")
	fs.IntVar(&f.maxMsgRate, "max-signaling-messages-per-second", f.maxMsgRate, "Per-connection signaling frame rate (env "+envVarMaxSignalingMessagesPerSecond+")")
	fs.DurationVar(&f.wsIdle, "signaling-ws-idle-timeout", f.wsIdle, "Close idle signaling connections after this duration (env "+envVarSignalingWSIdleTimeout+")")
	fs.DurationVar(&f.wsPing, "signaling-ws-ping-interval", f.wsPing, "Ping interval for signaling connections; must be < idle timeout (env "+envVarSignalingWSPingInterval+")")
	fs.BoolVar(&f.advertise, "advertise", f.advertise, "Advertise the relay on the LAN via mDNS (env "+envVarAdvertise+")")
	fs.StringVar(&f.advertiseAs, "advertise-instance", envOrDefault(lookup, envVarAdvertiseInstance, DefaultAdvertiseInstance), "mDNS instance name (env "+envVarAdvertiseInstance+")")

	fs.StringVar(&f.relayURL, "relay-url", envOrDefault(lookup, envVarRelayURL, DefaultRelayURL), "Relay hub WebSocket URL (env "+envVarRelayURL+")")
	fs.StringVar(&f.mqttBroker, "mqtt-broker", envOrDefault(lookup, envVarMQTTBrokerURL, ""), "MQTT broker URL; selects MQTT signaling instead of the relay (env "+envVarMQTTBrokerURL+")")
	fs.StringVar(&f.mqttPrefix, "mqtt-topic-prefix", envOrDefault(lookup, envVarMQTTTopicPrefix, DefaultMQTTTopicPrefix), "MQTT topic prefix (env "+envVarMQTTTopicPrefix+")")
	fs.DurationVar(&f.negTimeout, "negotiation-timeout", f.negTimeout, "Fail a negotiation that has not connected within this duration (env "+envVarNegotiationTimeout+")")
	fs.BoolVar(&f.ordered, "channel-ordered", f.ordered, "Create ordered data channels (env "+envVarChannelOrdered+")")
	fs.IntVar(&f.maxRetrans, "channel-max-retransmits", f.maxRetrans, "Max retransmits for data channels (-1 = reliable; env "+envVarChannelMaxRetransmits+")")
	fs.IntVar(&f.idAttempts, "channel-id-attempts", f.idAttempts, "Attempts to mint a free channel id before failing (env "+envVarChannelIDAttempts+")")

	fs.StringVar(&f.iceJSON, "ice-servers-json", envOrDefault(lookup, envICEServersJSON, ""), "ICE server JSON config ("+envICEServersJSON+")")
	fs.StringVar(&f.stunURLs, "stun-urls", envOrDefault(lookup, envStunURLs, ""), "comma-separated STUN URLs ("+envStunURLs+")")
	fs.StringVar(&f.turnURLs, "turn-urls", envOrDefault(lookup, envTurnURLs, ""), "comma-separated TURN URLs ("+envTurnURLs+")")
	fs.StringVar(&f.turnUser, "turn-username", envOrDefault(lookup, envTurnUsername, ""), "TURN username ("+envTurnUsername+")")
	fs.StringVar(&f.turnCred, "turn-credential", envOrDefault(lookup, envTurnCredential, ""), "TURN credential ("+envTurnCredential+")")

	fs.UintVar(&f.portMin, "webrtc-udp-port-min", uint(portMin), "Min UDP port for WebRTC ICE (0 = unset; env "+envVarWebRTCUDPPortMin+")")
	fs.UintVar(&f.portMax, "webrtc-udp-port-max", uint(portMax), "Max UDP port for WebRTC ICE (0 = unset; env "+envVarWebRTCUDPPortMax+")")
	fs.StringVar(&f.listenIP, "webrtc-udp-listen-ip", envOrDefault(lookup, envVarWebRTCUDPListenIP, DefaultWebRTCUDPListenIP), "Local listen IP for WebRTC ICE UDP sockets (env "+envVarWebRTCUDPListenIP+")")
	fs.StringVar(&f.nat1To1IPs, "webrtc-nat-1to1-ips", envOrDefault(lookup, envVarWebRTCNAT1To1IPs, ""), "Comma-separated public IPs to advertise for WebRTC ICE (env "+envVarWebRTCNAT1To1IPs+")")
	fs.StringVar(&f.nat1To1Type, "webrtc-nat-1to1-ip-candidate-type", envOrDefault(lookup, envVarWebRTCNAT1To1IPCandidateType, string(NAT1To1CandidateTypeHost)), "Candidate type for NAT 1:1 IPs: host or srflx (env "+envVarWebRTCNAT1To1IPCandidateType+")")

	return f, nil
}

// Config validates the parsed flag values and returns the resolved Config.
func (f *Flags) Config() (Config, error) {
	mode, err := parseMode(f.mode)
	if err != nil {
		return Config{}, err
	}
	logFormat, err := parseLogFormat(f.logFormat)
	if err != nil {
		return Config{}, err
	}
	logLevel, err := parseLogLevel(f.logLevel)
	if err != nil {
		return Config{}, err
	}
	if f.debug {
		logLevel = slog.LevelDebug
	}

	if strings.TrimSpace(f.listenAddr) == "" {
		return Config{}, fmt.Errorf("listen address must not be empty")
	}
	if f.shutdown <= 0 {
		return Config{}, fmt.Errorf("shutdown timeout must be > 0 (got %s)", f.shutdown)
	}
	if f.maxEnd < 0 {
		return Config{}, fmt.Errorf("max endpoints must be >= 0 (got %d)", f.maxEnd)
	}
	if f.queueFrames <= 0 {
		return Config{}, fmt.Errorf("endpoint queue frames must be > 0 (got %d)", f.queueFrames)
	}
	if f.maxMsgBytes <= 0 {
		return Config{}, fmt.Errorf("max signaling message bytes must be > 0 (got %d)", f.maxMsgBytes)
	}
	if f.maxMsgRate <= 0 {
		return Config{}, fmt.Errorf("max signaling messages per second must be > 0 (got %d)", f.maxMsgRate)
	}
	if f.wsIdle <= 0 {
		return Config{}, fmt.Errorf("signaling ws idle timeout must be > 0 (got %s)", f.wsIdle)
	}
	if f.wsPing <= 0 || f.wsPing >= f.wsIdle {
		return Config{}, fmt.Errorf("signaling ws ping interval must be > 0 and < idle timeout (got %s, idle %s)", f.wsPing, f.wsIdle)
	}
	if f.advertise && strings.TrimSpace(f.advertiseAs) == "" {
		return Config{}, fmt.Errorf("advertise instance must not be empty when advertising")
	}

	if err := validateWebSocketURL(f.relayURL); err != nil {
		return Config{}, fmt.Errorf("invalid relay url %q: %w", f.relayURL, err)
	}
	if f.mqttBroker != "" {
		if _, err := url.Parse(f.mqttBroker); err != nil {
			return Config{}, fmt.Errorf("invalid mqtt broker url %q: %w", f.mqttBroker, err)
		}
	}
	if strings.TrimSpace(f.mqttPrefix) == "" || strings.ContainsAny(f.mqttPrefix, "#+") {
		return Config{}, fmt.Errorf("invalid mqtt topic prefix %q", f.mqttPrefix)
	}
	if f.negTimeout <= 0 {
		return Config{}, fmt.Errorf("negotiation timeout must be > 0 (got %s)", f.negTimeout)
	}
	var maxRetransmits *uint16
	switch {
	case f.maxRetrans < -1 || f.maxRetrans > 65535:
		return Config{}, fmt.Errorf("channel max retransmits must be -1 or in [0, 65535] (got %d)", f.maxRetrans)
	case f.maxRetrans >= 0:
		v := uint16(f.maxRetrans)
		maxRetransmits = &v
	}
	if f.idAttempts <= 0 {
		return Config{}, fmt.Errorf("channel id attempts must be > 0 (got %d)", f.idAttempts)
	}

	iceServers, err := parseICEServersFromValues(f.iceJSON, f.stunURLs, f.turnURLs, f.turnUser, f.turnCred)
	if err != nil {
		return Config{}, err
	}

	var portRange *UDPPortRange
	if f.portMin != 0 || f.portMax != 0 {
		if f.portMin == 0 || f.portMax == 0 {
			return Config{}, fmt.Errorf("both webrtc udp port min and max must be set (got %d-%d)", f.portMin, f.portMax)
		}
		minPort, err := parsePortUint(f.portMin)
		if err != nil {
			return Config{}, err
		}
		maxPort, err := parsePortUint(f.portMax)
		if err != nil {
			return Config{}, err
		}
		if minPort > maxPort {
			return Config{}, fmt.Errorf("webrtc udp port min %d must be <= max %d", minPort, maxPort)
		}
		portRange = &UDPPortRange{Min: minPort, Max: maxPort}
	}

	listenIP := net.ParseIP(strings.TrimSpace(f.listenIP))
	if listenIP == nil {
		return Config{}, fmt.Errorf("invalid webrtc udp listen ip %q", f.listenIP)
	}
	natIPs, err := parseIPList(f.nat1To1IPs)
	if err != nil {
		return Config{}, err
	}
	natType, err := parseCandidateType(f.nat1To1Type)
	if err != nil {
		return Config{}, err
	}

	return Config{
		Mode:            mode,
		LogFormat:       logFormat,
		LogLevel:        logLevel,
		ListenAddr:      f.listenAddr,
		ShutdownTimeout: f.shutdown,

		MaxEndpoints:                  f.maxEnd,
		EndpointQueueFrames:           f.queueFrames,
		MaxSignalingMessageBytes:      f.maxMsgBytes,
		MaxSignalingMessagesPerSecond: f.maxMsgRate,
		SignalingWSIdleTimeout:        f.wsIdle,
		SignalingWSPingInterval:       f.wsPing,
		Advertise:                     f.advertise,
		AdvertiseInstance:             strings.TrimSpace(f.advertiseAs),

		RelayURL:        f.relayURL,
		MQTTBrokerURL:   f.mqttBroker,
		MQTTTopicPrefix: strings.TrimSuffix(f.mqttPrefix, "/"),

		ICEServers:            iceServers,
		NegotiationTimeout:    f.negTimeout,
		ChannelOrdered:        f.ordered,
		ChannelMaxRetransmits: maxRetransmits,
		ChannelIDAttempts:     f.idAttempts,

		WebRTCUDPPortRange:           portRange,
		WebRTCUDPListenIP:            listenIP,
		WebRTCNAT1To1IPs:             natIPs,
		WebRTCNAT1To1IPCandidateType: natType,
	}, nil
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	fs := pflag.NewFlagSet("peersock-relay", pflag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	f, err := BindFlags(fs, lookup)
	if err != nil {
		return Config{}, err
	}
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return f.Config()
}

func NewLogger(cfg Config) (*slog.Logger, error) {
	return NewLoggerTo(os.Stdout, cfg)
}

// NewLoggerTo is NewLogger with an explicit destination.
func NewLoggerTo(w io.Writer, cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(w, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(w, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

func IsUnspecifiedIP(ip net.IP) bool {
	return ip == nil || ip.Equal(net.IPv4zero) || ip.Equal(net.IPv6zero)
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envBoolOrDefault(lookup func(string) (string, bool), key string, fallback bool) (bool, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func defaultLogFormatForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return string(LogFormatJSON)
	default:
		return string(LogFormatText)
	}
}

func defaultLogLevelForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return "info"
	default:
		return "debug"
	}
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid mode %q (expected dev or prod)", raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (expected text or json)", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (expected debug, info, warn, error)", raw)
	}
}

func validateWebSocketURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("scheme must be ws or wss")
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}

func parsePortUint(v uint) (uint16, error) {
	if v == 0 || v > 65535 {
		return 0, fmt.Errorf("invalid port %d", v)
	}
	return uint16(v), nil
}

func parseCandidateType(s string) (NAT1To1IPCandidateType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(NAT1To1CandidateTypeHost):
		return NAT1To1CandidateTypeHost, nil
	case string(NAT1To1CandidateTypeSrflx):
		return NAT1To1CandidateTypeSrflx, nil
	default:
		return "", fmt.Errorf("invalid NAT 1:1 candidate type %q (expected host or srflx)", s)
	}
}

func parseIPList(s string) ([]string, error) {
	var out []string
	for _, part := range splitCommaSeparated(s) {
		ip := net.ParseIP(part)
		if ip == nil {
			return nil, fmt.Errorf("invalid IP %q in %s", part, envVarWebRTCNAT1To1IPs)
		}
		out = append(out, ip.String())
	}
	return out, nil
}
