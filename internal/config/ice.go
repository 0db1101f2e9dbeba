package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
)

const (
	envICEServersJSON = "PEERSOCK_ICE_SERVERS_JSON"

	envStunURLs       = "PEERSOCK_STUN_URLS"
	envTurnURLs       = "PEERSOCK_TURN_URLS"
	envTurnUsername   = "PEERSOCK_TURN_USERNAME"
	envTurnCredential = "PEERSOCK_TURN_CREDENTIAL"
)

// DefaultSTUNURLs is used when no ICE configuration is supplied at all.
// Supplying PEERSOCK_ICE_SERVERS_JSON="[]" disables it.
var DefaultSTUNURLs = []string{
	"stun:23.21.150.121",
	"stun:stun.l.google.com:19302",
}

func DefaultICEServers() []webrtc.ICEServer {
	return []webrtc.ICEServer{{URLs: append([]string(nil), DefaultSTUNURLs...)}}
}

func parseICEServersFromValues(iceServersJSON, stunURLs, turnURLs, turnUsername, turnCredential string) ([]webrtc.ICEServer, error) {
	if raw := strings.TrimSpace(iceServersJSON); raw != "" {
		servers, err := ParseICEServersJSON(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", envICEServersJSON, err)
		}
		return servers, nil
	}

	servers, err := ParseICEServerLists(stunURLs, turnURLs, turnUsername, turnCredential)
	if err != nil {
		return nil, err
	}
	if len(servers) == 0 {
		return DefaultICEServers(), nil
	}
	return servers, nil
}

type iceServerJSON struct {
	URLs       stringOrStringSlice `json:"urls"`
	Username   string              `json:"username,omitempty"`
	Credential string              `json:"credential,omitempty"`
}

// stringOrStringSlice accepts both `"urls": "stun:..."` and `"urls": [...]`,
// matching the browser RTCIceServer shape.
type stringOrStringSlice []string

func (s *stringOrStringSlice) UnmarshalJSON(b []byte) error {
	var single string
	if err := json.Unmarshal(b, &single); err == nil {
		*s = []string{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	*s = many
	return nil
}

// ParseICEServersJSON parses an RTCIceServer-style JSON array.
func ParseICEServersJSON(raw string) ([]webrtc.ICEServer, error) {
	var servers []iceServerJSON
	if err := json.Unmarshal([]byte(raw), &servers); err != nil {
		return nil, err
	}

	out := make([]webrtc.ICEServer, 0, len(servers))
	for i, server := range servers {
		s := webrtc.ICEServer{
			URLs:     splitCommaSeparated(strings.Join(server.URLs, ",")),
			Username: strings.TrimSpace(server.Username),
		}
		if cred := strings.TrimSpace(server.Credential); cred != "" {
			s.Credential = cred
		}
		if err := validateICEServer(s); err != nil {
			return nil, fmt.Errorf("iceServers[%d]: %w", i, err)
		}
		out = append(out, s)
	}
	return out, nil
}

// ParseICEServerLists builds ICE servers from comma-separated STUN and TURN URL
// lists. TURN URLs require both a username and a credential.
func ParseICEServerLists(stunURLs, turnURLs, turnUsername, turnCredential string) ([]webrtc.ICEServer, error) {
	var servers []webrtc.ICEServer

	if stun := splitCommaSeparated(stunURLs); len(stun) > 0 {
		s := webrtc.ICEServer{URLs: stun}
		if err := validateICEServer(s); err != nil {
			return nil, fmt.Errorf("%s: %w", envStunURLs, err)
		}
		servers = append(servers, s)
	}

	if turn := splitCommaSeparated(turnURLs); len(turn) > 0 {
		turnUsername = strings.TrimSpace(turnUsername)
		turnCredential = strings.TrimSpace(turnCredential)
		if turnUsername == "" || turnCredential == "" {
			return nil, fmt.Errorf("%s/%s: both must be set when %s is set", envTurnUsername, envTurnCredential, envTurnURLs)
		}
		s := webrtc.ICEServer{URLs: turn, Username: turnUsername, Credential: turnCredential}
		if err := validateICEServer(s); err != nil {
			return nil, fmt.Errorf("%s: %w", envTurnURLs, err)
		}
		servers = append(servers, s)
	}

	return servers, nil
}

func splitCommaSeparated(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func validateICEServer(server webrtc.ICEServer) error {
	if len(server.URLs) == 0 {
		return errors.New("missing urls")
	}

	needsCreds := false
	for _, u := range server.URLs {
		switch {
		case strings.HasPrefix(u, "stun:"), strings.HasPrefix(u, "stuns:"):
		case strings.HasPrefix(u, "turn:"), strings.HasPrefix(u, "turns:"):
			needsCreds = true
		default:
			return fmt.Errorf("unsupported url scheme: %q", u)
		}
	}
	if !needsCreds {
		return nil
	}

	if server.Username == "" {
		return errors.New("turn urls require username")
	}
	if cred, ok := server.Credential.(string); !ok || cred == "" {
		return errors.New("turn urls require credential")
	}
	return nil
}
