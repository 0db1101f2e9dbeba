package config

import (
	"reflect"
	"testing"
)

func TestParseICEServersJSON(t *testing.T) {
	t.Parallel()

	raw := `[
	  {"urls": ["stun:stun.example.com:3478"]},
	  {"urls": ["turn:turn.example.com:3478?transport=udp"], "username": "user", "credential": "pass"}
	]`

	servers, err := ParseICEServersJSON(raw)
	if err != nil {
		t.Fatalf("ParseICEServersJSON: %v", err)
	}
	if len(servers) != 2 {
		t.Fatalf("len(servers)=%d, want 2", len(servers))
	}
	if got := servers[0].URLs; len(got) != 1 || got[0] != "stun:stun.example.com:3478" {
		t.Fatalf("stun urls=%#v", got)
	}
	if got := servers[1].Username; got != "user" {
		t.Fatalf("username=%q, want %q", got, "user")
	}
	if cred, ok := servers[1].Credential.(string); !ok || cred != "pass" {
		t.Fatalf("credential=%#v, want %q", servers[1].Credential, "pass")
	}
}

func TestParseICEServersJSON_SingleStringURLs(t *testing.T) {
	t.Parallel()

	servers, err := ParseICEServersJSON(`[{"urls": "stun:stun.example.com:3478"}]`)
	if err != nil {
		t.Fatalf("ParseICEServersJSON: %v", err)
	}
	if len(servers) != 1 || len(servers[0].URLs) != 1 {
		t.Fatalf("servers=%#v", servers)
	}
}

func TestParseICEServersJSON_Rejects(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name string
		raw  string
	}{
		{name: "turn without creds", raw: `[{"urls": ["turn:turn.example.com:3478"]}]`},
		{name: "bad scheme", raw: `[{"urls": ["http://example.com"]}]`},
		{name: "no urls", raw: `[{"urls": []}]`},
		{name: "not json", raw: `{`},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := ParseICEServersJSON(tc.raw); err == nil {
				t.Fatalf("expected error for %s", tc.raw)
			}
		})
	}
}

func TestParseICEServerLists(t *testing.T) {
	t.Parallel()

	servers, err := ParseICEServerLists("stun:a.example.com, stun:b.example.com", "turn:t.example.com", "u", "p")
	if err != nil {
		t.Fatalf("ParseICEServerLists: %v", err)
	}
	if len(servers) != 2 {
		t.Fatalf("len(servers)=%d, want 2", len(servers))
	}
	if want := []string{"stun:a.example.com", "stun:b.example.com"}; !reflect.DeepEqual(servers[0].URLs, want) {
		t.Fatalf("stun urls=%v, want %v", servers[0].URLs, want)
	}

	if _, err := ParseICEServerLists("", "turn:t.example.com", "", ""); err == nil {
		t.Fatalf("expected error for TURN without credentials")
	}
}

func TestICEServers_DefaultWhenUnset(t *testing.T) {
	t.Parallel()

	servers, err := parseICEServersFromValues("", "", "", "", "")
	if err != nil {
		t.Fatalf("parseICEServersFromValues: %v", err)
	}
	if len(servers) != 1 || !reflect.DeepEqual(servers[0].URLs, DefaultSTUNURLs) {
		t.Fatalf("servers=%#v, want default STUN list", servers)
	}
}

func TestICEServers_EmptyJSONDisablesDefault(t *testing.T) {
	t.Parallel()

	servers, err := parseICEServersFromValues("[]", "", "", "", "")
	if err != nil {
		t.Fatalf("parseICEServersFromValues: %v", err)
	}
	if len(servers) != 0 {
		t.Fatalf("servers=%#v, want none", servers)
	}
}
