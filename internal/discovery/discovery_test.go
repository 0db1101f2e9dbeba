package discovery

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"
)

func entry(instance string, port int, txt []string, v4 ...string) *zeroconf.ServiceEntry {
	e := &zeroconf.ServiceEntry{
		ServiceRecord: zeroconf.ServiceRecord{Instance: instance, Service: ServiceType, Domain: Domain},
		HostName:      instance + ".local.",
		Port:          port,
		Text:          txt,
	}
	for _, ip := range v4 {
		e.AddrIPv4 = append(e.AddrIPv4, net.ParseIP(ip))
	}
	return e
}

func TestRelayFromEntry(t *testing.T) {
	tests := []struct {
		name    string
		entry   *zeroconf.ServiceEntry
		wantOK  bool
		wantURL string
	}{
		{
			name:    "advertised path",
			entry:   entry("hub", 8080, []string{"path=/signal", "version=1"}, "192.168.1.20"),
			wantOK:  true,
			wantURL: "ws://192.168.1.20:8080/signal",
		},
		{
			name:    "host name only",
			entry:   entry("hub", 9000, []string{"version=1"}),
			wantOK:  true,
			wantURL: "ws://hub.local:9000/",
		},
		{
			name:   "other protocol version",
			entry:  entry("hub", 8080, []string{"path=/signal", "version=2"}, "192.168.1.20"),
			wantOK: false,
		},
		{
			name:   "no port",
			entry:  entry("hub", 0, []string{"version=1"}, "192.168.1.20"),
			wantOK: false,
		},
		{name: "nil", wantOK: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, ok := relayFromEntry(tt.entry)
			if ok != tt.wantOK {
				t.Fatalf("ok=%v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if got := r.URL(); got != tt.wantURL {
				t.Fatalf("URL=%q, want %q", got, tt.wantURL)
			}
		})
	}
}

func TestRelayURLIPv6(t *testing.T) {
	r := Relay{Addrs: []net.IP{net.ParseIP("fe80::1")}, Port: 8080, Path: "/signal"}
	if got, want := r.URL(), "ws://[fe80::1]:8080/signal"; got != want {
		t.Fatalf("URL=%q, want %q", got, want)
	}
}

func TestSortedRelays(t *testing.T) {
	got := sortedRelays(map[string]Relay{"b": {Instance: "b"}, "a": {Instance: "a"}})
	if len(got) != 2 || got[0].Instance != "a" || got[1].Instance != "b" {
		t.Fatalf("sorted=%v, want a then b", got)
	}
}

func TestAdvertiseAndFind(t *testing.T) {
	if testing.Short() {
		t.Skip("mdns needs multicast")
	}
	stop, err := Advertise("peersock-test-relay", 18080, "/signal")
	if err != nil {
		t.Skipf("multicast unavailable: %v", err)
	}
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	relays, err := Browse(ctx)
	if err != nil {
		t.Fatalf("Browse: %v", err)
	}
	for _, r := range relays {
		if r.Instance == "peersock-test-relay" {
			if r.Port != 18080 || r.Path != "/signal" {
				t.Fatalf("relay=%+v, want port 18080 path /signal", r)
			}
			return
		}
	}
	// Containers frequently drop multicast loopback.
	t.Skipf("advertised relay not seen (found %d others)", len(relays))
}

func TestAdvertiseRejectsEmptyInstance(t *testing.T) {
	if _, err := Advertise("", 8080, "/signal"); err == nil {
		t.Fatalf("Advertise accepted an empty instance name")
	}
}
