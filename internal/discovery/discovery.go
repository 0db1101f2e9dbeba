// Package discovery advertises relay hubs on the local network over mDNS and
// finds them again from the peer CLI.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/grandcat/zeroconf"
)

const (
	ServiceType = "_peersock._tcp"
	Domain      = "local."

	txtPath    = "path="
	txtVersion = "version="
	// protocolVersion is bumped when the relay wire protocol changes.
	protocolVersion = "1"
)

var ErrNoRelay = errors.New("discovery: no relay found")

// Relay is one advertised relay hub.
type Relay struct {
	Instance string
	Host     string
	Addrs    []net.IP
	Port     int
	Path     string
}

// URL is the WebSocket signaling endpoint of the relay, using its first
// address.
func (r Relay) URL() string {
	host := r.Host
	if len(r.Addrs) > 0 {
		host = r.Addrs[0].String()
	}
	u := url.URL{
		Scheme: "ws",
		Host:   net.JoinHostPort(strings.TrimSuffix(host, "."), strconv.Itoa(r.Port)),
		Path:   r.Path,
	}
	return u.String()
}

// Advertise announces a relay whose signaling endpoint is served at path on
// port. The returned function withdraws the announcement.
func Advertise(instance string, port int, path string) (func(), error) {
	if instance == "" {
		return nil, errors.New("discovery: empty instance name")
	}
	txt := []string{txtPath + path, txtVersion + protocolVersion}
	server, err := zeroconf.Register(instance, ServiceType, Domain, port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("register mdns service: %w", err)
	}
	return server.Shutdown, nil
}

// Browse collects relays until ctx ends. Relays are de-duplicated by instance
// and sorted by name.
func Browse(ctx context.Context) ([]Relay, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("new mdns resolver: %w", err)
	}
	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(ctx, ServiceType, Domain, entries); err != nil {
		return nil, fmt.Errorf("browse %s: %w", ServiceType, err)
	}

	seen := make(map[string]Relay)
	for {
		select {
		case <-ctx.Done():
			return sortedRelays(seen), nil
		case entry, ok := <-entries:
			if !ok {
				return sortedRelays(seen), nil
			}
			if r, ok := relayFromEntry(entry); ok {
				seen[r.Instance] = r
			}
		}
	}
}

// Find returns the first relay seen before ctx ends.
func Find(ctx context.Context) (Relay, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return Relay{}, fmt.Errorf("new mdns resolver: %w", err)
	}
	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(ctx, ServiceType, Domain, entries); err != nil {
		return Relay{}, fmt.Errorf("browse %s: %w", ServiceType, err)
	}
	for {
		select {
		case <-ctx.Done():
			return Relay{}, ErrNoRelay
		case entry, ok := <-entries:
			if !ok {
				return Relay{}, ErrNoRelay
			}
			if r, ok := relayFromEntry(entry); ok {
				return r, nil
			}
		}
	}
}

// relayFromEntry rejects entries without an address or from an incompatible
// protocol version.
func relayFromEntry(entry *zeroconf.ServiceEntry) (Relay, bool) {
	if entry == nil || entry.Port <= 0 {
		return Relay{}, false
	}
	r := Relay{
		Instance: entry.Instance,
		Host:     entry.HostName,
		Port:     entry.Port,
		Path:     "/",
	}
	version := ""
	for _, txt := range entry.Text {
		switch {
		case strings.HasPrefix(txt, txtPath):
			if p := strings.TrimPrefix(txt, txtPath); strings.HasPrefix(p, "/") {
				r.Path = p
			}
		case strings.HasPrefix(txt, txtVersion):
			version = strings.TrimPrefix(txt, txtVersion)
		}
	}
	if version != protocolVersion {
		return Relay{}, false
	}
	r.Addrs = append(r.Addrs, entry.AddrIPv4...)
	r.Addrs = append(r.Addrs, entry.AddrIPv6...)
	if len(r.Addrs) == 0 && r.Host == "" {
		return Relay{}, false
	}
	return r, true
}

func sortedRelays(seen map[string]Relay) []Relay {
	out := make([]Relay, 0, len(seen))
	for _, r := range seen {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instance < out[j].Instance })
	return out
}
