package negotiation

import (
	"encoding/json"
	"errors"
	"testing"
)

type stubDC struct {
	label  string
	state  ChannelState
	closed bool
	sent   int
}

func (d *stubDC) Label() string { return d.label }

func (d *stubDC) Protocol() string { return "" }

func (d *stubDC) Send([]byte) error {
	d.sent++
	return nil
}

func (d *stubDC) SendText(string) error {
	d.sent++
	return nil
}

func (d *stubDC) ReadyState() ChannelState { return d.state }

func (d *stubDC) Close() error {
	d.closed = true
	return nil
}

func openStub(created *[]*stubDC) func(label string) (DataChannel, error) {
	return func(label string) (DataChannel, error) {
		dc := &stubDC{label: label}
		*created = append(*created, dc)
		return dc, nil
	}
}

func sequence(values ...int) func(int) int {
	i := 0
	return func(int) int {
		v := values[i%len(values)]
		i++
		return v
	}
}

func TestRegistryCreateLabelsWithIdentifier(t *testing.T) {
	var created []*stubDC
	r := NewRegistry(4, sequence(42))

	ch, err := r.Create("chat", openStub(&created))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if ch.LowID() != 42 || created[0].label != "42" {
		t.Fatalf("id=%d label=%q, want 42", ch.LowID(), created[0].label)
	}
	if ch.State() != ChannelConnecting {
		t.Fatalf("state=%v, want connecting", ch.State())
	}
	if got, err := r.Get("chat"); err != nil || got != ch {
		t.Fatalf("Get=%p err=%v, want %p", got, err, ch)
	}
}

func TestRegistrySkipsTakenIdentifiers(t *testing.T) {
	var created []*stubDC
	r := NewRegistry(4, sequence(5, 5, 5, 6))

	if _, err := r.Create("a", openStub(&created)); err != nil {
		t.Fatalf("Create a: %v", err)
	}
	ch, err := r.Create("b", openStub(&created))
	if err != nil {
		t.Fatalf("Create b: %v", err)
	}
	if ch.LowID() != 6 {
		t.Fatalf("id=%d, want 6", ch.LowID())
	}
}

func TestRegistryCollisionCap(t *testing.T) {
	var created []*stubDC
	r := NewRegistry(3, sequence(9))

	if _, err := r.Create("a", openStub(&created)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	_, err := r.Create("b", openStub(&created))
	var collision *IdentifierCollisionError
	if !errors.As(err, &collision) || collision.Attempts != 3 {
		t.Fatalf("err=%v, want collision after 3 attempts", err)
	}
	if len(created) != 1 {
		t.Fatalf("engine channels opened=%d, want 1", len(created))
	}
	if r.Len() != 1 {
		t.Fatalf("Len=%d, want 1", r.Len())
	}
}

func TestRegistryLastWriteWins(t *testing.T) {
	var created []*stubDC
	r := NewRegistry(4, sequence(1, 2))

	first, err := r.Create("chat", openStub(&created))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	second, err := r.Create("chat", openStub(&created))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if first.State() != ChannelClosed || !created[0].closed {
		t.Fatalf("replaced handle state=%v engine closed=%v, want closed", first.State(), created[0].closed)
	}
	if got, _ := r.Get("chat"); got != second {
		t.Fatalf("Get=%p, want %p", got, second)
	}
	if r.lookup(created[0]) != nil {
		t.Fatalf("replaced engine channel still indexed")
	}
	// The replaced identifier is free again.
	r.intn = sequence(1)
	if ch, err := r.Create("other", openStub(&created)); err != nil || ch.LowID() != 1 {
		t.Fatalf("Create other id=%v err=%v, want 1", ch, err)
	}
}

func TestRegistryAdoptReservesNumericLabels(t *testing.T) {
	var created []*stubDC
	r := NewRegistry(2, sequence(17))

	adopted, err := r.Adopt("chat", "17", &stubDC{label: "17"})
	if err != nil || adopted.LowID() != 17 {
		t.Fatalf("adopted id=%v err=%v, want 17", adopted, err)
	}
	if _, err := r.Create("mine", openStub(&created)); !errors.Is(err, ErrIdentifierSpaceExhausted) {
		t.Fatalf("err=%v, want identifier space exhausted", err)
	}

	// Re-adopting the same name may keep its own identifier.
	again, err := r.Adopt("chat", "17", &stubDC{label: "17"})
	if err != nil || again.LowID() != 17 {
		t.Fatalf("re-adopted id=%v err=%v, want 17", again, err)
	}
}

func TestRegistryAdoptMintsForForeignLabels(t *testing.T) {
	var created []*stubDC
	r := NewRegistry(4, sequence(0, 0, 5))

	local, err := r.Create("mine", openStub(&created))
	if err != nil || local.LowID() != 0 {
		t.Fatalf("Create id=%v err=%v, want 0", local, err)
	}
	foreign, err := r.Adopt("foreign", "not-a-number", &stubDC{label: "not-a-number"})
	if err != nil {
		t.Fatalf("Adopt: %v", err)
	}
	if foreign.LowID() != 5 {
		t.Fatalf("foreign id=%d, want minted 5", foreign.LowID())
	}

	// A numeric label already held by another channel is not shared.
	r.intn = sequence(7)
	clash, err := r.Adopt("clash", "0", &stubDC{label: "0"})
	if err != nil || clash.LowID() != 7 {
		t.Fatalf("clash id=%v err=%v, want minted 7", clash, err)
	}

	r.intn = sequence(0, 5, 7)
	if _, err := r.Create("late", openStub(&created)); !errors.Is(err, ErrIdentifierSpaceExhausted) {
		t.Fatalf("err=%v, want every adopted id reserved", err)
	}
}

func TestRegistryAdoptExhausted(t *testing.T) {
	r := NewRegistry(1, sequence(3))
	if _, err := r.Adopt("a", "3", &stubDC{label: "3"}); err != nil {
		t.Fatalf("Adopt: %v", err)
	}
	var collision *IdentifierCollisionError
	if _, err := r.Adopt("b", "x", &stubDC{label: "x"}); !errors.As(err, &collision) {
		t.Fatalf("err=%v, want IdentifierCollisionError", err)
	}
	if _, err := r.Get("b"); !errors.Is(err, ErrChannelNotFound) {
		t.Fatalf("Get err=%v, want ErrChannelNotFound", err)
	}
}

func TestRegistrySendRequiresOpen(t *testing.T) {
	var created []*stubDC
	r := NewRegistry(4, sequence(3))

	ch, err := r.Create("chat", openStub(&created))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := r.Send("chat", []byte("x")); !errors.Is(err, ErrChannelNotOpen) {
		t.Fatalf("Send err=%v, want ErrChannelNotOpen", err)
	}
	if created[0].sent != 0 {
		t.Fatalf("engine sent=%d, want 0", created[0].sent)
	}
	ch.setState(ChannelOpen)
	if err := r.Send("chat", []byte("x")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := r.Send("missing", nil); !errors.Is(err, ErrChannelNotFound) {
		t.Fatalf("Send err=%v, want ErrChannelNotFound", err)
	}
}

func TestRegistryCloseAll(t *testing.T) {
	var created []*stubDC
	r := NewRegistry(4, sequence(1, 2))

	a, _ := r.Create("a", openStub(&created))
	b, _ := r.Create("b", openStub(&created))
	b.setState(ChannelClosed)

	closed := r.CloseAll()
	if len(closed) != 1 || closed[0] != a {
		t.Fatalf("newly closed=%v, want only a", closed)
	}
	if r.Len() != 0 {
		t.Fatalf("Len=%d, want 0", r.Len())
	}
	for i, dc := range created {
		if !dc.closed {
			t.Fatalf("engine channel %d not closed", i)
		}
	}
}

func TestChannelCloseWithoutManager(t *testing.T) {
	dc := &stubDC{}
	ch := newChannel("chat", 1, dc)
	if err := ch.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if ch.State() != ChannelClosed || !dc.closed {
		t.Fatalf("state=%v engine closed=%v, want closed", ch.State(), dc.closed)
	}
	if err := ch.SendText("x"); !errors.Is(err, ErrChannelNotOpen) {
		t.Fatalf("SendText err=%v, want ErrChannelNotOpen", err)
	}
}

func TestSessionDescriptionKind(t *testing.T) {
	for _, raw := range []string{
		`{"kind":"offer","body":"v=0"}`,
		`{"kind":"Offer","body":"v=0"}`,
		`{"kind":"OFFER","body":"v=0"}`,
	} {
		d, err := decodeDescription(json.RawMessage(raw))
		if err != nil {
			t.Fatalf("decode %s: %v", raw, err)
		}
		if d.Kind != SDPOffer || d.SDP != "v=0" {
			t.Fatalf("decode %s=%+v", raw, d)
		}
	}

	for _, raw := range []string{
		`{"kind":"pranswer","body":"v=0"}`,
		`{"kind":"answer","body":""}`,
		`{"body":"v=0"}`,
		`not json`,
	} {
		if _, err := decodeDescription(json.RawMessage(raw)); !errors.Is(err, ErrInvalidPayload) {
			t.Fatalf("decode %s err=%v, want ErrInvalidPayload", raw, err)
		}
	}

	out, err := encodeDescription(SessionDescription{Kind: SDPAnswer, SDP: "v=0"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(out) != `{"kind":"answer","body":"v=0"}` {
		t.Fatalf("encoded=%s", out)
	}
}

func TestDecodeICE(t *testing.T) {
	mid := "0"
	payload, err := encodeCandidate(Candidate{Candidate: "candidate:1 1 udp 1 10.0.0.1 5000 typ host", SDPMid: &mid})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	c, done, err := decodeICE(payload)
	if err != nil || done {
		t.Fatalf("decode: done=%v err=%v", done, err)
	}
	if c.SDPMid == nil || *c.SDPMid != "0" || c.SDPMLineIndex != nil {
		t.Fatalf("candidate=%+v", c)
	}

	if _, done, err := decodeICE(encodeEndOfCandidates()); err != nil || !done {
		t.Fatalf("end of candidates: done=%v err=%v", done, err)
	}
	if _, _, err := decodeICE(json.RawMessage(`{}`)); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("empty candidate err=%v, want ErrInvalidPayload", err)
	}
}
