// Package mqttsignal implements signaling.Transport over an MQTT broker.
//
// Envelopes for endpoint X under handler H are published to
// <prefix>/<X>/<H>; each endpoint subscribes to <prefix>/<self>/#. MQTT has no
// presence, so the remote id must be known out of band.
package mqttsignal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/wilsonzlin/aero/proxy/peersock/internal/signaling"
)

const qos = 1

var (
	ErrClosed         = errors.New("mqttsignal: transport closed")
	ErrInvalidTopicID = errors.New("mqttsignal: id not usable in an MQTT topic")
)

// Client is the subset of mqtt.Client used by Transport.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Unsubscribe(topics ...string) mqtt.Token
	Disconnect(quiesce uint)
}

type Options struct {
	BrokerURL   string
	TopicPrefix string
	// LocalID is this endpoint's id. Defaults to a random UUID.
	LocalID        string
	ConnectTimeout time.Duration
	Logger         *slog.Logger
}

type wireEnvelope struct {
	HandlerID string          `json:"handler_id"`
	FromID    string          `json:"from_id"`
	ToID      string          `json:"to_id"`
	Message   json.RawMessage `json:"message"`
}

type Transport struct {
	client  Client
	prefix  string
	localID string
	log     *slog.Logger
	subs    signaling.Subscribers

	mu     sync.Mutex
	closed bool
}

// Connect dials the broker with paho and returns a subscribed Transport.
func Connect(ctx context.Context, opts Options) (*Transport, error) {
	localID := opts.LocalID
	if localID == "" {
		localID = uuid.NewString()
	}
	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	co := mqtt.NewClientOptions()
	co.AddBroker(opts.BrokerURL)
	co.SetClientID("peersock-" + localID)
	co.SetCleanSession(true)
	co.SetAutoReconnect(true)
	co.SetConnectTimeout(timeout)
	co.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn("mqtt connection lost", "broker", opts.BrokerURL, "err", err)
	})

	client := mqtt.NewClient(co)
	if err := waitToken(ctx, client.Connect()); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", opts.BrokerURL, err)
	}

	t, err := New(ctx, client, opts.TopicPrefix, localID, log)
	if err != nil {
		client.Disconnect(250)
		return nil, err
	}
	return t, nil
}

// New wraps an already connected client and subscribes to this endpoint's
// topic tree.
func New(ctx context.Context, client Client, prefix, localID string, logger *slog.Logger) (*Transport, error) {
	if !validTopicLevel(localID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTopicID, localID)
	}
	if logger == nil {
		logger = slog.Default()
	}
	t := &Transport{
		client:  client,
		prefix:  strings.TrimSuffix(prefix, "/"),
		localID: localID,
		log:     logger.With("local_id", localID),
	}
	if err := waitToken(ctx, client.Subscribe(t.inboxFilter(), qos, t.onMessage)); err != nil {
		return nil, fmt.Errorf("mqtt subscribe %s: %w", t.inboxFilter(), err)
	}
	return t, nil
}

func (t *Transport) LocalID() string { return t.localID }

// Send implements signaling.Transport. An empty FromID is filled with LocalID.
func (t *Transport) Send(ctx context.Context, env signaling.Envelope) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if env.FromID == "" {
		env.FromID = t.localID
	}
	if !validTopicLevel(env.ToID) {
		return fmt.Errorf("%w: %q", ErrInvalidTopicID, env.ToID)
	}
	if !validHandlerID(env.HandlerID) {
		return fmt.Errorf("%w: handler %q", ErrInvalidTopicID, env.HandlerID)
	}

	payload, err := json.Marshal(wireEnvelope{
		HandlerID: env.HandlerID,
		FromID:    env.FromID,
		ToID:      env.ToID,
		Message:   env.Payload,
	})
	if err != nil {
		return err
	}
	if err := waitToken(ctx, t.client.Publish(t.topic(env.ToID, env.HandlerID), qos, false, payload)); err != nil {
		return fmt.Errorf("mqtt publish: %w", err)
	}
	return nil
}

// Subscribe implements signaling.Transport.
func (t *Transport) Subscribe(handlerID string, fn func(signaling.Envelope)) (cancel func()) {
	return t.subs.Add(handlerID, fn)
}

func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	tok := t.client.Unsubscribe(t.inboxFilter())
	tok.WaitTimeout(time.Second)
	t.client.Disconnect(250)
	return nil
}

func (t *Transport) onMessage(_ mqtt.Client, msg mqtt.Message) {
	dec := json.NewDecoder(bytes.NewReader(msg.Payload()))
	dec.DisallowUnknownFields()
	var w wireEnvelope
	if err := dec.Decode(&w); err != nil {
		t.log.Warn("dropping malformed mqtt envelope", "topic", msg.Topic(), "err", err)
		return
	}
	if w.ToID != t.localID || msg.Topic() != t.topic(w.ToID, w.HandlerID) {
		t.log.Warn("dropping misaddressed mqtt envelope", "topic", msg.Topic(), "handler_id", w.HandlerID, "to_id", w.ToID)
		return
	}
	env := signaling.Envelope{HandlerID: w.HandlerID, FromID: w.FromID, ToID: w.ToID, Payload: w.Message}
	if !t.subs.Dispatch(env) {
		t.log.Debug("no subscriber for envelope", "handler_id", env.HandlerID, "peer_id", env.FromID)
	}
}

func (t *Transport) topic(toID, handlerID string) string {
	return t.prefix + "/" + toID + "/" + handlerID
}

func (t *Transport) inboxFilter() string {
	return t.prefix + "/" + t.localID + "/#"
}

func validTopicLevel(s string) bool {
	return s != "" && !strings.ContainsAny(s, "/+#\x00")
}

// Handler ids become the last topic level, so they may not contain wildcards.
func validHandlerID(s string) bool {
	return s != "" && !strings.ContainsAny(s, "+#\x00")
}

func waitToken(ctx context.Context, tok mqtt.Token) error {
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ signaling.Transport = (*Transport)(nil)
