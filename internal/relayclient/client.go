// Package relayclient implements signaling.Transport over the relay hub's
// WebSocket protocol.
package relayclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/peersock/internal/signaling"
)

var (
	ErrNotRegistered = errors.New("relayclient: not registered")
	ErrClosed        = errors.New("relayclient: connection closed")
)

// RelayError is an error frame sent by the hub.
type RelayError struct {
	Code   string
	Reason string
}

func (e *RelayError) Error() string {
	return fmt.Sprintf("relay error %s: %s", e.Code, e.Reason)
}

const writeWait = 5 * time.Second

type Options struct {
	Logger *slog.Logger
	Dialer *websocket.Dialer
}

// Client is one registered endpoint on a relay hub. It is safe for concurrent
// use.
type Client struct {
	ws   *websocket.Conn
	log  *slog.Logger
	subs signaling.Subscribers

	writeMu sync.Mutex

	mu                sync.Mutex
	id                string
	registerWaiters   []chan registerResult
	peers             map[string]struct{}
	onPeer            []func(id string)
	onDeliveryFailure []func(*signaling.DeliveryError)
	onRelayError      []func(*RelayError)

	done      chan struct{}
	closeOnce sync.Once
	err       error
}

type registerResult struct {
	id  string
	err error
}

// Dial connects to the hub at url and starts the read loop. The returned
// client is not yet registered.
func Dial(ctx context.Context, url string, opts Options) (*Client, error) {
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	ws, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay %s: %w", url, err)
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	c := &Client{
		ws:    ws,
		log:   log,
		peers: make(map[string]struct{}),
		done:  make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Register joins the hub and blocks until the hub assigns an id. Calling it
// again after success returns the same id.
func (c *Client) Register(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.id != "" {
		id := c.id
		c.mu.Unlock()
		return id, nil
	}
	wait := make(chan registerResult, 1)
	c.registerWaiters = append(c.registerWaiters, wait)
	c.mu.Unlock()

	if err := c.write(signaling.RegisterFrame(true)); err != nil {
		return "", err
	}

	select {
	case res := <-wait:
		return res.id, res.err
	case <-c.done:
		return "", c.closeErr()
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// ID returns the hub-assigned id, or "" before registration.
func (c *Client) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// OnPeer registers fn for peer broadcasts. The hub announces every
// registration including this client's own; compare with ID to filter.
func (c *Client) OnPeer(fn func(id string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onPeer = append(c.onPeer, fn)
}

// Peers returns the ids announced so far, excluding this client.
func (c *Client) Peers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.peers))
	for id := range c.peers {
		if id != c.id {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}

func (c *Client) OnDeliveryFailure(fn func(*signaling.DeliveryError)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDeliveryFailure = append(c.onDeliveryFailure, fn)
}

func (c *Client) OnRelayError(fn func(*RelayError)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onRelayError = append(c.onRelayError, fn)
}

// Send implements signaling.Transport. An empty FromID is filled with the
// registered id.
func (c *Client) Send(ctx context.Context, env signaling.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id := c.ID()
	if id == "" {
		return ErrNotRegistered
	}
	if env.FromID == "" {
		env.FromID = id
	}
	return c.write(signaling.OutboundFrame(env))
}

// Subscribe implements signaling.Transport.
func (c *Client) Subscribe(handlerID string, fn func(signaling.Envelope)) (cancel func()) {
	return c.subs.Add(handlerID, fn)
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns why the connection ended, or nil while it is open.
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.closeErr()
	default:
		return nil
	}
}

func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	c.writeMu.Unlock()
	c.shutdown(ErrClosed)
	return nil
}

func (c *Client) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		_ = c.ws.Close()
		close(c.done)
	})
}

func (c *Client) closeErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		return ErrClosed
	}
	return c.err
}

func (c *Client) write(f signaling.Frame) error {
	select {
	case <-c.done:
		return c.closeErr()
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteJSON(f); err != nil {
		return fmt.Errorf("write %s frame: %w", f.Type, err)
	}
	return nil
}

func (c *Client) readLoop() {
	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				err = ErrClosed
			}
			c.failRegistration(err)
			c.shutdown(err)
			return
		}
		f, err := signaling.ParseFrame(msg)
		if err != nil {
			c.log.Warn("dropping malformed relay frame", "err", err)
			continue
		}
		c.handle(f)
	}
}

func (c *Client) handle(f signaling.Frame) {
	switch f.Type {
	case signaling.FrameReady:
		c.mu.Lock()
		c.id = f.ClientID
		waiters := c.registerWaiters
		c.registerWaiters = nil
		c.mu.Unlock()
		for _, w := range waiters {
			w <- registerResult{id: f.ClientID}
		}
		c.log.Debug("registered with relay", "client_id", f.ClientID)

	case signaling.FramePeer:
		c.mu.Lock()
		c.peers[f.PeerID] = struct{}{}
		fns := slices.Clone(c.onPeer)
		c.mu.Unlock()
		for _, fn := range fns {
			fn(f.PeerID)
		}

	case signaling.FrameMessageToPeer:
		env := f.Inbound()
		if !c.subs.Dispatch(env) {
			c.log.Debug("no subscriber for envelope", "handler_id", env.HandlerID, "peer_id", env.FromID)
		}

	case signaling.FrameDeliveryFailed:
		derr := &signaling.DeliveryError{HandlerID: f.HandlerID, PeerID: f.PeerID, Reason: f.Reason}
		c.mu.Lock()
		fns := slices.Clone(c.onDeliveryFailure)
		c.mu.Unlock()
		if len(fns) == 0 {
			c.log.Debug("envelope not delivered", "handler_id", f.HandlerID, "peer_id", f.PeerID, "reason", f.Reason)
		}
		for _, fn := range fns {
			fn(derr)
		}

	case signaling.FrameError:
		rerr := &RelayError{Code: f.Code, Reason: f.Reason}
		if f.Code == signaling.CodeNotReady || f.Code == signaling.CodeTooManyEndpoints {
			c.failRegistration(rerr)
		}
		c.mu.Lock()
		fns := slices.Clone(c.onRelayError)
		c.mu.Unlock()
		if len(fns) == 0 {
			c.log.Warn("relay reported error", "code", f.Code, "reason", f.Reason)
		}
		for _, fn := range fns {
			fn(rerr)
		}

	default:
		c.log.Debug("ignoring relay frame", "type", f.Type)
	}
}

func (c *Client) failRegistration(err error) {
	c.mu.Lock()
	waiters := c.registerWaiters
	c.registerWaiters = nil
	c.mu.Unlock()
	for _, w := range waiters {
		w <- registerResult{err: err}
	}
}

var _ signaling.Transport = (*Client)(nil)
