package hub

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/wilsonzlin/aero/proxy/peersock/internal/config"
	"github.com/wilsonzlin/aero/proxy/peersock/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/peersock/internal/signaling"
)

const wsWriteWait = 1 * time.Second

// WebSocketServer attaches relay clients to a Hub. Each connection becomes one
// endpoint; it is deregistered when the socket goes away.
type WebSocketServer struct {
	hub      *Hub
	cfg      config.Config
	log      *slog.Logger
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader
}

func NewWebSocketServer(h *Hub, cfg config.Config, logger *slog.Logger, m *metrics.Metrics) *WebSocketServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketServer{
		hub:     h,
		cfg:     cfg,
		log:     logger,
		metrics: m,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (s *WebSocketServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := newWSConn(ws, s.cfg.EndpointQueueFrames, s.cfg.SignalingWSPingInterval)
	go c.writeLoop()
	defer func() {
		s.hub.Deregister(c)
		c.requestClose(websocket.CloseNormalClosure, "")
		select {
		case <-c.writerDone:
		case <-time.After(2 * wsWriteWait):
		}
		_ = c.Close()
	}()

	_ = ws.SetReadDeadline(time.Now().Add(s.cfg.SignalingWSIdleTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(s.cfg.SignalingWSIdleTimeout))
	})

	limiter := rate.NewLimiter(rate.Limit(s.cfg.MaxSignalingMessagesPerSecond), s.cfg.MaxSignalingMessagesPerSecond)
	sess := &wsSession{srv: s, conn: c, log: s.log.With("remote_addr", r.RemoteAddr)}

	for {
		msgType, msgReader, err := ws.NextReader()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				sess.log.Debug("signaling connection closed", "endpoint_id", sess.id, "err", err)
			}
			return
		}
		if !limiter.Allow() {
			s.metrics.Inc(metrics.HubRateLimited)
			c.fail(signaling.CodeRateLimited, "rate limit exceeded", websocket.ClosePolicyViolation)
			return
		}
		if msgType != websocket.TextMessage {
			c.fail(signaling.CodeBadFrame, "expected text message", websocket.CloseUnsupportedData)
			return
		}

		msg, err := readLimited(msgReader, s.cfg.MaxSignalingMessageBytes)
		if err != nil {
			if errors.Is(err, errMessageTooLarge) {
				c.fail(signaling.CodeMessageTooLarge, "message too large", websocket.CloseMessageTooBig)
				return
			}
			c.fail(signaling.CodeInternal, "failed to read message", websocket.CloseInternalServerErr)
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(s.cfg.SignalingWSIdleTimeout))

		frame, err := signaling.ParseFrame(msg)
		if err != nil {
			s.metrics.Inc(metrics.HubProtocolErrors)
			c.fail(signaling.CodeBadFrame, err.Error(), websocket.ClosePolicyViolation)
			return
		}
		if !sess.handle(frame) {
			return
		}
	}
}

// wsSession is the per-connection frame handler. It is only touched by the
// connection's read goroutine.
type wsSession struct {
	srv  *WebSocketServer
	conn *wsConn
	log  *slog.Logger
	id   string
}

// handle processes one client frame and reports whether the connection should
// stay open.
func (s *wsSession) handle(f signaling.Frame) bool {
	switch f.Type {
	case signaling.FrameRegister:
		id, err := s.srv.hub.Register(s.conn, *f.Ready)
		switch {
		case err == nil:
			s.id = id
			return true
		case errors.Is(err, ErrNotReady):
			_ = s.conn.Deliver(signaling.ErrorFrame(signaling.CodeNotReady, "register with ready=true to join"))
			return true
		case errors.Is(err, ErrTooManyEndpoints):
			s.conn.fail(signaling.CodeTooManyEndpoints, err.Error(), websocket.CloseTryAgainLater)
			return false
		case errors.Is(err, ErrHubClosed):
			s.conn.fail(signaling.CodeInternal, "relay shutting down", websocket.CloseGoingAway)
			return false
		default:
			s.log.Error("register failed", "err", err)
			s.conn.fail(signaling.CodeInternal, "register failed", websocket.CloseInternalServerErr)
			return false
		}

	case signaling.FrameMessageToPeer:
		if s.id == "" {
			_ = s.conn.Deliver(signaling.ErrorFrame(signaling.CodeNotRegistered, "register before sending"))
			return true
		}
		if f.ClientID != "" && f.ClientID != s.id {
			_ = s.conn.Deliver(signaling.ErrorFrame(signaling.CodeClientIDMismatch, "client_id does not match registered id"))
			return true
		}
		env := f.Outbound()
		env.FromID = s.id

		err := s.srv.hub.Route(env)
		var routeErr *RoutingError
		switch {
		case err == nil:
		case errors.As(err, &routeErr):
			_ = s.conn.Deliver(signaling.DeliveryFailedFrame(routeErr.HandlerID, routeErr.PeerID, routeErr.Err.Error()))
		case errors.Is(err, ErrHubClosed):
			s.conn.fail(signaling.CodeInternal, "relay shutting down", websocket.CloseGoingAway)
			return false
		default:
			s.log.Error("route failed", "err", err)
		}
		return true

	default:
		s.srv.metrics.Inc(metrics.HubProtocolErrors)
		s.conn.failUnexpected(f.Type)
		return false
	}
}

type closeRequest struct {
	code   int
	reason string
}

// wsConn is the hub-facing handle of one WebSocket. A single writer goroutine
// owns all data frames written to the socket.
type wsConn struct {
	ws           *websocket.Conn
	send         chan signaling.Frame
	closeReq     chan closeRequest
	closed       chan struct{}
	writerDone   chan struct{}
	closeOnce    sync.Once
	failOnce     sync.Once
	pingInterval time.Duration
}

func newWSConn(ws *websocket.Conn, queue int, pingInterval time.Duration) *wsConn {
	return &wsConn{
		ws:           ws,
		send:         make(chan signaling.Frame, queue),
		closeReq:     make(chan closeRequest, 1),
		closed:       make(chan struct{}),
		writerDone:   make(chan struct{}),
		pingInterval: pingInterval,
	}
}

func (c *wsConn) Deliver(f signaling.Frame) error {
	select {
	case <-c.closed:
		return ErrConnClosed
	default:
	}
	select {
	case c.send <- f:
		return nil
	default:
		return ErrBackpressure
	}
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.ws.Close()
	})
	return err
}

// fail queues an error frame, then asks the writer to flush and close the
// socket with code.
func (c *wsConn) fail(errCode, reason string, code int) {
	_ = c.Deliver(signaling.ErrorFrame(errCode, reason))
	c.requestClose(code, reason)
}

func (c *wsConn) requestClose(code int, reason string) {
	c.failOnce.Do(func() {
		c.closeReq <- closeRequest{code: code, reason: reason}
	})
}

func (c *wsConn) failUnexpected(t signaling.FrameType) {
	c.fail(signaling.CodeBadFrame, "unexpected frame type "+string(t), websocket.ClosePolicyViolation)
}

func (c *wsConn) writeLoop() {
	ping := time.NewTicker(c.pingInterval)
	defer ping.Stop()
	defer c.Close()
	defer close(c.writerDone)

	for {
		select {
		case f := <-c.send:
			if err := c.write(f); err != nil {
				return
			}
		case <-ping.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		case req := <-c.closeReq:
			c.drain()
			_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(req.code, req.reason), time.Now().Add(wsWriteWait))
			return
		case <-c.closed:
			return
		}
	}
}

func (c *wsConn) drain() {
	for {
		select {
		case f := <-c.send:
			if err := c.write(f); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *wsConn) write(f signaling.Frame) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.ws.WriteJSON(f)
}

var errMessageTooLarge = errors.New("message too large")

func readLimited(r io.Reader, max int64) ([]byte, error) {
	if max <= 0 {
		return nil, errMessageTooLarge
	}
	b, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > max {
		return nil, errMessageTooLarge
	}
	return b, nil
}
