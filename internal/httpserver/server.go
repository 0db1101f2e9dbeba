package httpserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wilsonzlin/aero/proxy/peersock/internal/config"
)

var ErrServerClosed = http.ErrServerClosed

type BuildInfo struct {
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
}

// ReadinessCheck reports why the process cannot take traffic, or nil.
type ReadinessCheck func() error

type Server struct {
	log   *slog.Logger
	cfg   config.Config
	build BuildInfo

	ready    atomic.Bool
	checksMu sync.Mutex
	checks   map[string]ReadinessCheck

	router chi.Router
	srv    *http.Server
}

func New(cfg config.Config, logger *slog.Logger, build BuildInfo) *Server {
	s := &Server{
		log:    logger,
		cfg:    cfg,
		build:  build,
		checks: make(map[string]ReadinessCheck),
		router: chi.NewRouter(),
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(requestLogger(s.log))
	s.router.Use(middleware.Recoverer)
	s.registerRoutes()

	s.srv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		// Signaling connections are long-lived WebSockets, so no read or
		// write timeouts.
	}

	return s
}

// Router returns the chi router for registering additional routes. It must
// only be used during startup before Serve is called.
func (s *Server) Router() chi.Router {
	return s.router
}

// AddReadinessCheck makes /readyz fail while check returns an error.
func (s *Server) AddReadinessCheck(name string, check ReadinessCheck) {
	s.checksMu.Lock()
	defer s.checksMu.Unlock()
	s.checks[name] = check
}

func (s *Server) Serve(l net.Listener) error {
	s.ready.Store(true)
	s.log.Info("http server serving", "addr", l.Addr().String())
	return s.srv.Serve(l)
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.ready.Store(false)
	return s.srv.Shutdown(ctx)
}

func (s *Server) Close() error {
	s.ready.Store(false)
	return s.srv.Close()
}

func (s *Server) registerRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	s.router.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if !s.ready.Load() {
			WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false})
			return
		}
		if name, err := s.failingCheck(); err != nil {
			WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false, "check": name, "error": err.Error()})
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"ready": true})
	})

	s.router.Get("/version", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, s.build)
	})

	s.router.Get("/webrtc/ice", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]any{"iceServers": s.cfg.ICEServers})
	})
}

func (s *Server) failingCheck() (string, error) {
	s.checksMu.Lock()
	defer s.checksMu.Unlock()
	for name, check := range s.checks {
		if err := check(); err != nil {
			return name, err
		}
	}
	return "", nil
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			status := ww.Status()
			switch {
			case status != 0:
			case strings.EqualFold(r.Header.Get("Upgrade"), "websocket"):
				// Hijacked by the upgrade.
				status = http.StatusSwitchingProtocols
			default:
				status = http.StatusOK
			}
			logger.Info("http_request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"duration_ms", time.Since(start).Milliseconds(),
				"remote_addr", r.RemoteAddr,
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

// WriteJSON writes a JSON response body and sets the Content-Type header.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(v)
}
