package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/wilsonzlin/aero/proxy/peersock/internal/config"
	"github.com/wilsonzlin/aero/proxy/peersock/internal/discovery"
	"github.com/wilsonzlin/aero/proxy/peersock/internal/httpserver"
	"github.com/wilsonzlin/aero/proxy/peersock/internal/hub"
	"github.com/wilsonzlin/aero/proxy/peersock/internal/metrics"
)

const signalPath = "/signal"

var errHubStopped = errors.New("hub stopped")

// relay wires the hub, its WebSocket endpoint and the HTTP surface together.
type relay struct {
	cfg     config.Config
	log     *slog.Logger
	metrics *metrics.Metrics
	hub     *hub.Hub
	http    *httpserver.Server
}

func newRelay(cfg config.Config, logger *slog.Logger, build httpserver.BuildInfo) *relay {
	m := metrics.New()
	h := hub.New(hub.Options{
		MaxEndpoints: cfg.MaxEndpoints,
		Metrics:      m,
		Logger:       logger,
	})

	srv := httpserver.New(cfg, logger, build)
	srv.AddReadinessCheck("hub", func() error {
		select {
		case <-h.Done():
			return errHubStopped
		default:
			return nil
		}
	})
	srv.Router().Method(http.MethodGet, signalPath, hub.NewWebSocketServer(h, cfg, logger, m))
	// Expose internal counters in Prometheus' text format.
	srv.Router().Method(http.MethodGet, "/metrics", metrics.PrometheusHandler(m))

	return &relay{cfg: cfg, log: logger, metrics: m, hub: h, http: srv}
}

// run serves on ln until ctx is done or a component fails, then shuts
// everything down within cfg.ShutdownTimeout.
func (r *relay) run(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := r.hub.Run(gctx)
		if gctx.Err() != nil {
			return nil
		}
		if err == nil {
			err = errHubStopped
		}
		return err
	})

	g.Go(func() error {
		if err := r.http.Serve(ln); err != nil && !errors.Is(err, httpserver.ErrServerClosed) {
			return err
		}
		return nil
	})

	if r.cfg.Advertise {
		if stopAdvertise, err := r.advertise(ln); err != nil {
			r.log.Warn("mdns advertisement failed", "err", err)
		} else {
			defer stopAdvertise()
		}
	}

	g.Go(func() error {
		<-gctx.Done()
		if ctx.Err() != nil {
			r.log.Info("shutdown signal received")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), r.cfg.ShutdownTimeout)
		defer cancel()
		if err := r.http.Shutdown(shutdownCtx); err != nil {
			r.log.Error("http server shutdown failed", "err", err)
			_ = r.http.Close()
		}
		r.hub.Close()
		return nil
	})

	return g.Wait()
}

func (r *relay) advertise(ln net.Listener) (func(), error) {
	addr, ok := ln.Addr().(*net.TCPAddr)
	if !ok {
		return nil, errors.New("listener is not TCP")
	}
	stop, err := discovery.Advertise(r.cfg.AdvertiseInstance, addr.Port, signalPath)
	if err != nil {
		return nil, err
	}
	r.log.Info("advertising relay over mdns",
		"instance", r.cfg.AdvertiseInstance,
		"service", discovery.ServiceType,
		"port", addr.Port,
	)
	return stop, nil
}
