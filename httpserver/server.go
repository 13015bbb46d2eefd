package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/flashbots/go-utils/httplogger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/ruteri/storage-distribution/api"
	"github.com/ruteri/storage-distribution/common"
	"github.com/ruteri/storage-distribution/metrics"
	"go.uber.org/atomic"
)

// Server serves the storage API and the operational endpoints.
type Server struct {
	cfg     *api.HTTPServerConfig
	isReady atomic.Bool
	log     *slog.Logger

	srv        *http.Server
	metricsSrv *metrics.MetricsServer
	handler    *Handler
}

// New creates the API server. metricsSrv may be nil, in which case a metrics
// server is created from cfg.MetricsAddr.
func New(cfg *api.HTTPServerConfig, handler *Handler, metricsSrv *metrics.MetricsServer) (srv *Server, err error) {
	if metricsSrv == nil {
		metricsSrv, err = metrics.New(common.PackageName, cfg.MetricsAddr)
		if err != nil {
			return nil, err
		}
	}

	srv = &Server{
		cfg:        cfg,
		log:        cfg.Log,
		metricsSrv: metricsSrv,
		handler:    handler,
	}
	srv.isReady.Store(true)

	srv.srv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.getRouter(),
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
	}

	return srv, nil
}

func (srv *Server) getRouter() http.Handler {
	mux := chi.NewRouter()

	mux.Group(func(r chi.Router) {
		r.Use(srv.httpLogger)
		srv.handler.Routes(r)

		// Health and diagnostic endpoints
		r.Get("/livez", srv.handleLivenessCheck)
		r.Get("/readyz", srv.handleReadinessCheck)
		r.Get("/drain", srv.handleDrain)
		r.Get("/undrain", srv.handleUndrain)
	})

	if srv.cfg.EnablePprof {
		srv.log.Info("pprof API enabled")
		mux.Mount("/debug", middleware.Profiler())
	}
	return mux
}

func (srv *Server) httpLogger(next http.Handler) http.Handler {
	return httplogger.LoggingMiddlewareSlog(srv.log, next)
}

type healthStatus struct {
	Status string `json:"status"`
}

func (srv *Server) handleLivenessCheck(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthStatus{"alive"})
}

// handleReadinessCheck answers 503 while draining so load balancers stop
// routing transfers here.
func (srv *Server) handleReadinessCheck(w http.ResponseWriter, _ *http.Request) {
	if !srv.isReady.Load() {
		writeJSON(w, http.StatusServiceUnavailable, healthStatus{"not ready"})
		return
	}
	writeJSON(w, http.StatusOK, healthStatus{"ready"})
}

func (srv *Server) handleDrain(w http.ResponseWriter, _ *http.Request) {
	if !srv.isReady.Swap(false) {
		writeJSON(w, http.StatusOK, healthStatus{"already draining"})
		return
	}
	srv.log.Info("Draining on request", slog.Duration("drain", srv.cfg.DrainDuration))
	writeJSON(w, http.StatusOK, healthStatus{"draining"})
}

func (srv *Server) handleUndrain(w http.ResponseWriter, _ *http.Request) {
	if srv.isReady.Swap(true) {
		writeJSON(w, http.StatusOK, healthStatus{"already ready"})
		return
	}
	srv.log.Info("Accepting transfers again")
	writeJSON(w, http.StatusOK, healthStatus{"ready"})
}

// Drain marks the server not ready and waits DrainDuration so that load
// balancers stop routing new transfers to it.
func (srv *Server) Drain() {
	if srv.isReady.Swap(false) {
		srv.log.Info("Draining before shutdown", slog.Duration("drain", srv.cfg.DrainDuration))
		time.Sleep(srv.cfg.DrainDuration)
	}
}

// RunInBackground starts the API listener and, when MetricsAddr is set, the
// metrics listener.
func (srv *Server) RunInBackground() {
	if srv.cfg.MetricsAddr != "" {
		go srv.serve("metrics", srv.cfg.MetricsAddr, srv.metricsSrv.ListenAndServe)
	}
	go srv.serve("storage API", srv.cfg.ListenAddr, srv.srv.ListenAndServe)
}

func (srv *Server) serve(name, addr string, listen func() error) {
	srv.log.Info("Starting listener", "listener", name, "addr", addr)
	if err := listen(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		srv.log.Error("Listener failed", "err", err, "listener", name)
	}
}

// Shutdown drains, then stops accepting requests and waits up to
// GracefulShutdownDuration for in-flight transfers.
func (srv *Server) Shutdown() {
	srv.Drain()

	ctx, cancel := context.WithTimeout(context.Background(), srv.cfg.GracefulShutdownDuration)
	defer cancel()
	if err := srv.srv.Shutdown(ctx); err != nil {
		srv.log.Error("Storage API shutdown interrupted in-flight transfers", "err", err)
	} else {
		srv.log.Info("Storage API stopped")
	}

	if srv.cfg.MetricsAddr != "" {
		if err := srv.metricsSrv.Shutdown(ctx); err != nil {
			srv.log.Error("Metrics server shutdown failed", "err", err)
		}
	}
}
