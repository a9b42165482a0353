// Package server exposes the denoiser over HTTP: file upload, the state
// of the front-end controller, a server-side microphone session and a
// WebSocket endpoint accepting a live stream.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/xaionaro-go/denoise/pkg/config"
	"github.com/xaionaro-go/denoise/pkg/controller"
	"github.com/xaionaro-go/denoise/pkg/denoise"
	"github.com/xaionaro-go/denoise/pkg/metrics"
	"github.com/xaionaro-go/observability"
)

const (
	shutdownTimeout = 10 * time.Second
)

type Server struct {
	config     config.Config
	processor  *denoise.Processor
	controller *controller.Controller
	sem        chan struct{}
	upgrader   websocket.Upgrader
	mux        *http.ServeMux
	baseCtx    context.Context
}

func New(
	ctx context.Context,
	processor *denoise.Processor,
	ctrl *controller.Controller,
	cfg config.Config,
) *Server {
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = config.Default().MaxConcurrent
	}
	s := &Server{
		config:     cfg,
		processor:  processor,
		controller: ctrl,
		sem:        make(chan struct{}, maxConcurrent),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16384,
			WriteBufferSize: 16384,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		mux:     http.NewServeMux(),
		baseCtx: ctx,
	}
	s.mux.HandleFunc("POST /api/denoise", s.admitted(s.handleDenoise))
	s.mux.HandleFunc("GET /api/state", s.handleState)
	s.mux.HandleFunc("POST /api/init", s.handleInit)
	s.mux.HandleFunc("PUT /api/model", s.handleModel)
	s.mux.HandleFunc("POST /api/dragging", s.handleDragging)
	s.mux.HandleFunc("POST /api/microphone/start", s.handleMicrophoneStart)
	s.mux.HandleFunc("POST /api/microphone/stop", s.admitted(s.handleMicrophoneStop))
	s.mux.HandleFunc("GET /api/stream", s.admitted(s.handleStream))
	s.mux.Handle("GET /metrics", promhttp.Handler())
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// requestCtx returns the context of the request with the logger of
// the server, tagged by a request ID.
func (s *Server) requestCtx(r *http.Request) context.Context {
	l := logger.FromCtx(s.baseCtx).WithField("request_id", uuid.New().String())
	return logger.CtxWithLogger(r.Context(), l)
}

// admitted limits the amount of concurrently processed requests.
func (s *Server) admitted(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		select {
		case s.sem <- struct{}{}:
			defer func() { <-s.sem }()
		default:
			metrics.RequestsRejected.Inc()
			http.Error(w, "at capacity", http.StatusServiceUnavailable)
			return
		}
		next(w, r)
	}
}

// Serve serves on the listener until ctx is done.
func (s *Server) Serve(
	ctx context.Context,
	listener net.Listener,
) error {
	srv := &http.Server{
		Handler:     s,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	observability.Go(ctx, func(ctx context.Context) {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		logger.Infof(ctx, "shutting down the server")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Errorf(ctx, "unable to shutdown the server gracefully: %v", err)
		}
	})

	logger.Infof(ctx, "listening at %s", listener.Addr())
	err := srv.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) ListenAndServe(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("unable to listen at '%s': %w", s.config.Listen, err)
	}
	return s.Serve(ctx, listener)
}
