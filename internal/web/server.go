// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

// Package web serves the HTTP surface of Gatehouse: landing page, login,
// logout, sign-up, and the session-gated restricted page.
package web

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/samber/oops"

	"github.com/gatehouse/gatehouse/internal/auth"
	"github.com/gatehouse/gatehouse/internal/observability"
)

// SessionCookieName is the cookie carrying the opaque session token.
const SessionCookieName = "gatehouse_session"

// Server serves the Gatehouse HTTP surface.
type Server struct {
	addr       string
	svc        *auth.Service
	gate       *auth.Gate
	metrics    *observability.Metrics // nil when observability is disabled
	logger     *slog.Logger
	listener   net.Listener
	httpServer *http.Server
	running    atomic.Bool
}

// NewServer creates a web server. metrics may be nil.
func NewServer(addr string, svc *auth.Service, gate *auth.Gate, metrics *observability.Metrics, logger *slog.Logger) (*Server, error) {
	if addr == "" {
		return nil, oops.Code("WEB_INVALID_DEPENDENCY").Errorf("listen address is required")
	}
	if svc == nil {
		return nil, oops.Code("WEB_INVALID_DEPENDENCY").Errorf("auth service is required")
	}
	if gate == nil {
		return nil, oops.Code("WEB_INVALID_DEPENDENCY").Errorf("access gate is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:    addr,
		svc:     svc,
		gate:    gate,
		metrics: metrics,
		logger:  logger,
	}, nil
}

// Handler builds the route tree. Exposed separately so tests can drive the
// server through httptest without opening a socket.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(s.withSession)

	r.Get("/", s.handleIndex)
	r.Post("/log-in", s.handleLogin)
	r.Get("/log-out", s.handleLogout)
	r.Get("/sign-up", s.handleSignupForm)
	r.Post("/sign-up", s.handleSignup)

	r.Group(func(r chi.Router) {
		r.Use(s.requireUser)
		r.Get("/restricted", s.handleRestricted)
	})

	return r
}

// Start begins serving HTTP. It returns an error channel that receives any
// error from the listener after startup; the channel is closed on graceful
// shutdown.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Errorf("web server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.With("addr", s.addr).Wrap(err)
	}
	s.listener = listener

	httpSrv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpServer = httpSrv

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if serveErr := httpSrv.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			s.logger.Error("web server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	s.logger.Info("web server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop gracefully shuts down the web server.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.running.Store(true)
			return oops.With("operation", "shutdown_web_server").Wrap(err)
		}
	}

	s.logger.Info("web server stopped")
	return nil
}

// Addr returns the address the server is listening on.
// Returns empty string if not running.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}
