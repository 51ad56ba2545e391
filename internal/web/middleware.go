// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package web

import (
	"context"
	"net/http"
	"time"

	"github.com/gatehouse/gatehouse/internal/auth"
	"github.com/gatehouse/gatehouse/pkg/errutil"
)

// ctxKey is a private type for request context values.
type ctxKey int

const sessionCtxKey ctxKey = iota

// sessionFromContext returns the session resolved by withSession.
// Handlers behind withSession can rely on it being present.
func sessionFromContext(ctx context.Context) *auth.Session {
	session, _ := ctx.Value(sessionCtxKey).(*auth.Session)
	return session
}

// withSession resolves the client's session cookie, or starts a fresh
// anonymous session when the cookie is absent, unknown, or expired. The
// session is placed in the request context for downstream handlers.
func (s *Server) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var token string
		if cookie, err := r.Cookie(SessionCookieName); err == nil {
			token = cookie.Value
		}

		session, newToken, err := s.svc.LoadOrCreate(r.Context(), token)
		if err != nil {
			s.serverError(w, r, "resolve session", err)
			return
		}
		if newToken != "" {
			s.setSessionCookie(w, newToken)
			if s.metrics != nil {
				s.metrics.SessionsStarted.Inc()
			}
		}

		ctx := context.WithValue(r.Context(), sessionCtxKey, session)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireUser guards protected routes. Anonymous sessions get the denial
// message queued and are redirected; only sessions resolving to a live
// user proceed.
func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session := sessionFromContext(r.Context())

		decision, err := s.gate.Guard(r.Context(), session)
		if err != nil {
			s.serverError(w, r, "guard request", err)
			return
		}

		if !decision.Allowed {
			s.recordGateDecision("deny")
			if err := s.svc.FlashMessage(r.Context(), session.ID, decision.Message); err != nil {
				errutil.LogError(s.logger, "queue denial message", err)
			}
			http.Redirect(w, r, decision.RedirectTo, http.StatusFound)
			return
		}

		s.recordGateDecision("allow")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) recordGateDecision(outcome string) {
	if s.metrics != nil {
		s.metrics.GateDecisionsTotal.WithLabelValues(outcome).Inc()
	}
}

// setSessionCookie hands the opaque session token to the client.
// HttpOnly keeps it away from scripts; the token is unguessable and only
// its keyed hash is stored server-side.
func (s *Server) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Now().Add(auth.SessionTokenExpiry),
	})
}

// serverError logs the failure and answers with a generic 500. Internal
// error detail never reaches the client.
func (s *Server) serverError(w http.ResponseWriter, _ *http.Request, operation string, err error) {
	errutil.LogError(s.logger, operation+" failed", err)
	http.Error(w, "Something went wrong. Please try again.", http.StatusInternalServerError)
}
