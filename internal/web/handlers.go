// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package web

import (
	"errors"
	"net/http"

	"github.com/gatehouse/gatehouse/internal/auth"
	"github.com/gatehouse/gatehouse/pkg/errutil"
)

// indexData feeds the landing page template.
type indexData struct {
	Messages []string
	User     *auth.User
}

// restrictedData feeds the restricted page template.
type restrictedData struct {
	User      *auth.User
	PageCount int
}

// handleIndex renders the landing page, draining any one-shot messages.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	session := sessionFromContext(r.Context())

	messages, err := s.svc.DrainMessages(r.Context(), session.ID)
	if err != nil {
		s.serverError(w, r, "drain messages", err)
		return
	}

	user, err := s.svc.CurrentUser(r.Context(), session)
	if err != nil {
		s.serverError(w, r, "resolve current user", err)
		return
	}

	s.render(w, r, "index", indexData{Messages: messages, User: user})
}

// handleLogin authenticates the posted credentials against the current
// session. Failures of any kind flash a message and bounce back to the
// landing page; only store failures surface as a 500.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	session := sessionFromContext(r.Context())

	if err := r.ParseForm(); err != nil {
		s.flashAndRedirect(w, r, session, "Invalid login request.")
		return
	}
	username := r.PostFormValue("username")
	password := r.PostFormValue("password")

	if username == "" || password == "" {
		s.recordLogin("invalid")
		s.flashAndRedirect(w, r, session, "Username and password are required.")
		return
	}

	_, err := s.svc.Login(r.Context(), session, username, password)
	if err != nil {
		// The two failure messages stay distinguishable; both land in
		// the same one-shot category.
		switch errutil.Code(err) {
		case "AUTH_UNKNOWN_USER":
			s.recordLogin("unknown_user")
			s.flashAndRedirect(w, r, session, "Incorrect username.")
		case "AUTH_BAD_PASSWORD":
			s.recordLogin("bad_password")
			s.flashAndRedirect(w, r, session, "Incorrect password.")
		default:
			s.recordLogin("error")
			s.serverError(w, r, "login", err)
		}
		return
	}

	s.recordLogin("success")
	http.Redirect(w, r, "/", http.StatusFound)
}

// handleLogout destroys the current session and starts a fresh anonymous
// one, so the old token can never resolve to the previous identity.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	session := sessionFromContext(r.Context())

	if err := s.svc.Logout(r.Context(), session.ID); err != nil {
		s.serverError(w, r, "logout", err)
		return
	}

	_, token, err := s.svc.StartSession(r.Context())
	if err != nil {
		s.serverError(w, r, "start session", err)
		return
	}
	s.setSessionCookie(w, token)

	http.Redirect(w, r, "/", http.StatusFound)
}

// handleSignupForm renders the registration form.
func (s *Server) handleSignupForm(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, "signup", nil)
}

// handleSignup creates a user from the posted credentials. Duplicate or
// invalid input flashes a message; hashing or store failures propagate as
// a generic server error.
func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	session := sessionFromContext(r.Context())

	if err := r.ParseForm(); err != nil {
		s.flashAndRedirect(w, r, session, "Invalid sign-up request.")
		return
	}
	username := r.PostFormValue("username")
	password := r.PostFormValue("password")

	_, err := s.svc.Register(r.Context(), username, password)
	if err != nil {
		// Dispatch on sentinels where they exist; error codes can be
		// shadowed by deeper ones in a wrapped chain.
		switch {
		case errors.Is(err, auth.ErrDuplicateUsername):
			s.recordSignup("duplicate")
			s.flashAndRedirect(w, r, session, "That username is already taken.")
		case errors.Is(err, auth.ErrEmptyPassword), errutil.Code(err) == "AUTH_INVALID_USERNAME":
			s.recordSignup("invalid")
			s.flashAndRedirect(w, r, session, err.Error())
		default:
			s.recordSignup("error")
			s.serverError(w, r, "sign up", err)
		}
		return
	}

	s.recordSignup("success")
	http.Redirect(w, r, "/", http.StatusFound)
}

// handleRestricted serves the protected page. requireUser has already let
// the request through, so the user resolves.
func (s *Server) handleRestricted(w http.ResponseWriter, r *http.Request) {
	session := sessionFromContext(r.Context())

	user, err := s.svc.CurrentUser(r.Context(), session)
	if err != nil {
		s.serverError(w, r, "resolve current user", err)
		return
	}

	count, err := s.svc.RecordPageVisit(r.Context(), session.ID)
	if err != nil {
		s.serverError(w, r, "record page visit", err)
		return
	}

	s.render(w, r, "restricted", restrictedData{User: user, PageCount: count})
}

// flashAndRedirect queues a one-shot message and bounces to the landing page.
func (s *Server) flashAndRedirect(w http.ResponseWriter, r *http.Request, session *auth.Session, message string) {
	if err := s.svc.FlashMessage(r.Context(), session.ID, message); err != nil {
		errutil.LogError(s.logger, "queue flash message", err)
	}
	http.Redirect(w, r, "/", http.StatusFound)
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pageTemplates.ExecuteTemplate(w, name, data); err != nil {
		errutil.LogError(s.logger, "render "+name, err)
	}
}

func (s *Server) recordLogin(outcome string) {
	if s.metrics != nil {
		s.metrics.LoginsTotal.WithLabelValues(outcome).Inc()
	}
}

func (s *Server) recordSignup(outcome string) {
	if s.metrics != nil {
		s.metrics.SignupsTotal.WithLabelValues(outcome).Inc()
	}
}
