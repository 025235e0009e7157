// Package handshaketest provides a fake BudgetBakers login upstream for tests.
package handshaketest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/duynhne/budget-proxy/internal/core/domain"
)

// Cookie names issued by the fake upstream.
const (
	SessionCookie     = "__Secure-next-auth.session-token"
	CSRFCookie        = "__Host-next-auth.csrf-token"
	CallbackURLCookie = "__Secure-next-auth.callback-url"
)

// Default credentials accepted by a new Server.
const (
	Email    = "owner@example.com"
	Password = "s3cret"
)

// Server is a TLS httptest server speaking the three-step login protocol.
type Server struct {
	*httptest.Server

	CSRFToken string

	// Toggles for failure scenarios.
	OmitCSRFToken     atomic.Bool
	OmitReplication   atomic.Bool
	OmitSessionCookie atomic.Bool

	mu         sync.Mutex
	descriptor domain.SessionDescriptor
	calls      map[string]int
	lastForm   map[string]string
	sessions   atomic.Int64
}

// NewServer starts a fake upstream that is closed when t finishes.
func NewServer(t testing.TB) *Server {
	t.Helper()

	s := &Server{
		CSRFToken: "csrf-token-123",
		calls:     make(map[string]int),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/auth/csrf", s.handleCSRF)
	mux.HandleFunc("POST /api/auth/callback/sign-in", s.handleSignIn)
	mux.HandleFunc("GET /api/auth/session", s.handleSession)

	s.Server = httptest.NewTLSServer(mux)
	s.descriptor = domain.SessionDescriptor{
		URL:     "https://couch.example.test",
		DBName:  "bb-owner-1",
		Login:   "couch-login",
		Token:   "couch-token",
		OwnerID: "owner-1",
	}
	t.Cleanup(s.Close)
	return s
}

// Transport returns a transport trusting the server certificate.
func (s *Server) Transport() http.RoundTripper {
	return s.Client().Transport
}

// Descriptor returns the replication data the session endpoint serves.
func (s *Server) Descriptor() domain.SessionDescriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.descriptor
}

// SetDescriptor replaces the replication data the session endpoint serves.
func (s *Server) SetDescriptor(d domain.SessionDescriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.descriptor = d
}

// Calls returns how many requests reached path.
func (s *Server) Calls(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[path]
}

// LastSignInForm returns the most recent sign-in form fields.
func (s *Server) LastSignInForm() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.lastForm))
	for k, v := range s.lastForm {
		out[k] = v
	}
	return out
}

func (s *Server) record(r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[r.URL.Path]++
}

func (s *Server) handleCSRF(w http.ResponseWriter, r *http.Request) {
	s.record(r)

	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookie,
		Value:    s.CSRFToken + "%7Chash",
		Path:     "/",
		Secure:   true,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	if s.OmitCSRFToken.Load() {
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"csrfToken": s.CSRFToken})
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	s.record(r)

	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	form := make(map[string]string, len(r.PostForm))
	for k := range r.PostForm {
		form[k] = r.PostForm.Get(k)
	}
	s.mu.Lock()
	s.lastForm = form
	s.mu.Unlock()

	if _, err := r.Cookie(CSRFCookie); err != nil || form["csrfToken"] != s.CSRFToken {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "MissingCSRF"})
		return
	}
	if form["email"] != Email || form["password"] != Password {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"url": s.URL + "/api/auth/error?error=CredentialsSignin"})
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CallbackURLCookie,
		Value:    "%2Fdashboard",
		Path:     "/",
		Secure:   true,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	if !s.OmitSessionCookie.Load() {
		http.SetCookie(w, &http.Cookie{
			Name:     SessionCookie,
			Value:    fmt.Sprintf("session-%d", s.sessions.Add(1)),
			Path:     "/",
			Expires:  time.Now().Add(30 * 24 * time.Hour),
			Secure:   true,
			HttpOnly: true,
		})
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": s.URL + "/dashboard"})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	s.record(r)

	if _, err := r.Cookie(SessionCookie); err != nil || s.OmitReplication.Load() {
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user": map[string]any{
			"email":       Email,
			"replication": s.Descriptor(),
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
