// Package couchtest serves a memstore.Store over the subset of the CouchDB
// HTTP API the repository uses.
package couchtest

import (
	"compress/gzip"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/duynhne/budget-proxy/internal/core/domain"
	"github.com/duynhne/budget-proxy/internal/core/repository/memstore"
)

// Server is a fake CouchDB server backed by Store.
type Server struct {
	*httptest.Server

	Store *memstore.Store

	// RejectAuth answers every request with 401.
	RejectAuth atomic.Bool
	// ForceStatus, when non-zero, answers database requests with that status.
	ForceStatus atomic.Int32

	mu       sync.Mutex
	referers []string
	logins   []string
}

// NewServer starts a fake CouchDB that is closed when t finishes.
func NewServer(t testing.TB) *Server {
	t.Helper()

	s := &Server{Store: memstore.New()}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /_session", s.handleLogin)
	mux.HandleFunc("GET /_session", s.handleSessionInfo)
	mux.HandleFunc("GET /{db}/_all_docs", s.handleAllDocs)
	mux.HandleFunc("POST /{db}/_all_docs", s.handleAllDocs)
	mux.HandleFunc("GET /{db}/{id}", s.handleGet)
	mux.HandleFunc("PUT /{db}/{id}", s.handlePut)
	mux.HandleFunc("DELETE /{db}/{id}", s.handleDelete)

	s.Server = httptest.NewServer(s.observe(mux))
	t.Cleanup(s.Close)
	return s
}

// Referers returns the Referer header of every request received.
func (s *Server) Referers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.referers...)
}

// Logins returns the user names presented via basic or cookie auth.
func (s *Server) Logins() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.logins...)
}

func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.referers = append(s.referers, r.Header.Get("Referer"))
		if user, _, ok := r.BasicAuth(); ok {
			s.logins = append(s.logins, user)
		}
		s.mu.Unlock()

		if s.RejectAuth.Load() {
			writeError(w, http.StatusUnauthorized, "unauthorized", "Name or password is incorrect.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds struct {
		Name     string `json:"name"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &creds); err != nil {
		_ = r.ParseForm()
		creds.Name = r.PostForm.Get("name")
	}
	s.mu.Lock()
	s.logins = append(s.logins, creds.Name)
	s.mu.Unlock()

	http.SetCookie(w, &http.Cookie{Name: "AuthSession", Value: "fake-session", Path: "/", HttpOnly: true})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "name": creds.Name, "roles": []string{}})
}

func (s *Server) handleSessionInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "userCtx": map[string]any{"name": nil, "roles": []string{}}})
}

func (s *Server) forced(w http.ResponseWriter) bool {
	status := int(s.ForceStatus.Load())
	if status == 0 {
		return false
	}
	writeError(w, status, "forced", http.StatusText(status))
	return true
}

func (s *Server) handleAllDocs(w http.ResponseWriter, r *http.Request) {
	if s.forced(w) {
		return
	}
	docs, err := s.Store.AllDocs(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}

	rows := make([]map[string]any, 0, len(docs))
	for _, doc := range docs {
		rows = append(rows, map[string]any{
			"id":    doc.ID(),
			"key":   doc.ID(),
			"value": map[string]string{"rev": doc.Rev()},
			"doc":   doc,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"total_rows": len(rows), "offset": 0, "rows": rows})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	if s.forced(w) {
		return
	}
	doc, err := s.Store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if doc == nil {
		writeError(w, http.StatusNotFound, "not_found", "missing")
		return
	}
	w.Header().Set("ETag", `"`+doc.Rev()+`"`)
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	if s.forced(w) {
		return
	}
	var doc domain.Document
	if err := decodeBody(r, &doc); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	id := r.PathValue("id")
	doc[domain.FieldID] = id
	if rev := r.URL.Query().Get("rev"); rev != "" && doc.Rev() == "" {
		doc[domain.FieldRev] = rev
	}

	rev, err := s.Store.Put(r.Context(), doc)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	w.Header().Set("ETag", `"`+rev+`"`)
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "id": id, "rev": rev})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if s.forced(w) {
		return
	}
	id := r.PathValue("id")
	if !s.Store.Exists(id) {
		writeError(w, http.StatusNotFound, "not_found", "deleted")
		return
	}
	rev, err := s.Store.Delete(r.Context(), id, r.URL.Query().Get("rev"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	w.Header().Set("ETag", `"`+rev+`"`)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "id": id, "rev": rev})
}

// decodeBody reads a JSON body, inflating it when the client compressed it.
func decodeBody(r *http.Request, v any) error {
	var body io.Reader = r.Body
	if r.Header.Get("Content-Encoding") == "gzip" {
		zr, err := gzip.NewReader(r.Body)
		if err != nil {
			return err
		}
		defer zr.Close()
		body = zr
	}
	return json.NewDecoder(body).Decode(v)
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, domain.ErrConflict) {
		writeError(w, http.StatusConflict, "conflict", "Document update conflict.")
		return
	}
	writeError(w, http.StatusInternalServerError, "internal_server_error", err.Error())
}

func writeError(w http.ResponseWriter, status int, code, reason string) {
	writeJSON(w, status, map[string]string{"error": code, "reason": reason})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
