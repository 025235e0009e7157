// Package memstore is an in-memory domain.DocumentStore with CouchDB
// revision semantics, used by tests and the fake CouchDB server.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/duynhne/budget-proxy/internal/core/domain"
)

type entry struct {
	generation int
	rev        string
	deleted    bool
	body       []byte
}

// Store keeps JSON-encoded documents keyed by id.
type Store struct {
	mu       sync.RWMutex
	docs     map[string]*entry
	failNext error

	builds         int
	lastDescriptor domain.SessionDescriptor
}

var (
	_ domain.DocumentStore = (*Store)(nil)
	_ domain.StoreFactory  = (*Store)(nil)
)

// New returns an empty store.
func New() *Store {
	return &Store{docs: make(map[string]*entry)}
}

// Build implements domain.StoreFactory by returning the store itself.
func (s *Store) Build(descriptor domain.SessionDescriptor) (domain.DocumentStore, error) {
	if err := descriptor.Validate(); err != nil {
		return nil, fmt.Errorf("build store: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.builds++
	s.lastDescriptor = descriptor
	return s, nil
}

// Builds returns how many times Build succeeded and the last descriptor used.
func (s *Store) Builds() (int, domain.SessionDescriptor) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.builds, s.lastDescriptor
}

// FailNext makes the next operation return err without touching the data.
func (s *Store) FailNext(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = err
}

func (s *Store) takeFailure() error {
	err := s.failNext
	s.failNext = nil
	return err
}

// Seed writes docs as-is, assigning first revisions. Existing ids are overwritten.
func (s *Store) Seed(docs ...domain.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, doc := range docs {
		if doc.ID() == "" {
			return fmt.Errorf("seed: document has no %s", domain.FieldID)
		}
		if _, err := s.write(doc.ID(), 0, doc); err != nil {
			return err
		}
	}
	return nil
}

// AllDocs returns live documents ordered by id.
func (s *Store) AllDocs(_ context.Context) ([]domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(s.docs))
	for id, e := range s.docs {
		if !e.deleted {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)

	out := make([]domain.Document, 0, len(ids))
	for _, id := range ids {
		doc, err := decode(s.docs[id].body)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, nil
}

// Get returns a copy of the document, or (nil, nil) when absent or deleted.
func (s *Store) Get(_ context.Context, id string) (domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return nil, err
	}

	e, ok := s.docs[id]
	if !ok || e.deleted {
		return nil, nil
	}
	return decode(e.body)
}

// Put stores doc under its _id. Updating a live document requires its
// current _rev; creating one requires no _rev.
func (s *Store) Put(_ context.Context, doc domain.Document) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return "", err
	}

	id := doc.ID()
	if id == "" {
		return "", fmt.Errorf("put: document has no %s: %w", domain.FieldID, domain.ErrStoreWrite)
	}

	generation := 0
	if e, ok := s.docs[id]; ok {
		generation = e.generation
		if !e.deleted && doc.Rev() != e.rev {
			return "", fmt.Errorf("put %s: rev %q is not current: %w", id, doc.Rev(), domain.ErrConflict)
		}
		if e.deleted && doc.Rev() != "" && doc.Rev() != e.rev {
			return "", fmt.Errorf("put %s: rev %q is not current: %w", id, doc.Rev(), domain.ErrConflict)
		}
	} else if doc.Rev() != "" {
		return "", fmt.Errorf("put %s: document does not exist: %w", id, domain.ErrConflict)
	}

	return s.write(id, generation, doc)
}

// Delete tombstones the document at rev.
func (s *Store) Delete(_ context.Context, id, rev string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return "", err
	}

	e, ok := s.docs[id]
	if !ok || e.deleted {
		return "", fmt.Errorf("delete %s: document does not exist: %w", id, domain.ErrConflict)
	}
	if e.rev != rev {
		return "", fmt.Errorf("delete %s: rev %q is not current: %w", id, rev, domain.ErrConflict)
	}

	e.generation++
	e.rev = newRev(e.generation)
	e.deleted = true
	e.body = nil
	return e.rev, nil
}

// Exists reports whether id is live.
func (s *Store) Exists(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.docs[id]
	return ok && !e.deleted
}

// write stores doc with the next revision after generation. Callers hold mu.
func (s *Store) write(id string, generation int, doc domain.Document) (string, error) {
	rev := newRev(generation + 1)

	stored := doc.Clone()
	stored[domain.FieldID] = id
	stored[domain.FieldRev] = rev
	body, err := json.Marshal(stored)
	if err != nil {
		return "", fmt.Errorf("put %s: encode: %w: %w", id, domain.ErrStoreWrite, err)
	}

	s.docs[id] = &entry{generation: generation + 1, rev: rev, body: body}
	return rev, nil
}

func decode(body []byte) (domain.Document, error) {
	var doc domain.Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode: %w: %w", domain.ErrStoreRead, err)
	}
	return doc, nil
}

func newRev(generation int) string {
	return fmt.Sprintf("%d-%s", generation, strings.ReplaceAll(uuid.NewString(), "-", ""))
}
