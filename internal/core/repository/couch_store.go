package repository

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-kivik/kivik/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/duynhne/budget-proxy/internal/core/domain"
	"github.com/duynhne/budget-proxy/middleware"
)

// CouchDocumentStore implements domain.DocumentStore on one CouchDB database.
type CouchDocumentStore struct {
	db      *kivik.DB
	timeout time.Duration
}

var _ domain.DocumentStore = (*CouchDocumentStore)(nil)

// NewCouchDocumentStore wraps db. Each operation runs under timeout.
func NewCouchDocumentStore(db *kivik.DB, timeout time.Duration) *CouchDocumentStore {
	return &CouchDocumentStore{db: db, timeout: timeout}
}

// AllDocs returns every document with its body, in key order.
func (s *CouchDocumentStore) AllDocs(ctx context.Context) ([]domain.Document, error) {
	var docs []domain.Document
	err := s.run(ctx, "all_docs", opRead, func(ctx context.Context) error {
		rows := s.db.AllDocs(ctx, kivik.Param("include_docs", true))
		defer rows.Close()

		for rows.Next() {
			var doc domain.Document
			if err := rows.ScanDoc(&doc); err != nil {
				return err
			}
			if doc != nil {
				docs = append(docs, doc)
			}
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

// Get returns the document with id.
// Returns (nil, nil) when the store reports it absent.
func (s *CouchDocumentStore) Get(ctx context.Context, id string) (domain.Document, error) {
	var doc domain.Document
	found := true
	err := s.run(ctx, "get", opRead, func(ctx context.Context) error {
		err := s.db.Get(ctx, id).ScanDoc(&doc)
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			found = false
			return nil
		}
		return err
	})
	if err != nil || !found {
		return nil, err
	}
	return doc, nil
}

// Put writes doc under its _id and returns the new revision.
func (s *CouchDocumentStore) Put(ctx context.Context, doc domain.Document) (string, error) {
	id := doc.ID()
	if id == "" {
		return "", fmt.Errorf("put: document has no %s: %w", domain.FieldID, domain.ErrStoreWrite)
	}

	var rev string
	err := s.run(ctx, "put", opWrite, func(ctx context.Context) error {
		var err error
		rev, err = s.db.Put(ctx, id, map[string]any(doc))
		return err
	})
	return rev, err
}

// Delete destroys the document at rev and returns the tombstone revision.
// A document that vanished since it was read is reported as a conflict.
func (s *CouchDocumentStore) Delete(ctx context.Context, id, rev string) (string, error) {
	var newRev string
	err := s.run(ctx, "delete", opWrite, func(ctx context.Context) error {
		var err error
		newRev, err = s.db.Delete(ctx, id, rev)
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return fmt.Errorf("document %s already deleted: %w", id, domain.ErrConflict)
		}
		return err
	})
	return newRev, err
}

// run executes fn under the operation timeout, recording a span, metrics and
// a classified error.
func (s *CouchDocumentStore) run(ctx context.Context, name string, kind opKind, fn func(context.Context) error) error {
	ctx, span := middleware.StartSpan(ctx, "store."+name, trace.WithAttributes(
		attribute.String("layer", "repository"),
		attribute.String("db.system", "couchdb"),
	))
	defer span.End()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	err := classify(name, kind, fn(ctx))
	middleware.StoreOperationDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())

	if err != nil {
		span.RecordError(err)
		middleware.StoreOperations.WithLabelValues(name, outcome(err)).Inc()
		return err
	}
	middleware.StoreOperations.WithLabelValues(name, "success").Inc()
	return nil
}
