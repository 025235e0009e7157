package v1

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/duynhne/budget-proxy/internal/core/domain"
	"github.com/duynhne/budget-proxy/internal/logger"
	"github.com/duynhne/budget-proxy/middleware"
)

// Predicate selects documents during a list scan.
type Predicate func(domain.Document) bool

// Query is a conjunction of predicates evaluated after a full scan.
type Query []Predicate

// Match reports whether doc satisfies every predicate.
func (q Query) Match(doc domain.Document) bool {
	for _, p := range q {
		if !p(doc) {
			return false
		}
	}
	return true
}

// Rules parameterise an EntityService for one document kind.
type Rules struct {
	Kind domain.Kind

	// Fields is the allowlist of caller-settable fields and their types.
	Fields map[string]FieldType
	// Required fields must be present and non-empty on create, and may not
	// be emptied by an update.
	Required []string

	// Defaults fills absent fields of a new document.
	Defaults func(doc domain.Document)
	// Check enforces business rules. It runs on the proposed document and,
	// for update and delete, on the stored one first.
	Check func(doc domain.Document) error
	// Filter builds the list query.
	Filter func(f domain.ListFilter) (Query, error)
}

// EntityService implements list, get, create, update and delete for one kind.
// Dependencies are injected via the constructor.
type EntityService struct {
	rules    Rules
	sessions domain.SessionProvider
	stores   domain.StoreFactory
	now      func() time.Time
	newID    func() string
}

// EntityServiceOption configures an EntityService.
type EntityServiceOption func(*EntityService)

// WithNowTime replaces the clock used for reserved timestamps.
func WithNowTime(nowFunc func() time.Time) EntityServiceOption {
	return func(s *EntityService) {
		s.now = nowFunc
	}
}

// WithIDGenerator replaces the generator for the opaque part of new ids.
func WithIDGenerator(newID func() string) EntityServiceOption {
	return func(s *EntityService) {
		s.newID = newID
	}
}

// NewEntityService creates an EntityService for rules.
func NewEntityService(rules Rules, sessions domain.SessionProvider, stores domain.StoreFactory, opts ...EntityServiceOption) *EntityService {
	s := &EntityService{
		rules:    rules,
		sessions: sessions,
		stores:   stores,
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Kind returns the discriminator this service manages.
func (s *EntityService) Kind() domain.Kind {
	return s.rules.Kind
}

// List scans the store and returns the documents of this kind matching f,
// each id at most once.
func (s *EntityService) List(ctx context.Context, f domain.ListFilter) ([]domain.Document, error) {
	ctx, span := s.startSpan(ctx, "list")
	defer span.End()

	var query Query
	if s.rules.Filter != nil {
		var err error
		if query, err = s.rules.Filter(f); err != nil {
			return nil, fmt.Errorf("list %s: %w", s.rules.Kind, err)
		}
	}

	var out []domain.Document
	err := s.withStore(ctx, func(ctx context.Context, store domain.DocumentStore, _ *domain.Session) error {
		docs, err := store.AllDocs(ctx)
		if err != nil {
			return err
		}

		out = make([]domain.Document, 0, len(docs))
		seen := make(map[string]struct{}, len(docs))
		for _, doc := range docs {
			if doc.Kind() != s.rules.Kind || !query.Match(doc) {
				continue
			}
			if _, dup := seen[doc.ID()]; dup {
				continue
			}
			seen[doc.ID()] = struct{}{}
			out = append(out, doc)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("list %s: %w", s.rules.Kind, err)
	}

	span.SetAttributes(attribute.Int("result.count", len(out)))
	return out, nil
}

// GetByID returns the document with id.
// Returns (nil, nil) when it is absent or of another kind.
func (s *EntityService) GetByID(ctx context.Context, id string) (domain.Document, error) {
	ctx, span := s.startSpan(ctx, "get")
	defer span.End()

	var found domain.Document
	err := s.withStore(ctx, func(ctx context.Context, store domain.DocumentStore, _ *domain.Session) error {
		doc, err := s.load(ctx, store, id)
		found = doc
		return err
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("get %s %q: %w", s.rules.Kind, id, err)
	}
	return found, nil
}

// Create validates fields, applies defaults, stamps the reserved fields and
// writes a new document. Reserved fields in the input are ignored.
func (s *EntityService) Create(ctx context.Context, fields map[string]any) (domain.Document, error) {
	ctx, span := s.startSpan(ctx, "create")
	defer span.End()

	doc, err := s.coerce(fields, true)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("create %s: %w", s.rules.Kind, err)
	}
	for _, name := range s.rules.Required {
		if empty(doc[name]) {
			return nil, fmt.Errorf("create %s: %w", s.rules.Kind, invalid(name, RuleRequired))
		}
	}
	if s.rules.Defaults != nil {
		s.rules.Defaults(doc)
	}
	if err := s.check(doc); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("create %s: %w", s.rules.Kind, err)
	}

	id := string(s.rules.Kind) + "_" + s.newID()
	var created domain.Document
	err = s.withStore(ctx, func(ctx context.Context, store domain.DocumentStore, sess *domain.Session) error {
		now := formatTimestamp(s.now())
		out := doc.Clone()
		out[domain.FieldID] = id
		out[domain.FieldModelType] = string(s.rules.Kind)
		out[domain.FieldOwnerID] = sess.Descriptor.OwnerID
		out[domain.FieldAuthorID] = sess.Descriptor.OwnerID
		out[domain.FieldCreatedAt] = now
		out[domain.FieldUpdatedAt] = now

		rev, err := store.Put(ctx, out)
		if err != nil {
			return err
		}
		out[domain.FieldRev] = rev
		created = out
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("create %s: %w", s.rules.Kind, err)
	}

	span.SetAttributes(attribute.String("document.id", id))
	logger.FromContext(ctx).Info().Str("kind", string(s.rules.Kind)).Str("id", id).Msg("Document created")
	return created, nil
}

// Update merges patch onto the stored document and writes it with the
// stored revision. Only allowlisted fields may be patched.
// Returns (nil, nil) when the document is absent or of another kind.
func (s *EntityService) Update(ctx context.Context, id string, patch map[string]any) (domain.Document, error) {
	ctx, span := s.startSpan(ctx, "update")
	defer span.End()

	changes, err := s.coerce(patch, false)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("update %s %q: %w", s.rules.Kind, id, err)
	}
	for _, name := range s.rules.Required {
		if v, ok := changes[name]; ok && empty(v) {
			return nil, fmt.Errorf("update %s %q: %w", s.rules.Kind, id, invalid(name, RuleRequired))
		}
	}

	var updated domain.Document
	err = s.withStore(ctx, func(ctx context.Context, store domain.DocumentStore, _ *domain.Session) error {
		existing, err := s.load(ctx, store, id)
		if err != nil || existing == nil {
			return err
		}
		if err := s.check(existing); err != nil {
			return err
		}

		merged := existing.Clone()
		for k, v := range changes {
			merged[k] = v
		}
		if err := s.check(merged); err != nil {
			return err
		}
		merged[domain.FieldUpdatedAt] = formatTimestamp(s.now())

		rev, err := store.Put(ctx, merged)
		if err != nil {
			return err
		}
		merged[domain.FieldRev] = rev
		updated = merged
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("update %s %q: %w", s.rules.Kind, id, err)
	}
	return updated, nil
}

// Delete destroys the document at its stored revision.
// Returns (nil, nil) when the document is absent or of another kind.
func (s *EntityService) Delete(ctx context.Context, id string) (*domain.DeleteResult, error) {
	ctx, span := s.startSpan(ctx, "delete")
	defer span.End()

	var result *domain.DeleteResult
	err := s.withStore(ctx, func(ctx context.Context, store domain.DocumentStore, _ *domain.Session) error {
		existing, err := s.load(ctx, store, id)
		if err != nil || existing == nil {
			return err
		}
		if err := s.check(existing); err != nil {
			return err
		}

		rev, err := store.Delete(ctx, id, existing.Rev())
		if err != nil {
			return err
		}
		result = &domain.DeleteResult{ID: id, Rev: rev}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("delete %s %q: %w", s.rules.Kind, id, err)
	}
	if result != nil {
		logger.FromContext(ctx).Info().Str("kind", string(s.rules.Kind)).Str("id", id).Msg("Document deleted")
	}
	return result, nil
}

// load returns the stored document when it exists and is of this kind.
func (s *EntityService) load(ctx context.Context, store domain.DocumentStore, id string) (domain.Document, error) {
	doc, err := store.Get(ctx, id)
	if err != nil || doc == nil {
		return nil, err
	}
	if doc.Kind() != s.rules.Kind {
		return nil, nil
	}
	return doc, nil
}

// coerce keeps the allowlisted fields of input in their stored form.
// On create reserved fields are dropped; on update they are rejected.
func (s *EntityService) coerce(input map[string]any, creating bool) (domain.Document, error) {
	doc := make(domain.Document, len(input))
	for name, value := range input {
		if domain.IsReservedField(name) {
			if creating {
				continue
			}
			return nil, invalid(name, RuleReserved)
		}
		typ, ok := s.rules.Fields[name]
		if !ok {
			return nil, invalid(name, RuleUnknownField)
		}
		v, err := typ.coerce(name, value)
		if err != nil {
			return nil, err
		}
		doc[name] = v
	}
	return doc, nil
}

func (s *EntityService) check(doc domain.Document) error {
	if s.rules.Check == nil {
		return nil
	}
	return s.rules.Check(doc)
}

// withStore runs fn against the store of the current session. When the
// store rejects the session's credentials, the session is invalidated and
// fn runs once more with a fresh one.
func (s *EntityService) withStore(ctx context.Context, fn func(context.Context, domain.DocumentStore, *domain.Session) error) error {
	for attempt := 0; ; attempt++ {
		sess, err := s.sessions.Current(ctx)
		if err != nil {
			return err
		}
		store, err := s.stores.Build(sess.Descriptor)
		if err != nil {
			return err
		}

		err = fn(ctx, store, sess)
		if err == nil || attempt > 0 || !errors.Is(err, domain.ErrStoreUnauthorized) {
			return err
		}

		cleared := s.sessions.Invalidate(sess)
		logger.FromContext(ctx).Warn().
			Err(err).
			Bool("cleared", cleared).
			Msg("Store rejected session credentials, retrying with a fresh session")
	}
}

func (s *EntityService) startSpan(ctx context.Context, op string) (context.Context, trace.Span) {
	return middleware.StartSpan(ctx, "entity."+op, trace.WithAttributes(
		attribute.String("layer", "logic"),
		attribute.String("entity.kind", string(s.rules.Kind)),
	))
}
