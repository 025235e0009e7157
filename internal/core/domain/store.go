package domain

import "context"

// DocumentStore is the data-access contract for one user database.
// Implementations live in internal/core/repository.
type DocumentStore interface {
	// AllDocs returns every document in store iteration order.
	AllDocs(ctx context.Context) ([]Document, error)

	// Get returns the document with the given id.
	// Returns (nil, nil) when the store reports it absent.
	Get(ctx context.Context, id string) (Document, error)

	// Put writes doc under its _id and returns the new revision.
	// A stale or missing _rev on an existing document yields ErrConflict.
	Put(ctx context.Context, doc Document) (string, error)

	// Delete destroys the document at revision rev and returns the
	// tombstone revision. A stale rev yields ErrConflict.
	Delete(ctx context.Context, id, rev string) (string, error)
}

// StoreFactory builds a DocumentStore bound to a session descriptor.
type StoreFactory interface {
	Build(descriptor SessionDescriptor) (DocumentStore, error)
}

// SessionProvider hands out the current upstream session.
type SessionProvider interface {
	// Current returns the cached session, authenticating first when none is cached.
	Current(ctx context.Context) (*Session, error)

	// Invalidate drops the cached session if it is still stale.
	// Reports whether the cache was cleared.
	Invalidate(stale *Session) bool
}
