package memstore_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duynhne/budget-proxy/internal/core/domain"
	"github.com/duynhne/budget-proxy/internal/core/repository/memstore"
)

func TestPutAndGet(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()

	rev, err := store.Put(ctx, domain.Document{"_id": "Account_1", "name": "Cash", "initAmount": 100})
	require.NoError(t, err)
	assert.Regexp(t, `^1-[0-9a-f]{32}$`, rev)

	doc, err := store.Get(ctx, "Account_1")
	require.NoError(t, err)
	assert.Equal(t, rev, doc.Rev())
	assert.Equal(t, "Cash", doc["name"])
	assert.Equal(t, float64(100), doc["initAmount"], "numbers round-trip as JSON numbers")

	doc["name"] = "mutated"
	again, err := store.Get(ctx, "Account_1")
	require.NoError(t, err)
	assert.Equal(t, "Cash", again["name"], "Get returns a copy")

	missing, err := store.Get(ctx, "Account_2")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestPutRevisionRules(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()

	rev, err := store.Put(ctx, domain.Document{"_id": "Label_1", "name": "a"})
	require.NoError(t, err)

	_, err = store.Put(ctx, domain.Document{"_id": "Label_1", "name": "no rev"})
	require.ErrorIs(t, err, domain.ErrConflict)

	_, err = store.Put(ctx, domain.Document{"_id": "Label_1", "_rev": "1-stale", "name": "stale"})
	require.ErrorIs(t, err, domain.ErrConflict)

	_, err = store.Put(ctx, domain.Document{"_id": "Label_2", "_rev": rev, "name": "ghost"})
	require.ErrorIs(t, err, domain.ErrConflict)

	next, err := store.Put(ctx, domain.Document{"_id": "Label_1", "_rev": rev, "name": "b"})
	require.NoError(t, err)
	assert.NotEqual(t, rev, next)
	assert.Regexp(t, `^2-`, next)
}

func TestConcurrentStaleUpdates(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	rev, err := store.Put(ctx, domain.Document{"_id": "Record_1", "amount": 10})
	require.NoError(t, err)

	const writers = 8
	errs := make([]error, writers)
	var wg sync.WaitGroup
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = store.Put(ctx, domain.Document{"_id": "Record_1", "_rev": rev, "amount": i + 1})
		}()
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, domain.ErrConflict):
			conflicts++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, writers-1, conflicts)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	rev, err := store.Put(ctx, domain.Document{"_id": "Category_1"})
	require.NoError(t, err)

	_, err = store.Delete(ctx, "Category_1", "1-stale")
	require.ErrorIs(t, err, domain.ErrConflict)

	tombstone, err := store.Delete(ctx, "Category_1", rev)
	require.NoError(t, err)
	assert.Regexp(t, `^2-`, tombstone)
	assert.False(t, store.Exists("Category_1"))

	doc, err := store.Get(ctx, "Category_1")
	require.NoError(t, err)
	assert.Nil(t, doc)

	_, err = store.Delete(ctx, "Category_1", tombstone)
	require.ErrorIs(t, err, domain.ErrConflict)

	recreated, err := store.Put(ctx, domain.Document{"_id": "Category_1"})
	require.NoError(t, err)
	assert.Regexp(t, `^3-`, recreated)
}

func TestAllDocsOrderAndFailure(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	require.NoError(t, store.Seed(
		domain.Document{"_id": "b"},
		domain.Document{"_id": "a"},
		domain.Document{"_id": "c"},
	))

	boom := errors.New("boom")
	store.FailNext(boom)
	_, err := store.AllDocs(ctx)
	require.ErrorIs(t, err, boom)

	docs, err := store.AllDocs(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{docs[0].ID(), docs[1].ID(), docs[2].ID()})
}

func TestBuild(t *testing.T) {
	store := memstore.New()

	_, err := store.Build(domain.SessionDescriptor{URL: "https://couch.test"})
	require.ErrorIs(t, err, domain.ErrIncompleteSession)

	descriptor := domain.SessionDescriptor{URL: "https://couch.test", DBName: "db", Login: "l", Token: "t", OwnerID: "o"}
	built, err := store.Build(descriptor)
	require.NoError(t, err)
	assert.Same(t, store, built)

	n, last := store.Builds()
	assert.Equal(t, 1, n)
	assert.Equal(t, descriptor, last)
}
