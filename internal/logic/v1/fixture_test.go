package v1_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/duynhne/budget-proxy/internal/core/domain"
	"github.com/duynhne/budget-proxy/internal/core/repository/memstore"
	logicv1 "github.com/duynhne/budget-proxy/internal/logic/v1"
)

var fixedNow = time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)

const fixedNowStamp = "2024-03-01T12:30:00.000Z"

func testDescriptor() domain.SessionDescriptor {
	return domain.SessionDescriptor{
		URL:     "https://couch.example.test",
		DBName:  "bb-owner-1",
		Login:   "couch-login",
		Token:   "couch-token",
		OwnerID: "owner-1",
	}
}

// fakeSessions hands out one session at a time; Invalidate swaps in a new one.
type fakeSessions struct {
	mu      sync.Mutex
	current *domain.Session
	err     error

	currentCalls  atomic.Int32
	invalidations atomic.Int32
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{current: &domain.Session{Descriptor: testDescriptor()}}
}

func (f *fakeSessions) Current(context.Context) (*domain.Session, error) {
	f.currentCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.current, nil
}

func (f *fakeSessions) Invalidate(stale *domain.Session) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if stale != f.current {
		return false
	}
	f.invalidations.Add(1)
	f.current = &domain.Session{Descriptor: testDescriptor()}
	return true
}

// storeFactory adapts a function to domain.StoreFactory.
type storeFactory func(domain.SessionDescriptor) (domain.DocumentStore, error)

func (f storeFactory) Build(d domain.SessionDescriptor) (domain.DocumentStore, error) { return f(d) }

func staticFactory(store domain.DocumentStore) domain.StoreFactory {
	return storeFactory(func(domain.SessionDescriptor) (domain.DocumentStore, error) { return store, nil })
}

type testFixture struct {
	sessions   *fakeSessions
	store      *memstore.Store
	accounts   *logicv1.EntityService
	records    *logicv1.EntityService
	categories *logicv1.EntityService
	labels     *logicv1.EntityService
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()

	sessions := newFakeSessions()
	store := memstore.New()
	var ids atomic.Int32
	opts := []logicv1.EntityServiceOption{
		logicv1.WithNowTime(func() time.Time { return fixedNow }),
		logicv1.WithIDGenerator(func() string {
			return fmt.Sprintf("id-%d", ids.Add(1))
		}),
	}

	return &testFixture{
		sessions:   sessions,
		store:      store,
		accounts:   logicv1.NewAccountService(sessions, store, opts...),
		records:    logicv1.NewRecordService(sessions, store, opts...),
		categories: logicv1.NewCategoryService(sessions, store, opts...),
		labels:     logicv1.NewLabelService(sessions, store, opts...),
	}
}

// barrierStore holds every Get until n readers have arrived, so concurrent
// updates all read the same revision.
type barrierStore struct {
	*memstore.Store
	arrived sync.WaitGroup
}

func newBarrierStore(store *memstore.Store, n int) *barrierStore {
	b := &barrierStore{Store: store}
	b.arrived.Add(n)
	return b
}

func (b *barrierStore) Get(ctx context.Context, id string) (domain.Document, error) {
	doc, err := b.Store.Get(ctx, id)
	b.arrived.Done()
	b.arrived.Wait()
	return doc, err
}

// duplicatingStore returns every document twice from AllDocs.
type duplicatingStore struct {
	*memstore.Store
}

func (d duplicatingStore) AllDocs(ctx context.Context) ([]domain.Document, error) {
	docs, err := d.Store.AllDocs(ctx)
	if err != nil {
		return nil, err
	}
	return append(docs, docs...), nil
}
