package session_test

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duynhne/budget-proxy/internal/core/domain"
	"github.com/duynhne/budget-proxy/internal/core/handshake"
	"github.com/duynhne/budget-proxy/internal/core/handshake/handshaketest"
	"github.com/duynhne/budget-proxy/internal/core/session"
)

var validCreds = domain.Credentials{Email: handshaketest.Email, Password: handshaketest.Password}

type testFixture struct {
	upstream *handshaketest.Server
	engine   *handshake.Engine
	cache    *session.Cache
}

func setupTestFixture(t *testing.T, defaults domain.Credentials) *testFixture {
	t.Helper()

	upstream := handshaketest.NewServer(t)
	engine, err := handshake.New(handshake.Config{
		BaseURL:     upstream.URL,
		Locale:      "es-ES",
		StepTimeout: 5 * time.Second,
		Transport:   upstream.Transport(),
	})
	require.NoError(t, err)

	return &testFixture{
		upstream: upstream,
		engine:   engine,
		cache:    session.New(engine, defaults),
	}
}

// gatedHandshaker blocks Authenticate until release is closed.
// SignIn goes straight to the real engine.
type gatedHandshaker struct {
	*handshake.Engine

	release chan struct{}
	calls   atomic.Int32
}

func (g *gatedHandshaker) Authenticate(ctx context.Context, creds domain.Credentials) (*domain.Session, error) {
	g.calls.Add(1)
	<-g.release
	return g.Engine.Authenticate(ctx, creds)
}

func TestCurrent(t *testing.T) {
	t.Run("authenticates once and reuses the session", func(t *testing.T) {
		f := setupTestFixture(t, validCreds)

		first, err := f.cache.Current(context.Background())
		require.NoError(t, err)
		require.NoError(t, first.Descriptor.Validate())

		second, err := f.cache.Current(context.Background())
		require.NoError(t, err)

		assert.Same(t, first, second)
		assert.Equal(t, 1, f.upstream.Calls("/api/auth/csrf"))
		assert.Equal(t, 1, f.upstream.Calls("/api/auth/session"))
	})

	t.Run("concurrent callers share one handshake", func(t *testing.T) {
		f := setupTestFixture(t, validCreds)

		const callers = 16
		results := make([]*domain.Session, callers)
		var wg sync.WaitGroup
		for i := range callers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				s, err := f.cache.Current(context.Background())
				assert.NoError(t, err)
				results[i] = s
			}()
		}
		wg.Wait()

		for _, s := range results {
			assert.Same(t, results[0], s)
		}
		assert.Equal(t, 1, f.upstream.Calls("/api/auth/csrf"))
	})

	t.Run("rejected default credentials leave the cache empty", func(t *testing.T) {
		f := setupTestFixture(t, domain.Credentials{Email: handshaketest.Email, Password: "wrong"})

		_, err := f.cache.Current(context.Background())
		require.ErrorIs(t, err, domain.ErrLoginRejected)
		assert.Nil(t, f.cache.Cached())
	})

	t.Run("missing default credentials", func(t *testing.T) {
		f := setupTestFixture(t, domain.Credentials{})

		_, err := f.cache.Current(context.Background())
		require.ErrorIs(t, err, domain.ErrMissingCredentials)
		assert.Zero(t, f.upstream.Calls("/api/auth/csrf"))
	})

	t.Run("cancelled waiter does not abort the shared handshake", func(t *testing.T) {
		f := setupTestFixture(t, validCreds)
		gated := &gatedHandshaker{Engine: f.engine, release: make(chan struct{})}
		cache := session.New(gated, validCreds)

		ctx, cancel := context.WithCancel(context.Background())
		errs := make(chan error, 1)
		go func() {
			_, err := cache.Current(ctx)
			errs <- err
		}()

		require.Eventually(t, func() bool { return gated.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
		cancel()
		require.ErrorIs(t, <-errs, context.Canceled)

		close(gated.release)
		require.Eventually(t, func() bool { return cache.Cached() != nil }, 5*time.Second, 10*time.Millisecond)
	})

	t.Run("in-flight handshake yields to a newer explicit login", func(t *testing.T) {
		f := setupTestFixture(t, validCreds)
		gated := &gatedHandshaker{Engine: f.engine, release: make(chan struct{})}
		cache := session.New(gated, validCreds)

		got := make(chan *domain.Session, 1)
		go func() {
			s, err := cache.Current(context.Background())
			assert.NoError(t, err)
			got <- s
		}()
		require.Eventually(t, func() bool { return gated.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

		_, err := cache.Login(context.Background(), validCreds)
		require.NoError(t, err)
		explicit := cache.Cached()
		require.NotNil(t, explicit)

		close(gated.release)
		assert.Same(t, explicit, <-got)
		assert.Same(t, explicit, cache.Cached())
	})
}

func TestLogin(t *testing.T) {
	t.Run("returns browser cookies and replaces the cache", func(t *testing.T) {
		f := setupTestFixture(t, validCreds)

		implicit, err := f.cache.Current(context.Background())
		require.NoError(t, err)

		cookies, err := f.cache.Login(context.Background(), validCreds)
		require.NoError(t, err)
		require.Len(t, cookies, 2)

		byName := map[string]*http.Cookie{}
		for _, c := range cookies {
			byName[c.Name] = c
			assert.Empty(t, c.Domain)
			assert.Equal(t, "/", c.Path)
			assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
		}
		require.Contains(t, byName, session.SessionTokenCookie)
		require.Contains(t, byName, session.CSRFTokenCookie)
		assert.NotContains(t, byName, handshaketest.CallbackURLCookie)
		assert.True(t, byName[session.SessionTokenCookie].HttpOnly)

		replaced := f.cache.Cached()
		require.NotNil(t, replaced)
		assert.NotSame(t, implicit, replaced)
	})

	t.Run("rejected login leaves the cache untouched", func(t *testing.T) {
		f := setupTestFixture(t, validCreds)
		cached, err := f.cache.Current(context.Background())
		require.NoError(t, err)

		_, err = f.cache.Login(context.Background(), domain.Credentials{Email: handshaketest.Email, Password: "wrong"})
		require.ErrorIs(t, err, domain.ErrLoginRejected)
		assert.Same(t, cached, f.cache.Cached())
	})

	t.Run("missing session cookie", func(t *testing.T) {
		f := setupTestFixture(t, validCreds)
		f.upstream.OmitSessionCookie.Store(true)

		_, err := f.cache.Login(context.Background(), validCreds)
		require.ErrorIs(t, err, domain.ErrSessionCookieMissing)
		assert.Zero(t, f.upstream.Calls("/api/auth/session"))
	})

	t.Run("missing replication clears the cache but still returns cookies", func(t *testing.T) {
		f := setupTestFixture(t, validCreds)
		_, err := f.cache.Current(context.Background())
		require.NoError(t, err)

		f.upstream.OmitReplication.Store(true)
		cookies, err := f.cache.Login(context.Background(), validCreds)
		require.NoError(t, err)
		assert.Len(t, cookies, 2)
		assert.Nil(t, f.cache.Cached())
	})
}

func TestInvalidate(t *testing.T) {
	f := setupTestFixture(t, validCreds)

	stale, err := f.cache.Current(context.Background())
	require.NoError(t, err)

	assert.False(t, f.cache.Invalidate(nil))
	assert.True(t, f.cache.Invalidate(stale))
	assert.Nil(t, f.cache.Cached())
	assert.False(t, f.cache.Invalidate(stale), "second invalidate is a no-op")

	fresh, err := f.cache.Current(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, stale, fresh)
	assert.Equal(t, 2, f.upstream.Calls("/api/auth/csrf"))

	assert.False(t, f.cache.Invalidate(stale), "a stale session must not evict its replacement")
	assert.Same(t, fresh, f.cache.Cached())
}
