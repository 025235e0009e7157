// Package session caches the upstream session shared by every request.
//
// The cache holds either nothing or one complete *domain.Session. State is
// replaced wholesale under a lock and never edited field by field, so readers
// can not observe a descriptor paired with the wrong client. Handshakes for
// the default credentials are coalesced with singleflight: concurrent callers
// that find the cache empty wait for one shared handshake.
package session

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/duynhne/budget-proxy/internal/core/domain"
	"github.com/duynhne/budget-proxy/internal/core/handshake"
	"github.com/duynhne/budget-proxy/internal/logger"
	"github.com/duynhne/budget-proxy/middleware"
)

// Cookie names handed back to browsers after an explicit login.
const (
	SessionTokenCookie = "__Secure-next-auth.session-token"
	CSRFTokenCookie    = "__Host-next-auth.csrf-token"
)

const defaultFlightKey = "default-credentials"

// Handshaker runs the upstream login protocol.
// *handshake.Engine is the production implementation.
type Handshaker interface {
	Authenticate(ctx context.Context, creds domain.Credentials) (*domain.Session, error)
	SignIn(ctx context.Context, creds domain.Credentials) (*handshake.Attempt, error)
}

// replacePolicy decides how the outcome of a handshake lands in the cache.
type replacePolicy int

const (
	// keepOnFailure installs a successful session and leaves the cache
	// untouched on failure. A session installed by a newer handshake while
	// this one was in flight is kept.
	keepOnFailure replacePolicy = iota

	// clearOnFailure installs a successful session and empties the cache on
	// failure, so no credential-less transport is left behind.
	clearOnFailure
)

// Cache is the process-wide session provider.
type Cache struct {
	handshaker Handshaker
	defaults   domain.Credentials

	mu         sync.RWMutex
	current    *domain.Session
	generation uint64

	flights singleflight.Group
}

var _ domain.SessionProvider = (*Cache)(nil)

// New returns an empty cache that authenticates with defaults on demand.
func New(handshaker Handshaker, defaults domain.Credentials) *Cache {
	return &Cache{
		handshaker: handshaker,
		defaults:   defaults,
	}
}

// Current returns the cached session, running one shared handshake with the
// default credentials when the cache is empty. On failure the cache keeps
// its prior state and the handshake error is returned.
func (c *Cache) Current(ctx context.Context) (*domain.Session, error) {
	if s := c.Cached(); s != nil {
		middleware.SessionCacheLookups.WithLabelValues("hit").Inc()
		return s, nil
	}
	middleware.SessionCacheLookups.WithLabelValues("miss").Inc()

	if c.defaults.Empty() {
		return nil, fmt.Errorf("authenticate: %w", domain.ErrMissingCredentials)
	}

	// The flight outlives any single caller; each step carries its own timeout.
	flightCtx := context.WithoutCancel(ctx)
	ch := c.flights.DoChan(defaultFlightKey, func() (any, error) {
		if s := c.Cached(); s != nil {
			return s, nil
		}
		return c.authenticate(flightCtx)
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("wait for handshake: %w", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*domain.Session), nil
	}
}

func (c *Cache) authenticate(ctx context.Context) (*domain.Session, error) {
	ctx, span := middleware.StartSpan(ctx, "session.authenticate", trace.WithAttributes(
		attribute.String("layer", "core"),
		attribute.String("trigger", "implicit"),
	))
	defer span.End()

	start := c.currentGeneration()
	log := logger.FromContext(ctx)
	log.Info().Msg("No cached upstream session, starting handshake")

	s, err := c.handshaker.Authenticate(ctx, c.defaults)
	installed := c.commit(keepOnFailure, start, s, err)
	if err != nil {
		span.RecordError(err)
		middleware.HandshakesTotal.WithLabelValues("implicit", "failure").Inc()
		log.Error().Err(err).Msg("Upstream handshake failed")
		return nil, fmt.Errorf("authenticate: %w", err)
	}

	middleware.HandshakesTotal.WithLabelValues("implicit", "success").Inc()
	log.Info().Str("owner_id", installed.Descriptor.OwnerID).Msg("Upstream session cached")
	return installed, nil
}

// Login always runs a fresh handshake with creds, returning the session and
// anti-forgery cookies to hand to the caller's browser. The resulting session
// replaces the cache; if sign-in succeeded but the session step failed, the
// cache is emptied and the cookies are still returned.
func (c *Cache) Login(ctx context.Context, creds domain.Credentials) ([]*http.Cookie, error) {
	ctx, span := middleware.StartSpan(ctx, "session.login", trace.WithAttributes(
		attribute.String("layer", "core"),
		attribute.String("trigger", "explicit"),
	))
	defer span.End()

	log := logger.FromContext(ctx)

	attempt, err := c.handshaker.SignIn(ctx, creds)
	if err != nil {
		span.RecordError(err)
		middleware.HandshakesTotal.WithLabelValues("explicit", "failure").Inc()
		return nil, fmt.Errorf("login: %w", err)
	}

	cookies := browserCookies(attempt.Cookies())
	if !hasCookie(cookies, SessionTokenCookie) {
		middleware.HandshakesTotal.WithLabelValues("explicit", "failure").Inc()
		return nil, fmt.Errorf("login: %w", domain.ErrSessionCookieMissing)
	}

	s, err := attempt.FetchSession(ctx)
	c.commit(clearOnFailure, 0, s, err)
	if err != nil {
		span.RecordError(err)
		middleware.HandshakesTotal.WithLabelValues("explicit", "partial").Inc()
		log.Warn().Err(err).Msg("Logged in but replication data unavailable, session cache cleared")
		return cookies, nil
	}

	middleware.HandshakesTotal.WithLabelValues("explicit", "success").Inc()
	log.Info().Str("owner_id", s.Descriptor.OwnerID).Msg("Explicit login replaced cached session")
	return cookies, nil
}

// Invalidate empties the cache if it still holds stale. A session installed
// after stale was handed out is left alone.
func (c *Cache) Invalidate(stale *domain.Session) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if stale == nil || c.current != stale {
		return false
	}
	c.current = nil
	c.generation++
	return true
}

// Cached returns the cached session without authenticating, or nil.
func (c *Cache) Cached() *domain.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

func (c *Cache) currentGeneration() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}

// commit applies a handshake outcome under policy and returns the session
// now in the cache, or nil.
func (c *Cache) commit(policy replacePolicy, startGeneration uint64, s *domain.Session, err error) *domain.Session {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil || s == nil {
		if policy == clearOnFailure {
			c.current = nil
			c.generation++
		}
		return c.current
	}

	if policy == keepOnFailure && c.generation != startGeneration && c.current != nil {
		return c.current
	}
	c.current = s
	c.generation++
	return s
}

// browserCookies keeps the session and anti-forgery cookies, rewritten to be
// host-only for this service.
func browserCookies(cookies []*http.Cookie) []*http.Cookie {
	out := make([]*http.Cookie, 0, 2)
	for _, c := range cookies {
		if c.Name != SessionTokenCookie && c.Name != CSRFTokenCookie {
			continue
		}
		out = append(out, &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Path:     pathOrRoot(c.Path),
			Expires:  c.Expires,
			MaxAge:   c.MaxAge,
			Secure:   c.Secure,
			HttpOnly: c.HttpOnly,
			SameSite: sameSiteOrLax(c.SameSite),
		})
	}
	return out
}

func hasCookie(cookies []*http.Cookie, name string) bool {
	for _, c := range cookies {
		if c.Name == name {
			return true
		}
	}
	return false
}

func pathOrRoot(p string) string {
	if p == "" {
		return "/"
	}
	return p
}

func sameSiteOrLax(mode http.SameSite) http.SameSite {
	switch mode {
	case http.SameSiteLaxMode, http.SameSiteStrictMode, http.SameSiteNoneMode:
		return mode
	default:
		return http.SameSiteLaxMode
	}
}
