package v1

import (
	"context"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/duynhne/budget-proxy/internal/core/domain"
	"github.com/duynhne/budget-proxy/middleware"
)

// SessionLogin runs an explicit upstream login.
// *session.Cache is the production implementation.
type SessionLogin interface {
	Login(ctx context.Context, creds domain.Credentials) ([]*http.Cookie, error)
}

// AuthService implements the explicit login use case.
// It MUST NOT touch the upstream directly; the session layer owns that.
type AuthService struct {
	sessions SessionLogin
}

// NewAuthService creates a new AuthService.
func NewAuthService(sessions SessionLogin) *AuthService {
	return &AuthService{sessions: sessions}
}

// Login signs in with the caller's credentials, replacing the cached
// session, and returns the cookies to forward to the caller.
func (s *AuthService) Login(ctx context.Context, req domain.LoginRequest) ([]*http.Cookie, error) {
	ctx, span := middleware.StartSpan(ctx, "auth.login", trace.WithAttributes(
		attribute.String("layer", "logic"),
	))
	defer span.End()

	cookies, err := s.sessions.Login(ctx, req.Credentials())
	if err != nil {
		span.SetAttributes(attribute.Bool("auth.success", false))
		span.RecordError(err)
		return nil, fmt.Errorf("login: %w", err)
	}

	span.SetAttributes(
		attribute.Bool("auth.success", true),
		attribute.Int("cookies.count", len(cookies)),
	)
	span.AddEvent("user.authenticated")
	return cookies, nil
}
