// Package handshake replays the BudgetBakers web login flow to obtain CouchDB
// replication credentials.
//
// The flow has three ordered steps, all issued through one cookie-bearing
// client created for the attempt:
//
//  1. GET  /api/auth/csrf                 → anti-forgery token
//  2. POST /api/auth/callback/sign-in     → session cookies
//  3. GET  /api/auth/session              → user.replication descriptor
//
// A failure at any step aborts the attempt and its client is discarded.
// The engine never touches shared state; caching is the caller's concern.
package handshake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/duynhne/budget-proxy/internal/core/domain"
	"github.com/duynhne/budget-proxy/internal/logger"
	"github.com/duynhne/budget-proxy/middleware"
)

const (
	csrfPath    = "/api/auth/csrf"
	signInPath  = "/api/auth/callback/sign-in"
	sessionPath = "/api/auth/session"

	// maxBodySize bounds upstream response reads.
	maxBodySize int64 = 1 << 20

	defaultStepTimeout = 15 * time.Second
)

// Config configures an Engine.
type Config struct {
	// BaseURL is the web application origin, e.g. "https://web-new.budgetbakers.com".
	BaseURL string
	// Locale selects the localized login and dashboard pages used as referers.
	Locale string
	// StepTimeout bounds each of the three requests. Zero means 15s.
	StepTimeout time.Duration
	// Transport carries every request. Nil means http.DefaultTransport.
	Transport http.RoundTripper
}

// Engine runs handshakes against one upstream.
type Engine struct {
	baseURL     string
	locale      string
	stepTimeout time.Duration
	transport   http.RoundTripper
}

// New validates cfg and returns an Engine.
func New(cfg Config) (*Engine, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("handshake: invalid base URL %q", cfg.BaseURL)
	}
	if cfg.Locale == "" {
		return nil, errors.New("handshake: locale is required")
	}

	stepTimeout := cfg.StepTimeout
	if stepTimeout <= 0 {
		stepTimeout = defaultStepTimeout
	}
	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	return &Engine{
		baseURL:     base,
		locale:      cfg.Locale,
		stepTimeout: stepTimeout,
		transport:   transport,
	}, nil
}

// Authenticate runs all three steps and returns the resulting session.
func (e *Engine) Authenticate(ctx context.Context, creds domain.Credentials) (*domain.Session, error) {
	attempt, err := e.SignIn(ctx, creds)
	if err != nil {
		return nil, err
	}
	return attempt.FetchSession(ctx)
}

// SignIn runs the anti-forgery and credential steps on a fresh client.
// The returned Attempt is signed in but has not fetched its session yet.
func (e *Engine) SignIn(ctx context.Context, creds domain.Credentials) (*Attempt, error) {
	ctx, span := middleware.StartSpan(ctx, "handshake.sign_in", trace.WithAttributes(
		attribute.String("layer", "core"),
	))
	defer span.End()

	if creds.Empty() {
		return nil, fmt.Errorf("sign in: %w", domain.ErrMissingCredentials)
	}

	jar, err := newRecordingJar()
	if err != nil {
		return nil, fmt.Errorf("sign in: create cookie jar: %w", err)
	}
	attempt := &Attempt{
		engine: e,
		jar:    jar,
		client: &http.Client{Jar: jar, Transport: e.transport},
	}

	token, err := attempt.fetchCSRFToken(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	attempt.csrfToken = token

	if err := attempt.submitCredentials(ctx, creds); err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.AddEvent("handshake.signed_in")
	return attempt, nil
}

func (e *Engine) loginPageURL() string {
	return fmt.Sprintf("%s/%s/sign-in?callbackUrl=%%2Fdashboard", e.baseURL, e.locale)
}

func (e *Engine) dashboardURL() string {
	return fmt.Sprintf("%s/%s/dashboard", e.baseURL, e.locale)
}

// Attempt is one in-progress handshake and owns its cookie-bearing client.
type Attempt struct {
	engine    *Engine
	jar       *recordingJar
	client    *http.Client
	csrfToken string
}

// CSRFToken returns the anti-forgery token obtained in step 1.
func (a *Attempt) CSRFToken() string {
	return a.csrfToken
}

// Cookies returns copies of every live cookie the upstream set during the attempt,
// with the attributes from its Set-Cookie header.
func (a *Attempt) Cookies() []*http.Cookie {
	return a.jar.recorded()
}

// FetchSession runs step 3 and returns the complete session.
func (a *Attempt) FetchSession(ctx context.Context) (*domain.Session, error) {
	ctx, span := middleware.StartSpan(ctx, "handshake.fetch_session", trace.WithAttributes(
		attribute.String("layer", "core"),
	))
	defer span.End()

	status, body, err := a.do(ctx, http.MethodGet, sessionPath, nil, http.Header{
		"Referer": {a.engine.dashboardURL()},
		"Accept":  {"application/json"},
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("fetch session: upstream status %d: %w", status, domain.ErrSessionDataMissing)
	}

	var payload struct {
		User *struct {
			Replication *domain.SessionDescriptor `json:"replication"`
		} `json:"user"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("fetch session: decode body: %w: %w", domain.ErrSessionDataMissing, err)
	}
	if payload.User == nil || payload.User.Replication == nil {
		return nil, fmt.Errorf("fetch session: %w", domain.ErrSessionDataMissing)
	}

	descriptor := *payload.User.Replication
	if err := descriptor.Validate(); err != nil {
		return nil, fmt.Errorf("fetch session: %w: %w", domain.ErrSessionDataMissing, err)
	}

	logger.FromContext(ctx).Debug().
		Str("db_name", descriptor.DBName).
		Str("owner_id", descriptor.OwnerID).
		Msg("Replication credentials obtained")

	return &domain.Session{
		Descriptor: descriptor,
		CSRFToken:  a.csrfToken,
		Client:     a.client,
	}, nil
}

func (a *Attempt) fetchCSRFToken(ctx context.Context) (string, error) {
	status, body, err := a.do(ctx, http.MethodGet, csrfPath, nil, http.Header{
		"Referer": {a.engine.loginPageURL()},
		"Accept":  {"application/json"},
	})
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("fetch csrf token: upstream status %d: %w", status, domain.ErrTokenMissing)
	}

	var payload struct {
		CSRFToken string `json:"csrfToken"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.CSRFToken == "" {
		return "", fmt.Errorf("fetch csrf token: %w", domain.ErrTokenMissing)
	}
	return payload.CSRFToken, nil
}

func (a *Attempt) submitCredentials(ctx context.Context, creds domain.Credentials) error {
	form := url.Values{
		"callbackUrl": {"/" + a.engine.locale + "/dashboard"},
		"redirect":    {"false"},
		"email":       {creds.Email},
		"password":    {creds.Password},
		"csrfToken":   {a.csrfToken},
		"json":        {"true"},
	}

	status, body, err := a.do(ctx, http.MethodPost, signInPath, strings.NewReader(form.Encode()), http.Header{
		"Content-Type": {"application/x-www-form-urlencoded"},
		"Origin":       {a.engine.baseURL},
		"Referer":      {a.engine.loginPageURL()},
	})
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("submit credentials: %w", &domain.LoginRejectedError{
			StatusCode: status,
			Body:       string(body),
		})
	}
	return nil
}

// do issues one step under the engine's step timeout. Network failures and
// timeouts are reported as domain.ErrTransport.
func (a *Attempt) do(ctx context.Context, method, path string, body io.Reader, header http.Header) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, a.engine.stepTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, a.engine.baseURL+path, body)
	if err != nil {
		return 0, nil, fmt.Errorf("%s %s: build request: %w", method, path, err)
	}
	for name, values := range header {
		req.Header[name] = values
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%s %s: %w: %w", method, path, domain.ErrTransport, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return 0, nil, fmt.Errorf("%s %s: read body: %w: %w", method, path, domain.ErrTransport, err)
	}
	return resp.StatusCode, data, nil
}
