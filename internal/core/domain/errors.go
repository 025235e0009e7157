package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by the handshake, session and store layers.
// Wrap them with fmt.Errorf("...: %w") to add context.
var (
	// ErrTokenMissing indicates the anti-forgery endpoint returned no token.
	ErrTokenMissing = errors.New("anti-forgery token missing")

	// ErrLoginRejected indicates the sign-in endpoint refused the credentials.
	// Returned errors are *LoginRejectedError values that match this sentinel.
	ErrLoginRejected = errors.New("login rejected")

	// ErrSessionDataMissing indicates the session endpoint carried no replication data.
	ErrSessionDataMissing = errors.New("session replication data missing")

	// ErrIncompleteSession indicates a session descriptor with empty fields.
	ErrIncompleteSession = errors.New("incomplete session descriptor")

	// ErrSessionCookieMissing indicates sign-in succeeded without a session cookie.
	ErrSessionCookieMissing = errors.New("session cookie missing after login")

	// ErrMissingCredentials indicates no default credentials are configured
	// for implicit sessions.
	ErrMissingCredentials = errors.New("default credentials not configured")

	// ErrTransport indicates a network failure or timeout talking to an upstream.
	ErrTransport = errors.New("transport failure")

	// ErrConflict indicates the store rejected a write because the revision is stale.
	ErrConflict = errors.New("document revision conflict")

	// ErrStoreUnauthorized indicates the store rejected the session credentials.
	ErrStoreUnauthorized = errors.New("document store rejected credentials")

	// ErrStoreWrite indicates a write the store refused for any other reason.
	ErrStoreWrite = errors.New("document store write failed")

	// ErrStoreRead indicates a read the store refused for any other reason.
	ErrStoreRead = errors.New("document store read failed")
)

// LoginRejectedError carries the upstream response of a refused sign-in.
type LoginRejectedError struct {
	StatusCode int
	Body       string
}

func (e *LoginRejectedError) Error() string {
	return fmt.Sprintf("login rejected: upstream status %d: %s", e.StatusCode, e.Body)
}

// Is makes errors.Is(err, ErrLoginRejected) match.
func (e *LoginRejectedError) Is(target error) bool {
	return target == ErrLoginRejected
}
