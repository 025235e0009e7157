package domain

import (
	"fmt"
	"net/http"
	"strings"
)

// Credentials identify a BudgetBakers user.
type Credentials struct {
	Email    string
	Password string
}

// Empty reports whether either credential is missing.
func (c Credentials) Empty() bool {
	return c.Email == "" || c.Password == ""
}

// SessionDescriptor holds the CouchDB replication credentials handed out by
// the upstream session endpoint.
type SessionDescriptor struct {
	URL     string `json:"url"`
	DBName  string `json:"dbName"`
	Login   string `json:"login"`
	Token   string `json:"token"`
	OwnerID string `json:"ownerId"`
}

// Validate returns ErrIncompleteSession naming every empty field.
func (d SessionDescriptor) Validate() error {
	var missing []string
	for _, f := range []struct{ name, value string }{
		{"url", d.URL},
		{"dbName", d.DBName},
		{"login", d.Login},
		{"token", d.Token},
		{"ownerId", d.OwnerID},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrIncompleteSession, strings.Join(missing, ", "))
	}
	return nil
}

// Session is the result of a complete handshake: the descriptor, the
// anti-forgery token and the cookie-bearing client that obtained them.
// A Session is never mutated after construction.
type Session struct {
	Descriptor SessionDescriptor
	CSRFToken  string
	Client     *http.Client
}
