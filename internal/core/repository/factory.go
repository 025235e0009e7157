// Package repository implements domain.DocumentStore on CouchDB using kivik.
package repository

import (
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-kivik/kivik/v4"
	"github.com/go-kivik/kivik/v4/couchdb"
	"github.com/rs/zerolog/log"

	"github.com/duynhne/budget-proxy/internal/core/domain"
)

const defaultOperationTimeout = 30 * time.Second

// FactoryConfig configures a StoreFactory.
type FactoryConfig struct {
	// Timeout bounds each store operation. Zero means 30s.
	Timeout time.Duration
	// Transport carries store requests. Nil means http.DefaultTransport.
	Transport http.RoundTripper
}

// StoreFactory builds CouchDB-backed stores from session descriptors and
// reuses the last client while the descriptor is unchanged.
type StoreFactory struct {
	timeout   time.Duration
	transport http.RoundTripper

	mu         sync.Mutex
	descriptor domain.SessionDescriptor
	client     *kivik.Client
	store      *CouchDocumentStore
}

var _ domain.StoreFactory = (*StoreFactory)(nil)

// NewStoreFactory creates a StoreFactory.
func NewStoreFactory(cfg FactoryConfig) *StoreFactory {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultOperationTimeout
	}
	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &StoreFactory{timeout: timeout, transport: transport}
}

// Build returns a store for the descriptor's database. It makes no network
// call; an incomplete descriptor fails with domain.ErrIncompleteSession.
func (f *StoreFactory) Build(descriptor domain.SessionDescriptor) (domain.DocumentStore, error) {
	if err := descriptor.Validate(); err != nil {
		return nil, fmt.Errorf("build store: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.store != nil && f.descriptor == descriptor {
		return f.store, nil
	}

	dsn, err := storeDSN(descriptor)
	if err != nil {
		return nil, fmt.Errorf("build store: %w", err)
	}
	httpClient := &http.Client{
		Transport: &refererTransport{referer: descriptor.URL, base: f.transport},
	}
	client, err := kivik.New("couch", dsn, couchdb.OptionHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("build store: create client: %w", err)
	}
	db := client.DB(descriptor.DBName)
	if err := db.Err(); err != nil {
		return nil, fmt.Errorf("build store: open database %q: %w", descriptor.DBName, err)
	}

	if f.client != nil {
		if err := f.client.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close previous store client")
		}
	}
	f.descriptor = descriptor
	f.client = client
	f.store = NewCouchDocumentStore(db, f.timeout)
	return f.store, nil
}

// Close releases the current client, if any.
func (f *StoreFactory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.client == nil {
		return nil
	}
	err := f.client.Close()
	f.client, f.store = nil, nil
	return err
}

// storeDSN places the descriptor's login and token in the URL authority.
func storeDSN(d domain.SessionDescriptor) (string, error) {
	u, err := url.Parse(d.URL)
	if err != nil {
		return "", fmt.Errorf("parse store URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("store URL %q is not absolute: %w", d.URL, domain.ErrIncompleteSession)
	}
	u.User = url.UserPassword(d.Login, d.Token)
	return u.String(), nil
}

// refererTransport stamps every store request with a fixed Referer.
type refererTransport struct {
	referer string
	base    http.RoundTripper
}

func (t *refererTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.Header.Set("Referer", t.referer)
	return t.base.RoundTrip(r)
}
