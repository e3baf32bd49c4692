package provider

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// CredentialSource resolves the vendor credentials for a clinic. The
// default implementation reads them from configuration; deployments
// with per-clinic vendor accounts plug in their own source.
type CredentialSource interface {
	CredentialsFor(ctx context.Context, clinicID uuid.UUID) (Credentials, error)
}

// StaticCredentials serves one credential set for every clinic.
type StaticCredentials struct {
	Creds Credentials
}

func (s StaticCredentials) CredentialsFor(context.Context, uuid.UUID) (Credentials, error) {
	return s.Creds, nil
}

// Registry hands out provider clients keyed by clinic. Clients are
// created lazily on first use and cached until evicted.
type Registry struct {
	source  CredentialSource
	timeout time.Duration

	mu      sync.Mutex
	clients map[uuid.UUID]*HTTPProvider
}

func NewRegistry(source CredentialSource, timeout time.Duration) *Registry {
	return &Registry{
		source:  source,
		timeout: timeout,
		clients: make(map[uuid.UUID]*HTTPProvider),
	}
}

// For returns the provider client for a clinic, building it on first
// use.
func (r *Registry) For(ctx context.Context, clinicID uuid.UUID) (Client, error) {
	r.mu.Lock()
	if p, ok := r.clients[clinicID]; ok {
		r.mu.Unlock()
		return p, nil
	}
	r.mu.Unlock()

	creds, err := r.source.CredentialsFor(ctx, clinicID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.clients[clinicID]; ok {
		return p, nil
	}
	p := NewHTTPProvider(creds, r.timeout)
	r.clients[clinicID] = p
	return p, nil
}

// Evict drops the cached client for a clinic, forcing the next For to
// re-resolve credentials. Called when a clinic's vendor settings
// change.
func (r *Registry) Evict(clinicID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, clinicID)
}
