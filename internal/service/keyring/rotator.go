// Package keyring rotates provider API keys and quarantines failing ones.
//
// Rotation state (the round-robin index) and quarantine marks live in Redis
// so that every worker process observes the same credential health. A
// quarantine mark is a Redis key with a one hour TTL: once it expires the
// credential is healthy again without any explicit clearing.
package keyring

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hivewriter/content-motor/internal/domain"
	"github.com/hivewriter/content-motor/internal/observability"
)

// QuarantineTTL is how long a failed credential stays out of rotation.
const QuarantineTTL = time.Hour

// Rotator selects credentials round-robin among the currently healthy
// subset of each provider's key pool.
type Rotator struct {
	rdb       *redis.Client
	namespace string
	creds     map[string][]domain.Credential
	now       func() time.Time
}

// New builds a Rotator for the given provider credential pools. Every
// provider must have at least one credential; a provider with none is a
// startup misconfiguration and yields domain.ErrNoCredentials.
func New(rdb *redis.Client, providers []domain.Provider) (*Rotator, error) {
	creds := make(map[string][]domain.Credential, len(providers))
	for _, p := range providers {
		if len(p.Credentials) == 0 {
			return nil, fmt.Errorf("op=keyring.New provider=%s: %w", p.Name, domain.ErrNoCredentials)
		}
		creds[p.Name] = p.Credentials
	}
	return &Rotator{
		rdb:       rdb,
		namespace: "keyring",
		creds:     creds,
		now:       time.Now,
	}, nil
}

func (r *Rotator) idxKey(provider string) string {
	return fmt.Sprintf("%s:%s:idx", r.namespace, provider)
}

func (r *Rotator) quarantineKey(provider string, position int) string {
	return fmt.Sprintf("%s:%s:quarantine:%d", r.namespace, provider, position)
}

// Acquire returns the next healthy credential for the provider. The
// rotation index is a shared Redis counter advanced atomically, wrapped
// modulo the current healthy-set size.
func (r *Rotator) Acquire(ctx context.Context, provider string) (domain.Credential, error) {
	pool, ok := r.creds[provider]
	if !ok {
		return domain.Credential{}, fmt.Errorf("op=keyring.Acquire: unknown provider %q", provider)
	}

	keys := make([]string, len(pool))
	for i, c := range pool {
		keys[i] = r.quarantineKey(provider, c.Position)
	}
	marks, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return domain.Credential{}, fmt.Errorf("op=keyring.Acquire provider=%s: %w", provider, err)
	}

	healthy := make([]domain.Credential, 0, len(pool))
	for i, c := range pool {
		if marks[i] == nil {
			healthy = append(healthy, c)
		}
	}
	if len(healthy) == 0 {
		slog.Warn("no active keys available", slog.String("provider", provider))
		return domain.Credential{}, fmt.Errorf("op=keyring.Acquire provider=%s: %w", provider, domain.ErrCredentialExhausted)
	}

	idx, err := r.rdb.Incr(ctx, r.idxKey(provider)).Result()
	if err != nil {
		return domain.Credential{}, fmt.Errorf("op=keyring.Acquire provider=%s: %w", provider, err)
	}
	cred := healthy[int((idx-1)%int64(len(healthy)))]
	slog.Debug("credential acquired",
		slog.String("provider", provider),
		slog.Int("position", cred.Position),
		slog.Int("healthy", len(healthy)))
	return cred, nil
}

// ReleaseFailure quarantines the credential for QuarantineTTL and advances
// the rotation index so the next Acquire skips ahead immediately.
func (r *Rotator) ReleaseFailure(ctx context.Context, cred domain.Credential, reason error) {
	pipe := r.rdb.Pipeline()
	pipe.Set(ctx, r.quarantineKey(cred.Provider, cred.Position), r.now().Unix(), QuarantineTTL)
	pipe.Incr(ctx, r.idxKey(cred.Provider))
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Error("failed to quarantine credential",
			slog.String("provider", cred.Provider),
			slog.Int("position", cred.Position),
			slog.Any("error", err))
		return
	}
	observability.CredentialQuarantinesTotal.WithLabelValues(cred.Provider).Inc()
	slog.Warn("credential quarantined",
		slog.String("provider", cred.Provider),
		slog.Int("position", cred.Position),
		slog.Duration("ttl", QuarantineTTL),
		slog.Any("reason", reason))
}

// ReleaseSuccess clears any quarantine mark on the credential. A no-op for
// an already healthy credential.
func (r *Rotator) ReleaseSuccess(ctx context.Context, cred domain.Credential) {
	if err := r.rdb.Del(ctx, r.quarantineKey(cred.Provider, cred.Position)).Err(); err != nil {
		slog.Error("failed to clear credential quarantine",
			slog.String("provider", cred.Provider),
			slog.Int("position", cred.Position),
			slog.Any("error", err))
	}
}

// HealthyCount reports how many credentials of the provider are currently
// in rotation. Used by the ops endpoints.
func (r *Rotator) HealthyCount(ctx context.Context, provider string) (int, error) {
	pool, ok := r.creds[provider]
	if !ok {
		return 0, fmt.Errorf("op=keyring.HealthyCount: unknown provider %q", provider)
	}
	keys := make([]string, len(pool))
	for i, c := range pool {
		keys[i] = r.quarantineKey(provider, c.Position)
	}
	marks, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("op=keyring.HealthyCount provider=%s: %w", provider, err)
	}
	n := 0
	for _, m := range marks {
		if m == nil {
			n++
		}
	}
	return n, nil
}

// Providers lists the provider names known to the rotator.
func (r *Rotator) Providers() []string {
	names := make([]string, 0, len(r.creds))
	for name := range r.creds {
		names = append(names, name)
	}
	return names
}
