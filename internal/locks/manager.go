package locks

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/veritas-maps/veritas/internal/coordination"
	"go.uber.org/zap"
)

const (
	// keyPrefix namespaces lock keys inside the shared coordination store.
	keyPrefix = "lock:"
	// DefaultTTL bounds how long an abandoned lock can block a resource.
	DefaultTTL = 300 * time.Second
)

var (
	errMissingStore = errors.New("locks: coordination store is required")
	noOpLogger      = zap.NewNop()
)

// ManagerConfig describes the dependencies of the lock manager.
type ManagerConfig struct {
	Store  coordination.Store
	TTL    time.Duration
	Logger *zap.Logger
}

// Manager grants mutual-exclusion locks over editable resources. Every lock
// is single-resource, non-nested and TTL-bounded, so a crashed holder can
// never block a resource past the TTL.
//
// Storage failures never propagate to callers: Acquire fails closed (the
// lock is reported as not granted) and Release and Inspect fail soft (the
// lock is reported as not held). Blocking a questionable edit is preferred
// over permitting a silent double edit.
type Manager struct {
	store  coordination.Store
	ttl    time.Duration
	logger *zap.Logger
}

// NewManager constructs a Manager around the provided coordination store.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Manager{store: cfg.Store, ttl: ttl, logger: logger}, nil
}

// TTL exposes the configured lock lifetime.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Acquire attempts to grant the lock on resource to holder. The grant is a
// single atomic set-if-absent in the store; re-acquisition by the current
// holder refreshes the TTL instead of failing.
func (m *Manager) Acquire(ctx context.Context, resource, holder string) bool {
	if strings.TrimSpace(resource) == "" || strings.TrimSpace(holder) == "" {
		return false
	}

	key := lockKey(resource)
	created, err := m.store.SetIfAbsent(ctx, key, holder, m.ttl)
	if err != nil {
		m.logger.Warn("lock acquire failed, treating as not acquired",
			zap.String("resource", resource),
			zap.String("holder", holder),
			zap.Error(err))
		return false
	}
	if created {
		return true
	}

	current, err := m.store.Get(ctx, key)
	if err != nil || current != holder {
		return false
	}
	if _, err := m.store.Expire(ctx, key, m.ttl); err != nil {
		m.logger.Warn("lock ttl refresh failed",
			zap.String("resource", resource),
			zap.String("holder", holder),
			zap.Error(err))
	}
	return true
}

// Release removes the lock on resource only when holder currently owns it.
// A stale release from a previous holder leaves a newer lock intact.
func (m *Manager) Release(ctx context.Context, resource, holder string) bool {
	if strings.TrimSpace(resource) == "" || strings.TrimSpace(holder) == "" {
		return false
	}

	removed, err := m.store.DeleteIfValue(ctx, lockKey(resource), holder)
	if err != nil {
		m.logger.Warn("lock release failed, treating as not held",
			zap.String("resource", resource),
			zap.String("holder", holder),
			zap.Error(err))
		return false
	}
	return removed
}

// Inspect returns the current holder of resource without granting the lock,
// or ok=false when the resource is unlocked.
func (m *Manager) Inspect(ctx context.Context, resource string) (string, bool) {
	holder, err := m.store.Get(ctx, lockKey(resource))
	if errors.Is(err, coordination.ErrKeyNotFound) {
		return "", false
	}
	if err != nil {
		m.logger.Warn("lock inspect failed, treating as absent",
			zap.String("resource", resource),
			zap.Error(err))
		return "", false
	}
	return holder, true
}

func lockKey(resource string) string {
	return keyPrefix + resource
}
