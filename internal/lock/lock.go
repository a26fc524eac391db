package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrLockAttemptFailed = errors.New("failed to acquire ledger lock")

// Manager grants short-lived exclusive leases scoped to a single ledger.
// Acquire never blocks: an empty token means another actor holds the lease.
// Leases expire on their own, so a crashed holder cannot wedge a ledger.
type Manager interface {
	Acquire(ctx context.Context, ledgerUUID string) (string, error)
	Release(ctx context.Context, ledgerUUID string) error
}

func lockKey(ledgerUUID string) string {
	return "ledger-lock:" + ledgerUUID
}

// RedisManager backs leases with SETNX + TTL, shared by every process that
// talks to the same redis.
type RedisManager struct {
	client redis.UniversalClient
	ttl    time.Duration
}

var _ Manager = (*RedisManager)(nil)

func NewRedisManager(client redis.UniversalClient, ttl time.Duration) *RedisManager {
	return &RedisManager{client: client, ttl: ttl}
}

func (m *RedisManager) Acquire(ctx context.Context, ledgerUUID string) (string, error) {
	token := uuid.NewString()
	ok, err := m.client.SetNX(ctx, lockKey(ledgerUUID), token, m.ttl).Result()
	if err != nil {
		return "", fmt.Errorf("acquire ledger lock: %w", err)
	}
	if !ok {
		return "", nil
	}
	return token, nil
}

func (m *RedisManager) Release(ctx context.Context, ledgerUUID string) error {
	if err := m.client.Del(ctx, lockKey(ledgerUUID)).Err(); err != nil {
		return fmt.Errorf("release ledger lock: %w", err)
	}
	return nil
}

// LocalManager implements the same lease semantics in process memory, for
// tests and single-instance deployments.
type LocalManager struct {
	mu     sync.Mutex
	ttl    time.Duration
	leases map[string]lease
	now    func() time.Time
}

type lease struct {
	token   string
	expires time.Time
}

var _ Manager = (*LocalManager)(nil)

func NewLocalManager(ttl time.Duration) *LocalManager {
	return &LocalManager{ttl: ttl, leases: make(map[string]lease), now: time.Now}
}

func (m *LocalManager) Acquire(ctx context.Context, ledgerUUID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if held, ok := m.leases[ledgerUUID]; ok && m.now().Before(held.expires) {
		return "", nil
	}
	token := uuid.NewString()
	m.leases[ledgerUUID] = lease{token: token, expires: m.now().Add(m.ttl)}
	return token, nil
}

func (m *LocalManager) Release(ctx context.Context, ledgerUUID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.leases, ledgerUUID)
	return nil
}

// WithLock runs fn while holding the ledger's lease. It fails fast with
// ErrLockAttemptFailed when another actor holds it and releases the lease on
// every exit path.
func WithLock(ctx context.Context, mgr Manager, ledgerUUID string, fn func(ctx context.Context) error) error {
	token, err := mgr.Acquire(ctx, ledgerUUID)
	if err != nil {
		return err
	}
	if token == "" {
		return fmt.Errorf("%w: ledger %s", ErrLockAttemptFailed, ledgerUUID)
	}
	defer func() {
		// Release with a fresh context so a canceled request still unlocks.
		_ = mgr.Release(context.Background(), ledgerUUID)
	}()
	return fn(ctx)
}
