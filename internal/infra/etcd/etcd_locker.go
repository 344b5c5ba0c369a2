// internal/infra/etcd/etcd_locker.go
package etcd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"distributed-matmul/internal/domain"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
)

// DefaultLockTTL is the session lease, in seconds, used when none is given.
const DefaultLockTTL = 10

type etcdLock struct {
	name    string
	mutex   *concurrency.Mutex
	session *concurrency.Session
	logger  *slog.Logger
}

// Unlock releases the mutex and closes the session, revoking its lease.
func (l *etcdLock) Unlock(ctx context.Context) error {
	defer l.session.Close()

	if err := l.mutex.Unlock(ctx); err != nil {
		return fmt.Errorf("failed to unlock %s: %w", l.name, err)
	}
	l.logger.Info("lock released", "lock", l.name)
	return nil
}

type etcdLocker struct {
	client *clientv3.Client
	ttl    int
	logger *slog.Logger
}

// NewEtcdLocker returns a domain.Locker built on etcd mutexes. A holder that
// dies loses the lock once its session lease of ttl seconds runs out.
func NewEtcdLocker(client *clientv3.Client, ttl int, logger *slog.Logger) domain.Locker {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &etcdLocker{
		client: client,
		ttl:    ttl,
		logger: logger.With("component", "etcd-locker"),
	}
}

// Lock waits for the mutex at name until ctx ends, then gives up with
// domain.ErrLockNotAcquired.
func (l *etcdLocker) Lock(ctx context.Context, name string) (domain.Unlocker, error) {
	session, err := concurrency.NewSession(l.client, concurrency.WithTTL(l.ttl))
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd session for lock %s: %w", name, err)
	}

	mutex := concurrency.NewMutex(session, name)
	err = mutex.TryLock(ctx)
	if err == nil {
		return l.held(name, mutex, session), nil
	}
	if !errors.Is(err, concurrency.ErrLocked) {
		_ = session.Close()
		return nil, fmt.Errorf("failed to acquire etcd lock %s: %w", name, err)
	}

	l.logger.Info("lock is held elsewhere, waiting", "lock", name)
	if err := mutex.Lock(ctx); err != nil {
		_ = session.Close()
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %s: %v", domain.ErrLockNotAcquired, name, ctx.Err())
		}
		return nil, fmt.Errorf("failed to acquire etcd lock %s: %w", name, err)
	}
	return l.held(name, mutex, session), nil
}

func (l *etcdLocker) held(name string, mutex *concurrency.Mutex, session *concurrency.Session) *etcdLock {
	l.logger.Info("lock acquired", "lock", name, "lease_id", session.Lease())
	return &etcdLock{name: name, mutex: mutex, session: session, logger: l.logger}
}
