// internal/domain/locker.go
package domain

import (
	"context"
	"errors"
)

// ErrLockNotAcquired reports that the caller gave up waiting for a lock held
// by someone else, e.g. a second producer on the same channel key.
var ErrLockNotAcquired = errors.New("lock not acquired")

// Unlocker releases a held lock.
type Unlocker interface {
	Unlock(ctx context.Context) error
}

// Locker grants exclusive ownership of a named resource across processes.
// Lock blocks until the lock is held or ctx ends.
type Locker interface {
	Lock(ctx context.Context, name string) (Unlocker, error)
}
