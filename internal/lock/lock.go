// Package lock provides named, expiring leases so that only one replica
// runs a given scheduled sweep at a time.
package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Release gives a lease back before it expires.
type Release func(ctx context.Context) error

// Locker hands out leases. Acquire returns ok=false, with no error, when
// another holder owns the lease.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (release Release, ok bool, err error)
}

// LocalLocker is an in-process Locker for single-replica deployments.
type LocalLocker struct {
	mu     sync.Mutex
	now    func() time.Time
	leases map[string]localLease
}

type localLease struct {
	token   string
	expires time.Time
}

// NewLocalLocker creates an empty LocalLocker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{now: time.Now, leases: make(map[string]localLease)}
}

// Acquire implements Locker.
func (l *LocalLocker) Acquire(_ context.Context, name string, ttl time.Duration) (Release, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if held, ok := l.leases[name]; ok && now.Before(held.expires) {
		return nil, false, nil
	}

	token := uuid.NewString()
	l.leases[name] = localLease{token: token, expires: now.Add(ttl)}

	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		// A lease that expired and was re-acquired belongs to someone else.
		if held, ok := l.leases[name]; ok && held.token == token {
			delete(l.leases, name)
		}
		return nil
	}, true, nil
}
