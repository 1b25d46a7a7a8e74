// Package lock keeps two projector runs from working on the same log at once.
package lock

import (
	"context"
	"errors"
)

// ErrLocked is returned by TryLock when another run holds the lock.
var ErrLocked = errors.New("run lock is held")

// Release gives a held lock back.
type Release func(ctx context.Context) error

// Locker is a non-blocking mutual exclusion lock shared across processes.
type Locker interface {
	TryLock(ctx context.Context) (Release, error)
}
