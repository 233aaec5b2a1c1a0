// Package coordination provides named mutual exclusion across processes
// with a non-blocking try-acquire.
package coordination

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"

	"github.com/oklog/ulid/v2"
)

const (
	BackendRedis  = "redis"
	BackendMemory = "memory"

	keyPrefix = "cloudkitty:lock:"
)

var (
	ErrNotStarted = errors.New("coordinator_not_started")
	ErrNotHeld    = errors.New("lock_not_held")
	ErrEmptyName  = errors.New("lock_name_empty")
)

type Lock interface {
	// Acquire with blocking=false returns immediately with false when the
	// lock is held elsewhere.
	Acquire(ctx context.Context, blocking bool) (bool, error)
	Release(ctx context.Context) error
}

// Coordinator is one member of the lock group. Each processing loop owns one.
type Coordinator interface {
	MemberID() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	// GetLock returns the backend key for name and a lock bound to this member.
	GetLock(name string) (string, Lock)
}

// Factory builds coordinator members that share one lock space.
type Factory interface {
	New() Coordinator
}

func lockKey(name string) string {
	sum := sha1.Sum([]byte(name))
	return keyPrefix + hex.EncodeToString(sum[:])
}

func newMemberID() string {
	return ulid.Make().String()
}
