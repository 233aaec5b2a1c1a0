package coordination

import (
	"context"
	"sync"
	"time"
)

// MemoryFactory shares one lock table between every member it creates;
// it coordinates goroutines of a single process only.
type MemoryFactory struct {
	mu    sync.Mutex
	owner map[string]string
}

func NewMemoryFactory() *MemoryFactory {
	return &MemoryFactory{owner: make(map[string]string)}
}

func (f *MemoryFactory) New() Coordinator {
	return &MemoryCoordinator{f: f, member: newMemberID()}
}

func (f *MemoryFactory) acquire(key, member string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, held := f.owner[key]; held {
		return false
	}
	f.owner[key] = member
	return true
}

func (f *MemoryFactory) release(key, member string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.owner[key] != member {
		return false
	}
	delete(f.owner, key)
	return true
}

func (f *MemoryFactory) releaseAll(member string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for key, owner := range f.owner {
		if owner == member {
			delete(f.owner, key)
		}
	}
}

type MemoryCoordinator struct {
	f      *MemoryFactory
	member string

	mu      sync.Mutex
	started bool
}

func (c *MemoryCoordinator) MemberID() string { return c.member }

func (c *MemoryCoordinator) Start(context.Context) error {
	c.mu.Lock()
	c.started = true
	c.mu.Unlock()
	return nil
}

// Stop drops every lock the member still holds.
func (c *MemoryCoordinator) Stop(context.Context) error {
	c.mu.Lock()
	c.started = false
	c.mu.Unlock()
	c.f.releaseAll(c.member)
	return nil
}

func (c *MemoryCoordinator) GetLock(name string) (string, Lock) {
	key := lockKey(name)
	return key, &memoryLock{c: c, name: name, key: key}
}

type memoryLock struct {
	c    *MemoryCoordinator
	name string
	key  string
}

func (l *memoryLock) Acquire(ctx context.Context, blocking bool) (bool, error) {
	if l.name == "" {
		return false, ErrEmptyName
	}
	l.c.mu.Lock()
	started := l.c.started
	l.c.mu.Unlock()
	if !started {
		return false, ErrNotStarted
	}

	for {
		if l.c.f.acquire(l.key, l.c.member) {
			return true, nil
		}
		if !blocking {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(blockingRetryInterval):
		}
	}
}

func (l *memoryLock) Release(context.Context) error {
	if !l.c.f.release(l.key, l.c.member) {
		return ErrNotHeld
	}
	return nil
}
