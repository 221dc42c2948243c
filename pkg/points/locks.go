package points

import (
	"context"
	"sync"
)

// LockManager hands out one exclusive critical section per key.
//
// Sections are created on first Acquire and served strictly first come,
// first served: Release hands ownership directly to the oldest waiter.
// A section is dropped from the registry as soon as it has neither a holder
// nor a waiter, so the registry only grows with the number of active keys.
type LockManager struct {
	mu       sync.Mutex
	sections map[string]*criticalSection
}

type criticalSection struct {
	held    bool
	waiters []chan struct{}
	// refs counts the holder plus every queued waiter.
	refs int
}

// NewLockManager returns an empty LockManager.
func NewLockManager() *LockManager {
	return &LockManager{sections: make(map[string]*criticalSection)}
}

// Acquire blocks until the caller owns the critical section for key.
// It returns ctx.Err() without ownership when ctx ends while waiting.
func (manager *LockManager) Acquire(ctx context.Context, key string) error {
	manager.mu.Lock()
	section, ok := manager.sections[key]
	if !ok {
		section = &criticalSection{}
		manager.sections[key] = section
	}
	section.refs++
	if !section.held {
		section.held = true
		manager.mu.Unlock()
		return nil
	}
	ready := make(chan struct{})
	section.waiters = append(section.waiters, ready)
	manager.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
	}

	manager.mu.Lock()
	defer manager.mu.Unlock()
	for index, waiter := range section.waiters {
		if waiter == ready {
			section.waiters = append(section.waiters[:index], section.waiters[index+1:]...)
			manager.dropRef(key, section)
			return ctx.Err()
		}
	}
	// Ownership arrived together with the cancellation; pass it on.
	manager.handOff(key, section)
	return ctx.Err()
}

// Release gives up the critical section for key. It must be called exactly
// once per successful Acquire; releasing an unheld key panics.
func (manager *LockManager) Release(key string) {
	manager.mu.Lock()
	defer manager.mu.Unlock()
	section, ok := manager.sections[key]
	if !ok || !section.held {
		panic("points: release of unlocked key " + key)
	}
	manager.handOff(key, section)
}

// WithLock runs fn inside the critical section for key and releases it on
// every exit path, panics included.
func (manager *LockManager) WithLock(ctx context.Context, key string, fn func() error) error {
	if err := manager.Acquire(ctx, key); err != nil {
		return err
	}
	defer manager.Release(key)
	return fn()
}

// Len returns the number of live critical sections.
func (manager *LockManager) Len() int {
	manager.mu.Lock()
	defer manager.mu.Unlock()
	return len(manager.sections)
}

// Waiters returns how many callers are queued behind the holder of key.
func (manager *LockManager) Waiters(key string) int {
	manager.mu.Lock()
	defer manager.mu.Unlock()
	section, ok := manager.sections[key]
	if !ok {
		return 0
	}
	return len(section.waiters)
}

// handOff passes ownership to the oldest waiter or frees the section.
// manager.mu must be held.
func (manager *LockManager) handOff(key string, section *criticalSection) {
	if len(section.waiters) > 0 {
		next := section.waiters[0]
		section.waiters[0] = nil
		section.waiters = section.waiters[1:]
		manager.dropRef(key, section)
		close(next)
		return
	}
	section.held = false
	manager.dropRef(key, section)
}

func (manager *LockManager) dropRef(key string, section *criticalSection) {
	section.refs--
	if section.refs == 0 {
		delete(manager.sections, key)
	}
}
