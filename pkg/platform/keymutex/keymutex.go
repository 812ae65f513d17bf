// Package keymutex provides per-key exclusive sections.
//
// Mutations touching the same item must observe a consistent snapshot of its
// stage/custodian/active fields, while unrelated items proceed in parallel.
// A single global lock would serialize everything; this mutex serializes
// only callers that share a key.
package keymutex

import "sync"

// KeyMutex hands out one mutex per key, created on first use. Entries are
// reference-counted and removed when the last holder unlocks, so the map
// does not grow with the total number of keys ever seen.
type KeyMutex struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

func New() *KeyMutex {
	return &KeyMutex{locks: make(map[string]*entry)}
}

// Lock acquires the exclusive section for key, blocking while another
// caller holds it.
func (k *KeyMutex) Lock(key string) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &entry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
}

// Unlock releases the exclusive section for key. Panics if the key is not
// held, matching sync.Mutex semantics.
func (k *KeyMutex) Unlock(key string) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		k.mu.Unlock()
		panic("keymutex: unlock of unheld key " + key)
	}
	e.refs--
	if e.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()

	e.mu.Unlock()
}

// WithLock runs fn inside the exclusive section for key.
func (k *KeyMutex) WithLock(key string, fn func() error) error {
	k.Lock(key)
	defer k.Unlock(key)
	return fn()
}
