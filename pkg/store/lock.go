package store

import "sync"

// keyedMutex serializes operations on the same entity key within this
// process. The original design accepted check-then-act races on file
// existence; this is the per-entity advisory lock recommended as a
// strengthening. Cross-process races remain best-effort.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedLock)}
}

// Lock acquires the mutex for key, blocking until available. The returned
// function releases it.
func (k *keyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	entry, ok := k.locks[key]
	if !ok {
		entry = &keyedLock{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// entityKey builds the lock key for an entity address.
func entityKey(space, subpath, shortname string) string {
	return space + ":" + CleanSubpath(subpath) + "/" + shortname
}
