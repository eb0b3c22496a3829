package market

import "sync"

type refLock struct {
	mu   sync.Mutex
	refs int
}

// keyedMutex serialises operations per asset reference. Entries are dropped
// once no goroutine holds or waits for them.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[AssetRef]*refLock
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[AssetRef]*refLock)}
}

// lock acquires the mutex for ref and returns its release function.
func (k *keyedMutex) lock(ref AssetRef) func() {
	k.mu.Lock()
	l, ok := k.locks[ref]
	if !ok {
		l = &refLock{}
		k.locks[ref] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, ref)
		}
		k.mu.Unlock()
	}
}

func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
