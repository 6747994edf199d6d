package dedup

import "sync"

// KeyLock serializes work per id so two concurrent batches carrying the same
// video cannot both observe "not present" and both deliver.
type KeyLock struct {
	mu    sync.Mutex
	locks map[string]*keyEntry
}

type keyEntry struct {
	mu   sync.Mutex
	refs int
}

func NewKeyLock() *KeyLock {
	return &KeyLock{locks: map[string]*keyEntry{}}
}

// Lock blocks until id is free and returns the matching unlock func.
func (k *KeyLock) Lock(id string) (unlock func()) {
	k.mu.Lock()
	e := k.locks[id]
	if e == nil {
		e = &keyEntry{}
		k.locks[id] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()
			k.mu.Lock()
			e.refs--
			if e.refs == 0 {
				delete(k.locks, id)
			}
			k.mu.Unlock()
		})
	}
}

// held is the number of ids currently locked or waited on.
func (k *KeyLock) held() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
