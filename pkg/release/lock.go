package release

import "sync"

// Locker hands out one mutex per key so deployments to different
// targets proceed in parallel while a second deployment to the same
// target waits its turn.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewLocker() *Locker {
	return &Locker{
		locks: make(map[string]*sync.Mutex),
	}
}

// Acquire blocks until the lock for the given key is held and returns
// the matching release function.
func (l *Locker) Acquire(key string) func() {
	l.mu.Lock()
	lock, ok := l.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[key] = lock
	}
	l.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
