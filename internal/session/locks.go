package session

import "sync"

// Locks serializes turns per user so two near-simultaneous messages from the
// same sender cannot interleave their read-modify-write.
type Locks struct {
	mu    sync.Mutex
	locks map[string]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

// NewLocks creates an empty per-user lock table.
func NewLocks() *Locks {
	return &Locks{locks: make(map[string]*userLock)}
}

// Lock blocks until the caller holds userID's lock and returns the release
// function. Entries are dropped once no caller holds or waits on them.
func (l *Locks) Lock(userID string) (unlock func()) {
	l.mu.Lock()
	ul, ok := l.locks[userID]
	if !ok {
		ul = &userLock{}
		l.locks[userID] = ul
	}
	ul.refs++
	l.mu.Unlock()

	ul.mu.Lock()

	return func() {
		ul.mu.Unlock()

		l.mu.Lock()
		ul.refs--
		if ul.refs == 0 {
			delete(l.locks, userID)
		}
		l.mu.Unlock()
	}
}

// Len returns the number of users with a held or pending lock.
func (l *Locks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
