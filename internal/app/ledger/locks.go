package ledger

import "sync"

// userLocks provides the per-user serialization point for appends. All
// writes for one user funnel through one mutex; writes across users never
// contend.
type userLocks struct {
	mu sync.Mutex
	m  map[string]*sync.Mutex
}

func newUserLocks() *userLocks {
	return &userLocks{m: make(map[string]*sync.Mutex)}
}

// get returns the mutex for userID, creating it on first use.
func (l *userLocks) get(userID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	if m, ok := l.m[userID]; ok {
		return m
	}
	m := &sync.Mutex{}
	l.m[userID] = m
	return m
}
