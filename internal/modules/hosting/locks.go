package hosting

import "sync"

// domainLocks serializes workflows per domain. Workflows targeting
// different domains never contend.
type domainLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// acquire locks the mutex for a domain and returns its release func.
func (l *domainLocks) acquire(domain string) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*sync.Mutex)
	}
	m, ok := l.locks[domain]
	if !ok {
		m = &sync.Mutex{}
		l.locks[domain] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
