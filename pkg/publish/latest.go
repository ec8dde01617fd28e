package publish

import "sync"

// Latest remembers the most recent pair delivered on a subscription.
type Latest struct {
	mu   sync.RWMutex
	pair Pair
	ok   bool
}

// Watch consumes pairs until the channel is closed.
func (l *Latest) Watch(pairs <-chan Pair) {
	for p := range pairs {
		l.mu.Lock()
		l.pair, l.ok = p, true
		l.mu.Unlock()
	}
}

// Get returns the last pair. Callers must not modify the frame.
func (l *Latest) Get() (Pair, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.pair, l.ok
}
