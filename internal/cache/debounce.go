package cache

import (
	"sync"
	"time"
)

const DefaultIgnoreWindow = 200 * time.Millisecond

type ledgerEntry struct {
	path        string
	ignoreUntil time.Time
}

// Ledger suppresses repeated reports of the same path within a time window, so a change
// accepted from the event path is not accepted again by a poll (and vice versa).
type Ledger struct {
	window  time.Duration
	entries []ledgerEntry
	mu      sync.Mutex
	now     func() time.Time
}

func NewLedger(window time.Duration) *Ledger {
	if window < 0 {
		window = 0
	}
	return &Ledger{
		window: window,
		now:    time.Now,
	}
}

func (l *Ledger) Window() time.Duration {
	return l.window
}

// Add opens an ignore window for path starting now.
func (l *Ledger) Add(path string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, ledgerEntry{path: path, ignoreUntil: l.now().Add(l.window)})
}

// Suppressed reports whether path is inside an active ignore window. Only the first
// entry for path is consulted; an expired one is evicted.
func (l *Ledger) Suppressed(path string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, e := range l.entries {
		if e.path != path {
			continue
		}
		if e.ignoreUntil.After(l.now()) {
			return true
		}
		l.entries = append(l.entries[:i], l.entries[i+1:]...)
		return false
	}
	return false
}

// Prune drops all expired entries and returns how many were removed.
func (l *Ledger) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	kept := l.entries[:0]
	for _, e := range l.entries {
		if e.ignoreUntil.After(now) {
			kept = append(kept, e)
		}
	}
	removed := len(l.entries) - len(kept)
	clear(l.entries[len(kept):])
	l.entries = kept
	return removed
}

func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
