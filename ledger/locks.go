package ledger

import (
	"context"
	"sync"
	"time"
)

// lineageLocks hands out one channel-based lock per lineage id. Entries
// are reference counted and removed once the last holder releases, so
// the map does not grow with the number of lineages ever seen.
type lineageLocks struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	ch   chan struct{}
	refs int
}

func newLineageLocks() *lineageLocks {
	return &lineageLocks{locks: make(map[string]*lockEntry)}
}

// acquire blocks until the lineage lock is held, the context is
// cancelled, or the wait bound elapses. The returned release function
// must be called exactly once.
func (l *lineageLocks) acquire(ctx context.Context, lineageID string, wait time.Duration) (func(), error) {
	l.mu.Lock()
	entry, ok := l.locks[lineageID]
	if !ok {
		entry = &lockEntry{ch: make(chan struct{}, 1)}
		l.locks[lineageID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case entry.ch <- struct{}{}:
		return func() {
			<-entry.ch
			l.put(lineageID, entry)
		}, nil
	case <-ctx.Done():
		l.put(lineageID, entry)
		return nil, ctx.Err()
	case <-timer.C:
		l.put(lineageID, entry)
		return nil, ErrLineageBusy
	}
}

func (l *lineageLocks) put(lineageID string, entry *lockEntry) {
	l.mu.Lock()
	entry.refs--
	if entry.refs == 0 {
		delete(l.locks, lineageID)
	}
	l.mu.Unlock()
}
