package ordering

import (
	"slices"
	"sync"
)

// Locker serializes order mutations per column. Callers lock every column a mutation touches in a
// single call; ids are locked in sorted order so two movers between the same pair of columns
// cannot deadlock.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*columnLock
}

type columnLock struct {
	mu   sync.Mutex
	refs int
}

func NewLocker() *Locker {
	return &Locker{locks: make(map[string]*columnLock)}
}

// Lock blocks until all named columns are held and returns the function releasing them.
func (l *Locker) Lock(columnIDs ...string) (unlock func()) {
	ids := make([]string, 0, len(columnIDs))
	for _, id := range columnIDs {
		if id != "" {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	ids = slices.Compact(ids)

	held := make([]*columnLock, 0, len(ids))
	for _, id := range ids {
		cl := l.acquire(id)
		cl.mu.Lock()
		held = append(held, cl)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			for i := len(held) - 1; i >= 0; i-- {
				held[i].mu.Unlock()
				l.release(ids[i])
			}
		})
	}
}

// Held reports how many columns currently have a holder or waiter.
func (l *Locker) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

func (l *Locker) acquire(id string) *columnLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	cl, ok := l.locks[id]
	if !ok {
		cl = &columnLock{}
		l.locks[id] = cl
	}
	cl.refs++
	return cl
}

func (l *Locker) release(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cl, ok := l.locks[id]
	if !ok {
		return
	}
	cl.refs--
	if cl.refs <= 0 {
		delete(l.locks, id)
	}
}
