// Package sessions tracks live voice connections so shutdown can warn,
// cancel and wait for them.
package sessions

import (
	"context"
	"sync"
)

// Live is a running voice connection.
type Live interface {
	ID() string
	Cancel()
	SendWarning(code, message string) error
}

type Tracker struct {
	mu    sync.Mutex
	live  map[string]*entry
	wg    sync.WaitGroup
	total int64
}

type entry struct {
	s    Live
	once sync.Once
}

func NewTracker() *Tracker {
	return &Tracker{live: make(map[string]*entry)}
}

// Register adds s and returns the func that removes it. A second
// registration under the same id replaces the first.
func (t *Tracker) Register(s Live) (unregister func()) {
	if t == nil || s == nil {
		return func() {}
	}
	e := &entry{s: s}
	id := s.ID()

	t.mu.Lock()
	if t.live == nil {
		t.live = make(map[string]*entry)
	}
	old := t.live[id]
	t.live[id] = e
	t.total++
	t.wg.Add(1)
	t.mu.Unlock()

	if old != nil {
		t.remove(id, old)
	}
	return func() { t.remove(id, e) }
}

func (t *Tracker) remove(id string, e *entry) {
	e.once.Do(func() {
		t.mu.Lock()
		if t.live[id] == e {
			delete(t.live, id)
		}
		t.mu.Unlock()
		t.wg.Done()
	})
}

func (t *Tracker) Count() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.live)
}

// Total is the number of connections ever registered.
func (t *Tracker) Total() int64 {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

func (t *Tracker) snapshot() []Live {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Live, 0, len(t.live))
	for _, e := range t.live {
		out = append(out, e.s)
	}
	return out
}

// WarnAll returns how many connections accepted the warning.
func (t *Tracker) WarnAll(code, message string) (sent int) {
	if t == nil {
		return 0
	}
	for _, s := range t.snapshot() {
		if s.SendWarning(code, message) == nil {
			sent++
		}
	}
	return sent
}

func (t *Tracker) CancelAll() (cancelled int) {
	if t == nil {
		return 0
	}
	for _, s := range t.snapshot() {
		s.Cancel()
		cancelled++
	}
	return cancelled
}

// Wait blocks until every registered connection is removed or ctx ends.
func (t *Tracker) Wait(ctx context.Context) bool {
	if t == nil {
		return true
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		t.wg.Wait()
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
