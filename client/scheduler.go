package client

import (
	"sync"
	"time"
)

// DefaultDebounce is the inactivity window before a field edit is written.
const DefaultDebounce = 500 * time.Millisecond

// Scheduler debounces field writes. Each key owns its own timer, so edits to
// one field never cancel the pending write of another.
type Scheduler[V any] struct {
	delay time.Duration

	mu      sync.Mutex
	pending map[string]*pendingWrite[V]
	closed  bool
	// gen numbers every scheduled write, so a timer that fires late can
	// never match a write scheduled after its own was flushed.
	gen uint64
}

type pendingWrite[V any] struct {
	value  V
	commit func(V)
	timer  *time.Timer
	gen    uint64
}

// NewScheduler returns a scheduler whose default delay is delay, or
// DefaultDebounce when delay is not positive.
func NewScheduler[V any](delay time.Duration) *Scheduler[V] {
	if delay <= 0 {
		delay = DefaultDebounce
	}
	return &Scheduler[V]{delay: delay, pending: make(map[string]*pendingWrite[V])}
}

// Schedule records value as the latest value of key and (re)starts the
// key's timer. commit runs once with the latest value after delay of
// inactivity; a non-positive delay uses the scheduler default. It returns
// false once the scheduler is closed.
func (s *Scheduler[V]) Schedule(key string, value V, commit func(V), delay time.Duration) bool {
	if delay <= 0 {
		delay = s.delay
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	p := s.pending[key]
	if p == nil {
		p = &pendingWrite[V]{}
		s.pending[key] = p
	} else {
		p.timer.Stop()
	}
	p.value = value
	p.commit = commit
	s.gen++
	p.gen = s.gen
	gen := p.gen
	p.timer = time.AfterFunc(delay, func() { s.fire(key, gen) })
	return true
}

func (s *Scheduler[V]) fire(key string, gen uint64) {
	s.mu.Lock()
	p := s.pending[key]
	if p == nil || p.gen != gen {
		s.mu.Unlock()
		return
	}
	delete(s.pending, key)
	s.mu.Unlock()
	p.commit(p.value)
}

// Pending returns the value waiting to be written for key.
func (s *Scheduler[V]) Pending(key string) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p := s.pending[key]; p != nil {
		return p.value, true
	}
	var zero V
	return zero, false
}

// Flush writes every pending value now, in no particular key order, and
// returns the number of writes issued.
func (s *Scheduler[V]) Flush() int {
	writes := s.drain()
	for _, p := range writes {
		p.commit(p.value)
	}
	return len(writes)
}

// Close stops all timers without writing and returns the latest unwritten
// value per key, so the caller can hand them to its store. Later calls to
// Schedule are ignored.
func (s *Scheduler[V]) Close() map[string]V {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	writes := s.drain()
	out := make(map[string]V, len(writes))
	for key, p := range writes {
		out[key] = p.value
	}
	return out
}

func (s *Scheduler[V]) drain() map[string]*pendingWrite[V] {
	s.mu.Lock()
	defer s.mu.Unlock()
	writes := s.pending
	for _, p := range writes {
		p.timer.Stop()
	}
	s.pending = make(map[string]*pendingWrite[V])
	return writes
}
