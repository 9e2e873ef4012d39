// Package client holds the browser-side ordering logic of Kanvo: the drag
// reorder reconciler, the debounced field writer and the HTTP transport they
// use.
package client

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/priyankagnana/Kanvo/domain"
	"github.com/priyankagnana/Kanvo/ordering"
)

// Phase is the drag state of one list.
type Phase int

const (
	Idle Phase = iota
	Dragging
	Dropped
	Persisting
)

func (p Phase) String() string {
	switch p {
	case Dragging:
		return "dragging"
	case Dropped:
		return "dropped"
	case Persisting:
		return "persisting"
	}
	return "idle"
}

var (
	ErrNotDragging = errors.New("no drag in progress")
	ErrCrossScope  = errors.New("items can only move between task sections of one board")
	ErrUnknownList = errors.New("list not loaded")
)

// Location is an index in a loaded list.
type Location struct {
	Scope domain.Scope
	Index int
}

// DropResult is what the drag layer reports on drop. A nil Destination means
// the item was dropped outside any list.
type DropResult struct {
	Source      Location
	Destination *Location
}

// Move is the write that persists a drop. Both lists are in display order;
// for a move inside one list Source equals Destination.
type Move struct {
	Source             domain.Scope
	Destination        domain.Scope
	SourceList         []string
	DestinationList    []string
	SourceVersion      *int64
	DestinationVersion *int64
}

// CrossScope reports whether the move spans two lists.
func (m Move) CrossScope() bool { return m.Source != m.Destination }

// Persister writes a move and returns the resulting scope versions.
type Persister interface {
	Persist(ctx context.Context, m Move) (domain.ScopeVersions, error)
}

// RefetchFunc loads the authoritative display order and version of a scope.
type RefetchFunc func(ctx context.Context, scope domain.Scope) ([]string, int64, error)

type list struct {
	ids     []string
	version int64
	phase   Phase
	// pending is the id of the newest operation touching the list.
	pending uint64
	// tail is the last operation queued on the list. The next write waits
	// for it, so writes to one list never overlap.
	tail *Operation
}

// Reconciler applies drops to local state immediately and persists them in
// the background. Writes touching the same list are sent one after another.
// If a write fails and no newer operation touched the list since, the list
// is refetched (when Refetch is set) or restored from the snapshot taken
// before the drop.
type Reconciler struct {
	persister Persister

	// Refetch, when set, replaces snapshot rollback.
	Refetch RefetchFunc
	// OnError receives every failed write, superseded or not.
	OnError func(err error)
	// OnChange is called with the new display order after each local change.
	OnChange func(scope domain.Scope, ids []string)
	// Versioned sends the known scope versions with each write so the server
	// can reject stale reorders. The versions are read when the write is
	// sent, after every earlier write to the same lists has finished.
	Versioned bool

	mu     sync.Mutex
	lists  map[domain.Scope]*list
	nextOp uint64
}

func NewReconciler(p Persister) *Reconciler {
	return &Reconciler{persister: p, lists: make(map[domain.Scope]*list)}
}

// Load replaces the local order of scope, typically after a fetch.
func (r *Reconciler) Load(scope domain.Scope, ids []string, version int64) {
	r.mu.Lock()
	l := r.lists[scope]
	if l == nil {
		l = &list{}
		r.lists[scope] = l
	}
	l.ids = slices.Clone(ids)
	l.version = version
	r.mu.Unlock()
	r.changed(scope, ids)
}

// List returns the current local display order of scope.
func (r *Reconciler) List(scope domain.Scope) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l := r.lists[scope]; l != nil {
		return slices.Clone(l.ids)
	}
	return nil
}

// Version returns the last known version of scope.
func (r *Reconciler) Version(scope domain.Scope) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l := r.lists[scope]; l != nil {
		return l.version
	}
	return 0
}

func (r *Reconciler) Phase(scope domain.Scope) Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l := r.lists[scope]; l != nil {
		return l.phase
	}
	return Idle
}

// BeginDrag marks scope as being dragged from. A drag may start while an
// earlier drop of the same list is still persisting.
func (r *Reconciler) BeginDrag(scope domain.Scope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l := r.lists[scope]
	if l == nil {
		return fmt.Errorf("%s: %w", scope, ErrUnknownList)
	}
	l.phase = Dragging
	return nil
}

// CancelDrag returns a dragged list to Idle without changes.
func (r *Reconciler) CancelDrag(scope domain.Scope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l := r.lists[scope]; l != nil && l.phase == Dragging {
		l.phase = Idle
	}
}

// Operation is a drop being persisted. Move carries no versions; those are
// filled in when the write is sent.
type Operation struct {
	ID   uint64
	Move Move

	after []*Operation
	done  chan struct{}
	err   error
}

// Wait blocks until the write finished and returns its error.
func (o *Operation) Wait() error {
	<-o.done
	return o.err
}

type snapshot struct {
	scope   domain.Scope
	ids     []string
	version int64
}

// Drop applies res to the local lists and starts persisting it. It returns
// nil when the drop changes nothing. The returned operation completes after
// the write and any rollback.
func (r *Reconciler) Drop(ctx context.Context, res DropResult) (*Operation, error) {
	r.mu.Lock()
	src := r.lists[res.Source.Scope]
	if src == nil || src.phase != Dragging {
		r.mu.Unlock()
		return nil, ErrNotDragging
	}
	src.phase = Dropped

	if res.Destination == nil || *res.Destination == res.Source {
		src.phase = Idle
		r.mu.Unlock()
		return nil, nil
	}
	dstLoc := *res.Destination
	if dstLoc.Scope != res.Source.Scope {
		if res.Source.Scope.Kind != domain.ScopeTasks || dstLoc.Scope.Kind != domain.ScopeTasks || dstLoc.Scope.Owner != res.Source.Scope.Owner {
			src.phase = Idle
			r.mu.Unlock()
			return nil, ErrCrossScope
		}
	}
	dst := r.lists[dstLoc.Scope]
	if dst == nil {
		src.phase = Idle
		r.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", dstLoc.Scope, ErrUnknownList)
	}
	snaps := []snapshot{{scope: res.Source.Scope, ids: slices.Clone(src.ids), version: src.version}}
	var srcIDs, dstIDs []string
	var err error
	if dst == src {
		dstIDs, err = ordering.Move(src.ids, res.Source.Index, dstLoc.Index)
		srcIDs = dstIDs
	} else {
		snaps = append(snaps, snapshot{scope: dstLoc.Scope, ids: slices.Clone(dst.ids), version: dst.version})
		srcIDs, dstIDs, err = ordering.Transfer(src.ids, dst.ids, res.Source.Index, dstLoc.Index)
	}
	if err != nil {
		src.phase = Idle
		r.mu.Unlock()
		return nil, err
	}

	r.nextOp++
	op := &Operation{ID: r.nextOp, done: make(chan struct{})}
	op.Move = Move{
		Source:          res.Source.Scope,
		Destination:     dstLoc.Scope,
		SourceList:      slices.Clone(srcIDs),
		DestinationList: slices.Clone(dstIDs),
	}
	src.ids, dst.ids = srcIDs, dstIDs
	if src.tail != nil {
		op.after = append(op.after, src.tail)
	}
	if dst.tail != nil && dst.tail != src.tail {
		op.after = append(op.after, dst.tail)
	}
	src.tail, dst.tail = op, op
	src.phase, dst.phase = Persisting, Persisting
	src.pending, dst.pending = op.ID, op.ID
	r.mu.Unlock()

	r.changed(res.Source.Scope, op.Move.SourceList)
	if op.Move.CrossScope() {
		r.changed(dstLoc.Scope, op.Move.DestinationList)
	}

	go r.persist(ctx, op, snaps)
	return op, nil
}

func (r *Reconciler) persist(ctx context.Context, op *Operation, snaps []snapshot) {
	defer close(op.done)
	defer r.release(op, snaps)

	var versions domain.ScopeVersions
	err := waitAll(ctx, op.after)
	if err == nil {
		versions, err = r.persister.Persist(ctx, r.outgoing(op))
	}
	if err == nil {
		r.mu.Lock()
		for _, s := range snaps {
			l := r.lists[s.scope]
			if v, ok := versions[s.scope]; ok && v > l.version {
				l.version = v
			}
			if l.pending == op.ID && l.phase == Persisting {
				l.phase = Idle
			}
		}
		r.mu.Unlock()
		return
	}

	op.err = err
	log.WithError(err).WithField("operation", op.ID).Warn("reorder failed")
	if r.OnError != nil {
		r.OnError(err)
	}

	for _, s := range snaps {
		r.mu.Lock()
		l := r.lists[s.scope]
		current := l.pending == op.ID
		r.mu.Unlock()
		if !current {
			continue
		}

		ids, version, fetched := s.ids, s.version, false
		if r.Refetch != nil {
			fresh, v, ferr := r.Refetch(ctx, s.scope)
			if ferr == nil {
				ids, version, fetched = fresh, v, true
			} else {
				log.WithError(ferr).WithField("scope", s.scope.String()).Warn("refetch after failed reorder")
			}
		}

		r.mu.Lock()
		applied := l.pending == op.ID
		if applied {
			l.ids = slices.Clone(ids)
			// an earlier queued write may have confirmed a newer version
			// than the snapshot holds
			if fetched || version > l.version {
				l.version = version
			}
			if l.phase == Persisting {
				l.phase = Idle
			}
		}
		r.mu.Unlock()
		if applied {
			r.changed(s.scope, ids)
		}
	}
}

// outgoing returns the move as it is sent, with the versions known now that
// every earlier write to its lists has finished.
func (r *Reconciler) outgoing(op *Operation) Move {
	m := op.Move
	if !r.Versioned {
		return m
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	sv, dv := r.lists[m.Source].version, r.lists[m.Destination].version
	m.SourceVersion, m.DestinationVersion = &sv, &dv
	return m
}

// release drops op from the write queues of its lists.
func (r *Reconciler) release(op *Operation, snaps []snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range snaps {
		if l := r.lists[s.scope]; l.tail == op {
			l.tail = nil
		}
	}
}

func waitAll(ctx context.Context, ops []*Operation) error {
	for _, prev := range ops {
		select {
		case <-prev.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (r *Reconciler) changed(scope domain.Scope, ids []string) {
	if r.OnChange != nil {
		r.OnChange(scope, slices.Clone(ids))
	}
}
