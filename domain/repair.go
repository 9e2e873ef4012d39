package domain

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/priyankagnana/Kanvo/ordering"
)

// scopeItems reads the current members of scope with their stored position,
// leaving out exclude.
func scopeItems(ctx context.Context, store Store, scope Scope, exclude string) ([]ordering.Item, error) {
	var items []ordering.Item
	switch scope.Kind {
	case ScopeBoards, ScopeFavourites:
		boards, err := store.ListBoards(ctx, scope.Owner)
		if err != nil {
			return nil, err
		}
		for _, b := range boards {
			if b.ID == exclude {
				continue
			}
			if scope.Kind == ScopeBoards {
				items = append(items, ordering.Item{ID: b.ID, Position: b.Position})
			} else if b.Favourite {
				items = append(items, ordering.Item{ID: b.ID, Position: b.FavouritePosition})
			}
		}
	case ScopeTasks:
		tasks, err := store.ListTasks(ctx, scope.Owner)
		if err != nil {
			return nil, err
		}
		for _, t := range tasks {
			if t.ID == exclude || t.SectionID != scope.Section {
				continue
			}
			items = append(items, ordering.Item{ID: t.ID, Position: t.Position})
		}
	default:
		return nil, scope.Validate()
	}
	return items, nil
}

// compactionBatch renumbers the scope without exclude and keeps only the rows
// whose position actually moves.
func compactionBatch(ctx context.Context, store Store, scope Scope, exclude string) (ScopeBatch, error) {
	items, err := scopeItems(ctx, store, scope, exclude)
	if err != nil {
		return ScopeBatch{}, err
	}
	return ScopeBatch{Scope: scope, Assignments: ordering.Changed(ordering.Compact(items), items)}, nil
}

// Repairer restores density of a scope left with gaps or duplicates.
type Repairer struct {
	store Store
}

// NewRepairer returns a Repairer over store.
func NewRepairer(store Store) *Repairer {
	return &Repairer{store: store}
}

// Repair compacts scope in its stored order. A scope that is already dense
// is not written.
func (r *Repairer) Repair(ctx context.Context, scope Scope) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	batch, err := compactionBatch(ctx, r.store, scope, "")
	if err != nil {
		return err
	}
	if len(batch.Assignments) == 0 {
		log.WithField("scope", scope.String()).Debug("scope already dense")
		return nil
	}
	if _, err := r.store.WritePositions(ctx, []ScopeBatch{batch}); err != nil {
		return err
	}
	log.WithFields(log.Fields{"scope": scope.String(), "rows": len(batch.Assignments)}).Info("scope repaired")
	return nil
}
