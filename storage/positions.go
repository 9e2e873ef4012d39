package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	log "github.com/sirupsen/logrus"

	"github.com/priyankagnana/Kanvo/domain"
)

// maxTransactionActions is the Azure Tables limit of operations per batch.
const maxTransactionActions = 100

const scopeRowPrefix = domain.ReservedIDPrefix

var errMarkerRace = errors.New("scope marker changed during write")

func isScopeRowKey(rowKey string) bool {
	return strings.HasPrefix(rowKey, scopeRowPrefix)
}

func (s *Storage) tableFor(kind domain.ScopeKind) (tableAPI, error) {
	switch kind {
	case domain.ScopeBoards, domain.ScopeFavourites:
		return s.boards, nil
	case domain.ScopeTasks:
		return s.tasks, nil
	}
	return nil, fmt.Errorf("%w: unknown scope kind %q", domain.ErrValidation, kind)
}

// ScopeVersion returns the stored version of scope, 0 if it was never
// reindexed.
func (s *Storage) ScopeVersion(ctx context.Context, scope domain.Scope) (int64, error) {
	table, err := s.tableFor(scope.Kind)
	if err != nil {
		return 0, err
	}
	marker, _, err := loadMarker(ctx, table, scope)
	return marker.Version, err
}

// loadMarker reads the version row of scope. A missing row yields a zero
// marker and a nil ETag.
func loadMarker(ctx context.Context, table tableAPI, scope domain.Scope) (scopeEntity, *azcore.ETag, error) {
	pk, rk := scopeKeys(scope)
	resp, err := table.GetEntity(ctx, pk, rk, nil)
	if err != nil {
		if err = mapError(err, "scope "+scope.String()); isNotFound(err) {
			return scopeEntity{entityKeys: entityKeys{PartitionKey: pk, RowKey: rk}, Kind: kindScope}, nil, nil
		}
		return scopeEntity{}, nil, err
	}
	var marker scopeEntity
	if err := unmarshalEntity(resp.Value, &marker); err != nil {
		return scopeEntity{}, nil, err
	}
	et := resp.ETag
	return marker, &et, nil
}

// WritePositions merges the assignments of all batches into their member
// rows and bumps each scope version. Version markers travel in the first
// transaction, so a stale or racing version fails before any member row is
// touched. Without an expected version a racing marker is re-read and the
// write retried. A failure after the first transaction returns
// *domain.PartialWriteError.
func (s *Storage) WritePositions(ctx context.Context, batches []domain.ScopeBatch) (domain.ScopeVersions, error) {
	if len(batches) == 0 {
		return domain.ScopeVersions{}, nil
	}
	owner := batches[0].Scope.Owner
	table, err := s.tableFor(batches[0].Scope.Kind)
	if err != nil {
		return nil, err
	}
	for _, b := range batches {
		for _, a := range b.Assignments {
			if isScopeRowKey(a.ID) {
				return nil, fmt.Errorf("%w: %s is a scope marker", domain.ErrValidation, a.ID)
			}
		}
	}
	for _, b := range batches[1:] {
		t, err := s.tableFor(b.Scope.Kind)
		if err != nil {
			return nil, err
		}
		if b.Scope.Owner != owner || t != table {
			return nil, fmt.Errorf("%w: batches span partitions", domain.ErrValidation)
		}
	}

	for attempt := 0; ; attempt++ {
		versions, err := s.writeOnce(ctx, table, batches)
		if !errors.Is(err, errMarkerRace) {
			return versions, err
		}
		if hasExpectedVersion(batches) || attempt >= s.maxConflictRetries {
			return nil, fmt.Errorf("write positions: %w", domain.ErrConcurrencyConflict)
		}
		log.WithFields(log.Fields{"owner": owner, "attempt": attempt + 1}).Debug("scope marker raced, retrying")
	}
}

func (s *Storage) writeOnce(ctx context.Context, table tableAPI, batches []domain.ScopeBatch) (domain.ScopeVersions, error) {
	versions := domain.ScopeVersions{}
	actions := make([]aztables.TransactionAction, 0, len(batches))
	for _, b := range batches {
		marker, etag, err := loadMarker(ctx, table, b.Scope)
		if err != nil {
			return nil, err
		}
		if b.ExpectedVersion != nil && *b.ExpectedVersion != marker.Version {
			return nil, fmt.Errorf("scope %s at version %d, request had %d: %w", b.Scope, marker.Version, *b.ExpectedVersion, domain.ErrConcurrencyConflict)
		}
		marker.Version++
		marker.VersionType = edmInt64
		payload, err := encode(marker)
		if err != nil {
			return nil, err
		}
		action := aztables.TransactionAction{ActionType: aztables.TransactionTypeAdd, Entity: payload}
		if etag != nil {
			action = aztables.TransactionAction{ActionType: aztables.TransactionTypeUpdateMerge, Entity: payload, IfMatch: etag}
		}
		actions = append(actions, action)
		versions[b.Scope] = marker.Version
	}
	markers := len(actions)

	for _, b := range batches {
		for _, a := range b.Assignments {
			payload, err := encode(patchFor(b.Scope, a.ID, a.Position))
			if err != nil {
				return nil, err
			}
			et := azcore.ETagAny
			actions = append(actions, aztables.TransactionAction{ActionType: aztables.TransactionTypeUpdateMerge, Entity: payload, IfMatch: &et})
		}
	}
	total := len(actions) - markers

	committed := 0
	for i, chunk := range chunkActions(actions, maxTransactionActions) {
		if _, err := table.SubmitTransaction(ctx, chunk, nil); err != nil {
			err = mapError(err, "write positions")
			if i == 0 {
				if errors.Is(err, domain.ErrConcurrencyConflict) {
					return nil, errMarkerRace
				}
				return nil, err
			}
			return nil, &domain.PartialWriteError{Committed: committed, Total: total, Err: err}
		}
		if i == 0 {
			committed += len(chunk) - markers
		} else {
			committed += len(chunk)
		}
	}
	return versions, nil
}

func patchFor(scope domain.Scope, id string, position int) positionPatch {
	pk, _ := scopeKeys(scope)
	p := positionPatch{entityKeys: entityKeys{PartitionKey: pk, RowKey: id}}
	pos := position
	switch scope.Kind {
	case domain.ScopeFavourites:
		p.FavouritePosition = &pos
	case domain.ScopeTasks:
		section := scope.Section
		p.Position = &pos
		p.Section = &section
	default:
		p.Position = &pos
	}
	return p
}

func hasExpectedVersion(batches []domain.ScopeBatch) bool {
	for _, b := range batches {
		if b.ExpectedVersion != nil {
			return true
		}
	}
	return false
}
