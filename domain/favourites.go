package domain

import (
	"context"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// favouritesSync keeps the favourites scope dense when a board enters or
// leaves it.
type favouritesSync struct {
	store     Store
	reindexer *Reindexer
}

// prepare fills upd.FavouritePosition for a favourite toggle on current.
// Turning the flag on appends the board at count(other favourites) and
// leaves the others alone. Turning it off compacts the remaining favourites
// before the board row itself is written. Requests that do not change the
// flag are left untouched.
func (f favouritesSync) prepare(ctx context.Context, current Board, upd *BoardUpdate) error {
	if upd.Favourite == nil || *upd.Favourite == current.Favourite {
		upd.Favourite = nil
		return nil
	}
	ctx, span := otel.Tracer(tracerName).Start(ctx, "favourites.sync")
	defer span.End()
	span.SetAttributes(attribute.String("kanvo.board.id", current.ID), attribute.Bool("kanvo.favourite", *upd.Favourite))

	scope := FavouritesScope(current.UserID)
	if *upd.Favourite {
		others, err := scopeItems(ctx, f.store, scope, current.ID)
		if err != nil {
			span.RecordError(err)
			return err
		}
		pos := len(others)
		upd.FavouritePosition = &pos
		log.WithFields(log.Fields{"boardId": current.ID, "favouritePosition": pos}).Debug("board favourited")
		return nil
	}

	if err := f.compactWithout(ctx, current.UserID, current.ID); err != nil {
		span.RecordError(err)
		return err
	}
	zero := 0
	upd.FavouritePosition = &zero
	return nil
}

// compactWithout renumbers the owner's favourites with boardID removed.
func (f favouritesSync) compactWithout(ctx context.Context, userID, boardID string) error {
	batch, err := compactionBatch(ctx, f.store, FavouritesScope(userID), boardID)
	if err != nil {
		return err
	}
	if len(batch.Assignments) == 0 {
		return nil
	}
	_, err = f.reindexer.Apply(ctx, batch)
	return err
}
