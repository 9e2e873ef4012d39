package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/priyankagnana/Kanvo/ordering"
)

const tracerName = "github.com/priyankagnana/Kanvo/domain"

// Reindexer persists position batches and schedules a repair when a batch is
// left half written. It never retries on the caller's behalf.
type Reindexer struct {
	writer PositionWriter
	repair RepairQueue
}

// NewReindexer returns a Reindexer. repair may be nil.
func NewReindexer(w PositionWriter, repair RepairQueue) *Reindexer {
	return &Reindexer{writer: w, repair: repair}
}

// FromDisplayOrder validates a display ordered list and turns it into a batch.
func FromDisplayOrder(scope Scope, displayOrder []string, version *int64) (ScopeBatch, error) {
	if err := scope.Validate(); err != nil {
		return ScopeBatch{}, err
	}
	if err := ordering.Validate(displayOrder); err != nil {
		return ScopeBatch{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	for _, id := range displayOrder {
		if strings.HasPrefix(id, ReservedIDPrefix) {
			return ScopeBatch{}, invalid("id %q uses a reserved prefix", id)
		}
	}
	return ScopeBatch{Scope: scope, Assignments: ordering.Reindex(displayOrder), ExpectedVersion: version}, nil
}

// Apply writes all batches in one call to the PositionWriter.
func (r *Reindexer) Apply(ctx context.Context, batches ...ScopeBatch) (ScopeVersions, error) {
	if len(batches) == 0 {
		return ScopeVersions{}, nil
	}
	ctx, span := otel.Tracer(tracerName).Start(ctx, "ordering.reindex", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	rows := 0
	for _, b := range batches {
		rows += len(b.Assignments)
		span.AddEvent("scope", trace.WithAttributes(
			attribute.String("kanvo.scope.kind", string(b.Scope.Kind)),
			attribute.String("kanvo.scope.id", b.Scope.String()),
			attribute.Int("kanvo.scope.items", len(b.Assignments)),
			attribute.Bool("kanvo.scope.versioned", b.ExpectedVersion != nil),
		))
	}
	span.SetAttributes(attribute.Int("kanvo.reindex.scopes", len(batches)), attribute.Int("kanvo.reindex.rows", rows))

	versions, err := r.writer.WritePositions(ctx, batches)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		var partial *PartialWriteError
		if errors.As(err, &partial) {
			r.scheduleRepair(ctx, batches, partial)
		}
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	return versions, nil
}

func (r *Reindexer) scheduleRepair(ctx context.Context, batches []ScopeBatch, partial *PartialWriteError) {
	for _, b := range batches {
		fields := log.Fields{
			"scope":     b.Scope.String(),
			"committed": partial.Committed,
			"total":     partial.Total,
		}
		if r.repair == nil {
			log.WithFields(fields).Warn("partial position write, no repair queue configured")
			continue
		}
		if err := r.repair.EnqueueRepair(ctx, b.User(), b.Scope); err != nil {
			log.WithFields(fields).WithError(err).Error("failed to enqueue scope repair")
			continue
		}
		log.WithFields(fields).Warn("partial position write, scope repair enqueued")
	}
}
