// Package repair drains the scope repair queue. A repair compacts a scope
// whose batched reindex committed only partially.
package repair

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/priyankagnana/Kanvo/api"
	"github.com/priyankagnana/Kanvo/domain"
	"github.com/priyankagnana/Kanvo/storage"
)

const (
	tracerName          = "github.com/priyankagnana/Kanvo/repair"
	defaultPollInterval = time.Second
	defaultMaxDequeue   = 5
)

// Queue is the message source of the worker.
type Queue interface {
	DequeueRepair(ctx context.Context) (*storage.RepairMessage, error)
	CompleteRepair(ctx context.Context, msg *storage.RepairMessage) error
}

// Repairer compacts one scope.
type Repairer interface {
	Repair(ctx context.Context, scope domain.Scope) error
}

// Worker applies repair messages one at a time.
type Worker struct {
	queue        Queue
	repairer     Repairer
	PollInterval time.Duration
	// MaxDequeue is the number of attempts after which a failing message
	// is dropped.
	MaxDequeue int64

	// Cache and Updates, when set, are told about every repaired scope so
	// readers stop seeing the pre-repair order.
	Cache   api.Evictor
	Updates api.Publisher
}

func NewWorker(queue Queue, repairer Repairer) *Worker {
	return &Worker{
		queue:        queue,
		repairer:     repairer,
		PollInterval: defaultPollInterval,
		MaxDequeue:   defaultMaxDequeue,
	}
}

// RunOnce handles messages until the queue reports no visible message and
// returns how many scopes were repaired. Failed repairs stay queued.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	repaired := 0
	for {
		if err := ctx.Err(); err != nil {
			return repaired, err
		}
		msg, err := w.queue.DequeueRepair(ctx)
		if err != nil {
			return repaired, err
		}
		if msg == nil {
			return repaired, nil
		}
		if w.handle(ctx, msg) {
			repaired++
		}
	}
}

// Run polls the queue until ctx is done.
func (w *Worker) Run(ctx context.Context) {
	log.WithField("interval", w.PollInterval).Info("repair worker started")
	for {
		msg, err := w.queue.DequeueRepair(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.WithError(err).Error("receive repair message")
		} else if msg != nil {
			w.handle(ctx, msg)
			continue
		}
		select {
		case <-ctx.Done():
			log.Info("repair worker stopped")
			return
		case <-time.After(w.PollInterval):
		}
	}
}

// handle repairs the scope of msg and reports whether it succeeded.
func (w *Worker) handle(ctx context.Context, msg *storage.RepairMessage) bool {
	entry := log.WithFields(log.Fields{"messageId": msg.ID, "dequeueCount": msg.DequeueCount})
	if msg.Malformed {
		entry.Warn("dropping malformed repair message")
		w.complete(ctx, msg, entry)
		return false
	}
	entry = entry.WithField("scope", msg.Scope.String())

	ctx, span := otel.Tracer(tracerName).Start(ctx, "repair.scope")
	span.SetAttributes(
		attribute.String("kanvo.scope.kind", string(msg.Scope.Kind)),
		attribute.Int64("kanvo.repair.dequeue_count", msg.DequeueCount),
	)
	defer span.End()

	if err := w.repairer.Repair(ctx, msg.Scope); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if w.MaxDequeue > 0 && msg.DequeueCount >= w.MaxDequeue {
			entry.WithError(err).Error("giving up on scope repair")
			w.complete(ctx, msg, entry)
			return false
		}
		entry.WithError(err).Warn("scope repair failed, will retry")
		return false
	}
	span.SetStatus(codes.Ok, "")
	entry.Debug("scope repaired")
	w.notify(ctx, msg, entry)
	w.complete(ctx, msg, entry)
	return true
}

// notify evicts the views of the repaired scope and tells open streams of
// the owner to refetch.
func (w *Worker) notify(ctx context.Context, msg *storage.RepairMessage, entry *log.Entry) {
	if msg.UserID == "" {
		if w.Cache != nil || w.Updates != nil {
			entry.Debug("repair message has no user, skipping notification")
		}
		return
	}
	u := api.Update{UserID: msg.UserID, Scope: string(msg.Scope.Kind)}
	if msg.Scope.Kind == domain.ScopeTasks {
		u.BoardID = msg.Scope.Owner
	}
	if w.Cache != nil {
		if u.BoardID != "" {
			w.Cache.EvictBoard(ctx, u.UserID, u.BoardID)
		} else {
			w.Cache.Evict(ctx, u.UserID)
		}
	}
	if w.Updates != nil {
		w.Updates.Publish(ctx, u)
	}
}

func (w *Worker) complete(ctx context.Context, msg *storage.RepairMessage, entry *log.Entry) {
	if err := w.queue.CompleteRepair(ctx, msg); err != nil {
		entry.WithError(err).Error("delete repair message")
	}
}
