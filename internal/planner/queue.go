package planner

import (
	"context"
	"log/slog"
	"time"

	"cloud.google.com/go/civil"

	"github.com/p-n-ai/pai-planner/internal/apperr"
	"github.com/p-n-ai/pai-planner/internal/docstore"
)

// QueueCollection holds one plan request document per learner.
const QueueCollection = "plan_queue"

// QueueStatus is the lifecycle of a plan request.
type QueueStatus string

const (
	QueuePending    QueueStatus = "pending"
	QueueProcessing QueueStatus = "processing"
	QueueCompleted  QueueStatus = "completed"
	QueueFailed     QueueStatus = "failed"
)

// QueueItem is a request to run a planning cycle for a learner.
type QueueItem struct {
	LearnerID string      `json:"learner_id"`
	Status    QueueStatus `json:"status"`
	Attempts  int         `json:"attempts"`
	Start     *civil.Date `json:"start,omitempty"`
	LastError string      `json:"last_error,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
	// EnqueuedAt is CreatedAt in Unix milliseconds, used for ordering.
	EnqueuedAt int64 `json:"enqueued_at"`
}

// PlanGenerator runs a planning cycle.
type PlanGenerator interface {
	GeneratePlan(ctx context.Context, learnerID string, start *civil.Date) (*CycleResult, error)
}

// QueueConfig holds worker settings.
type QueueConfig struct {
	Interval   time.Duration
	Batch      int
	MaxRetries int
	// StaleAfter is how long a request may stay processing before it is
	// taken to be abandoned by a dead worker.
	StaleAfter time.Duration
	// Clock overrides time.Now.
	Clock func() time.Time
}

// Queue stores plan requests and works through them in the background.
// A failed cycle is retried from scratch on a later tick.
type Queue struct {
	store docstore.Gateway
	gen   PlanGenerator
	cfg   QueueConfig
	now   func() time.Time
}

// NewQueue creates a queue. Zero config values get defaults of 5 minutes,
// batches of 2, 3 attempts and a 30 minute stale cutoff.
func NewQueue(store docstore.Gateway, gen PlanGenerator, cfg QueueConfig) *Queue {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 2
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 30 * time.Minute
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &Queue{store: store, gen: gen, cfg: cfg, now: now}
}

func queuePath(learnerID string) string {
	return docstore.Join(QueueCollection, learnerID)
}

func (q *Queue) stale(item *QueueItem, now time.Time) bool {
	return item.Status == QueueProcessing && now.Sub(item.UpdatedAt) > q.cfg.StaleAfter
}

// Enqueue requests a planning cycle. A learner with a pending or running
// request keeps that request, unless the running one has gone stale.
func (q *Queue) Enqueue(ctx context.Context, learnerID string, start *civil.Date) (*QueueItem, error) {
	if learnerID == "" {
		return nil, apperr.Invalid("planner.Enqueue", "learner id is required")
	}
	var item QueueItem
	err := q.store.RunInTx(ctx, func(ctx context.Context, tx docstore.Tx) error {
		ok, err := docstore.GetInto(ctx, tx, queuePath(learnerID), &item)
		if err != nil {
			return err
		}
		now := q.now().UTC()
		if ok && (item.Status == QueuePending || item.Status == QueueProcessing) && !q.stale(&item, now) {
			return nil
		}
		item = QueueItem{
			LearnerID:  learnerID,
			Status:     QueuePending,
			Start:      start,
			CreatedAt:  now,
			UpdatedAt:  now,
			EnqueuedAt: now.UnixMilli(),
		}
		return tx.Set(ctx, queuePath(learnerID), item, false)
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// Status returns the learner's latest plan request.
func (q *Queue) Status(ctx context.Context, learnerID string) (*QueueItem, error) {
	var item QueueItem
	ok, err := docstore.GetInto(ctx, q.store, queuePath(learnerID), &item)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.NotFound("planner.Status", "no plan request for learner %s", learnerID)
	}
	return &item, nil
}

// RunOnce returns stale requests to pending, then processes up to one batch
// of pending requests, oldest first, and returns how many it ran.
func (q *Queue) RunOnce(ctx context.Context) (int, error) {
	if err := q.reclaim(ctx); err != nil {
		return 0, err
	}
	docs, err := q.store.Query(ctx, docstore.Query{
		Collection: QueueCollection,
		Where:      []docstore.Filter{{Field: "status", Value: string(QueuePending)}},
		OrderBy:    "enqueued_at",
		Limit:      q.cfg.Batch,
	})
	if err != nil {
		return 0, err
	}

	ran := 0
	for _, d := range docs {
		if err := ctx.Err(); err != nil {
			return ran, err
		}
		var item QueueItem
		if err := d.Decode(&item); err != nil {
			return ran, err
		}
		claimed, err := q.claim(ctx, item.LearnerID)
		if err != nil {
			return ran, err
		}
		if claimed == nil {
			continue
		}
		ran++
		q.process(ctx, claimed)
	}
	return ran, nil
}

// reclaim puts processing requests whose worker stopped reporting back to
// pending. Their attempt count is kept.
func (q *Queue) reclaim(ctx context.Context) error {
	docs, err := q.store.Query(ctx, docstore.Query{
		Collection: QueueCollection,
		Where:      []docstore.Filter{{Field: "status", Value: string(QueueProcessing)}},
	})
	if err != nil {
		return err
	}
	for _, d := range docs {
		var item QueueItem
		if err := d.Decode(&item); err != nil {
			return err
		}
		if !q.stale(&item, q.now()) {
			continue
		}
		err := q.store.RunInTx(ctx, func(ctx context.Context, tx docstore.Tx) error {
			var cur QueueItem
			ok, err := docstore.GetInto(ctx, tx, queuePath(item.LearnerID), &cur)
			now := q.now().UTC()
			if err != nil || !ok || !q.stale(&cur, now) {
				return err
			}
			cur.Status = QueuePending
			cur.UpdatedAt = now
			return tx.Set(ctx, queuePath(cur.LearnerID), cur, false)
		})
		if err != nil {
			return err
		}
		slog.Warn("stale plan request reclaimed", "learner_id", item.LearnerID, "attempts", item.Attempts)
	}
	return nil
}

// claim moves a pending request to processing. It returns nil when another
// worker got there first.
func (q *Queue) claim(ctx context.Context, learnerID string) (*QueueItem, error) {
	var claimed *QueueItem
	err := q.store.RunInTx(ctx, func(ctx context.Context, tx docstore.Tx) error {
		claimed = nil
		var item QueueItem
		ok, err := docstore.GetInto(ctx, tx, queuePath(learnerID), &item)
		if err != nil || !ok || item.Status != QueuePending {
			return err
		}
		item.Status = QueueProcessing
		item.Attempts++
		item.UpdatedAt = q.now().UTC()
		claimed = &item
		return tx.Set(ctx, queuePath(learnerID), item, false)
	})
	return claimed, err
}

func (q *Queue) process(ctx context.Context, item *QueueItem) {
	_, err := q.gen.GeneratePlan(ctx, item.LearnerID, item.Start)

	item.UpdatedAt = q.now().UTC()
	switch {
	case err == nil:
		item.Status = QueueCompleted
		item.LastError = ""
		slog.Info("plan request completed", "learner_id", item.LearnerID, "attempts", item.Attempts)
	case item.Attempts >= q.cfg.MaxRetries:
		item.Status = QueueFailed
		item.LastError = err.Error()
		slog.Error("plan request failed", "learner_id", item.LearnerID, "attempts", item.Attempts, "error", err)
	default:
		item.Status = QueuePending
		item.LastError = err.Error()
		slog.Warn("plan request will be retried", "learner_id", item.LearnerID, "attempts", item.Attempts, "error", err)
	}

	// The cycle outcome is already decided; record it even if ctx ended.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := q.store.Set(writeCtx, queuePath(item.LearnerID), item, false); err != nil {
		slog.Error("plan request status not saved", "learner_id", item.LearnerID, "error", err)
	}
}

// Run processes the queue every interval until ctx is done.
func (q *Queue) Run(ctx context.Context) error {
	ticker := time.NewTicker(q.cfg.Interval)
	defer ticker.Stop()

	slog.Info("plan queue started", "interval", q.cfg.Interval.String(), "batch", q.cfg.Batch)
	for {
		if n, err := q.RunOnce(ctx); err != nil && ctx.Err() == nil {
			slog.Error("plan queue tick failed", "error", err)
		} else if n > 0 {
			slog.Info("plan queue tick", "processed", n)
		}

		select {
		case <-ctx.Done():
			slog.Info("plan queue stopped")
			return nil
		case <-ticker.C:
		}
	}
}
