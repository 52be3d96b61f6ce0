package indexer

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/prism-social/prism/events"
	"github.com/prism-social/prism/models"
	"github.com/prism-social/prism/search"
)

// Reconciler drains the index backlog, retrying search writes that failed
// during ingestion. Each row backs off exponentially on its attempt count;
// the oldest row's age is exported as the search staleness bound.
type Reconciler struct {
	db     *gorm.DB
	docs   DocIndexer
	logger *slog.Logger

	Interval    time.Duration
	BatchSize   int
	MaxAttempts int
	limiter     *rate.Limiter
}

func NewReconciler(db *gorm.DB, docs DocIndexer, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		db:          db,
		docs:        docs,
		logger:      logger.With("system", "reconciler"),
		Interval:    30 * time.Second,
		BatchSize:   100,
		MaxAttempts: 10,
		limiter:     rate.NewLimiter(rate.Limit(50), 10),
	}
}

// Run loops until the context is cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.Sweep(ctx); err != nil {
				r.logger.Error("reconciliation sweep failed", "err", err)
			}
		}
	}
}

// Sweep processes one batch of due backlog rows.
func (r *Reconciler) Sweep(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Sweep")
	defer span.End()

	now := time.Now().UTC()
	r.updateGauges(ctx, now)

	var rows []models.IndexBacklog
	if err := r.db.WithContext(ctx).
		Order("updated_at asc").
		Limit(r.BatchSize).
		Find(&rows).Error; err != nil {
		return err
	}

	for _, row := range rows {
		if !due(row, now) {
			continue
		}
		if err := r.limiter.Wait(ctx); err != nil {
			return err
		}
		r.reconcileOne(ctx, row)
	}
	return nil
}

// due applies exponential backoff: attempt n waits 2^n seconds since the
// last try, capped at one hour.
func due(row models.IndexBacklog, now time.Time) bool {
	backoff := time.Duration(1<<min(row.Attempts, 12)) * time.Second
	if backoff > time.Hour {
		backoff = time.Hour
	}
	return now.Sub(row.UpdatedAt) >= backoff
}

func (r *Reconciler) reconcileOne(ctx context.Context, row models.IndexBacklog) {
	log := r.logger.With("event_id", row.EventID, "attempts", row.Attempts)

	var evtRow models.Event
	if err := r.db.WithContext(ctx).First(&evtRow, "id = ?", row.EventID).Error; err != nil {
		log.Error("backlog references missing event, dropping", "err", err)
		r.db.WithContext(ctx).Delete(&models.IndexBacklog{}, "event_id = ?", row.EventID)
		return
	}

	// a post tombstoned since enqueueing must not be re-indexed
	var tomb models.Tombstone
	if err := r.db.WithContext(ctx).First(&tomb, "event_id = ?", row.EventID).Error; err == nil {
		r.db.WithContext(ctx).Delete(&models.IndexBacklog{}, "event_id = ?", row.EventID)
		return
	}

	var post events.PostBody
	if err := json.Unmarshal(evtRow.Body, &post); err != nil {
		log.Error("backlog event has malformed body, dropping", "err", err)
		r.db.WithContext(ctx).Delete(&models.IndexBacklog{}, "event_id = ?", row.EventID)
		return
	}

	evt := &events.ContentEvent{
		ID:        evtRow.ID,
		Kind:      events.EventKind(evtRow.Kind),
		CreatedAt: evtRow.CreatedAt.Unix(),
		AuthorDID: evtRow.AuthorDID,
		Body:      evtRow.Body,
	}
	var agg models.AuthorAggregate
	aggPtr := &agg
	if err := r.db.WithContext(ctx).First(&agg, "author_did = ?", evtRow.AuthorDID).Error; err != nil {
		aggPtr = nil
	}

	if err := r.docs.IndexPost(ctx, search.TransformPostEvent(evt, &post, aggPtr)); err != nil {
		log.Warn("reconciliation attempt failed", "err", err)
		update := map[string]interface{}{
			"attempts":   row.Attempts + 1,
			"last_error": err.Error(),
			"updated_at": time.Now().UTC(),
		}
		r.db.WithContext(ctx).Model(&models.IndexBacklog{}).Where("event_id = ?", row.EventID).Updates(update)
		if row.Attempts+1 >= r.MaxAttempts {
			log.Error("event exceeded reconciliation attempts, index remains stale", "last_error", err.Error())
		}
		return
	}

	r.db.WithContext(ctx).Delete(&models.IndexBacklog{}, "event_id = ?", row.EventID)
	backlogDrained.Inc()
	log.Info("reconciled event into search index")
}

func (r *Reconciler) updateGauges(ctx context.Context, now time.Time) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.IndexBacklog{}).Count(&count).Error; err == nil {
		backlogSize.Set(float64(count))
	}
	var oldest models.IndexBacklog
	if err := r.db.WithContext(ctx).Order("created_at asc").First(&oldest).Error; err == nil {
		backlogOldestAge.Set(now.Sub(oldest.CreatedAt).Seconds())
	} else {
		backlogOldestAge.Set(0)
	}
}
