package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prism-social/prism/models"
	"github.com/prism-social/prism/transparency"
)

// RecordQueue decouples transparency appends from the feed response path.
// Enqueue never blocks the caller; a worker drains batches with retry. If
// the buffer is full, the enqueueing goroutine writes synchronously rather
// than dropping the batch, because ranking records are a durability
// guarantee, not best-effort telemetry.
type RecordQueue struct {
	store  *transparency.Store
	logger *slog.Logger

	ch   chan []models.TransparencyRecord
	wg   sync.WaitGroup
	once sync.Once
}

const recordQueueDepth = 256

func NewRecordQueue(store *transparency.Store, logger *slog.Logger) *RecordQueue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &RecordQueue{
		store:  store,
		logger: logger.With("system", "transparency-queue"),
		ch:     make(chan []models.TransparencyRecord, recordQueueDepth),
	}
	q.wg.Add(1)
	go q.worker()
	return q
}

func (q *RecordQueue) Enqueue(batch []models.TransparencyRecord) {
	if len(batch) == 0 {
		return
	}
	queuedBatches.Inc()
	select {
	case q.ch <- batch:
	default:
		// backpressure path: slower than queueing, but never lossy
		q.logger.Warn("transparency queue full, writing synchronously", "records", len(batch))
		q.append(context.Background(), batch)
	}
}

func (q *RecordQueue) worker() {
	defer q.wg.Done()
	for batch := range q.ch {
		q.append(context.Background(), batch)
	}
}

func (q *RecordQueue) append(ctx context.Context, batch []models.TransparencyRecord) {
	for i := range batch {
		rec := batch[i]
		var err error
		for attempt := 0; attempt < 3; attempt++ {
			if err = q.store.Append(ctx, &rec); err == nil {
				break
			}
			time.Sleep(time.Duration(attempt+1) * 50 * time.Millisecond)
		}
		if err != nil {
			// surfacing loudly is all that is left at this point
			q.logger.Error("failed to append ranking transparency record", "event_id", rec.EventID, "bundle", rec.BundleID, "err", err)
			recordsDropped.Inc()
			continue
		}
		recordsAppended.Inc()
	}
}

// Shutdown stops accepting work and drains the buffer. Safe to call once.
func (q *RecordQueue) Shutdown(ctx context.Context) error {
	q.once.Do(func() { close(q.ch) })
	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
