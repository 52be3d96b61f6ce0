// Package indexer implements the dual-write ingestion path: primary store
// first (the durability boundary), then best-effort search indexing with a
// reconciliation backlog for failures.
package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/prism-social/prism/automod"
	"github.com/prism-social/prism/events"
	"github.com/prism-social/prism/models"
	"github.com/prism-social/prism/search"
	"github.com/prism-social/prism/transparency"
)

var tracer = otel.Tracer("indexer")

// DocIndexer is the search-index side of the dual write.
type DocIndexer interface {
	IndexPost(ctx context.Context, doc search.PostDoc) error
	DeletePost(ctx context.Context, eventID string) error
}

// Publisher pushes follow-up events back onto the stream. Publishing is
// fire-and-forget relative to the ingestion transaction.
type Publisher interface {
	Publish(ctx context.Context, evt *events.ContentEvent) error
}

type Indexer struct {
	db           *gorm.DB
	docs         DocIndexer
	automod      *automod.Evaluator
	transparency *transparency.Store
	publisher    Publisher
	logger       *slog.Logger
}

func NewIndexer(db *gorm.DB, docs DocIndexer, evaluator *automod.Evaluator, tlog *transparency.Store, publisher Publisher, logger *slog.Logger) (*Indexer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := db.AutoMigrate(
		&models.Event{},
		&models.Tombstone{},
		&models.AuthorAggregate{},
		&models.PostAggregate{},
		&models.TransparencyRecord{},
		&models.DeadLetterEvent{},
		&models.IndexBacklog{},
	); err != nil {
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	return &Indexer{
		db:           db,
		docs:         docs,
		automod:      evaluator,
		transparency: tlog,
		publisher:    publisher,
		logger:       logger.With("system", "indexer"),
	}, nil
}

// HandleEvent ingests one validated event. Idempotent: the event id is the
// dedupe key for the primary row and every derived side effect, so stream
// redelivery never double-counts.
//
// An error return means the primary write did not land and the message must
// be redelivered. Search indexing failures are absorbed into the backlog.
func (ix *Indexer) HandleEvent(ctx context.Context, evt *events.ContentEvent) error {
	ctx, span := tracer.Start(ctx, "HandleEvent")
	defer span.End()
	span.SetAttributes(attribute.String("event_id", evt.ID), attribute.String("kind", string(evt.Kind)))

	switch evt.Kind {
	case events.KindPost:
		return ix.handlePost(ctx, evt)
	case events.KindRepost:
		return ix.handleReaction(ctx, evt, "repost_count")
	case events.KindLike:
		return ix.handleReaction(ctx, evt, "like_count")
	case events.KindFollow:
		return ix.handleFollow(ctx, evt)
	case events.KindProfile:
		return ix.handleProfile(ctx, evt)
	case events.KindModerationDecision, events.KindTransparencyRecord:
		// informational kinds are journaled but drive no side effects
		_, err := ix.storeEvent(ctx, ix.db, evt, "")
		if err == nil {
			eventsIndexed.WithLabelValues(string(evt.Kind)).Inc()
		}
		return err
	default:
		return fmt.Errorf("unhandled event kind: %q", evt.Kind)
	}
}

// storeEvent inserts the primary row, ignoring duplicates. The bool reports
// whether this call actually inserted the row.
func (ix *Indexer) storeEvent(ctx context.Context, tx *gorm.DB, evt *events.ContentEvent, content string) (bool, error) {
	refs, err := json.Marshal(evt.Refs)
	if err != nil {
		return false, fmt.Errorf("encoding event refs: %w", err)
	}
	row := models.Event{
		ID:         evt.ID,
		Kind:       string(evt.Kind),
		AuthorDID:  evt.AuthorDID,
		CreatedAt:  time.Unix(evt.CreatedAt, 0).UTC(),
		Content:    content,
		Body:       []byte(evt.Body),
		Refs:       refs,
		Source:     evt.Source,
		BundleID:   evt.BundleID,
		Signature:  evt.Signature,
		IngestedAt: time.Now().UTC(),
	}
	res := tx.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return false, fmt.Errorf("storing event: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (ix *Indexer) handlePost(ctx context.Context, evt *events.ContentEvent) error {
	log := ix.logger.With("event_id", evt.ID, "author", evt.AuthorDID)

	body, err := evt.DecodeBody()
	if err != nil {
		return err
	}
	post := body.(*events.PostBody)

	// moderation is deterministic, so it can run before the transaction and
	// simply not land if the event turns out to be a duplicate
	modResult, err := ix.automod.Evaluate(ctx, evt)
	if err != nil {
		return fmt.Errorf("evaluating moderation rules: %w", err)
	}
	decisionJSON, err := json.Marshal(modResult.Record)
	if err != nil {
		return fmt.Errorf("encoding moderation payload: %w", err)
	}

	var inserted bool
	err = ix.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inserted, err = ix.storeEvent(ctx, tx, evt, post.Text)
		if err != nil {
			return err
		}
		if !inserted {
			return nil
		}

		// postCount advances atomically in the same transaction as the
		// event insert, so partial failure can never undercount
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "author_did"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"post_count": gorm.Expr("author_aggregates.post_count + 1"),
			}),
		}).Create(&models.AuthorAggregate{
			AuthorDID:       evt.AuthorDID,
			ReputationScore: 0.5,
			PostCount:       1,
		}).Error; err != nil {
			return fmt.Errorf("updating author aggregate: %w", err)
		}

		// replies count toward the parent post's engagement
		if post.ReplyTo != "" {
			if err := incrementPostCounter(tx, post.ReplyTo, "reply_count"); err != nil {
				return err
			}
		}

		// every moderated post gets exactly one record, allow included
		if err := ix.transparency.WithTx(tx).Append(ctx, &models.TransparencyRecord{
			EventID:      evt.ID,
			EventKind:    string(evt.Kind),
			BundleID:     modResult.Decision.BundleID,
			DecisionType: transparency.DecisionTypeModeration,
			Decision:     decisionJSON,
			SubjectDID:   evt.AuthorDID,
			ModeratorDID: modResult.Decision.Reviewer,
		}); err != nil {
			return err
		}

		if modResult.Decision.Verdict == automod.VerdictRemove {
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&models.Tombstone{
				EventID:   evt.ID,
				Reason:    modResult.Decision.Rationale,
				RuleID:    firstRuleID(modResult.Decision),
				CreatedAt: time.Now().UTC(),
			}).Error; err != nil {
				return fmt.Errorf("storing tombstone: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if !inserted {
		log.Debug("duplicate post event, skipping side effects")
		return nil
	}

	eventsIndexed.WithLabelValues(string(evt.Kind)).Inc()
	moderationDecisions.WithLabelValues(string(modResult.Decision.Verdict)).Inc()

	// follow-up event for downstream consumers, fire-and-forget
	if modResult.Decision.Verdict != automod.VerdictAllow && ix.publisher != nil {
		if err := ix.publishModerationDecision(ctx, evt, modResult); err != nil {
			log.Warn("failed to publish moderation decision", "err", err)
		}
	}

	// removed posts never reach the search index
	if modResult.Decision.Verdict == automod.VerdictRemove {
		return nil
	}

	// best-effort: the event is already durable, failures go to the backlog
	ix.indexPostDoc(ctx, evt, post)
	return nil
}

func (ix *Indexer) indexPostDoc(ctx context.Context, evt *events.ContentEvent, post *events.PostBody) {
	if ix.docs == nil {
		return
	}
	var agg models.AuthorAggregate
	aggPtr := &agg
	if err := ix.db.WithContext(ctx).First(&agg, "author_did = ?", evt.AuthorDID).Error; err != nil {
		aggPtr = nil
	}
	doc := search.TransformPostEvent(evt, post, aggPtr)
	if err := ix.docs.IndexPost(ctx, doc); err != nil {
		ix.logger.Warn("search index write failed, queueing for reconciliation", "event_id", evt.ID, "err", err)
		ix.enqueueBacklog(ctx, evt.ID, err)
	}
}

func (ix *Indexer) enqueueBacklog(ctx context.Context, eventID string, cause error) {
	row := models.IndexBacklog{
		EventID:   eventID,
		Attempts:  0,
		LastError: cause.Error(),
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := ix.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"last_error": cause.Error(),
			"updated_at": time.Now().UTC(),
		}),
	}).Create(&row).Error; err != nil {
		// the event is durable in the primary store either way; a lost
		// backlog row only widens the staleness window until the next
		// full reconciliation sweep
		ix.logger.Error("failed to enqueue index backlog", "event_id", eventID, "err", err)
	}
	backlogEnqueued.Inc()
}

func (ix *Indexer) publishModerationDecision(ctx context.Context, subject *events.ContentEvent, res *automod.Result) error {
	body, err := json.Marshal(events.ModerationDecisionBody{
		Decision:  string(res.Decision.Verdict),
		Reason:    res.Decision.Rationale,
		Severity:  res.Decision.Severest(),
		RuleID:    firstRuleID(res.Decision),
		SubjectID: subject.ID,
	})
	if err != nil {
		return err
	}
	return ix.publisher.Publish(ctx, &events.ContentEvent{
		ID:        subject.ID + "#moderation",
		Kind:      events.KindModerationDecision,
		CreatedAt: time.Now().Unix(),
		AuthorDID: "did:prism:system",
		Body:      body,
		Refs:      []events.EntityRef{{Type: "event", ID: subject.ID}},
		Source:    "automod",
		BundleID:  res.Decision.BundleID,
	})
}

func (ix *Indexer) handleReaction(ctx context.Context, evt *events.ContentEvent, counter string) error {
	body, err := evt.DecodeBody()
	if err != nil {
		return err
	}
	var subject string
	switch b := body.(type) {
	case *events.RepostBody:
		subject = b.Subject
	case *events.LikeBody:
		subject = b.Subject
	}
	if subject == "" {
		return fmt.Errorf("%s event %s missing subject", evt.Kind, evt.ID)
	}

	var inserted bool
	err = ix.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inserted, err = ix.storeEvent(ctx, tx, evt, "")
		if err != nil || !inserted {
			return err
		}
		return incrementPostCounter(tx, subject, counter)
	})
	if err == nil && inserted {
		eventsIndexed.WithLabelValues(string(evt.Kind)).Inc()
	}
	return err
}

func (ix *Indexer) handleFollow(ctx context.Context, evt *events.ContentEvent) error {
	body, err := evt.DecodeBody()
	if err != nil {
		return err
	}
	follow := body.(*events.FollowBody)
	if follow.Subject == "" {
		return fmt.Errorf("follow event %s missing subject", evt.ID)
	}

	var inserted bool
	err = ix.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inserted, err = ix.storeEvent(ctx, tx, evt, "")
		if err != nil || !inserted {
			return err
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "author_did"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"follower_count": gorm.Expr("author_aggregates.follower_count + 1"),
			}),
		}).Create(&models.AuthorAggregate{
			AuthorDID:       follow.Subject,
			ReputationScore: 0.5,
			FollowerCount:   1,
		}).Error
	})
	if err == nil && inserted {
		eventsIndexed.WithLabelValues(string(evt.Kind)).Inc()
	}
	return err
}

func (ix *Indexer) handleProfile(ctx context.Context, evt *events.ContentEvent) error {
	body, err := evt.DecodeBody()
	if err != nil {
		return err
	}
	profile := body.(*events.ProfileBody)

	var inserted bool
	err = ix.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inserted, err = ix.storeEvent(ctx, tx, evt, "")
		if err != nil || !inserted {
			return err
		}
		assignments := map[string]interface{}{
			"display_name": profile.DisplayName,
			"locale":       profile.Locale,
			"cluster":      profile.Cluster,
		}
		agg := models.AuthorAggregate{
			AuthorDID:       evt.AuthorDID,
			ReputationScore: 0.5,
			DisplayName:     profile.DisplayName,
			Locale:          profile.Locale,
			Cluster:         profile.Cluster,
		}
		if profile.Location != nil {
			agg.Lat = &profile.Location.Lat
			agg.Lon = &profile.Location.Lon
			assignments["lat"] = profile.Location.Lat
			assignments["lon"] = profile.Location.Lon
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "author_did"}},
			DoUpdates: clause.Assignments(assignments),
		}).Create(&agg).Error
	})
	if err == nil && inserted {
		eventsIndexed.WithLabelValues(string(evt.Kind)).Inc()
	}
	return err
}

func incrementPostCounter(tx *gorm.DB, eventID, counter string) error {
	row := models.PostAggregate{EventID: eventID}
	switch counter {
	case "like_count":
		row.LikeCount = 1
	case "reply_count":
		row.ReplyCount = 1
	case "repost_count":
		row.RepostCount = 1
	default:
		return fmt.Errorf("unknown post counter: %s", counter)
	}
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			counter: gorm.Expr(fmt.Sprintf("post_aggregates.%s + 1", counter)),
		}),
	}).Create(&row).Error; err != nil {
		return fmt.Errorf("updating post aggregate: %w", err)
	}
	return nil
}

func firstRuleID(d automod.Decision) string {
	if len(d.Labels) == 0 {
		return ""
	}
	return d.Labels[0].RuleID
}
