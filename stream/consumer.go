// Package stream connects the ingestion pipeline to the durable event
// stream. Events arrive on subject-partitioned JetStream topics; the
// consumer validates each message and hands it to the indexer through a
// per-author ordered scheduler.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"gorm.io/gorm"

	"github.com/prism-social/prism/events"
	"github.com/prism-social/prism/models"
)

// EventHandler is the downstream ingestion entrypoint, satisfied by the
// indexer.
type EventHandler interface {
	HandleEvent(ctx context.Context, evt *events.ContentEvent) error
}

type ConsumerConfig struct {
	StreamName    string
	Subjects      []string
	DurableName   string
	MaxDeliveries int
	Concurrency   int
}

func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		StreamName:    "PRISM_EVENTS",
		Subjects:      []string{"events.>"},
		DurableName:   "prism-indexer",
		MaxDeliveries: 5,
		Concurrency:   8,
	}
}

type Consumer struct {
	js        jetstream.JetStream
	cfg       ConsumerConfig
	validator *events.Validator
	handler   EventHandler
	db        *gorm.DB
	scheduler *Scheduler
	logger    *slog.Logger

	consumeCtx jetstream.ConsumeContext
}

func NewConsumer(js jetstream.JetStream, cfg ConsumerConfig, validator *events.Validator, handler EventHandler, db *gorm.DB, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		js:        js,
		cfg:       cfg,
		validator: validator,
		handler:   handler,
		db:        db,
		logger:    logger.With("system", "stream"),
	}
}

// Run ensures the stream and durable consumer exist and starts consuming.
// Blocks until the context is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	s, err := c.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      c.cfg.StreamName,
		Subjects:  c.cfg.Subjects,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
	})
	if err != nil {
		return fmt.Errorf("ensuring stream exists: %w", err)
	}
	info := s.CachedInfo()
	c.logger.Info("jetstream stream ready", "name", info.Config.Name, "subjects", info.Config.Subjects)

	cons, err := s.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       c.cfg.DurableName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    c.cfg.MaxDeliveries,
		FilterSubject: "",
		AckWait:       time.Minute,
	})
	if err != nil {
		return fmt.Errorf("ensuring durable consumer exists: %w", err)
	}

	c.scheduler = NewScheduler(c.cfg.Concurrency, c.logger)

	cc, err := cons.Consume(func(msg jetstream.Msg) {
		c.dispatch(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("starting consume loop: %w", err)
	}
	c.consumeCtx = cc

	<-ctx.Done()
	cc.Stop()
	c.scheduler.Shutdown()
	return ctx.Err()
}

// dispatch validates a raw message and queues it for ordered processing.
// Runs on the JetStream callback goroutine, so it must not block on the
// handler itself.
func (c *Consumer) dispatch(ctx context.Context, msg jetstream.Msg) {
	messagesReceived.Inc()

	evt, err := c.validator.Validate(msg.Data())
	if err != nil {
		// terminal: redelivery cannot fix a malformed message
		if events.IsValidationError(err) {
			c.deadLetter(ctx, msg, err)
			if termErr := msg.Term(); termErr != nil {
				c.logger.Warn("failed to terminate malformed message", "err", termErr)
			}
			messagesRejected.Inc()
			return
		}
		c.nak(msg)
		return
	}

	task := &Task{
		PartitionKey: evt.AuthorDID,
		Do: func(taskCtx context.Context) error {
			return c.process(taskCtx, msg, evt)
		},
	}
	if err := c.scheduler.AddWork(ctx, task); err != nil {
		c.nak(msg)
	}
}

func (c *Consumer) process(ctx context.Context, msg jetstream.Msg, evt *events.ContentEvent) error {
	log := c.logger.With("event_id", evt.ID, "kind", evt.Kind)

	err := c.handler.HandleEvent(ctx, evt)
	if err == nil {
		if ackErr := msg.Ack(); ackErr != nil {
			log.Warn("failed to ack message", "err", ackErr)
		}
		messagesProcessed.Inc()
		return nil
	}

	meta, metaErr := msg.Metadata()
	if metaErr == nil && meta.NumDelivered >= uint64(c.cfg.MaxDeliveries) {
		log.Error("event exhausted deliveries, dead-lettering", "deliveries", meta.NumDelivered, "err", err)
		c.deadLetter(ctx, msg, err)
		if termErr := msg.Term(); termErr != nil {
			log.Warn("failed to terminate message", "err", termErr)
		}
		return err
	}

	// transient failure: leave unacked so the stream redelivers, ingestion
	// is idempotent on the event id
	log.Warn("event processing failed, requesting redelivery", "err", err)
	c.nak(msg)
	return err
}

func (c *Consumer) nak(msg jetstream.Msg) {
	if err := msg.Nak(); err != nil {
		c.logger.Warn("failed to nak message", "err", err)
	}
}

func (c *Consumer) deadLetter(ctx context.Context, msg jetstream.Msg, cause error) {
	deliveries := 0
	if meta, err := msg.Metadata(); err == nil {
		deliveries = int(meta.NumDelivered)
	}
	row := models.DeadLetterEvent{
		Subject:    msg.Subject(),
		Raw:        msg.Data(),
		Reason:     cause.Error(),
		Deliveries: deliveries,
	}
	if err := c.db.WithContext(ctx).Create(&row).Error; err != nil {
		c.logger.Error("failed to store dead letter", "err", err)
	}
	deadLetters.Inc()
}

// DeadLetters returns stored dead letter rows for operator inspection,
// newest first.
func DeadLetters(ctx context.Context, db *gorm.DB, limit int) ([]models.DeadLetterEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var rows []models.DeadLetterEvent
	if err := db.WithContext(ctx).Order("created_at desc").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

var ErrNotRunning = errors.New("consumer is not running")

// Stop halts consumption without waiting for context cancellation.
func (c *Consumer) Stop() error {
	if c.consumeCtx == nil {
		return ErrNotRunning
	}
	c.consumeCtx.Stop()
	return nil
}
