package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/prism-social/prism/events"
)

// Publisher pushes events onto the stream, one subject per event kind. The
// event id doubles as the JetStream message id, so republishing after a
// partial failure deduplicates server-side.
type Publisher struct {
	js            jetstream.JetStream
	subjectPrefix string
	logger        *slog.Logger
}

func NewPublisher(js jetstream.JetStream, subjectPrefix string, logger *slog.Logger) *Publisher {
	if subjectPrefix == "" {
		subjectPrefix = "events"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		js:            js,
		subjectPrefix: subjectPrefix,
		logger:        logger.With("system", "stream"),
	}
}

func (p *Publisher) Publish(ctx context.Context, evt *events.ContentEvent) error {
	b, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	subject := fmt.Sprintf("%s.%s", p.subjectPrefix, evt.Kind)
	_, err = p.js.Publish(ctx, subject, b, jetstream.WithMsgID(evt.ID))
	if err != nil {
		return fmt.Errorf("publishing event %s: %w", evt.ID, err)
	}
	eventsPublished.WithLabelValues(string(evt.Kind)).Inc()
	p.logger.Debug("published event", "subject", subject, "event_id", evt.ID)
	return nil
}
