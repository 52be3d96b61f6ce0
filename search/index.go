// Package search wraps the OpenSearch index that backs post queries and the
// feed candidate window. Indexing is best-effort relative to the primary
// store; callers own retry via the reconciliation backlog.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	es "github.com/opensearch-project/opensearch-go/v2"
	esapi "github.com/opensearch-project/opensearch-go/v2/opensearchapi"
	"go.opentelemetry.io/otel/attribute"
)

type Client struct {
	escli     *es.Client
	postIndex string
	logger    *slog.Logger
}

func NewClient(escli *es.Client, postIndex string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		escli:     escli,
		postIndex: postIndex,
		logger:    logger.With("system", "search"),
	}
}

func (c *Client) IndexPost(ctx context.Context, doc PostDoc) error {
	ctx, span := tracer.Start(ctx, "IndexPost")
	defer span.End()
	span.SetAttributes(attribute.String("event_id", doc.EventID))

	log := c.logger.With("event_id", doc.EventID, "op", "indexPost")

	b, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	log.Debug("indexing post")
	req := esapi.IndexRequest{
		Index:      c.postIndex,
		DocumentID: doc.DocId(),
		Body:       bytes.NewReader(b),
	}

	res, err := req.Do(ctx, c.escli)
	if err != nil {
		postsFailed.Inc()
		log.Warn("failed to send indexing request", "err", err)
		return fmt.Errorf("failed to send indexing request: %w", err)
	}
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		postsFailed.Inc()
		return fmt.Errorf("failed to read indexing response: %w", err)
	}
	if res.IsError() {
		postsFailed.Inc()
		log.Warn("opensearch indexing error", "status_code", res.StatusCode, "body", string(body))
		return fmt.Errorf("indexing error, code=%d", res.StatusCode)
	}
	postsIndexed.Inc()
	return nil
}

// DeletePost drops a document from the index, used when moderation removes
// a post after it was indexed. A missing document is not an error.
func (c *Client) DeletePost(ctx context.Context, eventID string) error {
	ctx, span := tracer.Start(ctx, "DeletePost")
	defer span.End()
	span.SetAttributes(attribute.String("event_id", eventID))

	log := c.logger.With("event_id", eventID, "op", "deletePost")
	log.Info("deleting post from index")
	req := esapi.DeleteRequest{
		Index:      c.postIndex,
		DocumentID: eventID,
		Refresh:    "true",
	}

	res, err := req.Do(ctx, c.escli)
	if err != nil {
		return fmt.Errorf("failed to delete post: %w", err)
	}
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("failed to read delete response: %w", err)
	}
	if res.StatusCode == 404 {
		return nil
	}
	if res.IsError() {
		log.Warn("opensearch delete error", "status_code", res.StatusCode, "body", string(body))
		return fmt.Errorf("delete error, code=%d", res.StatusCode)
	}
	postsDeleted.Inc()
	return nil
}
