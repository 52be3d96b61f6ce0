package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("search")

type EsSearchHit struct {
	Index  string          `json:"_index"`
	ID     string          `json:"_id"`
	Score  float64         `json:"_score"`
	Source json.RawMessage `json:"_source"`
}

type EsSearchHits struct {
	Total struct {
		Value    int
		Relation string
	} `json:"total"`
	MaxScore float64       `json:"max_score"`
	Hits     []EsSearchHit `json:"hits"`
}

type EsSearchResponse struct {
	Took     int          `json:"took"`
	TimedOut bool         `json:"timed_out"`
	Hits     EsSearchHits `json:"hits"`
}

type PostSearchParams struct {
	Query   string     `json:"q"`
	Author  string     `json:"author"`
	Since   *time.Time `json:"since"`
	Until   *time.Time `json:"until"`
	Tags    []string   `json:"tag"`
	Cluster string     `json:"cluster"`
	Locale  string     `json:"locale"`
	Offset  int        `json:"offset"`
	Size    int        `json:"size"`
}

// Filters turns search params in to actual elasticsearch/opensearch filter DSL
func (p *PostSearchParams) Filters() []map[string]interface{} {
	var filters []map[string]interface{}

	if p.Author != "" {
		filters = append(filters, map[string]interface{}{
			"term": map[string]interface{}{"author_did": map[string]interface{}{
				"value":            p.Author,
				"case_insensitive": true,
			}},
		})
	}

	if p.Cluster != "" {
		filters = append(filters, map[string]interface{}{
			"term": map[string]interface{}{"author_cluster": map[string]interface{}{
				"value":            p.Cluster,
				"case_insensitive": true,
			}},
		})
	}

	if p.Locale != "" {
		filters = append(filters, map[string]interface{}{
			"term": map[string]interface{}{"author_locale": map[string]interface{}{
				"value":            p.Locale,
				"case_insensitive": true,
			}},
		})
	}

	if p.Since != nil {
		filters = append(filters, map[string]interface{}{
			"range": map[string]interface{}{
				"created_at": map[string]interface{}{
					"gte": p.Since.UTC().Format(time.RFC3339),
				},
			},
		})
	}

	if p.Until != nil {
		filters = append(filters, map[string]interface{}{
			"range": map[string]interface{}{
				"created_at": map[string]interface{}{
					"lt": p.Until.UTC().Format(time.RFC3339),
				},
			},
		})
	}

	for _, tag := range p.Tags {
		filters = append(filters, map[string]interface{}{
			"term": map[string]interface{}{
				"tag": map[string]interface{}{
					"value":            tag,
					"case_insensitive": true,
				},
			},
		})
	}

	return filters
}

func checkParams(offset, size int) error {
	if offset+size > 10000 || size > 250 || offset > 10000 || offset < 0 || size < 0 {
		return fmt.Errorf("disallowed size/offset parameters")
	}
	return nil
}

// DoSearchPosts runs a full-text query over indexed posts with the given
// filters, newest first.
func (c *Client) DoSearchPosts(ctx context.Context, params *PostSearchParams) (*EsSearchResponse, error) {
	ctx, span := tracer.Start(ctx, "DoSearchPosts")
	defer span.End()

	if err := checkParams(params.Offset, params.Size); err != nil {
		return nil, err
	}
	basic := map[string]interface{}{
		"simple_query_string": map[string]interface{}{
			"query":            params.Query,
			"fields":           []string{"text"},
			"flags":            "AND|NOT|OR|PHRASE|PRECEDENCE|WHITESPACE",
			"default_operator": "and",
			"lenient":          true,
			"analyze_wildcard": false,
		},
	}
	filters := params.Filters()
	// filter out future posts
	filters = append(filters, map[string]interface{}{
		"range": map[string]interface{}{
			"created_at": map[string]interface{}{
				"lte": time.Now().UTC().Format(time.RFC3339),
			},
		},
	})
	query := map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"must":   basic,
				"filter": filters,
			},
		},
		"sort": map[string]any{
			"created_at": map[string]any{
				"order": "desc",
			},
		},
		"size": params.Size,
		"from": params.Offset,
	}

	return c.doSearch(ctx, query)
}

// DoRecentPosts fetches the most recent indexed posts, used as the feed
// candidate window.
func (c *Client) DoRecentPosts(ctx context.Context, size int) (*EsSearchResponse, error) {
	ctx, span := tracer.Start(ctx, "DoRecentPosts")
	defer span.End()

	if err := checkParams(0, size); err != nil {
		return nil, err
	}
	query := map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"filter": []map[string]interface{}{
					{
						"range": map[string]interface{}{
							"created_at": map[string]interface{}{
								"lte": time.Now().UTC().Format(time.RFC3339),
							},
						},
					},
				},
			},
		},
		"sort": map[string]any{
			"created_at": map[string]any{
				"order": "desc",
			},
		},
		"size": size,
	}

	return c.doSearch(ctx, query)
}

func (c *Client) doSearch(ctx context.Context, query interface{}) (*EsSearchResponse, error) {
	ctx, span := tracer.Start(ctx, "doSearch")
	defer span.End()
	span.SetAttributes(attribute.String("index", c.postIndex))

	b, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize query: %w", err)
	}
	c.logger.Debug("sending query", "index", c.postIndex, "query", string(b))

	res, err := c.escli.Search(
		c.escli.Search.WithContext(ctx),
		c.escli.Search.WithIndex(c.postIndex),
		c.escli.Search.WithBody(bytes.NewBuffer(b)),
	)
	if err != nil {
		queriesFailed.Inc()
		return nil, fmt.Errorf("search query error: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		queriesFailed.Inc()
		return nil, fmt.Errorf("failed to read search response: %w", err)
	}
	if res.IsError() {
		queriesFailed.Inc()
		c.logger.Warn("opensearch query error", "status_code", res.StatusCode, "body", string(body))
		return nil, fmt.Errorf("search error, code=%d", res.StatusCode)
	}

	var out EsSearchResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to parse search response: %w", err)
	}
	return &out, nil
}
