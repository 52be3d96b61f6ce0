// Package feed is the external read path: candidate selection, bundle
// dispatch, and the feed/explain/transparency HTTP APIs.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"github.com/prism-social/prism/events"
	"github.com/prism-social/prism/models"
	"github.com/prism-social/prism/ranking"
	"github.com/prism-social/prism/search"
	"github.com/prism-social/prism/transparency"
)

var tracer = otel.Tracer("feed")

// Searcher is the slice of the search client the candidate window needs.
type Searcher interface {
	DoRecentPosts(ctx context.Context, size int) (*search.EsSearchResponse, error)
	DoSearchPosts(ctx context.Context, params *search.PostSearchParams) (*search.EsSearchResponse, error)
}

type ServiceConfig struct {
	// CandidateWindow bounds how many recent posts are scored per request.
	CandidateWindow int
	// SearchTimeout is the hard deadline on the search-index candidate
	// fetch before falling back to the primary store.
	SearchTimeout time.Duration
	AuthorCache   int
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		CandidateWindow: 200,
		SearchTimeout:   2 * time.Second,
		AuthorCache:     10000,
	}
}

type Service struct {
	db           *gorm.DB
	registry     *ranking.Registry
	transparency *transparency.Store
	searcher     Searcher
	queue        *RecordQueue
	cfg          ServiceConfig
	logger       *slog.Logger

	authorCache *lru.Cache[string, *models.AuthorAggregate]
}

func NewService(db *gorm.DB, registry *ranking.Registry, tlog *transparency.Store, searcher Searcher, cfg ServiceConfig, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("system", "feed")
	cache, err := lru.New[string, *models.AuthorAggregate](cfg.AuthorCache)
	if err != nil {
		return nil, err
	}
	return &Service{
		db:           db,
		registry:     registry,
		transparency: tlog,
		searcher:     searcher,
		queue:        NewRecordQueue(tlog, logger),
		cfg:          cfg,
		logger:       logger,
		authorCache:  cache,
	}, nil
}

// FeedParams is one feed request after HTTP parsing.
type FeedParams struct {
	BundleID string
	UserID   string
	Limit    int
	Offset   int
	Prefs    ranking.Preferences
}

type FeedItem struct {
	PostID      string   `json:"postId"`
	Score       float64  `json:"score"`
	Explanation []string `json:"explanation"`
}

type FeedResponse struct {
	Bundle     string     `json:"bundle"`
	Items      []FeedItem `json:"items"`
	NextCursor *int       `json:"nextCursor"`
}

// GetFeed scores a bounded candidate window under the requested bundle and
// returns the page at the request offset. Transparency records for every
// scored candidate are queued for durable append without blocking the
// response.
func (s *Service) GetFeed(ctx context.Context, params FeedParams) (*FeedResponse, error) {
	ctx, span := tracer.Start(ctx, "GetFeed")
	defer span.End()
	span.SetAttributes(attribute.String("bundle", params.BundleID), attribute.Int("limit", params.Limit))

	bundle, err := s.registry.Get(params.BundleID)
	if err != nil {
		return nil, err
	}

	posts, err := s.candidateWindow(ctx)
	if err != nil {
		return nil, err
	}

	req := &ranking.RequestContext{
		UserID:      params.UserID,
		Now:         time.Now(),
		FollowEdges: s.followEdges(ctx, params.UserID),
		Prefs:       params.Prefs,
	}
	if params.UserID != "" {
		if agg, ok := s.lookupAuthor(ctx, params.UserID); ok {
			req.UserLat = agg.Lat
			req.UserLon = agg.Lon
		}
	}

	res, err := bundle.Score(ctx, posts, req)
	if err != nil {
		return nil, fmt.Errorf("scoring candidates: %w", err)
	}

	// audit trail first, page math second: records cover the whole scored
	// window, not just the returned page
	s.queue.Enqueue(buildRecords(params.BundleID, res.Records))

	recordsByID := make(map[string]ranking.TransparencyPayload, len(res.Records))
	for _, rec := range res.Records {
		recordsByID[rec.PostID] = rec
	}

	start := params.Offset
	if start > len(res.OrderedIDs) {
		start = len(res.OrderedIDs)
	}
	end := start + params.Limit
	if end > len(res.OrderedIDs) {
		end = len(res.OrderedIDs)
	}

	out := &FeedResponse{Bundle: params.BundleID, Items: make([]FeedItem, 0, end-start)}
	for _, id := range res.OrderedIDs[start:end] {
		rec := recordsByID[id]
		out.Items = append(out.Items, FeedItem{
			PostID:      id,
			Score:       rec.Score,
			Explanation: rec.Explanation,
		})
	}
	if end < len(res.OrderedIDs) {
		next := end
		out.NextCursor = &next
	}
	return out, nil
}

// Explain returns the stored transparency record for one (bundle, post)
// pair. gorm.ErrRecordNotFound maps to 404 at the handler.
func (s *Service) Explain(ctx context.Context, bundleID, postID string) (*models.TransparencyRecord, error) {
	if _, err := s.registry.Get(bundleID); err != nil {
		return nil, err
	}
	return s.transparency.FindRankingRecord(ctx, bundleID, postID)
}

func (s *Service) Bundles() []ranking.BundleInfo {
	return s.registry.List()
}

// Shutdown flushes the pending transparency queue.
func (s *Service) Shutdown(ctx context.Context) error {
	return s.queue.Shutdown(ctx)
}

// candidateWindow fetches the most recent posts, preferring the search
// index under a hard timeout and falling back to the primary store, so a
// degraded search cluster slows feeds down instead of failing them.
func (s *Service) candidateWindow(ctx context.Context) ([]ranking.Post, error) {
	ctx, span := tracer.Start(ctx, "candidateWindow")
	defer span.End()

	if s.searcher != nil {
		searchCtx, cancel := context.WithTimeout(ctx, s.cfg.SearchTimeout)
		resp, err := s.searcher.DoRecentPosts(searchCtx, s.cfg.CandidateWindow)
		cancel()
		if err == nil {
			return s.postsFromSearch(ctx, resp), nil
		}
		span.SetAttributes(attribute.Bool("search_fallback", true))
		s.logger.Warn("search candidate fetch failed, falling back to primary store", "err", err)
		feedSearchFallbacks.Inc()
	}
	return s.postsFromPrimary(ctx)
}

func (s *Service) postsFromSearch(ctx context.Context, resp *search.EsSearchResponse) []ranking.Post {
	posts := make([]ranking.Post, 0, len(resp.Hits.Hits))
	for _, hit := range resp.Hits.Hits {
		var doc search.PostDoc
		if err := json.Unmarshal(hit.Source, &doc); err != nil {
			s.logger.Warn("skipping malformed search hit", "id", hit.ID, "err", err)
			continue
		}
		createdAt, err := time.Parse(time.RFC3339, doc.CreatedAt)
		if err != nil {
			createdAt = time.Time{}
		}
		posts = append(posts, s.hydratePost(ctx, doc.EventID, doc.AuthorDID, doc.Text, createdAt))
	}
	return posts
}

func (s *Service) postsFromPrimary(ctx context.Context) ([]ranking.Post, error) {
	var rows []models.Event
	err := s.db.WithContext(ctx).
		Where("kind = ?", string(events.KindPost)).
		Where("id NOT IN (?)", s.db.Model(&models.Tombstone{}).Select("event_id")).
		Order("created_at desc").
		Limit(s.cfg.CandidateWindow).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("fetching candidate window: %w", err)
	}
	posts := make([]ranking.Post, 0, len(rows))
	for _, row := range rows {
		posts = append(posts, s.hydratePost(ctx, row.ID, row.AuthorDID, row.Content, row.CreatedAt))
	}
	return posts, nil
}

// hydratePost joins author and engagement aggregates onto a candidate.
func (s *Service) hydratePost(ctx context.Context, id, authorDID, text string, createdAt time.Time) ranking.Post {
	p := ranking.Post{
		ID:        id,
		AuthorDID: authorDID,
		Text:      text,
		CreatedAt: createdAt,
	}
	if agg, ok := s.lookupAuthor(ctx, authorDID); ok {
		p.Reputation = agg.ReputationScore
		p.FollowerCount = int(agg.FollowerCount)
		p.Cluster = agg.Cluster
		p.Locale = agg.Locale
		p.Lat = agg.Lat
		p.Lon = agg.Lon
	} else {
		p.Reputation = 0.5
	}
	var stats models.PostAggregate
	if err := s.db.WithContext(ctx).First(&stats, "event_id = ?", id).Error; err == nil {
		p.LikeCount = int(stats.LikeCount)
		p.ReplyCount = int(stats.ReplyCount)
		p.RepostCount = int(stats.RepostCount)
	}
	return p
}

func (s *Service) lookupAuthor(ctx context.Context, did string) (*models.AuthorAggregate, bool) {
	if did == "" {
		return nil, false
	}
	if agg, ok := s.authorCache.Get(did); ok {
		return agg, true
	}
	var agg models.AuthorAggregate
	if err := s.db.WithContext(ctx).First(&agg, "author_did = ?", did).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.Warn("author lookup failed", "did", did, "err", err)
		}
		return nil, false
	}
	s.authorCache.Add(did, &agg)
	return &agg, true
}

// followEdges resolves the requester's follow graph from stored follow
// events. Strength is 0.8 for a direct follow; everything else stays at
// the bundles' neutral default.
func (s *Service) followEdges(ctx context.Context, userID string) map[string]float64 {
	if userID == "" {
		return nil
	}
	var rows []models.Event
	err := s.db.WithContext(ctx).
		Where("kind = ? AND author_did = ?", string(events.KindFollow), userID).
		Limit(10000).
		Find(&rows).Error
	if err != nil {
		s.logger.Warn("follow edge lookup failed", "user", userID, "err", err)
		return nil
	}
	edges := make(map[string]float64, len(rows))
	for _, row := range rows {
		var body events.FollowBody
		if err := json.Unmarshal(row.Body, &body); err != nil || body.Subject == "" {
			continue
		}
		edges[body.Subject] = 0.8
	}
	return edges
}

func buildRecords(bundleID string, payloads []ranking.TransparencyPayload) []models.TransparencyRecord {
	out := make([]models.TransparencyRecord, 0, len(payloads))
	for _, p := range payloads {
		decision, err := json.Marshal(p)
		if err != nil {
			continue
		}
		out = append(out, models.TransparencyRecord{
			EventID:      p.PostID,
			EventKind:    string(events.KindPost),
			BundleID:     bundleID,
			DecisionType: transparency.DecisionTypeRanking,
			Decision:     decision,
			ModeratorDID: "system",
		})
	}
	return out
}
