package feed

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/prism-social/prism/ranking"
	"github.com/prism-social/prism/search"
	"github.com/prism-social/prism/stream"
	"github.com/prism-social/prism/transparency"
)

type healthStatus struct {
	Status string `json:"status"`
}

func (s *Server) handleHealthCheck(e echo.Context) error {
	if err := s.db.WithContext(e.Request().Context()).Exec("SELECT 1").Error; err != nil {
		return e.JSON(503, healthStatus{Status: "degraded"})
	}
	return e.JSON(200, healthStatus{Status: "ok"})
}

func parseOffsetLimit(e echo.Context) (int, int, error) {
	offset := 0
	if c := strings.TrimSpace(e.QueryParam("cursor")); c != "" {
		v, err := strconv.Atoi(c)
		if err != nil || v < 0 {
			return 0, 0, &echo.HTTPError{
				Code:    400,
				Message: fmt.Sprintf("invalid value for 'cursor': %s", c),
			}
		}
		offset = v
	}

	limit := 25
	if l := strings.TrimSpace(e.QueryParam("limit")); l != "" {
		v, err := strconv.Atoi(l)
		if err != nil || v < 0 {
			return 0, 0, &echo.HTTPError{
				Code:    400,
				Message: fmt.Sprintf("invalid value for 'limit': %s", l),
			}
		}
		limit = v
	}
	if limit > 100 {
		limit = 100
	}
	return offset, limit, nil
}

func (s *Server) handleGetFeed(e echo.Context) error {
	ctx, span := tracer.Start(e.Request().Context(), "handleGetFeed")
	defer span.End()

	bundleID := strings.TrimSpace(e.QueryParam("bundle"))
	if bundleID == "" {
		return &echo.HTTPError{Code: 400, Message: "must pass a 'bundle' parameter"}
	}
	offset, limit, err := parseOffsetLimit(e)
	if err != nil {
		return err
	}

	params := FeedParams{
		BundleID: bundleID,
		UserID:   strings.TrimSpace(e.QueryParam("userId")),
		Limit:    limit,
		Offset:   offset,
	}
	if prefs := strings.TrimSpace(e.QueryParam("prefs")); prefs != "" {
		if err := json.Unmarshal([]byte(prefs), &params.Prefs); err != nil {
			return &echo.HTTPError{Code: 400, Message: "invalid value for 'prefs': must be a JSON object"}
		}
	}

	feedRequests.WithLabelValues(bundleID).Inc()
	out, err := s.svc.GetFeed(ctx, params)
	if err != nil {
		if errors.Is(err, ranking.ErrUnknownBundle) {
			return &echo.HTTPError{Code: 404, Message: fmt.Sprintf("unknown ranking bundle: %s", bundleID)}
		}
		return err
	}
	return e.JSON(200, out)
}

func (s *Server) handleListBundles(e echo.Context) error {
	return e.JSON(200, map[string]any{
		"bundles": s.svc.Bundles(),
	})
}

type explainResponse struct {
	PostID    string          `json:"postId"`
	BundleID  string          `json:"bundleId"`
	Decision  json.RawMessage `json:"decision"`
	CreatedAt time.Time       `json:"createdAt"`
}

func (s *Server) handleExplain(e echo.Context) error {
	ctx, span := tracer.Start(e.Request().Context(), "handleExplain")
	defer span.End()

	bundleID := e.Param("bundle")
	postID := e.Param("postId")

	rec, err := s.svc.Explain(ctx, bundleID, postID)
	if err != nil {
		if errors.Is(err, ranking.ErrUnknownBundle) {
			return &echo.HTTPError{Code: 404, Message: fmt.Sprintf("unknown ranking bundle: %s", bundleID)}
		}
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &echo.HTTPError{Code: 404, Message: fmt.Sprintf("post %s was never scored under bundle %s", postID, bundleID)}
		}
		return err
	}
	return e.JSON(200, explainResponse{
		PostID:    rec.EventID,
		BundleID:  rec.BundleID,
		Decision:  rec.Decision,
		CreatedAt: rec.CreatedAt,
	})
}

type transparencyLogEntry struct {
	ID           string          `json:"id"`
	EventID      string          `json:"eventId"`
	EventKind    string          `json:"eventKind"`
	BundleID     string          `json:"bundleId,omitempty"`
	DecisionType string          `json:"decisionType"`
	Decision     json.RawMessage `json:"decision"`
	ModeratorDID string          `json:"moderatorId"`
	CreatedAt    time.Time       `json:"createdAt"`
}

type transparencyLogResponse struct {
	Logs       []transparencyLogEntry `json:"logs"`
	NextCursor *string                `json:"nextCursor"`
}

func (s *Server) handleTransparencyLog(e echo.Context) error {
	ctx, span := tracer.Start(e.Request().Context(), "handleTransparencyLog")
	defer span.End()

	limit := 50
	if l := strings.TrimSpace(e.QueryParam("limit")); l != "" {
		v, err := strconv.Atoi(l)
		if err != nil || v < 0 {
			return &echo.HTTPError{Code: 400, Message: fmt.Sprintf("invalid value for 'limit': %s", l)}
		}
		limit = v
	}

	decisionType := strings.TrimSpace(e.QueryParam("type"))
	switch decisionType {
	case "", transparency.DecisionTypeModeration, transparency.DecisionTypeRanking:
	default:
		return &echo.HTTPError{Code: 400, Message: fmt.Sprintf("invalid value for 'type': %s", decisionType)}
	}

	page, err := s.svc.transparency.Query(ctx, transparency.QueryParams{
		DecisionType: decisionType,
		BundleID:     strings.TrimSpace(e.QueryParam("bundle")),
		EventID:      strings.TrimSpace(e.QueryParam("eventId")),
		Cursor:       strings.TrimSpace(e.QueryParam("cursor")),
		Limit:        limit,
	})
	if err != nil {
		if errors.Is(err, transparency.ErrMalformedCursor) {
			return &echo.HTTPError{Code: 400, Message: "invalid value for 'cursor'"}
		}
		return err
	}

	out := transparencyLogResponse{Logs: make([]transparencyLogEntry, 0, len(page.Records))}
	for _, rec := range page.Records {
		out.Logs = append(out.Logs, transparencyLogEntry{
			ID:           rec.ID,
			EventID:      rec.EventID,
			EventKind:    rec.EventKind,
			BundleID:     rec.BundleID,
			DecisionType: rec.DecisionType,
			Decision:     rec.Decision,
			ModeratorDID: rec.ModeratorDID,
			CreatedAt:    rec.CreatedAt,
		})
	}
	if page.NextCursor != "" {
		out.NextCursor = &page.NextCursor
	}
	return e.JSON(200, out)
}

func (s *Server) handleSearchPosts(e echo.Context) error {
	ctx, span := tracer.Start(e.Request().Context(), "handleSearchPosts")
	defer span.End()

	q := strings.TrimSpace(e.QueryParam("q"))
	if q == "" {
		return &echo.HTTPError{Code: 400, Message: "must pass non-empty search query"}
	}
	offset, limit, err := parseOffsetLimit(e)
	if err != nil {
		return err
	}

	if s.svc.searcher == nil {
		return &echo.HTTPError{Code: 503, Message: "search is not configured"}
	}
	resp, err := s.svc.searcher.DoSearchPosts(ctx, &search.PostSearchParams{
		Query:   q,
		Author:  strings.TrimSpace(e.QueryParam("author")),
		Cluster: strings.TrimSpace(e.QueryParam("cluster")),
		Locale:  strings.TrimSpace(e.QueryParam("locale")),
		Offset:  offset,
		Size:    limit,
	})
	if err != nil {
		return err
	}

	hits := make([]json.RawMessage, 0, len(resp.Hits.Hits))
	for _, h := range resp.Hits.Hits {
		hits = append(hits, h.Source)
	}
	return e.JSON(200, map[string]any{
		"posts": hits,
		"total": resp.Hits.Total.Value,
	})
}

type deadLetterEntry struct {
	ID         uint      `json:"id"`
	Subject    string    `json:"subject"`
	Reason     string    `json:"reason"`
	Deliveries int       `json:"deliveries"`
	CreatedAt  time.Time `json:"createdAt"`
}

func (s *Server) handleDeadLetters(e echo.Context) error {
	limit := 100
	if l := strings.TrimSpace(e.QueryParam("limit")); l != "" {
		v, err := strconv.Atoi(l)
		if err != nil || v < 0 {
			return &echo.HTTPError{Code: 400, Message: fmt.Sprintf("invalid value for 'limit': %s", l)}
		}
		limit = v
	}
	rows, err := stream.DeadLetters(e.Request().Context(), s.db, limit)
	if err != nil {
		return err
	}
	out := make([]deadLetterEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, deadLetterEntry{
			ID:         row.ID,
			Subject:    row.Subject,
			Reason:     row.Reason,
			Deliveries: row.Deliveries,
			CreatedAt:  row.CreatedAt,
		})
	}
	return e.JSON(200, map[string]any{"deadLetters": out})
}
