// Package transparency implements the append-only audit log of algorithmic
// decisions. Every moderation verdict and every scored feed candidate lands
// here; records are never edited, only appended and queried by cursor.
package transparency

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/prism-social/prism/models"
)

const (
	DecisionTypeModeration = "moderation"
	DecisionTypeRanking    = "ranking"
)

var ErrMalformedCursor = errors.New("malformed transparency cursor")

type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewStore(db *gorm.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		db:     db,
		logger: logger.With("system", "transparency"),
	}
}

// WithTx returns a store bound to an open transaction, so appends can share
// atomicity with the caller's other writes.
func (s *Store) WithTx(tx *gorm.DB) *Store {
	return &Store{db: tx, logger: s.logger}
}

// Append persists one record. A write failure propagates to the caller: an
// unauditable decision is a correctness bug, not a best-effort log miss.
func (s *Store) Append(ctx context.Context, rec *models.TransparencyRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	// cursor encoding is microsecond precision; keep stored timestamps
	// exactly representable so pages never skip same-instant records
	rec.CreatedAt = rec.CreatedAt.Truncate(time.Microsecond)
	if rec.ModeratorDID == "" {
		rec.ModeratorDID = "system"
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("appending transparency record: %w", err)
	}
	return nil
}

// QueryParams filter the log. Zero values mean unfiltered.
type QueryParams struct {
	DecisionType string
	BundleID     string
	EventID      string
	Cursor       string
	Limit        int
}

// Page is one query result. NextCursor is empty exactly when fewer than
// limit records were returned.
type Page struct {
	Records    []models.TransparencyRecord
	NextCursor string
}

// Query returns records in descending creation order. The cursor is
// exclusive and strictly decreasing; records created concurrently with
// pagination never shift already-returned pages.
func (s *Store) Query(ctx context.Context, params QueryParams) (*Page, error) {
	limit := params.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	q := s.db.WithContext(ctx).Model(&models.TransparencyRecord{})
	if params.DecisionType != "" {
		q = q.Where("decision_type = ?", params.DecisionType)
	}
	if params.BundleID != "" {
		q = q.Where("bundle_id = ?", params.BundleID)
	}
	if params.EventID != "" {
		q = q.Where("event_id = ?", params.EventID)
	}
	if params.Cursor != "" {
		createdAt, id, err := decodeCursor(params.Cursor)
		if err != nil {
			return nil, err
		}
		q = q.Where("created_at < ? OR (created_at = ? AND id < ?)", createdAt, createdAt, id)
	}

	var records []models.TransparencyRecord
	if err := q.Order("created_at desc, id desc").Limit(limit).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("querying transparency log: %w", err)
	}

	page := &Page{Records: records}
	if len(records) == limit {
		last := records[len(records)-1]
		page.NextCursor = encodeCursor(last.CreatedAt, last.ID)
	}
	return page, nil
}

// FindRankingRecord returns the most recent ranking record for a (bundle,
// post) pair, or gorm.ErrRecordNotFound if the post was never scored under
// that bundle.
func (s *Store) FindRankingRecord(ctx context.Context, bundleID, postID string) (*models.TransparencyRecord, error) {
	var rec models.TransparencyRecord
	err := s.db.WithContext(ctx).
		Where("decision_type = ? AND bundle_id = ? AND event_id = ?", DecisionTypeRanking, bundleID, postID).
		Order("created_at desc, id desc").
		First(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// cursors are "unixmicro|id", base64 so they pass through query strings
// opaquely

func encodeCursor(createdAt time.Time, id string) string {
	raw := strconv.FormatInt(createdAt.UnixMicro(), 10) + "|" + id
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(cursor string) (time.Time, string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("%w: %s", ErrMalformedCursor, cursor)
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 {
		return time.Time{}, "", fmt.Errorf("%w: %s", ErrMalformedCursor, cursor)
	}
	micros, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("%w: %s", ErrMalformedCursor, cursor)
	}
	return time.UnixMicro(micros), parts[1], nil
}
