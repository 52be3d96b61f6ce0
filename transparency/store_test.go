package transparency

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/prism-social/prism/models"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.TransparencyRecord{}))
	return NewStore(db, nil)
}

func TestAppendAndQuery(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	s := testStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(s.Append(ctx, &models.TransparencyRecord{
			EventID:      fmt.Sprintf("evt-%d", i),
			EventKind:    "post",
			BundleID:     "recency_follow",
			DecisionType: DecisionTypeRanking,
			Decision:     []byte(`{"score":0.5}`),
			CreatedAt:    base.Add(time.Duration(i) * time.Minute),
		}))
	}

	page, err := s.Query(ctx, QueryParams{Limit: 10})
	require.NoError(err)
	require.Len(page.Records, 5)
	assert.Empty(page.NextCursor)
	// descending creation order
	for i := 1; i < len(page.Records); i++ {
		assert.False(page.Records[i].CreatedAt.After(page.Records[i-1].CreatedAt))
	}
	assert.Equal("evt-4", page.Records[0].EventID)

	// defaults are filled on append
	assert.Equal("system", page.Records[0].ModeratorDID)
	assert.NotEmpty(page.Records[0].ID)
}

func TestQueryFilters(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	s := testStore(t)
	ctx := context.Background()

	require.NoError(s.Append(ctx, &models.TransparencyRecord{
		EventID: "evt-1", BundleID: "recency_follow", DecisionType: DecisionTypeRanking,
	}))
	require.NoError(s.Append(ctx, &models.TransparencyRecord{
		EventID: "evt-1", BundleID: "baseline_rules", DecisionType: DecisionTypeModeration,
	}))

	page, err := s.Query(ctx, QueryParams{DecisionType: DecisionTypeModeration, Limit: 10})
	require.NoError(err)
	require.Len(page.Records, 1)
	assert.Equal("baseline_rules", page.Records[0].BundleID)

	page, err = s.Query(ctx, QueryParams{BundleID: "recency_follow", Limit: 10})
	require.NoError(err)
	require.Len(page.Records, 1)
	assert.Equal(DecisionTypeRanking, page.Records[0].DecisionType)
}

func TestCursorPaginationStable(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	s := testStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	// two records share a timestamp to exercise the id tiebreak
	for i := 0; i < 7; i++ {
		ts := base.Add(time.Duration(i/2) * time.Minute)
		require.NoError(s.Append(ctx, &models.TransparencyRecord{
			ID:           fmt.Sprintf("rec-%d", i),
			EventID:      fmt.Sprintf("evt-%d", i),
			DecisionType: DecisionTypeRanking,
			CreatedAt:    ts,
		}))
	}

	var all []string
	cursor := ""
	for {
		page, err := s.Query(ctx, QueryParams{Limit: 3, Cursor: cursor})
		require.NoError(err)
		for _, rec := range page.Records {
			all = append(all, rec.ID)
		}
		if page.NextCursor == "" {
			break
		}
		// a concurrent insert at the head must not shift later pages
		require.NoError(s.Append(ctx, &models.TransparencyRecord{
			EventID:      "evt-new",
			DecisionType: DecisionTypeRanking,
			CreatedAt:    base.Add(time.Hour),
		}))
		cursor = page.NextCursor
	}

	require.Len(all, 7)
	seen := make(map[string]bool)
	for _, id := range all {
		assert.False(seen[id], "record %s returned twice", id)
		seen[id] = true
	}
}

func TestNextCursorNilOnShortPage(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	s := testStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(s.Append(ctx, &models.TransparencyRecord{
			EventID: fmt.Sprintf("evt-%d", i), DecisionType: DecisionTypeRanking,
		}))
	}

	page, err := s.Query(ctx, QueryParams{Limit: 3})
	require.NoError(err)
	assert.NotEmpty(page.NextCursor)

	page, err = s.Query(ctx, QueryParams{Limit: 3, Cursor: page.NextCursor})
	require.NoError(err)
	assert.Empty(page.Records)
	assert.Empty(page.NextCursor)
}

func TestMalformedCursor(t *testing.T) {
	s := testStore(t)
	_, err := s.Query(context.Background(), QueryParams{Cursor: "not!!valid"})
	assert.ErrorIs(t, err, ErrMalformedCursor)
}

func TestFindRankingRecord(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	s := testStore(t)
	ctx := context.Background()

	require.NoError(s.Append(ctx, &models.TransparencyRecord{
		EventID: "post-1", BundleID: "recency_follow", DecisionType: DecisionTypeRanking,
		Decision:  []byte(`{"score":0.9}`),
		CreatedAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}))

	rec, err := s.FindRankingRecord(ctx, "recency_follow", "post-1")
	require.NoError(err)
	assert.Equal("post-1", rec.EventID)

	_, err = s.FindRankingRecord(ctx, "locality_first", "post-1")
	assert.ErrorIs(err, gorm.ErrRecordNotFound)
}
