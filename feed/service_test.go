package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/prism-social/prism/models"
	"github.com/prism-social/prism/ranking"
	"github.com/prism-social/prism/transparency"
)

func testService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Event{},
		&models.Tombstone{},
		&models.AuthorAggregate{},
		&models.PostAggregate{},
		&models.TransparencyRecord{},
		&models.DeadLetterEvent{},
	))

	tlog := transparency.NewStore(db, nil)
	svc, err := NewService(db, ranking.DefaultRegistry(), tlog, nil, DefaultServiceConfig(), nil)
	require.NoError(t, err)
	return svc, db
}

func seedPosts(t *testing.T, db *gorm.DB, n int) {
	t.Helper()
	base := time.Now().Add(-time.Hour)
	for i := 0; i < n; i++ {
		require.NoError(t, db.Create(&models.Event{
			ID:        fmt.Sprintf("post-%02d", i),
			Kind:      "post",
			AuthorDID: fmt.Sprintf("did:plc:author%d", i%3),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
			Content:   fmt.Sprintf("post number %d", i),
		}).Error)
	}
}

func TestGetFeedUnknownBundle(t *testing.T) {
	svc, _ := testService(t)
	_, err := svc.GetFeed(context.Background(), FeedParams{BundleID: "nonexistent", Limit: 10})
	assert.True(t, errors.Is(err, ranking.ErrUnknownBundle))
}

func TestGetFeedFromPrimaryStore(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	svc, db := testService(t)
	seedPosts(t, db, 10)

	out, err := svc.GetFeed(context.Background(), FeedParams{BundleID: "chronological", Limit: 5})
	require.NoError(err)
	require.Len(out.Items, 5)
	// newest first
	assert.Equal("post-09", out.Items[0].PostID)
	require.NotNil(out.NextCursor)
	assert.Equal(5, *out.NextCursor)

	// second page
	out2, err := svc.GetFeed(context.Background(), FeedParams{BundleID: "chronological", Limit: 5, Offset: *out.NextCursor})
	require.NoError(err)
	require.Len(out2.Items, 5)
	assert.Equal("post-04", out2.Items[0].PostID)
	assert.Nil(out2.NextCursor)
}

func TestGetFeedExcludesTombstoned(t *testing.T) {
	require := require.New(t)
	svc, db := testService(t)
	seedPosts(t, db, 5)
	require.NoError(db.Create(&models.Tombstone{EventID: "post-04", Reason: "removed", CreatedAt: time.Now()}).Error)

	out, err := svc.GetFeed(context.Background(), FeedParams{BundleID: "chronological", Limit: 10})
	require.NoError(err)
	for _, item := range out.Items {
		require.NotEqual("post-04", item.PostID)
	}
}

func TestGetFeedAuditCompleteness(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	svc, db := testService(t)
	seedPosts(t, db, 8)

	_, err := svc.GetFeed(context.Background(), FeedParams{BundleID: "recency_follow", Limit: 3})
	require.NoError(err)

	// drain the async queue
	require.NoError(svc.Shutdown(context.Background()))

	// every scored candidate has a record, not just the returned page
	var count int64
	require.NoError(db.Model(&models.TransparencyRecord{}).
		Where("decision_type = ? AND bundle_id = ?", transparency.DecisionTypeRanking, "recency_follow").
		Count(&count).Error)
	assert.EqualValues(8, count)
}

func TestGetFeedUsesAuthorFeatures(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	svc, db := testService(t)

	now := time.Now()
	require.NoError(db.Create(&models.Event{
		ID: "post-high", Kind: "post", AuthorDID: "did:plc:famous", CreatedAt: now.Add(-time.Minute), Content: "a",
	}).Error)
	require.NoError(db.Create(&models.Event{
		ID: "post-low", Kind: "post", AuthorDID: "did:plc:nobody", CreatedAt: now.Add(-time.Minute), Content: "a",
	}).Error)
	require.NoError(db.Create(&models.AuthorAggregate{
		AuthorDID: "did:plc:famous", ReputationScore: 0.95,
	}).Error)

	out, err := svc.GetFeed(context.Background(), FeedParams{BundleID: "recency_follow", Limit: 2})
	require.NoError(err)
	require.Len(out.Items, 2)
	assert.Equal("post-high", out.Items[0].PostID)
}

func TestExplain(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	svc, db := testService(t)
	seedPosts(t, db, 3)

	_, err := svc.GetFeed(context.Background(), FeedParams{BundleID: "recency_follow", Limit: 3})
	require.NoError(err)
	require.NoError(svc.Shutdown(context.Background()))

	rec, err := svc.Explain(context.Background(), "recency_follow", "post-00")
	require.NoError(err)
	assert.Equal("recency_follow", rec.BundleID)
	assert.Contains(string(rec.Decision), "features")

	// scored under a different bundle only
	_, err = svc.Explain(context.Background(), "locality_first", "post-00")
	assert.ErrorIs(err, gorm.ErrRecordNotFound)

	_, err = svc.Explain(context.Background(), "nonexistent", "post-00")
	assert.ErrorIs(err, ranking.ErrUnknownBundle)
}

func TestHandleGetFeedStatusCodes(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	svc, db := testService(t)
	seedPosts(t, db, 3)
	srv := NewServer(svc, db, nil)

	e := echo.New()

	do := func(target string) (int, error) {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		err := srv.handleGetFeed(c)
		if err != nil {
			var he *echo.HTTPError
			if errors.As(err, &he) {
				return he.Code, err
			}
			return 500, err
		}
		return rec.Code, nil
	}

	code, err := do("/feed?bundle=chronological&limit=2")
	require.NoError(err)
	assert.Equal(200, code)

	code, _ = do("/feed?bundle=nonexistent")
	assert.Equal(404, code)

	code, _ = do("/feed")
	assert.Equal(400, code)

	code, _ = do("/feed?bundle=chronological&limit=notanumber")
	assert.Equal(400, code)

	code, _ = do("/feed?bundle=chronological&cursor=-4")
	assert.Equal(400, code)
}
