package boost

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prism-social/prism/ranking"
)

func TestUpliftCapped(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	eng := NewEngine()
	require.NoError(eng.AddCampaign(&Campaign{
		ID:      "camp-1",
		PostID:  "post-1",
		Status:  CampaignActive,
		StartAt: now.Add(-time.Hour),
		EndAt:   now.Add(time.Hour),
		MaxBid:  100000, // absurd bid still hits the cap
		Budget:  10000,
	}))

	final, rec := eng.Apply("post-1", 0.8, "recency_follow", now)
	require.NotNil(rec)
	assert.Equal(UpliftCap, rec.UpliftRatio)
	assert.InDelta(0.8*1.15, final, 0.0001)
	assert.Equal(PacingWithinBudget, rec.PacingStatus)
}

func TestNoCampaignNoUplift(t *testing.T) {
	assert := assert.New(t)
	eng := NewEngine()
	final, rec := eng.Apply("post-1", 0.8, "recency_follow", time.Now())
	assert.Nil(rec)
	assert.Equal(0.8, final)
}

func TestExpiredCampaignSkipped(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	eng := NewEngine()
	require.NoError(eng.AddCampaign(&Campaign{
		PostID:  "post-1",
		Status:  CampaignActive,
		StartAt: now.Add(-48 * time.Hour),
		EndAt:   now.Add(-24 * time.Hour),
		MaxBid:  50,
		Budget:  10000,
	}))
	_, rec := eng.Apply("post-1", 0.8, "recency_follow", now)
	assert.Nil(rec)
}

func TestBudgetExhaustionCompletesCampaign(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	eng := NewEngine()
	require.NoError(eng.AddCampaign(&Campaign{
		PostID:  "post-1",
		Status:  CampaignActive,
		StartAt: now.Add(-time.Hour),
		EndAt:   now.Add(time.Hour),
		MaxBid:  200, // spends 2 per application
		Budget:  4,
	}))

	_, rec := eng.Apply("post-1", 0.5, "chronological", now)
	assert.NotNil(rec)
	_, rec = eng.Apply("post-1", 0.5, "chronological", now)
	assert.NotNil(rec)
	// budget gone
	_, rec = eng.Apply("post-1", 0.5, "chronological", now)
	assert.Nil(rec)
}

func TestWrappedBundleReordersAndAnnotates(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	eng := NewEngine()
	require.NoError(eng.AddCampaign(&Campaign{
		PostID:  "older",
		Status:  CampaignActive,
		StartAt: now.Add(-time.Hour),
		EndAt:   now.Add(time.Hour),
		MaxBid:  100000,
		Budget:  100000,
	}))

	b := Wrap(&ranking.ChronologicalBundle{}, eng)
	assert.Equal("chronological_boosted", b.ID())

	posts := []ranking.Post{
		{ID: "newer", AuthorDID: "did:plc:a", CreatedAt: now.Add(-10 * time.Minute)},
		{ID: "older", AuthorDID: "did:plc:b", CreatedAt: now.Add(-30 * time.Minute)},
	}
	res, err := b.Score(context.Background(), posts, &ranking.RequestContext{Now: now})
	require.NoError(err)

	// 15% uplift on 0.979 beats 0.993, so the promoted post wins
	assert.Equal([]string{"older", "newer"}, res.OrderedIDs)
	require.Len(res.Records, 2)
	var boostedRec ranking.TransparencyPayload
	for _, rec := range res.Records {
		if rec.PostID == "older" {
			boostedRec = rec
		}
	}
	assert.Contains(boostedRec.Features, "boostUplift")
	assert.NotEmpty(boostedRec.Attributes["boostCampaignId"])
}
