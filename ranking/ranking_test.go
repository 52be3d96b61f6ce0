package ranking

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryUnknownBundle(t *testing.T) {
	assert := assert.New(t)
	reg := DefaultRegistry()

	_, err := reg.Get("nonexistent")
	assert.Error(err)
	assert.True(errors.Is(err, ErrUnknownBundle))

	b, err := reg.Get("recency_follow")
	assert.NoError(err)
	assert.Equal("recency_follow", b.ID())
}

func TestRegistryList(t *testing.T) {
	assert := assert.New(t)
	infos := DefaultRegistry().List()
	assert.Len(infos, 6)
	for i := 1; i < len(infos); i++ {
		assert.Less(infos[i-1].ID, infos[i].ID)
	}
}

func TestRecencyFollowScenario(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	posts := []Post{
		{ID: "post-a", AuthorDID: "did:plc:alice", CreatedAt: now.Add(-1 * time.Hour), Reputation: 0.9},
		{ID: "post-b", AuthorDID: "did:plc:bob", CreatedAt: now.Add(-23 * time.Hour), Reputation: 0.5},
	}
	req := &RequestContext{Now: now}

	b := &RecencyFollowBundle{}
	res, err := b.Score(context.Background(), posts, req)
	require.NoError(err)

	assert.Equal([]string{"post-a", "post-b"}, res.OrderedIDs)
	require.Len(res.Records, 2)

	var recA, recB TransparencyPayload
	for _, rec := range res.Records {
		switch rec.PostID {
		case "post-a":
			recA = rec
		case "post-b":
			recB = rec
		}
	}
	assert.InDelta(0.958, recA.Features["recency"], 0.001)
	assert.InDelta(0.042, recB.Features["recency"], 0.001)
	assert.Equal(0.5, recA.Features["followEdge"])
	assert.Equal(0.4, recA.Weights["recency"])
	assert.Equal(0.3, recA.Weights["followEdge"])
	assert.Equal(0.3, recA.Weights["authorReputation"])
	assert.Greater(recA.Score, recB.Score)
}

func TestDeterminism(t *testing.T) {
	require := require.New(t)

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	posts := make([]Post, 0, 20)
	for i := 0; i < 20; i++ {
		posts = append(posts, Post{
			ID:         fmt.Sprintf("post-%02d", i),
			AuthorDID:  fmt.Sprintf("did:plc:author%d", i%5),
			Text:       fmt.Sprintf("post %d about tech and climate politics", i),
			CreatedAt:  now.Add(-time.Duration(i) * time.Hour),
			LikeCount:  i * 3,
			ReplyCount: i,
			Reputation: 0.3 + float64(i%7)*0.1,
			Cluster:    []string{"ICC", "BRICS", "NATO", "NonAligned"}[i%4],
			Locale:     []string{"en-US", "fr-FR", "de-DE"}[i%3],
		})
	}
	req := &RequestContext{UserID: "did:plc:author1", Now: now}

	for _, b := range []Bundle{
		&ChronologicalBundle{},
		&AuthorWeightedBundle{},
		&RecencyFollowBundle{},
		&MultipolarDiversityBundle{},
		&LocalityFirstBundle{},
		&DiversityDissentBundle{},
	} {
		first, err := b.Score(context.Background(), posts, req)
		require.NoError(err, b.ID())
		for i := 0; i < 3; i++ {
			again, err := b.Score(context.Background(), posts, req)
			require.NoError(err, b.ID())
			require.Equal(first.OrderedIDs, again.OrderedIDs, b.ID())
			require.Equal(first.Records, again.Records, b.ID())
		}
		require.Len(first.Records, len(posts), b.ID())
	}
}

func TestMonotonicRecency(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	// identical posts except createdAt
	posts := []Post{
		{ID: "older", AuthorDID: "did:plc:same", Text: "hello", CreatedAt: now.Add(-10 * time.Hour), Reputation: 0.5, Cluster: "ICC", Locale: "en-US"},
		{ID: "newer", AuthorDID: "did:plc:same", Text: "hello", CreatedAt: now.Add(-2 * time.Hour), Reputation: 0.5, Cluster: "ICC", Locale: "en-US"},
	}
	req := &RequestContext{Now: now}

	for _, b := range []Bundle{
		&ChronologicalBundle{},
		&AuthorWeightedBundle{},
		&RecencyFollowBundle{},
		&MultipolarDiversityBundle{},
		&LocalityFirstBundle{},
		&DiversityDissentBundle{},
	} {
		res, err := b.Score(context.Background(), posts, req)
		require.NoError(err, b.ID())
		assert.Equal([]string{"newer", "older"}, res.OrderedIDs, b.ID())
	}
}

func TestTieBreakOrder(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	created := now.Add(-48 * time.Hour)
	// all recency scores are 0, so chronological ties on score
	posts := []Post{
		{ID: "ccc", CreatedAt: created},
		{ID: "aaa", CreatedAt: created},
		{ID: "bbb", CreatedAt: created.Add(time.Minute)},
	}
	res, err := (&ChronologicalBundle{}).Score(context.Background(), posts, &RequestContext{Now: now})
	require.NoError(err)
	// newer createdAt first, then lexicographic id
	assert.Equal([]string{"bbb", "aaa", "ccc"}, res.OrderedIDs)
}

func TestRecencyDecayNeverNegative(t *testing.T) {
	assert := assert.New(t)
	now := time.Now()
	assert.Equal(1.0, recencyScore(now, now))
	assert.Equal(0.0, recencyScore(now, now.Add(-25*time.Hour)))
	assert.InDelta(0.5, recencyScore(now, now.Add(-12*time.Hour)), 0.001)
	// future timestamps clamp to 1
	assert.Equal(1.0, recencyScore(now, now.Add(time.Hour)))
}

func TestNormalizedEntropy(t *testing.T) {
	assert := assert.New(t)
	// uniform distribution maxes out
	assert.InDelta(1.0, normalizedEntropy(map[string]int{"a": 5, "b": 5, "c": 5}), 0.001)
	// single category has no diversity
	assert.Equal(0.0, normalizedEntropy(map[string]int{"a": 10}))
	assert.Equal(0.0, normalizedEntropy(nil))
	// skewed sits in between
	mid := normalizedEntropy(map[string]int{"a": 9, "b": 1})
	assert.Greater(mid, 0.0)
	assert.Less(mid, 1.0)
}

func TestHaversine(t *testing.T) {
	assert := assert.New(t)
	// New York to London is about 5570km
	d := haversineKm(40.7128, -74.0060, 51.5074, -0.1278)
	assert.InDelta(5570, d, 50)
	assert.InDelta(0, haversineKm(48.8566, 2.3522, 48.8566, 2.3522), 0.001)
}

func TestLocalityNeutralWithoutCoordinates(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	lat, lon := 48.8566, 2.3522
	posts := []Post{
		{ID: "located", AuthorDID: "did:plc:a", CreatedAt: now, Locale: "fr-FR", Lat: &lat, Lon: &lon},
		{ID: "unlocated", AuthorDID: "did:plc:b", CreatedAt: now, Locale: "fr-FR"},
	}
	req := &RequestContext{
		UserID:  "did:plc:me",
		Now:     now,
		UserLat: &lat,
		UserLon: &lon,
		Prefs:   Preferences{PreferredLocales: []string{"fr-FR"}},
	}
	res, err := (&LocalityFirstBundle{}).Score(context.Background(), posts, req)
	require.NoError(err)

	for _, rec := range res.Records {
		switch rec.PostID {
		case "located":
			assert.Equal(1.0, rec.Features["proximity"])
			assert.Contains(rec.Features, "distanceKm")
		case "unlocated":
			assert.Equal(0.5, rec.Features["proximity"])
			assert.NotContains(rec.Features, "distanceKm")
		}
	}
}

func TestMultipolarTwoPassDistribution(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	uniform := []Post{
		{ID: "p1", AuthorDID: "did:plc:a", CreatedAt: now, Cluster: "ICC"},
		{ID: "p2", AuthorDID: "did:plc:b", CreatedAt: now, Cluster: "BRICS"},
		{ID: "p3", AuthorDID: "did:plc:c", CreatedAt: now, Cluster: "NATO"},
	}
	homogeneous := []Post{
		{ID: "p1", AuthorDID: "did:plc:a", CreatedAt: now, Cluster: "ICC"},
		{ID: "p2", AuthorDID: "did:plc:b", CreatedAt: now, Cluster: "ICC"},
		{ID: "p3", AuthorDID: "did:plc:c", CreatedAt: now, Cluster: "ICC"},
	}
	req := &RequestContext{Now: now}
	b := &MultipolarDiversityBundle{}

	resU, err := b.Score(context.Background(), uniform, req)
	require.NoError(err)
	resH, err := b.Score(context.Background(), homogeneous, req)
	require.NoError(err)

	// clusterMix is a property of the whole window, identical across records
	assert.InDelta(1.0, resU.Records[0].Features["clusterMix"], 0.001)
	for _, rec := range resU.Records {
		assert.Equal(resU.Records[0].Features["clusterMix"], rec.Features["clusterMix"])
	}
	assert.Equal(0.0, resH.Records[0].Features["clusterMix"])
}

func TestEveryCandidateGetsRecord(t *testing.T) {
	require := require.New(t)

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	posts := []Post{
		{ID: "one", AuthorDID: "did:plc:a", CreatedAt: now},
		{ID: "two", AuthorDID: "did:plc:b", CreatedAt: now.Add(-time.Hour)},
		{ID: "three", AuthorDID: "did:plc:c", CreatedAt: now.Add(-2 * time.Hour)},
	}
	req := &RequestContext{Now: now}

	for _, info := range DefaultRegistry().List() {
		b, err := DefaultRegistry().Get(info.ID)
		require.NoError(err)
		res, err := b.Score(context.Background(), posts, req)
		require.NoError(err, info.ID)
		require.Len(res.Records, len(posts), info.ID)
		seen := make(map[string]bool)
		for _, rec := range res.Records {
			require.Equal(info.ID, rec.BundleID)
			require.NotNil(rec.Features, info.ID)
			require.NotNil(rec.Weights, info.ID)
			seen[rec.PostID] = true
		}
		require.Len(seen, len(posts), info.ID)
	}
}
