package ranking

import (
	"context"
	"math"
)

// AuthorWeightedBundle orders by author standing: reputation dominates, with
// audience size and a small recency term breaking ties.
type AuthorWeightedBundle struct{}

func (b *AuthorWeightedBundle) ID() string   { return "author_weighted" }
func (b *AuthorWeightedBundle) Name() string { return "Author Weighted" }
func (b *AuthorWeightedBundle) Description() string {
	return "Prioritizes posts from authors with higher reputation and reach"
}
func (b *AuthorWeightedBundle) Version() string { return "1.0.0" }

func (b *AuthorWeightedBundle) Score(ctx context.Context, posts []Post, req *RequestContext) (*Result, error) {
	now := req.now()
	scoredPosts := make([]scored, 0, len(posts))
	for _, p := range posts {
		recency := recencyScore(now, p.CreatedAt)
		audience := audienceScore(p.FollowerCount)

		score := p.Reputation*0.6 + audience*0.3 + recency*0.1

		var explanation []string
		if p.Reputation > 0.8 {
			explanation = append(explanation, "High reputation author")
		} else if p.Reputation > 0.6 {
			explanation = append(explanation, "Good reputation author")
		}
		if audience > 0.7 {
			explanation = append(explanation, "Widely followed author")
		}
		if recency > 0.8 {
			explanation = append(explanation, "Very recent post")
		}

		scoredPosts = append(scoredPosts, scored{
			post:  p,
			score: score,
			record: TransparencyPayload{
				PostID:   p.ID,
				BundleID: b.ID(),
				Features: map[string]float64{
					"authorReputation": p.Reputation,
					"audienceSize":     audience,
					"recency":          recency,
				},
				Weights: map[string]float64{
					"authorReputation": 0.6,
					"audienceSize":     0.3,
					"recency":          0.1,
				},
				Score:       score,
				Explanation: explanation,
			},
		})
	}
	return finalize(scoredPosts), nil
}

// audienceScore compresses raw follower counts onto [0,1]; 10k followers
// saturates the scale.
func audienceScore(followers int) float64 {
	if followers <= 0 {
		return 0
	}
	return math.Min(1, math.Log10(float64(followers)+1)/4)
}
