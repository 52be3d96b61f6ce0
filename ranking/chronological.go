package ranking

import "context"

// ChronologicalBundle is the no-algorithm baseline: newest first, nothing
// else. Useful both as a user-facing option and as a control when comparing
// bundle behavior.
type ChronologicalBundle struct{}

func (b *ChronologicalBundle) ID() string   { return "chronological" }
func (b *ChronologicalBundle) Name() string { return "Chronological" }
func (b *ChronologicalBundle) Description() string {
	return "Newest posts first with no algorithmic weighting"
}
func (b *ChronologicalBundle) Version() string { return "1.0.0" }

func (b *ChronologicalBundle) Score(ctx context.Context, posts []Post, req *RequestContext) (*Result, error) {
	now := req.now()
	scoredPosts := make([]scored, 0, len(posts))
	for _, p := range posts {
		recency := recencyScore(now, p.CreatedAt)
		scoredPosts = append(scoredPosts, scored{
			post:  p,
			score: recency,
			record: TransparencyPayload{
				PostID:   p.ID,
				BundleID: b.ID(),
				Features: map[string]float64{
					"recency": recency,
				},
				Weights: map[string]float64{
					"recency": 1,
				},
				Score:       recency,
				Explanation: []string{"Chronological order, no algorithmic weighting"},
			},
		})
	}
	return finalize(scoredPosts), nil
}
