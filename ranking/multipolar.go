package ranking

import "context"

// MultipolarDiversityBundle boosts the window's viewpoint spread: cluster
// mix is a normalized Shannon entropy over the author clusters of the whole
// candidate window, so the distribution must be collected before any
// individual post is scored.
type MultipolarDiversityBundle struct{}

func (b *MultipolarDiversityBundle) ID() string   { return "multipolar_diversity" }
func (b *MultipolarDiversityBundle) Name() string { return "Multipolar Diversity" }
func (b *MultipolarDiversityBundle) Description() string {
	return "Prioritizes viewpoint diversity across configured source clusters"
}
func (b *MultipolarDiversityBundle) Version() string { return "1.0.0" }

func (b *MultipolarDiversityBundle) Score(ctx context.Context, posts []Post, req *RequestContext) (*Result, error) {
	// first pass: cluster distribution over the window
	clusterCounts := make(map[string]int)
	for _, p := range posts {
		clusterCounts[clusterOf(p)]++
	}
	clusterMix := normalizedEntropy(clusterCounts)

	now := req.now()
	scoredPosts := make([]scored, 0, len(posts))
	for _, p := range posts {
		recency := recencyScore(now, p.CreatedAt)
		edge := followEdge(req, p.AuthorDID)

		topics := extractTopics(p.Text)
		topicDiversity := 0.0
		if len(topics) > 0 {
			seen := make(map[string]bool)
			for _, t := range topics {
				seen[t] = true
			}
			topicDiversity = float64(len(seen)) / float64(len(topics))
		}
		sourceDiversity := clusterMix

		base := recency*0.3 + edge*0.2 + p.Reputation*0.2
		diversityBoost := clusterMix*0.15 + topicDiversity*0.1 + sourceDiversity*0.05
		score := base + diversityBoost

		var explanation []string
		if recency > 0.7 {
			explanation = append(explanation, "Recent post")
		}
		if edge > 0.7 {
			explanation = append(explanation, "Followed author")
		}
		if p.Reputation > 0.7 {
			explanation = append(explanation, "High reputation author")
		}
		if clusterMix > 0.6 {
			explanation = append(explanation, "Boosted for viewpoint diversity")
		}
		if topicDiversity > 0.6 {
			explanation = append(explanation, "Diverse topic coverage")
		}

		scoredPosts = append(scoredPosts, scored{
			post:  p,
			score: score,
			record: TransparencyPayload{
				PostID:   p.ID,
				BundleID: b.ID(),
				Features: map[string]float64{
					"recency":          recency,
					"followEdge":       edge,
					"authorReputation": p.Reputation,
					"clusterMix":       clusterMix,
					"topicDiversity":   topicDiversity,
					"sourceDiversity":  sourceDiversity,
				},
				Attributes: map[string]string{
					"authorCluster": clusterOf(p),
				},
				Weights: map[string]float64{
					"recency":          0.3,
					"followEdge":       0.2,
					"authorReputation": 0.2,
					"clusterMix":       0.15,
					"topicDiversity":   0.1,
					"sourceDiversity":  0.05,
				},
				Score:       score,
				Explanation: explanation,
			},
		})
	}
	return finalize(scoredPosts), nil
}
