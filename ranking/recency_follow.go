package ranking

import "context"

// RecencyFollowBundle is the default feed algorithm: a weighted blend of
// recency decay, follow-edge strength, and author reputation, with small
// engagement and content-length bonuses.
type RecencyFollowBundle struct{}

func (b *RecencyFollowBundle) ID() string   { return "recency_follow" }
func (b *RecencyFollowBundle) Name() string { return "Recency & Follow" }
func (b *RecencyFollowBundle) Description() string {
	return "Prioritizes recent content from authors you follow with good reputation"
}
func (b *RecencyFollowBundle) Version() string { return "1.0.0" }

func (b *RecencyFollowBundle) Score(ctx context.Context, posts []Post, req *RequestContext) (*Result, error) {
	recencyWeight := req.Prefs.RecencyWeight
	if recencyWeight == 0 {
		recencyWeight = 0.4
	}
	followWeight := req.Prefs.FollowWeight
	if followWeight == 0 {
		followWeight = 0.3
	}
	reputationWeight := req.Prefs.ReputationWeight
	if reputationWeight == 0 {
		reputationWeight = 0.3
	}

	now := req.now()
	scoredPosts := make([]scored, 0, len(posts))
	for _, p := range posts {
		recency := recencyScore(now, p.CreatedAt)
		edge := followEdge(req, p.AuthorDID)
		engagement := engagementScore(p)
		length := lengthScore(p)

		score := recency*recencyWeight +
			edge*followWeight +
			p.Reputation*reputationWeight +
			engagement*0.1 +
			length*0.1

		var explanation []string
		if recency > 0.8 {
			explanation = append(explanation, "Very recent post")
		} else if recency > 0.5 {
			explanation = append(explanation, "Recent post")
		}
		if edge > 0.8 {
			explanation = append(explanation, "Followed author")
		} else if edge > 0.6 {
			explanation = append(explanation, "Connected author")
		}
		if p.Reputation > 0.8 {
			explanation = append(explanation, "High reputation author")
		} else if p.Reputation > 0.6 {
			explanation = append(explanation, "Good reputation author")
		}
		if engagement > 0.7 {
			explanation = append(explanation, "High engagement")
		}
		if len(p.Text) > 200 && len(p.Text) < 1000 {
			explanation = append(explanation, "Optimal content length")
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
					"engagementScore":  engagement,
					"contentLength":    float64(len(p.Text)),
				},
				Weights: map[string]float64{
					"recency":          recencyWeight,
					"followEdge":       followWeight,
					"authorReputation": reputationWeight,
					"engagementScore":  0.1,
					"contentLength":    0.1,
				},
				Score:       score,
				Explanation: explanation,
			},
		})
	}
	return finalize(scoredPosts), nil
}
