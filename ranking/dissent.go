package ranking

import (
	"context"
	"math"
	"strings"
)

// DiversityDissentBundle surfaces minority and contrarian perspectives:
// posts from clusters that are rare in the candidate window, on contested
// topics, with engagement patterns that suggest active disagreement.
type DiversityDissentBundle struct{}

func (b *DiversityDissentBundle) ID() string   { return "diversity_dissent" }
func (b *DiversityDissentBundle) Name() string { return "Diversity & Dissent" }
func (b *DiversityDissentBundle) Description() string {
	return "Prioritizes diverse viewpoints and dissenting opinions"
}
func (b *DiversityDissentBundle) Version() string { return "1.0.0" }

var contestedTopics = []string{"censorship", "corruption", "conspiracy", "revolution"}

func (b *DiversityDissentBundle) Score(ctx context.Context, posts []Post, req *RequestContext) (*Result, error) {
	dissentWeight := req.Prefs.DissentWeight
	if dissentWeight == 0 {
		dissentWeight = 0.4
	}
	diversityWeight := req.Prefs.DiversityWeight
	if diversityWeight == 0 {
		diversityWeight = 0.3
	}
	controversyThreshold := req.Prefs.ControversyThreshold
	if controversyThreshold == 0 {
		controversyThreshold = 0.6
	}

	// first pass: cluster distribution, for both the rarity signal and the
	// window-level diversity feature
	clusterCounts := make(map[string]int)
	for _, p := range posts {
		clusterCounts[clusterOf(p)]++
	}
	windowDiversity := normalizedEntropy(clusterCounts)

	now := req.now()
	scoredPosts := make([]scored, 0, len(posts))
	for _, p := range posts {
		recency := recencyScore(now, p.CreatedAt)

		dissent := dissentScore(p, clusterCounts, len(posts))
		controversy := controversyLevel(p)

		base := recency*0.2 + p.Reputation*0.2
		dissentBoost := dissent*dissentWeight + controversy*0.2 + windowDiversity*diversityWeight
		score := base + dissentBoost

		var explanation []string
		if recency > 0.7 {
			explanation = append(explanation, "Recent post")
		}
		if p.Reputation > 0.7 {
			explanation = append(explanation, "Credible author")
		}
		if dissent > 0.7 {
			explanation = append(explanation, "Alternative perspective")
		} else if dissent > 0.5 {
			explanation = append(explanation, "Diverse viewpoint")
		}
		if controversy > controversyThreshold {
			explanation = append(explanation, "Controversial discussion")
		}
		if windowDiversity > 0.6 {
			explanation = append(explanation, "Multiple perspective coverage")
		}

		scoredPosts = append(scoredPosts, scored{
			post:  p,
			score: score,
			record: TransparencyPayload{
				PostID:   p.ID,
				BundleID: b.ID(),
				Features: map[string]float64{
					"recency":            recency,
					"authorReputation":   p.Reputation,
					"dissentScore":       dissent,
					"controversyLevel":   controversy,
					"viewpointDiversity": windowDiversity,
				},
				Attributes: map[string]string{
					"authorCluster": clusterOf(p),
				},
				Weights: map[string]float64{
					"recency":            0.2,
					"authorReputation":   0.2,
					"dissentScore":       dissentWeight,
					"controversyLevel":   0.2,
					"viewpointDiversity": diversityWeight,
				},
				Score:       score,
				Explanation: explanation,
			},
		})
	}
	return finalize(scoredPosts), nil
}

// dissentScore starts neutral and is boosted when the author's cluster is a
// minority of the window, and again when the post touches a contested topic.
func dissentScore(p Post, clusterCounts map[string]int, windowSize int) float64 {
	score := 0.5
	if windowSize > 0 {
		share := float64(clusterCounts[clusterOf(p)]) / float64(windowSize)
		if share < 0.25 {
			score += 0.3
		}
	}
	lower := strings.ToLower(p.Text)
	for _, topic := range contestedTopics {
		if strings.Contains(lower, topic) {
			score += 0.2
			break
		}
	}
	if score > 1 {
		score = 1
	}
	return score
}

// controversyLevel is high when likes and reposts are balanced and the post
// draws many replies relative to reactions.
func controversyLevel(p Post) float64 {
	likes := float64(p.LikeCount)
	reposts := float64(p.RepostCount)
	replies := float64(p.ReplyCount)
	if likes+reposts == 0 {
		return 0
	}
	balance := 1 - math.Abs(likes-reposts)/(likes+reposts)
	replyRatio := math.Min(1, replies/(likes+reposts+1))
	return balance*0.6 + replyRatio*0.4
}
