package ranking

import (
	"context"
	"fmt"
	"math"
)

// LocalityFirstBundle emphasizes content close to the requester, by locale
// match and by geographic proximity when both sides have coordinates.
type LocalityFirstBundle struct{}

func (b *LocalityFirstBundle) ID() string   { return "locality_first" }
func (b *LocalityFirstBundle) Name() string { return "Locality First" }
func (b *LocalityFirstBundle) Description() string {
	return "Prioritizes content from users in your selected locales"
}
func (b *LocalityFirstBundle) Version() string { return "1.0.0" }

func (b *LocalityFirstBundle) Score(ctx context.Context, posts []Post, req *RequestContext) (*Result, error) {
	preferredLocales := req.Prefs.PreferredLocales
	if len(preferredLocales) == 0 {
		preferredLocales = []string{"en-US"}
	}
	localityWeight := req.Prefs.LocalityWeight
	if localityWeight == 0 {
		localityWeight = 0.6
	}
	maxDistanceKm := req.Prefs.MaxDistanceKm
	if maxDistanceKm == 0 {
		maxDistanceKm = 1000
	}

	now := req.now()
	scoredPosts := make([]scored, 0, len(posts))
	for _, p := range posts {
		recency := recencyScore(now, p.CreatedAt)
		edge := followEdge(req, p.AuthorDID)
		authorLocale := localeOf(p)

		localityMatch := 0.2
		for _, l := range preferredLocales {
			if l == authorLocale {
				localityMatch = 1.0
				break
			}
		}

		proximity, distanceKm, distanceKnown := proximityScore(req, p, maxDistanceKm)

		base := recency*0.2 + edge*0.2 + p.Reputation*0.2
		localityScore := (localityMatch*0.4 + proximity*0.2) * localityWeight
		score := base + localityScore

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
		if localityMatch > 0.8 {
			explanation = append(explanation, fmt.Sprintf("Locale match: %s", authorLocale))
		}
		if distanceKnown && distanceKm < maxDistanceKm {
			explanation = append(explanation, fmt.Sprintf("Nearby: %dkm away", int(math.Round(distanceKm))))
		}
		if localityScore > 0.3 {
			explanation = append(explanation, "Boosted for locality preference")
		}

		features := map[string]float64{
			"recency":          recency,
			"followEdge":       edge,
			"authorReputation": p.Reputation,
			"localityMatch":    localityMatch,
			"proximity":        proximity,
		}
		if distanceKnown {
			features["distanceKm"] = distanceKm
		}

		scoredPosts = append(scoredPosts, scored{
			post:  p,
			score: score,
			record: TransparencyPayload{
				PostID:   p.ID,
				BundleID: b.ID(),
				Features: features,
				Attributes: map[string]string{
					"authorLocale": authorLocale,
				},
				Weights: map[string]float64{
					"recency":          0.2,
					"followEdge":       0.2,
					"authorReputation": 0.2,
					"localityMatch":    0.4 * localityWeight,
					"proximity":        0.2 * localityWeight,
				},
				Score:       score,
				Explanation: explanation,
			},
		})
	}
	return finalize(scoredPosts), nil
}
