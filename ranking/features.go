package ranking

import (
	"math"
	"strings"
	"time"
)

const recencyWindow = 24 * time.Hour

// recencyScore decays linearly from 1 at createdAt to 0 after 24 hours,
// and is never negative.
func recencyScore(now, createdAt time.Time) float64 {
	age := now.Sub(createdAt)
	if age <= 0 {
		return 1
	}
	return math.Max(0, 1-float64(age)/float64(recencyWindow))
}

// followEdge resolves the requester's edge strength to an author. Self is
// always 1.0; unknown edges get the neutral 0.5.
func followEdge(req *RequestContext, authorDID string) float64 {
	if req.UserID == "" {
		return 0.5
	}
	if req.UserID == authorDID {
		return 1.0
	}
	if v, ok := req.FollowEdges[authorDID]; ok {
		return v
	}
	return 0.5
}

// engagementScore normalizes like/reply/repost counts onto [0,1] with a log
// scale, weighting replies higher.
func engagementScore(p Post) float64 {
	total := float64(p.LikeCount) + float64(p.ReplyCount)*2 + float64(p.RepostCount)*1.5
	return math.Min(1, math.Log10(total+1)/2)
}

// lengthScore prefers substantive content, saturating at 500 characters.
func lengthScore(p Post) float64 {
	return math.Min(1, float64(len(p.Text))/500)
}

// normalizedEntropy computes the Shannon entropy of a categorical
// distribution, scaled by the maximum entropy for its support so the result
// lands in [0,1]. A single-category window scores 0.
func normalizedEntropy(counts map[string]int) float64 {
	total := 0
	for _, n := range counts {
		total += n
	}
	if total == 0 || len(counts) < 2 {
		return 0
	}
	h := 0.0
	for _, n := range counts {
		if n == 0 {
			continue
		}
		p := float64(n) / float64(total)
		h -= p * math.Log(p)
	}
	return math.Min(h/math.Log(float64(len(counts))), 1)
}

// haversineKm is the great-circle distance between two coordinates.
func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusKm = 6371
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}

// proximityScore maps distance onto [0,1], neutral 0.5 when either side has
// no coordinates so missing location data never penalizes a candidate.
func proximityScore(req *RequestContext, p Post, maxDistanceKm float64) (score float64, distanceKm float64, known bool) {
	if req.UserLat == nil || req.UserLon == nil || p.Lat == nil || p.Lon == nil {
		return 0.5, 0, false
	}
	d := haversineKm(*req.UserLat, *req.UserLon, *p.Lat, *p.Lon)
	return math.Max(0, 1-d/maxDistanceKm), d, true
}

var topicKeywords = []struct {
	keyword string
	topic   string
}{
	{"climate", "climate"},
	{"tech", "technology"},
	{"ai", "artificial intelligence"},
	{"politics", "politics"},
	{"economics", "economics"},
	{"health", "health"},
	{"education", "education"},
}

// extractTopics does cheap keyword spotting over post text. TODO: replace
// with the language-aware classifier once the enrichment pipeline lands.
func extractTopics(text string) []string {
	lower := strings.ToLower(text)
	var topics []string
	for _, tk := range topicKeywords {
		if strings.Contains(lower, tk.keyword) {
			topics = append(topics, tk.topic)
		}
	}
	return topics
}

func clusterOf(p Post) string {
	if p.Cluster == "" {
		return "unknown"
	}
	return p.Cluster
}

func localeOf(p Post) string {
	if p.Locale == "" {
		return "en-US"
	}
	return p.Locale
}
