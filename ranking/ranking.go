// Package ranking implements the swappable feed scoring bundles.
//
// Every bundle is a pure function over a candidate window: it never touches
// storage, and all author features are resolved onto the Post struct by the
// caller before scoring. The only output besides the ordering is one
// transparency payload per candidate, which the caller is responsible for
// persisting.
package ranking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

var ErrUnknownBundle = errors.New("unknown ranking bundle")

// Post is a scoring candidate with author features already joined in.
type Post struct {
	ID        string
	AuthorDID string
	Text      string
	CreatedAt time.Time

	LikeCount   int
	ReplyCount  int
	RepostCount int

	// author aggregate features
	Reputation    float64
	FollowerCount int
	Cluster       string
	Locale        string
	Lat           *float64
	Lon           *float64
}

// RequestContext carries the requester identity and per-bundle preference
// knobs for a single feed request.
type RequestContext struct {
	UserID string

	// Now anchors recency decay; the zero value means time.Now(). Pinned in
	// tests and when re-scoring for explanations.
	Now time.Time

	// FollowEdges maps author DID to edge strength in [0,1] for the
	// requester. Authors not present get the neutral default.
	FollowEdges map[string]float64

	// requester coordinates, when known
	UserLat *float64
	UserLon *float64

	Prefs Preferences
}

// Preferences are the algorithm-specific knobs a requester may override.
// Zero values mean "use the bundle default".
type Preferences struct {
	RecencyWeight    float64
	FollowWeight     float64
	ReputationWeight float64

	PreferredClusters []string
	DiversityWeight   float64

	PreferredLocales []string
	LocalityWeight   float64
	MaxDistanceKm    float64

	DissentWeight        float64
	ControversyThreshold float64
}

func (c *RequestContext) now() time.Time {
	if c.Now.IsZero() {
		return time.Now()
	}
	return c.Now
}

// TransparencyPayload is the per-candidate "why" record: raw feature values,
// the weights applied to them, and a short human-readable explanation.
type TransparencyPayload struct {
	PostID      string             `json:"postId"`
	BundleID    string             `json:"bundleId"`
	Features    map[string]float64 `json:"features"`
	Attributes  map[string]string  `json:"attributes,omitempty"`
	Weights     map[string]float64 `json:"weights"`
	Score       float64            `json:"score"`
	Explanation []string           `json:"explanation"`
}

// Result is what a bundle returns for one candidate window.
type Result struct {
	OrderedIDs []string
	Records    []TransparencyPayload
}

// Bundle is a named, versioned scoring algorithm. Implementations must be
// stateless and safe for concurrent use.
type Bundle interface {
	ID() string
	Name() string
	Description() string
	Version() string
	Score(ctx context.Context, posts []Post, req *RequestContext) (*Result, error)
}

// BundleInfo is the public listing form of a registered bundle.
type BundleInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`
}

// Registry maps bundle ids to implementations. It is populated at startup
// and read-only afterwards, so lookups need no locking.
type Registry struct {
	bundles map[string]Bundle
}

func NewRegistry(bundles ...Bundle) (*Registry, error) {
	r := &Registry{bundles: make(map[string]Bundle)}
	for _, b := range bundles {
		if _, ok := r.bundles[b.ID()]; ok {
			return nil, fmt.Errorf("duplicate ranking bundle id: %s", b.ID())
		}
		r.bundles[b.ID()] = b
	}
	return r, nil
}

// DefaultRegistry returns the standard bundle set.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(
		&ChronologicalBundle{},
		&AuthorWeightedBundle{},
		&RecencyFollowBundle{},
		&MultipolarDiversityBundle{},
		&LocalityFirstBundle{},
		&DiversityDissentBundle{},
	)
	if err != nil {
		panic(err)
	}
	return r
}

// Get returns the bundle for an id. An unknown id is an error surfaced to
// the caller, never a fallback to a default algorithm.
func (r *Registry) Get(id string) (Bundle, error) {
	b, ok := r.bundles[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBundle, id)
	}
	return b, nil
}

// List returns all registered bundles sorted by id.
func (r *Registry) List() []BundleInfo {
	out := make([]BundleInfo, 0, len(r.bundles))
	for _, b := range r.bundles {
		out = append(out, BundleInfo{
			ID:          b.ID(),
			Name:        b.Name(),
			Description: b.Description(),
			Version:     b.Version(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type scored struct {
	post   Post
	score  float64
	record TransparencyPayload
}

// finalize sorts scored candidates into the canonical order and assembles
// the result. Ties break by createdAt descending, then id ascending, so
// repeated invocations over the same window always agree.
func finalize(posts []scored) *Result {
	sort.Slice(posts, func(i, j int) bool {
		if posts[i].score != posts[j].score {
			return posts[i].score > posts[j].score
		}
		if !posts[i].post.CreatedAt.Equal(posts[j].post.CreatedAt) {
			return posts[i].post.CreatedAt.After(posts[j].post.CreatedAt)
		}
		return posts[i].post.ID < posts[j].post.ID
	})
	res := &Result{
		OrderedIDs: make([]string, len(posts)),
		Records:    make([]TransparencyPayload, len(posts)),
	}
	for i, sp := range posts {
		res.OrderedIDs[i] = sp.post.ID
		res.Records[i] = sp.record
	}
	return res
}
