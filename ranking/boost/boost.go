// Package boost implements transparent promoted distribution: a campaign
// can lift a post's ranking score by at most 15%, and every applied uplift
// produces an audit record naming the campaign and the exact score delta.
package boost

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/prism-social/prism/ranking"
)

// UpliftCap is the hard ceiling on promoted uplift. No campaign setting can
// raise a score by more than this fraction.
const UpliftCap = 0.15

type CampaignStatus string

const (
	CampaignActive    CampaignStatus = "active"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
)

type PacingStatus string

const (
	PacingWithinBudget     PacingStatus = "within_budget"
	PacingApproachingLimit PacingStatus = "approaching_limit"
	PacingPaused           PacingStatus = "paused"
)

// Campaign promotes a single post for a bounded flight window and budget.
// Budgets are in cents.
type Campaign struct {
	ID        string
	PostID    string
	Status    CampaignStatus
	StartAt   time.Time
	EndAt     time.Time
	MaxBid    int64
	Budget    int64
	Spent     int64
	UpliftCap float64

	Impressions int64
}

// Record is the audit entry for one applied uplift.
type Record struct {
	ID           string       `json:"id"`
	CampaignID   string       `json:"campaignId"`
	PostID       string       `json:"postId"`
	BaseScore    float64      `json:"baseScore"`
	Uplift       float64      `json:"uplift"`
	FinalScore   float64      `json:"finalScore"`
	UpliftRatio  float64      `json:"upliftRatio"`
	Algorithm    string       `json:"algorithm"`
	PacingStatus PacingStatus `json:"pacingStatus"`
}

// Engine holds the active campaign set. Safe for concurrent use.
type Engine struct {
	mu        sync.Mutex
	campaigns map[string]*Campaign
}

func NewEngine() *Engine {
	return &Engine{campaigns: make(map[string]*Campaign)}
}

func (e *Engine) AddCampaign(c *Campaign) error {
	if c.PostID == "" {
		return fmt.Errorf("campaign missing post id")
	}
	if c.UpliftCap <= 0 || c.UpliftCap > UpliftCap {
		c.UpliftCap = UpliftCap
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.campaigns[c.ID] = c
	return nil
}

// Apply lifts a base score if an active in-flight campaign targets the
// post. The second return is nil when no uplift was applied.
func (e *Engine) Apply(postID string, baseScore float64, algorithm string, now time.Time) (float64, *Record) {
	e.mu.Lock()
	defer e.mu.Unlock()

	c := e.findActive(postID, now)
	if c == nil {
		return baseScore, nil
	}

	bidFactor := float64(c.MaxBid) / 100
	ratio := math.Min(c.UpliftCap, bidFactor*0.1)
	uplift := baseScore * ratio
	final := baseScore + uplift

	c.Spent += c.MaxBid / 100
	c.Impressions++
	pacing := pacingFor(c)
	if c.Spent >= c.Budget {
		c.Status = CampaignCompleted
	}

	return final, &Record{
		ID:           uuid.NewString(),
		CampaignID:   c.ID,
		PostID:       postID,
		BaseScore:    baseScore,
		Uplift:       uplift,
		FinalScore:   final,
		UpliftRatio:  ratio,
		Algorithm:    algorithm,
		PacingStatus: pacing,
	}
}

func (e *Engine) findActive(postID string, now time.Time) *Campaign {
	for _, c := range e.campaigns {
		if c.Status == CampaignActive &&
			c.PostID == postID &&
			!now.Before(c.StartAt) && !now.After(c.EndAt) &&
			c.Spent < c.Budget {
			return c
		}
	}
	return nil
}

func pacingFor(c *Campaign) PacingStatus {
	switch {
	case c.Status == CampaignPaused:
		return PacingPaused
	case float64(c.Spent) >= 0.8*float64(c.Budget):
		return PacingApproachingLimit
	default:
		return PacingWithinBudget
	}
}

// Bundle wraps a base ranking bundle, re-sorting its output with campaign
// uplifts applied. Base transparency records pass through untouched; boost
// records ride alongside in each payload's attributes.
type Bundle struct {
	Base   ranking.Bundle
	Engine *Engine
}

func Wrap(base ranking.Bundle, engine *Engine) *Bundle {
	return &Bundle{Base: base, Engine: engine}
}

func (b *Bundle) ID() string   { return b.Base.ID() + "_boosted" }
func (b *Bundle) Name() string { return b.Base.Name() + " (Boost Enhanced)" }
func (b *Bundle) Description() string {
	return b.Base.Description() + " with promoted distribution transparency"
}
func (b *Bundle) Version() string { return b.Base.Version() }

func (b *Bundle) Score(ctx context.Context, posts []ranking.Post, req *ranking.RequestContext) (*ranking.Result, error) {
	baseRes, err := b.Base.Score(ctx, posts, req)
	if err != nil {
		return nil, err
	}

	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}

	recordsByID := make(map[string]ranking.TransparencyPayload, len(baseRes.Records))
	for _, rec := range baseRes.Records {
		recordsByID[rec.PostID] = rec
	}

	type boosted struct {
		id    string
		score float64
	}
	order := make([]boosted, 0, len(baseRes.OrderedIDs))
	for _, id := range baseRes.OrderedIDs {
		rec := recordsByID[id]
		final, boostRec := b.Engine.Apply(id, rec.Score, b.Base.ID(), now)
		if boostRec != nil {
			rec.Features["boostUplift"] = boostRec.Uplift
			rec.Score = final
			rec.Explanation = append(rec.Explanation,
				fmt.Sprintf("Promoted content: +%.1f%% uplift (campaign %s)", boostRec.UpliftRatio*100, boostRec.CampaignID))
			if rec.Attributes == nil {
				rec.Attributes = make(map[string]string)
			}
			rec.Attributes["boostCampaignId"] = boostRec.CampaignID
			recordsByID[id] = rec
		}
		order = append(order, boosted{id: id, score: final})
	}

	// base order is already fully tie-broken, so a stable sort on the
	// boosted score preserves determinism
	sort.SliceStable(order, func(i, j int) bool { return order[i].score > order[j].score })

	res := &ranking.Result{
		OrderedIDs: make([]string, len(order)),
		Records:    make([]ranking.TransparencyPayload, len(order)),
	}
	for i, o := range order {
		res.OrderedIDs[i] = o.id
		res.Records[i] = recordsByID[o.id]
	}
	return res, nil
}
