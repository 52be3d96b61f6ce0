// Package events defines the canonical content event schema shared by
// producers, the ingestion consumer, and the indexing pipeline.
//
// A ContentEvent is immutable once persisted. Later events may reference an
// earlier one (eg, a moderation_decision tombstoning a post), but the original
// record is never rewritten.
package events

import (
	"encoding/json"
	"fmt"
)

type EventKind string

const (
	KindPost                EventKind = "post"
	KindRepost              EventKind = "repost"
	KindFollow              EventKind = "follow"
	KindLike                EventKind = "like"
	KindProfile             EventKind = "profile"
	KindModerationDecision  EventKind = "moderation_decision"
	KindTransparencyRecord  EventKind = "transparency_record"
)

var allKinds = map[EventKind]bool{
	KindPost:               true,
	KindRepost:             true,
	KindFollow:             true,
	KindLike:               true,
	KindProfile:            true,
	KindModerationDecision: true,
	KindTransparencyRecord: true,
}

func ParseKind(s string) (EventKind, error) {
	k := EventKind(s)
	if !allKinds[k] {
		return "", fmt.Errorf("unknown event kind: %q", s)
	}
	return k, nil
}

// EntityRef points at a related entity (usually another event).
type EntityRef struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// ContentEvent is the unit of content activity on the stream. CreatedAt is a
// unix timestamp in seconds. Body is kind-specific; use DecodeBody to get the
// typed payload.
type ContentEvent struct {
	ID        string          `json:"id"`
	Kind      EventKind       `json:"kind"`
	CreatedAt int64           `json:"created_at"`
	AuthorDID string          `json:"author_did"`
	Body      json.RawMessage `json:"body,omitempty"`
	Refs      []EntityRef     `json:"refs,omitempty"`
	Source    string          `json:"source,omitempty"`
	BundleID  string          `json:"bundle_id,omitempty"`
	Signature string          `json:"sig"`
}

// PostBody is the payload for 'post' events.
type PostBody struct {
	Text    string   `json:"text"`
	Langs   []string `json:"langs,omitempty"`
	Tags    []string `json:"tags,omitempty"`
	ReplyTo string   `json:"reply_to,omitempty"`
}

// RepostBody and LikeBody reference a subject post.
type RepostBody struct {
	Subject string `json:"subject"`
}

type LikeBody struct {
	Subject string `json:"subject"`
}

// FollowBody references a subject account.
type FollowBody struct {
	Subject string `json:"subject"`
}

// ProfileBody carries author profile metadata used as ranking inputs. Lat/Lon
// are optional; a zero Coordinates pointer means location is unknown, which
// ranking treats as neutral rather than penalizing.
type ProfileBody struct {
	DisplayName string       `json:"display_name,omitempty"`
	Description string       `json:"description,omitempty"`
	Locale      string       `json:"locale,omitempty"`
	Cluster     string       `json:"cluster,omitempty"`
	Location    *Coordinates `json:"location,omitempty"`
}

type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// ModerationDecisionBody is the payload for 'moderation_decision' events
// emitted by the rule evaluator back onto the stream.
type ModerationDecisionBody struct {
	Decision  string `json:"decision"`
	Reason    string `json:"reason"`
	Severity  string `json:"severity"`
	RuleID    string `json:"rule_id,omitempty"`
	SubjectID string `json:"subject_id"`
}

// TransparencyRecordBody mirrors a transparency log entry published as a
// best-effort notification. The log itself is authoritative.
type TransparencyRecordBody struct {
	RecordID     string          `json:"record_id"`
	EventID      string          `json:"event_id"`
	DecisionType string          `json:"decision_type"`
	BundleID     string          `json:"bundle_id,omitempty"`
	Decision     json.RawMessage `json:"decision,omitempty"`
}

// DecodeBody parses the kind-specific payload. Returns a typed pointer, or an
// error for kinds with no defined payload shape.
func (e *ContentEvent) DecodeBody() (any, error) {
	switch e.Kind {
	case KindPost:
		var b PostBody
		if err := json.Unmarshal(e.Body, &b); err != nil {
			return nil, fmt.Errorf("decoding post body: %w", err)
		}
		return &b, nil
	case KindRepost:
		var b RepostBody
		if err := json.Unmarshal(e.Body, &b); err != nil {
			return nil, fmt.Errorf("decoding repost body: %w", err)
		}
		return &b, nil
	case KindLike:
		var b LikeBody
		if err := json.Unmarshal(e.Body, &b); err != nil {
			return nil, fmt.Errorf("decoding like body: %w", err)
		}
		return &b, nil
	case KindFollow:
		var b FollowBody
		if err := json.Unmarshal(e.Body, &b); err != nil {
			return nil, fmt.Errorf("decoding follow body: %w", err)
		}
		return &b, nil
	case KindProfile:
		var b ProfileBody
		if err := json.Unmarshal(e.Body, &b); err != nil {
			return nil, fmt.Errorf("decoding profile body: %w", err)
		}
		return &b, nil
	case KindModerationDecision:
		var b ModerationDecisionBody
		if err := json.Unmarshal(e.Body, &b); err != nil {
			return nil, fmt.Errorf("decoding moderation body: %w", err)
		}
		return &b, nil
	case KindTransparencyRecord:
		var b TransparencyRecordBody
		if err := json.Unmarshal(e.Body, &b); err != nil {
			return nil, fmt.Errorf("decoding transparency body: %w", err)
		}
		return &b, nil
	default:
		return nil, fmt.Errorf("no payload shape for kind %q", e.Kind)
	}
}

// PostText returns the text of a post event, or empty string for other kinds
// or malformed bodies. Convenience for indexing and moderation.
func (e *ContentEvent) PostText() string {
	if e.Kind != KindPost {
		return ""
	}
	var b PostBody
	if err := json.Unmarshal(e.Body, &b); err != nil {
		return ""
	}
	return b.Text
}
