package models

import (
	"time"

	"gorm.io/gorm"
)

// Event is the primary-store projection of a ContentEvent. Rows are written
// once (insert-or-ignore on ID) and never updated; removal happens via
// Tombstone rows, keeping the event log append-only.
type Event struct {
	ID        string    `gorm:"primarykey"`
	Kind      string    `gorm:"index"`
	AuthorDID string    `gorm:"column:author_did;index:idx_event_author_created"`
	CreatedAt time.Time `gorm:"index:idx_event_author_created;index"`
	Content   string
	Body      []byte
	Refs      []byte
	Source    string
	BundleID  string
	Signature string
	IngestedAt time.Time
}

// Tombstone marks an event as removed by a later moderation decision without
// mutating the original row.
type Tombstone struct {
	EventID   string `gorm:"primarykey"`
	Reason    string
	RuleID    string
	CreatedAt time.Time
}

// AuthorAggregate is the per-author rolling summary used as ranking input.
// Owned exclusively by the indexer; counts advance via atomic SQL increments,
// never read-modify-write from application memory.
type AuthorAggregate struct {
	AuthorDID       string  `gorm:"column:author_did;primarykey"`
	ReputationScore float64 `gorm:"default:0.5"`
	FollowerCount   int64
	PostCount       int64
	DisplayName     string
	Locale          string
	Cluster         string
	Lat             *float64
	Lon             *float64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// PostAggregate holds per-post engagement counts fed by like, repost, and
// reply events. Like AuthorAggregate, counts advance via atomic SQL
// increments only.
type PostAggregate struct {
	EventID     string `gorm:"primarykey"`
	LikeCount   int64
	ReplyCount  int64
	RepostCount int64
	UpdatedAt   time.Time
}

// TransparencyRecord is one immutable audit entry for an algorithmic
// decision (moderation verdict or ranking score). Decision holds the
// structured payload (features, weights, explanations) as JSON.
type TransparencyRecord struct {
	ID           string    `gorm:"primarykey"`
	EventID      string    `gorm:"index"`
	EventKind    string
	BundleID     string    `gorm:"index"`
	DecisionType string    `gorm:"index"`
	Decision     []byte
	SubjectDID   string
	ModeratorDID string
	CreatedAt    time.Time `gorm:"index"`
}

// DeadLetterEvent stores a permanently malformed stream message after the
// delivery cap is hit, for operator inspection.
type DeadLetterEvent struct {
	gorm.Model
	Subject    string
	Raw        []byte
	Reason     string
	Deliveries int
}

// IndexBacklog tracks events that are durable in the primary store but whose
// search-index write failed; the reconciler drains it with backoff.
type IndexBacklog struct {
	EventID   string `gorm:"primarykey"`
	Attempts  int
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time `gorm:"index"`
}
