package search

import (
	"time"

	"github.com/prism-social/prism/events"
	"github.com/prism-social/prism/models"
)

// PostDoc is the search index projection of a post event, flattened with
// the author features the query layer filters on.
type PostDoc struct {
	DocIndexTs    string   `json:"doc_index_ts"`
	EventID       string   `json:"event_id"`
	AuthorDID     string   `json:"author_did"`
	CreatedAt     string   `json:"created_at"`
	Text          string   `json:"text"`
	LangCode      []string `json:"lang_code,omitempty"`
	Tag           []string `json:"tag,omitempty"`
	ReplyTo       *string  `json:"reply_to,omitempty"`
	AuthorCluster string   `json:"author_cluster,omitempty"`
	AuthorLocale  string   `json:"author_locale,omitempty"`
}

// Returns the search index document ID (`_id`) for this document.
//
// Indexing is keyed by event id, so redelivered events overwrite their own
// document instead of duplicating it.
func (d *PostDoc) DocId() string {
	return d.EventID
}

// TransformPostEvent flattens a validated post event into its index
// document. The author aggregate is optional; cluster and locale stay empty
// when the author has no profile yet.
func TransformPostEvent(evt *events.ContentEvent, post *events.PostBody, agg *models.AuthorAggregate) PostDoc {
	doc := PostDoc{
		DocIndexTs: time.Now().UTC().Format(time.RFC3339),
		EventID:    evt.ID,
		AuthorDID:  evt.AuthorDID,
		CreatedAt:  time.Unix(evt.CreatedAt, 0).UTC().Format(time.RFC3339),
		Text:       post.Text,
		LangCode:   post.Langs,
		Tag:        post.Tags,
	}
	if post.ReplyTo != "" {
		doc.ReplyTo = &post.ReplyTo
	}
	if agg != nil {
		doc.AuthorCluster = agg.Cluster
		doc.AuthorLocale = agg.Locale
	}
	return doc
}
