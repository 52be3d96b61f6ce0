package automod

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prism-social/prism/automod/countstore"
	"github.com/prism-social/prism/events"
)

func postEvent(t *testing.T, author, text string) *events.ContentEvent {
	t.Helper()
	body, err := json.Marshal(events.PostBody{Text: text})
	require.NoError(t, err)
	return &events.ContentEvent{
		ID:        "evt-1",
		Kind:      events.KindPost,
		CreatedAt: time.Now().Unix(),
		AuthorDID: author,
		Body:      body,
	}
}

func TestEvaluateClean(t *testing.T) {
	assert := assert.New(t)
	eng := NewEvaluator(slog.Default(), countstore.NewMemCountStore())

	res, err := eng.Evaluate(context.Background(), postEvent(t, "did:plc:abc", "just planted some tomatoes"))
	assert.NoError(err)
	assert.Equal(VerdictAllow, res.Decision.Verdict)
	assert.Empty(res.Decision.Labels)
	assert.Equal("No rule violations detected", res.Decision.Rationale)

	// even clean content produces an audit record
	assert.Equal("evt-1", res.Record.SubjectEventID)
	assert.Equal("allow", res.Record.Outputs.Decision)
	assert.Equal("none", res.Record.Outputs.HighestSeverity)
	assert.Contains(res.Record.Explanation, "No rule violations detected")
}

func TestEvaluateEscalation(t *testing.T) {
	assert := assert.New(t)
	eng := NewEvaluator(slog.Default(), countstore.NewMemCountStore())
	ctx := context.Background()

	// medium severity flags
	res, err := eng.Evaluate(ctx, postEvent(t, "did:plc:abc", "what an ugly stupid person"))
	assert.NoError(err)
	assert.Equal(VerdictFlag, res.Decision.Verdict)
	assert.NotEmpty(res.Decision.Labels)

	// high severity removes, even alongside medium matches
	res, err = eng.Evaluate(ctx, postEvent(t, "did:plc:abc", "my SSN is 123-45-6789"))
	assert.NoError(err)
	assert.Equal(VerdictRemove, res.Decision.Verdict)
	assert.Equal("high", res.Record.Outputs.HighestSeverity)
}

func TestEvaluateExceptionOverride(t *testing.T) {
	assert := assert.New(t)
	eng := NewEvaluator(slog.Default(), countstore.NewMemCountStore())

	res, err := eng.Evaluate(context.Background(), postEvent(t, "did:plc:abc",
		"educational content: numbers like 123-45-6789 are the US SSN format"))
	assert.NoError(err)
	assert.Equal(VerdictAllow, res.Decision.Verdict)
	assert.True(res.Record.Inputs.ExceptionApplied)
	assert.Contains(res.Record.Explanation, "Exception pattern applied: educational/discussion content")
}

func TestEvaluateDeterministic(t *testing.T) {
	assert := assert.New(t)
	eng := NewEvaluator(slog.Default(), nil)
	evt := postEvent(t, "did:plc:abc", "kill harm attack them all, fake account spam")

	first, err := eng.Evaluate(context.Background(), evt)
	assert.NoError(err)
	for i := 0; i < 5; i++ {
		again, err := eng.Evaluate(context.Background(), evt)
		assert.NoError(err)
		assert.Equal(first.Decision, again.Decision)
		assert.Equal(first.Record, again.Record)
	}
}

func TestEvaluateRateLimit(t *testing.T) {
	assert := assert.New(t)
	eng := NewEvaluator(slog.Default(), countstore.NewMemCountStore())
	eng.MaxHourlyPosts = 3
	ctx := context.Background()

	var last *Result
	for i := 0; i < 5; i++ {
		var err error
		last, err = eng.Evaluate(ctx, postEvent(t, "did:plc:spammy", fmt.Sprintf("post number %d", i)))
		assert.NoError(err)
	}
	assert.Equal(VerdictFlag, last.Decision.Verdict)
	found := false
	for _, l := range last.Decision.Labels {
		if l.RuleID == "rate-limit-1" {
			found = true
		}
	}
	assert.True(found)
}

func TestEvaluateRejectsNonPost(t *testing.T) {
	eng := NewEvaluator(slog.Default(), nil)
	evt := &events.ContentEvent{ID: "x", Kind: events.KindLike, AuthorDID: "did:plc:abc", CreatedAt: 1}
	_, err := eng.Evaluate(context.Background(), evt)
	assert.Error(t, err)
}
