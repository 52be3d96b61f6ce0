package automod

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prism-social/prism/automod/countstore"
	"github.com/prism-social/prism/events"
)

// Evaluator runs the baseline ruleset over post events. Safe for concurrent
// use; all mutable state lives in the countstore.
type Evaluator struct {
	Logger   *slog.Logger
	Counters countstore.CountStore

	// MaxHourlyPosts triggers the per-author rate-limit rule when an author
	// exceeds this many posts in the current hour bucket. Zero disables it.
	MaxHourlyPosts int
}

func NewEvaluator(logger *slog.Logger, counters countstore.CountStore) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{
		Logger:         logger.With("system", "automod"),
		Counters:       counters,
		MaxHourlyPosts: 30,
	}
}

// Result pairs the verdict with its audit payload.
type Result struct {
	Decision Decision
	Record   TransparencyPayload
}

// Evaluate computes the moderation decision for a post event. Always
// terminates, and always returns a transparency payload, including for
// 'allow'. The returned error is non-nil only on countstore failure, which
// callers treat as transient.
func (e *Evaluator) Evaluate(ctx context.Context, evt *events.ContentEvent) (*Result, error) {
	if evt.Kind != events.KindPost {
		return nil, fmt.Errorf("moderation evaluates post events, got %q", evt.Kind)
	}
	text := evt.PostText()

	if matchesException(text) {
		decision := Decision{
			Verdict:        VerdictAllow,
			Labels:         []Label{},
			Rationale:      "Content matches exception pattern (educational/discussion)",
			Reviewer:       "system",
			BundleID:       BundleID,
			RulesetVersion: RulesetVersion,
		}
		return &Result{
			Decision: decision,
			Record:   buildPayload(evt, &decision, true),
		}, nil
	}

	var labels []Label
	final := VerdictAllow

	for _, rule := range baselineRules {
		if !rule.Pattern.MatchString(text) {
			continue
		}
		labels = append(labels, Label{
			Label:      rule.Category,
			Confidence: 0.85,
			Evidence:   fmt.Sprintf("Rule %s: %s", rule.ID, rule.Description),
			Severity:   rule.Severity,
			RuleID:     rule.ID,
		})
		// escalate to the most severe triggered action
		if rule.Severity == SeverityHigh && final != VerdictRemove {
			final = rule.Action
		} else if rule.Severity == SeverityMedium && final == VerdictAllow {
			final = rule.Action
		}
	}

	if e.Counters != nil && e.MaxHourlyPosts > 0 {
		recent, err := e.Counters.GetCount(ctx, "posts", evt.AuthorDID, countstore.PeriodHour)
		if err != nil {
			return nil, fmt.Errorf("reading author post counter: %w", err)
		}
		if err := e.Counters.Increment(ctx, "posts", evt.AuthorDID); err != nil {
			return nil, fmt.Errorf("incrementing author post counter: %w", err)
		}
		if recent >= e.MaxHourlyPosts {
			labels = append(labels, Label{
				Label:      "spam_rate_limit",
				Confidence: 0.85,
				Evidence:   fmt.Sprintf("Rule rate-limit-1: more than %d posts in the current hour", e.MaxHourlyPosts),
				Severity:   SeverityMedium,
				RuleID:     "rate-limit-1",
			})
			if final == VerdictAllow {
				final = VerdictFlag
			}
		}
	}

	rationale := "No rule violations detected"
	if len(labels) > 0 {
		rationale = fmt.Sprintf("Applied %d moderation rules", len(labels))
	}

	decision := Decision{
		Verdict:        final,
		Labels:         labels,
		Rationale:      rationale,
		Reviewer:       "system",
		BundleID:       BundleID,
		RulesetVersion: RulesetVersion,
	}
	return &Result{
		Decision: decision,
		Record:   buildPayload(evt, &decision, false),
	}, nil
}

func buildPayload(evt *events.ContentEvent, decision *Decision, exception bool) TransparencyPayload {
	var p TransparencyPayload
	p.SubjectEventID = evt.ID
	p.BundleID = decision.BundleID

	text := evt.PostText()
	if len(text) > 200 {
		text = text[:200] + "..."
	}
	p.Inputs.EventText = text
	p.Inputs.EventAuthor = evt.AuthorDID
	p.Inputs.RuleCount = len(baselineRules)
	p.Inputs.ExceptionApplied = exception

	p.Outputs.Decision = string(decision.Verdict)
	p.Outputs.LabelsCount = len(decision.Labels)
	p.Outputs.HighestSeverity = decision.Severest()

	if len(decision.Labels) > 0 {
		p.Explanation = append(p.Explanation, fmt.Sprintf("Applied %d moderation rules", len(decision.Labels)))
		for _, l := range decision.Labels {
			p.Explanation = append(p.Explanation, fmt.Sprintf("%s: %s (%s severity)", l.RuleID, l.Label, l.Severity))
		}
	} else {
		p.Explanation = append(p.Explanation, "No rule violations detected")
	}
	if exception {
		p.Explanation = append(p.Explanation, "Exception pattern applied: educational/discussion content")
	}
	return p
}
