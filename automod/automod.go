// Package automod implements the deterministic moderation rule evaluator.
//
// Evaluation of a post is a pure function of (event, ruleset version), except
// for the per-author rate-limit rule which consults the countstore. Every
// evaluation produces a transparency payload, including 'allow' verdicts, so
// the absence of moderation action stays auditable.
package automod

type Verdict string

const (
	VerdictAllow  Verdict = "allow"
	VerdictFlag   Verdict = "flag"
	VerdictRemove Verdict = "remove"
)

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Label is one triggered rule match attached to a decision.
type Label struct {
	Label      string   `json:"label"`
	Confidence float64  `json:"confidence"`
	Evidence   string   `json:"evidence"`
	Severity   Severity `json:"severity"`
	RuleID     string   `json:"rule_id"`
}

// Decision is the verdict for one subject event. Immutable once emitted;
// re-evaluating the same event under the same ruleset version yields an
// identical decision.
type Decision struct {
	Verdict        Verdict `json:"decision"`
	Labels         []Label `json:"labels"`
	Rationale      string  `json:"rationale"`
	Reviewer       string  `json:"reviewer"`
	BundleID       string  `json:"bundle_id"`
	RulesetVersion string  `json:"ruleset_version"`
}

// Severest returns the highest severity across triggered labels, or "none".
func (d *Decision) Severest() string {
	out := "none"
	for _, l := range d.Labels {
		switch l.Severity {
		case SeverityHigh:
			return string(SeverityHigh)
		case SeverityMedium:
			out = string(SeverityMedium)
		case SeverityLow:
			if out == "none" {
				out = string(SeverityLow)
			}
		}
	}
	return out
}

// TransparencyPayload is the structured audit record for one moderation
// evaluation, stored in the transparency log as the decision payload.
type TransparencyPayload struct {
	SubjectEventID string `json:"subject_event_id"`
	BundleID       string `json:"bundle_id"`
	Inputs         struct {
		EventText        string `json:"event_text,omitempty"`
		EventAuthor      string `json:"event_author"`
		RuleCount        int    `json:"rule_count"`
		ExceptionApplied bool   `json:"exception_applied"`
	} `json:"inputs"`
	Outputs struct {
		Decision        string `json:"decision"`
		LabelsCount     int    `json:"labels_count"`
		HighestSeverity string `json:"highest_severity"`
	} `json:"outputs"`
	Explanation []string `json:"explanation"`
}
