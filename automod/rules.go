package automod

import "regexp"

// Rule is one pattern in the baseline ruleset. Rules are ordered; evaluation
// runs all of them and escalates to the most severe triggered action.
type Rule struct {
	ID          string
	Category    string
	Pattern     *regexp.Regexp
	Severity    Severity
	Action      Verdict
	Description string
}

// RulesetVersion identifies the baseline ruleset for decision determinism.
const RulesetVersion = "1.0.0"

// BundleID is the moderation bundle identity recorded on every decision.
const BundleID = "baseline_rules"

var baselineRules = []Rule{
	{
		ID:          "doxxing-1",
		Category:    "doxxing",
		Pattern:     regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b|\b\d{9}\b`),
		Severity:    SeverityHigh,
		Action:      VerdictRemove,
		Description: "Personal identification information",
	},
	{
		ID:          "doxxing-2",
		Category:    "doxxing",
		Pattern:     regexp.MustCompile(`\b\d{3}\.\d{3}\.\d{4}\b`),
		Severity:    SeverityMedium,
		Action:      VerdictFlag,
		Description: "Phone numbers",
	},
	{
		ID:          "violence-1",
		Category:    "incitement_to_violence",
		Pattern:     regexp.MustCompile(`(?i)(kill|murder|harm|attack)\s+(\w+\s+){0,3}(yourself|them|us|you|me|everyone)`),
		Severity:    SeverityHigh,
		Action:      VerdictRemove,
		Description: "Direct threats or incitement to violence",
	},
	{
		ID:          "violence-2",
		Category:    "incitement_to_violence",
		Pattern:     regexp.MustCompile(`(?i)(should be shot|deserves to die|needs to be hurt)`),
		Severity:    SeverityHigh,
		Action:      VerdictRemove,
		Description: "Violent rhetoric",
	},
	{
		ID:          "harassment-1",
		Category:    "targeted_harassment",
		Pattern:     regexp.MustCompile(`(?i)(ugly|stupid|worthless)\s+(\w+\s+){0,2}(woman|man|person|girl|boy)`),
		Severity:    SeverityMedium,
		Action:      VerdictFlag,
		Description: "Targeted personal attacks",
	},
	{
		ID:          "harassment-2",
		Category:    "targeted_harassment",
		Pattern:     regexp.MustCompile(`(?i)(nobody likes you|everyone hates you|you should leave)`),
		Severity:    SeverityMedium,
		Action:      VerdictFlag,
		Description: "Targeted exclusion rhetoric",
	},
	{
		ID:          "inauthentic-1",
		Category:    "coordinated_inauthentic_behavior",
		Pattern:     regexp.MustCompile(`(?i)(fake account|paid poster|engagement farm)`),
		Severity:    SeverityMedium,
		Action:      VerdictFlag,
		Description: "Suspected inauthentic behavior",
	},
	{
		ID:          "nsfw-1",
		Category:    "non_consensual_intimate_media",
		Pattern:     regexp.MustCompile(`(?i)(nude|explicit|intimate).*(without consent|leaked)`),
		Severity:    SeverityHigh,
		Action:      VerdictRemove,
		Description: "Non-consensual intimate media",
	},
}

// Exception patterns override all content rules (educational or reporting
// context).
var exceptionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)warning.*nsfw`),
	regexp.MustCompile(`(?i)discussing.*harassment`),
	regexp.MustCompile(`(?i)educational.*content`),
	regexp.MustCompile(`(?i)news.*report`),
}

func matchesException(text string) bool {
	for _, p := range exceptionPatterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}
