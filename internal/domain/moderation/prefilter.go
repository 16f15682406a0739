package moderation

import (
	"regexp"
	"time"
)

// rule is one deterministic pre-filter pattern. Names are stable identifiers
// recorded in LayerAResult.ForbiddenPatterns and surfaced to moderators.
type rule struct {
	name    string
	pattern *regexp.Regexp
}

// forbiddenRules is the Layer A pattern table. The scan is intentionally
// cheap (target <10ms) so it can run before any classifier call.
var forbiddenRules = []rule{
	{"violence_incitement", regexp.MustCompile(`(?i)\b(kill|murder|lynch|bomb|shoot)\b.{0,40}\b(them|him|her|everyone|crowd|official)\b`)},
	{"doxxing_ssn", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{"doxxing_home_address", regexp.MustCompile(`(?i)\b(home address|lives at)\b\s*[:\-]?\s*\d+\s+\w+`)},
	{"spam_link_farm", regexp.MustCompile(`(?i)(https?://\S+\s*){5,}`)},
	{"scam_crypto", regexp.MustCompile(`(?i)\b(double your|guaranteed returns?|send\s+\d+\s*(btc|eth))\b`)},
	{"vote_buying", regexp.MustCompile(`(?i)\b(pay|paid|cash)\b.{0,30}\b(for your vote|to vote)\b`)},
	{"impersonation", regexp.MustCompile(`(?i)\bofficial (government|city council|election) account\b`)},
}

// Prefilter runs the deterministic Layer A rule scan over the raw content.
// It is a pure function: same input, same output, no external calls.
func Prefilter(content string) LayerAResult {
	start := time.Now()

	var matched []string
	for _, r := range forbiddenRules {
		if r.pattern.MatchString(content) {
			matched = append(matched, r.name)
		}
	}

	return LayerAResult{
		Passed:            len(matched) == 0,
		ForbiddenPatterns: matched,
		ExecutionTimeMs:   time.Since(start).Milliseconds(),
	}
}

// PatternNames returns the stable names of all configured Layer A rules,
// in scan order.
func PatternNames() []string {
	names := make([]string, 0, len(forbiddenRules))
	for _, r := range forbiddenRules {
		names = append(names, r.name)
	}
	return names
}
