// Package matcher classifies freshly computed JA4 signatures against
// the signature store.
package matcher

import (
	"fmt"
	"time"

	"github.com/ccie14019/shadow-ai-signatures/internal/signature"

	"github.com/google/uuid"
)

const (
	ClassificationExactMatch     = "exact_known_match"
	ClassificationAmbiguousMatch = "ambiguous_known_match"
	ClassificationInconsistent   = "known_but_inconsistent"
	ClassificationUnknown        = "unknown"
)

// DetectionResult is the per-session output of the pipeline. Produced
// fresh for every session and never persisted by the core.
type DetectionResult struct {
	ResultID       string            `json:"result_id"`
	Timestamp      time.Time         `json:"timestamp"`
	Signature      string            `json:"signature"`
	Classification string            `json:"classification"`
	Confidence     float64           `json:"confidence"`
	Matches        []signature.Entry `json:"matches,omitempty"`
	Reason         string            `json:"reason"`
}

// Matcher performs pure lookups against a store; failure to match is a
// valid terminal outcome, not an error.
type Matcher struct {
	store *signature.Store
}

// New creates a matcher over a store.
func New(store *signature.Store) *Matcher {
	return &Matcher{store: store}
}

// Match classifies a signature. Exactly one framework/version pair
// with a self-consistent history is an exact match; multiple pairs
// sharing the signature are reported together as ambiguous; a pair
// whose own verification history disagrees with itself is surfaced
// with lower confidence rather than suppressed.
func (m *Matcher) Match(sig string) DetectionResult {
	matches := m.store.Lookup(sig)

	result := DetectionResult{
		ResultID:  uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Signature: sig,
		Matches:   matches,
	}

	switch {
	case len(matches) == 0:
		result.Classification = ClassificationUnknown
		result.Confidence = 0
		result.Reason = "no entry in the signature store matches this fingerprint"

	case len(matches) > 1:
		result.Classification = ClassificationAmbiguousMatch
		result.Confidence = 0.6
		result.Reason = ambiguousReason(matches)

	case !matches[0].Consistent():
		result.Classification = ClassificationInconsistent
		result.Confidence = 0.5
		result.Reason = fmt.Sprintf(
			"matches %s %s, but its %d verification runs disagree with each other",
			matches[0].Framework, matches[0].Version, len(matches[0].Runs))

	default:
		result.Classification = ClassificationExactMatch
		result.Confidence = exactConfidence(matches[0])
		result.Reason = fmt.Sprintf(
			"matches %s %s with %d consistent verification run(s)",
			matches[0].Framework, matches[0].Version, len(matches[0].Runs))
	}

	return result
}

// exactConfidence scales with verification depth: more consistent
// runs, more confidence.
func exactConfidence(e signature.Entry) float64 {
	confidence := 0.9
	runs := len(e.Runs)
	if runs > 5 {
		runs = 5
	}
	confidence += float64(runs) * 0.015
	if confidence > 0.99 {
		confidence = 0.99
	}
	return confidence
}

// ambiguousReason lists every matching pair; the matcher never picks
// one arbitrarily.
func ambiguousReason(matches []signature.Entry) string {
	result := "signature shared by: "
	for i, e := range matches {
		if i > 0 {
			result += ", "
		}
		result += e.Framework + " " + e.Version
	}
	return result
}
