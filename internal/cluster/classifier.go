// Package cluster groups raw diagnostics into root-cause clusters.
//
// Classification and cascade detection are pattern matches over free-text
// tool messages, not a formal grammar. They are best-effort heuristics and
// will misclassify when upstream tools change their wording; every rule
// lives in this file so there is exactly one place to retune.
package cluster

import (
	"strings"

	"remedy/internal/types"
)

// structuralCodes are tool-specific diagnostic codes that indicate
// delimiter or structure damage rather than a local mistake. A diagnostic
// carrying one of these is classified as structure regardless of message.
var structuralCodes = map[string]struct{}{
	"ts1005":  {}, // ';' or ')' expected
	"ts1109":  {}, // expression expected
	"ts1128":  {}, // declaration or statement expected
	"ts1160":  {}, // unterminated template literal
	"ts1161":  {}, // unterminated regular expression
	"ts1381":  {}, // unexpected token, '}' expected
	"ts1382":  {}, // unexpected token, '>' expected
	"ts17002": {}, // expected corresponding JSX closing tag
	"ts17008": {}, // JSX element has no corresponding closing tag
}

// cascadeCodes are codes whose presence on either side of a candidate pair
// is enough to treat the pair as one cascade. Structure damage at one line
// routinely produces these downstream.
var cascadeCodes = map[string]struct{}{
	"ts1005":  {},
	"ts1109":  {},
	"ts1128":  {},
	"ts1381":  {},
	"ts1382":  {},
	"ts17002": {},
	"ts17008": {},
}

// structureMessageMarkers classify a diagnostic as structure when its
// message mentions any of them.
var structureMessageMarkers = []string{
	"expected",
	"closing",
	"unterminated",
	"missing",
}

// highImpactMarkers promote a cluster to critical when the root message
// matches one.
var highImpactMarkers = []string{
	"unexpected token",
	"missing",
	"unterminated",
	"tag",
	"jsx",
}

// maxCascadeDistance is the line window within which a candidate can still
// be a symptom of the root.
const maxCascadeDistance = 6

// Classify assigns a root-cause category to a diagnostic using ordered
// rules: structural code, structural message, then severity.
func Classify(d types.Diagnostic) types.Category {
	if _, ok := structuralCodes[strings.ToLower(d.Code)]; ok {
		return types.CategoryStructure
	}

	msg := strings.ToLower(d.Message)
	for _, marker := range structureMessageMarkers {
		if strings.Contains(msg, marker) {
			return types.CategoryStructure
		}
	}

	switch d.Severity {
	case types.SeverityError:
		return types.CategorySyntax
	case types.SeverityWarning:
		return types.CategoryLint
	default:
		return types.CategoryUnknown
	}
}

// isCascadeCode reports whether the code is in the structural-cascade set.
func isCascadeCode(code string) bool {
	_, ok := cascadeCodes[strings.ToLower(code)]
	return ok
}

// mentionsAny reports whether the lowercased message contains any marker.
func mentionsAny(msg string, markers ...string) bool {
	for _, m := range markers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// referencesTag reports whether a message talks about JSX/tag constructs.
func referencesTag(msg string) bool {
	return mentionsAny(msg, "jsx", "tag")
}

// cascades decides whether candidate is a downstream symptom of root. Both
// are already known to share a file and category; the caller has checked
// the line window.
func cascades(root, candidate types.Diagnostic) bool {
	if isCascadeCode(root.Code) || isCascadeCode(candidate.Code) {
		return true
	}

	rootMsg := strings.ToLower(root.Message)
	candMsg := strings.ToLower(candidate.Message)

	// An unexpected/missing root swallows nearby expectation errors.
	if mentionsAny(rootMsg, "unexpected", "missing") &&
		mentionsAny(candMsg, "unexpected", "expected", "unterminated") {
		return true
	}

	// Both sides complaining about JSX/tags is one broken element.
	if referencesTag(rootMsg) && referencesTag(candMsg) {
		return true
	}

	// An expected-closing-token root absorbs any expectation error: the
	// parser is lost until the delimiter is restored.
	if strings.Contains(rootMsg, "expected") && strings.Contains(rootMsg, "closing") &&
		mentionsAny(candMsg, "expected", "unexpected") {
		return true
	}

	return false
}

// isHighImpact reports whether a root message alone justifies a critical
// cluster.
func isHighImpact(msg string) bool {
	return mentionsAny(strings.ToLower(msg), highImpactMarkers...)
}
