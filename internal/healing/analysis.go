// Package healing drives the validate/analyze/fix/reverify loop. The loop is
// bounded on every axis: fix attempts, retries, and wall-clock time, and it
// only acts through the approval gate and the atomic patch applier.
package healing

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"remedy/internal/logging"
	"remedy/internal/types"
)

// similarityThreshold is the minimum message token overlap for two issues to
// share a failure group.
const similarityThreshold = 0.3

// Analyze groups validation issues into failure analyses. Two issues share a
// group when they touch the same file, carry the same validation type, or
// their messages overlap enough to suggest one root cause. Groups are
// returned most severe first.
func Analyze(issues []types.ValidationIssue) []types.FailureAnalysis {
	if len(issues) == 0 {
		return nil
	}

	groups := groupIssues(issues)

	analyses := make([]types.FailureAnalysis, 0, len(groups))
	for _, g := range groups {
		analyses = append(analyses, analyzeGroup(g))
	}

	sort.SliceStable(analyses, func(i, j int) bool {
		a, b := analyses[i], analyses[j]
		if ir, jr := impactRank(a.Impact), impactRank(b.Impact); ir != jr {
			return ir > jr
		}
		return a.Confidence > b.Confidence
	})

	logging.HealingDebug("analyzed %d issues into %d failure groups", len(issues), len(analyses))
	return analyses
}

// groupIssues partitions issues with a single greedy pass: each issue joins
// the first group it relates to, else starts its own.
func groupIssues(issues []types.ValidationIssue) [][]types.ValidationIssue {
	var groups [][]types.ValidationIssue

	for _, is := range issues {
		placed := false
		for gi, g := range groups {
			if relatedIssues(g[0], is) {
				groups[gi] = append(g, is)
				placed = true
				break
			}
		}
		if !placed {
			groups = append(groups, []types.ValidationIssue{is})
		}
	}
	return groups
}

func relatedIssues(a, b types.ValidationIssue) bool {
	if a.File != "" && a.File == b.File {
		return true
	}
	if a.Type == b.Type {
		return true
	}
	return tokenSimilarity(a.Message, b.Message) >= similarityThreshold
}

// tokenSimilarity is the Jaccard similarity of the lowercase token sets of
// two messages.
func tokenSimilarity(a, b string) float64 {
	ta, tb := tokenize(a), tokenize(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	inter := 0
	for tok := range ta {
		if tb[tok] {
			inter++
		}
	}
	union := len(ta) + len(tb) - inter
	return float64(inter) / float64(union)
}

func tokenize(s string) map[string]bool {
	out := make(map[string]bool)
	for _, tok := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	}) {
		if len(tok) > 1 {
			out[tok] = true
		}
	}
	return out
}

func analyzeGroup(group []types.ValidationIssue) types.FailureAnalysis {
	dominant := dominantType(group)
	files := distinctFiles(group)

	analysis := types.FailureAnalysis{
		Summary:       fmt.Sprintf("%d %s issue(s) across %d file(s)", len(group), dominant, len(files)),
		RootCause:     rootCause(group, dominant),
		Impact:        groupImpact(group),
		RelatedIssues: group,
		Confidence:    groupConfidence(group, dominant),
	}
	analysis.SuggestedFixes = suggestFixes(analysis, dominant, files)
	return analysis
}

func dominantType(group []types.ValidationIssue) types.ValidationType {
	counts := make(map[types.ValidationType]int)
	for _, is := range group {
		counts[is.Type]++
	}
	var best types.ValidationType
	bestN := -1
	for t, n := range counts {
		if n > bestN || (n == bestN && t < best) {
			best, bestN = t, n
		}
	}
	return best
}

func rootCause(group []types.ValidationIssue, dominant types.ValidationType) string {
	for _, is := range group {
		if is.Type == dominant {
			return is.Message
		}
	}
	return group[0].Message
}

func groupImpact(group []types.ValidationIssue) types.ImpactLevel {
	blocking := 0
	for _, is := range group {
		if is.Severity == types.IssueBlocking {
			blocking++
		}
	}
	switch {
	case blocking > 0:
		return types.ImpactBlocking
	case len(group) >= 3:
		return types.ImpactDegraded
	default:
		return types.ImpactMinor
	}
}

// groupConfidence is higher for homogeneous groups: when every issue shares
// the dominant type the analysis almost certainly found one root cause.
func groupConfidence(group []types.ValidationIssue, dominant types.ValidationType) float64 {
	same := 0
	for _, is := range group {
		if is.Type == dominant {
			same++
		}
	}
	base := 0.5 + 0.4*float64(same)/float64(len(group))
	if len(distinctFiles(group)) == 1 {
		base += 0.1
	}
	if base > 1.0 {
		base = 1.0
	}
	return base
}

func distinctFiles(group []types.ValidationIssue) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, is := range group {
		if is.File == "" {
			continue
		}
		if _, ok := seen[is.File]; !ok {
			seen[is.File] = struct{}{}
			out = append(out, is.File)
		}
	}
	sort.Strings(out)
	return out
}

func suggestFixes(analysis types.FailureAnalysis, dominant types.ValidationType, files []string) []types.SuggestedFix {
	var fixes []types.SuggestedFix

	allFixable := true
	for _, is := range analysis.RelatedIssues {
		if !is.Fixable {
			allFixable = false
			break
		}
	}

	switch {
	case dominant == types.ValidationConventions && allFixable:
		fixes = append(fixes, types.SuggestedFix{
			ID:              uuid.NewString(),
			Description:     "mechanically strip convention violations",
			Type:            types.FixAutomatic,
			EstimatedEffort: types.EffortTrivial,
			Files:           files,
			Reasoning:       "every issue has an exact textual fix",
		})

	case dominant == types.ValidationSyntax || dominant == types.ValidationStructure:
		fixes = append(fixes, types.SuggestedFix{
			ID:              uuid.NewString(),
			Description:     "regenerate the broken region from diagnostics",
			Type:            types.FixAutomatic,
			EstimatedEffort: types.EffortLow,
			Files:           files,
			Reasoning:       "structural breakage is localized and machine-fixable",
		})

	case dominant == types.ValidationDiagnostics && allFixable:
		fixes = append(fixes, types.SuggestedFix{
			ID:              uuid.NewString(),
			Description:     "apply generated fix for reported errors",
			Type:            types.FixGuided,
			EstimatedEffort: types.EffortMedium,
			Files:           files,
			Reasoning:       "compiler errors usually need semantic judgment",
		})
	}

	fixes = append(fixes, types.SuggestedFix{
		ID:              uuid.NewString(),
		Description:     "hand the failure to a human",
		Type:            types.FixManual,
		EstimatedEffort: types.EffortHigh,
		Files:           files,
		Reasoning:       "fallback when no automated path applies",
	})
	return fixes
}

func impactRank(i types.ImpactLevel) int {
	switch i {
	case types.ImpactBlocking:
		return 2
	case types.ImpactDegraded:
		return 1
	default:
		return 0
	}
}

// SelectFix picks the cheapest automatic fix the policy allows for the
// analysis' dominant validation type: lowest effort first, fewest files on
// ties. Guided and manual fixes always need a human, so they are never
// selected here; an analysis with no qualifying fix returns nil and is
// skipped by the loop without counting as an attempt.
func SelectFix(analysis types.FailureAnalysis, allowed func(types.ValidationType) bool) *types.SuggestedFix {
	if allowed != nil && !allowed(dominantType(analysis.RelatedIssues)) {
		return nil
	}
	var best *types.SuggestedFix
	for i := range analysis.SuggestedFixes {
		f := &analysis.SuggestedFixes[i]
		if f.Type != types.FixAutomatic {
			continue
		}
		if best == nil ||
			f.EstimatedEffort.Rank() < best.EstimatedEffort.Rank() ||
			(f.EstimatedEffort.Rank() == best.EstimatedEffort.Rank() && len(f.Files) < len(best.Files)) {
			best = f
		}
	}
	return best
}
