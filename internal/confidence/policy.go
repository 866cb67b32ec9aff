// Package confidence decides whether a repair can be applied without human
// confirmation. Decide is a pure function: identical inputs always produce
// identical decisions, and nothing here touches the filesystem except the
// explicit export-scan helper.
package confidence

import (
	"os"
	"strings"

	"remedy/internal/logging"
	"remedy/internal/types"
)

// Decision is the outcome of the confidence policy.
type Decision string

const (
	// DecisionAutoApply: safe to apply without asking.
	DecisionAutoApply Decision = "auto-apply"

	// DecisionAskUser: a human must confirm before applying.
	DecisionAskUser Decision = "ask-user"

	// DecisionPreviewOnly: show the change, never apply. Used by callers
	// when an otherwise-askable change cannot reach a human (e.g. the
	// loop runs with unapproved fixes disallowed).
	DecisionPreviewOnly Decision = "preview-only"
)

// ChangeSize buckets how large a repair is.
type ChangeSize string

const (
	SizeSmall  ChangeSize = "small"
	SizeMedium ChangeSize = "medium"
	SizeLarge  ChangeSize = "large"
)

// SizeFromCluster derives the change size from the cluster's diagnostic
// count: >=10 large, >=4 medium, else small.
func SizeFromCluster(c types.DiagnosticCluster) ChangeSize {
	total := c.DiagnosticCount()
	switch {
	case total >= 10:
		return SizeLarge
	case total >= 4:
		return SizeMedium
	default:
		return SizeSmall
	}
}

// Decide classifies a repair. Rules are evaluated in fixed order; the first
// match wins:
//
//  1. more than one affected file        -> ask-user
//  2. large change                       -> ask-user
//  3. exported/public API in the file    -> ask-user
//  4. syntax or structure category       -> auto-apply
//  5. lint                               -> auto-apply iff small
//  6. type                              -> ask-user
//  7. anything else                      -> ask-user
func Decide(category types.Category, size ChangeSize, affectedFiles int, hasExports bool) Decision {
	d := decide(category, size, affectedFiles, hasExports)
	logging.PolicyDebug("decide(category=%s size=%s files=%d exports=%v) = %s",
		category, size, affectedFiles, hasExports, d)
	return d
}

func decide(category types.Category, size ChangeSize, affectedFiles int, hasExports bool) Decision {
	if affectedFiles > 1 {
		return DecisionAskUser
	}
	if size == SizeLarge {
		return DecisionAskUser
	}
	if hasExports {
		return DecisionAskUser
	}
	switch category {
	case types.CategorySyntax, types.CategoryStructure:
		return DecisionAutoApply
	case types.CategoryLint:
		if size == SizeSmall {
			return DecisionAutoApply
		}
		return DecisionAskUser
	case types.CategoryType:
		return DecisionAskUser
	default:
		return DecisionAskUser
	}
}

// exportMarkers signal that a file declares surface other code may depend
// on. A text scan, not a parse; good enough to force a human into the loop.
var exportMarkers = []string{
	"export ",
	"export default",
	"export {",
	"module.exports",
	"public ",
	"interface ",
}

// HasExportMarkers scans the file for export/public API markers. On read
// failure it conservatively assumes false: an unreadable file must not
// block the repair pipeline.
func HasExportMarkers(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	content := string(data)
	for _, marker := range exportMarkers {
		if strings.Contains(content, marker) {
			return true
		}
	}
	return false
}
