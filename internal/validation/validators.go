package validation

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"remedy/internal/types"
)

// codeExtensions are the file types the text-scan validators understand.
var codeExtensions = map[string]bool{
	".ts":  true,
	".tsx": true,
	".js":  true,
	".jsx": true,
	".mjs": true,
	".go":  true,
	".css": true,
}

func codeFiles(target Target) []string {
	var out []string
	for _, f := range target.Files {
		if codeExtensions[filepath.Ext(f)] {
			out = append(out, f)
		}
	}
	return out
}

// DiagnosticsValidator surfaces the external diagnostics feed as validation
// issues. It is the authoritative check: the other validators are cheap
// local heuristics that catch problems before the feed refreshes.
type DiagnosticsValidator struct {
	source types.DiagnosticsSource
}

func NewDiagnosticsValidator(source types.DiagnosticsSource) *DiagnosticsValidator {
	return &DiagnosticsValidator{source: source}
}

func (v *DiagnosticsValidator) Type() types.ValidationType { return types.ValidationDiagnostics }

func (v *DiagnosticsValidator) AppliesTo(Target) bool { return true }

func (v *DiagnosticsValidator) Validate(ctx context.Context, target Target) ([]types.ValidationIssue, error) {
	diags, err := v.source.Diagnostics(ctx, target.Files)
	if err != nil {
		return nil, fmt.Errorf("diagnostics source failed: %w", err)
	}

	issues := make([]types.ValidationIssue, 0, len(diags))
	for i, d := range diags {
		issues = append(issues, types.ValidationIssue{
			ID:       fmt.Sprintf("diag-%d-%s-%d", i, d.File, d.StartLine),
			Type:     types.ValidationDiagnostics,
			Severity: diagnosticSeverity(d.Severity),
			Message:  d.Message,
			File:     d.File,
			Line:     d.StartLine,
			Column:   d.StartColumn,
			Fixable:  d.Severity == types.SeverityError,
		})
	}
	return issues, nil
}

func diagnosticSeverity(s types.Severity) types.IssueSeverity {
	switch s {
	case types.SeverityError:
		return types.IssueBlocking
	case types.SeverityWarning:
		return types.IssueWarning
	default:
		return types.IssueInfo
	}
}

// SyntaxValidator catches unterminated string literals with a line scan.
// It deliberately ignores anything requiring a real parse.
type SyntaxValidator struct{}

func NewSyntaxValidator() *SyntaxValidator { return &SyntaxValidator{} }

func (v *SyntaxValidator) Type() types.ValidationType { return types.ValidationSyntax }

func (v *SyntaxValidator) AppliesTo(target Target) bool { return len(codeFiles(target)) > 0 }

func (v *SyntaxValidator) Validate(ctx context.Context, target Target) ([]types.ValidationIssue, error) {
	var issues []types.ValidationIssue
	for _, f := range codeFiles(target) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(filepath.Join(target.Workspace, f))
		if err != nil {
			continue
		}
		for n, line := range strings.Split(string(data), "\n") {
			if quote, open := unterminatedQuote(line); open {
				issues = append(issues, types.ValidationIssue{
					ID:       fmt.Sprintf("syntax-%s-%d", f, n+1),
					Type:     types.ValidationSyntax,
					Severity: types.IssueBlocking,
					Message:  fmt.Sprintf("unterminated %c string literal", quote),
					File:     f,
					Line:     n + 1,
					Fixable:  true,
				})
			}
		}
	}
	return issues, nil
}

// unterminatedQuote reports whether the line opens a ' or " literal it never
// closes. Backticks span lines, so they are out of scope here.
func unterminatedQuote(line string) (rune, bool) {
	var open rune
	escaped := false
	for _, r := range line {
		if escaped {
			escaped = false
			continue
		}
		switch r {
		case '\\':
			escaped = true
		case '\'', '"':
			switch open {
			case 0:
				open = r
			case r:
				open = 0
			}
		case '/':
			if open == 0 {
				// Possible comment start; cheap scan stops here to avoid
				// false positives on quotes inside comments.
				return 0, false
			}
		}
	}
	return open, open != 0
}

// StructureValidator checks bracket balance over whole files: every opener
// must have a closer, and no closer may appear before its opener.
type StructureValidator struct{}

func NewStructureValidator() *StructureValidator { return &StructureValidator{} }

func (v *StructureValidator) Type() types.ValidationType { return types.ValidationStructure }

func (v *StructureValidator) AppliesTo(target Target) bool { return len(codeFiles(target)) > 0 }

func (v *StructureValidator) Validate(ctx context.Context, target Target) ([]types.ValidationIssue, error) {
	var issues []types.ValidationIssue
	for _, f := range codeFiles(target) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(filepath.Join(target.Workspace, f))
		if err != nil {
			continue
		}
		issues = append(issues, checkBalance(f, string(data))...)
	}
	return issues, nil
}

var bracketPairs = map[rune]rune{'}': '{', ')': '(', ']': '['}

// checkBalance scans content for bracket imbalance, skipping string literal
// interiors so braces in strings do not trip it.
func checkBalance(file, content string) []types.ValidationIssue {
	type opener struct {
		r    rune
		line int
	}
	var stack []opener
	var issues []types.ValidationIssue

	line := 1
	var inString rune
	escaped := false
	for _, r := range content {
		if r == '\n' {
			line++
			// A newline terminates ' and " literals; only backticks span.
			if inString == '\'' || inString == '"' {
				inString = 0
			}
			continue
		}
		if escaped {
			escaped = false
			continue
		}
		if inString != 0 {
			switch r {
			case '\\':
				escaped = true
			case inString:
				inString = 0
			}
			continue
		}
		switch r {
		case '\'', '"', '`':
			inString = r
		case '{', '(', '[':
			stack = append(stack, opener{r, line})
		case '}', ')', ']':
			want := bracketPairs[r]
			if len(stack) == 0 || stack[len(stack)-1].r != want {
				issues = append(issues, types.ValidationIssue{
					ID:       fmt.Sprintf("structure-%s-%d", file, line),
					Type:     types.ValidationStructure,
					Severity: types.IssueBlocking,
					Message:  fmt.Sprintf("unexpected '%c'", r),
					File:     file,
					Line:     line,
					Fixable:  true,
				})
				continue
			}
			stack = stack[:len(stack)-1]
		}
	}

	for _, o := range stack {
		issues = append(issues, types.ValidationIssue{
			ID:       fmt.Sprintf("structure-%s-%d", file, o.line),
			Type:     types.ValidationStructure,
			Severity: types.IssueBlocking,
			Message:  fmt.Sprintf("unclosed '%c'", o.r),
			File:     file,
			Line:     o.line,
			Fixable:  true,
		})
	}
	return issues
}

// ConventionsValidator flags trailing whitespace and files missing a final
// newline. Warnings only; never blocks.
type ConventionsValidator struct{}

func NewConventionsValidator() *ConventionsValidator { return &ConventionsValidator{} }

func (v *ConventionsValidator) Type() types.ValidationType { return types.ValidationConventions }

func (v *ConventionsValidator) AppliesTo(target Target) bool { return len(codeFiles(target)) > 0 }

func (v *ConventionsValidator) Validate(ctx context.Context, target Target) ([]types.ValidationIssue, error) {
	var issues []types.ValidationIssue
	for _, f := range codeFiles(target) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(filepath.Join(target.Workspace, f))
		if err != nil {
			continue
		}
		content := string(data)

		for n, line := range strings.Split(content, "\n") {
			if line != strings.TrimRight(line, " \t") {
				issues = append(issues, types.ValidationIssue{
					ID:       fmt.Sprintf("conv-ws-%s-%d", f, n+1),
					Type:     types.ValidationConventions,
					Severity: types.IssueWarning,
					Message:  "trailing whitespace",
					File:     f,
					Line:     n + 1,
					Fixable:  true,
				})
			}
		}
		if content != "" && !strings.HasSuffix(content, "\n") {
			issues = append(issues, types.ValidationIssue{
				ID:       fmt.Sprintf("conv-eof-%s", f),
				Type:     types.ValidationConventions,
				Severity: types.IssueWarning,
				Message:  "missing final newline",
				File:     f,
				Line:     strings.Count(content, "\n") + 1,
				Fixable:  true,
			})
		}
	}
	return issues, nil
}
