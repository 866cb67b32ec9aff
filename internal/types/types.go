// Package types defines the shared data model for the remedy repair loop:
// diagnostics, clusters, plans, patches, checkpoints, validation results and
// healing outcomes. Everything here is plain data; behavior lives in the
// component packages.
package types

import (
	"time"
)

// Severity is the severity of a raw diagnostic as reported by the
// external diagnostics feed.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Diagnostic is a single reported problem. Diagnostics are owned by the
// external feed and never mutated by remedy.
type Diagnostic struct {
	// File is the workspace-relative path the diagnostic refers to.
	File string `json:"file"`

	// StartLine/EndLine are 1-based. EndLine may equal StartLine.
	StartLine   int `json:"start_line"`
	StartColumn int `json:"start_column,omitempty"`
	EndLine     int `json:"end_line,omitempty"`
	EndColumn   int `json:"end_column,omitempty"`

	Severity Severity `json:"severity"`
	Message  string   `json:"message"`

	// Code is the tool-specific diagnostic code, if any (e.g. "ts1005").
	Code string `json:"code,omitempty"`

	// Source names the tool that produced the diagnostic, if known.
	Source string `json:"source,omitempty"`
}

// Category is the root-cause category a diagnostic is classified into.
type Category string

const (
	CategorySyntax    Category = "syntax"
	CategoryStructure Category = "structure"
	CategoryType      Category = "type"
	CategoryLint      Category = "lint"
	CategoryUnknown   Category = "unknown"
)

// ClusterSeverity ranks how disruptive a cluster is.
type ClusterSeverity string

const (
	ClusterCritical  ClusterSeverity = "critical"
	ClusterCascading ClusterSeverity = "cascading"
	ClusterMinor     ClusterSeverity = "minor"
)

// DiagnosticCluster groups a root diagnostic with the diagnostics judged to
// be downstream symptoms of the same root cause. Clusters partition the
// diagnostic set per file: every diagnostic belongs to exactly one cluster.
type DiagnosticCluster struct {
	File     string
	Category Category
	Root     Diagnostic
	Related  []Diagnostic
	Severity ClusterSeverity
}

// DiagnosticCount returns the number of diagnostics the cluster owns,
// root included.
func (c DiagnosticCluster) DiagnosticCount() int {
	return 1 + len(c.Related)
}

// PlanPriority orders repair plans.
type PlanPriority string

const (
	PriorityCritical PlanPriority = "critical"
	PriorityNormal   PlanPriority = "normal"
	PriorityMinor    PlanPriority = "minor"
)

// RepairFileInfo is a read-only, per-file view derived from a cluster.
type RepairFileInfo struct {
	File            string
	Reason          string
	DiagnosticCount int
	Severity        ClusterSeverity
}

// RepairPlan is the planner's output for one healing cycle. Plans are built
// fresh each cycle and never mutated after construction.
type RepairPlan struct {
	// Intent is structured natural-language strategy text handed to the
	// content generator.
	Intent   string
	Priority PlanPriority
	Files    []RepairFileInfo

	// EstimatedComplexity is a 0-10 score.
	EstimatedComplexity int
}

// ActionType identifies the kind of work an intent proposes.
type ActionType string

const (
	ActionCreate      ActionType = "create"
	ActionModify      ActionType = "modify"
	ActionDelete      ActionType = "delete"
	ActionMove        ActionType = "move"
	ActionRunCommand  ActionType = "run-command"
	ActionBranch      ActionType = "branch"
	ActionCommit      ActionType = "commit"
	ActionPullRequest ActionType = "pull-request"
)

// RiskLevel classifies an action intent for the approval gate.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// ActionIntent is a single unit of proposed work submitted to the approval
// gate before anything touches the filesystem.
type ActionIntent struct {
	ID            string
	Type          ActionType
	Description   string
	FilesAffected []string
	RiskLevel     RiskLevel
	Reversible    bool
	Metadata      map[string]string
}

// PatchOperation is the kind of file mutation a patch performs.
type PatchOperation string

const (
	PatchCreate PatchOperation = "create"
	PatchModify PatchOperation = "modify"
	PatchDelete PatchOperation = "delete"
	PatchMove   PatchOperation = "move"
)

// EditType is the kind of line-range edit inside a modify patch.
type EditType string

const (
	EditInsert  EditType = "insert"
	EditReplace EditType = "replace"
	EditDelete  EditType = "delete"
)

// AppliedEdit is one line-range edit. Lines are 1-based; EndLine is
// inclusive and ignored for inserts.
type AppliedEdit struct {
	Type      EditType
	StartLine int
	EndLine   int
	Content   string

	// OriginalContent is the pre-image of the edited range, captured at
	// synthesis time for rollback and previews.
	OriginalContent string
}

// Patch is a validated, ready-to-apply unit of file mutation derived from a
// change plan. Exactly one of Content or Edits carries the new state for
// create/modify patches.
type Patch struct {
	FilePath  string
	Operation PatchOperation
	Content   string
	Edits     []AppliedEdit

	// NewPath is set for move patches.
	NewPath string

	// OriginalContent is the whole-file pre-image for modify/delete,
	// captured for rollback.
	OriginalContent string
}

// FileSnapshot records the state of a single file inside a checkpoint.
// Existed=false means the file was absent when the checkpoint was taken.
type FileSnapshot struct {
	Existed bool
	Content []byte
}

// Checkpoint is an immutable snapshot of file and directory state taken
// immediately before a mutation, used for rollback.
type Checkpoint struct {
	ID          string
	Timestamp   time.Time
	Description string
	Intent      ActionIntent

	// FileSnapshots maps path to content-or-absent.
	FileSnapshots map[string]FileSnapshot

	// DirSnapshots maps ancestor directory to whether it existed before.
	DirSnapshots map[string]bool
}

// ValidationType keys the fixed validator registry.
type ValidationType string

const (
	ValidationDiagnostics ValidationType = "diagnostics"
	ValidationSyntax      ValidationType = "syntax"
	ValidationStructure   ValidationType = "structure"
	ValidationConventions ValidationType = "conventions"
	ValidationLint        ValidationType = "lint"
)

// IssueSeverity ranks a validation issue.
type IssueSeverity string

const (
	IssueBlocking IssueSeverity = "blocking"
	IssueWarning  IssueSeverity = "warning"
	IssueInfo     IssueSeverity = "info"
)

// ValidationIssue is one problem found by a validator.
type ValidationIssue struct {
	ID       string
	Type     ValidationType
	Severity IssueSeverity
	Message  string
	File     string
	Line     int
	Column   int
	Fixable  bool
}

// ValidationSummary aggregates per-category counts for one engine run.
type ValidationSummary struct {
	Total    int // validators selected
	Passed   int // validators with no issues
	Failed   int // validators with at least one issue
	Warnings int // warning-severity issues
	Blockers int // blocking-severity issues
	Skipped  int // validators excluded by the skip list
}

// ValidationResult is the aggregate outcome of one validation engine run.
type ValidationResult struct {
	Passed   bool
	Issues   []ValidationIssue
	Summary  ValidationSummary
	Duration time.Duration
}

// BlockingIssues returns only the blocking-severity issues.
func (r ValidationResult) BlockingIssues() []ValidationIssue {
	var out []ValidationIssue
	for _, is := range r.Issues {
		if is.Severity == IssueBlocking {
			out = append(out, is)
		}
	}
	return out
}

// ImpactLevel describes how badly a failure group hurts the workspace.
type ImpactLevel string

const (
	ImpactBlocking ImpactLevel = "blocking"
	ImpactDegraded ImpactLevel = "degraded"
	ImpactMinor    ImpactLevel = "minor"
)

// FixType distinguishes fixes the loop may apply on its own from fixes that
// need a human in the loop.
type FixType string

const (
	FixAutomatic FixType = "automatic"
	FixGuided    FixType = "guided"
	FixManual    FixType = "manual"
)

// EffortLevel is the estimated effort of a suggested fix.
type EffortLevel string

const (
	EffortTrivial EffortLevel = "trivial"
	EffortLow     EffortLevel = "low"
	EffortMedium  EffortLevel = "medium"
	EffortHigh    EffortLevel = "high"
)

// Rank returns a comparable ordering for effort levels (lower is cheaper).
// Unknown levels rank after high so they are never preferred.
func (e EffortLevel) Rank() int {
	switch e {
	case EffortTrivial:
		return 0
	case EffortLow:
		return 1
	case EffortMedium:
		return 2
	case EffortHigh:
		return 3
	default:
		return 4
	}
}

// SuggestedFix is one candidate remediation for a failure analysis.
type SuggestedFix struct {
	ID              string
	Description     string
	Type            FixType
	EstimatedEffort EffortLevel
	Files           []string
	Reasoning       string
}

// FailureAnalysis groups related validation issues under one root cause.
type FailureAnalysis struct {
	Summary        string
	RootCause      string
	Impact         ImpactLevel
	SuggestedFixes []SuggestedFix
	RelatedIssues  []ValidationIssue

	// Confidence in the analysis, 0.0-1.0.
	Confidence float64
}

// ChangeStep is one file-level operation inside a change plan.
type ChangeStep struct {
	Path      string
	Operation PatchOperation
	Content   string
	Edits     []AppliedEdit
	NewPath   string
}

// ChangePlan is the concrete, file-scoped plan built for a selected fix,
// either by the content generator or by the deterministic fallback.
type ChangePlan struct {
	Description string
	Steps       []ChangeStep
}

// AffectedFiles returns the distinct file paths the plan touches.
func (p ChangePlan) AffectedFiles() []string {
	seen := make(map[string]struct{}, len(p.Steps))
	out := make([]string, 0, len(p.Steps))
	for _, s := range p.Steps {
		if _, ok := seen[s.Path]; !ok {
			seen[s.Path] = struct{}{}
			out = append(out, s.Path)
		}
		if s.NewPath != "" {
			if _, ok := seen[s.NewPath]; !ok {
				seen[s.NewPath] = struct{}{}
				out = append(out, s.NewPath)
			}
		}
	}
	return out
}

// HealingAttempt records one analyze/fix/apply cycle of the loop.
type HealingAttempt struct {
	ID               string
	Timestamp        time.Time
	OriginalIssues   []ValidationIssue
	Analysis         FailureAnalysis
	SelectedFix      *SuggestedFix
	Plan             *ChangePlan
	ApprovalRequired bool
	Success          bool
	NewIssues        []ValidationIssue
	Error            string
}

// HealingOutcome is the terminal state of one heal() call.
type HealingOutcome string

const (
	HealSucceeded        HealingOutcome = "succeeded"
	HealNeedsApproval    HealingOutcome = "needs-approval"
	HealRetriesExhausted HealingOutcome = "retries-exhausted"
	HealUnfixable        HealingOutcome = "unfixable"
)

// HealingResult aggregates a full heal() call. Every outcome carries a
// human-readable summary; nothing fails silently.
type HealingResult struct {
	Outcome         HealingOutcome
	Attempts        []HealingAttempt
	FinalValidation *ValidationResult
	Duration        time.Duration
	Summary         string
}
