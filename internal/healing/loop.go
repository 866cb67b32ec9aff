package healing

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"remedy/internal/approval"
	"remedy/internal/checkpoint"
	"remedy/internal/cluster"
	"remedy/internal/config"
	"remedy/internal/confidence"
	"remedy/internal/diff"
	"remedy/internal/generator"
	"remedy/internal/logging"
	"remedy/internal/patch"
	"remedy/internal/plan"
	"remedy/internal/types"
	"remedy/internal/validation"
)

// Recorder persists the audit trail of a heal: every attempt, every
// validation run, and every checkpoint taken before an apply. Nil recorders
// are allowed; recording failures never abort a heal.
type Recorder interface {
	RecordAttempt(result string, attempt types.HealingAttempt) error
	RecordValidation(res *types.ValidationResult) error
	RecordCheckpoint(cp *types.Checkpoint) error
}

// Healer runs bounded self-healing cycles over a workspace.
type Healer struct {
	workspace string
	policy    config.HealingPolicy

	engine      *validation.Engine
	clusterer   *cluster.Clusterer
	planner     *plan.Planner
	approvals   *approval.Engine
	generator   types.ContentGenerator
	fallback    *generator.Fallback
	synthesizer *patch.Synthesizer
	applier     *patch.Applier
	checkpoints *checkpoint.Manager
	recorder    Recorder
}

// Options carries the optional collaborators of a Healer.
type Options struct {
	Generator types.ContentGenerator
	Recorder  Recorder
}

// NewHealer wires a healer over the given workspace. The checkpoint manager
// and applier share one workspace lock, so heal cycles never interleave
// filesystem mutations.
func NewHealer(workspace string, cfg *config.Config, engine *validation.Engine, approvals *approval.Engine, opts Options) *Healer {
	cpm := checkpoint.NewManager(workspace, nil)
	return &Healer{
		workspace:   workspace,
		policy:      cfg.Healing,
		engine:      engine,
		clusterer:   cluster.New(),
		planner:     plan.New(),
		approvals:   approvals,
		generator:   opts.Generator,
		fallback:    generator.NewFallback(workspace),
		synthesizer: patch.NewSynthesizer(workspace),
		applier:     patch.NewApplier(workspace, cpm),
		checkpoints: cpm,
		recorder:    opts.Recorder,
	}
}

// Checkpoints exposes the healer's checkpoint manager.
func (h *Healer) Checkpoints() *checkpoint.Manager {
	return h.checkpoints
}

// Heal validates the files and, while validation fails, runs analyze/fix
// cycles until it succeeds or a bound trips. Cancellation is honored between
// cycles, never mid-apply: an in-flight patch batch always completes or
// rolls back before the loop observes ctx.
func (h *Healer) Heal(ctx context.Context, files []string) (*types.HealingResult, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, h.policy.HealingTimeout())
	defer cancel()

	result := &types.HealingResult{}
	finish := func(outcome types.HealingOutcome, summary string, final *types.ValidationResult) (*types.HealingResult, error) {
		result.Outcome = outcome
		result.Summary = summary
		result.FinalValidation = final
		result.Duration = time.Since(start)
		logging.HealingDebug("heal finished: %s after %d attempt(s) in %s", outcome, len(result.Attempts), result.Duration)
		return result, nil
	}

	target := validation.Target{Workspace: h.workspace, Files: files}
	current, err := h.engine.Run(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("initial validation failed: %w", err)
	}
	h.recordValidation(current)
	if current.Passed {
		return finish(types.HealSucceeded, "workspace already valid", current)
	}

	retries := 0    // failed fix attempts: plan construction, synthesis, apply
	considered := 0 // analyses carried into an attempt
	approvalBlocked := false
	declined := make(map[string]bool) // root causes a human already declined

	for considered < h.policy.MaxHealingAttempts && retries < h.policy.MaxRetries {
		if err := ctx.Err(); err != nil {
			return finish(types.HealRetriesExhausted,
				fmt.Sprintf("canceled after %d attempt(s): %v", len(result.Attempts), err), current)
		}

		analyses := Analyze(current.Issues)
		if len(analyses) == 0 {
			return finish(types.HealUnfixable, "validation failed but produced no analyzable issues", current)
		}

		progressed := false
		attempted := false
		for _, analysis := range analyses {
			if considered >= h.policy.MaxHealingAttempts || retries >= h.policy.MaxRetries {
				break
			}
			if declined[analysis.RootCause] {
				continue
			}
			fix := SelectFix(analysis, h.policy.AutoFixAllowed)
			if fix == nil {
				// Nothing automatic and policy-allowed for this group; move
				// on without counting an attempt.
				continue
			}
			considered++
			attempted = true

			attempt := types.HealingAttempt{
				ID:             uuid.NewString(),
				Timestamp:      time.Now(),
				OriginalIssues: current.Issues,
				Analysis:       analysis,
				SelectedFix:    fix,
			}

			changePlan, err := h.buildPlan(ctx, analysis, fix)
			if err != nil {
				attempt.Error = err.Error()
				h.record(&attempt)
				result.Attempts = append(result.Attempts, attempt)
				retries++
				logging.HealingDebug("plan construction failed (retry %d/%d): %v", retries, h.policy.MaxRetries, err)
				continue
			}
			attempt.Plan = changePlan

			patches, err := h.synthesizer.Synthesize(*changePlan)
			if err != nil {
				attempt.Error = err.Error()
				h.record(&attempt)
				result.Attempts = append(result.Attempts, attempt)
				retries++
				logging.HealingDebug("synthesis rejected plan (retry %d/%d): %v", retries, h.policy.MaxRetries, err)
				continue
			}

			intent := h.intentFor(fix, changePlan)
			needsHuman := h.needsApproval(analysis, changePlan)
			attempt.ApprovalRequired = needsHuman

			if needsHuman && !h.policy.AllowUnapprovedFixes {
				approved, aerr := h.approvals.Request(ctx, intent, h.preview(patches))
				if aerr != nil || !approved {
					attempt.Error = "requires approval"
					if aerr != nil {
						attempt.Error = aerr.Error()
					}
					h.record(&attempt)
					result.Attempts = append(result.Attempts, attempt)
					approvalBlocked = true
					declined[analysis.RootCause] = true
					logging.HealingDebug("fix %q withheld: approval not granted", fix.Description)
					continue
				}
			}

			cp, err := h.applier.Apply(intent, patches)
			if err != nil {
				attempt.Error = err.Error()
				h.record(&attempt)
				result.Attempts = append(result.Attempts, attempt)
				retries++
				logging.HealingDebug("apply failed and rolled back (retry %d/%d): %v", retries, h.policy.MaxRetries, err)
				continue
			}
			h.recordCheckpoint(cp)

			after, err := h.engine.Run(ctx, target)
			if err != nil {
				return nil, fmt.Errorf("re-validation failed: %w", err)
			}
			h.recordValidation(after)
			attempt.NewIssues = after.Issues
			attempt.Success = after.Passed
			h.record(&attempt)
			result.Attempts = append(result.Attempts, attempt)

			if after.Passed {
				return finish(types.HealSucceeded,
					fmt.Sprintf("healed in %d attempt(s)", len(result.Attempts)), after)
			}
			current = after
			progressed = true
			break // re-analyze against the fresh validation result
		}

		if progressed {
			continue
		}
		if !attempted {
			if approvalBlocked {
				return finish(types.HealNeedsApproval,
					"remaining fixes need approval that was not granted", current)
			}
			return finish(types.HealUnfixable,
				"no automatic, policy-allowed fix for the remaining issues", current)
		}
		// Every considered analysis failed this pass; the budgets decide
		// whether another pass is worth taking.
	}

	if retries >= h.policy.MaxRetries {
		return finish(types.HealRetriesExhausted,
			fmt.Sprintf("gave up after %d failed fix attempt(s)", retries), current)
	}
	return finish(types.HealRetriesExhausted,
		fmt.Sprintf("still failing after %d attempt(s)", considered), current)
}

// RecoverStaleJournal reports the write-ahead journal entry left behind by a
// run that died mid-apply and clears it so the next apply starts clean. A
// nil entry means the previous run shut down cleanly.
func (h *Healer) RecoverStaleJournal() (*patch.JournalEntry, error) {
	j := patch.NewJournal(h.workspace)
	entry, err := j.Pending()
	if err != nil || entry == nil {
		return entry, err
	}
	logging.HealingDebug("stale apply journal from intent %s (%d patch(es)); clearing",
		entry.IntentID, len(entry.Patches))
	if err := j.Clear(); err != nil {
		return entry, err
	}
	return entry, nil
}

// needsApproval decides whether a human must confirm this fix before apply.
// Selection already guarantees the fix is automatic and its validation type
// policy-allowed; what remains is the confidence gate.
func (h *Healer) needsApproval(analysis types.FailureAnalysis, changePlan *types.ChangePlan) bool {
	if analysis.Confidence < h.policy.RequireApprovalThreshold {
		return true
	}

	files := changePlan.AffectedFiles()
	category := h.categoryFor(analysis)
	size := sizeForPlan(changePlan)
	hasExports := false
	for _, f := range files {
		if confidence.HasExportMarkers(filepath.Join(h.workspace, f)) {
			hasExports = true
			break
		}
	}
	return confidence.Decide(category, size, len(files), hasExports) != confidence.DecisionAutoApply
}

func (h *Healer) categoryFor(analysis types.FailureAnalysis) types.Category {
	switch dominantType(analysis.RelatedIssues) {
	case types.ValidationSyntax:
		return types.CategorySyntax
	case types.ValidationStructure:
		return types.CategoryStructure
	case types.ValidationConventions, types.ValidationLint:
		return types.CategoryLint
	case types.ValidationDiagnostics:
		return types.CategorySyntax
	default:
		return types.CategoryUnknown
	}
}

func sizeForPlan(p *types.ChangePlan) confidence.ChangeSize {
	edits := 0
	for _, s := range p.Steps {
		if len(s.Edits) > 0 {
			edits += len(s.Edits)
		} else {
			edits++
		}
	}
	switch {
	case edits >= 10:
		return confidence.SizeLarge
	case edits >= 4:
		return confidence.SizeMedium
	default:
		return confidence.SizeSmall
	}
}

// buildPlan turns the selected fix into a concrete change plan: mechanical
// issues go to the fallback builder, everything else to the generator.
func (h *Healer) buildPlan(ctx context.Context, analysis types.FailureAnalysis, fix *types.SuggestedFix) (*types.ChangePlan, error) {
	if h.fallback.CanHandle(analysis.RelatedIssues) {
		return h.fallback.BuildPlan(analysis.RelatedIssues)
	}
	if h.generator == nil {
		return nil, fmt.Errorf("fix %q needs the content generator, which is not configured", fix.Description)
	}

	diags := issuesToDiagnostics(analysis.RelatedIssues)
	repairPlan := h.planner.Build(h.clusterer.Cluster(diags))

	out := &types.ChangePlan{Description: fix.Description}
	for _, file := range fix.Files {
		content, err := os.ReadFile(filepath.Join(h.workspace, file))
		if err != nil {
			return nil, fmt.Errorf("cannot read %s for generation: %w", file, err)
		}

		gen, err := h.generator.Generate(ctx, types.GenerationRequest{
			FilePath:       file,
			LanguageID:     languageFor(file),
			CurrentContent: string(content),
			Diagnostics:    diagnosticsForFile(diags, file),
			Intent:         repairPlan.Intent,
		})
		if err != nil {
			return nil, err
		}

		step := types.ChangeStep{Path: file, Operation: types.PatchModify}
		if len(gen.Edits) > 0 {
			step.Edits = gen.Edits
		} else {
			step.Content = gen.Content
		}
		out.Steps = append(out.Steps, step)
	}
	return out, nil
}

func (h *Healer) intentFor(fix *types.SuggestedFix, changePlan *types.ChangePlan) types.ActionIntent {
	return types.ActionIntent{
		ID:            uuid.NewString(),
		Type:          types.ActionModify,
		Description:   fix.Description,
		FilesAffected: changePlan.AffectedFiles(),
		Reversible:    true,
	}
}

// preview renders a unified diff of the batch for the approval surface.
func (h *Healer) preview(patches []types.Patch) string {
	var b strings.Builder
	for _, p := range patches {
		switch p.Operation {
		case types.PatchCreate:
			b.WriteString(diff.Compute(p.FilePath, "", p.Content).Unified())
		case types.PatchModify:
			newContent := p.Content
			if len(p.Edits) > 0 {
				newContent = p.OriginalContent // edits rendered per-range below
			}
			fd := diff.Compute(p.FilePath, p.OriginalContent, newContent)
			if fd.HasChanges() {
				b.WriteString(fd.Unified())
			}
			for _, e := range p.Edits {
				fmt.Fprintf(&b, "--- %s:%d-%d\n-%s\n+%s\n", p.FilePath, e.StartLine, e.EndLine,
					strings.ReplaceAll(e.OriginalContent, "\n", "\n-"),
					strings.ReplaceAll(e.Content, "\n", "\n+"))
			}
		case types.PatchDelete:
			b.WriteString(diff.Compute(p.FilePath, p.OriginalContent, "").Unified())
		case types.PatchMove:
			fmt.Fprintf(&b, "rename %s -> %s\n", p.FilePath, p.NewPath)
		}
	}
	return b.String()
}

func (h *Healer) record(attempt *types.HealingAttempt) {
	if h.recorder == nil {
		return
	}
	outcome := "failed"
	if attempt.Success {
		outcome = "succeeded"
	}
	if err := h.recorder.RecordAttempt(outcome, *attempt); err != nil {
		logging.HealingDebug("could not record attempt %s: %v", attempt.ID, err)
	}
}

func (h *Healer) recordValidation(res *types.ValidationResult) {
	if h.recorder == nil {
		return
	}
	if err := h.recorder.RecordValidation(res); err != nil {
		logging.HealingDebug("could not record validation run: %v", err)
	}
}

func (h *Healer) recordCheckpoint(cp *types.Checkpoint) {
	if h.recorder == nil || cp == nil {
		return
	}
	if err := h.recorder.RecordCheckpoint(cp); err != nil {
		logging.HealingDebug("could not record checkpoint %s: %v", cp.ID, err)
	}
}

// issuesToDiagnostics projects validation issues back into diagnostic form
// for the clustering pipeline.
func issuesToDiagnostics(issues []types.ValidationIssue) []types.Diagnostic {
	out := make([]types.Diagnostic, 0, len(issues))
	for _, is := range issues {
		sev := types.SeverityWarning
		if is.Severity == types.IssueBlocking {
			sev = types.SeverityError
		}
		out = append(out, types.Diagnostic{
			File:        is.File,
			StartLine:   is.Line,
			StartColumn: is.Column,
			EndLine:     is.Line,
			Severity:    sev,
			Message:     is.Message,
			Source:      string(is.Type),
		})
	}
	return out
}

func diagnosticsForFile(diags []types.Diagnostic, file string) []types.Diagnostic {
	var out []types.Diagnostic
	for _, d := range diags {
		if d.File == file {
			out = append(out, d)
		}
	}
	return out
}

func languageFor(file string) string {
	switch filepath.Ext(file) {
	case ".ts":
		return "typescript"
	case ".tsx":
		return "typescriptreact"
	case ".js", ".mjs":
		return "javascript"
	case ".jsx":
		return "javascriptreact"
	case ".go":
		return "go"
	case ".css":
		return "css"
	default:
		return ""
	}
}
