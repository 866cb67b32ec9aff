// Package approval gates every proposed action behind policy and, when the
// policy demands it, a human decision. No component mutates the workspace
// without a granted request from this package.
package approval

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"remedy/internal/config"
	"remedy/internal/logging"
	"remedy/internal/types"
)

// Engine evaluates action intents against the approval policy.
type Engine struct {
	policy  config.ApprovalPolicy
	surface types.ApprovalSurface
	session *Session
}

// NewEngine creates an approval engine. surface may be nil, in which case
// every request that needs a human is declined.
func NewEngine(policy config.ApprovalPolicy, surface types.ApprovalSurface) *Engine {
	return &Engine{
		policy:  policy,
		surface: surface,
		session: NewSession(),
	}
}

// Session exposes the engine's consent session.
func (e *Engine) Session() *Session {
	return e.session
}

// Request evaluates one intent. preview is the rendered diff shown to the
// human when a decision is needed. The policy timeout is applied as a
// context deadline; expiry counts as a decline.
func (e *Engine) Request(ctx context.Context, intent types.ActionIntent, preview string) (bool, error) {
	intent.RiskLevel = AssessRisk(intent)

	if !e.requiresApproval(intent) {
		logging.ApprovalDebug("auto-approved %s %s (risk=%s)", intent.Type, intent.ID, intent.RiskLevel)
		e.session.Record(intent, true, true)
		return true, nil
	}

	if e.session.StandingApproval(intent.Type) {
		logging.ApprovalDebug("session grant covers %s %s", intent.Type, intent.ID)
		e.session.Record(intent, true, true)
		return true, nil
	}

	if e.surface == nil {
		logging.ApprovalDebug("no approval surface, declining %s %s", intent.Type, intent.ID)
		e.session.Record(intent, false, true)
		return false, nil
	}

	ctx, cancel := context.WithTimeout(ctx, e.policy.Timeout())
	defer cancel()

	approved, err := e.surface.RequestApproval(ctx, intent, preview)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			logging.ApprovalDebug("approval for %s %s timed out, declining", intent.Type, intent.ID)
			e.session.Record(intent, false, false)
			return false, fmt.Errorf("%w: %s", types.ErrApprovalTimeout, intent.ID)
		}
		return false, fmt.Errorf("approval surface failed for %s: %w", intent.ID, err)
	}

	e.session.Record(intent, approved, false)
	logging.ApprovalDebug("human decision for %s %s: approved=%v", intent.Type, intent.ID, approved)
	return approved, nil
}

// RequestBatch evaluates a batch as a unit: one decision covers all intents,
// at the risk level of the riskiest member. Oversized or disallowed batches
// violate policy outright.
func (e *Engine) RequestBatch(ctx context.Context, intents []types.ActionIntent, preview string) (bool, error) {
	if len(intents) == 0 {
		return true, nil
	}
	if len(intents) == 1 {
		return e.Request(ctx, intents[0], preview)
	}
	if !e.policy.AllowBatchActions {
		return false, fmt.Errorf("%w: batch actions are disabled", types.ErrPolicyViolation)
	}
	if len(intents) > e.policy.MaxBatchSize {
		return false, fmt.Errorf("%w: batch of %d exceeds limit %d",
			types.ErrPolicyViolation, len(intents), e.policy.MaxBatchSize)
	}

	combined := types.ActionIntent{
		ID:          intents[0].ID + "-batch",
		Type:        intents[0].Type,
		Description: fmt.Sprintf("batch of %d actions: %s", len(intents), summarize(intents)),
	}
	for _, in := range intents {
		combined.FilesAffected = append(combined.FilesAffected, in.FilesAffected...)
		if riskRank(AssessRisk(in)) > riskRank(combined.RiskLevel) {
			combined.RiskLevel = AssessRisk(in)
			combined.Type = in.Type
		}
	}
	return e.Request(ctx, combined, preview)
}

// requiresApproval applies the policy rules in fixed order.
func (e *Engine) requiresApproval(intent types.ActionIntent) bool {
	for _, t := range e.policy.RequireConfirmationFor {
		if t == intent.Type {
			return true
		}
	}
	if intent.Type == types.ActionDelete && !e.policy.AllowDestructiveActions {
		return true
	}
	if len(intent.FilesAffected) > 5 {
		return true
	}
	if !intent.Reversible {
		return true
	}
	switch intent.RiskLevel {
	case types.RiskLow:
		return !e.policy.AutoApproveLowRisk
	case types.RiskMedium:
		return !e.policy.AutoApproveMediumRisk
	default:
		return !e.policy.AutoApproveHighRisk
	}
}

// AssessRisk classifies an intent. Rules run high to low; the first match
// wins, and anything unmatched lands on medium.
func AssessRisk(intent types.ActionIntent) types.RiskLevel {
	files := intent.FilesAffected

	if intent.Type == types.ActionDelete || intent.Type == types.ActionRunCommand {
		return types.RiskHigh
	}
	for _, f := range files {
		if isConfigFile(f) {
			return types.RiskHigh
		}
	}
	if len(files) > 10 || crossesModules(files) {
		return types.RiskHigh
	}

	if intent.Type == types.ActionModify && touchesProduction(files) {
		return types.RiskMedium
	}
	if len(files) > 3 {
		return types.RiskMedium
	}

	if len(files) > 0 && allTestFiles(files) {
		return types.RiskLow
	}
	if intent.Type == types.ActionCreate && len(files) == 1 {
		return types.RiskLow
	}
	return types.RiskMedium
}

var configFileNames = map[string]bool{
	"package.json":       true,
	"tsconfig.json":      true,
	"go.mod":             true,
	"go.sum":             true,
	"Makefile":           true,
	"Dockerfile":         true,
	".env":               true,
	"webpack.config.js":  true,
	"vite.config.ts":     true,
	"babel.config.js":    true,
	"jest.config.js":     true,
	"rollup.config.js":   true,
	"eslint.config.js":   true,
	"prettier.config.js": true,
}

func isConfigFile(path string) bool {
	base := filepath.Base(path)
	if configFileNames[base] {
		return true
	}
	return strings.HasSuffix(base, ".yaml") || strings.HasSuffix(base, ".yml") ||
		strings.HasSuffix(base, ".toml") || strings.HasSuffix(base, ".env")
}

// crossesModules reports whether the files span more than one top-level
// source directory.
func crossesModules(files []string) bool {
	roots := make(map[string]struct{})
	for _, f := range files {
		parts := strings.SplitN(filepath.ToSlash(f), "/", 3)
		if len(parts) >= 2 {
			roots[parts[0]+"/"+parts[1]] = struct{}{}
		} else {
			roots[parts[0]] = struct{}{}
		}
	}
	return len(roots) > 3
}

func isTestFile(path string) bool {
	base := filepath.Base(path)
	return strings.Contains(base, ".test.") || strings.Contains(base, ".spec.") ||
		strings.HasSuffix(base, "_test.go") ||
		strings.Contains(filepath.ToSlash(path), "/__tests__/")
}

func allTestFiles(files []string) bool {
	for _, f := range files {
		if !isTestFile(f) {
			return false
		}
	}
	return true
}

// touchesProduction reports whether any file is non-test source.
func touchesProduction(files []string) bool {
	for _, f := range files {
		if !isTestFile(f) {
			return true
		}
	}
	return false
}

func riskRank(r types.RiskLevel) int {
	switch r {
	case types.RiskHigh:
		return 2
	case types.RiskMedium:
		return 1
	case types.RiskLow:
		return 0
	default:
		return -1
	}
}

func summarize(intents []types.ActionIntent) string {
	parts := make([]string, 0, len(intents))
	for _, in := range intents {
		parts = append(parts, string(in.Type))
	}
	return strings.Join(parts, ", ")
}
