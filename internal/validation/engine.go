// Package validation runs a fixed registry of validators over a set of
// files and aggregates the results. Validators run concurrently; a panic in
// one validator is contained and surfaces as a single blocking issue rather
// than taking down the run.
package validation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"remedy/internal/config"
	"remedy/internal/logging"
	"remedy/internal/types"
)

// Target is what a validation run inspects.
type Target struct {
	Workspace string
	Files     []string
}

// Validator checks one concern over a target.
type Validator interface {
	Type() types.ValidationType
	AppliesTo(target Target) bool
	Validate(ctx context.Context, target Target) ([]types.ValidationIssue, error)
}

// Engine owns the validator registry. The registry is fixed at construction;
// nothing registers validators at runtime.
type Engine struct {
	validators map[types.ValidationType]Validator
	policy     config.ValidationPolicy
}

// NewEngine builds the standard registry. source may be nil, in which case
// the diagnostics validator is omitted.
func NewEngine(source types.DiagnosticsSource, policy config.ValidationPolicy) *Engine {
	e := &Engine{
		validators: make(map[types.ValidationType]Validator),
		policy:     policy,
	}
	if source != nil {
		e.register(NewDiagnosticsValidator(source))
	}
	e.register(NewSyntaxValidator())
	e.register(NewStructureValidator())
	e.register(NewConventionsValidator())
	return e
}

func (e *Engine) register(v Validator) {
	e.validators[v.Type()] = v
}

// Run executes every applicable, non-skipped validator concurrently and
// aggregates their issues. The run passes only when no validator reports any
// issue. Validator errors (as opposed to issues) abort the run.
func (e *Engine) Run(ctx context.Context, target Target) (*types.ValidationResult, error) {
	start := time.Now()

	if e.policy.MaxValidationTime != "" {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.policy.ValidationTimeout())
		defer cancel()
	}

	var selected []Validator
	skipped := 0
	for _, v := range e.sorted() {
		if e.policy.Skipped(v.Type()) {
			skipped++
			continue
		}
		if !v.AppliesTo(target) {
			continue
		}
		selected = append(selected, v)
	}

	var mu sync.Mutex
	perValidator := make(map[types.ValidationType][]types.ValidationIssue, len(selected))

	g, gctx := errgroup.WithContext(ctx)
	for _, v := range selected {
		v := v
		g.Go(func() error {
			issues, err := runContained(gctx, v, target)
			if err != nil {
				return err
			}
			mu.Lock()
			perValidator[v.Type()] = issues
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("validation run failed: %w", err)
	}

	result := &types.ValidationResult{
		Summary: types.ValidationSummary{
			Total:   len(selected),
			Skipped: skipped,
		},
	}
	for _, v := range selected {
		issues := perValidator[v.Type()]
		if len(issues) == 0 {
			result.Summary.Passed++
			continue
		}
		result.Summary.Failed++
		result.Issues = append(result.Issues, issues...)
	}
	for _, is := range result.Issues {
		switch is.Severity {
		case types.IssueBlocking:
			result.Summary.Blockers++
		case types.IssueWarning:
			result.Summary.Warnings++
		}
	}

	sort.SliceStable(result.Issues, func(i, j int) bool {
		a, b := result.Issues[i], result.Issues[j]
		if a.File != b.File {
			return a.File < b.File
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		return a.Type < b.Type
	})

	result.Passed = len(result.Issues) == 0
	result.Duration = time.Since(start)

	logging.ValidationDebug("run over %d files: %d validators, %d issues (%d blocking), passed=%v in %s",
		len(target.Files), result.Summary.Total, len(result.Issues),
		result.Summary.Blockers, result.Passed, result.Duration)
	return result, nil
}

// sorted returns registry validators in stable type order so runs are
// deterministic regardless of map iteration.
func (e *Engine) sorted() []Validator {
	keys := make([]string, 0, len(e.validators))
	for k := range e.validators {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	out := make([]Validator, 0, len(keys))
	for _, k := range keys {
		out = append(out, e.validators[types.ValidationType(k)])
	}
	return out
}

// runContained executes one validator with panic containment. A panicking
// validator yields exactly one blocking issue tagged with its type.
func runContained(ctx context.Context, v Validator, target Target) (issues []types.ValidationIssue, err error) {
	defer func() {
		if r := recover(); r != nil {
			logging.ValidationDebug("validator %s panicked: %v", v.Type(), r)
			issues = []types.ValidationIssue{{
				ID:       fmt.Sprintf("%s-panic", v.Type()),
				Type:     v.Type(),
				Severity: types.IssueBlocking,
				Message:  fmt.Sprintf("validator %s panicked: %v", v.Type(), r),
			}}
			err = nil
		}
	}()
	return v.Validate(ctx, target)
}
