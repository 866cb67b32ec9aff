package approval

import (
	"context"
	"errors"
	"testing"
	"time"

	"remedy/internal/config"
	"remedy/internal/types"
)

// stubSurface returns a canned decision, optionally after a delay.
type stubSurface struct {
	approve bool
	delay   time.Duration
	calls   int
}

func (s *stubSurface) RequestApproval(ctx context.Context, intent types.ActionIntent, preview string) (bool, error) {
	s.calls++
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	return s.approve, nil
}

func TestAssessRisk_RuleOrder(t *testing.T) {
	many := make([]string, 11)
	for i := range many {
		many[i] = "src/a/f.ts"
	}

	tests := []struct {
		name   string
		intent types.ActionIntent
		want   types.RiskLevel
	}{
		{"delete is high", types.ActionIntent{Type: types.ActionDelete, FilesAffected: []string{"a.test.ts"}}, types.RiskHigh},
		{"run-command is high", types.ActionIntent{Type: types.ActionRunCommand}, types.RiskHigh},
		{"config file is high", types.ActionIntent{Type: types.ActionModify, FilesAffected: []string{"package.json"}}, types.RiskHigh},
		{"yaml config is high", types.ActionIntent{Type: types.ActionCreate, FilesAffected: []string{"ci.yaml"}}, types.RiskHigh},
		{"more than ten files is high", types.ActionIntent{Type: types.ActionModify, FilesAffected: many}, types.RiskHigh},
		{"production modify is medium", types.ActionIntent{Type: types.ActionModify, FilesAffected: []string{"src/app.ts"}}, types.RiskMedium},
		{"test-only modify is low", types.ActionIntent{Type: types.ActionModify, FilesAffected: []string{"src/app.test.ts"}}, types.RiskLow},
		{"single-file create is low", types.ActionIntent{Type: types.ActionCreate, FilesAffected: []string{"src/new.ts"}}, types.RiskLow},
		{"bare branch action is medium", types.ActionIntent{Type: types.ActionBranch}, types.RiskMedium},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AssessRisk(tt.intent); got != tt.want {
				t.Errorf("AssessRisk = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestRequest_LowRiskAutoApproves(t *testing.T) {
	surface := &stubSurface{approve: false}
	e := NewEngine(config.Default().Approval, surface)

	ok, err := e.Request(context.Background(), types.ActionIntent{
		ID:            "i1",
		Type:          types.ActionCreate,
		FilesAffected: []string{"src/new.ts"},
		Reversible:    true,
	}, "")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("low-risk reversible create should auto-approve")
	}
	if surface.calls != 0 {
		t.Error("auto-approval must not consult the surface")
	}
}

func TestRequest_DeleteAlwaysAsks(t *testing.T) {
	surface := &stubSurface{approve: true}
	e := NewEngine(config.Default().Approval, surface)

	ok, err := e.Request(context.Background(), types.ActionIntent{
		ID:            "i2",
		Type:          types.ActionDelete,
		FilesAffected: []string{"src/old.ts"},
		Reversible:    true,
	}, "")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("surface approved, request should be granted")
	}
	if surface.calls != 1 {
		t.Errorf("surface calls = %d, want 1", surface.calls)
	}
}

// TestRequest_HighRiskGatedByPolicy: high-risk intents go through a human
// unless auto_approve_high_risk is explicitly switched on.
func TestRequest_HighRiskGatedByPolicy(t *testing.T) {
	intent := types.ActionIntent{
		ID:            "i-hr",
		Type:          types.ActionModify,
		FilesAffected: []string{"tsconfig.json"},
		Reversible:    true,
	}

	surface := &stubSurface{approve: true}
	e := NewEngine(config.Default().Approval, surface)
	ok, err := e.Request(context.Background(), intent, "")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || surface.calls != 1 {
		t.Errorf("high risk with default policy: ok=%v calls=%d, want human consulted once", ok, surface.calls)
	}

	optOut := config.Default().Approval
	optOut.AutoApproveHighRisk = true
	surface = &stubSurface{approve: false}
	ok, err = NewEngine(optOut, surface).Request(context.Background(), intent, "")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || surface.calls != 0 {
		t.Errorf("high risk with opt-out: ok=%v calls=%d, want auto-approved without the surface", ok, surface.calls)
	}
}

func TestRequest_NoSurfaceDeclines(t *testing.T) {
	e := NewEngine(config.Default().Approval, nil)

	ok, err := e.Request(context.Background(), types.ActionIntent{
		ID:            "i3",
		Type:          types.ActionModify,
		FilesAffected: []string{"src/app.ts"},
		Reversible:    true,
	}, "")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("medium-risk request with no surface must decline")
	}
}

func TestRequest_TimeoutIsDecline(t *testing.T) {
	policy := config.Default().Approval
	policy.TimeoutSeconds = 1
	surface := &stubSurface{approve: true, delay: 5 * time.Second}
	e := NewEngine(policy, surface)

	start := time.Now()
	ok, err := e.Request(context.Background(), types.ActionIntent{
		ID:            "i4",
		Type:          types.ActionDelete,
		FilesAffected: []string{"src/old.ts"},
		Reversible:    true,
	}, "")
	if ok {
		t.Error("timed-out request must not be approved")
	}
	if !errors.Is(err, types.ErrApprovalTimeout) {
		t.Errorf("err = %v, want ErrApprovalTimeout", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Error("request did not respect the policy timeout")
	}
}

func TestRequest_SessionGrantSkipsSurface(t *testing.T) {
	surface := &stubSurface{approve: true}
	e := NewEngine(config.Default().Approval, surface)
	e.Session().Grant(types.ActionDelete)

	ok, err := e.Request(context.Background(), types.ActionIntent{
		ID:            "i5",
		Type:          types.ActionDelete,
		FilesAffected: []string{"src/old.ts"},
		Reversible:    true,
	}, "")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("standing grant should approve without asking")
	}
	if surface.calls != 0 {
		t.Error("standing grant must not consult the surface")
	}
}

func TestRequestBatch_PolicyLimits(t *testing.T) {
	policy := config.Default().Approval
	policy.MaxBatchSize = 2
	e := NewEngine(policy, &stubSurface{approve: true})

	intents := []types.ActionIntent{
		{ID: "a", Type: types.ActionCreate, FilesAffected: []string{"a.ts"}, Reversible: true},
		{ID: "b", Type: types.ActionCreate, FilesAffected: []string{"b.ts"}, Reversible: true},
		{ID: "c", Type: types.ActionCreate, FilesAffected: []string{"c.ts"}, Reversible: true},
	}

	_, err := e.RequestBatch(context.Background(), intents, "")
	if !errors.Is(err, types.ErrPolicyViolation) {
		t.Errorf("oversized batch: err = %v, want ErrPolicyViolation", err)
	}

	policy.AllowBatchActions = false
	e = NewEngine(policy, &stubSurface{approve: true})
	_, err = e.RequestBatch(context.Background(), intents[:2], "")
	if !errors.Is(err, types.ErrPolicyViolation) {
		t.Errorf("disabled batches: err = %v, want ErrPolicyViolation", err)
	}
}

func TestRequestBatch_TakesHighestRisk(t *testing.T) {
	surface := &stubSurface{approve: true}
	e := NewEngine(config.Default().Approval, surface)

	intents := []types.ActionIntent{
		{ID: "a", Type: types.ActionCreate, FilesAffected: []string{"a.ts"}, Reversible: true},
		{ID: "b", Type: types.ActionDelete, FilesAffected: []string{"b.ts"}, Reversible: true},
	}

	ok, err := e.RequestBatch(context.Background(), intents, "")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("surface approved the batch")
	}
	// The delete member forces a human decision for the whole batch.
	if surface.calls != 1 {
		t.Errorf("surface calls = %d, want 1", surface.calls)
	}
}

func TestSession_Stats(t *testing.T) {
	s := NewSession()
	s.Record(types.ActionIntent{ID: "1"}, true, true)
	s.Record(types.ActionIntent{ID: "2"}, false, false)
	s.Record(types.ActionIntent{ID: "3"}, true, false)

	total, approved, declined, auto := s.Stats()
	if total != 3 || approved != 2 || declined != 1 || auto != 1 {
		t.Errorf("stats = (%d,%d,%d,%d), want (3,2,1,1)", total, approved, declined, auto)
	}
}
