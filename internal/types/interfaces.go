package types

import "context"

// DiagnosticsSource is the read-only feed of diagnostics from an external
// analysis tool. Remedy never mutates or acknowledges these records.
type DiagnosticsSource interface {
	// Diagnostics returns the current diagnostics for the given files.
	// An empty file list means the whole workspace.
	Diagnostics(ctx context.Context, files []string) ([]Diagnostic, error)
}

// GenerationRequest carries everything the external generator needs to
// propose fixed content for one file.
type GenerationRequest struct {
	FilePath       string
	LanguageID     string
	CurrentContent string
	Diagnostics    []Diagnostic

	// Conventions is free-form style guidance extracted by the host
	// assistant; remedy passes it through untouched.
	Conventions string

	// Intent is the repair plan's strategy text for this cycle.
	Intent string
}

// GenerationResult is the generator's proposal: either whole-file content or
// an edit list, never both.
type GenerationResult struct {
	Content string
	Edits   []AppliedEdit
}

// ContentGenerator is the external text-generation capability. It is
// best-effort: it may fail, time out, or return content that the patch
// synthesizer's sanity checks reject. Its output is never trusted blindly.
type ContentGenerator interface {
	Generate(ctx context.Context, req GenerationRequest) (*GenerationResult, error)
}

// ApprovalSurface presents an action intent plus a diff preview to a human
// and returns the decision. Implementations must respect ctx cancellation;
// the approval engine applies the policy timeout as a context deadline and
// treats expiry as a decline.
type ApprovalSurface interface {
	RequestApproval(ctx context.Context, intent ActionIntent, preview string) (approved bool, err error)
}
