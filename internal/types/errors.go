package types

import "errors"

// Error taxonomy for the repair loop. All of these are recovered at the loop
// level and folded into a HealingResult; only ErrPartialApply (and storage
// corruption) should propagate to the caller as unrecoverable.
var (
	// ErrInvalidGeneratedContent marks generator output rejected by the
	// sanity checks (length ratio, dropped structural keywords).
	ErrInvalidGeneratedContent = errors.New("generated content rejected by sanity checks")

	// ErrPatchPrecondition marks a precondition violation detected during
	// synthesis, before any mutation. Fatal to the batch only.
	ErrPatchPrecondition = errors.New("patch precondition violated")

	// ErrPartialApply marks a commit failure whose rollback also failed.
	// This is an invariant breach and must never be silently tolerated.
	ErrPartialApply = errors.New("partial apply: batch not fully rolled back")

	// ErrApprovalTimeout marks an approval request that expired. The loop
	// treats it as a decline.
	ErrApprovalTimeout = errors.New("approval request timed out")

	// ErrPolicyViolation marks an action rejected pre-execution by policy
	// (batch too large, destructive action disallowed). Never downgraded
	// to a warning.
	ErrPolicyViolation = errors.New("policy violation")

	// ErrCheckpointNotFound is returned when restoring an unknown or
	// already-evicted checkpoint.
	ErrCheckpointNotFound = errors.New("checkpoint not found")
)
