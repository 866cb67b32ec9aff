package logging

// Convenience helpers for the hot categories. These keep call sites terse:
// logging.HealingDebug("attempt %d failed", n) instead of
// logging.Get(logging.CategoryHealing).Debug(...).

// ClusterDebug logs a debug message to the cluster category.
func ClusterDebug(format string, args ...interface{}) {
	Get(CategoryCluster).Debug(format, args...)
}

// PlanDebug logs a debug message to the plan category.
func PlanDebug(format string, args ...interface{}) {
	Get(CategoryPlan).Debug(format, args...)
}

// PolicyDebug logs a debug message to the policy category.
func PolicyDebug(format string, args ...interface{}) {
	Get(CategoryPolicy).Debug(format, args...)
}

// ApprovalDebug logs a debug message to the approval category.
func ApprovalDebug(format string, args ...interface{}) {
	Get(CategoryApproval).Debug(format, args...)
}

// CheckpointDebug logs a debug message to the checkpoint category.
func CheckpointDebug(format string, args ...interface{}) {
	Get(CategoryCheckpoint).Debug(format, args...)
}

// PatchDebug logs a debug message to the patch category.
func PatchDebug(format string, args ...interface{}) {
	Get(CategoryPatch).Debug(format, args...)
}

// ValidationDebug logs a debug message to the validation category.
func ValidationDebug(format string, args ...interface{}) {
	Get(CategoryValidation).Debug(format, args...)
}

// HealingDebug logs a debug message to the healing category.
func HealingDebug(format string, args ...interface{}) {
	Get(CategoryHealing).Debug(format, args...)
}

// GeneratorDebug logs a debug message to the generator category.
func GeneratorDebug(format string, args ...interface{}) {
	Get(CategoryGenerator).Debug(format, args...)
}

// HistoryDebug logs a debug message to the history category.
func HistoryDebug(format string, args ...interface{}) {
	Get(CategoryHistory).Debug(format, args...)
}

// WatchDebug logs a debug message to the watch category.
func WatchDebug(format string, args ...interface{}) {
	Get(CategoryWatch).Debug(format, args...)
}
