// Package plan turns diagnostic clusters into a prioritized, file-scoped
// repair plan. Plans are deterministic: the same clusters always produce the
// same intent text and complexity score.
package plan

import (
	"fmt"
	"math"
	"strings"

	"remedy/internal/logging"
	"remedy/internal/types"
)

// Planner builds repair plans from clusters. Stateless.
type Planner struct{}

// New returns a Planner.
func New() *Planner {
	return &Planner{}
}

// Build constructs one RepairPlan for the given clusters. An empty cluster
// list yields a trivial minor plan with zero files and complexity 0.
func (p *Planner) Build(clusters []types.DiagnosticCluster) types.RepairPlan {
	if len(clusters) == 0 {
		return types.RepairPlan{
			Intent:   "No diagnostics to repair.",
			Priority: types.PriorityMinor,
		}
	}

	plan := types.RepairPlan{
		Priority:            priority(clusters),
		Files:               fileInfos(clusters),
		EstimatedComplexity: complexity(clusters),
		Intent:              intentText(clusters),
	}

	logging.PlanDebug("built plan: priority=%s files=%d complexity=%d",
		plan.Priority, len(plan.Files), plan.EstimatedComplexity)

	return plan
}

// priority is critical if any cluster is critical, normal if any is
// cascading, else minor.
func priority(clusters []types.DiagnosticCluster) types.PlanPriority {
	hasCascading := false
	for _, c := range clusters {
		switch c.Severity {
		case types.ClusterCritical:
			return types.PriorityCritical
		case types.ClusterCascading:
			hasCascading = true
		}
	}
	if hasCascading {
		return types.PriorityNormal
	}
	return types.PriorityMinor
}

// complexity = ceil(min(totalDiagnostics/2, 5) + min(fileCount-1, 2) +
// criticalClusterCount), clamped to [0,10].
func complexity(clusters []types.DiagnosticCluster) int {
	totalDiagnostics := 0
	criticalCount := 0
	files := make(map[string]struct{})

	for _, c := range clusters {
		totalDiagnostics += c.DiagnosticCount()
		files[c.File] = struct{}{}
		if c.Severity == types.ClusterCritical {
			criticalCount++
		}
	}

	diagTerm := math.Min(float64(totalDiagnostics)/2, 5)
	fileTerm := math.Min(float64(len(files)-1), 2)
	score := int(math.Ceil(diagTerm + fileTerm + float64(criticalCount)))

	if score < 0 {
		score = 0
	}
	if score > 10 {
		score = 10
	}
	return score
}

// fileInfos derives the read-only per-file views, one per cluster, in
// cluster order.
func fileInfos(clusters []types.DiagnosticCluster) []types.RepairFileInfo {
	infos := make([]types.RepairFileInfo, 0, len(clusters))
	for _, c := range clusters {
		reason := c.Root.Message
		if len(c.Related) > 0 {
			reason = fmt.Sprintf("%s (+%d downstream)", c.Root.Message, len(c.Related))
		}
		infos = append(infos, types.RepairFileInfo{
			File:            c.File,
			Reason:          reason,
			DiagnosticCount: c.DiagnosticCount(),
			Severity:        c.Severity,
		})
	}
	return infos
}

// intentText renders the three severity tiers followed by the fixed repair
// strategy statement.
func intentText(clusters []types.DiagnosticCluster) string {
	var b strings.Builder

	writeTier := func(title string, sev types.ClusterSeverity) {
		var lines []string
		for _, c := range clusters {
			if c.Severity == sev {
				lines = append(lines, fmt.Sprintf("  - %s: %s", c.File, c.Root.Message))
			}
		}
		if len(lines) == 0 {
			return
		}
		b.WriteString(title)
		b.WriteString("\n")
		for _, l := range lines {
			b.WriteString(l)
			b.WriteString("\n")
		}
	}

	writeTier("Critical root causes (fix first):", types.ClusterCritical)
	writeTier("Cascading failures (resolve with their roots):", types.ClusterCascading)
	writeTier("Minor issues:", types.ClusterMinor)

	b.WriteString("\nStrategy: fix root causes first. Do not fix downstream symptoms " +
		"independently; they resolve when the root is corrected. Respect the " +
		"file's existing conventions. All diagnostics in a cluster must be " +
		"resolved together.")

	return b.String()
}
