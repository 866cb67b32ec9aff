package cluster

import (
	"sort"

	"remedy/internal/logging"
	"remedy/internal/types"
)

// Clusterer groups diagnostics into root-cause clusters, one file at a
// time. It is stateless; a single instance is safe for concurrent use.
type Clusterer struct{}

// New returns a Clusterer.
func New() *Clusterer {
	return &Clusterer{}
}

// Cluster partitions the given diagnostics into clusters. Every diagnostic
// appears in exactly one cluster; unmatched diagnostics surface as isolated
// minor clusters, never dropped. The result is ordered with critical
// clusters first.
func (c *Clusterer) Cluster(diags []types.Diagnostic) []types.DiagnosticCluster {
	if len(diags) == 0 {
		return nil
	}

	byFile := make(map[string][]types.Diagnostic)
	var files []string
	for _, d := range diags {
		if _, seen := byFile[d.File]; !seen {
			files = append(files, d.File)
		}
		byFile[d.File] = append(byFile[d.File], d)
	}
	sort.Strings(files)

	var clusters []types.DiagnosticCluster
	for _, file := range files {
		clusters = append(clusters, clusterFile(file, byFile[file])...)
	}

	// Critical clusters first; otherwise keep discovery order.
	sort.SliceStable(clusters, func(i, j int) bool {
		return severityRank(clusters[i].Severity) < severityRank(clusters[j].Severity)
	})

	logging.ClusterDebug("clustered %d diagnostics into %d clusters across %d files",
		len(diags), len(clusters), len(files))

	return clusters
}

// clusterFile runs the cascade walk over one file's diagnostics.
func clusterFile(file string, diags []types.Diagnostic) []types.DiagnosticCluster {
	sorted := make([]types.Diagnostic, len(diags))
	copy(sorted, diags)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].StartLine != sorted[j].StartLine {
			return sorted[i].StartLine < sorted[j].StartLine
		}
		return sorted[i].StartColumn < sorted[j].StartColumn
	})

	categories := make([]types.Category, len(sorted))
	for i, d := range sorted {
		categories[i] = Classify(d)
	}

	consumed := make([]bool, len(sorted))
	var clusters []types.DiagnosticCluster

	for i, root := range sorted {
		if consumed[i] {
			continue
		}
		cat := categories[i]

		// Only syntax and structure problems cascade; everything else is
		// its own cluster.
		if cat != types.CategorySyntax && cat != types.CategoryStructure {
			consumed[i] = true
			clusters = append(clusters, types.DiagnosticCluster{
				File:     file,
				Category: cat,
				Root:     root,
				Severity: types.ClusterMinor,
			})
			continue
		}

		var related []types.Diagnostic
		for j := i + 1; j < len(sorted); j++ {
			if consumed[j] || categories[j] != cat {
				continue
			}
			if lineDistance(root, sorted[j]) > maxCascadeDistance {
				continue
			}
			if cascades(root, sorted[j]) {
				related = append(related, sorted[j])
				consumed[j] = true
			}
		}
		consumed[i] = true

		clusters = append(clusters, types.DiagnosticCluster{
			File:     file,
			Category: cat,
			Root:     root,
			Related:  related,
			Severity: clusterSeverity(root, related),
		})
	}

	return clusters
}

// clusterSeverity assigns critical/cascading/minor per the size of the
// cascade and the impact of the root message.
func clusterSeverity(root types.Diagnostic, related []types.Diagnostic) types.ClusterSeverity {
	if len(related) >= 3 || isHighImpact(root.Message) {
		return types.ClusterCritical
	}
	if len(related) > 0 {
		return types.ClusterCascading
	}
	return types.ClusterMinor
}

func lineDistance(a, b types.Diagnostic) int {
	d := a.StartLine - b.StartLine
	if d < 0 {
		d = -d
	}
	return d
}

func severityRank(s types.ClusterSeverity) int {
	switch s {
	case types.ClusterCritical:
		return 0
	case types.ClusterCascading:
		return 1
	default:
		return 2
	}
}
