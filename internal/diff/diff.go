// Package diff computes line-level diffs for approval previews using the
// sergi/go-diff engine.
package diff

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// LineType represents the type of diff line.
type LineType int

const (
	LineContext LineType = iota // Unchanged context line
	LineAdded                   // Added line
	LineRemoved                 // Removed line
)

// Line represents a single line in the diff.
type Line struct {
	LineNum int
	Content string
	Type    LineType
}

// Hunk represents a group of changes with surrounding context.
type Hunk struct {
	OldStart int
	OldCount int
	NewStart int
	NewCount int
	Lines    []Line
}

// FileDiff represents changes to a single file.
type FileDiff struct {
	Path     string
	Hunks    []Hunk
	IsNew    bool
	IsDelete bool
}

// contextLines is the context shown around each change in previews.
const contextLines = 3

// Compute builds a FileDiff between the old and new content of one file.
func Compute(path, oldContent, newContent string) *FileDiff {
	fd := &FileDiff{
		Path:     path,
		IsNew:    oldContent == "",
		IsDelete: newContent == "",
	}

	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = 0 // accuracy over speed for code diffs

	// Line-level reduction avoids newline boundary artifacts when turning
	// the char diff back into line operations.
	a, b, lineArray := dmp.DiffLinesToChars(oldContent, newContent)
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCleanupSemantic(diffs)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	fd.Hunks = groupIntoHunks(toOperations(diffs))
	return fd
}

// HasChanges reports whether the diff contains any added or removed line.
func (fd *FileDiff) HasChanges() bool {
	return len(fd.Hunks) > 0
}

// Unified renders the diff in unified format for the approval surface.
func (fd *FileDiff) Unified() string {
	if !fd.HasChanges() {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "--- a/%s\n+++ b/%s\n", fd.Path, fd.Path)
	for _, h := range fd.Hunks {
		fmt.Fprintf(&b, "@@ -%d,%d +%d,%d @@\n", h.OldStart, h.OldCount, h.NewStart, h.NewCount)
		for _, l := range h.Lines {
			switch l.Type {
			case LineAdded:
				b.WriteString("+")
			case LineRemoved:
				b.WriteString("-")
			default:
				b.WriteString(" ")
			}
			b.WriteString(l.Content)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// operation is a single line operation with positions in both versions.
type operation struct {
	typ     LineType
	oldLine int
	newLine int
	content string
}

// toOperations converts diffmatchpatch diffs to line-based operations.
func toOperations(diffs []diffmatchpatch.Diff) []operation {
	var ops []operation
	oldLine, newLine := 0, 0

	for _, d := range diffs {
		lines := strings.Split(d.Text, "\n")
		if len(lines) > 0 && lines[len(lines)-1] == "" {
			lines = lines[:len(lines)-1]
		}

		for _, line := range lines {
			switch d.Type {
			case diffmatchpatch.DiffEqual:
				ops = append(ops, operation{LineContext, oldLine, newLine, line})
				oldLine++
				newLine++
			case diffmatchpatch.DiffDelete:
				ops = append(ops, operation{LineRemoved, oldLine, -1, line})
				oldLine++
			case diffmatchpatch.DiffInsert:
				ops = append(ops, operation{LineAdded, -1, newLine, line})
				newLine++
			}
		}
	}
	return ops
}

// groupIntoHunks groups operations into hunks with context.
func groupIntoHunks(ops []operation) []Hunk {
	if len(ops) == 0 {
		return nil
	}

	var hunks []Hunk
	var current *Hunk
	lastChangeIdx := -1

	for i, op := range ops {
		isChange := op.typ != LineContext

		if isChange {
			if current == nil {
				current = &Hunk{}

				start := i - contextLines
				if start < 0 {
					start = 0
				}
				for j := start; j < i; j++ {
					if ops[j].typ == LineContext {
						current.Lines = append(current.Lines, Line{
							LineNum: ops[j].oldLine + 1,
							Content: ops[j].content,
							Type:    LineContext,
						})
					}
				}
				current.OldStart = ops[start].oldLine + 1
				current.NewStart = ops[start].newLine + 1
				if ops[start].oldLine < 0 {
					current.OldStart = 0
				}
				if ops[start].newLine < 0 {
					current.NewStart = 0
				}
			}
			lastChangeIdx = i
		}

		if current != nil {
			lineNum := op.oldLine + 1
			if op.typ == LineAdded {
				lineNum = op.newLine + 1
			}
			current.Lines = append(current.Lines, Line{
				LineNum: lineNum,
				Content: op.content,
				Type:    op.typ,
			})

			// Close the hunk once enough unchanged context has passed.
			if op.typ == LineContext && i-lastChangeIdx > contextLines {
				trimTo := len(current.Lines) - (i - lastChangeIdx - contextLines)
				if trimTo > 0 && trimTo < len(current.Lines) {
					current.Lines = current.Lines[:trimTo]
				}
				computeCounts(current)
				hunks = append(hunks, *current)
				current = nil
			}
		}
	}

	if current != nil && len(current.Lines) > 0 {
		computeCounts(current)
		hunks = append(hunks, *current)
	}

	return hunks
}

// computeCounts fills OldCount and NewCount for a hunk.
func computeCounts(h *Hunk) {
	for _, l := range h.Lines {
		if l.Type == LineRemoved || l.Type == LineContext {
			h.OldCount++
		}
		if l.Type == LineAdded || l.Type == LineContext {
			h.NewCount++
		}
	}
}
