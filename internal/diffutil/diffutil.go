// Package diffutil renders and applies unified diffs, shared by the
// apply_diff built-in tool and the executor's diff-preview approval flow.
package diffutil

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// RenderUnifiedDiff produces a standard unified-format patch between the
// original and updated content, used for the executor's diff preview
// (§4.G Diff preview policy).
func RenderUnifiedDiff(path, original, updated string) (string, error) {
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(original),
		B:        difflib.SplitLines(updated),
		FromFile: path,
		ToFile:   path,
		Context:  3,
	}
	return difflib.GetUnifiedDiffString(diff)
}

// DiffStats summarizes added/removed line counts for the stats-only preview
// branch of §4.G (target files of 50 lines or more).
func DiffStats(original, updated string) (added, removed int) {
	a := difflib.SplitLines(original)
	b := difflib.SplitLines(updated)
	matcher := difflib.NewMatcher(a, b)
	for _, op := range matcher.GetOpCodes() {
		switch op.Tag {
		case 'i':
			added += op.J2 - op.J1
		case 'd':
			removed += op.I2 - op.I1
		case 'r':
			added += op.J2 - op.J1
			removed += op.I2 - op.I1
		}
	}
	return added, removed
}

// PatchResult carries the outcome of ApplyUnifiedDiff.
type PatchResult struct {
	Content      string
	LinesAdded   int
	LinesRemoved int
}

// ErrNoHunkMarker is returned when the diff contains no "@@" marker.
var ErrNoHunkMarker = fmt.Errorf("apply_diff: diff contains no @@ hunk marker")

// ApplyUnifiedDiff applies a unified diff to original using the lenient
// algorithm of §4.H apply_diff: it trusts each hunk's line offsets and does
// not verify that removed lines match the original content. This
// reproduces the source's documented (possibly-buggy) behavior on purpose
// (§9 Open questions).
func ApplyUnifiedDiff(original, diff string) (PatchResult, error) {
	if !strings.Contains(diff, "@@") {
		return PatchResult{}, ErrNoHunkMarker
	}

	originalLines := splitKeepEnds(original)
	var out []string
	origIdx := 0 // 0-based cursor into originalLines
	added, removed := 0, 0

	lines := strings.Split(diff, "\n")
	i := 0
	for i < len(lines) {
		line := lines[i]
		if !strings.HasPrefix(line, "@@") {
			i++
			continue
		}
		start, _, ok := parseHunkHeader(line)
		if !ok {
			i++
			continue
		}
		// Emit any unprocessed original lines before the hunk's start.
		targetIdx := start - 1
		if targetIdx < 0 {
			targetIdx = 0
		}
		for origIdx < targetIdx && origIdx < len(originalLines) {
			out = append(out, originalLines[origIdx])
			origIdx++
		}
		i++
		for i < len(lines) {
			body := lines[i]
			if strings.HasPrefix(body, "@@") {
				break
			}
			if body == "" && i == len(lines)-1 {
				i++
				continue
			}
			switch {
			case strings.HasPrefix(body, "---") || strings.HasPrefix(body, "+++") || strings.HasPrefix(body, "\\"):
				// metadata lines are ignored
			case strings.HasPrefix(body, "+"):
				out = append(out, body[1:]+"\n")
				added++
			case strings.HasPrefix(body, "-"):
				if origIdx < len(originalLines) {
					origIdx++
				}
				removed++
			case strings.HasPrefix(body, " "):
				if origIdx < len(originalLines) {
					out = append(out, originalLines[origIdx])
					origIdx++
				} else {
					out = append(out, body[1:]+"\n")
				}
			default:
				// Lines without a leading sign are treated as context.
				if origIdx < len(originalLines) {
					out = append(out, originalLines[origIdx])
					origIdx++
				}
			}
			i++
		}
	}
	for origIdx < len(originalLines) {
		out = append(out, originalLines[origIdx])
		origIdx++
	}

	result := strings.Join(out, "")
	return PatchResult{Content: result, LinesAdded: added, LinesRemoved: removed}, nil
}

func splitKeepEnds(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			out = append(out, s[start:i+1])
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}

// parseHunkHeader parses "@@ -S,L +S',L' @@" and returns the 1-based
// original start line S.
func parseHunkHeader(header string) (start int, length int, ok bool) {
	parts := strings.Fields(header)
	for _, p := range parts {
		if strings.HasPrefix(p, "-") {
			spec := strings.TrimPrefix(p, "-")
			nums := strings.SplitN(spec, ",", 2)
			s, err := strconv.Atoi(nums[0])
			if err != nil {
				return 0, 0, false
			}
			l := 1
			if len(nums) == 2 {
				if v, err := strconv.Atoi(nums[1]); err == nil {
					l = v
				}
			}
			return s, l, true
		}
	}
	return 0, 0, false
}
