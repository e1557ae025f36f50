package drift

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/catherinevee/driftcert/internal/models"
	"github.com/catherinevee/driftcert/internal/parser"
)

// Hunk is one parsed unified-diff hunk
type Hunk struct {
	Header   string
	OldStart int
	OldLines int
	NewStart int
	NewLines int
	Body     string
}

var hunkHeader = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@(.*)$`)

// codeHunkDeltas extracts unified-diff hunks for every modified config text
// file. Hunks whose changed lines are all comments are dropped.
func codeHunkDeltas(ctx context.Context, golden, drift *Tree, changes models.FileChanges) ([]models.Delta, map[string]string) {
	var deltas []models.Delta
	patches := make(map[string]string)

	for _, entry := range changes.Modified {
		file := entry.Path
		goldenData := golden.Read(file)
		driftData := drift.Read(file)
		if isBinary(goldenData) || isBinary(driftData) {
			continue
		}

		patch := diffFiles(ctx, golden.Files[file].AbsPath, drift.Files[file].AbsPath, goldenData, driftData)
		if patch == "" {
			continue
		}
		patches[file] = patch

		commentPrefixes := parser.CommentPrefixes(file)
		for i, hunk := range parseHunks(patch) {
			if commentOnlyHunk(hunk, commentPrefixes) {
				continue
			}
			deltas = append(deltas, models.Delta{
				ID:       fmt.Sprintf("hunk~%s#%d", file, i),
				Category: models.CategoryCodeHunk,
				File:     file,
				Locator: models.Locator{
					Type:       models.LocatorUnidiff,
					Value:      hunk.Header,
					OldStart:   hunk.OldStart,
					OldLines:   hunk.OldLines,
					NewStart:   hunk.NewStart,
					NewLines:   hunk.NewLines,
					HunkHeader: hunk.Header,
				},
				Snippet: hunk.Body,
			})
		}
	}
	return deltas, patches
}

// diffFiles shells out to git diff --no-index, falling back to a built-in
// unified-diff builder when git is unavailable.
func diffFiles(ctx context.Context, goldenPath, driftPath string, goldenData, driftData []byte) string {
	cmd := exec.CommandContext(ctx, "git", "diff", "--no-index", "--binary", "-U3", "--", goldenPath, driftPath)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	err := cmd.Run()
	if err == nil {
		return "" // identical
	}
	if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
		return stdout.String()
	}
	return buildUnifiedDiff(goldenData, driftData)
}

func isBinary(data []byte) bool {
	return bytes.IndexByte(data, 0) >= 0
}

// parseHunks splits a unified diff into its hunks
func parseHunks(patch string) []Hunk {
	var hunks []Hunk
	var current *Hunk

	for _, line := range strings.Split(patch, "\n") {
		if m := hunkHeader.FindStringSubmatch(line); m != nil {
			if current != nil {
				hunks = append(hunks, *current)
			}
			current = &Hunk{
				Header:   line,
				OldStart: atoiDefault(m[1], 0),
				OldLines: atoiDefault(m[2], 1),
				NewStart: atoiDefault(m[3], 0),
				NewLines: atoiDefault(m[4], 1),
				Body:     line + "\n",
			}
			continue
		}
		if current == nil {
			continue
		}
		if strings.HasPrefix(line, "+") || strings.HasPrefix(line, "-") || strings.HasPrefix(line, " ") || line == "" {
			current.Body += line + "\n"
		}
	}
	if current != nil {
		hunks = append(hunks, *current)
	}
	return hunks
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

// commentOnlyHunk reports whether every changed line in the hunk is a comment
func commentOnlyHunk(hunk Hunk, commentPrefixes []string) bool {
	if len(commentPrefixes) == 0 {
		return false
	}
	changed := 0
	for _, line := range strings.Split(hunk.Body, "\n") {
		if len(line) < 1 {
			continue
		}
		if (line[0] != '+' && line[0] != '-') || strings.HasPrefix(line, "+++") || strings.HasPrefix(line, "---") {
			continue
		}
		changed++
		content := strings.TrimSpace(line[1:])
		if content == "" {
			continue
		}
		isComment := false
		for _, prefix := range commentPrefixes {
			if strings.HasPrefix(content, prefix) {
				isComment = true
				break
			}
		}
		if !isComment {
			return false
		}
	}
	return changed > 0
}

// buildUnifiedDiff produces a -U3 unified diff without git, via an LCS walk.
// Oversized files degrade to a whole-file replacement hunk.
func buildUnifiedDiff(oldData, newData []byte) string {
	oldLines := splitLines(oldData)
	newLines := splitLines(newData)

	const lcsLimit = 5000
	if len(oldLines) > lcsLimit || len(newLines) > lcsLimit {
		return wholeFileHunk(oldLines, newLines)
	}

	ops := diffOps(oldLines, newLines)
	return renderHunks(oldLines, newLines, ops, 3)
}

type diffOp struct {
	kind byte // ' ', '-', '+'
	old  int
	new  int
}

func diffOps(oldLines, newLines []string) []diffOp {
	n, m := len(oldLines), len(newLines)
	lcs := make([][]int, n+1)
	for i := range lcs {
		lcs[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if oldLines[i] == newLines[j] {
				lcs[i][j] = lcs[i+1][j+1] + 1
			} else if lcs[i+1][j] >= lcs[i][j+1] {
				lcs[i][j] = lcs[i+1][j]
			} else {
				lcs[i][j] = lcs[i][j+1]
			}
		}
	}

	var ops []diffOp
	i, j := 0, 0
	for i < n && j < m {
		switch {
		case oldLines[i] == newLines[j]:
			ops = append(ops, diffOp{' ', i, j})
			i++
			j++
		case lcs[i+1][j] >= lcs[i][j+1]:
			ops = append(ops, diffOp{'-', i, -1})
			i++
		default:
			ops = append(ops, diffOp{'+', -1, j})
			j++
		}
	}
	for ; i < n; i++ {
		ops = append(ops, diffOp{'-', i, -1})
	}
	for ; j < m; j++ {
		ops = append(ops, diffOp{'+', -1, j})
	}
	return ops
}

func renderHunks(oldLines, newLines []string, ops []diffOp, ctxLines int) string {
	var sb strings.Builder

	i := 0
	for i < len(ops) {
		if ops[i].kind == ' ' {
			i++
			continue
		}
		// Expand a change group with surrounding context.
		start := i
		for start > 0 && ops[start-1].kind == ' ' && i-start < ctxLines {
			start--
		}
		end := i
		run := 0
		for end < len(ops) {
			if ops[end].kind == ' ' {
				run++
				if run > ctxLines*2 {
					break
				}
			} else {
				run = 0
			}
			end++
		}
		for end > start && ops[end-1].kind == ' ' && run > ctxLines {
			end--
			run--
		}

		oldStart, oldCount, newStart, newCount := 0, 0, 0, 0
		for k := start; k < end; k++ {
			switch ops[k].kind {
			case ' ':
				if oldCount == 0 {
					oldStart = ops[k].old + 1
				}
				if newCount == 0 {
					newStart = ops[k].new + 1
				}
				oldCount++
				newCount++
			case '-':
				if oldCount == 0 {
					oldStart = ops[k].old + 1
				}
				oldCount++
			case '+':
				if newCount == 0 {
					newStart = ops[k].new + 1
				}
				newCount++
			}
		}
		if oldCount == 0 {
			oldStart = 0
		}
		if newCount == 0 {
			newStart = 0
		}

		sb.WriteString(fmt.Sprintf("@@ -%d,%d +%d,%d @@\n", oldStart, oldCount, newStart, newCount))
		for k := start; k < end; k++ {
			switch ops[k].kind {
			case ' ':
				sb.WriteString(" " + oldLines[ops[k].old] + "\n")
			case '-':
				sb.WriteString("-" + oldLines[ops[k].old] + "\n")
			case '+':
				sb.WriteString("+" + newLines[ops[k].new] + "\n")
			}
		}
		i = end
	}
	return sb.String()
}

func wholeFileHunk(oldLines, newLines []string) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("@@ -1,%d +1,%d @@\n", len(oldLines), len(newLines)))
	for _, l := range oldLines {
		sb.WriteString("-" + l + "\n")
	}
	for _, l := range newLines {
		sb.WriteString("+" + l + "\n")
	}
	return sb.String()
}

func splitLines(data []byte) []string {
	if len(data) == 0 {
		return nil
	}
	s := strings.TrimSuffix(string(data), "\n")
	return strings.Split(s, "\n")
}
