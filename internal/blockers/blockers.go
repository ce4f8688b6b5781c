// Package blockers scans agent output for file:line references that mark
// where work remains, the same regex-driven extraction shape the
// tim-coutinho-agentops parser uses for its knowledge patterns, narrowed
// here to a single pattern family instead of a keyword/regex pair list.
package blockers

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const maxBlockers = 10

// Blocker is a single file:line[-line] reference extracted from output.
type Blocker struct {
	Description string `json:"description"`
	File        string `json:"file"`
	LineStart   int    `json:"line_start"`
	LineEnd     int    `json:"line_end"`
}

// locus matches "<name.ext>:<line>" or "<name.ext>:<start>-<end>". The
// extension group requires at least one non-colon, non-whitespace run
// after a dot so bare ratios like "3:4" never match.
var locus = regexp.MustCompile(`\b([\w./-]+\.[A-Za-z0-9]+):(\d+)(?:-(\d+))?\b`)

// Extract returns, in order of first occurrence, up to 10 unique
// file:range blockers found in text. The description is the full line
// containing the match.
func Extract(text string) []Blocker {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	seen := make(map[string]bool)
	var out []Blocker

	for _, line := range lines {
		if len(out) >= maxBlockers {
			break
		}
		matches := locus.FindAllStringSubmatch(line, -1)
		for _, m := range matches {
			if len(out) >= maxBlockers {
				break
			}
			file := m[1]
			start, err := strconv.Atoi(m[2])
			if err != nil {
				continue
			}
			end := start
			if m[3] != "" {
				if e, err := strconv.Atoi(m[3]); err == nil {
					end = e
				}
			}
			key := fmt.Sprintf("%s:%d-%d", file, start, end)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, Blocker{
				Description: strings.TrimSpace(line),
				File:        file,
				LineStart:   start,
				LineEnd:     end,
			})
		}
	}
	return out
}
