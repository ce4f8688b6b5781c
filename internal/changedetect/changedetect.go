// Package changedetect lists files a session's agent run touched in its
// workspace, by querying version-control tooling directly — the same
// ExecRunner-shaped subprocess query the teacher's internal/lithium used
// for its git worktree setup, redirected here at "git diff --name-only" and
// "git ls-files --others" instead of "git worktree add".
package changedetect

import (
	"bytes"
	"context"
	"strings"
	"time"

	"github.com/throw-if-null/bridge/internal/executor"
)

const queryTimeout = 10 * time.Second

// Detect returns the union of files modified since HEAD and untracked,
// non-ignored files, as workspace-relative paths. Any failure (no
// repository, no HEAD, missing git binary) yields an empty list, never an
// error — change detection is best-effort, not load-bearing.
func Detect(ctx context.Context, runner executor.Runner, workspace string) []string {
	type result struct {
		files []string
	}
	modifiedCh := make(chan result, 1)
	untrackedCh := make(chan result, 1)

	go func() { modifiedCh <- result{files: runGitLines(ctx, runner, workspace, "diff", "--name-only", "HEAD")} }()
	go func() {
		untrackedCh <- result{files: runGitLines(ctx, runner, workspace, "ls-files", "--others", "--exclude-standard")}
	}()

	modified := <-modifiedCh
	untracked := <-untrackedCh

	seen := make(map[string]bool)
	var out []string
	for _, f := range modified.files {
		if f != "" && !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	for _, f := range untracked.files {
		if f != "" && !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}

// Patch returns the unified diff of the workspace against HEAD, or a
// sentinel string if the diff could not be produced.
func Patch(ctx context.Context, runner executor.Runner, workspace string) string {
	cctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	var out, errb bytes.Buffer
	code, err := executor.RunToCompletion(cctx, runner, workspace, []string{"git", "diff", "HEAD"}, nil, &out, &errb)
	if err != nil || code != 0 {
		if cctx.Err() != nil {
			return "(unavailable)"
		}
		return "(no changes)"
	}
	if strings.TrimSpace(out.String()) == "" {
		return "(no changes)"
	}
	return out.String()
}

func runGitLines(ctx context.Context, runner executor.Runner, workspace string, args ...string) []string {
	cctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	var out, errb bytes.Buffer
	argv := append([]string{"git"}, args...)
	code, err := executor.RunToCompletion(cctx, runner, workspace, argv, nil, &out, &errb)
	if err != nil || code != 0 {
		return nil
	}
	var lines []string
	for _, l := range strings.Split(out.String(), "\n") {
		l = strings.TrimSpace(l)
		if l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}
