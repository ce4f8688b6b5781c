// Package supervisor owns the subprocess lifecycle of a single session: it
// spawns the agent CLI, enforces the timeout with a process-group
// terminate-then-kill escalation, retries with degraded arguments when the
// CLI rejects a flag, and turns the resulting output into the session's
// terminal state. This replaces the original molecular server's four
// separate polling workers (lithium/carbon/helium/chlorine) with one
// state machine, since this gateway runs exactly one turn per session
// instead of a multi-role pipeline.
package supervisor

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/throw-if-null/bridge/internal/artifacts"
	"github.com/throw-if-null/bridge/internal/blockers"
	"github.com/throw-if-null/bridge/internal/cancel"
	"github.com/throw-if-null/bridge/internal/changedetect"
	"github.com/throw-if-null/bridge/internal/executor"
	"github.com/throw-if-null/bridge/internal/redact"
	"github.com/throw-if-null/bridge/internal/session"
	tasktrace "github.com/throw-if-null/bridge/internal/task"
	"github.com/throw-if-null/bridge/internal/telemetry"
)

const gracePeriod = 5 * time.Second

var unknownFlagPattern = regexp.MustCompile(`(?i)unknown|unrecognized|not recognized|invalid (option|flag)`)

// Supervisor runs one session's agent invocation end to end.
type Supervisor struct {
	AgentBinary string
	Runner      executor.Runner
	Store       *session.Store
}

func New(agentBinary string, runner executor.Runner, store *session.Store) *Supervisor {
	return &Supervisor{AgentBinary: agentBinary, Runner: runner, Store: store}
}

type request struct {
	Argv       []string `json:"argv"`
	IsFallback bool     `json:"is_fallback"`
}

type turnResult struct {
	stdout     string
	stderr     string
	exitCode   int
	timedOut   bool
	isFallback bool
	fallbacks  []session.FallbackEvent
}

// Run spawns the agent for sessionID's task using renderedPrompt, waits
// for completion under task.TimeoutSeconds, applies CLI-flag fallbacks on
// argument rejection, derives redacted deliverables and blockers, runs the
// workspace side-effects in parallel, and writes the session's terminal
// state. It returns only on unrecoverable I/O errors; subprocess failures
// are always folded into the session's terminal state, never returned as
// an error.
func (s *Supervisor) Run(ctx context.Context, sessionID string, task session.Task, renderedPrompt string) (runErr error) {
	ctx, taskSpan := telemetry.StartTaskSpan(ctx, sessionID)
	defer func() {
		tasktrace.RecordOutcome(taskSpan, runErr)
		taskSpan.End()
	}()

	turnCtx, turnCancel := context.WithCancel(ctx)
	cancel.Register(sessionID, turnCancel)
	defer cancel.Unregister(sessionID)
	defer turnCancel()

	turnDir := s.Store.TurnDir(sessionID, 1)
	outDir := s.Store.OutDir(sessionID)
	if err := os.MkdirAll(turnDir, 0o755); err != nil {
		return fmt.Errorf("materialize turn dir: %w", err)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("materialize out dir: %w", err)
	}
	_ = os.MkdirAll(filepath.Join(task.WorkspaceRoot, ".agent-firewall", "artifacts"), 0o755)

	timeout := time.Duration(task.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 600 * time.Second
	}

	result, err := s.runWithFallbacks(turnCtx, task, renderedPrompt, timeout)
	if err != nil {
		return err
	}

	if err := writeRawLogs(turnDir, result); err != nil {
		return err
	}

	if turnCtx.Err() != nil {
		// aborted mid-run: the abort handler already wrote status=aborted;
		// raw logs already captured above (if any) stay on disk, but no
		// further state mutation happens here.
		return nil
	}

	costUSD, turnsCompleted := parseStructuredOutput(turnDir, result.stdout)

	rawOutput := result.stdout + "\n---stderr---\n" + result.stderr
	redacted := redact.Redact(rawOutput)
	blockerList := blockers.Extract(redacted)

	_, _ = s.Store.UpdateState(sessionID, map[string]interface{}{
		"turns_completed": turnsCompleted,
		"blockers":        blockerList,
	})

	var filesChanged []string
	var artifactList []session.Artifact
	var patch string

	g, gctx := errgroup.WithContext(context.Background())
	g.Go(func() error {
		filesChanged = changedetect.Detect(gctx, s.Runner, task.WorkspaceRoot)
		return nil
	})
	g.Go(func() error {
		dir := filepath.Join(task.WorkspaceRoot, ".agent-firewall", "artifacts")
		idx, err := artifacts.Index(dir)
		if err == nil {
			artifactList = idx
		}
		return nil
	})
	g.Go(func() error {
		patch = changedetect.Patch(gctx, s.Runner, task.WorkspaceRoot)
		return nil
	})
	_ = g.Wait()

	status := session.StatusDone
	var errorSummary *string
	if result.timedOut {
		status = session.StatusFailed
		msg := "Worker timed out"
		errorSummary = &msg
	} else if result.exitCode != 0 {
		status = session.StatusFailed
		msg := fmt.Sprintf("Worker exited with code %d", result.exitCode)
		errorSummary = &msg
	}

	summaryArtifact, _ := writeSummary(outDir, task, status, turnsCompleted, blockerList, costUSD)
	patchArtifact, _ := writePatch(outDir, patch)
	var testReportArtifact *session.Artifact
	if looksLikeTestOutput(result.stdout + result.stderr) {
		testReportArtifact, _ = writeTestReport(outDir, result.stdout+result.stderr)
	}
	artifactsJSONArtifact, _ := writeArtifactsJSON(outDir, artifactList)

	finalArtifacts := append([]session.Artifact{}, artifactList...)
	for _, a := range []*session.Artifact{summaryArtifact, patchArtifact, testReportArtifact, artifactsJSONArtifact} {
		if a != nil {
			finalArtifacts = append(finalArtifacts, *a)
		}
	}

	patchState := map[string]interface{}{
		"status":          status,
		"turns_completed": turnsCompleted,
		"blockers":        blockerList,
		"files_changed":   filesChanged,
		"artifacts":       finalArtifacts,
		"fallback_events": result.fallbacks,
	}
	if costUSD != nil {
		patchState["cost_usd"] = *costUSD
	}
	if errorSummary != nil {
		patchState["error_summary"] = *errorSummary
	}

	if errorSummary != nil {
		tasktrace.RecordEvents(taskSpan, "task.failed")
	}
	_, err = s.Store.UpdateState(sessionID, patchState)
	return err
}

// runWithFallbacks spawns the primary argument vector and, on an
// unknown-flag rejection, retries first without --allowedTools and then
// without --output-format, per the fallback ladder.
func (s *Supervisor) runWithFallbacks(ctx context.Context, task session.Task, prompt string, timeout time.Duration) (turnResult, error) {
	ctx, turnSpan := telemetry.StartTurnSpan(ctx, task.SessionID, 1)
	defer turnSpan.End()

	var fallbacks []session.FallbackEvent

	tools := task.AllowedTools
	argv := buildPrimaryArgv(s.AgentBinary, prompt, tools)
	res, rerr := s.spawnOnce(ctx, task.WorkspaceRoot, argv, timeout, false)
	if rerr != nil {
		return turnResult{}, rerr
	}

	if res.exitCode != 0 && !res.timedOut && unknownFlagPattern.MatchString(res.stderr) && mentionsFlag(res.stderr, "allowedtools", "allowed-tools", "allowed_tools") {
		fallbacks = append(fallbacks, session.FallbackEvent{
			Time:           time.Now().UTC().Format(time.RFC3339Nano),
			AttemptedFlag:  "--allowedTools",
			Reason:         "agent rejected --allowedTools",
			FallbackAction: "retried without --allowedTools",
		})
		tasktrace.RecordEvents(turnSpan, "turn.fallback.allowedTools")
		tools = nil
		argv = buildPrimaryArgv(s.AgentBinary, prompt, tools)
		res, rerr = s.spawnOnce(ctx, task.WorkspaceRoot, argv, timeout, true)
		if rerr != nil {
			return turnResult{}, rerr
		}
	}

	if res.exitCode != 0 && !res.timedOut && unknownFlagPattern.MatchString(res.stderr) {
		fallbacks = append(fallbacks, session.FallbackEvent{
			Time:           time.Now().UTC().Format(time.RFC3339Nano),
			AttemptedFlag:  "--output-format",
			Reason:         "agent rejected --output-format",
			FallbackAction: "retried with --print instead of --output-format json",
		})
		tasktrace.RecordEvents(turnSpan, "turn.fallback.outputFormat")
		argv = buildPrintArgv(s.AgentBinary, prompt, tools)
		res, rerr = s.spawnOnce(ctx, task.WorkspaceRoot, argv, timeout, true)
		if rerr != nil {
			return turnResult{}, rerr
		}
	}

	if res.timedOut {
		tasktrace.RecordEvents(turnSpan, "turn.timed_out")
	}
	res.fallbacks = fallbacks
	return res, nil
}

func mentionsFlag(stderr string, names ...string) bool {
	lower := strings.ToLower(stderr)
	for _, n := range names {
		if strings.Contains(lower, n) {
			return true
		}
	}
	return false
}

func buildPrimaryArgv(bin, prompt string, allowedTools []string) []string {
	argv := []string{bin, "-p", prompt, "--output-format", "json"}
	if len(allowedTools) > 0 {
		argv = append(argv, "--allowedTools", strings.Join(allowedTools, ","))
	}
	return argv
}

func buildPrintArgv(bin, prompt string, allowedTools []string) []string {
	argv := []string{bin, "--print", prompt}
	if len(allowedTools) > 0 {
		argv = append(argv, "--allowedTools", strings.Join(allowedTools, ","))
	}
	return argv
}

func (s *Supervisor) spawnOnce(ctx context.Context, dir string, argv []string, timeout time.Duration, isFallback bool) (turnResult, error) {
	var stdout, stderr bytes.Buffer
	proc, err := s.Runner.Start(dir, argv, nil, &stdout, &stderr)
	if err != nil {
		return turnResult{}, fmt.Errorf("spawn agent: %w", err)
	}

	done := make(chan waitResult, 1)
	go func() {
		code, werr := proc.Wait()
		done <- waitResult{code: code, err: werr}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case wr := <-done:
		return turnResult{stdout: stdout.String(), stderr: stderr.String(), exitCode: wr.code, isFallback: isFallback}, nil
	case <-ctx.Done():
		_ = proc.Terminate()
		waitWithGrace(proc, done)
		return turnResult{stdout: stdout.String(), stderr: stderr.String(), exitCode: -1, isFallback: isFallback}, nil
	case <-timer.C:
		_ = proc.Terminate()
		wr := waitWithGrace(proc, done)
		return turnResult{stdout: stdout.String(), stderr: stderr.String(), exitCode: wr.code, timedOut: true, isFallback: isFallback}, nil
	}
}

type waitResult struct {
	code int
	err  error
}

func waitWithGrace(proc executor.Process, done chan waitResult) waitResult {
	select {
	case wr := <-done:
		return wr
	case <-time.After(gracePeriod):
		_ = proc.Kill()
		return <-done
	}
}

func writeRawLogs(turnDir string, res turnResult) error {
	req := request{
		Argv:       []string{"(redacted in audit record; see request construction)"},
		IsFallback: res.isFallback,
	}
	reqBytes, _ := json.MarshalIndent(req, "", "  ")
	if err := os.WriteFile(filepath.Join(turnDir, "request.json"), reqBytes, 0o644); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(turnDir, "stdout.log"), []byte(res.stdout), 0o644); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(turnDir, "stderr.log"), []byte(res.stderr), 0o644)
}

func parseStructuredOutput(turnDir, stdout string) (*float64, int) {
	turnsCompleted := 1
	var costUSD *float64

	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(stdout), &parsed); err != nil {
		return nil, turnsCompleted
	}

	if b, err := json.MarshalIndent(parsed, "", "  "); err == nil {
		_ = os.WriteFile(filepath.Join(turnDir, "cli_output.json"), b, 0o644)
	}

	if v, ok := numField(parsed, "turn_count"); ok {
		turnsCompleted = int(v)
	} else if v, ok := numField(parsed, "turns_completed"); ok {
		turnsCompleted = int(v)
	}

	if v, ok := numField(parsed, "cost_usd"); ok {
		costUSD = &v
	} else if usage, ok := parsed["usage"].(map[string]interface{}); ok {
		if v, ok := numField(usage, "cost"); ok {
			costUSD = &v
		}
	}

	return costUSD, turnsCompleted
}

func numField(m map[string]interface{}, key string) (float64, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}

func writeSummary(outDir string, task session.Task, status session.Status, turns int, blockerList []blockers.Blocker, costUSD *float64) (*session.Artifact, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "# Session Summary\n\nGoal: %s\n\nStatus: %s\n\nTurns completed: %d\n", task.Goal, status, turns)
	if costUSD != nil {
		fmt.Fprintf(&b, "\nCost (USD): %s\n", strconv.FormatFloat(*costUSD, 'f', 4, 64))
	}
	if len(blockerList) > 0 {
		b.WriteString("\n## Blockers\n\n")
		for _, bl := range blockerList {
			fmt.Fprintf(&b, "- %s:%d %s\n", bl.File, bl.LineStart, bl.Description)
		}
	}
	return writeOutFile(outDir, "summary.md", []byte(b.String()))
}

func writePatch(outDir, patch string) (*session.Artifact, error) {
	return writeOutFile(outDir, "patch.diff", []byte(patch))
}

func writeTestReport(outDir, combined string) (*session.Artifact, error) {
	lines := strings.Split(combined, "\n")
	var matched []string
	for _, l := range lines {
		if looksLikeTestOutput(l) {
			matched = append(matched, l)
			if len(matched) >= 100 {
				break
			}
		}
	}
	return writeOutFile(outDir, "test_report.md", []byte(strings.Join(matched, "\n")))
}

func writeArtifactsJSON(outDir string, list []session.Artifact) (*session.Artifact, error) {
	b, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return nil, err
	}
	return writeOutFile(outDir, "artifacts.json", b)
}

func writeOutFile(outDir, name string, content []byte) (*session.Artifact, error) {
	path := filepath.Join(outDir, name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return nil, err
	}
	sum := sha256.Sum256(content)
	return &session.Artifact{Name: name, Path: path, Bytes: int64(len(content)), SHA256: hex.EncodeToString(sum[:])}, nil
}

var testMarkers = []string{"PASS", "FAIL", "✓", "✗", "Tests:", "Test Suites:"}

func looksLikeTestOutput(s string) bool {
	for _, m := range testMarkers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
