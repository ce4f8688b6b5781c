// Package policy validates and sanitizes incoming task submissions before
// anything else in the pipeline sees them.
package policy

import (
	"strings"

	"github.com/throw-if-null/bridge/internal/gwerror"
	"github.com/throw-if-null/bridge/internal/pathguard"
)

const maxGoalBytes = 4096

// Limits carries the configured caps a submission is clamped against.
type Limits struct {
	AllowedRoots   []string
	TurnsCap       int
	TimeoutCapSecs int
}

// Request is the raw, untrusted submission body.
type Request struct {
	Goal           string
	WorkspaceRoot  string
	AllowedTools   []string
	TurnsMax       int
	TimeoutSeconds int
}

// Sanitized is the validated, clamped, canonicalized submission.
type Sanitized struct {
	Goal           string
	WorkspaceRoot  string
	AllowedTools   []string
	TurnsMax       int
	TimeoutSeconds int
}

// Validate checks req against limits and returns a Sanitized value or a
// gwerror with Kind InvalidInput describing every violation
// found. Unlike PromptBuilder's single-reason rejection, Policy collects
// per-field errors so a caller gets the whole picture in one response.
func Validate(req Request, limits Limits) (Sanitized, error) {
	fields := map[string]string{}

	goal := strings.TrimSpace(req.Goal)
	if goal == "" {
		fields["goal"] = "required"
	} else if len(goal) > maxGoalBytes {
		fields["goal"] = "exceeds maximum length"
	}

	if req.WorkspaceRoot == "" {
		fields["workspace_root"] = "required"
	}

	if len(fields) > 0 {
		return Sanitized{}, gwerror.WithFields(gwerror.InvalidInput, "invalid task submission", fields)
	}

	res := pathguard.Validate(req.WorkspaceRoot, limits.AllowedRoots, nil)
	if !res.Allowed {
		// Workspace-root violations at submission time are grouped with
		// the rest of request validation (400), not treated as a
		// resource-access decision (403) — see SPEC_FULL.md's Open
		// Question resolution.
		return Sanitized{}, gwerror.WithFields(gwerror.InvalidInput, "workspace_root not under an allowed root", map[string]string{
			"workspace_root": "not under an allowed root",
		})
	}

	tools := make([]string, 0, len(req.AllowedTools))
	for _, t := range req.AllowedTools {
		if t != "" {
			tools = append(tools, t)
		}
	}

	turnsMax := req.TurnsMax
	if turnsMax <= 0 {
		turnsMax = 20
	}
	if cap := limits.TurnsCap; cap > 0 && turnsMax > cap {
		turnsMax = cap
	}

	timeout := req.TimeoutSeconds
	if timeout <= 0 {
		timeout = 600
	}
	if cap := limits.TimeoutCapSecs; cap > 0 && timeout > cap {
		timeout = cap
	}

	return Sanitized{
		Goal:           goal,
		WorkspaceRoot:  res.Resolved,
		AllowedTools:   tools,
		TurnsMax:       turnsMax,
		TimeoutSeconds: timeout,
	}, nil
}
