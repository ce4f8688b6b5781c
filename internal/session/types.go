// Package session defines the gateway's persisted records — the Task
// (immutable) and SharedState (live status) that together describe one
// session — and the filesystem-backed store that reads and writes them.
// This replaces the original molecular server's SQLite-backed internal/api
// + internal/store pair: see DESIGN.md for why a database was not carried
// forward into this component.
package session

import "github.com/throw-if-null/bridge/internal/blockers"

type Status string

const (
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
	StatusAborted Status = "aborted"
)

// Task is the immutable record written once at session creation.
type Task struct {
	SessionID      string   `json:"session_id"`
	Goal           string   `json:"goal"`
	WorkspaceRoot  string   `json:"workspace_root"`
	AllowedTools   []string `json:"allowed_tools"`
	TurnsMax       int      `json:"turns_max"`
	TimeoutSeconds int      `json:"timeout_seconds"`
	CreatedAt      string   `json:"created_at"`
	TemplateDigest string   `json:"template_digest"`
}

// Artifact describes one file produced into a session's artifacts
// directory, always in this rich form — see SPEC_FULL.md's Open Question
// decision against a legacy string-list shape.
type Artifact struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	Bytes  int64  `json:"bytes"`
	SHA256 string `json:"sha256"`
}

// FallbackEvent records one CLI-flag-dropping retry during a turn.
type FallbackEvent struct {
	Time           string `json:"time"`
	AttemptedFlag  string `json:"attempted_flag"`
	Reason         string `json:"reason"`
	FallbackAction string `json:"fallback_action"`
}

// SharedState is the live, mutable status record.
type SharedState struct {
	SessionID      string              `json:"session_id"`
	Goal           string              `json:"goal"`
	Status         Status              `json:"status"`
	TurnsCompleted int                 `json:"turns_completed"`
	TurnsMax       int                 `json:"turns_max"`
	Progress       []string            `json:"progress"`
	Blockers       []blockers.Blocker  `json:"blockers"`
	FilesChanged   []string            `json:"files_changed"`
	Artifacts      []Artifact          `json:"artifacts"`
	FallbackEvents []FallbackEvent     `json:"fallback_events"`
	CostUSD        *float64            `json:"cost_usd"`
	CreatedAt      string              `json:"created_at"`
	UpdatedAt      string              `json:"updated_at"`
	ErrorSummary   *string             `json:"error_summary"`
}

// Summary is the listing-endpoint projection of a session.
type Summary struct {
	SessionID string `json:"session_id"`
	Status    Status `json:"status"`
	Goal      string `json:"goal"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}
