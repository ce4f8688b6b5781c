// Package gateway wires Policy, PromptBuilder, Gate, the session store and
// the Supervisor behind an HTTP surface — the same constructor-injected
// Server/Handler() shape as the teacher's silicon.Server/silicon.NewServer,
// generalized from a multi-role task API to this single-turn session API.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/throw-if-null/bridge/internal/cancel"
	"github.com/throw-if-null/bridge/internal/config"
	"github.com/throw-if-null/bridge/internal/executor"
	"github.com/throw-if-null/bridge/internal/gate"
	"github.com/throw-if-null/bridge/internal/gwerror"
	"github.com/throw-if-null/bridge/internal/pathguard"
	"github.com/throw-if-null/bridge/internal/policy"
	"github.com/throw-if-null/bridge/internal/prompt"
	"github.com/throw-if-null/bridge/internal/redact"
	"github.com/throw-if-null/bridge/internal/session"
	"github.com/throw-if-null/bridge/internal/supervisor"
	"github.com/throw-if-null/bridge/internal/telemetry"
)

// Server holds the gateway's collaborators. Construction is a plain
// dependency-injected call, not a singleton — the one process-global
// exception is internal/cancel, for the same reason the teacher keeps its
// attempt-canceller registry global: the abort handler and the background
// supervisor goroutine have no other shared handle.
type Server struct {
	store *session.Store
	gate  *gate.Gate
	sup   *supervisor.Supervisor
	cfg   config.Config
}

func NewServer(store *session.Store, gt *gate.Gate, runner executor.Runner, cfg config.Config) *Server {
	return &Server{
		store: store,
		gate:  gt,
		sup:   supervisor.New(cfg.AgentBinary, runner, store),
		cfg:   cfg,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/tasks", requireBearer(s.cfg.BridgeToken, s.handleCreateTask))
	mux.HandleFunc("GET /v1/sessions", requireBearer(s.cfg.BridgeToken, s.handleListSessions))
	mux.HandleFunc("GET /v1/sessions/{id}/state", requireBearer(s.cfg.BridgeToken, s.handleGetState))
	mux.HandleFunc("POST /v1/sessions/{id}/abort", requireBearer(s.cfg.BridgeToken, s.handleAbort))
	mux.HandleFunc("GET /v1/sessions/{id}/excerpt", requireBearer(s.cfg.BridgeToken, s.handleExcerpt))
	mux.HandleFunc("GET /v1/sessions/{id}/artifacts", requireBearer(s.cfg.BridgeToken, s.handleListArtifacts))
	mux.HandleFunc("GET /v1/sessions/{id}/artifacts/{name}", requireBearer(s.cfg.BridgeToken, s.handleGetArtifact))
	mux.HandleFunc("GET /v1/sessions/{id}/logtail", requireBearer(s.cfg.BridgeToken, s.handleLogtail))
	mux.HandleFunc("GET /v1/health", requireBearer(s.cfg.BridgeToken, s.handleHealth))
	return recoverMiddleware(tracingMiddleware(mux))
}

// tracingMiddleware opens one gateway.http span per inbound request,
// keyed on the matched mux pattern so spans group by route rather than
// by raw path (which varies per session id).
func tracingMiddleware(mux *http.ServeMux) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, pattern := mux.Handler(r)
		ctx, span := telemetry.StartHTTPSpan(r.Context(), pattern)
		defer span.End()
		mux.ServeHTTP(w, r.WithContext(ctx))
	})
}

// recoverMiddleware turns a panic in any handler into a generic 500 —
// the only disposition in this gateway that is not a typed gwerror.Error,
// matching the propagation policy's carve-out for programming errors.
func recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				writeError(w, http.StatusInternalServerError, fmt.Sprintf("internal error: %v", rec))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type createTaskRequest struct {
	Goal           string        `json:"goal"`
	WorkspaceRoot  string        `json:"workspace_root"`
	AllowedTools   []interface{} `json:"allowed_tools"`
	TurnsMax       int           `json:"turns_max"`
	TimeoutSeconds int           `json:"timeout_seconds"`
}

// stringsOnly drops any non-string element instead of failing the whole
// decode, per policy's "non-string entries silently dropped" contract.
func stringsOnly(raw []interface{}) []string {
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	sanitized, err := policy.Validate(policy.Request{
		Goal:           req.Goal,
		WorkspaceRoot:  req.WorkspaceRoot,
		AllowedTools:   stringsOnly(req.AllowedTools),
		TurnsMax:       req.TurnsMax,
		TimeoutSeconds: req.TimeoutSeconds,
	}, policy.Limits{
		AllowedRoots:   s.cfg.AllowedRoots,
		TurnsCap:       s.cfg.TurnsCap,
		TimeoutCapSecs: s.cfg.TimeoutCapSecs,
	})
	if err != nil {
		writeGatewayError(w, err)
		return
	}

	id := uuid.NewString()

	if !s.gate.Acquire(sanitized.WorkspaceRoot, id) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error":          "gate busy",
			"active_session": s.gate.ActiveSessionID(),
		})
		return
	}

	renderedPrompt, err := prompt.Build(sanitized.Goal, sanitized.WorkspaceRoot, s.cfg.PromptAppend)
	if err != nil {
		s.gate.Release(sanitized.WorkspaceRoot, id)
		writeGatewayError(w, err)
		return
	}

	task := session.Task{
		SessionID:      id,
		Goal:           sanitized.Goal,
		WorkspaceRoot:  sanitized.WorkspaceRoot,
		AllowedTools:   sanitized.AllowedTools,
		TurnsMax:       sanitized.TurnsMax,
		TimeoutSeconds: sanitized.TimeoutSeconds,
		CreatedAt:      time.Now().UTC().Format(time.RFC3339Nano),
		TemplateDigest: prompt.Digest(),
	}

	if err := s.store.Create(id, task); err != nil {
		s.gate.Release(sanitized.WorkspaceRoot, id)
		writeGatewayError(w, err)
		return
	}

	go s.runSession(id, task, renderedPrompt)

	writeJSON(w, http.StatusAccepted, map[string]string{"session_id": id})
}

// runSession drives one supervisor invocation in the background and
// guarantees the gate is released on every exit path — normal
// completion, subprocess failure, or a panic recovered here — since the
// supervisor itself has no notion of the gate.
func (s *Server) runSession(id string, task session.Task, renderedPrompt string) {
	defer s.gate.Release(task.WorkspaceRoot, id)
	defer func() {
		if rec := recover(); rec != nil {
			msg := fmt.Sprintf("supervisor panic: %v", rec)
			_, _ = s.store.UpdateState(id, map[string]interface{}{
				"status":        session.StatusFailed,
				"error_summary": msg,
			})
		}
	}()

	if err := s.sup.Run(context.Background(), id, task, renderedPrompt); err != nil {
		_, _ = s.store.UpdateState(id, map[string]interface{}{
			"status":        session.StatusFailed,
			"error_summary": fmt.Sprintf("supervisor error: %v", err),
		})
	}
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListSessions()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	st, err := s.store.GetState(id)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	st, err := s.store.GetState(id)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	if st.Status != session.StatusRunning {
		writeJSON(w, http.StatusConflict, map[string]string{"status": string(st.Status)})
		return
	}

	cancel.Trigger(id)
	reason := "Aborted by client request"
	if _, err := s.store.UpdateState(id, map[string]interface{}{
		"status":        session.StatusAborted,
		"error_summary": reason,
	}); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update session state")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(session.StatusAborted)})
}

func (s *Server) handleExcerpt(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	task, err := s.store.GetTask(id)
	if err != nil {
		writeGatewayError(w, err)
		return
	}

	q := r.URL.Query()
	path := q.Get("path")
	if path == "" {
		writeError(w, http.StatusBadRequest, "missing path")
		return
	}

	// Excerpt is scoped to this session's own workspace root, not the
	// global allowed roots — one session must not read a sibling's files.
	res := pathguard.Validate(path, []string{task.WorkspaceRoot}, s.cfg.DenyGlobs)
	if !res.Allowed {
		writeError(w, http.StatusForbidden, "path denied")
		return
	}

	lineStart := firstNonEmpty(q.Get("line_start"), q.Get("start"))
	lineEnd := firstNonEmpty(q.Get("line_end"), q.Get("end"))
	start := parseIntOr(lineStart, 1)
	end := parseIntOr(lineEnd, 0)
	maxChars := parseIntOr(q.Get("max_chars"), s.cfg.ExcerptMaxChars)
	if maxChars <= 0 || maxChars > s.cfg.ExcerptMaxChars {
		maxChars = s.cfg.ExcerptMaxChars
	}

	b, err := os.ReadFile(res.Resolved)
	if err != nil {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}

	content := extractLines(string(b), start, end)
	if len(content) > maxChars {
		content = content[:maxChars]
	}
	content = redact.Redact(content)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"path":       path,
		"line_start": start,
		"line_end":   end,
		"content":    content,
	})
}

func (s *Server) handleListArtifacts(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	st, err := s.store.GetState(id)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"artifacts": st.Artifacts})
}

func (s *Server) handleGetArtifact(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	name := r.PathValue("name")

	path, err := s.store.GetArtifactPath(id, name)
	if err != nil {
		writeGatewayError(w, err)
		return
	}

	b, err := os.ReadFile(path)
	if err != nil {
		writeError(w, http.StatusNotFound, "artifact not readable")
		return
	}

	if isLikelyText(b) {
		b = []byte(redact.Redact(string(b)))
	}

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(name)))
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(b)
}

func (s *Server) handleLogtail(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.store.GetTask(id); err != nil {
		writeGatewayError(w, err)
		return
	}

	q := r.URL.Query()
	stream := q.Get("stream")
	if stream == "" {
		stream = "stdout"
	}
	if stream != "stdout" && stream != "stderr" {
		writeError(w, http.StatusBadRequest, "stream must be stdout or stderr")
		return
	}

	n := parseIntOr(q.Get("n"), 50)
	if n <= 0 || n > s.cfg.LogtailMaxLines {
		n = s.cfg.LogtailMaxLines
	}
	grep := q.Get("grep")

	logPath := filepath.Join(s.store.TurnDir(id, 1), stream+".log")
	lines, err := tailLines(logPath, n, grep)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		writeError(w, http.StatusInternalServerError, "failed to read log")
		return
	}

	redacted := make([]string, len(lines))
	for i, l := range lines {
		redacted[i] = redact.Redact(l)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"lines":  redacted,
		"stream": stream,
		"n":      n,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"active_session": s.gate.ActiveSessionID(),
	})
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func parseIntOr(v string, def int) int {
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func extractLines(text string, start, end int) string {
	if start <= 1 && end <= 0 {
		return text
	}
	lines := strings.Split(text, "\n")
	if start < 1 {
		start = 1
	}
	if end <= 0 || end > len(lines) {
		end = len(lines)
	}
	if start > len(lines) {
		return ""
	}
	return strings.Join(lines[start-1:end], "\n")
}

func isLikelyText(b []byte) bool {
	for _, c := range b {
		if c == 0 {
			return false
		}
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeGatewayError(w http.ResponseWriter, err error) {
	var ge *gwerror.Error
	if !errors.As(err, &ge) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	body := map[string]interface{}{"error": ge.Message}
	if len(ge.Fields) > 0 {
		body["fields"] = ge.Fields
	}

	switch ge.Kind {
	case gwerror.Unauthorized:
		writeJSON(w, http.StatusUnauthorized, body)
	case gwerror.InvalidInput, gwerror.InjectionBlocked:
		writeJSON(w, http.StatusBadRequest, body)
	case gwerror.PathDenied:
		writeJSON(w, http.StatusForbidden, body)
	case gwerror.Busy:
		writeJSON(w, http.StatusServiceUnavailable, body)
	case gwerror.NotFound:
		writeJSON(w, http.StatusNotFound, body)
	case gwerror.Conflict:
		writeJSON(w, http.StatusConflict, body)
	case gwerror.StoreConflict:
		writeJSON(w, http.StatusInternalServerError, body)
	default:
		writeJSON(w, http.StatusInternalServerError, body)
	}
}
