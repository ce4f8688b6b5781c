package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/throw-if-null/bridge/internal/gwerror"
	"github.com/throw-if-null/bridge/internal/pathguard"
)

const (
	taskFile  = "task.json"
	stateFile = "shared_state.json"
	turnsDir  = "turns"
	outDir    = "out"
)

// Store persists sessions under a data directory as one directory per
// session id. The filesystem is the system of record: no other copy of
// this data exists anywhere in the process (see DESIGN.md for why the
// teacher's SQLite store was not adapted into this role).
type Store struct {
	root string

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(root string) *Store {
	return &Store{root: root, locks: map[string]*sync.Mutex{}}
}

// lockFor returns a per-session-id mutex, created lazily. This mirrors
// the teacher's per-row locking intent in its SQLite transactions (one
// lock per logical record, not one lock for the whole store) expressed
// without a database.
func (s *Store) lockFor(id string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

func (s *Store) sessionDir(id string) string {
	return filepath.Join(s.root, id)
}

func (s *Store) TurnDir(id string, turn int) string {
	return filepath.Join(s.sessionDir(id), turnsDir, fmt.Sprintf("%04d", turn))
}

func (s *Store) OutDir(id string) string {
	return filepath.Join(s.sessionDir(id), outDir)
}

// Create writes task.json and an initial running shared_state.json for a
// brand new session id. Fails with gwerror.ErrAlreadyExists if the
// session directory already holds a task.json.
func (s *Store) Create(id string, task Task) error {
	if err := pathguard.ValidateSessionID(id); err != nil {
		return gwerror.Wrap(gwerror.InvalidInput, "invalid session id", err)
	}

	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	dir := s.sessionDir(id)
	if _, err := os.Stat(filepath.Join(dir, taskFile)); err == nil {
		return gwerror.Wrap(gwerror.StoreConflict, "session already exists", gwerror.ErrAlreadyExists)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	task.SessionID = id
	taskBytes, err := json.MarshalIndent(task, "", "  ")
	if err != nil {
		return err
	}
	if err := writeAtomic(filepath.Join(dir, taskFile), taskBytes); err != nil {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	state := SharedState{
		SessionID:      id,
		Goal:           task.Goal,
		Status:         StatusRunning,
		TurnsMax:       task.TurnsMax,
		Progress:       []string{},
		Blockers:       nil,
		FilesChanged:   []string{},
		Artifacts:      nil,
		FallbackEvents: nil,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	stateBytes, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(filepath.Join(dir, stateFile), stateBytes)
}

func (s *Store) GetTask(id string) (*Task, error) {
	b, err := os.ReadFile(filepath.Join(s.sessionDir(id), taskFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, gwerror.Wrap(gwerror.NotFound, "session not found", gwerror.ErrNotFound)
		}
		return nil, err
	}
	var t Task
	if err := json.Unmarshal(b, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) GetState(id string) (*SharedState, error) {
	b, err := os.ReadFile(filepath.Join(s.sessionDir(id), stateFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, gwerror.Wrap(gwerror.NotFound, "session not found", gwerror.ErrNotFound)
		}
		return nil, err
	}
	var st SharedState
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// UpdateState merges patch onto the current state at the JSON-object
// level (preserving any keys patch doesn't mention, and any keys a newer
// binary might have written that this one doesn't know about), bumps
// updated_at, and writes the result back atomically. session_id and goal
// are immutable and silently dropped from patch if present.
func (s *Store) UpdateState(id string, patch map[string]interface{}) (*SharedState, error) {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	path := filepath.Join(s.sessionDir(id), stateFile)
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, gwerror.Wrap(gwerror.NotFound, "session not found", gwerror.ErrNotFound)
		}
		return nil, err
	}

	var current map[string]json.RawMessage
	if err := json.Unmarshal(b, &current); err != nil {
		return nil, err
	}

	delete(patch, "session_id")
	delete(patch, "goal")

	for k, v := range patch {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		current[k] = raw
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	nowRaw, _ := json.Marshal(now)
	current["updated_at"] = nowRaw

	merged, err := json.Marshal(current)
	if err != nil {
		return nil, err
	}
	if err := writeAtomic(path, merged); err != nil {
		return nil, err
	}

	var st SharedState
	if err := json.Unmarshal(merged, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// ListSessions returns a summary per valid session directory. Malformed
// or half-written entries are skipped rather than erroring the whole
// listing.
func (s *Store) ListSessions() ([]Summary, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []Summary
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		id := e.Name()
		if pathguard.ValidateSessionID(id) != nil {
			continue
		}
		task, err := s.GetTask(id)
		if err != nil {
			continue
		}
		st, err := s.GetState(id)
		if err != nil {
			continue
		}
		out = append(out, Summary{
			SessionID: id,
			Status:    st.Status,
			Goal:      task.Goal,
			CreatedAt: task.CreatedAt,
			UpdatedAt: st.UpdatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out, nil
}

// MarkAbortedOnStartup scans every session once and transitions any still
// marked running to aborted, closing the crash-recovery window between a
// process death and restart. Mirrors the teacher's
// store.ReconcileInFlightAttempts, generalized from SQL rows to session
// directories.
func (s *Store) MarkAbortedOnStartup() error {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		id := e.Name()
		st, err := s.GetState(id)
		if err != nil || st.Status != StatusRunning {
			continue
		}
		summary := "Server restarted while session was running"
		_, _ = s.UpdateState(id, map[string]interface{}{
			"status":        StatusAborted,
			"error_summary": summary,
		})
	}
	return nil
}

// GetArtifactPath resolves name against the session's current artifact
// index and returns the absolute path only if name appears there and the
// file is still present, a regular file.
func (s *Store) GetArtifactPath(id, name string) (string, error) {
	if err := pathguard.SafeArtifactName(name); err != nil {
		return "", gwerror.Wrap(gwerror.NotFound, "invalid artifact name", err)
	}
	st, err := s.GetState(id)
	if err != nil {
		return "", err
	}
	for _, a := range st.Artifacts {
		if a.Name == name {
			fi, err := os.Lstat(a.Path)
			if err != nil || !fi.Mode().IsRegular() {
				return "", gwerror.Wrap(gwerror.NotFound, "artifact no longer present", gwerror.ErrNotFound)
			}
			return a.Path, nil
		}
	}
	return "", gwerror.Wrap(gwerror.NotFound, "artifact not indexed", gwerror.ErrNotFound)
}

// writeAtomic writes b to a temp file in the same directory as path, then
// renames it into place, so readers never observe a partially-written
// document.
func writeAtomic(path string, b []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		if tmpName != "" {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	tmpName = ""
	return nil
}
