package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/throw-if-null/bridge/internal/config"
	"github.com/throw-if-null/bridge/internal/executor"
	"github.com/throw-if-null/bridge/internal/gate"
	"github.com/throw-if-null/bridge/internal/session"
)

type fakeProcess struct {
	code     int
	err      error
	blocking bool
	release  chan struct{}
}

func (p *fakeProcess) Wait() (int, error) {
	if p.blocking {
		<-p.release
	}
	return p.code, p.err
}
func (p *fakeProcess) Terminate() error {
	if p.blocking {
		close(p.release)
	}
	return nil
}
func (p *fakeProcess) Kill() error { return nil }

type fakeRunner struct {
	agentStdout string
	agentExit   int
	blocking    bool
}

func (f *fakeRunner) Start(dir string, argv []string, env []string, stdout, stderr io.Writer) (executor.Process, error) {
	if len(argv) > 0 && argv[0] == "git" {
		return &fakeProcess{code: 1, err: fmt.Errorf("no repository")}, nil
	}
	if f.blocking {
		return &fakeProcess{blocking: true, release: make(chan struct{}), code: 0}, nil
	}
	_, _ = io.WriteString(stdout, f.agentStdout)
	return &fakeProcess{code: f.agentExit}, nil
}

func newTestServer(t *testing.T) (*httptest.Server, string, string) {
	ts, workspace, allowedRoot, _ := newTestServerWithRunner(t, &fakeRunner{agentStdout: `{"turn_count": 1}`, agentExit: 0})
	return ts, workspace, allowedRoot
}

func newTestServerWithRunner(t *testing.T, runner executor.Runner) (*httptest.Server, string, string, *config.Config) {
	allowedRoot := t.TempDir()
	workspace, err := os.MkdirTemp(allowedRoot, "wk")
	if err != nil {
		t.Fatalf("mkdir workspace: %v", err)
	}
	store := session.New(t.TempDir())
	gt := gate.New()
	cfg := config.Config{
		BridgeToken:     "secret",
		AllowedRoots:    []string{allowedRoot},
		TurnsCap:        50,
		TimeoutCapSecs:  1800,
		AgentBinary:     "claude",
		ExcerptMaxChars: 8192,
		LogtailMaxLines: 200,
	}
	srv := NewServer(store, gt, runner, cfg)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, workspace, allowedRoot, &cfg
}

func doRequest(t *testing.T, method, url, token string, body interface{}) *http.Response {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, r)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	return resp
}

func TestCreateTaskHappyPathReachesDone(t *testing.T) {
	ts, workspace, _ := newTestServer(t)

	resp := doRequest(t, "POST", ts.URL+"/v1/tasks", "secret", map[string]interface{}{
		"goal":           "Echo hello",
		"workspace_root": workspace,
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	var created map[string]string
	_ = json.NewDecoder(resp.Body).Decode(&created)
	id := created["session_id"]
	if id == "" {
		t.Fatalf("expected session_id in response")
	}

	deadline := time.Now().Add(3 * time.Second)
	var status string
	for time.Now().Before(deadline) {
		r := doRequest(t, "GET", ts.URL+"/v1/sessions/"+id+"/state", "secret", nil)
		var st map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&st)
		r.Body.Close()
		status, _ = st["status"].(string)
		if status == "done" || status == "failed" {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if status != "done" {
		t.Fatalf("expected status done, got %q", status)
	}
}

func TestCreateTaskRejectsWorkspaceOutsideRoots(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp := doRequest(t, "POST", ts.URL+"/v1/tasks", "secret", map[string]interface{}{
		"goal":           "x",
		"workspace_root": "/etc",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestCreateTaskDropsNonStringAllowedTools(t *testing.T) {
	ts, workspace, _ := newTestServer(t)

	resp := doRequest(t, "POST", ts.URL+"/v1/tasks", "secret", map[string]interface{}{
		"goal":           "x",
		"workspace_root": workspace,
		"allowed_tools":  []interface{}{"Read", 5, nil, "Edit", true},
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected non-string allowed_tools entries to be dropped, not rejected; got %d", resp.StatusCode)
	}
	var created map[string]string
	_ = json.NewDecoder(resp.Body).Decode(&created)
	if created["session_id"] == "" {
		t.Fatalf("expected session_id in response")
	}
}

func TestCreateTaskRequiresAuth(t *testing.T) {
	ts, workspace, _ := newTestServer(t)

	resp := doRequest(t, "POST", ts.URL+"/v1/tasks", "", map[string]interface{}{
		"goal":           "x",
		"workspace_root": workspace,
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestHealthReportsActiveSession(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp := doRequest(t, "GET", ts.URL+"/v1/health", "secret", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if body["status"] != "ok" {
		t.Fatalf("expected status ok, got %v", body["status"])
	}
}

func TestCreateTaskRefusedWhileGateHeld(t *testing.T) {
	runner := &fakeRunner{blocking: true}
	ts, workspace, _, _ := newTestServerWithRunner(t, runner)

	first := doRequest(t, "POST", ts.URL+"/v1/tasks", "secret", map[string]interface{}{
		"goal":           "first task",
		"workspace_root": workspace,
	})
	defer first.Body.Close()
	if first.StatusCode != http.StatusAccepted {
		t.Fatalf("expected first submission to get 202, got %d", first.StatusCode)
	}
	var created map[string]string
	_ = json.NewDecoder(first.Body).Decode(&created)
	firstID := created["session_id"]
	if firstID == "" {
		t.Fatalf("expected session_id in first response")
	}

	// give the background goroutine time to acquire the gate before the
	// second submission races it.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		h := doRequest(t, "GET", ts.URL+"/v1/health", "secret", nil)
		var hb map[string]interface{}
		_ = json.NewDecoder(h.Body).Decode(&hb)
		h.Body.Close()
		if hb["active_session"] == firstID {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	second := doRequest(t, "POST", ts.URL+"/v1/tasks", "secret", map[string]interface{}{
		"goal":           "second task",
		"workspace_root": workspace,
	})
	defer second.Body.Close()
	if second.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected second submission to get 503, got %d", second.StatusCode)
	}
	var busy map[string]string
	_ = json.NewDecoder(second.Body).Decode(&busy)
	if busy["active_session"] != firstID {
		t.Fatalf("expected active_session=%q in 503 body, got %q", firstID, busy["active_session"])
	}
}

func TestAbortUnknownSessionReturns404(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp := doRequest(t, "POST", ts.URL+"/v1/sessions/does-not-exist/abort", "secret", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}
