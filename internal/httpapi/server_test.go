package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	gerrors "github.com/gobby-stack/gobby/internal/errors"
	"github.com/gobby-stack/gobby/internal/events"
	"github.com/gobby-stack/gobby/internal/ipc"
	"github.com/gobby-stack/gobby/internal/logging"
	"github.com/gobby-stack/gobby/internal/pipeline"
	"github.com/gobby-stack/gobby/internal/types"
	"github.com/gobby-stack/gobby/internal/workflow"
)

type fakeBackend struct {
	mu       sync.Mutex
	hooks    []*types.HookEvent
	runs     []pipeline.RunRequest
	rejected string
	vars     map[string]any
}

func (f *fakeBackend) HandleHook(ctx context.Context, ev *types.HookEvent) (*types.HookResponse, error) {
	f.mu.Lock()
	f.hooks = append(f.hooks, ev)
	f.mu.Unlock()
	if ev.ToolName == "Edit" {
		return &types.HookResponse{Decision: types.DecisionBlock, Message: "plan first"}, nil
	}
	return &types.HookResponse{Decision: types.DecisionAllow}, nil
}

func (f *fakeBackend) RunPipeline(ctx context.Context, req pipeline.RunRequest) (*types.Execution, error) {
	f.mu.Lock()
	f.runs = append(f.runs, req)
	f.mu.Unlock()
	if req.Pipeline == "missing" {
		return nil, gerrors.New(gerrors.CodeDefinitionNotFound, "pipeline not found: missing")
	}
	return &types.Execution{ID: "exec-1", Pipeline: req.Pipeline, Status: types.ExecutionCompleted}, nil
}

func (f *fakeBackend) ApprovePipeline(ctx context.Context, token string) (*types.Execution, error) {
	if token != "tok" {
		return nil, gerrors.New(gerrors.CodeApprovalNotFound, "unknown approval token")
	}
	return &types.Execution{ID: "exec-1", Status: types.ExecutionCompleted}, nil
}

func (f *fakeBackend) RejectPipeline(ctx context.Context, token, reason string) (*types.Execution, error) {
	f.mu.Lock()
	f.rejected = reason
	f.mu.Unlock()
	return &types.Execution{ID: "exec-1", Status: types.ExecutionCancelled}, nil
}

func (f *fakeBackend) PipelineStatus(ctx context.Context, id string) (*types.Execution, error) {
	return &types.Execution{ID: id, Status: types.ExecutionRunning}, nil
}

func (f *fakeBackend) CancelPipeline(ctx context.Context, id string) (*types.Execution, error) {
	return nil, gerrors.New(gerrors.CodePipelineTerminal, "execution already completed")
}

func (f *fakeBackend) ListPipelines(ctx context.Context, flt types.ExecutionFilter) ([]*types.Execution, error) {
	return []*types.Execution{{ID: "exec-1", Status: flt.Status, SessionID: flt.SessionID}}, nil
}

func (f *fakeBackend) SessionState(ctx context.Context, id string) (*types.SessionWorkflowState, error) {
	return &types.SessionWorkflowState{SessionID: id}, nil
}

func (f *fakeBackend) ActivateWorkflow(ctx context.Context, id, name, step string, vars map[string]any) (*types.SessionWorkflowState, error) {
	if name == "busy" {
		return nil, gerrors.New(gerrors.CodeStepSlotOccupied, "session already has an active workflow")
	}
	return &types.SessionWorkflowState{SessionID: id, Variables: vars}, nil
}

func (f *fakeBackend) EndWorkflow(ctx context.Context, id string) (*types.SessionWorkflowState, error) {
	return &types.SessionWorkflowState{SessionID: id}, nil
}

func (f *fakeBackend) Transition(ctx context.Context, id, to string, force bool) (*types.SessionWorkflowState, error) {
	if !force {
		return nil, gerrors.New(gerrors.CodeStepExitBlocked, "exit conditions not met")
	}
	return &types.SessionWorkflowState{SessionID: id}, nil
}

func (f *fakeBackend) ApproveStep(ctx context.Context, id string) (*types.SessionWorkflowState, error) {
	return nil, gerrors.New(gerrors.CodeStepNoActive, "no active step workflow")
}

func (f *fakeBackend) SetVariable(ctx context.Context, id, name string, value any) (*types.SessionWorkflowState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.vars == nil {
		f.vars = make(map[string]any)
	}
	f.vars[name] = value
	return &types.SessionWorkflowState{SessionID: id}, nil
}

func (f *fakeBackend) ForceClear(ctx context.Context, id string) (*types.SessionWorkflowState, error) {
	return &types.SessionWorkflowState{SessionID: id}, nil
}

func (f *fakeBackend) Definitions(t types.DefinitionType) []ipc.DefinitionSummary {
	all := []ipc.DefinitionSummary{
		{Name: "plan-act", Type: types.DefinitionStep, Enabled: true},
		{Name: "ci", Type: types.DefinitionPipeline, Enabled: true},
	}
	if t == "" {
		return all
	}
	var out []ipc.DefinitionSummary
	for _, d := range all {
		if d.Type == t {
			out = append(out, d)
		}
	}
	return out
}

func (f *fakeBackend) Reload(ctx context.Context) (*workflow.ReloadReport, error) {
	return &workflow.ReloadReport{Loaded: []string{"ci", "plan-act"}}, nil
}

func newTestServer(t *testing.T) (*Server, *fakeBackend, *events.Bus) {
	t.Helper()
	logger := logging.NewForTest()
	backend := &fakeBackend{}
	bus := events.NewBus(logger)
	return New("127.0.0.1:0", backend, bus, logger), backend, bus
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
}

func TestHook(t *testing.T) {
	s, backend, _ := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/hooks", `{"type":"before_tool","session_id":"s1","tool_name":"Edit"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	var resp types.HookResponse
	decodeBody(t, rec, &resp)
	if resp.Decision != types.DecisionBlock || resp.Message != "plan first" {
		t.Errorf("response = %+v", resp)
	}
	if len(backend.hooks) != 1 || backend.hooks[0].Timestamp.IsZero() {
		t.Errorf("hooks = %+v", backend.hooks)
	}
}

func TestNativeHook(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/hooks/claude",
		`{"session_id":"s1","hook_event_name":"PreToolUse","tool_name":"Edit","tool_input":{"file_path":"a.go"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	var out map[string]any
	decodeBody(t, rec, &out)
	spec, _ := out["hookSpecificOutput"].(map[string]any)
	if spec["permissionDecision"] != "deny" {
		t.Errorf("output = %v", out)
	}

	rec = do(t, s, http.MethodPost, "/hooks/claude?event=Stop", `{"session_id":"s1"}`)
	if rec.Code != http.StatusOK || rec.Body.Len() != 0 {
		t.Errorf("allow stop: status = %d, body = %q", rec.Code, rec.Body)
	}

	rec = do(t, s, http.MethodPost, "/hooks/cursor", `{"session_id":"s1"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown source status = %d", rec.Code)
	}
}

func TestPipelines(t *testing.T) {
	s, backend, _ := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/pipelines", `{"pipeline":"ci","inputs":{"branch":"main"},"session_id":"s1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("run status = %d, body = %s", rec.Code, rec.Body)
	}
	var exec types.Execution
	decodeBody(t, rec, &exec)
	if exec.ID != "exec-1" || exec.Status != types.ExecutionCompleted {
		t.Errorf("execution = %+v", exec)
	}
	if len(backend.runs) != 1 || backend.runs[0].Inputs["branch"] != "main" || backend.runs[0].SessionID != "s1" {
		t.Errorf("runs = %+v", backend.runs)
	}

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		code   string
	}{
		{"missing name", http.MethodPost, "/pipelines", `{}`, http.StatusBadRequest, ""},
		{"unknown pipeline", http.MethodPost, "/pipelines", `{"pipeline":"missing"}`, http.StatusNotFound, gerrors.CodeDefinitionNotFound},
		{"status", http.MethodGet, "/pipelines/exec-9", "", http.StatusOK, ""},
		{"cancel terminal", http.MethodPost, "/pipelines/exec-1/cancel", "", http.StatusConflict, gerrors.CodePipelineTerminal},
		{"approve", http.MethodPost, "/approvals/tok/approve", "", http.StatusOK, ""},
		{"approve unknown", http.MethodPost, "/approvals/nope/approve", "", http.StatusNotFound, gerrors.CodeApprovalNotFound},
		{"reject", http.MethodPost, "/approvals/tok/reject", `{"reason":"too risky"}`, http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, tt.method, tt.path, tt.body)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d, body = %s", rec.Code, tt.status, rec.Body)
			}
			if tt.code != "" {
				var body map[string]string
				decodeBody(t, rec, &body)
				if body["code"] != tt.code {
					t.Errorf("code = %q, want %q", body["code"], tt.code)
				}
			}
		})
	}
	if backend.rejected != "too risky" {
		t.Errorf("reject reason = %q", backend.rejected)
	}

	rec = do(t, s, http.MethodGet, "/pipelines?status=waiting_approval&session_id=s1", "")
	var execs []types.Execution
	decodeBody(t, rec, &execs)
	if len(execs) != 1 || execs[0].Status != types.ExecutionWaitingApproval || execs[0].SessionID != "s1" {
		t.Errorf("list = %+v", execs)
	}
}

func TestSessions(t *testing.T) {
	s, backend, _ := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"state", http.MethodGet, "/sessions/s1", "", http.StatusOK},
		{"activate", http.MethodPost, "/sessions/s1/workflow", `{"workflow":"plan-act","variables":{"x":1}}`, http.StatusOK},
		{"activate without name", http.MethodPost, "/sessions/s1/workflow", `{}`, http.StatusBadRequest},
		{"activate occupied", http.MethodPost, "/sessions/s1/workflow", `{"workflow":"busy"}`, http.StatusConflict},
		{"end", http.MethodDelete, "/sessions/s1/workflow", "", http.StatusOK},
		{"transition blocked", http.MethodPost, "/sessions/s1/transition", `{"to":"act"}`, http.StatusConflict},
		{"transition forced", http.MethodPost, "/sessions/s1/transition", `{"to":"act","force":true}`, http.StatusOK},
		{"approve step", http.MethodPost, "/sessions/s1/approve", "", http.StatusConflict},
		{"clear", http.MethodPost, "/sessions/s1/clear", "", http.StatusOK},
		{"set variable", http.MethodPut, "/sessions/s1/variables/tests_pass", `{"value":true}`, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, tt.method, tt.path, tt.body)
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d, body = %s", rec.Code, tt.status, rec.Body)
			}
		})
	}
	if backend.vars["tests_pass"] != true {
		t.Errorf("vars = %v", backend.vars)
	}
}

func TestDefinitionsAndReload(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/workflows?type=pipeline", "")
	var defs []ipc.DefinitionSummary
	decodeBody(t, rec, &defs)
	if len(defs) != 1 || defs[0].Name != "ci" {
		t.Errorf("definitions = %+v", defs)
	}

	rec = do(t, s, http.MethodPost, "/reload", "")
	var rep workflow.ReloadReport
	decodeBody(t, rec, &rep)
	if len(rep.Loaded) != 2 {
		t.Errorf("reload = %+v", rep)
	}
}

func TestStream(t *testing.T) {
	s, _, bus := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?type=pipeline.&session_id=s1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Wait for the subscription to register before publishing.
	deadline := time.Now().Add(2 * time.Second)
	for bus.Publish(events.Event{Type: "pipeline.ping", SessionID: "s1"}) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	bus.Publish(events.Event{Type: events.TypeHook, SessionID: "s1"})
	bus.Publish(events.Event{Type: "pipeline.completed", SessionID: "s2"})
	bus.Publish(events.Event{Type: "pipeline.completed", SessionID: "s1", ExecutionID: "exec-1"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var ev events.Event
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("read: %v", err)
		}
		if ev.Type == "pipeline.ping" {
			continue
		}
		if ev.Type != "pipeline.completed" || ev.ExecutionID != "exec-1" {
			t.Errorf("event = %+v, want pipeline.completed for exec-1", ev)
		}
		break
	}
}
