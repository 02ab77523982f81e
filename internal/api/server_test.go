package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nugget/luminary/internal/agent"
	"github.com/nugget/luminary/internal/conversation"
	"github.com/nugget/luminary/internal/database/dbtest"
	"github.com/nugget/luminary/internal/events"
	"github.com/nugget/luminary/internal/jobs"
	"github.com/nugget/luminary/internal/llm"
	"github.com/nugget/luminary/internal/llm/llmtest"
	"github.com/nugget/luminary/internal/maintenance"
	"github.com/nugget/luminary/internal/memory"
	"github.com/nugget/luminary/internal/planner"
	"github.com/nugget/luminary/internal/scheduler"
	"github.com/nugget/luminary/internal/tools"
)

type testEnv struct {
	ts     *httptest.Server
	runner *jobs.Runner
	notes  *memory.Store
	bus    *events.Bus
}

func newTestEnv(t *testing.T, steps ...llmtest.Step) *testEnv {
	t.Helper()
	db := dbtest.New(t)
	client := llmtest.New(steps...)

	reg := tools.NewRegistry(nil)
	reg.MustRegister(&tools.Tool{
		Name:        "echo",
		Description: "Echo the message.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"message": map[string]any{"type": "string"}},
		},
		Handler: func(ctx context.Context, args map[string]any) tools.Result {
			return tools.OK(tools.StringArg(args, "message"))
		},
	})

	bus := events.New()
	notes := memory.NewStore(db, nil, nil)
	runner := jobs.NewRunner(jobs.NewStore(db), reg, planner.New(client, reg, llm.RetryPolicy{}, nil), notes, bus, nil)
	sched := scheduler.New(nil, scheduler.NewStore(db), runner, bus, scheduler.Options{})
	t.Cleanup(sched.Stop)

	loop := agent.NewLoop(agent.Config{}, client, reg, notes, conversation.NewStore(db, 0, nil), nil)
	loop.SetEventBus(bus)

	srv := NewServer("", 0, Deps{
		Loop:        loop,
		Runner:      runner,
		Scheduler:   sched,
		Notes:       notes,
		Maintenance: maintenance.New(notes, nil, bus, nil, maintenance.Config{}),
		Bus:         bus,
		DefaultUser: "owner",
	}, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	t.Cleanup(runner.Wait)

	return &testEnv{ts: ts, runner: runner, notes: notes, bus: bus}
}

func (e *testEnv) do(t *testing.T, method, path, body string) (int, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	var out map[string]any
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("%s %s: decode %q: %v", method, path, raw, err)
		}
	}
	return resp.StatusCode, out
}

func TestHealthAndVersion(t *testing.T) {
	e := newTestEnv(t)

	code, body := e.do(t, http.MethodGet, "/health", "")
	if code != http.StatusOK || body["status"] != "healthy" {
		t.Errorf("GET /health = %d %v", code, body)
	}
	if _, ok := body["scheduler"]; !ok {
		t.Error("health should report scheduler stats")
	}

	code, body = e.do(t, http.MethodGet, "/v1/version", "")
	if code != http.StatusOK || body["version"] == nil || body["go_version"] == nil {
		t.Errorf("GET /v1/version = %d %v", code, body)
	}
}

func TestChat(t *testing.T) {
	e := newTestEnv(t, llmtest.Text("Hi!"))

	code, body := e.do(t, http.MethodPost, "/v1/chat", `{"message":"hello"}`)
	if code != http.StatusOK || body["response"] != "Hi!" {
		t.Fatalf("POST /v1/chat = %d %v", code, body)
	}
	if _, err := e.notes.Identity(context.Background(), "owner", memory.KindSoul); err != nil {
		t.Errorf("default user not used for the turn: %v", err)
	}

	tests := []struct {
		name string
		body string
	}{
		{"empty message", `{"message":"  "}`},
		{"malformed", `{"message":`},
		{"unknown field", `{"message":"hi","extra":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code, _ := e.do(t, http.MethodPost, "/v1/chat", tt.body); code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", code)
			}
		})
	}
}

func TestJobs(t *testing.T) {
	e := newTestEnv(t)

	code, body := e.do(t, http.MethodPost, "/v1/jobs", `{"toolName":"echo","toolInput":{"message":"pong"}}`)
	if code != http.StatusAccepted || body["status"] != string(jobs.StatusQueued) {
		t.Fatalf("POST /v1/jobs = %d %v", code, body)
	}
	id, _ := body["id"].(string)
	e.runner.Wait()

	code, body = e.do(t, http.MethodGet, "/v1/jobs/"+id, "")
	if code != http.StatusOK {
		t.Fatalf("GET job = %d %v", code, body)
	}
	job := body["job"].(map[string]any)
	if job["status"] != string(jobs.StatusSucceeded) || job["userId"] != "owner" {
		t.Errorf("job = %v", job)
	}
	if steps, _ := body["steps"].([]any); len(steps) != 1 {
		t.Errorf("steps = %v, want one step run", body["steps"])
	}

	code, body = e.do(t, http.MethodGet, "/v1/jobs?status=succeeded", "")
	if code != http.StatusOK || body["count"] != float64(1) {
		t.Errorf("GET /v1/jobs = %d %v", code, body)
	}

	if code, _ := e.do(t, http.MethodPost, "/v1/jobs/"+id+"/cancel", ""); code != http.StatusConflict {
		t.Errorf("cancel finished job = %d, want 409", code)
	}
	if code, _ := e.do(t, http.MethodGet, "/v1/jobs/missing", ""); code != http.StatusNotFound {
		t.Errorf("GET missing job = %d, want 404", code)
	}
	if code, _ := e.do(t, http.MethodPost, "/v1/jobs", `{"routineId":"nope"}`); code != http.StatusNotFound {
		t.Errorf("job for missing routine = %d, want 404", code)
	}
	if code, _ := e.do(t, http.MethodGet, "/v1/jobs?limit=0", ""); code != http.StatusBadRequest {
		t.Errorf("bad limit = %d, want 400", code)
	}
}

func TestSchedules(t *testing.T) {
	e := newTestEnv(t)

	if code, _ := e.do(t, http.MethodPost, "/v1/schedules", `{"cronExpr":"* * * * *","toolName":"echo"}`); code != http.StatusBadRequest {
		t.Errorf("every-minute schedule = %d, want 400", code)
	}
	if code, _ := e.do(t, http.MethodPost, "/v1/schedules", `{"cronExpr":"0 9 * * *"}`); code != http.StatusBadRequest {
		t.Errorf("schedule without action = %d, want 400", code)
	}

	code, body := e.do(t, http.MethodPost, "/v1/schedules", `{"cronExpr":"*/15 * * * *","toolName":"echo","toolInput":{"message":"tick"}}`)
	if code != http.StatusCreated || body["actionType"] != string(scheduler.ActionToolCall) {
		t.Fatalf("POST /v1/schedules = %d %v", code, body)
	}
	id := body["id"].(string)

	if code, _ := e.do(t, http.MethodDelete, "/v1/schedules/"+id, ""); code != http.StatusNoContent {
		t.Errorf("DELETE = %d, want 204", code)
	}
	if code, _ := e.do(t, http.MethodDelete, "/v1/schedules/"+id, ""); code != http.StatusNotFound {
		t.Errorf("second DELETE = %d, want 404", code)
	}
}

func TestNotes(t *testing.T) {
	e := newTestEnv(t)

	code, body := e.do(t, http.MethodPost, "/v1/notes", `{"kind":"rule","content":"Use metric units.","tags":["units"]}`)
	if code != http.StatusCreated {
		t.Fatalf("POST /v1/notes = %d %v", code, body)
	}
	id := body["id"].(string)

	if code, _ := e.do(t, http.MethodPost, "/v1/notes", `{"kind":"soul","content":"x"}`); code != http.StatusBadRequest {
		t.Errorf("identity note via /v1/notes = %d, want 400", code)
	}
	if code, _ := e.do(t, http.MethodPost, "/v1/notes", `{"kind":"bogus","content":"x"}`); code != http.StatusBadRequest {
		t.Errorf("bad kind = %d, want 400", code)
	}

	code, body = e.do(t, http.MethodPut, "/v1/notes/"+id, `{"content":"Use imperial units."}`)
	if code != http.StatusOK || body["content"] != "Use imperial units." {
		t.Fatalf("PUT note = %d %v", code, body)
	}

	code, body = e.do(t, http.MethodGet, "/v1/notes?kind=rule&tags=units", "")
	if code != http.StatusOK || body["count"] != float64(1) {
		t.Fatalf("GET /v1/notes = %d %v", code, body)
	}
	got := body["notes"].([]any)[0].(map[string]any)
	if got["content"] != "Use imperial units." {
		t.Errorf("live note = %v, want the correction", got)
	}

	if code, _ := e.do(t, http.MethodPut, "/v1/notes/"+id, `{"content":"again"}`); code != http.StatusBadRequest {
		t.Errorf("update superseded note = %d, want 400", code)
	}
	if code, _ := e.do(t, http.MethodPut, "/v1/notes/missing", `{"content":"x"}`); code != http.StatusNotFound {
		t.Errorf("update missing note = %d, want 404", code)
	}

	code, body = e.do(t, http.MethodPut, "/v1/soul", `{"content":"Be brief."}`)
	if code != http.StatusOK || body["kind"] != string(memory.KindSoul) {
		t.Errorf("PUT /v1/soul = %d %v", code, body)
	}
}

func TestMaintenance(t *testing.T) {
	e := newTestEnv(t)
	code, body := e.do(t, http.MethodPost, "/v1/maintenance", "")
	if code != http.StatusOK || body["pruned"] != float64(0) || body["merged"] != float64(0) {
		t.Errorf("POST /v1/maintenance = %d %v", code, body)
	}
}

func TestUnavailableComponents(t *testing.T) {
	ts := httptest.NewServer(NewServer("", 0, Deps{}, nil).Handler())
	defer ts.Close()

	for _, path := range []string{"/v1/jobs", "/v1/notes"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("GET %s = %d, want 503", path, resp.StatusCode)
		}
	}
}

func TestEventStream(t *testing.T) {
	e := newTestEnv(t)

	url := "ws" + strings.TrimPrefix(e.ts.URL, "http") + "/v1/events?source=" + events.SourceJobs
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for e.bus.SubscriberCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("stream never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	e.bus.Emit(events.SourceAgent, events.KindTurnStart, nil)
	e.bus.Emit(events.SourceJobs, events.KindJobStatus, map[string]any{"job_id": "j1", "status": "queued"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got events.Event
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if got.Source != events.SourceJobs || got.Kind != events.KindJobStatus || got.Data["job_id"] != "j1" {
		t.Errorf("event = %+v, want the filtered job event", got)
	}
}
