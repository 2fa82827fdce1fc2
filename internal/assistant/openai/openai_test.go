package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/zulandar/keith/internal/assistant"
)

// fakeAPI is a minimal Assistants API served over httptest.
type fakeAPI struct {
	mu       sync.Mutex
	requests []string // "METHOD path"
	bodies   map[string]string
	runPolls int
}

func newFakeAPI(t *testing.T) (*fakeAPI, *Client) {
	t.Helper()
	f := &fakeAPI{bodies: make(map[string]string)}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/assistants/asst_test", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		writeJSON(w, http.StatusOK, map[string]any{
			"id": "asst_test", "object": "assistant", "created_at": 1, "name": "Keith",
			"model": "gpt-4o", "instructions": "", "tools": []any{}, "metadata": map[string]any{},
		})
	})
	mux.HandleFunc("POST /v1/threads", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		writeJSON(w, http.StatusOK, map[string]any{
			"id": "thread_1", "object": "thread", "created_at": 1, "metadata": map[string]any{},
		})
	})
	mux.HandleFunc("POST /v1/threads/thread_1/messages", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		writeJSON(w, http.StatusOK, message("msg_1", "", "user", "hello"))
	})
	mux.HandleFunc("POST /v1/threads/thread_missing/messages", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		writeJSON(w, http.StatusNotFound, map[string]any{
			"error": map[string]any{"message": "No thread found with id 'thread_missing'.", "type": "invalid_request_error"},
		})
	})
	mux.HandleFunc("POST /v1/threads/thread_1/runs", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		writeJSON(w, http.StatusOK, run("run_1", "queued", nil))
	})
	mux.HandleFunc("GET /v1/threads/thread_1/runs/run_1", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		f.mu.Lock()
		f.runPolls++
		n := f.runPolls
		f.mu.Unlock()
		status := "in_progress"
		if n >= 2 {
			status = "completed"
		}
		writeJSON(w, http.StatusOK, run("run_1", status, nil))
	})
	mux.HandleFunc("GET /v1/threads/thread_1/runs/run_failed", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		writeJSON(w, http.StatusOK, run("run_failed", "failed", map[string]any{"code": "rate_limit_exceeded", "message": "quota"}))
	})
	mux.HandleFunc("GET /v1/threads/thread_1/runs/run_odd", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		writeJSON(w, http.StatusOK, run("run_odd", "cancelling", nil))
	})
	mux.HandleFunc("GET /v1/threads/thread_1/runs/run_limited", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error": map[string]any{"message": "Rate limit reached", "type": "requests"},
		})
	})
	mux.HandleFunc("POST /v1/threads/thread_1/runs/run_1/cancel", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		writeJSON(w, http.StatusOK, run("run_1", "cancelling", nil))
	})
	mux.HandleFunc("GET /v1/threads/thread_1/messages", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		writeJSON(w, http.StatusOK, map[string]any{
			"object": "list",
			"data": []any{
				message("msg_3", "run_1", "assistant", "4"),
				message("msg_1", "", "user", "what is 2+2"),
			},
			"first_id": "msg_3", "last_id": "msg_1", "has_more": false,
		})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c, err := New(ClientOpts{
		APIKey:      "sk-test",
		AssistantID: "asst_test",
		BaseURL:     srv.URL + "/v1/",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return f, c
}

func (f *fakeAPI) record(r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	defer f.mu.Unlock()
	key := r.Method + " " + r.URL.Path
	f.requests = append(f.requests, key)
	f.bodies[key] = string(body)
}

func (f *fakeAPI) body(key string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bodies[key]
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func run(id, status string, lastError map[string]any) map[string]any {
	r := map[string]any{
		"id": id, "object": "thread.run", "created_at": 1, "thread_id": "thread_1",
		"assistant_id": "asst_test", "status": status, "model": "gpt-4o",
		"instructions": "", "tools": []any{}, "metadata": map[string]any{},
	}
	if lastError != nil {
		r["last_error"] = lastError
	}
	return r
}

func message(id, runID, role, text string) map[string]any {
	m := map[string]any{
		"id": id, "object": "thread.message", "created_at": 1, "thread_id": "thread_1",
		"role": role, "status": "completed", "metadata": map[string]any{},
		"content": []any{
			map[string]any{"type": "text", "text": map[string]any{"value": text, "annotations": []any{}}},
		},
	}
	if runID != "" {
		m["run_id"] = runID
	}
	return m
}

func TestNew_RequiresCredentials(t *testing.T) {
	if _, err := New(ClientOpts{AssistantID: "a"}); err == nil || !strings.Contains(err.Error(), "api key") {
		t.Errorf("err = %v, want api key error", err)
	}
	if _, err := New(ClientOpts{APIKey: "k"}); err == nil || !strings.Contains(err.Error(), "assistant id") {
		t.Errorf("err = %v, want assistant id error", err)
	}
}

func TestVerify(t *testing.T) {
	_, c := newFakeAPI(t)
	name, err := c.Verify(context.Background())
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if name != "Keith" {
		t.Errorf("name = %q, want Keith", name)
	}
}

func TestCreateConversation(t *testing.T) {
	_, c := newFakeAPI(t)
	id, err := c.CreateConversation(context.Background())
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	if id != "thread_1" {
		t.Errorf("id = %q, want thread_1", id)
	}
}

func TestPostMessage_SendsRoleAndText(t *testing.T) {
	f, c := newFakeAPI(t)
	if err := c.PostMessage(context.Background(), "thread_1", assistant.RoleUser, "hello"); err != nil {
		t.Fatalf("PostMessage: %v", err)
	}
	body := f.body("POST /v1/threads/thread_1/messages")
	if !strings.Contains(body, `"role":"user"`) || !strings.Contains(body, `"content":"hello"`) {
		t.Errorf("body = %s, want role user and content hello", body)
	}
}

func TestPostMessage_NotFound(t *testing.T) {
	_, c := newFakeAPI(t)
	err := c.PostMessage(context.Background(), "thread_missing", assistant.RoleUser, "hello")
	if err == nil {
		t.Fatal("expected error")
	}
	if assistant.KindOf(err) != assistant.KindNotFound {
		t.Errorf("KindOf = %q, want not_found (err=%v)", assistant.KindOf(err), err)
	}
}

func TestCreateRun_UsesAssistant(t *testing.T) {
	f, c := newFakeAPI(t)
	r, err := c.CreateRun(context.Background(), "thread_1")
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if r.ID != "run_1" || r.Status != assistant.StatusQueued {
		t.Errorf("run = %+v, want run_1 queued", r)
	}
	if body := f.body("POST /v1/threads/thread_1/runs"); !strings.Contains(body, `"assistant_id":"asst_test"`) {
		t.Errorf("body = %s, want assistant_id", body)
	}
}

func TestGetRun_StatusesAndErrors(t *testing.T) {
	_, c := newFakeAPI(t)
	ctx := context.Background()

	failed, err := c.GetRun(ctx, "thread_1", "run_failed")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if failed.Status != assistant.StatusFailed {
		t.Errorf("Status = %q, want failed", failed.Status)
	}
	if failed.LastError == nil || failed.LastError.Code != "rate_limit_exceeded" || failed.LastError.Message != "quota" {
		t.Errorf("LastError = %+v", failed.LastError)
	}

	odd, err := c.GetRun(ctx, "thread_1", "run_odd")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if odd.Status != assistant.StatusUnknown || odd.RawStatus != "cancelling" {
		t.Errorf("run = %+v, want unknown/cancelling", odd)
	}
	if odd.LastError != nil {
		t.Errorf("LastError = %+v, want nil", odd.LastError)
	}

	_, err = c.GetRun(ctx, "thread_1", "run_limited")
	if assistant.KindOf(err) != assistant.KindRateLimited {
		t.Errorf("KindOf = %q, want rate_limited (err=%v)", assistant.KindOf(err), err)
	}
}

func TestListMessages(t *testing.T) {
	_, c := newFakeAPI(t)
	msgs, err := c.ListMessages(context.Background(), "thread_1", assistant.OrderDesc)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("len = %d, want 2", len(msgs))
	}
	if msgs[0].RunID != "run_1" || msgs[0].Role != assistant.RoleAssistant {
		t.Errorf("msgs[0] = %+v", msgs[0])
	}
	if len(msgs[0].Content) != 1 || msgs[0].Content[0].Type != "text" || msgs[0].Content[0].Text != "4" {
		t.Errorf("content = %+v", msgs[0].Content)
	}
}

func TestPollerEndToEnd(t *testing.T) {
	f, c := newFakeAPI(t)
	p, err := assistant.NewPoller(assistant.PollerOpts{Backend: c, Cadence: 1})
	if err != nil {
		t.Fatal(err)
	}
	res, err := p.Execute(context.Background(), "thread_1", "what is 2+2", 0)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Outcome != assistant.OutcomeText || res.Text != "4" {
		t.Errorf("result = %+v, want text 4", res)
	}
	f.mu.Lock()
	polls := f.runPolls
	f.mu.Unlock()
	if polls != 2 {
		t.Errorf("polls = %d, want 2", polls)
	}
}

func TestCancelRun(t *testing.T) {
	f, c := newFakeAPI(t)
	if err := c.CancelRun(context.Background(), "thread_1", "run_1"); err != nil {
		t.Fatalf("CancelRun: %v", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.requests[len(f.requests)-1] != "POST /v1/threads/thread_1/runs/run_1/cancel" {
		t.Errorf("last request = %q", f.requests[len(f.requests)-1])
	}
}

func TestMapStatus(t *testing.T) {
	tests := map[string]assistant.RunStatus{
		"queued":          assistant.StatusQueued,
		"in_progress":     assistant.StatusInProgress,
		"requires_action": assistant.StatusRequiresAction,
		"completed":       assistant.StatusCompleted,
		"expired":         assistant.StatusExpired,
		"incomplete":      assistant.StatusUnknown,
		"":                assistant.StatusUnknown,
	}
	for raw, want := range tests {
		if got := mapStatus(raw); got != want {
			t.Errorf("mapStatus(%q) = %q, want %q", raw, got, want)
		}
	}
}
