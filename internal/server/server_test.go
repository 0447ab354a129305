package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"genie/internal/engine"
	"genie/internal/llm"
	"genie/internal/remote"
	"genie/internal/repo"
)

type stubLLM struct {
	mu    sync.Mutex
	reply string
	err   error
	calls int
}

func (s *stubLLM) Generate(context.Context, string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.reply, s.err
}

func (s *stubLLM) GenerateWithContext(ctx context.Context, projectContext string) (string, error) {
	return s.Generate(ctx, projectContext)
}

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T, gen llm.Generator, serviceURL string) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	var rc *remote.Client
	if serviceURL != "" {
		rc = remote.New(serviceURL, time.Second, logger)
	}
	e := engine.New(repo.NewMemory(), rc, gen, logger)
	handler, err := New(Config{Engine: e, Logger: logger})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	ts := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
		},
	}
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any) (*http.Response, []byte) {
	t.Helper()
	reader := bytes.NewReader(nil)
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func decode(t *testing.T, data []byte, v any) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("unmarshal %s: %v", string(data), err)
	}
}

func expectError(t *testing.T, res *http.Response, data []byte, status int, detail string) {
	t.Helper()
	if res.StatusCode != status {
		t.Fatalf("expected %d, got %d: %s", status, res.StatusCode, string(data))
	}
	var body apiError
	decode(t, data, &body)
	if detail != "" && body.Detail != detail {
		t.Fatalf("expected detail %q, got %q", detail, body.Detail)
	}
	if body.Code == "" {
		t.Fatalf("missing error code: %s", string(data))
	}
}

func TestRootAndHealth(t *testing.T) {
	srv := newTestServer(t, &stubLLM{}, "")
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("root status %d: %s", res.StatusCode, string(data))
	}
	var msg MessageResponse
	decode(t, data, &msg)
	if msg.Message != welcomeMessage {
		t.Fatalf("unexpected welcome %q", msg.Message)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/health", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(data))
	}
	if res.Header.Get(requestIDHeader) == "" {
		t.Fatalf("expected request id header")
	}
}

func TestLocalProjectLifecycle(t *testing.T) {
	gen := &stubLLM{reply: "Who is the audience?"}
	srv := newTestServer(t, gen, "")
	client := srv.Client()
	base := srv.URL + "/projects"

	res, data := doJSON(t, client, http.MethodPost, base+"/start_project/", map[string]any{"user_message": "Build a website"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("start status %d: %s", res.StatusCode, string(data))
	}
	var started StartProjectResponse
	decode(t, data, &started)
	if started.ProjectID != 0 || started.ProjectGoal != "Build a website" {
		t.Fatalf("unexpected start %+v", started)
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/add_task/0/", map[string]any{"add_task": "Design pages. Write code."})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("add task status %d: %s", res.StatusCode, string(data))
	}
	var tasks struct {
		ProjectID int            `json:"project_id"`
		Tasks     []TaskResponse `json:"tasks"`
	}
	decode(t, data, &tasks)
	if len(tasks.Tasks) != 2 || tasks.Tasks[0].Task != "Design pages. for project goal: Build a website" {
		t.Fatalf("unexpected tasks %+v", tasks)
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/add_subtask/0/1/", map[string]any{"subtask": "Pick framework"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("subtask status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, base+"/add_task_details/0/1/", map[string]any{"details": "Go"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("details status %d: %s", res.StatusCode, string(data))
	}
	decode(t, data, &tasks)
	if got := tasks.Tasks[1]; len(got.Subtasks) != 1 || got.Details == nil || *got.Details != "Go" {
		t.Fatalf("unexpected task %+v", got)
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/add_subtask/0/7/", map[string]any{"subtask": "x"})
	expectError(t, res, data, http.StatusNotFound, "Task not found")

	res, data = doJSON(t, client, http.MethodPost, base+"/answer_question/0/", map[string]any{"answer": "early"})
	expectError(t, res, data, http.StatusBadRequest, "No question to answer")

	res, data = doJSON(t, client, http.MethodPost, base+"/ask/0/", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("ask status %d: %s", res.StatusCode, string(data))
	}
	var q QuestionResponse
	decode(t, data, &q)
	if q.Question != "Who is the audience?" {
		t.Fatalf("unexpected question %q", q.Question)
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/answer_question/0/", map[string]any{"answer": "Developers"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("answer status %d: %s", res.StatusCode, string(data))
	}
	var answered map[string]any
	decode(t, data, &answered)
	if _, ok := answered["message"]; !ok || answered["project"] != nil {
		t.Fatalf("local answer should return a message only: %v", answered)
	}

	res, data = doJSON(t, client, http.MethodGet, base+"/get_project/0/", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get status %d: %s", res.StatusCode, string(data))
	}
	var project ProjectResponse
	decode(t, data, &project)
	if project.Goal != "Build a website" || len(project.AnsweredQuestions) != 1 || *project.AnsweredQuestions[0].Answer != "Developers" {
		t.Fatalf("unexpected project %+v", project)
	}

	gen.reply = "Start with the landing page."
	res, data = doJSON(t, client, http.MethodPost, base+"/chat/0/?user_message="+url.QueryEscape("Where do I start?"), nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("chat status %d: %s", res.StatusCode, string(data))
	}
	var chat map[string]any
	decode(t, data, &chat)
	if chat["response"] != "Start with the landing page." || chat["project_id"] != float64(0) {
		t.Fatalf("unexpected chat %v", chat)
	}
}

func TestChatReadsMessageFromBody(t *testing.T) {
	srv := newTestServer(t, &stubLLM{reply: "ok"}, "")
	base := srv.URL + "/projects"
	doJSON(t, srv.Client(), http.MethodPost, base+"/start_project/", map[string]any{"user_message": "g"})
	res, data := doJSON(t, srv.Client(), http.MethodPost, base+"/chat/0/", map[string]any{"user_message": "hi"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("chat status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, base+"/chat/0/", nil)
	expectError(t, res, data, http.StatusUnprocessableEntity, "")
}

func TestMissingProjectAndConfiguration(t *testing.T) {
	srv := newTestServer(t, &stubLLM{}, "")
	base := srv.URL + "/projects"
	res, data := doJSON(t, srv.Client(), http.MethodGet, base+"/get_project/4/", nil)
	expectError(t, res, data, http.StatusNotFound, "Project not found")

	res, data = doJSON(t, srv.Client(), http.MethodGet, base+"/get_project/abc/", nil)
	expectError(t, res, data, http.StatusInternalServerError, "PROJECT_SERVICE_URL not set in environment (.env)")
}

func TestGenerationFailureIsReported(t *testing.T) {
	srv := newTestServer(t, &stubLLM{err: &llm.GenerationError{Err: errors.New("quota exceeded")}}, "")
	base := srv.URL + "/projects"
	doJSON(t, srv.Client(), http.MethodPost, base+"/start_project/", map[string]any{"user_message": "g"})
	res, data := doJSON(t, srv.Client(), http.MethodPost, base+"/ask/0/", nil)
	expectError(t, res, data, http.StatusInternalServerError, "Error generating response: quota exceeded")
}

func TestStartRequiresUserMessage(t *testing.T) {
	srv := newTestServer(t, &stubLLM{}, "")
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/projects/start_project/", map[string]any{})
	expectError(t, res, data, http.StatusUnprocessableEntity, "")
}

func TestExternalProjectRoutes(t *testing.T) {
	var mu sync.Mutex
	accept := false
	svc := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/project/get/ext-9/":
			io.WriteString(w, `{"data":{"project_goal":"Remote","answered_questions":[{"question":"q","answer":null}]}}`)
		case r.Method == http.MethodGet:
			w.WriteHeader(http.StatusForbidden)
			io.WriteString(w, "nope")
		case accept:
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	defer svc.Close()
	srv := newTestServer(t, &stubLLM{reply: "next?"}, svc.URL)
	base := srv.URL + "/projects"

	res, data := doJSON(t, srv.Client(), http.MethodGet, base+"/get_project/ext-9/", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get status %d: %s", res.StatusCode, string(data))
	}
	var wrapped ExternalProjectResponse
	decode(t, data, &wrapped)
	if wrapped.Project.Goal != "Remote" {
		t.Fatalf("unexpected project %+v", wrapped)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, base+"/get_project/other/", nil)
	expectError(t, res, data, http.StatusForbidden, "Could not fetch project: nope")

	res, data = doJSON(t, srv.Client(), http.MethodPost, base+"/ask/ext-9/", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("ask should degrade silently, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, base+"/answer_question/ext-9/", map[string]any{"answer": "a"})
	expectError(t, res, data, http.StatusInternalServerError, "Failed to persist answer to project service")

	mu.Lock()
	accept = true
	mu.Unlock()
	res, data = doJSON(t, srv.Client(), http.MethodPost, base+"/answer_question/ext-9/", map[string]any{"answer": "a"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("answer status %d: %s", res.StatusCode, string(data))
	}
	var answered AnswerResponse
	decode(t, data, &answered)
	if !answered.Success || answered.Project == nil || *answered.Project.AnsweredQuestions[0].Answer != "a" {
		t.Fatalf("unexpected answer response %+v", answered)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, base+"/chat/ext-9/?user_message=hello", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("chat status %d: %s", res.StatusCode, string(data))
	}
	var chat map[string]any
	decode(t, data, &chat)
	if _, ok := chat["project_id"]; ok {
		t.Fatalf("external chat must not echo project_id: %v", chat)
	}
}
