package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"genie/internal/domain"
	"genie/internal/repo"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFetchNormalizesShapes(t *testing.T) {
	cases := []struct {
		name     string
		body     string
		goal     string
		tasks    int
		qas      int
		answered bool
	}{
		{"flat", `{"goal":"Ship","tasks":["a"],"answered_questions":[{"question":"q","answer":"a"}]}`, "Ship", 1, 1, true},
		{"data envelope", `{"data":{"project_goal":"Plan","answeredQuestions":[{"question":"q","answer":null}]}}`, "Plan", 0, 1, false},
		{"doc goal", `{"_doc":{"goal":"Nested"},"tasks":[{"task":"t","subtasks":["s"],"details":"d"}]}`, "Nested", 1, 0, false},
		{"empty data falls back to flat", `{"data":{},"goal":"Flat"}`, "Flat", 0, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodGet || r.URL.Path != "/api/v1/project/get/abc/" {
					t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
				}
				io.WriteString(w, tc.body)
			}))
			defer srv.Close()
			c := New(srv.URL+"/", time.Second, quietLogger())
			p, err := c.Fetch(context.Background(), "abc")
			if err != nil {
				t.Fatalf("fetch: %v", err)
			}
			if p.ID != "abc" || p.Goal != tc.goal || len(p.Tasks) != tc.tasks || len(p.AnsweredQuestions) != tc.qas {
				t.Fatalf("unexpected project %+v", p)
			}
			if tc.qas > 0 && p.AnsweredQuestions[0].Answered() != tc.answered {
				t.Fatalf("answered mismatch: %+v", p.AnsweredQuestions[0])
			}
		})
	}
}

func TestFetchErrors(t *testing.T) {
	t.Run("missing base url", func(t *testing.T) {
		c := New("", time.Second, quietLogger())
		_, err := c.Fetch(context.Background(), "abc")
		var ce *ConfigError
		if !errors.As(err, &ce) || !strings.Contains(err.Error(), EnvServiceURL) {
			t.Fatalf("expected config error naming %s, got %v", EnvServiceURL, err)
		}
	})
	t.Run("upstream status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
			io.WriteString(w, "nope")
		}))
		defer srv.Close()
		_, err := New(srv.URL, time.Second, quietLogger()).Fetch(context.Background(), "abc")
		var ue *UpstreamError
		if !errors.As(err, &ue) || ue.Status != http.StatusForbidden || ue.Body != "nope" {
			t.Fatalf("expected upstream 403, got %v", err)
		}
	})
	t.Run("empty project", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, "null")
		}))
		defer srv.Close()
		_, err := New(srv.URL, time.Second, quietLogger()).Fetch(context.Background(), "abc")
		if !errors.Is(err, repo.ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	})
}

type recordedCall struct {
	Method string
	Path   string
	Body   map[string]any
}

func TestPersistStopsAtFirstAcceptedCombination(t *testing.T) {
	var mu sync.Mutex
	var calls []recordedCall
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		calls = append(calls, recordedCall{Method: r.Method, Path: r.URL.Path, Body: body})
		mu.Unlock()
		_, enveloped := body["project"]
		if r.Method == http.MethodPut && r.URL.Path == "/api/v1/project/p1/" && enveloped {
			w.WriteHeader(http.StatusOK)
			io.WriteString(w, `{"ok":true}`)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	qas := []domain.QA{{Question: "Why?", Answer: domain.StringPtr("Because")}}
	res, err := New(srv.URL, time.Second, quietLogger()).Persist(context.Background(), "p1", "answered_questions", qas)
	if err != nil {
		t.Fatalf("persist: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	// update/ and patch/ paths: 2 paths x 3 methods x 3 envelopes, then PATCH x 3, then PUT bare, PUT data, PUT project.
	if res.Attempts != 24 || len(calls) != 24 {
		t.Fatalf("expected 24 attempts, got %d (%d calls)", res.Attempts, len(calls))
	}
	wantOrder := []recordedCall{
		{Method: http.MethodPatch, Path: "/api/v1/project/update/p1/"},
		{Method: http.MethodPatch, Path: "/api/v1/project/update/p1/"},
		{Method: http.MethodPatch, Path: "/api/v1/project/update/p1/"},
		{Method: http.MethodPut, Path: "/api/v1/project/update/p1/"},
	}
	for i, want := range wantOrder {
		if calls[i].Method != want.Method || calls[i].Path != want.Path {
			t.Fatalf("call %d = %s %s, want %s %s", i, calls[i].Method, calls[i].Path, want.Method, want.Path)
		}
	}
	if _, ok := calls[0].Body["answered_questions"]; !ok {
		t.Fatalf("first attempt should send bare payload, got %v", calls[0].Body)
	}
	if _, ok := calls[1].Body["data"]; !ok {
		t.Fatalf("second attempt should send data envelope, got %v", calls[1].Body)
	}
	last := calls[len(calls)-1]
	if last.Method != http.MethodPut || last.Path != "/api/v1/project/p1/" {
		t.Fatalf("unexpected winning call %s %s", last.Method, last.Path)
	}
	inner, _ := last.Body["project"].(map[string]any)
	list, _ := inner["answered_questions"].([]any)
	if len(list) != 1 {
		t.Fatalf("expected QA list in project envelope, got %v", last.Body)
	}
	if !strings.HasPrefix(res.Debug, "PUT "+srv.URL+"/api/v1/project/p1/ -> 200") {
		t.Fatalf("unexpected debug %q", res.Debug)
	}
}

func TestPersistReportsLastAttempt(t *testing.T) {
	var mu sync.Mutex
	count := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		count++
		mu.Unlock()
		w.WriteHeader(http.StatusMethodNotAllowed)
		io.WriteString(w, "denied")
	}))
	defer srv.Close()

	_, err := New(srv.URL, time.Second, quietLogger()).Persist(context.Background(), "p1", "answered_questions", []domain.QA{})
	var pe *PersistError
	if !errors.As(err, &pe) {
		t.Fatalf("expected persist error, got %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if count != 36 || pe.Attempts != 36 {
		t.Fatalf("expected 36 attempts, got %d/%d", count, pe.Attempts)
	}
	want := "POST " + srv.URL + "/api/v1/project/p1/update -> 405 denied"
	if pe.Last != want {
		t.Fatalf("last = %q, want %q", pe.Last, want)
	}
}

func TestPersistWithoutBaseURL(t *testing.T) {
	_, err := New("", time.Second, quietLogger()).Persist(context.Background(), "p1", "answered_questions", nil)
	var pe *PersistError
	if !errors.As(err, &pe) || !strings.Contains(pe.Last, EnvServiceURL) {
		t.Fatalf("expected persist error naming %s, got %v", EnvServiceURL, err)
	}
}
