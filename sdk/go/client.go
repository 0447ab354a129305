package geniesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Genie HTTP API client.
type Client struct {
	BaseURL    string
	BasePath   string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults. Completion calls can be slow, so the
// timeout is generous.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/projects",
		Timeout:  60 * time.Second,
	}
}

type Task struct {
	Task     string   `json:"task"`
	Subtasks []string `json:"subtasks"`
	Details  *string  `json:"details"`
}

type QA struct {
	Question string  `json:"question"`
	Answer   *string `json:"answer"`
}

type Project struct {
	Goal              string `json:"goal"`
	Tasks             []Task `json:"tasks"`
	AnsweredQuestions []QA   `json:"answered_questions"`
}

type StartResult struct {
	ProjectID   int    `json:"project_id"`
	ProjectGoal string `json:"project_goal"`
}

// TasksResult carries a number for local projects and a string for external ones.
type TasksResult struct {
	ProjectID any    `json:"project_id"`
	Tasks     []Task `json:"tasks"`
}

type AnswerResult struct {
	Message string   `json:"message,omitempty"`
	Success bool     `json:"success,omitempty"`
	Project *Project `json:"project,omitempty"`
}

type ChatResult struct {
	ProjectID any    `json:"project_id,omitempty"`
	Response  string `json:"response"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Detail     string
	Body       string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("api error: status=%d detail=%s", e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// StartProject creates a local project with goal as its goal.
func (c *Client) StartProject(ctx context.Context, goal string) (StartResult, error) {
	var resp StartResult
	err := c.do(ctx, http.MethodPost, "start_project/", map[string]any{"user_message": goal}, &resp)
	return resp, err
}

// AddTask splits paragraph into tasks and appends the new ones.
func (c *Client) AddTask(ctx context.Context, projectID, paragraph string) (TasksResult, error) {
	var resp TasksResult
	err := c.do(ctx, http.MethodPost, projectPath("add_task", projectID), map[string]any{"add_task": paragraph}, &resp)
	return resp, err
}

// AddTaskDetails overwrites the details of the task at index.
func (c *Client) AddTaskDetails(ctx context.Context, projectID string, index int, details string) (TasksResult, error) {
	var resp TasksResult
	endpoint := fmt.Sprintf("%s%d/", projectPath("add_task_details", projectID), index)
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"details": details}, &resp)
	return resp, err
}

// AddSubtask appends a subtask to the task at index.
func (c *Client) AddSubtask(ctx context.Context, projectID string, index int, subtask string) (TasksResult, error) {
	var resp TasksResult
	endpoint := fmt.Sprintf("%s%d/", projectPath("add_subtask", projectID), index)
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"subtask": subtask}, &resp)
	return resp, err
}

// Ask generates the next interview question.
func (c *Client) Ask(ctx context.Context, projectID string) (string, error) {
	var resp struct {
		Question string `json:"question"`
	}
	err := c.do(ctx, http.MethodPost, projectPath("ask", projectID), nil, &resp)
	return resp.Question, err
}

// Answer records an answer to the most recent question.
func (c *Client) Answer(ctx context.Context, projectID, answer string) (AnswerResult, error) {
	var resp AnswerResult
	err := c.do(ctx, http.MethodPost, projectPath("answer_question", projectID), map[string]any{"answer": answer}, &resp)
	return resp, err
}

// Chat sends message to the project assistant.
func (c *Client) Chat(ctx context.Context, projectID, message string) (ChatResult, error) {
	var resp ChatResult
	endpoint := projectPath("chat", projectID) + "?user_message=" + url.QueryEscape(message)
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// GetProject returns the project whether the server answers flat or wrapped
// in {project}.
func (c *Client) GetProject(ctx context.Context, projectID string) (Project, error) {
	var raw map[string]json.RawMessage
	if err := c.do(ctx, http.MethodGet, projectPath("get_project", projectID), nil, &raw); err != nil {
		return Project{}, err
	}
	var p Project
	if inner, ok := raw["project"]; ok {
		return p, json.Unmarshal(inner, &p)
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return Project{}, err
	}
	return p, json.Unmarshal(data, &p)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Detail string `json:"detail"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Detail = envelope.Detail
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func projectPath(op, projectID string) string {
	return fmt.Sprintf("%s/%s/", op, url.PathEscape(projectID))
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if c.BasePath == "" {
		return base
	}
	return base + "/" + strings.Trim(c.BasePath, "/")
}
