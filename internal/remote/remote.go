// Package remote reads projects from, and best-effort writes them back to, the
// external project service.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"genie/internal/domain"
	"genie/internal/repo"
)

const (
	// EnvServiceURL names the setting holding the service base URL.
	EnvServiceURL  = "PROJECT_SERVICE_URL"
	defaultTimeout = 10 * time.Second
	maxDebugBody   = 1000
)

// ConfigError reports a required setting that is not configured.
type ConfigError struct {
	Key string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s not set in environment (.env)", e.Key)
}

// UpstreamError is a non-200 answer from the project service.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("Could not fetch project: %s", e.Body)
}

// PersistError is returned when every write-back attempt failed. Last holds the
// description of the final attempt.
type PersistError struct {
	Attempts int
	Last     string
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist failed after %d attempts; last: %s", e.Attempts, e.Last)
}

// Client talks to the external project service.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// New creates a client with a fixed per-call timeout.
func New(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: timeout},
		Logger:     logger,
	}
}

// Configured reports whether a base URL is set.
func (c *Client) Configured() bool {
	return c != nil && strings.TrimSpace(c.BaseURL) != ""
}

func (c *Client) base() (string, error) {
	if !c.Configured() {
		return "", &ConfigError{Key: EnvServiceURL}
	}
	return strings.TrimRight(c.BaseURL, "/"), nil
}

func (c *Client) client() *http.Client {
	if c.HTTPClient == nil {
		return &http.Client{Timeout: defaultTimeout}
	}
	return c.HTTPClient
}

func (c *Client) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

// Fetch loads and normalizes a project by its external id.
func (c *Client) Fetch(ctx context.Context, id string) (domain.Project, error) {
	base, err := c.base()
	if err != nil {
		return domain.Project{}, err
	}
	endpoint := fmt.Sprintf("%s/api/v1/project/get/%s/", base, url.PathEscape(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.Project{}, err
	}
	res, err := c.client().Do(req)
	if err != nil {
		return domain.Project{}, fmt.Errorf("fetch project %s: %w", id, err)
	}
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return domain.Project{}, fmt.Errorf("read project %s: %w", id, err)
	}
	if res.StatusCode != http.StatusOK {
		return domain.Project{}, &UpstreamError{Status: res.StatusCode, Body: string(body)}
	}
	p, err := Normalize(body)
	if err != nil {
		return domain.Project{}, fmt.Errorf("decode project %s: %w", id, err)
	}
	if p.Empty() {
		return domain.Project{}, fmt.Errorf("project %s: %w", id, repo.ErrNotFound)
	}
	p.ID = id
	return p, nil
}

// PersistResult describes the attempt that succeeded.
type PersistResult struct {
	Attempts int
	Debug    string
}

var persistMethods = []string{http.MethodPatch, http.MethodPut, http.MethodPost}

func persistPaths(base, id string) []string {
	id = url.PathEscape(id)
	return []string{
		fmt.Sprintf("%s/api/v1/project/update/%s/", base, id),
		fmt.Sprintf("%s/api/v1/project/patch/%s/", base, id),
		fmt.Sprintf("%s/api/v1/project/%s/", base, id),
		fmt.Sprintf("%s/api/v1/project/%s/update", base, id),
	}
}

func persistPayloads(field string, value any) []map[string]any {
	return []map[string]any{
		{field: value},
		{"data": map[string]any{field: value}},
		{"project": map[string]any{field: value}},
	}
}

// Persist pushes one project field back to the service. The upstream write
// contract is unknown, so every path, method and envelope combination is tried
// in a fixed order until one answers 200, 201 or 204.
func (c *Client) Persist(ctx context.Context, id, field string, value any) (PersistResult, error) {
	base, err := c.base()
	if err != nil {
		return PersistResult{}, &PersistError{Last: err.Error()}
	}
	last := "no-attempt"
	attempts := 0
	for _, endpoint := range persistPaths(base, id) {
		for _, method := range persistMethods {
			for _, payload := range persistPayloads(field, value) {
				attempts++
				status, debug, err := c.attempt(ctx, method, endpoint, payload)
				if err != nil {
					last = fmt.Sprintf("%s %s -> EXCEPTION: %v", method, endpoint, err)
					c.logger().Warn("persist attempt failed", "project_id", id, "method", method, "url", endpoint, "error", err)
					continue
				}
				c.logger().Info("persist attempt", "project_id", id, "method", method, "url", endpoint, "status", status, "debug", debug)
				if status == http.StatusOK || status == http.StatusCreated || status == http.StatusNoContent {
					return PersistResult{Attempts: attempts, Debug: debug}, nil
				}
				last = debug
			}
		}
	}
	return PersistResult{}, &PersistError{Attempts: attempts, Last: last}
}

func (c *Client) attempt(ctx context.Context, method, endpoint string, payload map[string]any) (int, string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, "", err
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(data))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := c.client().Do(req)
	if err != nil {
		return 0, "", err
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(res.Body, maxDebugBody))
	return res.StatusCode, fmt.Sprintf("%s %s -> %d %s", method, endpoint, res.StatusCode, string(body)), nil
}
