// Package llm forwards prompts to an OpenAI-compatible chat completions API.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	DefaultURL   = "https://api.openai.com/v1/chat/completions"
	DefaultModel = "gpt-3.5-turbo"

	askSystemPrompt  = "You are a helpful assistant."
	chatSystemPrompt = "You are a helpful assistant named OLLIE that helps users with project details."
)

// Generator is the capability the project service depends on.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	GenerateWithContext(ctx context.Context, projectContext string) (string, error)
}

// GenerationError wraps any failure talking to the completion API.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string { return "error generating response: " + e.Err.Error() }
func (e *GenerationError) Unwrap() error { return e.Err }

// ErrMissingAPIKey is reported when no credential is configured.
var ErrMissingAPIKey = errors.New("OpenAI API key not provided (set OPENAI_API_KEY)")

// Options configure the client. Zero values fall back to the package defaults.
type Options struct {
	URL           string
	APIKey        string
	Model         string
	Temperature   float64
	AskMaxTokens  int
	ChatMaxTokens int
	// HTTPClient defaults to a client without timeout; requests are bounded by
	// the caller's context only.
	HTTPClient *http.Client
}

// Client calls the chat completions endpoint.
type Client struct {
	url           string
	apiKey        string
	model         string
	temperature   float64
	askMaxTokens  int
	chatMaxTokens int
	httpClient    *http.Client
}

func New(opts Options) *Client {
	c := &Client{
		url:           opts.URL,
		apiKey:        opts.APIKey,
		model:         opts.Model,
		temperature:   opts.Temperature,
		askMaxTokens:  opts.AskMaxTokens,
		chatMaxTokens: opts.ChatMaxTokens,
		httpClient:    opts.HTTPClient,
	}
	if c.url == "" {
		c.url = DefaultURL
	}
	if c.model == "" {
		c.model = DefaultModel
	}
	if c.temperature == 0 {
		c.temperature = 0.7
	}
	if c.askMaxTokens <= 0 {
		c.askMaxTokens = 150
	}
	if c.chatMaxTokens <= 0 {
		c.chatMaxTokens = 300
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	return c
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Generate answers a bare prompt with the general assistant persona.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	return c.complete(ctx, askSystemPrompt, prompt, c.askMaxTokens)
}

// GenerateWithContext answers a pre-formatted project context with the
// project assistant persona.
func (c *Client) GenerateWithContext(ctx context.Context, projectContext string) (string, error) {
	return c.complete(ctx, chatSystemPrompt, projectContext, c.chatMaxTokens)
}

func (c *Client) complete(ctx context.Context, system, user string, maxTokens int) (string, error) {
	text, err := c.do(ctx, system, user, maxTokens)
	if err != nil {
		return "", &GenerationError{Err: err}
	}
	return text, nil
}

func (c *Client) do(ctx context.Context, system, user string, maxTokens int) (string, error) {
	if c.apiKey == "" {
		return "", ErrMissingAPIKey
	}
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		MaxTokens:   maxTokens,
		Temperature: c.temperature,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	res, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return "", fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(b)))
	}
	var out chatResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode completion: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", errors.New("completion returned no choices")
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}
