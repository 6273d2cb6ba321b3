// Package generator opens streaming completions against an
// OpenAI-compatible text-generation backend.
package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"github.com/zulandar/concierge/internal/config"
	"golang.org/x/oauth2"
)

// ErrNotConfigured is returned when no backend credential is set.
var ErrNotConfigured = errors.New("generator: no api key configured")

// Message is one prompt turn. Role is "system", "user" or "assistant".
type Message struct {
	Role    string
	Content string
}

// Client talks to the chat completions endpoint.
type Client struct {
	baseURL     string
	model       string
	temperature float32
	maxTokens   int
	configured  bool
	http        *http.Client
}

// New creates a Client. The API key is sent as a bearer token.
func New(cfg config.GeneratorConfig) *Client {
	return NewWithHTTPClient(cfg, nil)
}

// NewWithHTTPClient is New with a custom base transport client.
func NewWithHTTPClient(cfg config.GeneratorConfig, base *http.Client) *Client {
	ctx := context.Background()
	if base != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.APIKey, TokenType: "Bearer"})
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		configured:  cfg.APIKey != "",
		http:        oauth2.NewClient(ctx, ts),
	}
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// Stream starts a streaming completion and returns the raw event-stream
// body. The caller must close it.
func (c *Client) Stream(ctx context.Context, messages []Message) (io.ReadCloser, error) {
	if !c.configured {
		return nil, ErrNotConfigured
	}
	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
		Stream:      true,
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("generator: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("generator: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("generator: request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("generator: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return resp.Body, nil
}
