// Package llm talks to an OpenAI-compatible chat completions endpoint. It is
// used for drafting outbound mail and for structured extraction; every
// caller has a non-model fallback.
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
	"time"

	"github.com/daviddao/poflow/internal/config"
	"github.com/daviddao/poflow/internal/retry"
)

// ErrNotConfigured is returned when no endpoint, model or key is set.
var ErrNotConfigured = errors.New("llm client not configured")

// Completer produces a completion for a single-turn prompt.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// Client is a Completer backed by an OpenAI-compatible API.
type Client struct {
	endpoint   string
	model      string
	apiKey     string
	httpClient *http.Client
}

var _ Completer = (*Client)(nil)

// New builds a client from configuration. It returns nil when the model is
// not configured so callers can pick their fallback.
func New(cfg config.LLMConfig) *Client {
	if cfg.APIKey == "" || cfg.Endpoint == "" || cfg.Model == "" {
		return nil
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		endpoint:   cfg.Endpoint,
		model:      cfg.Model,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Complete sends one system and one user message and returns the first
// choice's content.
func (c *Client) Complete(ctx context.Context, system, prompt string) (string, error) {
	if c == nil {
		return "", ErrNotConfigured
	}

	messages := make([]chatMessage, 0, 2)
	if s := strings.TrimSpace(system); s != "" {
		messages = append(messages, chatMessage{Role: "system", Content: s})
	}
	messages = append(messages, chatMessage{Role: "user", Content: prompt})

	body, err := json.Marshal(chatRequest{Model: c.model, Messages: messages, Temperature: 0.2})
	if err != nil {
		return "", fmt.Errorf("marshal completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("completion request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		msg := strings.TrimSpace(string(payload))
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return "", fmt.Errorf("%w: %s", retry.ErrRateLimited, msg)
		case resp.StatusCode >= http.StatusInternalServerError:
			return "", fmt.Errorf("%w: llm %s: %s", retry.ErrTransient, resp.Status, msg)
		default:
			return "", fmt.Errorf("llm error %s: %s", resp.Status, msg)
		}
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode completion: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("completion has no choices")
	}
	return out.Choices[0].Message.Content, nil
}

// JSONObject pulls the outermost {...} span out of a model reply, dropping
// markdown code fences and any chatter around it.
func JSONObject(reply string) (string, bool) {
	s := strings.TrimSpace(reply)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}
