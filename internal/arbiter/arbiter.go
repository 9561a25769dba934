// Package arbiter talks to the language model that arbitrates between sentiment and stats.
package arbiter

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

	"github.com/rewired-gh/proporacle/internal/breaker"
	"github.com/sony/gobreaker"
)

// ErrEmptyResponse is returned when the model replies without any text block.
var ErrEmptyResponse = errors.New("arbiter returned no text")

// Arbiter turns a prompt into free text.
type Arbiter interface {
	Complete(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// Config configures the Anthropic Messages client.
type Config struct {
	BaseURL            string
	APIKey             string
	Model              string
	Version            string
	BreakerFailures    uint32
	BreakerOpenTimeout time.Duration
}

// Client calls the Anthropic Messages API.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	version    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

var _ Arbiter = (*Client)(nil)

// NewClient creates a Messages API client. Deadlines come from the caller's context.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.anthropic.com"
	}
	if cfg.Version == "" {
		cfg.Version = "2023-06-01"
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		version:    cfg.Version,
		httpClient: &http.Client{},
		breaker: breaker.New("arbiter", breaker.Settings{
			ConsecutiveFailures: cfg.BreakerFailures,
			OpenTimeout:         cfg.BreakerOpenTimeout,
		}),
	}
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	Messages  []message `json:"messages"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Complete sends a single user message and returns the first text block of the reply.
func (c *Client) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if c.apiKey == "" {
		return "", errors.New("arbiter API key not configured")
	}
	body, err := json.Marshal(messagesRequest{
		Model:     c.model,
		MaxTokens: maxTokens,
		Messages:  []message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.post(ctx, body)
	})
	if err != nil {
		return "", fmt.Errorf("arbitration failed: %w", err)
	}
	return out.(string), nil
}

func (c *Client) post(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", c.version)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	var mr messagesResponse
	if err := json.Unmarshal(raw, &mr); err != nil {
		return "", fmt.Errorf("failed to decode response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		if mr.Error != nil {
			return "", fmt.Errorf("status %d: %s: %s", resp.StatusCode, mr.Error.Type, mr.Error.Message)
		}
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}
	for _, block := range mr.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", ErrEmptyResponse
}
