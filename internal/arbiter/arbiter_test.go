package arbiter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestClient_Complete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" || r.Method != http.MethodPost {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "k" || r.Header.Get("anthropic-version") != "2023-06-01" {
			t.Errorf("missing auth headers: %v", r.Header)
		}
		var req messagesRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.MaxTokens != 800 || req.Model != "test-model" || len(req.Messages) != 1 || req.Messages[0].Role != "user" {
			t.Errorf("unexpected request %+v", req)
		}
		_, _ = w.Write([]byte(`{"content":[{"type":"tool_use"},{"type":"text","text":"{\"prediction\":\"over\"}"}]}`))
	}))
	defer server.Close()

	c := NewClient(Config{BaseURL: server.URL, APIKey: "k", Model: "test-model"})
	got, err := c.Complete(context.Background(), "prompt", 800)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != `{"prediction":"over"}` {
		t.Errorf("got %q", got)
	}
}

func TestClient_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`))
	}))
	defer server.Close()

	_, err := NewClient(Config{BaseURL: server.URL, APIKey: "k"}).Complete(context.Background(), "p", 10)
	if err == nil || !strings.Contains(err.Error(), "rate_limit_error") {
		t.Errorf("expected rate limit error, got %v", err)
	}
}

func TestClient_NoTextBlock(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"content":[]}`))
	}))
	defer server.Close()

	_, err := NewClient(Config{BaseURL: server.URL, APIKey: "k"}).Complete(context.Background(), "p", 10)
	if !errors.Is(err, ErrEmptyResponse) {
		t.Errorf("expected ErrEmptyResponse, got %v", err)
	}
}

func TestClient_RespectsDeadline(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := NewClient(Config{BaseURL: server.URL, APIKey: "k"}).Complete(ctx, "p", 10); err == nil {
		t.Error("expected deadline error")
	}
}

func TestClient_MissingKey(t *testing.T) {
	if _, err := NewClient(Config{}).Complete(context.Background(), "p", 10); err == nil {
		t.Error("expected error without API key")
	}
}
