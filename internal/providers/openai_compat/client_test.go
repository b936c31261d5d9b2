package openai_compat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"privchat/internal/providers"
)

func TestGeneratePostsChatCompletions(t *testing.T) {
	var gotPath string
	var payload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		b, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(b, &payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"llama-3","choices":[{"message":{"role":"assistant","content":"hello there"}}],"usage":{"prompt_tokens":4,"completion_tokens":2,"total_tokens":6}}`))
	}))
	defer srv.Close()

	c := New(Config{Endpoint: srv.URL + "/v1/"})
	resp, err := c.Generate(context.Background(), providers.Request{
		Model:       "llama-3",
		Messages:    []providers.Message{{Role: providers.RoleUser, Content: "hi"}},
		Temperature: 0.7,
		MaxTokens:   1000,
		Extra:       map[string]any{"top_p": 0.9},
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if gotPath != "/v1/chat/completions" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if payload["model"] != "llama-3" || payload["max_tokens"] != float64(1000) || payload["top_p"] != 0.9 {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if resp.Content != "hello there" || resp.Model != "llama-3" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.Usage.TotalTokens != 6 || resp.Usage.PromptTokens != 4 {
		t.Fatalf("unexpected usage %+v", resp.Usage)
	}
}

func TestGenerateMissingUsageIsZero(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"model":"m","choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	resp, err := New(Config{Endpoint: srv.URL}).Generate(context.Background(), providers.Request{Model: "m"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if resp.Usage != (providers.Usage{}) {
		t.Fatalf("expected zero usage, got %+v", resp.Usage)
	}
}

func TestGenerateStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":{"message":"model not loaded"}}`))
	}))
	defer srv.Close()

	_, err := New(Config{Endpoint: srv.URL}).Generate(context.Background(), providers.Request{Model: "m"})
	var pe *providers.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if pe.Kind != providers.KindStatus || pe.StatusCode != http.StatusBadGateway || pe.Message != "model not loaded" {
		t.Fatalf("unexpected provider error %+v", pe)
	}
}

func TestGenerateMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	_, err := New(Config{Endpoint: srv.URL}).Generate(context.Background(), providers.Request{Model: "m"})
	if providers.KindOf(err) != providers.KindDecode {
		t.Fatalf("expected decode error, got %v", err)
	}
}

func TestGenerateUnencodableExtraIsProviderError(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer srv.Close()

	_, err := New(Config{Endpoint: srv.URL}).Generate(context.Background(), providers.Request{
		Model: "m",
		Extra: map[string]any{"callback": make(chan int)},
	})
	var pe *providers.ProviderError
	if !errors.As(err, &pe) || pe.Kind != providers.KindDecode {
		t.Fatalf("expected decode ProviderError, got %v", err)
	}
	if calls != 0 {
		t.Fatalf("request must not be sent, got %d calls", calls)
	}
}

func TestGenerateTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := New(Config{Endpoint: srv.URL, Timeout: 50 * time.Millisecond})
	_, err := c.Generate(context.Background(), providers.Request{Model: "m"})
	if !providers.IsTimeout(err) {
		t.Fatalf("expected timeout error, got %v", err)
	}
}

func TestNewNormalizesEndpoint(t *testing.T) {
	c := New(Config{Endpoint: " http://gpu-box:8000/v1/ "})
	if c.Endpoint() != "http://gpu-box:8000/v1" {
		t.Fatalf("unexpected endpoint %q", c.Endpoint())
	}
	if got := c.Models(); len(got) != 1 || got[0] != "default-model" {
		t.Fatalf("unexpected models %v", got)
	}
	if c.Type() != providers.TypeVLLM {
		t.Fatalf("unexpected type %q", c.Type())
	}
}
