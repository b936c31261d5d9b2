// Package openai_compat talks to self-hosted inference servers (vLLM and the
// like) that expose an OpenAI-shaped chat completions route.
package openai_compat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"privchat/internal/providers"
)

const DefaultTimeout = 300 * time.Second

type Config struct {
	Endpoint   string
	APIKey     string
	Headers    map[string]string
	Models     []string
	Timeout    time.Duration
	HTTPClient *http.Client
}

type Client struct {
	cfg Config
}

func New(cfg Config) *Client {
	cfg.Endpoint = strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if len(cfg.Models) == 0 {
		cfg.Models = []string{"default-model"}
	}
	headers := make(map[string]string, len(cfg.Headers))
	for k, v := range cfg.Headers {
		headers[k] = v
	}
	cfg.Headers = headers
	cfg.Models = append([]string(nil), cfg.Models...)
	return &Client{cfg: cfg}
}

var _ providers.Provider = (*Client)(nil)

func (c *Client) Type() providers.Type {
	return providers.TypeVLLM
}

func (c *Client) Models() []string {
	return append([]string(nil), c.cfg.Models...)
}

func (c *Client) Endpoint() string {
	return c.cfg.Endpoint
}

func (c *Client) Generate(ctx context.Context, req providers.Request) (providers.Response, error) {
	body, err := buildPayload(req)
	if err != nil {
		return providers.Response{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	return c.callOnce(ctx, c.cfg.Endpoint+"/chat/completions", body)
}

func buildPayload(req providers.Request) ([]byte, error) {
	messages := req.Messages
	if messages == nil {
		messages = []providers.Message{}
	}
	payload := make(map[string]any, len(req.Extra)+4)
	for k, v := range req.Extra {
		payload[k] = v
	}
	payload["model"] = req.Model
	payload["messages"] = messages
	payload["temperature"] = req.Temperature
	if req.MaxTokens > 0 {
		payload["max_tokens"] = req.MaxTokens
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, &providers.ProviderError{Provider: providers.TypeVLLM, Kind: providers.KindDecode, Err: fmt.Errorf("marshal chat completion payload: %w", err)}
	}
	return b, nil
}

func (c *Client) callOnce(ctx context.Context, endpointURL string, body []byte) (providers.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointURL, bytes.NewReader(body))
	if err != nil {
		return providers.Response{}, &providers.ProviderError{Provider: providers.TypeVLLM, Kind: providers.KindTransport, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(c.cfg.APIKey) != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return providers.Response{}, providers.TransportError(providers.TypeVLLM, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return providers.Response{}, providers.TransportError(providers.TypeVLLM, fmt.Errorf("read response body: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return providers.Response{}, &providers.ProviderError{
			Provider:   providers.TypeVLLM,
			Kind:       providers.KindStatus,
			StatusCode: resp.StatusCode,
			Message:    upstreamMessage(respBody),
		}
	}

	out, err := parseChatCompletions(respBody)
	if err != nil {
		return providers.Response{}, &providers.ProviderError{Provider: providers.TypeVLLM, Kind: providers.KindDecode, Err: err}
	}
	return out, nil
}

func parseChatCompletions(body []byte) (providers.Response, error) {
	var resp struct {
		ID      string `json:"id"`
		Model   string `json:"model"`
		Choices []struct {
			Message struct {
				Content *string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage *providers.Usage `json:"usage"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return providers.Response{}, fmt.Errorf("decode chat completion response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return providers.Response{}, fmt.Errorf("empty choices in chat completion response")
	}
	if resp.Choices[0].Message.Content == nil {
		return providers.Response{}, fmt.Errorf("missing message content in chat completion response")
	}

	out := providers.Response{
		Content: *resp.Choices[0].Message.Content,
		Model:   resp.Model,
		Extra:   map[string]any{},
	}
	if resp.Usage != nil {
		out.Usage = *resp.Usage
	}
	if resp.ID != "" {
		out.Extra["id"] = resp.ID
	}
	if resp.Choices[0].FinishReason != "" {
		out.Extra["finish_reason"] = resp.Choices[0].FinishReason
	}
	return out, nil
}

// upstreamMessage pulls error.message out of an error body, falling back to the raw text.
func upstreamMessage(body []byte) string {
	var env struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(body, &env); err == nil {
		if env.Error.Message != "" {
			return env.Error.Message
		}
		if env.Detail != "" {
			return env.Detail
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 512 {
		msg = msg[:512]
	}
	return msg
}
