// Package openai_api adapts the hosted OpenAI chat completions API.
package openai_api

import (
	"context"
	"errors"
	"math"
	"net/http"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"

	"privchat/internal/providers"
)

const (
	DefaultTimeout = 60 * time.Second

	MockContent = "This is a mock AI response for testing purposes. The actual LLM integration is not configured yet."
	MockModel   = "mock-model"
)

var defaultModels = []string{
	"gpt-4",
	"gpt-4-turbo",
	"gpt-4-turbo-preview",
	"gpt-3.5-turbo",
	"gpt-3.5-turbo-16k",
}

type Config struct {
	APIKey       string
	BaseURL      string
	Organization string
	Models       []string
	Timeout      time.Duration
	HTTPClient   *http.Client
	Logger       zerolog.Logger
}

type Client struct {
	cfg    Config
	client *openai.Client
}

func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if len(cfg.Models) == 0 {
		cfg.Models = defaultModels
	}
	cfg.Models = append([]string(nil), cfg.Models...)
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	if cfg.Organization != "" {
		clientConfig.OrgID = cfg.Organization
	}
	clientConfig.HTTPClient = cfg.HTTPClient

	return &Client{cfg: cfg, client: openai.NewClientWithConfig(clientConfig)}
}

var _ providers.Provider = (*Client)(nil)

func (c *Client) Type() providers.Type {
	return providers.TypeOpenAI
}

func (c *Client) Models() []string {
	return append([]string(nil), c.cfg.Models...)
}

// Mock reports whether the adapter answers from the canned response.
func (c *Client) Mock() bool {
	return c.cfg.APIKey == providers.MockAPIKey
}

func (c *Client) Generate(ctx context.Context, req providers.Request) (providers.Response, error) {
	if c.Mock() {
		return MockResponse(), nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	body, dropped := buildRequest(req)
	if len(dropped) > 0 {
		c.cfg.Logger.Warn().Strs("params", dropped).Str("model", req.Model).Msg("extra params not supported by hosted provider")
	}
	resp, err := c.client.CreateChatCompletion(ctx, body)
	if err != nil {
		return providers.Response{}, classify(err)
	}
	if len(resp.Choices) == 0 {
		return providers.Response{}, &providers.ProviderError{
			Provider: providers.TypeOpenAI,
			Kind:     providers.KindDecode,
			Err:      errors.New("empty choices in chat completion response"),
		}
	}

	out := providers.Response{
		Content: resp.Choices[0].Message.Content,
		Model:   resp.Model,
		Usage: providers.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		Extra: map[string]any{},
	}
	if resp.ID != "" {
		out.Extra["id"] = resp.ID
	}
	if fr := resp.Choices[0].FinishReason; fr != "" {
		out.Extra["finish_reason"] = string(fr)
	}
	return out, nil
}

// MockResponse is the fixed reply served for the mock credential.
func MockResponse() providers.Response {
	return providers.Response{
		Content: MockContent,
		Model:   MockModel,
		Usage:   providers.Usage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30},
		Extra:   map[string]any{},
	}
}

// buildRequest also returns the extra keys it could not map, sorted.
func buildRequest(req providers.Request) (openai.ChatCompletionRequest, []string) {
	msgs := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}
	out := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    msgs,
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
	}
	// temperature is omitempty upstream; a zero would fall back to the API default of 1.
	if out.Temperature == 0 {
		out.Temperature = math.SmallestNonzeroFloat32
	}
	return out, applyExtra(&out, req.Extra)
}

func applyExtra(out *openai.ChatCompletionRequest, extra map[string]any) []string {
	var dropped []string
	for k, v := range extra {
		switch k {
		case "top_p":
			if f, ok := toFloat(v); ok {
				out.TopP = float32(f)
			}
		case "presence_penalty":
			if f, ok := toFloat(v); ok {
				out.PresencePenalty = float32(f)
			}
		case "frequency_penalty":
			if f, ok := toFloat(v); ok {
				out.FrequencyPenalty = float32(f)
			}
		case "n":
			if f, ok := toFloat(v); ok {
				out.N = int(f)
			}
		case "seed":
			if f, ok := toFloat(v); ok {
				seed := int(f)
				out.Seed = &seed
			}
		case "user":
			if s, ok := v.(string); ok {
				out.User = s
			}
		case "max_completion_tokens":
			if f, ok := toFloat(v); ok {
				out.MaxCompletionTokens = int(f)
			}
		case "logprobs":
			if b, ok := v.(bool); ok {
				out.LogProbs = b
			}
		case "top_logprobs":
			if f, ok := toFloat(v); ok {
				out.TopLogProbs = int(f)
			}
		case "logit_bias":
			if bias, ok := toLogitBias(v); ok {
				out.LogitBias = bias
			} else {
				dropped = append(dropped, k)
			}
		case "stop":
			switch s := v.(type) {
			case string:
				out.Stop = []string{s}
			case []string:
				out.Stop = s
			case []any:
				for _, item := range s {
					if str, ok := item.(string); ok {
						out.Stop = append(out.Stop, str)
					}
				}
			}
		default:
			dropped = append(dropped, k)
		}
	}
	sort.Strings(dropped)
	return dropped
}

func toLogitBias(v any) (map[string]int, bool) {
	switch m := v.(type) {
	case map[string]int:
		return m, true
	case map[string]any:
		out := make(map[string]int, len(m))
		for tok, raw := range m {
			f, ok := toFloat(raw)
			if !ok {
				return nil, false
			}
			out[tok] = int(f)
		}
		return out, true
	default:
		return nil, false
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &providers.ProviderError{
			Provider:   providers.TypeOpenAI,
			Kind:       providers.KindStatus,
			StatusCode: apiErr.HTTPStatusCode,
			Message:    apiErr.Message,
			Err:        err,
		}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return &providers.ProviderError{
			Provider:   providers.TypeOpenAI,
			Kind:       providers.KindStatus,
			StatusCode: reqErr.HTTPStatusCode,
			Err:        err,
		}
	}
	return providers.TransportError(providers.TypeOpenAI, err)
}
