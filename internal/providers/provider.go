package providers

import "context"

// Type tags the closed set of backends an adapter can wrap.
type Type string

const (
	TypeOpenAI Type = "openai"
	TypeVLLM   Type = "vllm"
)

func (t Type) Valid() bool {
	return t == TypeOpenAI || t == TypeVLLM
}

const (
	// DefaultWorkspace is the binding key consulted when a workspace has no binding of its own.
	DefaultWorkspace = "default"

	// MockAPIKey makes the hosted adapter answer with a canned response and no network access.
	MockAPIKey = "mock-key"

	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Request struct {
	Messages    []Message
	Model       string
	Temperature float64
	// MaxTokens of zero leaves the bound to the backend.
	MaxTokens int
	Extra     map[string]any
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type Response struct {
	Content string
	Model   string
	Usage   Usage
	Extra   map[string]any
}

type Provider interface {
	Generate(ctx context.Context, req Request) (Response, error)
	Models() []string
	Type() Type
}
