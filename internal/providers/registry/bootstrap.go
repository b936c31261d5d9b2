package registry

import (
	"fmt"
	"sort"

	"privchat/internal/providers"
)

// Names the environment-derived adapters register under.
const (
	NameOpenAI = "openai"
	NameVLLM   = "vllm"
	NameMock   = "mock"
)

type Declaration struct {
	Name   string
	Type   providers.Type
	Params Params
}

// Seed is the startup provider set: environment credentials first, then
// declarations from the providers file and their bindings.
type Seed struct {
	OpenAIAPIKey  string
	OpenAIBaseURL string
	VLLMEndpoint  string
	VLLMModel     string

	Declarations []Declaration
	Bindings     map[string]string
}

// Apply registers the seed. With neither credential set the mock adapter is
// registered and bound to the default workspace key so chats still get replies.
func (r *Registry) Apply(s Seed) error {
	if s.OpenAIAPIKey != "" {
		params := Params{"api_key": s.OpenAIAPIKey}
		if s.OpenAIBaseURL != "" {
			params["base_url"] = s.OpenAIBaseURL
		}
		if err := r.Register(NameOpenAI, providers.TypeOpenAI, params); err != nil {
			return fmt.Errorf("register %s: %w", NameOpenAI, err)
		}
	}
	if s.VLLMEndpoint != "" {
		params := Params{"endpoint": s.VLLMEndpoint}
		if s.VLLMModel != "" {
			params["models"] = []string{s.VLLMModel}
		}
		if err := r.Register(NameVLLM, providers.TypeVLLM, params); err != nil {
			return fmt.Errorf("register %s: %w", NameVLLM, err)
		}
	}
	if s.OpenAIAPIKey == "" && s.VLLMEndpoint == "" {
		if err := r.Register(NameMock, providers.TypeOpenAI, Params{"api_key": providers.MockAPIKey}); err != nil {
			return fmt.Errorf("register %s: %w", NameMock, err)
		}
		if err := r.Bind(providers.DefaultWorkspace, NameMock); err != nil {
			return err
		}
	}

	for _, d := range s.Declarations {
		if err := r.Register(d.Name, d.Type, d.Params); err != nil {
			return fmt.Errorf("register %s: %w", d.Name, err)
		}
	}

	keys := make([]string, 0, len(s.Bindings))
	for k := range s.Bindings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, ws := range keys {
		if err := r.Bind(ws, s.Bindings[ws]); err != nil {
			return fmt.Errorf("bind %s: %w", ws, err)
		}
	}
	return nil
}
