package registry

import (
	"context"
	"testing"

	"privchat/internal/providers"
	"privchat/internal/providers/openai_api"
)

func TestApplyWithoutCredentialsBindsMock(t *testing.T) {
	r := New(NameOpenAI, BuildOptions{})
	if err := r.Apply(Seed{}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got := r.Names(); len(got) != 1 || got[0] != NameMock {
		t.Fatalf("unexpected providers: %v", got)
	}
	if r.Bindings()[providers.DefaultWorkspace] != NameMock {
		t.Fatalf("default binding not set: %v", r.Bindings())
	}

	resp, name, err := r.Generate(context.Background(), providers.Request{}, "some-workspace")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if name != NameMock || resp.Content != openai_api.MockContent {
		t.Fatalf("unexpected reply from %q: %+v", name, resp)
	}
}

func TestApplyRegistersEnvironmentProviders(t *testing.T) {
	r := New(NameOpenAI, BuildOptions{})
	err := r.Apply(Seed{
		OpenAIAPIKey: "sk-test",
		VLLMEndpoint: "http://vllm:8000/v1",
		VLLMModel:    "llama-3",
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got := r.Names(); len(got) != 2 || got[0] != NameOpenAI || got[1] != NameVLLM {
		t.Fatalf("unexpected providers: %v", got)
	}
	if len(r.Bindings()) != 0 {
		t.Fatalf("no bindings expected, got %v", r.Bindings())
	}
	info, ok := r.Info(NameVLLM)
	if !ok || len(info.Models) != 1 || info.Models[0] != "llama-3" {
		t.Fatalf("unexpected vllm info: %+v", info)
	}
}

func TestApplyDeclarationsAndBindings(t *testing.T) {
	r := New(NameOpenAI, BuildOptions{})
	err := r.Apply(Seed{
		OpenAIAPIKey: "sk-test",
		Declarations: []Declaration{
			{Name: "team-a", Type: providers.TypeVLLM, Params: Params{"endpoint": "http://a:8000/v1"}},
		},
		Bindings: map[string]string{"ws-1": "team-a", providers.DefaultWorkspace: NameOpenAI},
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	_, name, err := r.Resolve("ws-1")
	if err != nil || name != "team-a" {
		t.Fatalf("resolve ws-1: name=%q err=%v", name, err)
	}

	err = New(NameOpenAI, BuildOptions{}).Apply(Seed{
		Declarations: []Declaration{{Name: "broken", Type: providers.TypeVLLM}},
	})
	if !providers.IsConfigurationError(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
