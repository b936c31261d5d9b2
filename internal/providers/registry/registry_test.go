package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"privchat/internal/providers"
	"privchat/internal/providers/openai_api"
	"privchat/internal/providers/openai_compat"
)

type fakeProvider struct {
	name string
	err  error
}

func (f *fakeProvider) Generate(context.Context, providers.Request) (providers.Response, error) {
	if f.err != nil {
		return providers.Response{}, f.err
	}
	return providers.Response{Content: "from " + f.name, Model: f.name}, nil
}

func (f *fakeProvider) Models() []string     { return []string{f.name + "-model"} }
func (f *fakeProvider) Type() providers.Type { return providers.TypeVLLM }

func TestResolveUsesWorkspaceBinding(t *testing.T) {
	r := New("openai", BuildOptions{})
	a, b := &fakeProvider{name: "a"}, &fakeProvider{name: "b"}
	r.Put("a", a)
	r.Put("b", b)

	if err := r.Bind("ws-1", "b"); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if err := r.Bind(providers.DefaultWorkspace, "a"); err != nil {
		t.Fatalf("bind default: %v", err)
	}

	p, name, err := r.Resolve("ws-1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if p != b || name != "b" {
		t.Fatalf("expected provider b, got %q", name)
	}
}

func TestResolveFallbackChain(t *testing.T) {
	r := New("global", BuildOptions{})
	global := &fakeProvider{name: "global"}
	def := &fakeProvider{name: "def"}
	r.Put("global", global)
	r.Put("def", def)

	p, _, err := r.Resolve("unbound")
	if err != nil || p != global {
		t.Fatalf("expected global default without bindings, got %v err=%v", p, err)
	}

	if err := r.Bind(providers.DefaultWorkspace, "def"); err != nil {
		t.Fatalf("bind default: %v", err)
	}
	p, name, err := r.Resolve("unbound")
	if err != nil || p != def || name != "def" {
		t.Fatalf("expected default binding, got %q err=%v", name, err)
	}

	// stale default binding degrades to the process-wide default
	r.Unregister("def")
	p, name, err = r.Resolve("unbound")
	if err != nil || p != global || name != "global" {
		t.Fatalf("expected global after stale binding, got %q err=%v", name, err)
	}

	r.Unregister("global")
	_, _, err = r.Resolve("unbound")
	if !providers.IsConfigurationError(err) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestStaleWorkspaceBindingFallsBackToDefault(t *testing.T) {
	r := New("openai", BuildOptions{})
	r.Put("old", &fakeProvider{name: "old"})
	def := &fakeProvider{name: "def"}
	r.Put("def", def)
	if err := r.Bind("ws", "old"); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if err := r.Bind(providers.DefaultWorkspace, "def"); err != nil {
		t.Fatalf("bind default: %v", err)
	}
	r.Unregister("old")

	p, _, err := r.Resolve("ws")
	if err != nil || p != def {
		t.Fatalf("expected default binding for stale workspace binding, got %v err=%v", p, err)
	}
}

func TestBindUnregisteredLeavesBindingsUnchanged(t *testing.T) {
	r := New("openai", BuildOptions{})
	r.Put("a", &fakeProvider{name: "a"})
	if err := r.Bind("ws", "a"); err != nil {
		t.Fatalf("bind: %v", err)
	}

	err := r.Bind("ws", "missing")
	if !providers.IsConfigurationError(err) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
	if got := r.Bindings()["ws"]; got != "a" {
		t.Fatalf("binding changed to %q", got)
	}
}

func TestGeneratePropagatesProviderError(t *testing.T) {
	r := New("broken", BuildOptions{})
	upstream := &providers.ProviderError{Provider: providers.TypeVLLM, Kind: providers.KindStatus, StatusCode: 500}
	r.Put("broken", &fakeProvider{name: "broken", err: upstream})

	_, name, err := r.Generate(context.Background(), providers.Request{}, "")
	if name != "broken" {
		t.Fatalf("expected resolved name broken, got %q", name)
	}
	var pe *providers.ProviderError
	if !errors.As(err, &pe) || pe != upstream {
		t.Fatalf("expected upstream ProviderError unchanged, got %v", err)
	}
}

func TestGenerateWithoutWorkspaceIgnoresDefaultBinding(t *testing.T) {
	r := New("global", BuildOptions{})
	r.Put("global", &fakeProvider{name: "global"})
	r.Put("def", &fakeProvider{name: "def"})
	if err := r.Bind(providers.DefaultWorkspace, "def"); err != nil {
		t.Fatalf("bind: %v", err)
	}

	resp, _, err := r.Generate(context.Background(), providers.Request{}, "")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if resp.Content != "from global" {
		t.Fatalf("unexpected content %q", resp.Content)
	}
}

func TestRegisterBuildsAndReplaces(t *testing.T) {
	r := New("openai", BuildOptions{})
	if err := r.Register("openai", providers.TypeOpenAI, Params{"api_key": providers.MockAPIKey}); err != nil {
		t.Fatalf("register: %v", err)
	}
	resp, _, err := r.Generate(context.Background(), providers.Request{}, "")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if resp.Content != openai_api.MockContent {
		t.Fatalf("unexpected content %q", resp.Content)
	}

	if err := r.Register("openai", providers.TypeVLLM, Params{"endpoint": "http://localhost:8000"}); err != nil {
		t.Fatalf("re-register: %v", err)
	}
	info, ok := r.Info("openai")
	if !ok || info.Type != providers.TypeVLLM || len(info.Models) != 1 || info.Models[0] != "default-model" {
		t.Fatalf("unexpected info after replace: %+v ok=%v", info, ok)
	}
	if _, ok := r.Info("nope"); ok {
		t.Fatalf("expected unknown provider to report nothing")
	}
}

func TestBuildValidation(t *testing.T) {
	cases := []struct {
		name   string
		typ    providers.Type
		params Params
	}{
		{name: "hosted without key", typ: providers.TypeOpenAI, params: Params{}},
		{name: "self-hosted without endpoint", typ: providers.TypeVLLM, params: Params{"endpoint": "  "}},
		{name: "unknown type", typ: providers.Type("bedrock"), params: Params{"api_key": "x"}},
		{name: "bad timeout", typ: providers.TypeVLLM, params: Params{"endpoint": "http://x", "timeout": "soon"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Build(tc.typ, tc.params, BuildOptions{})
			if !providers.IsConfigurationError(err) {
				t.Fatalf("expected ConfigurationError, got %v", err)
			}
		})
	}

	p, err := Build(providers.TypeVLLM, Params{"endpoint": "http://gpu:8000/"}, BuildOptions{})
	if err != nil {
		t.Fatalf("build vllm: %v", err)
	}
	if c, ok := p.(*openai_compat.Client); !ok || c.Endpoint() != "http://gpu:8000" {
		t.Fatalf("unexpected adapter %#v", p)
	}
}

func TestConcurrentBindAndResolve(t *testing.T) {
	r := New("p0", BuildOptions{})
	for i := 0; i < 4; i++ {
		r.Put(fmt.Sprintf("p%d", i), &fakeProvider{name: fmt.Sprintf("p%d", i)})
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				_ = r.Bind("ws", fmt.Sprintf("p%d", (i+j)%4))
			}
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				if _, _, err := r.Generate(context.Background(), providers.Request{}, "ws"); err != nil {
					t.Errorf("generate: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()
}
