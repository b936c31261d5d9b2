// Package registry owns the set of live provider adapters and the
// workspace-to-provider bindings used to pick one per request.
package registry

import (
	"context"
	"sort"
	"sync"

	"privchat/internal/providers"
)

type Info struct {
	Name   string         `json:"name"`
	Type   providers.Type `json:"type"`
	Models []string       `json:"models"`
}

type Registry struct {
	defaultName string
	opts        BuildOptions

	mu        sync.RWMutex
	providers map[string]providers.Provider
	bindings  map[string]string
}

// New creates an empty registry. defaultName is the last resort when no binding resolves.
func New(defaultName string, opts BuildOptions) *Registry {
	return &Registry{
		defaultName: defaultName,
		opts:        opts,
		providers:   map[string]providers.Provider{},
		bindings:    map[string]string{},
	}
}

func (r *Registry) DefaultName() string {
	return r.defaultName
}

// Register builds an adapter and stores it under name, replacing any previous one.
func (r *Registry) Register(name string, t providers.Type, params Params) error {
	if name == "" {
		return providers.Configf("provider name is empty")
	}
	p, err := Build(t, params, r.opts)
	if err != nil {
		return err
	}
	r.Put(name, p)
	return nil
}

// Build constructs an adapter with the registry's options without registering it.
func (r *Registry) Build(t providers.Type, params Params) (providers.Provider, error) {
	return Build(t, params, r.opts)
}

// Put stores an already constructed adapter.
func (r *Registry) Put(name string, p providers.Provider) {
	r.mu.Lock()
	r.providers[name] = p
	r.mu.Unlock()
}

// Unregister drops the adapter. Bindings naming it are kept and fall through on resolve.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[name]; !ok {
		return false
	}
	delete(r.providers, name)
	return true
}

func (r *Registry) Bind(workspaceID, name string) error {
	if workspaceID == "" {
		return providers.Configf("workspace id is empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[name]; !ok {
		return providers.Configf("provider %q is not registered", name)
	}
	r.bindings[workspaceID] = name
	return nil
}

func (r *Registry) Unbind(workspaceID string) {
	r.mu.Lock()
	delete(r.bindings, workspaceID)
	r.mu.Unlock()
}

// Resolve picks the adapter for a workspace: its own binding, then the
// "default" binding, then the process-wide default name.
func (r *Registry) Resolve(workspaceID string) (providers.Provider, string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if name, ok := r.bindings[workspaceID]; ok {
		if p, ok := r.providers[name]; ok {
			return p, name, nil
		}
	}
	if name, ok := r.bindings[providers.DefaultWorkspace]; ok {
		if p, ok := r.providers[name]; ok {
			return p, name, nil
		}
	}
	return r.defaultLocked()
}

func (r *Registry) defaultLocked() (providers.Provider, string, error) {
	if p, ok := r.providers[r.defaultName]; ok {
		return p, r.defaultName, nil
	}
	return nil, "", providers.Configf("no provider available: default provider %q is not registered", r.defaultName)
}

// Generate resolves one adapter and delegates to it. An empty workspaceID uses the process-wide default.
func (r *Registry) Generate(ctx context.Context, req providers.Request, workspaceID string) (providers.Response, string, error) {
	var (
		p    providers.Provider
		name string
		err  error
	)
	if workspaceID == "" {
		r.mu.RLock()
		p, name, err = r.defaultLocked()
		r.mu.RUnlock()
	} else {
		p, name, err = r.Resolve(workspaceID)
	}
	if err != nil {
		return providers.Response{}, "", err
	}
	resp, err := p.Generate(ctx, req)
	return resp, name, err
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.providers))
	for name := range r.providers {
		out = append(out, name)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

func (r *Registry) Info(name string) (Info, bool) {
	r.mu.RLock()
	p, ok := r.providers[name]
	r.mu.RUnlock()
	if !ok {
		return Info{}, false
	}
	return Info{Name: name, Type: p.Type(), Models: p.Models()}, true
}

func (r *Registry) List() []Info {
	names := r.Names()
	out := make([]Info, 0, len(names))
	for _, name := range names {
		if info, ok := r.Info(name); ok {
			out = append(out, info)
		}
	}
	return out
}

func (r *Registry) Bindings() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.bindings))
	for k, v := range r.bindings {
		out[k] = v
	}
	return out
}
