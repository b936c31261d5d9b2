package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"privchat/internal/crypto"
	"privchat/internal/providers"
	"privchat/internal/providers/registry"
	"privchat/internal/storage"
)

const (
	actionRegisterProvider   = "provider.register"
	actionUnregisterProvider = "provider.unregister"
	actionBindProvider       = "provider.bind"
	actionUnbindProvider     = "provider.unbind"
)

type providerRequest struct {
	Name   string          `json:"name"`
	Type   string          `json:"type"`
	Params registry.Params `json:"params"`
}

type bindingRequest struct {
	Provider string `json:"provider"`
}

type providersResponse struct {
	DefaultProvider string            `json:"default_provider"`
	Providers       []registry.Info   `json:"providers"`
	Bindings        map[string]string `json:"bindings"`
}

func (s *Server) listProviders(c echo.Context) error {
	return c.JSON(http.StatusOK, s.providerSnapshot())
}

func (s *Server) providerSnapshot() providersResponse {
	return providersResponse{
		DefaultProvider: s.cfg.Registry.DefaultName(),
		Providers:       s.cfg.Registry.List(),
		Bindings:        s.cfg.Registry.Bindings(),
	}
}

// registerProvider validates the declaration by building the adapter, then
// persists the sealed parameters and swaps the adapter in.
func (s *Server) registerProvider(c echo.Context) error {
	var req providerRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return providers.Configf("provider name is empty")
	}
	t := providers.Type(strings.ToLower(strings.TrimSpace(req.Type)))
	p, err := s.cfg.Registry.Build(t, req.Params)
	if err != nil {
		return err
	}

	sealed, err := s.cfg.Sealer.SealJSON(req.Params, providerScope(name))
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if err := s.cfg.Store.UpsertProviderInstance(ctx, storage.ProviderInstance{
		Name:          name,
		Type:          string(t),
		EncParamsJSON: sealed,
	}); err != nil {
		return err
	}
	s.cfg.Registry.Put(name, p)
	s.audit(c, actionRegisterProvider, map[string]any{"name": name, "type": t})

	s.cfg.Logger.Info().
		Str("provider", name).
		Str("type", string(t)).
		Str("by", currentUser(c).ID).
		Msg("provider registered")
	info, _ := s.cfg.Registry.Info(name)
	return c.JSON(http.StatusOK, info)
}

func (s *Server) unregisterProvider(c echo.Context) error {
	name := c.Param("name")
	ctx := c.Request().Context()
	removed := s.cfg.Registry.Unregister(name)
	if err := s.cfg.Store.DeleteProviderInstance(ctx, name); err != nil {
		if !removed {
			return notFound(err, "Provider not found")
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return err
		}
	}
	for ws, bound := range s.cfg.Registry.Bindings() {
		if bound == name {
			s.cfg.Registry.Unbind(ws)
		}
	}
	s.audit(c, actionUnregisterProvider, map[string]any{"name": name})
	return done(c, "Provider unregistered successfully")
}

func (s *Server) bindProvider(c echo.Context) error {
	key, err := bindingKey(c)
	if err != nil {
		return err
	}
	var req bindingRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx := c.Request().Context()
	if key != providers.DefaultWorkspace {
		if _, err := s.cfg.Store.GetWorkspace(ctx, key); err != nil {
			return notFound(err, "Workspace not found")
		}
	}
	prev, hadPrev := s.cfg.Registry.Bindings()[key]
	if err := s.cfg.Registry.Bind(key, req.Provider); err != nil {
		return err
	}
	if err := s.cfg.Store.UpsertBinding(ctx, key, req.Provider); err != nil {
		s.restoreBinding(key, prev, hadPrev)
		return err
	}
	s.audit(c, actionBindProvider, map[string]any{"workspace": key, "provider": req.Provider})
	return c.JSON(http.StatusOK, s.providerSnapshot())
}

func (s *Server) unbindProvider(c echo.Context) error {
	key, err := bindingKey(c)
	if err != nil {
		return err
	}
	_, inMemory := s.cfg.Registry.Bindings()[key]
	if err := s.cfg.Store.DeleteBinding(c.Request().Context(), key); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		if !inMemory {
			return detail(http.StatusNotFound, "Binding not found")
		}
	}
	s.cfg.Registry.Unbind(key)
	s.audit(c, actionUnbindProvider, map[string]any{"workspace": key})
	return c.JSON(http.StatusOK, s.providerSnapshot())
}

// restoreBinding puts back the in-memory binding a failed write replaced.
func (s *Server) restoreBinding(key, prev string, hadPrev bool) {
	if !hadPrev {
		s.cfg.Registry.Unbind(key)
		return
	}
	if err := s.cfg.Registry.Bind(key, prev); err != nil {
		s.cfg.Registry.Unbind(key)
	}
}

func (s *Server) audit(c echo.Context, action string, meta map[string]any) {
	raw, err := json.Marshal(meta)
	if err != nil {
		raw = []byte("{}")
	}
	u := currentUser(c)
	if err := s.cfg.Store.LogAction(c.Request().Context(), storage.AuditEntry{
		UserID:   u.ID,
		Action:   action,
		MetaJSON: string(raw),
	}); err != nil {
		s.cfg.Logger.Error().Err(err).Str("action", action).Msg("write audit entry")
	}
}

// bindingKey accepts a workspace UUID or the "default" sentinel.
func bindingKey(c echo.Context) (string, error) {
	raw := c.Param("workspace")
	if raw == providers.DefaultWorkspace {
		return raw, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", detail(http.StatusBadRequest, "Invalid workspace ID")
	}
	return id.String(), nil
}

func providerScope(name string) string {
	return "provider:" + name
}

// ReplayProviders loads persisted registrations and bindings into reg.
// Entries that no longer open or build are logged and skipped; parameters
// sealed under a retired key are resealed with the current one.
func ReplayProviders(ctx context.Context, store *storage.Store, sealer *crypto.Sealer, reg *registry.Registry, logger zerolog.Logger) error {
	insts, err := store.ListProviderInstances(ctx)
	if err != nil {
		return fmt.Errorf("load provider instances: %w", err)
	}
	for _, inst := range insts {
		var params registry.Params
		if err := sealer.OpenJSON(inst.EncParamsJSON, providerScope(inst.Name), &params); err != nil {
			logger.Error().Err(err).Str("provider", inst.Name).Msg("skip persisted provider: cannot open params")
			continue
		}
		if err := reg.Register(inst.Name, providers.Type(inst.Type), params); err != nil {
			logger.Error().Err(err).Str("provider", inst.Name).Msg("skip persisted provider: invalid params")
			continue
		}
		if sealer.NeedsRotation(inst.EncParamsJSON) {
			resealed, err := sealer.Reseal(inst.EncParamsJSON, providerScope(inst.Name))
			if err == nil {
				inst.EncParamsJSON = resealed
				err = store.UpsertProviderInstance(ctx, inst)
			}
			if err != nil {
				logger.Warn().Err(err).Str("provider", inst.Name).Msg("reseal provider params")
			}
		}
	}

	bindings, err := store.ListBindings(ctx)
	if err != nil {
		return fmt.Errorf("load provider bindings: %w", err)
	}
	for _, b := range bindings {
		if err := reg.Bind(b.WorkspaceKey, b.ProviderName); err != nil {
			logger.Warn().Err(err).Str("workspace", b.WorkspaceKey).Str("provider", b.ProviderName).Msg("skip persisted binding")
		}
	}
	logger.Info().Int("providers", len(insts)).Int("bindings", len(bindings)).Msg("persisted providers replayed")
	return nil
}
