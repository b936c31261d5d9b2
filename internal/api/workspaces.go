package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"privchat/internal/storage"
)

type workspaceRequest struct {
	Name string `json:"name"`
}

type inviteRequest struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

type inviteResponse struct {
	Message         string `json:"message"`
	WorkspaceUserID string `json:"workspace_user_id"`
}

// workspaceAccess loads the workspace from the path and checks the caller holds at least role.
func (s *Server) workspaceAccess(c echo.Context, param, role, denied string) (storage.Workspace, storage.WorkspaceUser, error) {
	id, err := pathID(c, param, "Invalid workspace ID")
	if err != nil {
		return storage.Workspace{}, storage.WorkspaceUser{}, err
	}
	return s.workspaceByID(c, id, role, denied)
}

func (s *Server) workspaceByID(c echo.Context, id, role, denied string) (storage.Workspace, storage.WorkspaceUser, error) {
	ctx := c.Request().Context()
	ws, err := s.cfg.Store.GetWorkspace(ctx, id)
	if err != nil {
		return storage.Workspace{}, storage.WorkspaceUser{}, notFound(err, "Workspace not found")
	}
	m, err := s.cfg.Store.GetMembership(ctx, ws.ID, currentUser(c).ID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.Workspace{}, storage.WorkspaceUser{}, detail(http.StatusForbidden, denied)
		}
		return storage.Workspace{}, storage.WorkspaceUser{}, err
	}
	if !m.HasAccess(role) {
		return storage.Workspace{}, storage.WorkspaceUser{}, detail(http.StatusForbidden, denied)
	}
	return ws, m, nil
}

func (s *Server) listWorkspaces(c echo.Context) error {
	list, err := s.cfg.Store.ListWorkspacesForUser(c.Request().Context(), currentUser(c).ID)
	if err != nil {
		return err
	}
	out := make([]workspaceResponse, 0, len(list))
	for _, ws := range list {
		out = append(out, toWorkspace(ws))
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) createWorkspace(c echo.Context) error {
	var req workspaceRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return detail(http.StatusUnprocessableEntity, "Workspace name is required")
	}
	ws, err := s.cfg.Store.CreateWorkspace(c.Request().Context(), name, currentUser(c).ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toWorkspace(ws))
}

func (s *Server) getWorkspace(c echo.Context) error {
	ws, _, err := s.workspaceAccess(c, "workspace_id", storage.WorkspaceRoleGuest, "Not enough permissions")
	if err != nil {
		return err
	}
	members, err := s.cfg.Store.ListMembers(c.Request().Context(), ws.ID)
	if err != nil {
		return err
	}
	out := workspaceWithUsers{workspaceResponse: toWorkspace(ws), Users: make([]memberResponse, 0, len(members))}
	for _, m := range members {
		out.Users = append(out.Users, toMember(m))
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) updateWorkspace(c echo.Context) error {
	ws, _, err := s.workspaceAccess(c, "workspace_id", storage.WorkspaceRoleOwner, "Only workspace owners can update workspace")
	if err != nil {
		return err
	}
	var req workspaceRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return detail(http.StatusUnprocessableEntity, "Workspace name is required")
	}
	updated, err := s.cfg.Store.RenameWorkspace(c.Request().Context(), ws.ID, name)
	if err != nil {
		return notFound(err, "Workspace not found")
	}
	return c.JSON(http.StatusOK, toWorkspace(updated))
}

func (s *Server) deleteWorkspace(c echo.Context) error {
	ws, _, err := s.workspaceAccess(c, "workspace_id", storage.WorkspaceRoleOwner, "Only workspace owners can delete workspace")
	if err != nil {
		return err
	}
	if err := s.cfg.Store.DeleteWorkspace(c.Request().Context(), ws.ID); err != nil {
		return notFound(err, "Workspace not found")
	}
	return done(c, "Workspace deleted successfully")
}

func (s *Server) inviteMember(c echo.Context) error {
	ws, _, err := s.workspaceAccess(c, "workspace_id", storage.WorkspaceRoleOwner, "Not enough permissions to invite users")
	if err != nil {
		return err
	}
	var req inviteRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx := c.Request().Context()
	invitee, err := s.cfg.Store.GetUserByEmail(ctx, strings.TrimSpace(req.Email))
	if err != nil {
		return notFound(err, "User not found")
	}
	if _, err := s.cfg.Store.GetMembership(ctx, ws.ID, invitee.ID); err == nil {
		return detail(http.StatusBadRequest, "User is already a member of this workspace")
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	role := strings.ToUpper(strings.TrimSpace(req.Role))
	if role == "" {
		role = storage.WorkspaceRoleMember
	}
	if !storage.ValidWorkspaceRole(role) {
		return detail(http.StatusBadRequest, "Invalid role")
	}
	if err := s.cfg.Store.UpsertMember(ctx, ws.ID, invitee.ID, role); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, inviteResponse{
		Message:         fmt.Sprintf("User %s invited to workspace with role %s", invitee.Email, role),
		WorkspaceUserID: ws.ID,
	})
}

func (s *Server) removeMember(c echo.Context) error {
	ws, _, err := s.workspaceAccess(c, "workspace_id", storage.WorkspaceRoleOwner, "Only workspace owners can remove users")
	if err != nil {
		return err
	}
	userID, err := pathID(c, "user_id", "Invalid ID format")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	m, err := s.cfg.Store.GetMembership(ctx, ws.ID, userID)
	if err != nil {
		return notFound(err, "User is not a member of this workspace")
	}
	if m.Role == storage.WorkspaceRoleOwner {
		n, err := s.cfg.Store.CountOwners(ctx, ws.ID)
		if err != nil {
			return err
		}
		if n <= 1 {
			return detail(http.StatusBadRequest, "Cannot remove the last owner from workspace")
		}
	}
	if err := s.cfg.Store.RemoveMember(ctx, ws.ID, userID); err != nil {
		return notFound(err, "User is not a member of this workspace")
	}
	return done(c, "User removed from workspace successfully")
}
