package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"privchat/internal/storage"
)

type userUpdateRequest struct {
	FirstName   *string `json:"first_name"`
	LastName    *string `json:"last_name"`
	IsActive    *bool   `json:"is_active"`
	TOSAccepted *bool   `json:"tos_accepted"`
}

type userStatsResponse struct {
	TotalUsers        int64 `json:"total_users"`
	ActiveUsers       int64 `json:"active_users"`
	AdminUsers        int64 `json:"admin_users"`
	TwoFAEnabledUsers int64 `json:"twofa_enabled_users"`
}

func (s *Server) listUsers(c echo.Context) error {
	skip, err := queryUint(c, "skip", 0)
	if err != nil {
		return err
	}
	limit, err := queryUint(c, "limit", 100)
	if err != nil {
		return err
	}
	users, err := s.cfg.Store.ListUsers(c.Request().Context(), skip, limit)
	if err != nil {
		return err
	}
	out := make([]userResponse, 0, len(users))
	for _, u := range users {
		out = append(out, toUser(u))
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) createUser(c echo.Context) error {
	var req newUserRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	u, err := s.newUser(c, req, storage.UserRoleUser)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toUser(u))
}

func (s *Server) getUser(c echo.Context) error {
	u, err := s.visibleUser(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toUser(u))
}

func (s *Server) updateUser(c echo.Context) error {
	target, err := s.visibleUser(c)
	if err != nil {
		return err
	}
	var req userUpdateRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	// only administrators can (de)activate accounts
	if req.IsActive != nil && !currentUser(c).IsAdmin() {
		return detail(http.StatusForbidden, "Not enough permissions")
	}
	u, err := s.cfg.Store.UpdateUser(c.Request().Context(), target.ID, storage.UserUpdate{
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		IsActive:    req.IsActive,
		TOSAccepted: req.TOSAccepted,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toUser(u))
}

func (s *Server) deleteUser(c echo.Context) error {
	id, err := pathID(c, "user_id", "Invalid user ID")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	u, err := s.cfg.Store.GetUser(ctx, id)
	if err != nil {
		return notFound(err, "User not found")
	}
	if u.IsAdmin() {
		n, err := s.cfg.Store.CountAdmins(ctx)
		if err != nil {
			return err
		}
		if n <= 1 {
			return detail(http.StatusBadRequest, "Cannot delete the last admin user")
		}
	}
	if err := s.cfg.Store.DeleteUser(ctx, u.ID); err != nil {
		return notFound(err, "User not found")
	}
	return done(c, "User deleted successfully")
}

func (s *Server) userStats(c echo.Context) error {
	st, err := s.cfg.Store.UserStats(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, userStatsResponse{
		TotalUsers:        st.Total,
		ActiveUsers:       st.Active,
		AdminUsers:        st.Admins,
		TwoFAEnabledUsers: st.TwoFAEnabled,
	})
}

// visibleUser loads the user named in the path if the caller is that user or an administrator.
func (s *Server) visibleUser(c echo.Context) (storage.User, error) {
	id, err := pathID(c, "user_id", "Invalid user ID")
	if err != nil {
		return storage.User{}, err
	}
	u, err := s.cfg.Store.GetUser(c.Request().Context(), id)
	if err != nil {
		return storage.User{}, notFound(err, "User not found")
	}
	me := currentUser(c)
	if !me.IsAdmin() && me.ID != u.ID {
		return storage.User{}, detail(http.StatusForbidden, "Not enough permissions")
	}
	return u, nil
}

func queryUint(c echo.Context, name string, fallback uint64) (uint64, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, detail(http.StatusUnprocessableEntity, "Invalid query parameter "+name)
	}
	return v, nil
}
