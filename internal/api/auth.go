package api

import (
	"errors"
	"net/http"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"privchat/internal/auth"
	"privchat/internal/storage"
)

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type newUserRequest struct {
	Email     string  `json:"email"`
	Password  string  `json:"password"`
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
}

type loginResponse struct {
	Requires2FA bool            `json:"requires_2fa"`
	Tokens      *auth.TokenPair `json:"tokens,omitempty"`
	User        *userResponse   `json:"user,omitempty"`
	UserID      string          `json:"user_id,omitempty"`
	Message     string          `json:"message,omitempty"`
}

type codeRequest struct {
	UserID string `json:"user_id"`
	Code   string `json:"code"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type twoFASetupResponse struct {
	Secret          string `json:"secret"`
	ProvisioningURI string `json:"provisioning_uri"`
}

// setup creates the first administrator and is closed once any user exists.
func (s *Server) setup(c echo.Context) error {
	ctx := c.Request().Context()
	n, err := s.cfg.Store.CountUsers(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		return detail(http.StatusBadRequest, "Setup already completed")
	}
	var req newUserRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	u, err := s.newUser(c, req, storage.UserRoleAdmin)
	if err != nil {
		return err
	}
	s.cfg.Logger.Info().Str("user_id", u.ID).Msg("initial administrator created")
	return c.JSON(http.StatusOK, toUser(u))
}

func (s *Server) newUser(c echo.Context, req newUserRequest, role string) (storage.User, error) {
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return storage.User{}, err
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return storage.User{}, err
	}
	ctx := c.Request().Context()
	if _, err := s.cfg.Store.GetUserByEmail(ctx, email); err == nil {
		return storage.User{}, detail(http.StatusBadRequest, "User with this email already exists")
	} else if !errors.Is(err, storage.ErrNotFound) {
		return storage.User{}, err
	}
	return s.cfg.Store.CreateUser(ctx, storage.User{
		Email:          email,
		HashedPassword: hash,
		FirstName:      req.FirstName,
		LastName:       req.LastName,
		Role:           role,
		IsActive:       true,
		IsFirstLogin:   true,
	})
}

func (s *Server) login(c echo.Context) error {
	var req credentials
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx := c.Request().Context()
	u, err := s.cfg.Store.GetUserByEmail(ctx, strings.TrimSpace(req.Email))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return detail(http.StatusUnauthorized, "Incorrect email or password")
		}
		return err
	}
	if !auth.CheckPassword(u.HashedPassword, req.Password) {
		return detail(http.StatusUnauthorized, "Incorrect email or password")
	}
	if !u.IsActive {
		return detail(http.StatusBadRequest, "Inactive user")
	}
	if err := s.cfg.Store.TouchLastLogin(ctx, u.ID); err != nil {
		return err
	}

	if u.TwoFAEnabled {
		return c.JSON(http.StatusOK, loginResponse{
			Requires2FA: true,
			UserID:      u.ID,
			Message:     "2FA verification required",
		})
	}
	return s.issue(c, u.ID)
}

func (s *Server) loginTwoFA(c echo.Context) error {
	var req codeRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if req.UserID == "" {
		req.UserID = c.QueryParam("user_id")
	}
	id, err := uuid.Parse(req.UserID)
	if err != nil {
		return detail(http.StatusBadRequest, "Invalid user ID")
	}
	u, err := s.cfg.Store.GetUser(c.Request().Context(), id.String())
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	if err != nil || !u.TwoFAEnabled || u.EncTwoFASecret == nil {
		return detail(http.StatusUnauthorized, "Invalid 2FA verification")
	}
	if !u.IsActive {
		return detail(http.StatusBadRequest, "Inactive user")
	}
	if !s.checkCode(u, req.Code) {
		return detail(http.StatusUnauthorized, "Invalid 2FA code")
	}
	return s.issue(c, u.ID)
}

func (s *Server) issue(c echo.Context, userID string) error {
	u, err := s.cfg.Store.GetUser(c.Request().Context(), userID)
	if err != nil {
		return err
	}
	pair, err := s.cfg.Tokens.Issue(u.ID, u.Role)
	if err != nil {
		return err
	}
	ur := toUser(u)
	return c.JSON(http.StatusOK, loginResponse{Tokens: &pair, User: &ur})
}

func (s *Server) refresh(c echo.Context) error {
	var req refreshRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if req.RefreshToken == "" {
		req.RefreshToken = c.QueryParam("refresh_token")
	}
	claims, err := s.cfg.Tokens.Parse(req.RefreshToken, auth.TokenTypeRefresh)
	if err != nil {
		return detail(http.StatusUnauthorized, "Invalid refresh token")
	}
	u, err := s.cfg.Store.GetUser(c.Request().Context(), claims.Subject)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	if err != nil || !u.IsActive {
		return detail(http.StatusUnauthorized, "User not found or inactive")
	}
	pair, err := s.cfg.Tokens.Issue(u.ID, u.Role)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pair)
}

// setupTwoFA stores a fresh sealed secret; 2FA stays off until a code is verified.
func (s *Server) setupTwoFA(c echo.Context) error {
	u := currentUser(c)
	if u.TwoFAEnabled {
		return detail(http.StatusBadRequest, "2FA already enabled")
	}
	key, err := auth.GenerateTOTP(s.cfg.Issuer, u.Email)
	if err != nil {
		return err
	}
	sealed, err := s.cfg.Sealer.Seal(key.Secret, totpScope(u.ID))
	if err != nil {
		return err
	}
	if err := s.cfg.Store.SetTwoFASecret(c.Request().Context(), u.ID, sealed); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, twoFASetupResponse{Secret: key.Secret, ProvisioningURI: key.URL})
}

func (s *Server) verifyTwoFA(c echo.Context) error {
	u := currentUser(c)
	if u.TwoFAEnabled {
		return detail(http.StatusBadRequest, "2FA already enabled")
	}
	if u.EncTwoFASecret == nil {
		return detail(http.StatusBadRequest, "2FA setup not initiated")
	}
	var req codeRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if !s.checkCode(u, req.Code) {
		return detail(http.StatusUnauthorized, "Invalid 2FA code")
	}
	if err := s.cfg.Store.EnableTwoFA(c.Request().Context(), u.ID); err != nil {
		return err
	}
	return done(c, "2FA enabled successfully")
}

func (s *Server) me(c echo.Context) error {
	return c.JSON(http.StatusOK, toUser(currentUser(c)))
}

func (s *Server) checkCode(u storage.User, code string) bool {
	if u.EncTwoFASecret == nil {
		return false
	}
	secret, err := s.cfg.Sealer.Open(*u.EncTwoFASecret, totpScope(u.ID))
	if err != nil {
		s.cfg.Logger.Error().Err(err).Str("user_id", u.ID).Msg("open totp secret")
		return false
	}
	return auth.ValidateTOTP(strings.TrimSpace(code), secret, s.cfg.Now())
}

func totpScope(userID string) string {
	return "totp:" + userID
}

func normalizeEmail(raw string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil || addr.Name != "" {
		return "", detail(http.StatusUnprocessableEntity, "Invalid email address")
	}
	return addr.Address, nil
}
