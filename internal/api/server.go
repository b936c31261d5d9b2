// Package api exposes the chat backend over HTTP JSON.
package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"privchat/internal/auth"
	"privchat/internal/chat"
	"privchat/internal/crypto"
	"privchat/internal/metrics"
	"privchat/internal/providers"
	"privchat/internal/providers/registry"
	"privchat/internal/ratelimit"
	"privchat/internal/storage"
)

const ServiceName = "Private Chat Interface API"

type Config struct {
	Store    *storage.Store
	Registry *registry.Registry
	Chat     *chat.Service
	Tokens   *auth.Tokens
	Sealer   *crypto.Sealer
	// Limiter may be nil, which disables the per-user send quota.
	Limiter ratelimit.Limiter
	// Objects is checked by the detailed health endpoint when set.
	Objects Pinger
	Logger  zerolog.Logger
	Metrics *metrics.Metrics

	// Issuer labels TOTP enrolments in authenticator apps.
	Issuer        string
	CORSOrigins   []string
	MaxUploadSize int64
	HealthPath    string
	Now           func() time.Time
}

type Server struct {
	cfg  Config
	echo *echo.Echo
}

func New(cfg Config) *Server {
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Global()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "privchat"
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler(cfg.Logger)

	s := &Server{cfg: cfg, echo: e}

	e.Use(middleware.RequestID())
	e.Use(middleware.Recover())
	e.Use(requestLogger(cfg.Logger))
	if len(cfg.CORSOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins:     cfg.CORSOrigins,
			AllowCredentials: true,
			AllowHeaders:     []string{echo.HeaderAuthorization, echo.HeaderContentType},
		}))
	}
	if cfg.MaxUploadSize > 0 {
		// room for several attachments plus form overhead
		e.Use(middleware.BodyLimit(fmt.Sprintf("%dK", cfg.MaxUploadSize*5/1024+1)))
	}

	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) routes() {
	e := s.echo
	e.GET("/api/health", s.health)
	if s.cfg.HealthPath != "" && s.cfg.HealthPath != "/api/health" {
		e.GET(s.cfg.HealthPath, s.health)
	}

	authed := e.Group("/api", s.requireUser)
	e.GET("/api/health/detailed", s.detailedHealth)
	e.GET("/api/health/inference", s.inferenceHealth, s.requireUser)

	a := e.Group("/api/auth")
	a.POST("/setup", s.setup)
	a.POST("/login", s.login)
	a.POST("/login/2fa", s.loginTwoFA)
	a.POST("/refresh", s.refresh)
	authed.POST("/auth/2fa/setup", s.setupTwoFA)
	authed.POST("/auth/2fa/verify", s.verifyTwoFA)
	authed.GET("/auth/me", s.me)

	users := authed.Group("/users")
	users.GET("", s.listUsers, requireAdmin)
	users.POST("", s.createUser, requireAdmin)
	users.GET("/stats/summary", s.userStats, requireAdmin)
	users.GET("/:user_id", s.getUser)
	users.PUT("/:user_id", s.updateUser)
	users.DELETE("/:user_id", s.deleteUser, requireAdmin)

	ws := authed.Group("/workspaces")
	ws.GET("", s.listWorkspaces)
	ws.POST("", s.createWorkspace)
	ws.GET("/:workspace_id", s.getWorkspace)
	ws.PUT("/:workspace_id", s.updateWorkspace)
	ws.DELETE("/:workspace_id", s.deleteWorkspace)
	ws.POST("/:workspace_id/invite", s.inviteMember)
	ws.DELETE("/:workspace_id/users/:user_id", s.removeMember)

	chats := authed.Group("/chats")
	chats.POST("/standalone", s.createStandaloneChat)
	chats.GET("/standalone", s.listStandaloneChats)
	chats.GET("/standalone/:chat_id", s.getStandaloneChat)
	chats.GET("/standalone/:chat_id/messages", s.standaloneMessages)
	chats.POST("/standalone/:chat_id/message", s.sendStandaloneMessage, s.rateLimited)
	chats.POST("/standalone/:chat_id/attach/:workspace_id", s.attachChat)
	chats.DELETE("/standalone/:chat_id", s.deleteStandaloneChat)
	chats.GET("/:workspace_id/chats/history", s.chatHistory)
	chats.POST("/:workspace_id/chat", s.createChat)
	chats.GET("/:workspace_id/chat/:chat_id", s.getChat)
	chats.GET("/:workspace_id/chat/:chat_id/messages", s.chatMessages)
	chats.POST("/:workspace_id/chat/:chat_id/message", s.sendMessage, s.rateLimited)
	chats.DELETE("/:workspace_id/chat/:chat_id", s.deleteChat)

	admin := authed.Group("/admin", requireAdmin)
	admin.GET("/providers", s.listProviders)
	admin.POST("/providers", s.registerProvider)
	admin.DELETE("/providers/:name", s.unregisterProvider)
	admin.PUT("/bindings/:workspace", s.bindProvider)
	admin.DELETE("/bindings/:workspace", s.unbindProvider)
}

type errorBody struct {
	Detail string `json:"detail"`
}

func detail(code int, msg string) *echo.HTTPError {
	return echo.NewHTTPError(code, msg)
}

func errorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		code, msg := classify(err)
		if code >= http.StatusInternalServerError {
			logger.Error().
				Err(err).
				Str("method", c.Request().Method).
				Str("path", c.Path()).
				Msg("request failed")
		}
		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(code)
			return
		}
		if code == http.StatusUnauthorized {
			c.Response().Header().Set("WWW-Authenticate", "Bearer")
		}
		_ = c.JSON(code, errorBody{Detail: msg})
	}
}

func classify(err error) (int, string) {
	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		if he.Internal != nil && he.Code >= http.StatusInternalServerError {
			return he.Code, http.StatusText(he.Code)
		}
		return he.Code, fmt.Sprint(he.Message)
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, "Not found"
	case providers.IsConfigurationError(err):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, chat.ErrEmptyMessage),
		errors.Is(err, chat.ErrAttachmentType),
		errors.Is(err, chat.ErrAttachmentTooLarge),
		errors.Is(err, chat.ErrUploadsUnavailable),
		errors.Is(err, auth.ErrWeakPassword):
		return http.StatusBadRequest, err.Error()
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}
