package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"privchat/internal/auth"
	"privchat/internal/storage"
)

const userContextKey = "privchat.user"

var errCredentials = detail(http.StatusUnauthorized, "Could not validate credentials")

func requestLogger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			started := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			req := c.Request()
			res := c.Response()
			ev := logger.Info()
			if res.Status >= http.StatusInternalServerError {
				ev = logger.Error()
			}
			ev.Str("method", req.Method).
				Str("path", req.URL.Path).
				Int("status", res.Status).
				Dur("latency", time.Since(started)).
				Str("request_id", res.Header().Get(echo.HeaderXRequestID)).
				Msg("http request")
			return nil
		}
	}
}

// requireUser authenticates the bearer access token and loads the caller.
func (s *Server) requireUser(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		raw, ok := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
		if !ok {
			return errCredentials
		}
		claims, err := s.cfg.Tokens.Parse(raw, auth.TokenTypeAccess)
		if err != nil {
			return errCredentials
		}
		u, err := s.cfg.Store.GetUser(c.Request().Context(), claims.Subject)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return errCredentials
			}
			return err
		}
		if !u.IsActive {
			return detail(http.StatusBadRequest, "Inactive user")
		}
		c.Set(userContextKey, u)
		return next(c)
	}
}

func requireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !currentUser(c).IsAdmin() {
			return detail(http.StatusForbidden, "Not enough permissions")
		}
		return next(c)
	}
}

// rateLimited applies the per-user send quota.
func (s *Server) rateLimited(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.cfg.Limiter == nil {
			return next(c)
		}
		u := currentUser(c)
		d, err := s.cfg.Limiter.Allow(c.Request().Context(), u.ID, s.cfg.Now())
		if err != nil {
			// fail open
			s.cfg.Logger.Warn().Err(err).Str("user_id", u.ID).Msg("rate limiter unavailable")
			return next(c)
		}
		h := c.Response().Header()
		h.Set("X-RateLimit-Limit", strconv.FormatInt(d.Limit, 10))
		h.Set("X-RateLimit-Remaining", strconv.FormatInt(max(d.Limit-d.Used, 0), 10))
		if !d.Allowed {
			s.cfg.Metrics.RateLimited.Inc()
			retry := int64(d.ResetAt.Sub(s.cfg.Now()).Seconds()) + 1
			h.Set("Retry-After", strconv.FormatInt(max(retry, 1), 10))
			return detail(http.StatusTooManyRequests, "Rate limit exceeded")
		}
		return next(c)
	}
}

func currentUser(c echo.Context) storage.User {
	u, _ := c.Get(userContextKey).(storage.User)
	return u
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
