package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
	statusDisabled  = "disabled"
)

// Pinger is a dependency that can report its own reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
}

type check struct {
	Status  string `json:"status"`
	Details string `json:"details"`
}

type detailedHealth struct {
	Status    string           `json:"status"`
	Timestamp time.Time        `json:"timestamp"`
	Checks    map[string]check `json:"checks"`
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{Status: statusHealthy, Timestamp: s.cfg.Now().UTC(), Service: ServiceName})
}

func (s *Server) detailedHealth(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	checks := map[string]check{}
	if err := s.cfg.Store.Ping(ctx); err != nil {
		checks["database"] = check{Status: statusUnhealthy, Details: "Database connection failed"}
	} else {
		checks["database"] = check{Status: statusHealthy, Details: "Database connection is working"}
	}

	switch {
	case s.cfg.Objects == nil:
		checks["storage"] = check{Status: statusDisabled, Details: "Object storage is not configured"}
	case s.cfg.Objects.Ping(ctx) != nil:
		checks["storage"] = check{Status: statusUnhealthy, Details: "Object storage is not accessible"}
	default:
		checks["storage"] = check{Status: statusHealthy, Details: "Object storage is accessible"}
	}

	if n := len(s.cfg.Registry.Names()); n > 0 {
		checks["inference"] = check{Status: statusHealthy, Details: fmt.Sprintf("%d providers available", n)}
	} else {
		checks["inference"] = check{Status: statusUnhealthy, Details: "No inference providers available"}
	}

	status := statusHealthy
	for _, ch := range checks {
		if ch.Status == statusUnhealthy {
			status = statusUnhealthy
		}
	}
	code := http.StatusOK
	if status != statusHealthy {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, detailedHealth{Status: status, Timestamp: s.cfg.Now().UTC(), Checks: checks})
}

func (s *Server) inferenceHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, s.providerSnapshot())
}
