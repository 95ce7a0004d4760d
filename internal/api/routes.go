package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/kanal/server/domain/entities"
	"github.com/satriahrh/kanal/server/internal/auth"
	"github.com/satriahrh/kanal/server/internal/metrics"
	"github.com/satriahrh/kanal/server/internal/session"
	"github.com/satriahrh/kanal/server/internal/websocket"
)

// Deps are the components the HTTP surface is built on. A nil Issuer disables
// token checks; a nil Metrics leaves /metrics unrouted.
type Deps struct {
	Hub      *websocket.Hub
	Registry *session.Registry
	Issuer   *auth.Issuer
	Metrics  *metrics.Collector
	Version  string
	Logger   *zap.Logger
}

type handlers struct {
	Deps
	started time.Time
}

// InitRoutes initializes all API routes
func InitRoutes(e *echo.Echo, deps Deps) {
	h := &handlers{Deps: deps, started: time.Now()}

	e.GET("/health", h.health)
	if deps.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(deps.Metrics.Handler()))
	}

	v1 := e.Group("/api/v1")
	v1.POST("/sessions", h.ensureSession)

	owned := v1.Group("/sessions/:id", h.requireSessionToken)
	owned.GET("", h.getSession)
	owned.GET("/preferences", h.getPreferences)
	owned.PUT("/preferences", h.putPreferences)
	owned.DELETE("", h.deleteSession)

	e.GET("/ws", deps.Hub.HandleWebSocket)
}

func (h *handlers) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":   "ok",
		"service":  "kanal-server",
		"version":  h.Version,
		"sessions": h.Registry.Len(),
		"uptime":   time.Since(h.started).Round(time.Second).String(),
	})
}

// requireSessionToken checks that the caller holds a token for the :id session.
func (h *handlers) requireSessionToken(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if h.Issuer == nil {
			return next(c)
		}
		token := auth.BearerToken(c.Request().Header.Get("Authorization"))
		if err := h.Issuer.Authorize(c.Param("id"), token); err != nil {
			h.Logger.Warn("Request rejected",
				zap.String("sessionID", c.Param("id")),
				zap.String("path", c.Path()),
				zap.Error(err))
			return c.JSON(http.StatusUnauthorized, ErrorResponse{
				Error:   "invalid_token",
				Message: err.Error(),
			})
		}
		return next(c)
	}
}

// ensureSession creates a session or resumes the one named in the body. Resuming
// needs a token for that session when tokens are enabled.
func (h *handlers) ensureSession(c echo.Context) error {
	var req EnsureSessionRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "invalid_request",
				Message: "Invalid request format",
			})
		}
	}

	if req.SessionID != "" && h.Issuer != nil {
		token := auth.BearerToken(c.Request().Header.Get("Authorization"))
		if err := h.Issuer.Authorize(req.SessionID, token); err != nil {
			// Without a valid token the caller gets a fresh session instead.
			req.SessionID = ""
		}
	}

	sess, err := h.Registry.Ensure(c.Request().Context(), req.SessionID)
	if err != nil {
		h.Logger.Error("Failed to ensure session", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "session_unavailable",
			Message: "Failed to create session",
		})
	}

	resp := EnsureSessionResponse{
		SessionID:   sess.ID(),
		Preferences: sess.Preferences(),
	}
	if h.Issuer != nil {
		token, expiresAt, err := h.Issuer.GenerateSessionToken(sess.ID())
		if err != nil {
			h.Logger.Error("Failed to generate session token",
				zap.String("sessionID", sess.ID()),
				zap.Error(err))
			return c.JSON(http.StatusInternalServerError, ErrorResponse{
				Error:   "token_generation_failed",
				Message: "Failed to generate session token",
			})
		}
		resp.Token = token
		resp.ExpiresAt = &expiresAt
	}

	return c.JSON(http.StatusOK, resp)
}

func (h *handlers) lookup(c echo.Context) (*session.Session, error) {
	sess, ok := h.Registry.Get(c.Param("id"))
	if !ok {
		return nil, c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "session_not_found",
			Message: "No such session",
		})
	}
	return sess, nil
}

func (h *handlers) getSession(c echo.Context) error {
	sess, err := h.lookup(c)
	if sess == nil {
		return err
	}
	return c.JSON(http.StatusOK, SessionInfoResponse{
		Info:       sess.Info(entities.ChannelControl),
		CreatedAt:  sess.CreatedAt(),
		LastActive: sess.LastActive(),
	})
}

func (h *handlers) getPreferences(c echo.Context) error {
	sess, err := h.lookup(c)
	if sess == nil {
		return err
	}
	return c.JSON(http.StatusOK, sess.Preferences())
}

func (h *handlers) putPreferences(c echo.Context) error {
	var prefs entities.Preferences
	if err := c.Bind(&prefs); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid preferences",
		})
	}

	sess, err := h.Registry.UpdatePreferences(c.Request().Context(), c.Param("id"), prefs)
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		return c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "session_not_found",
			Message: "No such session",
		})
	case err != nil:
		// Applied in memory; only persisting failed.
		h.Logger.Warn("Failed to persist preferences",
			zap.String("sessionID", c.Param("id")),
			zap.Error(err))
	}
	return c.JSON(http.StatusOK, sess.Preferences())
}

func (h *handlers) deleteSession(c echo.Context) error {
	err := h.Registry.Close(c.Request().Context(), c.Param("id"))
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		return c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "session_not_found",
			Message: "No such session",
		})
	case err != nil:
		h.Logger.Warn("Session closed but not persisted",
			zap.String("sessionID", c.Param("id")),
			zap.Error(err))
	}
	return c.NoContent(http.StatusNoContent)
}
