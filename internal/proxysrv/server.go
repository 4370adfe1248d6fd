// Package proxysrv exposes the object store over `/api/file` so devices can
// sync without carrying the GitHub token. Read/write/conflict semantics are
// identical to the direct client; auth is one shared API key header.
package proxysrv

import (
	"encoding/base64"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/umutcrkn/petshop/internal/errs"
	"github.com/umutcrkn/petshop/internal/remote"
)

// Handler serves the file API backed by an upstream object store.
type Handler struct {
	store  remote.Store
	apiKey string
	log    *zap.Logger
}

// NewHandler constructs a Handler. An empty apiKey disables auth.
func NewHandler(store remote.Store, apiKey string, log *zap.Logger) *Handler {
	return &Handler{store: store, apiKey: apiKey, log: log}
}

// NewEcho builds the echo instance with middleware and routes registered.
func NewEcho(h *Handler) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(h.requestLogger)
	e.Use(h.checkAPIKey)
	e.GET("/api/file", h.getFile)
	e.PUT("/api/file", h.putFile)
	return e
}

type putRequest struct {
	Path    string `json:"path"`
	Content string `json:"content"` // base64
	Message string `json:"message"`
}

func (h *Handler) getFile(c echo.Context) error {
	path := c.QueryParam("path")
	if !remote.ValidPath(path) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid path"})
	}
	data, err := h.store.Read(c.Request().Context(), path)
	if err != nil {
		return h.upstreamError(c, path, err)
	}
	if data == nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not found"})
	}
	return c.Blob(http.StatusOK, echo.MIMEApplicationJSON, data)
}

func (h *Handler) putFile(c echo.Context) error {
	var req putRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "malformed request"})
	}
	if !remote.ValidPath(req.Path) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid path"})
	}
	data, err := base64.StdEncoding.DecodeString(req.Content)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "content must be base64"})
	}
	message := req.Message
	if message == "" {
		message = "Update " + req.Path
	}
	if err := h.store.Write(c.Request().Context(), req.Path, data, message); err != nil {
		return h.upstreamError(c, req.Path, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
}

func (h *Handler) upstreamError(c echo.Context, path string, err error) error {
	switch {
	case errors.Is(err, errs.ErrConflict):
		return c.JSON(http.StatusConflict, echo.Map{"error": "version conflict"})
	case errors.Is(err, errs.ErrNoConnection):
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "upstream not configured"})
	default:
		h.log.Error("upstream request failed", zap.String("path", path), zap.Error(err))
		return c.JSON(http.StatusBadGateway, echo.Map{"error": "upstream failure"})
	}
}

func (h *Handler) checkAPIKey(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if h.apiKey != "" && c.Request().Header.Get("X-Api-Key") != h.apiKey {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
		}
		return next(c)
	}
}

func (h *Handler) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		err := next(c)
		h.log.Info("request",
			zap.String("method", c.Request().Method),
			zap.String("uri", c.Request().RequestURI),
			zap.Int("status", c.Response().Status),
		)
		return err
	}
}
