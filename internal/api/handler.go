// Package api provides the console gateway's HTTP surface.
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/shepherdsec/console/internal/backend"
	"github.com/shepherdsec/console/internal/run"
	"github.com/shepherdsec/console/internal/store"
)

// Handler handles HTTP requests.
type Handler struct {
	controller *run.Controller
	db         *store.SQLiteStore
	backend    *backend.Client
}

// NewHandler creates a new handler.
func NewHandler(controller *run.Controller, db *store.SQLiteStore, client *backend.Client) *Handler {
	return &Handler{
		controller: controller,
		db:         db,
		backend:    client,
	}
}

// NewServer creates and configures the gateway HTTP server.
func NewServer(h *Handler) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	h.RegisterRoutes(e)
	return e
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	// Run lifecycle
	e.POST("/v1/runs", h.StartRun)
	e.GET("/v1/runs/:run_id/status", h.GetRunStatus)
	e.GET("/v1/runs/:run_id/transcript", h.GetTranscript)
	e.GET("/v1/runs/:run_id/graph", h.GetGraph)
	e.DELETE("/v1/runs/:run_id/cancel", h.CancelRun)
	e.POST("/v1/runs/:run_id/input", h.SubmitInput)

	// Capacity waitlist
	e.POST("/v1/waitlist", h.JoinWaitlist)

	// Saved sessions
	e.GET("/v1/sessions", h.ListSessions)
	e.POST("/v1/sessions", h.SaveSession)
	e.GET("/v1/sessions/:run_id", h.GetSession)
	e.PATCH("/v1/sessions/:run_id", h.RenameSession)

	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
	})
}
