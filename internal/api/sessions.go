package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/shepherdsec/console/internal/store"
)

// ListSessions lists saved sessions, newest first.
// GET /v1/sessions
func (h *Handler) ListSessions(c echo.Context) error {
	sessions, err := h.db.ListSessions(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if sessions == nil {
		sessions = []store.SavedSession{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"sessions": sessions})
}

// SaveSessionRequest names the current run's transcript for storage.
type SaveSessionRequest struct {
	Name string `json:"name"`
}

// SaveSession stores the current run's transcript under its run id.
// POST /v1/sessions
func (h *Handler) SaveSession(c echo.Context) error {
	ctx := c.Request().Context()

	var req SaveSessionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	runID := h.controller.RunID()
	if runID == "" {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "no active run"})
	}
	messages, err := h.controller.MessagesJSON()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	saved := &store.SavedSession{RunID: runID, Name: req.Name, Messages: messages}
	if err := h.db.SaveSession(ctx, saved); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusCreated, map[string]string{"run_id": runID})
}

// GetSession returns one saved session including its transcript.
// GET /v1/sessions/:run_id
func (h *Handler) GetSession(c echo.Context) error {
	saved, err := h.db.GetSession(c.Request().Context(), c.Param("run_id"))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if saved == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "session not found"})
	}
	return c.JSON(http.StatusOK, saved)
}

// RenameSessionRequest carries the new display name.
type RenameSessionRequest struct {
	Name string `json:"name"`
}

// RenameSession updates a saved session's display name.
// PATCH /v1/sessions/:run_id
func (h *Handler) RenameSession(c echo.Context) error {
	var req RenameSessionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Name == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "name is required"})
	}

	renamed, err := h.db.RenameSession(c.Request().Context(), c.Param("run_id"), req.Name)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if !renamed {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "session not found"})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "renamed"})
}
