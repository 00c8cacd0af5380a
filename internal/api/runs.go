package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/shepherdsec/console/internal/backend"
	"github.com/shepherdsec/console/internal/graph"
	"github.com/shepherdsec/console/internal/protocol"
	"github.com/shepherdsec/console/internal/run"
	"github.com/shepherdsec/console/internal/session"
)

var errRunNotFound = errors.New("run not found")

// StartRunRequest is the hypothesis submission that starts a run.
type StartRunRequest struct {
	RepoURL     string `json:"repo_url"`
	Hypothesis  string `json:"hypothesis,omitempty"`
	Environment string `json:"environment,omitempty"`
}

// StartRun starts a new run.
// POST /v1/runs
func (h *Handler) StartRun(c echo.Context) error {
	ctx := c.Request().Context()

	var req StartRunRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.RepoURL == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "repo_url is required"})
	}

	runID, err := h.controller.Start(ctx, backend.StartRunForm{
		RepoURL:     req.RepoURL,
		Hypothesis:  req.Hypothesis,
		Environment: req.Environment,
	})
	if err != nil {
		return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
	}

	status := h.controller.State().Status()
	code := http.StatusAccepted
	if status == session.StatusAtCapacity {
		code = http.StatusOK
	}
	return c.JSON(code, map[string]interface{}{
		"run_id": runID,
		"status": status,
	})
}

// GetRunStatus reports the status of the current or a stored run.
// GET /v1/runs/:run_id/status
func (h *Handler) GetRunStatus(c echo.Context) error {
	runID := c.Param("run_id")

	if runID == h.controller.RunID() {
		state := h.controller.State()
		return c.JSON(http.StatusOK, map[string]interface{}{
			"run_id":  runID,
			"status":  state.Status(),
			"waiting": state.Waiting(),
		})
	}

	saved, err := h.db.GetSession(c.Request().Context(), runID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if saved == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "run not found"})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"run_id":  runID,
		"status":  session.StatusEnded,
		"waiting": false,
	})
}

// GetTranscript returns the transcript of the current or a stored run.
// GET /v1/runs/:run_id/transcript
func (h *Handler) GetTranscript(c echo.Context) error {
	runID := c.Param("run_id")

	if runID == h.controller.RunID() {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"run_id":  runID,
			"entries": h.controller.State().Transcript(),
		})
	}

	state, status, err := h.replayStored(c, runID)
	if err != nil {
		return c.JSON(status, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"run_id":  runID,
		"entries": state.Transcript(),
	})
}

// GetGraph returns the tool-event graph of the current or a stored run.
// GET /v1/runs/:run_id/graph
func (h *Handler) GetGraph(c echo.Context) error {
	runID := c.Param("run_id")

	var g *graph.Graph
	if runID == h.controller.RunID() {
		g = h.controller.Graph()
	} else {
		msgs, status, err := h.storedMessages(c, runID)
		if err != nil {
			return c.JSON(status, map[string]string{"error": err.Error()})
		}
		g = graph.Fold(msgs)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"run_id": runID,
		"nodes":  g.Nodes(),
		"edges":  g.Edges,
	})
}

// CancelRun cancels the current run.
// DELETE /v1/runs/:run_id/cancel
func (h *Handler) CancelRun(c echo.Context) error {
	runID := c.Param("run_id")
	if runID != h.controller.RunID() || runID == "" {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "run not active"})
	}
	if err := h.controller.Cancel(c.Request().Context()); err != nil {
		return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "cancelled"})
}

// SubmitInputRequest answers a pending prompt.
type SubmitInputRequest struct {
	Value string `json:"value"`
}

// SubmitInput forwards the user's answer to the run.
// POST /v1/runs/:run_id/input
func (h *Handler) SubmitInput(c echo.Context) error {
	runID := c.Param("run_id")
	if runID != h.controller.RunID() || runID == "" {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "run not active"})
	}

	var req SubmitInputRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if !h.controller.State().Waiting() {
		return c.JSON(http.StatusConflict, map[string]string{"error": "run is not waiting for input"})
	}

	if err := h.controller.SendInput(c.Request().Context(), req.Value); err != nil {
		return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "sent"})
}

// JoinWaitlistRequest carries the email collected when the backend is full.
type JoinWaitlistRequest struct {
	Email string `json:"email"`
}

// JoinWaitlist records a waitlist email locally and forwards it upstream.
// POST /v1/waitlist
func (h *Handler) JoinWaitlist(c echo.Context) error {
	ctx := c.Request().Context()

	var req JoinWaitlistRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Email == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "email is required"})
	}

	if err := h.db.SaveWaitlistEmail(ctx, req.Email); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	// Forward upstream best-effort; the local record is the source of truth.
	if err := h.backend.SaveWaitlistEmail(ctx, req.Email); err != nil {
		c.Logger().Warnf("forward waitlist email: %v", err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "saved"})
}

func (h *Handler) replayStored(c echo.Context, runID string) (*session.State, int, error) {
	saved, err := h.db.GetSession(c.Request().Context(), runID)
	if err != nil {
		return nil, http.StatusInternalServerError, err
	}
	if saved == nil {
		return nil, http.StatusNotFound, errRunNotFound
	}
	state, err := run.Replay(saved.Messages)
	if err != nil {
		return nil, http.StatusInternalServerError, err
	}
	return state, http.StatusOK, nil
}

func (h *Handler) storedMessages(c echo.Context, runID string) ([]protocol.Message, int, error) {
	saved, err := h.db.GetSession(c.Request().Context(), runID)
	if err != nil {
		return nil, http.StatusInternalServerError, err
	}
	if saved == nil {
		return nil, http.StatusNotFound, errRunNotFound
	}
	var msgs []protocol.Message
	if len(saved.Messages) > 0 {
		if err := json.Unmarshal(saved.Messages, &msgs); err != nil {
			return nil, http.StatusInternalServerError, err
		}
	}
	return msgs, http.StatusOK, nil
}
