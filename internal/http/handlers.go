package http

import (
	"errors"
	"net/http"
	"sort"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/curatord/internal/execution"
	"github.com/fyrsmithlabs/curatord/internal/logging"
	"github.com/fyrsmithlabs/curatord/internal/orchestrator"
	"github.com/fyrsmithlabs/curatord/internal/store"
)

func (s *Server) handleHealth(c echo.Context) error {
	resp := HealthResponse{
		Status:         "ok",
		ActiveSessions: len(s.deps.Sessions.Active()),
		Store:          "ok",
	}
	if err := s.deps.History.Ping(c.Request().Context()); err != nil {
		s.logger.Warn("store ping failed", zap.Error(err))
		resp.Status = "degraded"
		resp.Store = "unavailable"
	}
	if s.deps.Telemetry != nil {
		h := s.deps.Telemetry.Health()
		resp.Telemetry = &h
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleCreateSession(c echo.Context) error {
	var req CreateSessionRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid session request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	snap, err := s.deps.Sessions.Execute(c.Request().Context(), orchestrator.Request{
		UserID:  req.UserID,
		Command: req.Command,
		Mode:    execution.Mode(req.Mode),
	})
	if err != nil {
		return s.orchestratorError(err)
	}
	return c.JSON(http.StatusAccepted, fromSnapshot(snap))
}

func (s *Server) handleGetSession(c echo.Context) error {
	id := c.Param("id")
	if snap, err := s.deps.Sessions.Status(id); err == nil {
		return c.JSON(http.StatusOK, fromSnapshot(snap))
	}

	sess, err := s.deps.History.GetSession(c.Request().Context(), id)
	if err != nil {
		return s.historyError(err)
	}
	return c.JSON(http.StatusOK, SessionResponse{Session: *sess})
}

func (s *Server) handleListEvents(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")
	if _, err := s.deps.History.GetSession(ctx, id); err != nil {
		return s.historyError(err)
	}
	evs, err := s.deps.History.ListEvents(ctx, id)
	if err != nil {
		return s.historyError(err)
	}
	return c.JSON(http.StatusOK, EventsResponse{SessionID: id, Events: evs})
}

func (s *Server) handleApproval(c echo.Context) error {
	var req ApprovalRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	switch req.Feedback {
	case "", execution.FeedbackApproved, execution.FeedbackRejected, execution.FeedbackModified:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "feedback must be approved, rejected or modified")
	}

	snap, err := s.deps.Sessions.Approve(c.Request().Context(), c.Param("id"), orchestrator.Decision{
		Approved: req.Approved,
		Feedback: req.Feedback,
		Comment:  req.Comment,
	})
	if err != nil {
		return s.orchestratorError(err)
	}
	return c.JSON(http.StatusOK, fromSnapshot(snap))
}

func (s *Server) handleCancel(c echo.Context) error {
	if err := s.deps.Sessions.Cancel(c.Param("id")); err != nil {
		return s.orchestratorError(err)
	}
	return c.NoContent(http.StatusAccepted)
}

func (s *Server) handleTemplates(c echo.Context) error {
	templates := s.deps.Templates.Templates()
	out := make([]TemplateSummary, 0, len(templates))
	for _, t := range templates {
		sum := TemplateSummary{
			Intent:           t.Intent,
			Name:             t.Name,
			Description:      t.Description,
			Phases:           make([]string, 0, len(t.Phases)),
			EstimatedMinutes: int(t.EstimatedDuration().Minutes()),
		}
		for _, p := range t.Phases {
			sum.Phases = append(sum.Phases, p.ID)
			if p.RequiresApproval {
				sum.ApprovalPhases = append(sum.ApprovalPhases, p.ID)
			}
		}
		out = append(out, sum)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Intent < out[j].Intent })
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleAutonomy(c echo.Context) error {
	userID := c.Param("id")
	if err := logging.ValidateID(userID, "user id"); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	level, err := s.deps.Autonomy.CalculateAutonomyLevel(c.Request().Context(), userID)
	if err != nil {
		s.logger.Error("autonomy lookup failed", zap.String("user_id", userID), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "autonomy lookup failed")
	}
	return c.JSON(http.StatusOK, AutonomyResponse{UserID: userID, AutonomyLevel: level})
}

// orchestratorError maps orchestrator failures to HTTP errors.
func (s *Server) orchestratorError(err error) error {
	switch {
	case errors.Is(err, orchestrator.ErrSessionNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	case errors.Is(err, orchestrator.ErrNotAwaitingApproval):
		return echo.NewHTTPError(http.StatusConflict, "session is not awaiting approval")
	case orchestrator.IsKind(err, orchestrator.KindInvalidRequest):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case orchestrator.IsKind(err, orchestrator.KindSetup):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	s.logger.Error("orchestrator request failed", zap.Error(err))
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
}

func (s *Server) historyError(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	s.logger.Error("history lookup failed", zap.Error(err))
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
}

func fromSnapshot(snap *orchestrator.Snapshot) SessionResponse {
	wf := snap.Workflow
	updated := snap.UpdatedAt
	return SessionResponse{
		Active:          !snap.Session.Status.Terminal(),
		Session:         snap.Session,
		Workflow:        &wf,
		CompletedPhases: snap.CompletedPhases,
		FailedPhases:    snap.FailedPhases,
		UpdatedAt:       &updated,
	}
}
