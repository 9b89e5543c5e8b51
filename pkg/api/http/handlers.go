package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aescanero/flowfarm/internal/domain"
	"github.com/aescanero/flowfarm/internal/ports"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RunStartResponse represents a run start response
type RunStartResponse struct {
	RunID      string `json:"run_id"`
	WorkflowID string `json:"workflow_id"`
	Status     string `json:"status"`
}

// AccountImportRequest represents an account import request
type AccountImportRequest struct {
	Accounts []domain.Account `json:"accounts" binding:"required"`
}

// ProxyImportRequest represents a proxy pool import request
type ProxyImportRequest struct {
	Proxies []domain.Proxy `json:"proxies" binding:"required"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail represents error details
type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error: ErrorDetail{
			Code:    "INVALID_REQUEST",
			Message: err.Error(),
		},
	})
}

// writeError maps domain errors onto HTTP statuses
func (s *Server) writeError(c *gin.Context, err error) {
	var cfgErr *domain.ConfigError
	switch {
	case errors.As(err, &cfgErr):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: ErrorDetail{
				Code:    "INVALID_CONFIG",
				Message: cfgErr.Message,
				Details: gin.H{"field": cfgErr.Field},
			},
		})
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: ErrorDetail{
				Code:    "NOT_FOUND",
				Message: err.Error(),
			},
		})
	default:
		s.logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: ErrorDetail{
				Code:    "INTERNAL",
				Message: err.Error(),
			},
		})
	}
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	body := gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	}
	if s.health != nil {
		status := s.health.Check()
		body["checks"] = gin.H{
			"orchestrator":    "ok",
			"active_runs":     status.ActiveRuns,
			"running_threads": status.RunningThreads,
			"retained_runs":   status.RetainedRuns,
		}
	}
	c.JSON(http.StatusOK, body)
}

// handleSaveWorkflow validates and stores a workflow definition
func (s *Server) handleSaveWorkflow(c *gin.Context) {
	var wf domain.WorkflowDefinition
	if err := c.ShouldBindJSON(&wf); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.validator.Validate(&wf); err != nil {
		s.writeError(c, err)
		return
	}
	if err := s.workflows.SaveWorkflow(c.Request.Context(), &wf); err != nil {
		s.writeError(c, err)
		return
	}

	saved, err := s.workflows.GetWorkflow(c.Request.Context(), wf.ID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, saved)
}

// handleListWorkflows lists workflow definitions
func (s *Server) handleListWorkflows(c *gin.Context) {
	workflows, err := s.workflows.ListWorkflows(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"workflows": workflows,
		"total":     len(workflows),
	})
}

// handleGetWorkflow returns one workflow definition
func (s *Server) handleGetWorkflow(c *gin.Context) {
	wf, err := s.workflows.GetWorkflow(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, wf)
}

// handleDeleteWorkflow deletes a workflow definition
func (s *Server) handleDeleteWorkflow(c *gin.Context) {
	if err := s.workflows.DeleteWorkflow(c.Request.Context(), c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// handleStartRun starts a run of a workflow
func (s *Server) handleStartRun(c *gin.Context) {
	workflowID := c.Param("id")

	var opts domain.RunOptions
	if err := c.ShouldBindJSON(&opts); err != nil {
		badRequest(c, err)
		return
	}

	runID, err := s.orchestrator.Start(c.Request.Context(), workflowID, opts)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, RunStartResponse{
		RunID:      runID,
		WorkflowID: workflowID,
		Status:     string(domain.RunStatusRunning),
	})
}

// handleListRuns lists runs held in memory without their logs
func (s *Server) handleListRuns(c *gin.Context) {
	runs := s.orchestrator.ListRuns()
	summaries := make([]gin.H, 0, len(runs))
	for _, run := range runs {
		summaries = append(summaries, gin.H{
			"id":          run.ID,
			"workflow_id": run.WorkflowID,
			"status":      run.Status,
			"started_at":  run.StartedAt,
			"ended_at":    run.EndedAt,
			"total":       run.Total,
			"succeeded":   run.CountThreads(domain.ThreadStatusSuccess),
			"failed":      run.CountThreads(domain.ThreadStatusError),
			"running":     run.CountThreads(domain.ThreadStatusRunning),
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"runs":  summaries,
		"total": len(summaries),
	})
}

// handleGetRun returns a run snapshot
func (s *Server) handleGetRun(c *gin.Context) {
	run, err := s.orchestrator.GetStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

// handleGetLogs returns the run log or one thread's log
func (s *Server) handleGetLogs(c *gin.Context) {
	runID := c.Param("id")
	thread := c.Query("thread")

	logs, err := s.orchestrator.GetLogs(c.Request.Context(), runID, thread)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if logs == nil {
		logs = []domain.LogEntry{}
	}
	c.JSON(http.StatusOK, gin.H{
		"run_id": runID,
		"thread": thread,
		"logs":   logs,
	})
}

// handleCancelRun requests a cooperative stop
func (s *Server) handleCancelRun(c *gin.Context) {
	runID := c.Param("id")

	if _, err := s.orchestrator.GetStatus(c.Request.Context(), runID); err != nil {
		s.writeError(c, err)
		return
	}
	if !s.orchestrator.Cancel(c.Request.Context(), runID) {
		c.JSON(http.StatusConflict, ErrorResponse{
			Error: ErrorDetail{
				Code:    "CANCELLATION_FAILED",
				Message: "run is not running",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"run_id": runID,
		"status": domain.RunStatusStopping,
	})
}

// handleImportAccounts upserts accounts
func (s *Server) handleImportAccounts(c *gin.Context) {
	var req AccountImportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	for i, a := range req.Accounts {
		if a.Email == "" || a.Group == "" {
			badRequest(c, errors.New("account "+strconv.Itoa(i)+": email and group are required"))
			return
		}
	}

	if err := s.entities.SaveAccounts(c.Request.Context(), req.Accounts); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"saved": len(req.Accounts)})
}

// handleListAccounts lists a group's accounts with secrets removed
func (s *Server) handleListAccounts(c *gin.Context) {
	filter := ports.AccountFilter{Group: c.Query("group")}
	if filter.Group == "" {
		badRequest(c, errors.New("query parameter group is required"))
		return
	}
	if statusParam := c.Query("status"); statusParam != "" {
		for _, st := range strings.Split(statusParam, ",") {
			filter.Statuses = append(filter.Statuses, strings.TrimSpace(st))
		}
	}
	if limitParam := c.Query("limit"); limitParam != "" {
		limit, err := strconv.Atoi(limitParam)
		if err != nil || limit < 0 {
			badRequest(c, errors.New("limit must be a non-negative integer"))
			return
		}
		filter.Limit = limit
	}

	accounts, err := s.entities.ListAccounts(c.Request.Context(), filter)
	if err != nil {
		s.writeError(c, err)
		return
	}
	for i := range accounts {
		accounts[i].Password = ""
		accounts[i].RefreshToken = ""
	}
	if accounts == nil {
		accounts = []domain.Account{}
	}
	c.JSON(http.StatusOK, gin.H{
		"accounts": accounts,
		"total":    len(accounts),
	})
}

// handlePushProxies appends proxies to their pools
func (s *Server) handlePushProxies(c *gin.Context) {
	var req ProxyImportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	for i, p := range req.Proxies {
		if p.Group == "" || p.Host == "" || p.Port <= 0 {
			badRequest(c, errors.New("proxy "+strconv.Itoa(i)+": group, host and port are required"))
			return
		}
	}

	if err := s.entities.PushProxies(c.Request.Context(), req.Proxies); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"pushed": len(req.Proxies)})
}
