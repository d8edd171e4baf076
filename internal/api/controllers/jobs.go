package controllers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v5"

	"github.com/datallboy/dlqueue/internal/app"
	"github.com/datallboy/dlqueue/internal/domain"
	"github.com/datallboy/dlqueue/internal/engine"
)

type JobController struct {
	App *app.Context
}

// List returns every job and pushes a d_list update to event subscribers.
func (ctrl *JobController) List(c *echo.Context) error {
	ctrl.App.Manager.ReportAll()
	return c.JSON(http.StatusOK, JobList{Jobs: views(ctrl.App.Manager.Jobs())})
}

func (ctrl *JobController) Get(c *echo.Context) error {
	job, ok := ctrl.App.Manager.Get(c.Param("id"))
	if !ok {
		return writeError(c, engine.ErrNotFound)
	}
	return c.JSON(http.StatusOK, job.Snapshot())
}

// Submit resolves the URL and registers one job per resulting template. A
// playlist may partially succeed; per-entry failures are listed in errors.
func (ctrl *JobController) Submit(c *echo.Context) error {
	var req SubmitRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	}

	conflict := domain.ConflictAction(strings.ToLower(req.OnConflict))
	switch conflict {
	case domain.ConflictAsk, domain.ConflictRename, domain.ConflictOverwrite, domain.ConflictAbort:
	default:
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: fmt.Sprintf("unknown on_conflict %q", req.OnConflict)})
	}

	folder := req.Folder
	if folder == "" {
		folder = ctrl.App.Config.Download.Folder
	}

	ctx := c.Request().Context()
	m := ctrl.App.Manager
	templates, err := m.Prepare(ctx, engine.PrepareRequest{
		URL:                 req.URL,
		Folder:              folder,
		Name:                req.Name,
		Media:               req.Media,
		Stream:              req.Stream,
		Headers:             req.Headers,
		OnCompletionCommand: req.OnCompletionCommand,
		ShutdownPC:          req.Shutdown,
	})
	if err != nil {
		return writeError(c, err)
	}

	// scheduling replaces an immediate start
	opts := engine.SubmitOptions{RunNow: req.RunNow && req.ScheduleAt == nil, OnConflict: conflict}

	var resp SubmitResponse
	var firstErr error
	for _, tmpl := range templates {
		job, err := m.Submit(ctx, tmpl, opts)
		if err == nil && req.ScheduleAt != nil {
			err = m.ScheduleStart(job.ID(), *req.ScheduleAt)
		}
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			resp.Errors = append(resp.Errors, fmt.Sprintf("%s: %v", tmpl.Name(), err))
		}
		if job != nil {
			resp.Jobs = append(resp.Jobs, job.Snapshot())
		}
	}

	if len(resp.Jobs) == 0 && firstErr != nil {
		return writeError(c, firstErr)
	}
	return c.JSON(http.StatusCreated, resp)
}

func (ctrl *JobController) Start(c *echo.Context) error {
	id := c.Param("id")
	if err := ctrl.App.Manager.Start(c.Request().Context(), id, engine.SubmitOptions{RunNow: true}); err != nil {
		return writeError(c, err)
	}
	return ctrl.Get(c)
}

func (ctrl *JobController) Stop(c *echo.Context) error {
	if err := ctrl.App.Manager.Stop(c.Param("id")); err != nil {
		return writeError(c, err)
	}
	return ctrl.Get(c)
}

func (ctrl *JobController) Delete(c *echo.Context) error {
	if err := ctrl.App.Manager.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (ctrl *JobController) Schedule(c *echo.Context) error {
	var req ScheduleRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	}
	if err := ctrl.App.Manager.ScheduleStart(c.Param("id"), req.At); err != nil {
		return writeError(c, err)
	}
	return ctrl.Get(c)
}

func (ctrl *JobController) CancelSchedule(c *echo.Context) error {
	if err := ctrl.App.Manager.ScheduleCancel(c.Param("id")); err != nil {
		return writeError(c, err)
	}
	return ctrl.Get(c)
}

func (ctrl *JobController) SetCommand(c *echo.Context) error {
	var req CommandRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	}
	if err := ctrl.App.Manager.SetOnCompletionCommand(c.Param("id"), req.Command); err != nil {
		return writeError(c, err)
	}
	return ctrl.Get(c)
}

func (ctrl *JobController) ToggleShutdown(c *echo.Context) error {
	on, err := ctrl.App.Manager.ToggleShutdown(c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, ShutdownResponse{ShutdownPC: on})
}
