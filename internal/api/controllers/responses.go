package controllers

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"

	"github.com/datallboy/dlqueue/internal/domain"
	"github.com/datallboy/dlqueue/internal/engine"
)

// -- REQUESTS --

type SubmitRequest struct {
	URL                 string            `json:"url"`
	Folder              string            `json:"folder"`
	Name                string            `json:"name"`
	Media               bool              `json:"media"`
	Stream              string            `json:"stream"`
	RunNow              bool              `json:"run_now"`
	OnConflict          string            `json:"on_conflict"`
	ScheduleAt          *time.Time        `json:"schedule_at"`
	Headers             map[string]string `json:"headers"`
	OnCompletionCommand string            `json:"on_completion_command"`
	Shutdown            bool              `json:"shutdown"`
}

type ScheduleRequest struct {
	At time.Time `json:"at"`
}

type CommandRequest struct {
	Command string `json:"command"`
}

// -- RESPONSES --

type JobList struct {
	Jobs []domain.JobView `json:"jobs"`
}

type SubmitResponse struct {
	Jobs   []domain.JobView `json:"jobs"`
	Errors []string         `json:"errors,omitempty"`
}

type ShutdownResponse struct {
	ShutdownPC bool `json:"shutdown_pc"`
}

type ErrorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

// writeError maps engine and validation errors onto HTTP status codes.
func writeError(c *echo.Context, err error) error {
	resp := ErrorResponse{Error: err.Error()}

	var verr *domain.ValidationError
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, engine.ErrJobCompleted), errors.Is(err, domain.ErrAlreadyActive):
		status = http.StatusConflict
	case errors.Is(err, engine.ErrScheduleInPast):
		status = http.StatusBadRequest
	case errors.As(err, &verr):
		status = http.StatusUnprocessableEntity
		resp.Reason = verr.Reason.Error()
	}
	return c.JSON(status, resp)
}

func views(jobs []*domain.Job) []domain.JobView {
	out := make([]domain.JobView, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.Snapshot())
	}
	return out
}
