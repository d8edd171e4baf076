package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidDestination  = errors.New("invalid destination folder")
	ErrEmptyName           = errors.New("file name can't be empty")
	ErrEmptyURL            = errors.New("nothing to download")
	ErrUnsupportedProtocol = errors.New("unsupported protocol")
	ErrMissingTool         = errors.New("required external tool not found")
	ErrAlreadyActive       = errors.New("download is already in progress")
	ErrAborted             = errors.New("download cancelled by user")
	ErrNameExhausted       = errors.New("could not generate a free file name")
)

// ValidationError is returned by pre-flight checks. The job it names was never registered.
type ValidationError struct {
	Job    string
	Reason error
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %v", e.Job, e.Reason)
	}
	return fmt.Sprintf("%s: %v: %s", e.Job, e.Reason, e.Detail)
}

func (e *ValidationError) Unwrap() error { return e.Reason }

func NewValidationError(job string, err error, detail string) *ValidationError {
	return &ValidationError{Job: job, Reason: err, Detail: detail}
}
