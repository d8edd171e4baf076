package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/datallboy/dlqueue/internal/domain"
	"github.com/datallboy/dlqueue/internal/infra/logger"
)

var unsupportedProtocols = []string{"f4m", "ism"}

// Validator runs the pre-flight checks a job must pass before it is registered or restarted.
type Validator struct {
	items   *ItemStore
	tools   ToolChecker
	decider Decider
	log     *logger.Logger
}

func NewValidator(items *ItemStore, tools ToolChecker, decider Decider, log *logger.Logger) *Validator {
	if tools == nil {
		tools = nopTools{}
	}
	return &Validator{items: items, tools: tools, decider: decider, log: log}
}

// Check validates job and settles destination conflicts, renaming job when
// that is the chosen policy. For a fresh submission resumed reports that job
// continues a registered record with the same ID and size. registered is true
// when job is already in the store (manual restart or scheduled trigger); such
// a job keeps its name.
func (v *Validator) Check(ctx context.Context, job *domain.Job, opts SubmitOptions, autoRename, registered bool) (resumed bool, err error) {
	fail := func(reason error, detail string) (bool, error) {
		return false, domain.NewValidationError(job.Name(), reason, detail)
	}

	if job.URL() == "" {
		return fail(domain.ErrEmptyURL, "")
	}

	if registered && job.Status().IsActive() {
		return fail(domain.ErrAlreadyActive, "")
	}
	if existing, ok := v.items.Get(job.ID()); ok && existing != job && existing.Status().IsActive() {
		return fail(domain.ErrAlreadyActive, "")
	}

	if p := strings.ToLower(job.Protocol()); slices.Contains(unsupportedProtocols, p) {
		return fail(domain.ErrUnsupportedProtocol, p)
	}

	if job.Kind() == domain.KindMedia {
		if err := v.tools.Check("ffmpeg"); err != nil {
			return fail(domain.ErrMissingTool, err.Error())
		}
	}

	if err := checkWritable(job.Folder()); err != nil {
		return fail(domain.ErrInvalidDestination, err.Error())
	}

	if strings.TrimSpace(job.Name()) == "" {
		return fail(domain.ErrEmptyName, "")
	}

	for attempt := 0; ; attempt++ {
		if attempt > domain.MaxRenameAttempts {
			return fail(domain.ErrNameExhausted, "")
		}

		if fileExists(job.TargetPath()) {
			switch v.decide(ctx, job, opts, autoRename) {
			case domain.ConflictRename:
				if registered {
					return fail(domain.ErrAborted, "a registered job can't be renamed, submit it again instead")
				}
				if !v.rename(job) {
					return fail(domain.ErrNameExhausted, "")
				}
				continue
			case domain.ConflictOverwrite:
				if err := os.Remove(job.TargetPath()); err != nil && !os.IsNotExist(err) {
					return fail(domain.ErrInvalidDestination, err.Error())
				}
				v.log.Info("Overwriting %s", job.TargetPath())
			default:
				return fail(domain.ErrAborted, "")
			}
		}

		if registered {
			return false, nil
		}

		existing, ok := v.items.Get(job.ID())
		if !ok {
			return false, nil
		}
		if existing.TotalSize() == job.TotalSize() {
			job.SetDownloaded(existing.Downloaded())
			return true, nil
		}
		if !v.rename(job) {
			return fail(domain.ErrNameExhausted, "")
		}
	}
}

func (v *Validator) decide(ctx context.Context, job *domain.Job, opts SubmitOptions, autoRename bool) domain.ConflictAction {
	switch {
	case opts.OnConflict != domain.ConflictAsk:
		return opts.OnConflict
	case autoRename || opts.Silent:
		return domain.ConflictRename
	case v.decider != nil:
		return v.decider.Decide(ctx, job)
	default:
		return domain.ConflictRename
	}
}

func (v *Validator) rename(job *domain.Job) bool {
	folder := job.Folder()
	name, ok := domain.AutoRename(job.Name(), func(candidate string) bool {
		if fileExists(filepath.Join(folder, candidate)) {
			return true
		}
		_, taken := v.items.Get(domain.JobID(folder, candidate))
		return taken
	})
	if !ok {
		return false
	}
	v.log.Info("Renamed %s to %s", job.Name(), name)
	job.Rename(name)
	return true
}

// checkWritable probes folder with a throwaway file.
func checkWritable(folder string) error {
	info, err := os.Stat(folder)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", folder)
	}
	f, err := os.CreateTemp(folder, ".dlqueue-probe-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
