package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"github.com/datallboy/dlqueue/internal/domain"
	"github.com/datallboy/dlqueue/internal/engine"
	"github.com/datallboy/dlqueue/internal/infra/config"
	"github.com/datallboy/dlqueue/internal/infra/logger"
)

// JobSpec is one entry of a batch file.
type JobSpec struct {
	URL                 string            `yaml:"url"`
	Folder              string            `yaml:"folder"`
	Name                string            `yaml:"name"`
	Media               bool              `yaml:"media"`
	Stream              string            `yaml:"stream"`
	Headers             map[string]string `yaml:"headers"`
	ScheduleAt          *time.Time        `yaml:"schedule_at"`
	OnCompletionCommand string            `yaml:"on_completion_command"`
	Shutdown            bool              `yaml:"shutdown"`
}

type BatchFile struct {
	Jobs []JobSpec `yaml:"jobs"`
}

type addOptions struct {
	file       string
	folder     string
	media      bool
	start      bool
	onConflict string
}

func newAddCmd(flags *rootFlags) *cobra.Command {
	opts := &addOptions{}
	cmd := &cobra.Command{
		Use:   "add [URL...]",
		Short: "Queue downloads for the next serve",
		Long: `Resolve each URL and store it as a job. The jobs start the next time
"dlqueue serve" runs when --start is given, otherwise they wait for a start request.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			specs, err := collectSpecs(opts, args)
			if err != nil {
				return err
			}
			return add(cmd.Context(), flags.configPath, opts, specs, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "YAML batch file with a top-level jobs list")
	cmd.Flags().StringVarP(&opts.folder, "folder", "o", "", "destination folder (default download.folder)")
	cmd.Flags().BoolVar(&opts.media, "media", false, "resolve URLs as media pages through yt-dlp")
	cmd.Flags().BoolVar(&opts.start, "start", false, "start the jobs as soon as serve runs")
	cmd.Flags().StringVar(&opts.onConflict, "on-conflict", "rename", "what to do when the file exists: rename, overwrite or abort")
	return cmd
}

func collectSpecs(opts *addOptions, args []string) ([]JobSpec, error) {
	var specs []JobSpec
	if opts.file != "" {
		batch, err := loadBatchFile(opts.file)
		if err != nil {
			return nil, err
		}
		specs = append(specs, batch.Jobs...)
	}
	for _, u := range args {
		specs = append(specs, JobSpec{URL: u, Media: opts.media})
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("nothing to add: pass URLs or --file")
	}
	return specs, nil
}

func loadBatchFile(path string) (*BatchFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var batch BatchFile
	if err := yaml.Unmarshal(raw, &batch); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &batch, nil
}

func parseConflict(s string) (domain.ConflictAction, error) {
	switch a := domain.ConflictAction(strings.ToLower(s)); a {
	case domain.ConflictRename, domain.ConflictOverwrite, domain.ConflictAbort:
		return a, nil
	}
	return "", fmt.Errorf("unknown --on-conflict %q", s)
}

func add(ctx context.Context, configPath string, opts *addOptions, specs []JobSpec, out io.Writer) error {
	conflict, err := parseConflict(opts.onConflict)
	if err != nil {
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logger.NewWriter(os.Stderr, logger.ParseLevel(cfg.Log.Level))

	svc, err := build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer svc.store.Close()

	added := 0
	for _, spec := range specs {
		folder := firstNonEmpty(spec.Folder, opts.folder, cfg.Download.Folder)
		templates, err := svc.manager.Prepare(ctx, engine.PrepareRequest{
			URL:                 spec.URL,
			Folder:              folder,
			Name:                spec.Name,
			Media:               spec.Media || opts.media,
			Stream:              spec.Stream,
			Headers:             spec.Headers,
			OnCompletionCommand: spec.OnCompletionCommand,
			ShutdownPC:          spec.Shutdown,
		})
		if err != nil {
			fmt.Fprintf(out, "skip %s: %v\n", spec.URL, err)
			continue
		}

		for _, tmpl := range templates {
			job, err := svc.manager.Submit(ctx, tmpl, engine.SubmitOptions{Silent: true, OnConflict: conflict})
			if err != nil {
				fmt.Fprintf(out, "skip %s: %v\n", tmpl.Name(), err)
				continue
			}
			switch {
			case spec.ScheduleAt != nil:
				if err := svc.manager.ScheduleStart(job.ID(), *spec.ScheduleAt); err != nil {
					fmt.Fprintf(out, "not scheduled %s: %v\n", job.Name(), err)
				}
			case opts.start:
				// serve re-queues pending jobs on startup
				job.SetStatus(domain.StatusPending)
			}
			fmt.Fprintf(out, "added %s (%s) -> %s\n", job.Name(), job.Status(), job.Folder())
			added++
		}
	}

	if err := svc.save(ctx); err != nil {
		return fmt.Errorf("save jobs: %w", err)
	}
	fmt.Fprintf(out, "%d job(s) added\n", added)
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
