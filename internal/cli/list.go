package cli

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/datallboy/dlqueue/internal/domain"
	"github.com/datallboy/dlqueue/internal/infra/config"
	"github.com/datallboy/dlqueue/internal/infra/logger"
)

func newListCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show stored jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(flags.configPath)
			if err != nil {
				return err
			}
			st, err := openStore(cmd.Context(), cfg, logger.NewWriter(os.Stderr, logger.ParseLevel(cfg.Log.Level)))
			if err != nil {
				return err
			}
			defer st.Close()

			jobs, err := st.LoadAll(cmd.Context())
			if err != nil {
				return err
			}
			return printJobs(cmd.OutOrStdout(), jobs)
		},
	}
}

func printJobs(out io.Writer, jobs []*domain.Job) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSTATUS\tPROGRESS\tSIZE\tADDED\tID")
	for _, j := range jobs {
		size := "?"
		if total := j.TotalSize(); total > 0 {
			size = humanize.IBytes(uint64(total))
		}
		status := string(j.Status())
		if at, ok := j.Schedule(); ok {
			status += " " + at.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%.1f%%\t%s\t%s\t%s\n",
			j.Name(), status, j.Progress(), size, humanize.Time(j.CreatedAt()), j.ID())
	}
	return w.Flush()
}
