package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"frame-mosaic/internal/journal"
)

func newJournalCmd(app *App) *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect recorded mosaic runs",
	}
	cmd.PersistentFlags().StringVar(&dbPath, "db", "", "journal database (default output.journal from the config)")

	open := func() (*journal.Journal, error) {
		path := dbPath
		if path == "" {
			path = app.cfg.Output.Journal
		}
		if path == "" {
			return nil, errors.New("no journal configured (set --db or output.journal)")
		}
		return journal.Open(path)
	}

	var limit int
	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			j, err := open()
			if err != nil {
				return err
			}
			defer j.Close()

			runs, err := j.RecentRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTARTED\tSTATUS\tFRAMES\tAPPLIED\tSKIPPED\tSOURCE")
			for _, r := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
					r.ID, r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.Status,
					r.Frames, r.Applied, r.Skipped, r.Source)
			}
			return w.Flush()
		},
	}
	runsCmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to list")

	framesCmd := &cobra.Command{
		Use:   "frames <run-id>",
		Short: "List the frame outcomes of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			j, err := open()
			if err != nil {
				return err
			}
			defer j.Close()

			run, err := j.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			events, err := j.ListFrames(cmd.Context(), run.ID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "run %s: %s, %s\n", run.ID, run.Source, run.Status)
			if run.Error != "" {
				fmt.Fprintf(out, "error: %s\n", run.Error)
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "FRAME\tKIND\tKEYPOINTS\tMATCHES\tMOTION\tDX\tDY\tNOTE")
			for _, e := range events {
				fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%s\t%.2f\t%.2f\t%s\n",
					e.Index, e.Kind, e.Keypoints, e.Matches, e.Motion, e.DX, e.DY, e.Reason)
			}
			return w.Flush()
		},
	}

	cmd.AddCommand(runsCmd, framesCmd)
	return cmd
}
