package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/qaforge/internal/config"
	"github.com/ppiankov/qaforge/internal/history"
	"github.com/ppiankov/qaforge/internal/reporter"
)

func newHistoryCmd() *cobra.Command {
	var (
		project string
		limit   int
		all     bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadSettings(configFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.HistoryDB == "" {
				return errors.New("history_db is not configured")
			}
			if !cmd.Flags().Changed("project") && !all {
				project = cfg.Job.Project
			}

			store, err := history.Open(cfg.HistoryDB)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			runs, err := store.Recent(cmd.Context(), project, limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			reporter.NewTextReporter(out, isTerminal(out)).PrintHistory(runs)
			return nil
		},
	}

	cmd.Flags().StringVar(&project, "project", "", "project to show (default: the configured job's project)")
	cmd.Flags().BoolVar(&all, "all", false, "show runs of every project")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to show")

	return cmd
}
