// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ManuGH/opendub/internal/history"
	"github.com/spf13/cobra"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var (
		limit int
		check string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent conversions and dubbing jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.config.History
			if !cfg.Enabled {
				return errors.New("history is disabled (history.enabled or OPENDUB_HISTORY_ENABLED)")
			}
			out := cmd.OutOrStdout()

			if check != "" {
				if check != "quick" && check != "full" {
					return fmt.Errorf("--check must be quick or full, got %q", check)
				}
				if _, err := os.Stat(cfg.Path); err != nil {
					return fmt.Errorf("history database %s: %w", cfg.Path, err)
				}
				issues, err := history.VerifyIntegrity(cmd.Context(), cfg.Path, check)
				if err != nil {
					return err
				}
				if len(issues) > 0 {
					for _, issue := range issues {
						fmt.Fprintln(out, issue)
					}
					return fmt.Errorf("history database %s failed %s check", cfg.Path, check)
				}
				fmt.Fprintf(out, "History database OK (%s check)\n", check)
				return nil
			}

			store, err := history.Open(cfg.Path)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded.")
				return nil
			}

			rows := make([][]string, 0, len(runs))
			for _, r := range runs {
				rows = append(rows, []string{
					r.FinishedAt.Local().Format("2006-01-02 15:04:05"),
					r.Kind,
					r.VideoID,
					dash(r.JobID),
					runTarget(r),
					r.State,
					formatDuration(r.Duration()),
					dash(firstNonEmpty(r.ArtifactURL, r.Detail)),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Finished", "Kind", "Video", "Job", "Target", "State", "Took", "Result"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", history.DefaultLimit, "Number of runs to show")
	cmd.Flags().StringVar(&check, "check", "", "Verify the database instead of listing (quick or full)")
	return cmd
}

func runTarget(r history.Run) string {
	if r.Kind == history.KindDub {
		return dash(strings.Join(r.Languages, ","))
	}
	return dash(r.Format)
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.Round(100 * time.Millisecond).String()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
