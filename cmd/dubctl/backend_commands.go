// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/ManuGH/opendub/internal/backend"
	"github.com/ManuGH/opendub/internal/jobs"
	"github.com/spf13/cobra"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "status JOB_ID",
		Short: "Show the state of a backend job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.newClient()
			if err != nil {
				return err
			}
			jobID := strings.TrimSpace(args[0])
			out := cmd.OutOrStdout()

			if !watch {
				job, err := client.JobStatus(cmd.Context(), jobID)
				if err != nil {
					return err
				}
				printJob(out, client, job)
				return nil
			}

			return ctx.serve(cmd.Context(), func(runCtx context.Context) error {
				progress := newConsole(cmd.ErrOrStderr())
				job, err := ctx.newPoller(client).Await(runCtx, jobID, func(j jobs.Job) {
					if ctx.flags.quiet || j.Terminal() {
						return
					}
					line := fmt.Sprintf("Job %s: %s", j.ID, j.State)
					if j.Meta.Step != "" {
						line += " (" + j.Meta.Step + ")"
					}
					progress.progress(line)
				})
				progress.finish()
				if err != nil {
					return err
				}
				printJob(out, client, job)
				if job.State == jobs.StateFailure {
					return fmt.Errorf("job %s failed: %s", job.ID, job.FailureDetail())
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Poll until the job finishes")
	return cmd
}

func printJob(w io.Writer, client *backend.Client, job jobs.Job) {
	rows := [][]string{
		{"Job ID", job.ID},
		{"State", jobStateLabel(job.State)},
	}
	m := job.Meta
	if m.Step != "" {
		rows = append(rows, []string{"Step", m.Step})
	}
	if job.State == jobs.StateFailure {
		rows = append(rows, []string{"Detail", job.FailureDetail()})
	}
	if m.URL != "" {
		rows = append(rows, []string{"URL", client.ResolveURL(m.URL)})
	}
	if m.Transcript != "" {
		rows = append(rows, []string{"Transcript", client.ResolveURL(m.Transcript)})
	}
	for _, t := range m.Translations {
		rows = append(rows, []string{"Translation", client.ResolveURL(t)})
	}
	for _, d := range m.Dubs {
		rows = append(rows, []string{"Dub", client.ResolveURL(d)})
	}
	fmt.Fprintln(w, renderTable([]string{"Field", "Value"}, rows, nil))
}

func newAssetsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "assets VIDEO_ID",
		Short: "List the transcripts, translations and dubs of a video",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.newClient()
			if err != nil {
				return err
			}
			assets, err := client.Assets(cmd.Context(), strings.TrimSpace(args[0]))
			if err != nil {
				return err
			}

			var rows [][]string
			add := func(kind string, refs []string) {
				for _, r := range refs {
					rows = append(rows, []string{kind, client.ResolveURL(r)})
				}
			}
			add("transcript", assets.Transcripts)
			add("translation", assets.Translations)
			add("dub", assets.Dubs)

			out := cmd.OutOrStdout()
			if len(rows) == 0 {
				fmt.Fprintln(out, "No assets yet.")
				return nil
			}
			fmt.Fprintln(out, renderTable([]string{"Kind", "URL"}, rows, nil))
			return nil
		},
	}
}

func newHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the backend is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.newClient()
			if err != nil {
				return err
			}
			h, err := client.Health(cmd.Context())
			if err != nil {
				return fmt.Errorf("backend %s: %w", client.BaseURL(), err)
			}

			rows := [][]string{
				{"Backend", client.BaseURL()},
				{"Status", h.Status},
				{"Environment", h.Env},
			}
			names := make([]string, 0, len(h.Engines))
			for k := range h.Engines {
				names = append(names, k)
			}
			sort.Strings(names)
			for _, k := range names {
				rows = append(rows, []string{"Engine " + k, h.Engines[k]})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Field", "Value"}, rows, nil))
			return nil
		},
	}
}
