// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ManuGH/opendub/internal/convert"
	"github.com/ManuGH/opendub/internal/history"
	"github.com/ManuGH/opendub/internal/workflow"
	"github.com/google/renameio/v2"
	"github.com/spf13/cobra"
)

func newUploadCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "upload FILE",
		Short: "Upload a video and print its id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := ctx.openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			res, err := s.prepare(cmd.Context(), args[0], "")
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Video ID: %s\n", res.ID)
			fmt.Fprintf(out, "Filename: %s\n", res.Filename)
			fmt.Fprintf(out, "Path:     %s\n", res.Path)
			return nil
		},
	}
}

type convertFlags struct {
	videoID    string
	format     string
	sampleRate string
	channels   string
	bitrate    string
	download   string
	noWait     bool
}

func newConvertCommand(ctx *commandContext) *cobra.Command {
	var f convertFlags

	cmd := &cobra.Command{
		Use:   "convert [FILE]",
		Short: "Extract the audio track of a video",
		Long: `Upload FILE (or reuse an uploaded video with --video-id) and extract its
audio. Backends that answer asynchronously are polled until the job finishes.`,
		Args: videoArgs(&f.videoID),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := ctx.openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			params := convert.Params{
				Format:     f.format,
				SampleRate: f.sampleRate,
				Channels:   f.channels,
				Bitrate:    f.bitrate,
			}
			// Reject bad settings before spending an upload on them.
			req, err := ctx.newBuilder().Build(params)
			if err != nil {
				return err
			}

			started := time.Now()
			if _, err := s.prepare(cmd.Context(), firstArg(args), f.videoID); err != nil {
				return err
			}

			return ctx.serve(cmd.Context(), func(runCtx context.Context) error {
				snap, err := s.machine.Convert(runCtx, params)
				if err == nil && !f.noWait {
					snap, err = s.wait(runCtx, snap)
				}
				run := history.Run{Kind: history.KindConvert, Format: req.Format, StartedAt: started}
				if snap.State.Terminal() || err != nil {
					s.record(runCtx, run, snap, err)
				}
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if snap.State != workflow.StateSucceeded {
					fmt.Fprintf(out, "Job ID: %s\n", snap.JobID)
					return nil
				}
				fmt.Fprintln(out, snap.ArtifactURL)
				if f.download == "" {
					return nil
				}
				target, n, err := download(runCtx, s, snap.ArtifactURL, f.download)
				if err != nil {
					return err
				}
				s.console.printf("Saved %s (%d bytes)\n", target, n)
				return nil
			})
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.videoID, "video-id", "", "Convert an already uploaded video")
	fl.StringVarP(&f.format, "format", "f", "", "Output format: wav or mp3 (default from config)")
	fl.StringVar(&f.sampleRate, "sample-rate", "", "Sample rate in Hz")
	fl.StringVar(&f.channels, "channels", "", "Number of audio channels")
	fl.StringVar(&f.bitrate, "bitrate", "", "MP3 bitrate such as 192k")
	fl.StringVarP(&f.download, "download", "o", "", "Download the result into this directory")
	fl.BoolVar(&f.noWait, "no-wait", false, "Print the job id instead of waiting for a queued conversion")
	return cmd
}

type dubFlags struct {
	videoID       string
	languages     []string
	transcription string
	translation   string
	tts           string
	noWait        bool
}

func newDubCommand(ctx *commandContext) *cobra.Command {
	var f dubFlags

	cmd := &cobra.Command{
		Use:   "dub [FILE]",
		Short: "Transcribe, translate and dub a video",
		Args:  videoArgs(&f.videoID),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := ctx.openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			dub := ctx.config.Dubbing
			params := convert.DubParams{
				TargetLanguages:     f.languages,
				TranscriptionEngine: orDefault(f.transcription, dub.TranscriptionEngine),
				TranslationEngine:   orDefault(f.translation, dub.TranslationEngine),
				TTSEngine:           orDefault(f.tts, dub.TTSEngine),
			}
			if len(params.TargetLanguages) == 0 {
				params.TargetLanguages = dub.TargetLanguages
			}
			// Validate with a placeholder id; the real one is known after upload.
			probe := params
			probe.VideoID = "pending"
			req, err := ctx.newBuilder().BuildJob(probe)
			if err != nil {
				return err
			}

			started := time.Now()
			res, err := s.prepare(cmd.Context(), firstArg(args), f.videoID)
			if err != nil {
				return err
			}
			params.VideoID = res.ID

			return ctx.serve(cmd.Context(), func(runCtx context.Context) error {
				snap, err := s.machine.StartJob(runCtx, params)
				if err == nil && !f.noWait {
					snap, err = s.wait(runCtx, snap)
				}
				run := history.Run{Kind: history.KindDub, Languages: req.TargetLanguages, StartedAt: started}
				if snap.State.Terminal() || err != nil {
					s.record(runCtx, run, snap, err)
				}
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Job ID: %s\n", snap.JobID)
				if snap.State != workflow.StateSucceeded {
					return nil
				}
				meta := snap.Job.Meta
				rows := make([][]string, 0, 1+len(meta.Translations)+len(meta.Dubs))
				if meta.Transcript != "" {
					rows = append(rows, []string{"transcript", s.client.ResolveURL(meta.Transcript)})
				}
				for _, t := range meta.Translations {
					rows = append(rows, []string{"translation", s.client.ResolveURL(t)})
				}
				for _, d := range meta.Dubs {
					rows = append(rows, []string{"dub", s.client.ResolveURL(d)})
				}
				if len(rows) > 0 {
					fmt.Fprintln(out, renderTable([]string{"Kind", "URL"}, rows, nil))
				}
				return nil
			})
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.videoID, "video-id", "", "Dub an already uploaded video")
	fl.StringSliceVarP(&f.languages, "lang", "l", nil, "Target language (repeatable, default from config)")
	fl.StringVar(&f.transcription, "transcription-engine", "", "Transcription engine override")
	fl.StringVar(&f.translation, "translation-engine", "", "Translation engine override")
	fl.StringVar(&f.tts, "tts-engine", "", "Text-to-speech engine override")
	fl.BoolVar(&f.noWait, "no-wait", false, "Print the job id instead of waiting for the job")
	return cmd
}

// videoArgs requires exactly one of a FILE argument or --video-id.
func videoArgs(videoID *string) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		hasID := strings.TrimSpace(*videoID) != ""
		switch {
		case len(args) > 1:
			return fmt.Errorf("accepts at most one FILE, received %d", len(args))
		case len(args) == 1 && hasID:
			return errors.New("give either FILE or --video-id, not both")
		case len(args) == 0 && !hasID:
			return errors.New("a FILE argument or --video-id is required")
		}
		return nil
	}
}

// download saves the artifact at ref into dir, named after the last URL path
// segment, and returns the file path and size.
func download(ctx context.Context, s *session, ref, dir string) (string, int64, error) {
	name := artifactName(ref)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", 0, fmt.Errorf("create download dir: %w", err)
	}
	target := filepath.Join(dir, name)

	pf, err := renameio.NewPendingFile(target, renameio.WithPermissions(0o644))
	if err != nil {
		return "", 0, fmt.Errorf("create %s: %w", target, err)
	}
	defer func() { _ = pf.Cleanup() }()

	n, err := s.client.Download(ctx, ref, pf)
	if err != nil {
		return "", n, err
	}
	if err := pf.CloseAtomicallyReplace(); err != nil {
		return "", n, fmt.Errorf("save %s: %w", target, err)
	}
	return target, n, nil
}

func artifactName(ref string) string {
	p := ref
	if u, err := url.Parse(ref); err == nil && u.Path != "" {
		p = u.Path
	}
	name := path.Base(p)
	if name == "." || name == "/" || name == "" {
		return "audio-" + strconv.FormatInt(time.Now().Unix(), 10)
	}
	return name
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) != "" {
		return v
	}
	return def
}
