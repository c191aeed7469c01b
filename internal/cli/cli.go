// Package cli implements genctl, a command line client that runs generation
// sessions in-process and prints their progress.
//
// Usage:
//
//	genctl image --amount 2 --resolution 1536x680 "a lighthouse at dusk"
//	genctl video --duration 8 --aspect-ratio 9:16 "waves crashing on rocks"
//	genctl music "90's rap instrumental"
//
// Ctrl-C cancels the running session.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/invidias-codem/ai-saas/internal/job"
	"github.com/invidias-codem/ai-saas/internal/orchestrator"
)

// ErrCanceled is returned when the user interrupts a session.
var ErrCanceled = errors.New("generation canceled")

// Starter starts generation sessions.
type Starter interface {
	Start(ctx context.Context, surface string, req job.Request) *orchestrator.Session
}

// Factory builds the session starter and a function releasing it.
type Factory func(ctx context.Context) (Starter, func() error, error)

type options struct {
	json bool
}

// BuildCLI creates the genctl command tree.
func BuildCLI(factory Factory) *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           "genctl",
		Short:         "Generate images, videos and music from a prompt",
		Version:       "1.0.0",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().BoolVar(&opts.json, "json", false, "print the outcome as JSON")

	rootCmd.AddCommand(buildImageCommand(factory, opts))
	rootCmd.AddCommand(buildVideoCommand(factory, opts))
	rootCmd.AddCommand(buildMusicCommand(factory, opts))

	return rootCmd
}

func buildImageCommand(factory Factory, opts *options) *cobra.Command {
	var req job.ImageRequest

	cmd := &cobra.Command{
		Use:   "image PROMPT",
		Short: "Generate one or more images",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Prompt = strings.Join(args, " ")
			return generate(cmd, factory, opts, req)
		},
	}

	cmd.Flags().IntVarP(&req.Amount, "amount", "n", 1, "number of images (1-4)")
	cmd.Flags().StringVar(&req.Resolution, "resolution", "1024x1024", "resolution: 1024x1024, 1536x680 or 680x1536")

	return cmd
}

func buildVideoCommand(factory Factory, opts *options) *cobra.Command {
	var (
		req     job.VideoRequest
		noAudio bool
	)

	cmd := &cobra.Command{
		Use:   "video PROMPT",
		Short: "Generate a video clip",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Prompt = strings.Join(args, " ")
			audio := !noAudio
			req.GenerateAudio = &audio
			return generate(cmd, factory, opts, req)
		},
	}

	cmd.Flags().StringVar(&req.AspectRatio, "aspect-ratio", "16:9", "aspect ratio: 16:9, 9:16 or 1:1")
	cmd.Flags().IntVar(&req.DurationSeconds, "duration", 4, "clip length in seconds: 4, 6 or 8")
	cmd.Flags().StringVar(&req.Resolution, "resolution", "720p", "resolution: 720p or 1080p")
	cmd.Flags().BoolVar(&noAudio, "no-audio", false, "generate the clip without audio")

	return cmd
}

func buildMusicCommand(factory Factory, opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "music PROMPT",
		Short: "Generate a music track",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return generate(cmd, factory, opts, job.MusicRequest{Prompt: strings.Join(args, " ")})
		},
	}
}

// generate runs one session to its outcome, canceling it on interrupt.
func generate(cmd *cobra.Command, factory Factory, opts *options, req job.Request) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	starter, release, err := factory(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := release(); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "release: %v\n", err)
		}
	}()

	s := starter.Start(ctx, "", req)
	out := cmd.OutOrStdout()
	if !opts.json {
		fmt.Fprintf(out, "session %s started (%s)\n", s.ID, s.Modality)
	}

	events := s.Events()
	for {
		select {
		case <-ctx.Done():
			s.Cancel()
			fmt.Fprintln(cmd.ErrOrStderr(), "interrupted, session canceled")
			return ErrCanceled
		case ev, open := <-events:
			if !open {
				return ErrCanceled
			}
			if !ev.IsTerminal() {
				if !opts.json {
					printProgress(out, *ev.Progress)
				}
				continue
			}
			return report(out, cmd.ErrOrStderr(), *ev.Outcome, opts.json)
		}
	}
}

func printProgress(w io.Writer, p orchestrator.Progress) {
	switch {
	case p.State != "":
		fmt.Fprintf(w, "[%s] job=%s state=%s polls=%d\n", p.Phase, p.JobID, p.State, p.Polls)
	case p.JobID != "":
		fmt.Fprintf(w, "[%s] job=%s\n", p.Phase, p.JobID)
	default:
		fmt.Fprintf(w, "[%s]\n", p.Phase)
	}
}

// report prints the outcome and converts failures into an error.
func report(out, errOut io.Writer, o orchestrator.Outcome, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(o); err != nil {
			return err
		}
	} else {
		switch o.Kind {
		case orchestrator.OutcomeCompleted:
			fmt.Fprintf(out, "completed with %d artifact(s)\n", len(o.Artifacts))
			for _, a := range o.Artifacts {
				fmt.Fprintf(out, "  #%d %s\n", a.Index, describe(a))
			}
			for _, f := range o.Failures {
				fmt.Fprintf(errOut, "  #%d unavailable (%s): %s\n", f.Index, f.Kind, f.Detail)
			}
		case orchestrator.OutcomeCanceled:
			fmt.Fprintf(out, "canceled: %s\n", o.Detail)
		}
	}

	switch o.Kind {
	case orchestrator.OutcomeFailed:
		return fmt.Errorf("generation failed (%s): %s", o.ErrorKind, o.Detail)
	case orchestrator.OutcomeCanceled:
		return fmt.Errorf("%w: %s", ErrCanceled, o.Detail)
	}
	return nil
}

// describe renders an artifact without dumping inline payloads.
func describe(a job.Artifact) string {
	if a.Kind == job.ArtifactInlineData {
		return fmt.Sprintf("inline %s (%d bytes encoded)", a.MIMEType, len(a.Payload))
	}
	s := a.Payload
	if a.ExpiresAt != nil {
		s += fmt.Sprintf(" (expires %s)", a.ExpiresAt.Format("15:04:05"))
	}
	return s
}
