package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/loqalabs/versecast/internal/chapter"
	"github.com/loqalabs/versecast/internal/generator"
	"github.com/loqalabs/versecast/internal/hls"
	"github.com/loqalabs/versecast/internal/tts"
)

func newVoicesCmd(a *app) *cobra.Command {
	var locale string
	cmd := &cobra.Command{
		Use:   "voices",
		Short: "List the curated voice catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			current := tts.NewClient(a.cfg.Synthesis, a.logger).Voice()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "VOICE\tNAME\tLOCALE\tGENDER\t")
			for _, v := range tts.Voices {
				if locale != "" && !strings.EqualFold(v.Locale, locale) {
					continue
				}
				mark := ""
				if v.ShortName == current.ShortName {
					mark = "*"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", v.ShortName, v.DisplayName, v.Locale, v.Gender, mark)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVarP(&locale, "locale", "l", "", "only list voices for this locale")
	return cmd
}

func newSynthCmd(a *app) *cobra.Command {
	var (
		out   string
		voice string
	)
	cmd := &cobra.Command{
		Use:   "synth TEXT...",
		Short: "Synthesize one passage with the remote backend",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg.Synthesis
			if voice != "" {
				cfg.Voice = voice
			}
			client := tts.NewClient(cfg, a.logger)
			audio, err := client.SynthesizeVerse(cmd.Context(), strings.Join(args, " "), time.Duration(cfg.TimeoutMS)*time.Millisecond)
			if err != nil {
				return err
			}
			if out == "" {
				out = "verse." + audio.Format
			}
			if err := os.WriteFile(out, audio.Data, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%s, %s)\n", out, audio.Duration.Round(time.Millisecond), client.Voice().ShortName)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default verse.<format>)")
	cmd.Flags().StringVar(&voice, "voice", "", "voice short name, e.g. en-GB-RyanNeural")
	return cmd
}

func newGenerateCmd(a *app) *cobra.Command {
	var (
		mode     string
		priority string
	)
	cmd := &cobra.Command{
		Use:   "generate CHAPTER_FILE",
		Short: "Generate a chapter playlist locally",
		Long:  "Generate a chapter playlist from a YAML or JSON chapter file without a running daemon.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ch, err := chapter.Load(args[0])
			if err != nil {
				return err
			}
			prio, err := generator.ParsePriority(priority)
			if err != nil {
				return err
			}
			store, builder, err := a.storage()
			if err != nil {
				return err
			}
			ledger, err := a.ledger(cmd.Context())
			if err != nil {
				return err
			}
			defer ledger.Close()
			remote, local, err := tts.Backends(a.cfg, a.logger)
			if err != nil {
				return err
			}

			gen := generator.New(generator.OptionsFromConfig(a.cfg.Generator, a.cfg.Synthesis), remote, local, store, builder, ledger, a.logger)
			out := cmd.OutOrStdout()
			onProgress := func(f float64) {
				fmt.Fprintf(cmd.ErrOrStderr(), "\r%3.0f%%", f*100)
			}

			var res generator.Result
			switch mode {
			case "progressive":
				res, err = gen.GenerateProgressive(cmd.Context(), ch, prio, generator.Callbacks{
					OnProgress: onProgress,
					OnQuickStart: func(ref string, timings []hls.VerseTiming) {
						fmt.Fprintf(out, "\rplayable: %s (%d verses)\n", ref, len(timings))
					},
				})
			case "complete":
				res, err = gen.GenerateComplete(cmd.Context(), ch, prio, onProgress)
			default:
				return fmt.Errorf("unknown mode %q", mode)
			}
			fmt.Fprintln(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "complete: %s (%d segments, %s)\n", res.ManifestRef, res.SegmentCount, res.TotalDuration.Round(time.Millisecond))
			return nil
		},
	}
	cmd.Flags().StringVarP(&mode, "mode", "m", "progressive", "generation mode (progressive, complete)")
	cmd.Flags().StringVarP(&priority, "priority", "p", "interactive", "pacing priority (interactive, background, low)")
	return cmd
}

func newValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate CHAPTER_KEY",
		Short: "Check a stored playlist and the segments it names",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, builder, err := a.storage()
			if err != nil {
				return err
			}
			if err := builder.Validate(args[0]); err != nil {
				return err
			}
			state := "in progress"
			if builder.IsComplete(args[0]) {
				state = "complete"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%s)\n", args[0], state)
			return nil
		},
	}
}

func newDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete CHAPTER_KEY",
		Short: "Remove a playlist and its segments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, builder, err := a.storage()
			if err != nil {
				return err
			}
			if _, ok := builder.Manifest(args[0]); !ok {
				return fmt.Errorf("%w: %s", hls.ErrManifestNotFound, args[0])
			}
			if err := builder.Delete(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}
}

func newRunsCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs [CHAPTER_KEY]",
		Short: "Show recorded generation runs",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ledger, err := a.ledger(cmd.Context())
			if err != nil {
				return err
			}
			defer ledger.Close()

			key := ""
			if len(args) == 1 {
				key = args[0]
			}
			runs, err := ledger.ListRuns(cmd.Context(), key, limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "STARTED\tCHAPTER\tMODE\tSTATUS\tSEGMENTS\tAUDIO\t")
			for _, run := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t\n",
					humanize.Time(run.StartedAt), run.ChapterKey, run.Mode, run.Status, run.Segments, run.TotalDuration.Round(time.Millisecond))
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum runs to show")
	return cmd
}
