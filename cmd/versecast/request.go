package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/loqalabs/versecast/internal/bus"
	"github.com/loqalabs/versecast/internal/chapter"
	"github.com/loqalabs/versecast/internal/protocol"
)

func newRequestCmd(a *app) *cobra.Command {
	var (
		mode     string
		priority string
		wait     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "request CHAPTER_FILE",
		Short: "Ask a running daemon to generate a chapter and follow its events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ch, err := chapter.Load(args[0])
			if err != nil {
				return err
			}
			client, err := bus.Connect(cmd.Context(), a.cfg.Bus, a.logger)
			if err != nil {
				return err
			}
			defer client.Close()

			events := make(chan *nats.Msg, 64)
			sub, err := client.Conn().ChanSubscribe(protocol.EventSubject(ch.Key()), events)
			if err != nil {
				return err
			}
			defer sub.Unsubscribe()

			req := protocol.GenerateRequest{
				RequestID:   uuid.NewString(),
				Translation: ch.Translation,
				Book:        ch.Book,
				Chapter:     ch.Number,
				Priority:    priority,
				Mode:        mode,
			}
			for _, v := range ch.Verses {
				req.Verses = append(req.Verses, protocol.VerseText{Number: v.Number, Text: v.Text})
			}
			data, err := json.Marshal(req)
			if err != nil {
				return err
			}
			reply, err := client.Conn().Request(protocol.SubjectGenerateRequest, data, 5*time.Second)
			if err != nil {
				return fmt.Errorf("send request: %w", err)
			}
			var ack protocol.Ack
			if err := json.Unmarshal(reply.Data, &ack); err != nil {
				return fmt.Errorf("decode ack: %w", err)
			}
			if !ack.Accepted {
				return fmt.Errorf("request rejected: %s", ack.Error)
			}

			out := cmd.OutOrStdout()
			timeout := time.NewTimer(wait)
			defer timeout.Stop()
			for {
				select {
				case <-cmd.Context().Done():
					return cmd.Context().Err()
				case <-timeout.C:
					return fmt.Errorf("no terminal event for %s within %s", ch.Key(), wait)
				case msg := <-events:
					var ev protocol.GenerationEvent
					if err := json.Unmarshal(msg.Data, &ev); err != nil {
						a.logger.Warn("undecodable event", slog.String("error", err.Error()))
						continue
					}
					if ev.RequestID != req.RequestID {
						continue
					}
					switch ev.Type {
					case protocol.EventProgress:
						fmt.Fprintf(cmd.ErrOrStderr(), "\r%3.0f%%", ev.Progress*100)
					case protocol.EventQuickStart, protocol.EventUpdate:
						fmt.Fprintf(out, "\r%s: %s (%d verses)\n", ev.Type, ev.ManifestRef, len(ev.Timings))
					case protocol.EventComplete:
						fmt.Fprintf(out, "\rcomplete: %s (%d segments, %s)\n", ev.ManifestRef, ev.SegmentCount, time.Duration(ev.TotalDurationMS)*time.Millisecond)
						return nil
					case protocol.EventCancelled:
						return fmt.Errorf("generation of %s was cancelled", ev.ChapterKey)
					case protocol.EventFailed:
						return fmt.Errorf("generation failed (%s during %s): %s", ev.ErrorKind, ev.Phase, ev.Error)
					}
				}
			}
		},
	}
	cmd.Flags().StringVarP(&mode, "mode", "m", protocol.ModeProgressive, "request mode (progressive, precache)")
	cmd.Flags().StringVarP(&priority, "priority", "p", "", "pacing priority (interactive, background, low)")
	cmd.Flags().DurationVar(&wait, "wait", 10*time.Minute, "how long to follow events")
	return cmd
}
