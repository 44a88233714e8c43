package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"triage/pkg/bus"
	"triage/services/scraper"
)

func newEventsCommand(a *app) *cobra.Command {
	var durable string

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Follow sample-stored events published by scrapes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.NATSURL == "" {
				return errors.New("TRIAGE_NATS_URL is required")
			}
			ctx := cmd.Context()
			b, err := bus.New(a.cfg.NATSURL)
			if err != nil {
				return err
			}
			defer b.Close()
			if err := b.EnsureStream(scraper.StreamName, scraper.SubjectSampleStored, scraper.SubjectScrapeFinished); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			sub, err := b.Subscribe(ctx, scraper.SubjectSampleStored, durable, func(_ context.Context, data []byte) error {
				var ev scraper.ArtifactEvent
				if err := json.Unmarshal(data, &ev); err != nil {
					a.log.Warn().Err(err).Msg("drop malformed event")
					return nil
				}
				_, err := fmt.Fprintf(out, "%s %s %d\n", ev.SHA256, ev.SampleID, ev.Size)
				return err
			})
			if err != nil {
				return err
			}
			defer sub.Close()

			<-ctx.Done()
			return nil
		},
	}

	cmd.Flags().StringVar(&durable, "durable", serviceName, "Durable consumer name")
	return cmd
}
