package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"triage/pkg/bus"
	"triage/pkg/db"
	gos3 "triage/pkg/s3"
	"triage/pkg/triage"
	"triage/services/scraper"
)

func newScrapeCommand(a *app) *cobra.Command {
	var (
		maxNew             int
		ignoreLastScrape   bool
		owned              bool
		refreshNonTerminal bool
		strictOrder        bool
		noVerify           bool
	)

	cmd := &cobra.Command{
		Use:   "scrape <target-dir>",
		Short: "Mirror new reports and samples from the feed into a directory",
		Long: `Walk the feed newest first, caching every report under <target-dir>/reports
and downloading each new file sample once under <target-dir>/samples, until
the previous scrape time, the download budget or the end of the feed is
reached. The scrape time is recorded in <target-dir>/state.json.

The target directory must exist. Do not run two scrapes against the same
directory at the same time.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, err := a.client()
			if err != nil {
				return err
			}

			sinks, cleanup, err := a.sinks(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			scope := triage.ScopePublic
			if owned {
				scope = triage.ScopeOwned
			}
			refresh := scraper.RefreshNever
			if refreshNonTerminal {
				refresh = scraper.RefreshNonTerminal
			}

			engine, err := scraper.New(scraper.Config{
				Source:          client,
				TargetDir:       args[0],
				MaxNewSamples:   maxNew,
				IgnoreWatermark: ignoreLastScrape,
				Scope:           scope,
				VerifyDigest:    !noVerify,
				RefreshPolicy:   refresh,
				StrictOrder:     strictOrder,
				Logger:          a.log,
				Sinks:           sinks,
			})
			if err != nil {
				return err
			}

			summary, runErr := engine.Run(ctx)
			if a.cfg.Pushgateway != "" {
				if err := engine.Metrics().Push(context.WithoutCancel(ctx), a.cfg.Pushgateway, serviceName); err != nil {
					a.log.Warn().Err(err).Str("url", a.cfg.Pushgateway).Msg("push metrics")
				}
			}
			if runErr != nil {
				return runErr
			}
			return a.print(cmd, "summary", summary)
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&maxNew, "max-new-sample-count", scraper.DefaultMaxNewSamples, "Stop after downloading this many new samples")
	flags.BoolVar(&ignoreLastScrape, "ignore-last-scrape-date", false, "Walk past the previous scrape time")
	flags.BoolVar(&owned, "owned", false, "Mirror your own submissions instead of the public feed")
	flags.BoolVar(&refreshNonTerminal, "refresh-nonterminal", false, "Refetch cached reports of submissions still being analysed")
	flags.BoolVar(&strictOrder, "strict-order", false, "Fail when the feed is not sorted newest first")
	flags.BoolVar(&noVerify, "no-verify", false, "Skip checking downloaded samples against their sha256")
	return cmd
}

// sinks builds the configured notification sinks. cleanup releases their
// connections and is always safe to call.
func (a *app) sinks(ctx context.Context) ([]scraper.Sink, func(), error) {
	var (
		sinks   []scraper.Sink
		closers []func()
		cleanup = func() {
			for i := len(closers) - 1; i >= 0; i-- {
				closers[i]()
			}
		}
	)

	if a.cfg.S3.Enabled() {
		client, err := gos3.NewClient(ctx, s3Config(a))
		if err != nil {
			return nil, cleanup, fmt.Errorf("s3 client: %w", err)
		}
		sinks = append(sinks, scraper.NewS3Mirror(client, a.cfg.S3.Bucket, a.cfg.S3.Prefix))
	}

	if a.cfg.NATSURL != "" {
		b, err := bus.New(a.cfg.NATSURL)
		if err != nil {
			cleanup()
			return nil, func() {}, err
		}
		closers = append(closers, b.Close)
		if err := b.EnsureStream(scraper.StreamName, scraper.SubjectSampleStored, scraper.SubjectScrapeFinished); err != nil {
			cleanup()
			return nil, func() {}, err
		}
		sinks = append(sinks, scraper.NewBusNotifier(b))
	}

	if a.cfg.CatalogDSN != "" {
		pool, err := db.Open(ctx, a.cfg.CatalogDSN)
		if err != nil {
			cleanup()
			return nil, func() {}, fmt.Errorf("open catalog: %w", err)
		}
		closers = append(closers, pool.Close)
		if err := db.Migrate(ctx, pool); err != nil {
			cleanup()
			return nil, func() {}, fmt.Errorf("migrate catalog: %w", err)
		}
		sinks = append(sinks, scraper.NewCatalog(pool))
	}

	for _, s := range sinks {
		a.log.Debug().Str("sink", s.Name()).Msg("sink enabled")
	}
	return sinks, cleanup, nil
}

func s3Config(a *app) gos3.Config {
	return gos3.Config{
		Endpoint:       a.cfg.S3.Endpoint,
		AccessKey:      a.cfg.S3.AccessKey,
		SecretKey:      a.cfg.S3.SecretKey,
		Region:         a.cfg.S3.Region,
		DisableTLS:     a.cfg.S3.DisableTLS,
		ForcePathStyle: a.cfg.S3.ForcePathStyle,
	}
}
