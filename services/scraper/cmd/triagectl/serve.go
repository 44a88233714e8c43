package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"triage/pkg/db"
	gos3 "triage/pkg/s3"
	"triage/services/mirror"
	"triage/services/scraper"
)

func newServeCommand(a *app) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve <target-dir>",
		Short: "Serve a mirror directory over HTTP",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			opts := mirror.Options{
				Dir:     args[0],
				Service: serviceName,
				Logger:  a.log,
			}

			if a.cfg.S3.Enabled() {
				client, err := gos3.NewClient(ctx, s3Config(a))
				if err != nil {
					return fmt.Errorf("s3 client: %w", err)
				}
				opts.Presigner = client
				opts.Bucket = a.cfg.S3.Bucket
				opts.Prefix = a.cfg.S3.Prefix
			}
			if a.cfg.CatalogDSN != "" {
				pool, err := db.Open(ctx, a.cfg.CatalogDSN)
				if err != nil {
					return fmt.Errorf("open catalog: %w", err)
				}
				defer pool.Close()
				if err := db.Migrate(ctx, pool); err != nil {
					return fmt.Errorf("migrate catalog: %w", err)
				}
				opts.Catalog = scraper.NewCatalog(pool)
			}

			srv, err := mirror.NewServer(opts)
			if err != nil {
				return err
			}
			server := &http.Server{
				Addr:              addr,
				Handler:           srv.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
					a.log.Error().Err(err).Msg("server shutdown")
				}
			}()

			a.log.Info().Str("addr", addr).Str("dir", args[0]).Msg("serving mirror")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "Listen address")
	return cmd
}
