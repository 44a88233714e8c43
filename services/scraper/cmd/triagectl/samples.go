package main

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"triage/pkg/triage"
)

func newFeedCommand(a *app) *cobra.Command {
	var (
		owned    bool
		paginate bool
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "feed",
		Short: "List feed items, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			scope := triage.ScopePublic
			if owned {
				scope = triage.ScopeOwned
			}
			for item, err := range client.Feed(cmd.Context(), triage.FeedOptions{Scope: scope, PageSize: limit, Paginate: paginate}) {
				if err != nil {
					return err
				}
				if err := a.print(cmd, "feed", item); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&owned, "owned", false, "List your own submissions instead of the public feed")
	cmd.Flags().BoolVar(&paginate, "paginate", false, "Follow the feed past the first page")
	cmd.Flags().IntVar(&limit, "limit", triage.MaxPageSize, "Items per page (at most 200)")
	return cmd
}

func newReportCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "report <sample-id>",
		Short: "Print the static report of a sample",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			raw, err := client.Report(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(raw))
			return err
		},
	}
}

func newDownloadCommand(a *app) *cobra.Command {
	var outputDir string

	cmd := &cobra.Command{
		Use:   "download <sample-id>",
		Short: "Download a sample, naming the file by its sha256",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			data, err := client.Download(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			sum := sha256.Sum256(data)
			path := filepath.Join(outputDir, hex.EncodeToString(sum[:]))
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return fmt.Errorf("write sample: %w", err)
			}
			a.log.Info().Str("sample", args[0]).Str("path", path).Int("size", len(data)).Msg("sample downloaded")
			_, err = fmt.Fprintln(cmd.OutOrStdout(), path)
			return err
		},
	}

	cmd.Flags().StringVar(&outputDir, "output-dir", ".", "Directory to write the sample to")
	return cmd
}

func newStatusCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status <sample-id>",
		Short: "Show the analysis status of a submission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			info, err := client.Sample(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.print(cmd, "status", info)
		},
	}
}

func newSubmitCommand(a *app) *cobra.Command {
	var (
		wait     bool
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "submit <file|url>",
		Short: "Submit a file or URL for analysis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if interval <= 0 {
				return errors.New("--interval must be positive")
			}
			client, err := a.client()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			target := args[0]

			var info triage.SampleInfo
			if f, openErr := os.Open(target); openErr == nil {
				st, statErr := f.Stat()
				if statErr != nil {
					f.Close()
					return fmt.Errorf("stat %s: %w", target, statErr)
				}
				if !st.Mode().IsRegular() {
					f.Close()
					return fmt.Errorf("%s is not a regular file", target)
				}
				info, err = client.SubmitFile(ctx, filepath.Base(target), f)
				f.Close()
			} else if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
				info, err = client.SubmitURL(ctx, target)
			} else {
				return fmt.Errorf("%s is neither a readable file nor an http(s) url: %w", target, openErr)
			}
			if err != nil {
				return err
			}
			a.log.Info().Str("sample", info.ID).Msg("submitted")
			if err := a.print(cmd, "status", info); err != nil {
				return err
			}
			if !wait {
				return nil
			}

			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			last := info.Status
			for !last.Terminal() {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-ticker.C:
				}
				info, err = client.Sample(ctx, info.ID)
				if err != nil {
					return err
				}
				if info.Status != last {
					last = info.Status
					if err := a.print(cmd, "status", info); err != nil {
						return err
					}
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&wait, "wait", false, "Poll until the analysis reaches a terminal status")
	cmd.Flags().DurationVar(&interval, "interval", 5*time.Second, "Polling interval for --wait")
	return cmd
}
