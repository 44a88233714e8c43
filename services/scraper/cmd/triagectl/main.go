package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"triage/pkg/render"
	"triage/pkg/telemetry"
	"triage/pkg/triage"
	"triage/services/scraper/internal/config"
)

const serviceName = "triagectl"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// app carries process-wide state set up before any subcommand runs.
type app struct {
	cfg      config.Config
	log      zerolog.Logger
	render   *render.Engine
	shutdown func(context.Context) error

	accessKey string
	userAgent string
	logFormat string
	debug     bool
}

func newRootCommand() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:           serviceName,
		Short:         "Client for the tria.ge sandbox and incremental feed mirror",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.accessKey, "access-key", "", "API access key (default $HATCHING_TRIAGE_ACCESS_KEY)")
	flags.StringVar(&a.userAgent, "user-agent", "", "User-Agent sent with every request")
	flags.StringVar(&a.logFormat, "log-format", "", "Log output format: console or json")
	flags.BoolVar(&a.debug, "debug", false, "Enable debug logging")

	cmd.AddCommand(
		newFeedCommand(a),
		newReportCommand(a),
		newDownloadCommand(a),
		newSubmitCommand(a),
		newStatusCommand(a),
		newScrapeCommand(a),
		newArchiveCommand(a),
		newServeCommand(a),
		newEventsCommand(a),
	)
	return cmd
}

func (a *app) init(cmd *cobra.Command) error {
	_ = godotenv.Load()

	cfg, err := config.Load(cmd.Context())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	flags := cmd.Flags()
	if flags.Changed("access-key") {
		cfg.AccessKey = a.accessKey
	}
	if flags.Changed("user-agent") {
		cfg.UserAgent = a.userAgent
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = a.logFormat
	}
	if flags.Changed("debug") {
		cfg.Debug = a.debug
	}
	a.cfg = cfg

	shutdown, logger, err := telemetry.Init(cmd.Context(), telemetry.Options{
		Service:  serviceName,
		Endpoint: cfg.OTLPEndpoint,
		Debug:    cfg.Debug,
		Format:   cfg.LogFormat,
		Out:      os.Stderr,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	a.shutdown = shutdown
	a.log = logger

	if a.render, err = render.New(); err != nil {
		return err
	}
	return nil
}

func (a *app) close() error {
	if a.shutdown == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.shutdown(ctx); err != nil {
		a.log.Warn().Err(err).Msg("telemetry shutdown")
	}
	return nil
}

// client builds an API client. Commands that talk to the sandbox need a key.
func (a *app) client() (*triage.Client, error) {
	if a.cfg.AccessKey == "" {
		return nil, fmt.Errorf("access key required: set HATCHING_TRIAGE_ACCESS_KEY or pass --access-key")
	}
	opts := a.cfg.ClientOptions()
	opts.Transport = telemetry.Transport(triage.NewTransport())
	return triage.NewClient(opts)
}

func (a *app) print(cmd *cobra.Command, template string, data any) error {
	line, err := a.render.Render(template, data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), line)
	return err
}
