package config

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/sethvargo/go-envconfig"

	"triage/pkg/triage"
)

// Version is reported in the default User-Agent.
const Version = "1.0.0"

// S3 configures the optional object-storage mirror.
type S3 struct {
	Endpoint       string `env:"ENDPOINT"`
	AccessKey      string `env:"ACCESS_KEY"`
	SecretKey      string `env:"SECRET_KEY"`
	Region         string `env:"REGION,default=us-east-1"`
	Bucket         string `env:"BUCKET"`
	Prefix         string `env:"PREFIX,default=samples/"`
	DisableTLS     bool   `env:"DISABLE_TLS,default=false"`
	ForcePathStyle bool   `env:"FORCE_PATH_STYLE,default=true"`
}

// Enabled reports whether enough is set to talk to a bucket.
func (s S3) Enabled() bool {
	return s.Bucket != "" && s.AccessKey != "" && s.SecretKey != ""
}

// Config holds runtime configuration for triagectl.
type Config struct {
	AccessKey    string        `env:"HATCHING_TRIAGE_ACCESS_KEY"`
	BaseURL      string        `env:"TRIAGE_BASE_URL,default=https://api.tria.ge/v0"`
	UserAgent    string        `env:"TRIAGE_USER_AGENT"`
	Timeout      time.Duration `env:"TRIAGE_TIMEOUT,default=10s"`
	Debug        bool          `env:"TRIAGE_DEBUG,default=false"`
	LogFormat    string        `env:"TRIAGE_LOG_FORMAT,default=console"`
	OTLPEndpoint string        `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	Pushgateway  string        `env:"TRIAGE_PUSHGATEWAY_URL"`
	NATSURL      string        `env:"TRIAGE_NATS_URL"`
	CatalogDSN   string        `env:"TRIAGE_CATALOG_DSN"`

	ArchiveSecretKey string `env:"TRIAGE_ARCHIVE_SECRET_KEY"`
	ArchivePublicKey string `env:"TRIAGE_ARCHIVE_PUBLIC_KEY"`

	S3 S3 `env:", prefix=S3_"`
}

// Load returns a Config populated from environment variables.
func Load(ctx context.Context) (Config, error) {
	return load(ctx, envconfig.OsLookuper())
}

func load(ctx context.Context, lookuper envconfig.Lookuper) (Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	}); err != nil {
		return Config{}, err
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent()
	}
	if cfg.Timeout <= 0 {
		return Config{}, fmt.Errorf("TRIAGE_TIMEOUT must be positive, got %s", cfg.Timeout)
	}
	return cfg, nil
}

// DefaultUserAgent identifies the client, runtime and platform.
func DefaultUserAgent() string {
	return fmt.Sprintf("HatchingTriageClient/%s (%s) %s (%s)", Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// ClientOptions maps the config onto API client options.
func (c Config) ClientOptions() triage.Options {
	return triage.Options{
		BaseURL:   c.BaseURL,
		AccessKey: c.AccessKey,
		UserAgent: c.UserAgent,
		Timeout:   c.Timeout,
	}
}
