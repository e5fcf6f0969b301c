package config

import (
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

// Sentry holds CLI flags for error reporting
type Sentry struct {
	dsn         string
	environment string
	release     string
}

// Flags returns CLI flags for Sentry configuration
func (x *Sentry) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "sentry-dsn",
			Usage:       "Sentry DSN. Errors are only reported when set",
			Category:    "Sentry",
			Sources:     cli.EnvVars("MNEMOSYNE_SENTRY_DSN"),
			Destination: &x.dsn,
		},
		&cli.StringFlag{
			Name:        "sentry-env",
			Usage:       "Sentry environment",
			Category:    "Sentry",
			Sources:     cli.EnvVars("MNEMOSYNE_SENTRY_ENV"),
			Destination: &x.environment,
		},
		&cli.StringFlag{
			Name:        "sentry-release",
			Usage:       "Sentry release",
			Category:    "Sentry",
			Sources:     cli.EnvVars("MNEMOSYNE_SENTRY_RELEASE"),
			Destination: &x.release,
		},
	}
}

// LogAttrs returns log attributes for the Sentry configuration. The DSN is not logged.
func (x *Sentry) LogAttrs() []slog.Attr {
	return []slog.Attr{
		slog.Bool("enabled", x.dsn != ""),
		slog.String("environment", x.environment),
		slog.String("release", x.release),
	}
}

// Configure initializes the Sentry client. The returned function flushes pending
// events. Without a DSN it does nothing.
func (x *Sentry) Configure() (func(), error) {
	if x.dsn == "" {
		return func() {}, nil
	}

	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         x.dsn,
		Environment: x.environment,
		Release:     x.release,
	}); err != nil {
		return nil, goerr.Wrap(err, "failed to initialize sentry")
	}

	return func() {
		sentry.Flush(2 * time.Second)
	}, nil
}
