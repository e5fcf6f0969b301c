package config

import (
	"log/slog"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mnemosyne/pkg/usecase"
	"github.com/urfave/cli/v3"
)

// Auth holds CLI flags for API authentication
type Auth struct {
	jwtSecret string
	jwksURL   string
	issuer    string
	audience  string
	noAuthUID string
}

// Flags returns CLI flags for authentication configuration
func (x *Auth) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "jwt-secret",
			Usage:       "HMAC secret verifying HS256 bearer tokens",
			Category:    "Authentication",
			Sources:     cli.EnvVars("MNEMOSYNE_JWT_SECRET"),
			Destination: &x.jwtSecret,
		},
		&cli.StringFlag{
			Name:        "jwks-url",
			Usage:       "JWKS endpoint verifying bearer tokens",
			Category:    "Authentication",
			Sources:     cli.EnvVars("MNEMOSYNE_JWKS_URL"),
			Destination: &x.jwksURL,
		},
		&cli.StringFlag{
			Name:        "jwt-issuer",
			Usage:       "Required iss claim",
			Category:    "Authentication",
			Sources:     cli.EnvVars("MNEMOSYNE_JWT_ISSUER"),
			Destination: &x.issuer,
		},
		&cli.StringFlag{
			Name:        "jwt-audience",
			Usage:       "Required aud claim",
			Category:    "Authentication",
			Sources:     cli.EnvVars("MNEMOSYNE_JWT_AUDIENCE"),
			Destination: &x.audience,
		},
		&cli.StringFlag{
			Name:        "no-auth",
			Usage:       "Skip authentication and run as specified user ID (development only). Example: --no-auth=local-user",
			Category:    "Authentication",
			Sources:     cli.EnvVars("MNEMOSYNE_NO_AUTH"),
			Destination: &x.noAuthUID,
		},
	}
}

// LogAttrs returns log attributes for the authentication configuration
func (x *Auth) LogAttrs() []slog.Attr {
	return []slog.Attr{
		slog.Bool("hmac", x.jwtSecret != ""),
		slog.String("jwks_url", x.jwksURL),
		slog.String("issuer", x.issuer),
		slog.String("audience", x.audience),
		slog.String("no_auth_uid", x.noAuthUID),
	}
}

// IsNoAuthMode returns true when requests run as a fixed user
func (x *Auth) IsNoAuthMode() bool {
	return x.noAuthUID != ""
}

// Configure returns the authentication use case. The no-auth mode takes precedence.
func (x *Auth) Configure() (usecase.AuthUseCaseInterface, error) {
	if x.noAuthUID != "" {
		return usecase.NewNoAuthnUseCase(x.noAuthUID), nil
	}

	if x.jwtSecret != "" && x.jwksURL != "" {
		return nil, goerr.New("jwt-secret and jwks-url are mutually exclusive")
	}

	var opts []usecase.AuthOption
	switch {
	case x.jwtSecret != "":
		opts = append(opts, usecase.WithHMACSecret(x.jwtSecret))
	case x.jwksURL != "":
		opts = append(opts, usecase.WithJWKSURL(x.jwksURL))
	default:
		return nil, goerr.New("authentication is not configured: set --jwt-secret, --jwks-url or --no-auth")
	}
	if x.issuer != "" {
		opts = append(opts, usecase.WithIssuer(x.issuer))
	}
	if x.audience != "" {
		opts = append(opts, usecase.WithAudience(x.audience))
	}

	return usecase.NewJWTAuthUseCase(opts...)
}
