package usecase

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mnemosyne/pkg/utils/logging"
)

// AuthUseCaseInterface resolves the user of a request from its bearer token
type AuthUseCaseInterface interface {
	Authenticate(ctx context.Context, bearer string) (string, error)
	IsNoAuthn() bool
}

const jwksRefreshInterval = 15 * time.Minute

// JWTAuthUseCase verifies JWTs signed with a shared HMAC secret or with a key from a
// JWKS endpoint. The user ID is the sub claim.
type JWTAuthUseCase struct {
	secret   []byte
	jwksURL  string
	issuer   string
	audience string
	cache    *authCache

	keyMu     sync.Mutex
	keySet    jwk.Set
	fetchedAt time.Time
}

// AuthOption is a functional option for JWTAuthUseCase
type AuthOption func(*JWTAuthUseCase)

// WithHMACSecret verifies HS256 tokens with secret
func WithHMACSecret(secret string) AuthOption {
	return func(uc *JWTAuthUseCase) {
		uc.secret = []byte(secret)
	}
}

// WithJWKSURL verifies tokens with keys fetched from url
func WithJWKSURL(url string) AuthOption {
	return func(uc *JWTAuthUseCase) {
		uc.jwksURL = url
	}
}

// WithIssuer requires the iss claim to match
func WithIssuer(iss string) AuthOption {
	return func(uc *JWTAuthUseCase) {
		uc.issuer = iss
	}
}

// WithAudience requires the aud claim to contain aud
func WithAudience(aud string) AuthOption {
	return func(uc *JWTAuthUseCase) {
		uc.audience = aud
	}
}

// NewJWTAuthUseCase creates a JWT authenticator. WithHMACSecret or WithJWKSURL is
// required.
func NewJWTAuthUseCase(options ...AuthOption) (*JWTAuthUseCase, error) {
	uc := &JWTAuthUseCase{cache: newAuthCache()}
	for _, opt := range options {
		opt(uc)
	}
	if len(uc.secret) == 0 && uc.jwksURL == "" {
		return nil, goerr.New("either HMAC secret or JWKS URL is required")
	}
	return uc, nil
}

func (uc *JWTAuthUseCase) IsNoAuthn() bool {
	return false
}

// Authenticate accepts the raw token or an "Authorization: Bearer" header value
func (uc *JWTAuthUseCase) Authenticate(ctx context.Context, bearer string) (string, error) {
	raw := strings.TrimSpace(bearer)
	if len(raw) > 7 && strings.EqualFold(raw[:7], "bearer ") {
		raw = strings.TrimSpace(raw[7:])
	}
	if raw == "" {
		return "", goerr.Wrap(ErrUnauthorized, "bearer token is missing")
	}

	if userID, ok := uc.cache.get(raw); ok {
		return userID, nil
	}

	parseOpts := []jwt.ParseOption{
		jwt.WithValidate(true),
		jwt.WithAcceptableSkew(10 * time.Second),
	}
	if uc.issuer != "" {
		parseOpts = append(parseOpts, jwt.WithIssuer(uc.issuer))
	}
	if uc.audience != "" {
		parseOpts = append(parseOpts, jwt.WithAudience(uc.audience))
	}

	if len(uc.secret) > 0 {
		parseOpts = append(parseOpts, jwt.WithKey(jwa.HS256, uc.secret))
	} else {
		set, err := uc.keys(ctx)
		if err != nil {
			return "", err
		}
		parseOpts = append(parseOpts, jwt.WithKeySet(set, jws.WithInferAlgorithmFromKey(true)))
	}

	token, err := jwt.Parse([]byte(raw), parseOpts...)
	if err != nil {
		logging.From(ctx).Debug("token verification failed", "error", err.Error())
		return "", goerr.Wrap(ErrUnauthorized, "invalid token", goerr.V("cause", err.Error()))
	}
	if token.Subject() == "" {
		return "", goerr.Wrap(ErrUnauthorized, "token has no subject")
	}

	uc.cache.set(raw, token.Subject(), token.Expiration())
	return token.Subject(), nil
}

// keys returns the JWKS, refetching it when older than jwksRefreshInterval. A failed
// refresh keeps serving the previous set.
func (uc *JWTAuthUseCase) keys(ctx context.Context) (jwk.Set, error) {
	uc.keyMu.Lock()
	defer uc.keyMu.Unlock()

	if uc.keySet != nil && time.Since(uc.fetchedAt) < jwksRefreshInterval {
		return uc.keySet, nil
	}

	set, err := jwk.Fetch(ctx, uc.jwksURL)
	if err != nil {
		if uc.keySet != nil {
			logging.From(ctx).Warn("failed to refresh JWKS, using cached keys", "error", err.Error())
			return uc.keySet, nil
		}
		return nil, goerr.Wrap(err, "failed to fetch JWKS", goerr.V("url", uc.jwksURL))
	}
	uc.keySet = set
	uc.fetchedAt = time.Now()
	return set, nil
}
