package usecase_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/mnemosyne/pkg/usecase"
)

func signHS256(t *testing.T, secret string, build func(*jwt.Builder) *jwt.Builder) string {
	t.Helper()
	tok, err := build(jwt.NewBuilder()).Build()
	gt.NoError(t, err).Required()
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, []byte(secret)))
	gt.NoError(t, err).Required()
	return string(signed)
}

func TestJWTAuth_HMAC(t *testing.T) {
	ctx := context.Background()
	auth, err := usecase.NewJWTAuthUseCase(
		usecase.WithHMACSecret("s3cret"),
		usecase.WithIssuer("https://issuer.example"),
		usecase.WithAudience("mnemosyne"),
	)
	gt.NoError(t, err).Required()
	gt.Bool(t, auth.IsNoAuthn()).False()

	valid := func(b *jwt.Builder) *jwt.Builder {
		return b.Subject("user-1").Issuer("https://issuer.example").Audience([]string{"mnemosyne"}).Expiration(time.Now().Add(time.Hour))
	}

	t.Run("valid token with bearer prefix", func(t *testing.T) {
		userID, err := auth.Authenticate(ctx, "Bearer "+signHS256(t, "s3cret", valid))
		gt.NoError(t, err).Required()
		gt.Value(t, userID).Equal("user-1")
	})

	testCases := map[string]string{
		"empty":        "",
		"garbage":      "Bearer not-a-jwt",
		"wrong secret": signHS256(t, "other", valid),
		"expired": signHS256(t, "s3cret", func(b *jwt.Builder) *jwt.Builder {
			return valid(b).Expiration(time.Now().Add(-time.Hour))
		}),
		"wrong audience": signHS256(t, "s3cret", func(b *jwt.Builder) *jwt.Builder {
			return valid(b).Audience([]string{"someone-else"})
		}),
		"no subject": signHS256(t, "s3cret", func(b *jwt.Builder) *jwt.Builder {
			return b.Issuer("https://issuer.example").Audience([]string{"mnemosyne"}).Expiration(time.Now().Add(time.Hour))
		}),
	}
	for name, token := range testCases {
		t.Run(name, func(t *testing.T) {
			_, err := auth.Authenticate(ctx, token)
			gt.Error(t, err).Is(usecase.ErrUnauthorized)
		})
	}
}

func TestJWTAuth_JWKS(t *testing.T) {
	raw, err := rsa.GenerateKey(rand.Reader, 2048)
	gt.NoError(t, err).Required()
	priv, err := jwk.FromRaw(raw)
	gt.NoError(t, err).Required()
	gt.NoError(t, priv.Set(jwk.KeyIDKey, "key-1")).Required()
	gt.NoError(t, priv.Set(jwk.AlgorithmKey, jwa.RS256)).Required()

	pub, err := priv.PublicKey()
	gt.NoError(t, err).Required()
	set := jwk.NewSet()
	gt.NoError(t, set.AddKey(pub)).Required()
	body, err := json.Marshal(set)
	gt.NoError(t, err).Required()

	var fetches atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	auth, err := usecase.NewJWTAuthUseCase(usecase.WithJWKSURL(srv.URL))
	gt.NoError(t, err).Required()

	sign := func(sub string) string {
		tok, err := jwt.NewBuilder().Subject(sub).Expiration(time.Now().Add(time.Hour)).Build()
		gt.NoError(t, err).Required()
		signed, err := jwt.Sign(tok, jwt.WithKey(jwa.RS256, priv))
		gt.NoError(t, err).Required()
		return string(signed)
	}

	ctx := context.Background()
	userID, err := auth.Authenticate(ctx, sign("alice"))
	gt.NoError(t, err).Required()
	gt.Value(t, userID).Equal("alice")

	userID, err = auth.Authenticate(ctx, sign("bob"))
	gt.NoError(t, err).Required()
	gt.Value(t, userID).Equal("bob")
	gt.Value(t, fetches.Load()).Equal(int32(1))

	_, err = auth.Authenticate(ctx, signHS256(t, "whatever", func(b *jwt.Builder) *jwt.Builder { return b.Subject("mallory") }))
	gt.Error(t, err).Is(usecase.ErrUnauthorized)
}

func TestNewJWTAuthUseCase_RequiresKey(t *testing.T) {
	_, err := usecase.NewJWTAuthUseCase()
	gt.Value(t, err).NotNil()
}

func TestNoAuthn(t *testing.T) {
	auth := usecase.NewNoAuthnUseCase("local-user")
	gt.Bool(t, auth.IsNoAuthn()).True()

	userID, err := auth.Authenticate(context.Background(), "")
	gt.NoError(t, err).Required()
	gt.Value(t, userID).Equal("local-user")
}
