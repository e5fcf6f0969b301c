package config_test

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/mnemosyne/pkg/cli/config"
	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
	"github.com/secmon-lab/mnemosyne/pkg/utils/logging"
)

func TestLogger_Configure(t *testing.T) {
	t.Run("json to file masks secrets", func(t *testing.T) {
		prev := logging.Default()
		t.Cleanup(func() { logging.SetDefault(prev) })

		path := filepath.Join(t.TempDir(), "app.log")
		closer, err := config.NewLoggerForTest("info", "json", path).Configure()
		gt.NoError(t, err).Required()

		logging.Default().Info("configured", slog.Any("cred", struct {
			Token string
		}{Token: "very-secret-token"}))
		closer()

		data, err := os.ReadFile(path)
		gt.NoError(t, err).Required()
		gt.String(t, string(data)).Contains("configured")
		gt.String(t, string(data)).NotContains("very-secret-token")
	})

	t.Run("invalid level", func(t *testing.T) {
		_, err := config.NewLoggerForTest("verbose", "json", "stdout").Configure()
		gt.Error(t, err)
	})

	t.Run("invalid format", func(t *testing.T) {
		_, err := config.NewLoggerForTest("info", "xml", "stdout").Configure()
		gt.Error(t, err)
	})
}

func TestAuth_Configure(t *testing.T) {
	t.Run("no-auth wins", func(t *testing.T) {
		uc, err := config.NewAuthForTest("secret", "", "dev").Configure()
		gt.NoError(t, err).Required()
		gt.Bool(t, uc.IsNoAuthn()).True()

		uid, err := uc.Authenticate(context.Background(), "")
		gt.NoError(t, err)
		gt.Value(t, uid).Equal("dev")
	})

	t.Run("hmac", func(t *testing.T) {
		uc, err := config.NewAuthForTest("secret", "", "").Configure()
		gt.NoError(t, err).Required()
		gt.Bool(t, uc.IsNoAuthn()).False()
	})

	t.Run("secret and jwks are exclusive", func(t *testing.T) {
		_, err := config.NewAuthForTest("secret", "https://example.com/jwks.json", "").Configure()
		gt.Error(t, err)
	})

	t.Run("nothing configured", func(t *testing.T) {
		_, err := config.NewAuthForTest("", "", "").Configure()
		gt.Error(t, err)
	})
}

func TestCache_Configure(t *testing.T) {
	t.Run("memory", func(t *testing.T) {
		c, closer, err := config.NewCacheForTest("memory", time.Hour, 10, "").Configure(context.Background())
		gt.NoError(t, err).Required()
		defer closer()

		ctx := context.Background()
		gt.NoError(t, c.Set(ctx, "k", &model.QueryResult{Answer: "a"}))
		got, err := c.Get(ctx, "k")
		gt.NoError(t, err).Required()
		gt.Value(t, got).NotNil().Required()
		gt.Value(t, got.Answer).Equal("a")
	})

	tests := []struct {
		name string
		cfg  *config.Cache
	}{
		{name: "zero ttl", cfg: config.NewCacheForTest("memory", 0, 10, "")},
		{name: "zero entries", cfg: config.NewCacheForTest("memory", time.Hour, 0, "")},
		{name: "redis without addr", cfg: config.NewCacheForTest("redis", time.Hour, 10, "")},
		{name: "unknown backend", cfg: config.NewCacheForTest("memcached", time.Hour, 10, "")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := tt.cfg.Configure(context.Background())
			gt.Error(t, err)
		})
	}
}

func TestLLM_GeminiOptions(t *testing.T) {
	t.Run("custom embedding model reaches the client", func(t *testing.T) {
		embed, chat := config.GeminiModelsForTest(config.NewGeminiLLMForTest("gemini-embedding-001", ""))
		gt.Value(t, embed).Equal("gemini-embedding-001")
		gt.Value(t, chat).Equal("")
	})

	t.Run("default embedding model is explicit", func(t *testing.T) {
		embed, chat := config.GeminiModelsForTest(config.NewGeminiLLMForTest("", "gemini-2.5-flash"))
		gt.Value(t, embed).Equal(model.DefaultEmbeddingModel)
		gt.Value(t, chat).Equal("gemini-2.5-flash")
	})
}

func TestLLM_EmbeddingModel(t *testing.T) {
	gt.Value(t, config.NewLLMForTest(config.ProviderGemini, "").EmbeddingModel()).Equal(model.DefaultEmbeddingModel)
	gt.Value(t, config.NewLLMForTest(config.ProviderGemini, "").EmbeddingDimension()).Equal(model.EmbeddingDimension)
	gt.Value(t, config.NewLLMForTest(config.ProviderOpenAI, "custom-embed").EmbeddingModel()).Equal("custom-embed")

	_, err := config.NewLLMForTest(config.ProviderGemini, "").Configure(context.Background())
	gt.Error(t, err)
	_, err = config.NewLLMForTest("anthropic", "").Configure(context.Background())
	gt.Error(t, err)
}

func TestRepository_Validate(t *testing.T) {
	gt.NoError(t, config.NewRepositoryForTest(config.BackendMemory, "", "").Validate())
	gt.NoError(t, config.NewRepositoryForTest(config.BackendFirestore, "proj", "").Validate())
	gt.Error(t, config.NewRepositoryForTest(config.BackendFirestore, "", "").Validate())
	gt.Error(t, config.NewRepositoryForTest(config.BackendPostgres, "", "").Validate())
	gt.Error(t, config.NewRepositoryForTest("mysql", "", "").Validate())
}

func TestSource_Configure(t *testing.T) {
	t.Run("no source", func(t *testing.T) {
		sources, err := config.NewSourceForTest("", nil, "", 0).Configure(context.Background())
		gt.NoError(t, err)
		gt.A(t, sources).Length(0)
	})

	t.Run("notion requires database", func(t *testing.T) {
		_, err := config.NewSourceForTest("token", nil, "user", time.Minute).Configure(context.Background())
		gt.Error(t, err)
	})

	t.Run("notion requires user", func(t *testing.T) {
		_, err := config.NewSourceForTest("token", []string{"0123abcdef4567890123456789abcdef"}, "", time.Minute).Configure(context.Background())
		gt.Error(t, err)
	})

	t.Run("notion", func(t *testing.T) {
		sources, err := config.NewSourceForTest("token", []string{"0123abcdef4567890123456789abcdef"}, "user", time.Minute).Configure(context.Background())
		gt.NoError(t, err)
		gt.A(t, sources).Length(1)
	})

	t.Run("github", func(t *testing.T) {
		sources, err := config.NewGitHubSourceForTest("token", []string{"acme/api"}, "user").Configure(context.Background())
		gt.NoError(t, err)
		gt.A(t, sources).Length(1)
	})

	t.Run("github requires credentials", func(t *testing.T) {
		_, err := config.NewGitHubSourceForTest("", []string{"acme/api"}, "user").Configure(context.Background())
		gt.Error(t, err)
	})

	t.Run("github rejects bad repository", func(t *testing.T) {
		_, err := config.NewGitHubSourceForTest("token", []string{"acme"}, "user").Configure(context.Background())
		gt.Error(t, err)
	})
}
