package cli

import (
	"context"
	"log/slog"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mnemosyne/pkg/cli/config"
	"github.com/secmon-lab/mnemosyne/pkg/service/embedding"
	"github.com/secmon-lab/mnemosyne/pkg/usecase"
	"github.com/secmon-lab/mnemosyne/pkg/utils/logging"
	"github.com/secmon-lab/mnemosyne/pkg/utils/safe"
	"github.com/urfave/cli/v3"
)

// appConfig bundles the flag groups shared by commands that run the pipelines
type appConfig struct {
	repo     config.Repository
	llm      config.LLM
	blob     config.Blob
	cache    config.Cache
	source   config.Source
	pipeline config.Pipeline
}

func (x *appConfig) Flags() []cli.Flag {
	var flags []cli.Flag
	flags = append(flags, x.pipeline.Flags()...)
	flags = append(flags, x.repo.Flags()...)
	flags = append(flags, x.llm.Flags()...)
	flags = append(flags, x.blob.Flags()...)
	flags = append(flags, x.cache.Flags()...)
	flags = append(flags, x.source.Flags()...)
	return flags
}

func group(key string, attrs []slog.Attr) slog.Attr {
	return slog.Attr{Key: key, Value: slog.GroupValue(attrs...)}
}

// build creates the use cases. The returned function releases every opened client
// and must be called even when build fails halfway.
func (x *appConfig) build(ctx context.Context, opts ...usecase.Option) (*usecase.UseCases, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	logging.Default().Info("Pipeline configuration",
		group("pipeline", x.pipeline.LogAttrs()),
		group("repository", x.repo.LogAttrs()),
		group("llm", x.llm.LogAttrs()),
		group("blob", x.blob.LogAttrs()),
		group("cache", x.cache.LogAttrs()),
		group("source", x.source.LogAttrs()),
	)

	pipelineOpts, err := x.pipeline.Configure()
	if err != nil {
		return nil, cleanup, goerr.Wrap(err, "failed to load pipeline configuration")
	}

	repo, err := x.repo.Configure(ctx)
	if err != nil {
		return nil, cleanup, goerr.Wrap(err, "failed to initialize repository")
	}
	closers = append(closers, safe.CloseFunc(ctx, "repository", repo))

	provider, err := x.llm.Configure(ctx)
	if err != nil {
		return nil, cleanup, goerr.Wrap(err, "failed to initialize LLM provider")
	}

	store, err := x.blob.Configure(ctx)
	if err != nil {
		return nil, cleanup, err
	}
	if store != nil {
		closers = append(closers, safe.CloseFunc(ctx, "blob storage", store))
	} else {
		logging.Default().Warn("Blob storage not configured, file ingestion is disabled")
	}

	queryCache, closeCache, err := x.cache.Configure(ctx)
	if err != nil {
		return nil, cleanup, goerr.Wrap(err, "failed to initialize query cache")
	}
	closers = append(closers, closeCache)

	sources, err := x.source.Configure(ctx)
	if err != nil {
		return nil, cleanup, goerr.Wrap(err, "failed to initialize sources")
	}

	ucOpts := []usecase.Option{
		usecase.WithQueryCache(queryCache),
		usecase.WithEmbeddingOptions(embedding.WithDimension(x.llm.EmbeddingDimension())),
	}
	if store != nil {
		ucOpts = append(ucOpts, usecase.WithBlobStorage(store))
	}
	if len(sources) > 0 {
		ucOpts = append(ucOpts,
			usecase.WithSources(x.source.UserID(), sources...),
			usecase.WithSyncLookback(x.source.Lookback()),
		)
	}
	ucOpts = append(ucOpts, pipelineOpts...)
	ucOpts = append(ucOpts, opts...)

	uc, err := usecase.New(repo, provider, provider, ucOpts...)
	if err != nil {
		return nil, cleanup, goerr.Wrap(err, "failed to initialize use cases")
	}
	return uc, cleanup, nil
}
