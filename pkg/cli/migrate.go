package cli

import (
	"context"

	"github.com/m-mizutani/fireconf"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mnemosyne/pkg/cli/config"
	"github.com/secmon-lab/mnemosyne/pkg/repository/firestore"
	"github.com/secmon-lab/mnemosyne/pkg/repository/postgres"
	"github.com/secmon-lab/mnemosyne/pkg/utils/logging"
	"github.com/secmon-lab/mnemosyne/pkg/utils/safe"
	"github.com/urfave/cli/v3"
)

func cmdMigrate() *cli.Command {
	var dryRun bool
	var repoCfg config.Repository
	var llmCfg config.LLM

	flags := []cli.Flag{
		&cli.BoolFlag{
			Name:        "dry-run",
			Usage:       "Preview changes without applying",
			Destination: &dryRun,
		},
	}
	flags = append(flags, repoCfg.Flags()...)
	flags = append(flags, llmCfg.Flags()...)

	return &cli.Command{
		Name:    "migrate",
		Aliases: []string{"m"},
		Usage:   "Migrate Firestore indexes or PostgreSQL schema",
		Flags:   flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			if err := repoCfg.Validate(); err != nil {
				return err
			}
			dimension := llmCfg.EmbeddingDimension()

			logging.Default().Info("Migrate configuration",
				"repository", repoCfg,
				"embedding_model", llmCfg.EmbeddingModel(),
				"dimension", dimension,
				"dryRun", dryRun)

			switch repoCfg.Backend() {
			case config.BackendFirestore:
				return migrateFirestore(ctx, repoCfg.ProjectID(), repoCfg.DatabaseID(), dimension, dryRun)
			case config.BackendPostgres:
				return migratePostgres(ctx, repoCfg.PostgresDSN(), dimension, dryRun)
			default:
				logging.Default().Info("Nothing to migrate for backend", "backend", repoCfg.Backend())
				return nil
			}
		},
	}
}

func migrateFirestore(ctx context.Context, projectID, databaseID string, dimension int, dryRun bool) error {
	logger := logging.Default()
	indexConfig := getIndexConfig(dimension)

	client, err := fireconf.NewClient(ctx, projectID, databaseID)
	if err != nil {
		return goerr.Wrap(err, "failed to create fireconf client")
	}
	defer func() {
		if err := client.Close(); err != nil {
			logger.Error("failed to close fireconf client", "error", err.Error())
		}
	}()

	if dryRun {
		logger.Info("Dry run mode - previewing changes")
		plan, err := client.GetMigrationPlan(ctx, indexConfig)
		if err != nil {
			return goerr.Wrap(err, "failed to create migration plan")
		}

		if len(plan.Steps) == 0 {
			logger.Info("No changes required")
			return nil
		}

		for _, step := range plan.Steps {
			logger.Info("Migration step",
				"collection", step.Collection,
				"operation", step.Operation,
				"description", step.Description,
				"destructive", step.Destructive)
		}
		return nil
	}

	logger.Info("Applying migrations")
	if err := client.Migrate(ctx, indexConfig); err != nil {
		return goerr.Wrap(err, "failed to apply migrations")
	}
	logger.Info("Migrations applied successfully")
	return nil
}

func migratePostgres(ctx context.Context, dsn string, dimension int, dryRun bool) error {
	logger := logging.Default()

	if dryRun {
		schema, err := postgres.Schema(dimension)
		if err != nil {
			return err
		}
		logger.Info("Dry run mode - schema to apply", "schema", schema)
		return nil
	}

	db, err := postgres.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer safe.Close(ctx, db)

	if err := postgres.Migrate(ctx, db, dimension); err != nil {
		return err
	}
	logger.Info("Schema applied successfully")
	return nil
}

// getIndexConfig returns the Firestore index configuration
func getIndexConfig(dimension int) *fireconf.Config {
	return &fireconf.Config{
		Collections: []fireconf.Collection{
			{
				Name: firestore.CollectionDocuments,
				Indexes: []fireconf.Index{
					// FindBySource: SourceType ASC, SourceID ASC
					{
						Fields: []fireconf.IndexField{
							{Path: "SourceType", Order: fireconf.OrderAscending},
							{Path: "SourceID", Order: fireconf.OrderAscending},
						},
					},
				},
			},
			{
				Name: firestore.CollectionChunks,
				Indexes: []fireconf.Index{
					// ListByDocument: DocumentID ASC, ChunkIndex ASC
					{
						Fields: []fireconf.IndexField{
							{Path: "DocumentID", Order: fireconf.OrderAscending},
							{Path: "ChunkIndex", Order: fireconf.OrderAscending},
						},
					},
				},
			},
			{
				Name: firestore.CollectionEmbeddings,
				Indexes: []fireconf.Index{
					// SearchSimilar filtered by model
					{
						Fields: []fireconf.IndexField{
							{Path: "Model", Order: fireconf.OrderAscending},
							{
								Path: "Embedding",
								Vector: &fireconf.VectorConfig{
									Dimension: dimension,
								},
							},
						},
					},
					// SearchSimilar without model filter
					{
						Fields: []fireconf.IndexField{
							{
								Path: "Embedding",
								Vector: &fireconf.VectorConfig{
									Dimension: dimension,
								},
							},
						},
					},
				},
			},
		},
	}
}
