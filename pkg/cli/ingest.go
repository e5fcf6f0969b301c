package cli

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
	"github.com/secmon-lab/mnemosyne/pkg/service/blob"
	"github.com/secmon-lab/mnemosyne/pkg/usecase"
	"github.com/secmon-lab/mnemosyne/pkg/utils/logging"
	"github.com/secmon-lab/mnemosyne/pkg/utils/safe"
	"github.com/urfave/cli/v3"
)

func cmdIngest() *cli.Command {
	var userID string
	var title string
	var fileType string
	var text string
	var appCfg appConfig

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "user-id",
			Aliases:     []string{"u"},
			Usage:       "Owner of the ingested document",
			Required:    true,
			Sources:     cli.EnvVars("MNEMOSYNE_USER_ID"),
			Destination: &userID,
		},
		&cli.StringFlag{
			Name:        "title",
			Usage:       "Document title (default: file name)",
			Destination: &title,
		},
		&cli.StringFlag{
			Name:        "type",
			Usage:       "File type (pdf, docx, txt, md or MIME type). Guessed from the file name when empty",
			Destination: &fileType,
		},
		&cli.StringFlag{
			Name:        "text",
			Usage:       "Ingest the given text instead of a file",
			Destination: &text,
		},
	}
	flags = append(flags, appCfg.Flags()...)

	return &cli.Command{
		Name:      "ingest",
		Aliases:   []string{"i"},
		Usage:     "Ingest a local file and wait for it to be processed",
		ArgsUsage: "[FILE]",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			input := usecase.ProcessDocumentInput{
				UserID:     userID,
				Title:      title,
				RawContent: text,
			}

			var opts []usecase.Option
			if text == "" {
				if c.Args().Len() != 1 {
					return goerr.New("exactly one file path or --text is required")
				}
				path, err := filepath.Abs(c.Args().First())
				if err != nil {
					return goerr.Wrap(err, "failed to resolve file path", goerr.V("path", c.Args().First()))
				}

				if fileType == "" {
					fileType = path
				}
				ft, err := types.ParseFileType(fileType)
				if err != nil {
					return goerr.Wrap(err, "unsupported file type", goerr.V("type", fileType))
				}

				store, err := blob.NewFS(filepath.Dir(path))
				if err != nil {
					return err
				}
				defer safe.Close(ctx, store)
				opts = append(opts, usecase.WithBlobStorage(store))

				input.FilePath = filepath.Base(path)
				input.FileType = ft
				if input.Title == "" {
					input.Title = input.FilePath
				}
				input.Metadata = map[string]any{"filename": input.FilePath}
			}

			uc, cleanup, err := appCfg.build(ctx, opts...)
			defer cleanup()
			if err != nil {
				return err
			}

			result, err := uc.Document.ProcessDocument(ctx, input)
			if err != nil {
				return goerr.Wrap(err, "failed to ingest document")
			}
			logging.Default().Info("Document ingested",
				"document_id", result.DocumentID,
				"chunks", result.ChunkCount,
				"embedded", result.EmbeddedCount,
				"failed_embeddings", result.FailedEmbeddings,
			)

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(result); err != nil {
				return goerr.Wrap(err, "failed to write result")
			}
			return nil
		},
	}
}
