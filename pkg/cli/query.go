package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
	"github.com/urfave/cli/v3"
)

func cmdQuery() *cli.Command {
	var userID string
	var asJSON bool
	var appCfg appConfig

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "user-id",
			Aliases:     []string{"u"},
			Usage:       "User whose documents are searched",
			Required:    true,
			Sources:     cli.EnvVars("MNEMOSYNE_USER_ID"),
			Destination: &userID,
		},
		&cli.BoolFlag{
			Name:        "json",
			Usage:       "Print the full result as JSON",
			Destination: &asJSON,
		},
	}
	flags = append(flags, appCfg.Flags()...)

	return &cli.Command{
		Name:      "query",
		Aliases:   []string{"q"},
		Usage:     "Answer a question from ingested documents",
		ArgsUsage: "QUESTION",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			text := strings.Join(c.Args().Slice(), " ")
			if strings.TrimSpace(text) == "" {
				return goerr.New("question is required")
			}

			uc, cleanup, err := appCfg.build(ctx)
			defer cleanup()
			if err != nil {
				return err
			}

			result, err := uc.Query.ProcessQuery(ctx, model.Query{Text: text, UserID: userID})
			if err != nil {
				return goerr.Wrap(err, "failed to process query")
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				if err := enc.Encode(result); err != nil {
					return goerr.Wrap(err, "failed to write result")
				}
				return nil
			}
			return printAnswer(os.Stdout, result)
		},
	}
}

func printAnswer(w io.Writer, result *model.QueryResult) error {
	var b strings.Builder
	b.WriteString(result.Answer)
	b.WriteString("\n")
	if len(result.Sources) > 0 {
		b.WriteString("\nSources:\n")
		for i, src := range result.Sources {
			fmt.Fprintf(&b, "  [%d] %s (%s, similarity %.2f)\n", i+1, src.Title, src.DocumentID, src.Similarity)
		}
	}
	if _, err := io.WriteString(w, b.String()); err != nil {
		return goerr.Wrap(err, "failed to write answer")
	}
	return nil
}
