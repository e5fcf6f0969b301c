package cli

import (
	"context"
	"errors"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mnemosyne/pkg/usecase"
	"github.com/urfave/cli/v3"
)

func cmdSync() *cli.Command {
	var appCfg appConfig

	return &cli.Command{
		Name:  "sync",
		Usage: "Pull configured external sources once and ingest changed items",
		Flags: appCfg.Flags(),
		Action: func(ctx context.Context, c *cli.Command) error {
			uc, cleanup, err := appCfg.build(ctx)
			defer cleanup()
			if err != nil {
				return err
			}

			if err := uc.Sync.SyncAll(ctx); err != nil {
				if errors.Is(err, usecase.ErrSyncDisabled) {
					return goerr.Wrap(err, "configure a notion, calendar, slack or github source with --sync-user-id")
				}
				return goerr.Wrap(err, "source sync completed with errors")
			}
			return nil
		},
	}
}
