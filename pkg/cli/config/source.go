package config

import (
	"context"
	"log/slog"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mnemosyne/pkg/domain/interfaces"
	"github.com/secmon-lab/mnemosyne/pkg/service/calendar"
	"github.com/secmon-lab/mnemosyne/pkg/service/github"
	"github.com/secmon-lab/mnemosyne/pkg/service/notion"
	"github.com/secmon-lab/mnemosyne/pkg/service/slack"
	"github.com/urfave/cli/v3"
)

// Source holds CLI flags for external sources synced into the document store
type Source struct {
	notionToken       string
	notionDatabaseIDs []string
	calendarIDs       []string
	credentialsFile   string
	calendarRPS       float64
	slackToken        string
	slackChannelIDs   []string

	githubToken          string
	githubAppID          int64
	githubInstallationID int64
	githubPrivateKey     string
	githubRepositories   []string

	userID   string
	interval time.Duration
	lookback time.Duration
}

// Flags returns CLI flags for source sync configuration
func (x *Source) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "notion-api-token",
			Usage:       "Notion API token for source sync",
			Category:    "Source",
			Sources:     cli.EnvVars("MNEMOSYNE_NOTION_API_TOKEN"),
			Destination: &x.notionToken,
		},
		&cli.StringSliceFlag{
			Name:        "notion-database-id",
			Usage:       "Notion database to sync (repeatable)",
			Category:    "Source",
			Sources:     cli.EnvVars("MNEMOSYNE_NOTION_DATABASE_IDS"),
			Destination: &x.notionDatabaseIDs,
		},
		&cli.StringSliceFlag{
			Name:        "calendar-id",
			Usage:       "Google Calendar to sync (repeatable)",
			Category:    "Source",
			Sources:     cli.EnvVars("MNEMOSYNE_CALENDAR_IDS"),
			Destination: &x.calendarIDs,
		},
		&cli.StringFlag{
			Name:        "google-credentials-file",
			Usage:       "Service account key for Google Calendar. Application default credentials are used when empty",
			Category:    "Source",
			Sources:     cli.EnvVars("MNEMOSYNE_GOOGLE_CREDENTIALS_FILE"),
			Destination: &x.credentialsFile,
		},
		&cli.FloatFlag{
			Name:        "calendar-rps",
			Usage:       "Google Calendar API requests per second",
			Value:       5,
			Category:    "Source",
			Sources:     cli.EnvVars("MNEMOSYNE_CALENDAR_RPS"),
			Destination: &x.calendarRPS,
		},
		&cli.StringFlag{
			Name:        "slack-bot-token",
			Usage:       "Slack bot token for channel history sync",
			Category:    "Source",
			Sources:     cli.EnvVars("MNEMOSYNE_SLACK_BOT_TOKEN"),
			Destination: &x.slackToken,
		},
		&cli.StringSliceFlag{
			Name:        "slack-channel-id",
			Usage:       "Slack channel to sync (repeatable)",
			Category:    "Source",
			Sources:     cli.EnvVars("MNEMOSYNE_SLACK_CHANNEL_IDS"),
			Destination: &x.slackChannelIDs,
		},
		&cli.StringFlag{
			Name:        "github-token",
			Usage:       "GitHub token for issue and pull request sync",
			Category:    "Source",
			Sources:     cli.EnvVars("MNEMOSYNE_GITHUB_TOKEN"),
			Destination: &x.githubToken,
		},
		&cli.Int64Flag{
			Name:        "github-app-id",
			Usage:       "GitHub App ID, used instead of --github-token",
			Category:    "Source",
			Sources:     cli.EnvVars("MNEMOSYNE_GITHUB_APP_ID"),
			Destination: &x.githubAppID,
		},
		&cli.Int64Flag{
			Name:        "github-app-installation-id",
			Usage:       "GitHub App installation ID",
			Category:    "Source",
			Sources:     cli.EnvVars("MNEMOSYNE_GITHUB_APP_INSTALLATION_ID"),
			Destination: &x.githubInstallationID,
		},
		&cli.StringFlag{
			Name:        "github-app-private-key",
			Usage:       "GitHub App private key (PEM string or file path)",
			Category:    "Source",
			Sources:     cli.EnvVars("MNEMOSYNE_GITHUB_APP_PRIVATE_KEY"),
			Destination: &x.githubPrivateKey,
		},
		&cli.StringSliceFlag{
			Name:        "github-repository",
			Usage:       "GitHub repository to sync as owner/name (repeatable)",
			Category:    "Source",
			Sources:     cli.EnvVars("MNEMOSYNE_GITHUB_REPOSITORIES"),
			Destination: &x.githubRepositories,
		},
		&cli.StringFlag{
			Name:        "sync-user-id",
			Usage:       "User owning documents synced from sources",
			Category:    "Source",
			Sources:     cli.EnvVars("MNEMOSYNE_SYNC_USER_ID"),
			Destination: &x.userID,
		},
		&cli.DurationFlag{
			Name:        "sync-interval",
			Usage:       "Interval of source sync",
			Value:       15 * time.Minute,
			Category:    "Source",
			Sources:     cli.EnvVars("MNEMOSYNE_SYNC_INTERVAL"),
			Destination: &x.interval,
		},
		&cli.DurationFlag{
			Name:        "sync-lookback",
			Usage:       "How far back the first sync of a source reads",
			Value:       30 * 24 * time.Hour,
			Category:    "Source",
			Sources:     cli.EnvVars("MNEMOSYNE_SYNC_LOOKBACK"),
			Destination: &x.lookback,
		},
	}
}

// LogAttrs returns log attributes for the source configuration
func (x *Source) LogAttrs() []slog.Attr {
	return []slog.Attr{
		slog.Bool("notion", x.notionToken != ""),
		slog.Any("notion_database_ids", x.notionDatabaseIDs),
		slog.Any("calendar_ids", x.calendarIDs),
		slog.Bool("slack", x.slackToken != ""),
		slog.Any("slack_channel_ids", x.slackChannelIDs),
		slog.Bool("github_token", x.githubToken != ""),
		slog.Int64("github_app_id", x.githubAppID),
		slog.Any("github_repositories", x.githubRepositories),
		slog.String("user_id", x.userID),
		slog.Duration("interval", x.interval),
		slog.Duration("lookback", x.lookback),
	}
}

// UserID returns the owner of synced documents
func (x *Source) UserID() string {
	return x.userID
}

// Interval returns the sync interval
func (x *Source) Interval() time.Duration {
	return x.interval
}

// Lookback returns how far back a first sync reads
func (x *Source) Lookback() time.Duration {
	return x.lookback
}

// Configure creates the enabled source clients. No source configured returns an
// empty list.
func (x *Source) Configure(ctx context.Context) ([]interfaces.SourceClient, error) {
	var sources []interfaces.SourceClient

	if x.notionToken != "" {
		if len(x.notionDatabaseIDs) == 0 {
			return nil, goerr.New("notion-database-id is required when notion-api-token is set")
		}
		client, err := notion.New(x.notionToken, x.notionDatabaseIDs)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to initialize notion source")
		}
		sources = append(sources, client)
	}

	if len(x.calendarIDs) > 0 {
		client, err := calendar.New(ctx, x.calendarIDs, x.credentialsFile, calendar.WithRequestsPerSecond(x.calendarRPS))
		if err != nil {
			return nil, goerr.Wrap(err, "failed to initialize calendar source")
		}
		sources = append(sources, client)
	}

	if x.slackToken != "" {
		client, err := slack.New(x.slackToken, x.slackChannelIDs)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to initialize slack source")
		}
		sources = append(sources, client)
	}

	if len(x.githubRepositories) > 0 {
		client, err := x.configureGitHub()
		if err != nil {
			return nil, goerr.Wrap(err, "failed to initialize github source")
		}
		sources = append(sources, client)
	}

	if len(sources) > 0 {
		if x.userID == "" {
			return nil, goerr.New("sync-user-id is required when a source is configured")
		}
		if x.interval <= 0 {
			return nil, goerr.New("sync-interval must be positive", goerr.V("interval", x.interval))
		}
	}
	return sources, nil
}

func (x *Source) configureGitHub() (*github.Client, error) {
	repos := make([]github.Repository, 0, len(x.githubRepositories))
	for _, s := range x.githubRepositories {
		repo, err := github.ParseRepository(s)
		if err != nil {
			return nil, err
		}
		repos = append(repos, repo)
	}

	switch {
	case x.githubAppID != 0:
		if x.githubInstallationID == 0 || x.githubPrivateKey == "" {
			return nil, goerr.New("github-app-installation-id and github-app-private-key are required with github-app-id")
		}
		return github.NewWithApp(x.githubAppID, x.githubInstallationID, x.githubPrivateKey, repos)
	case x.githubToken != "":
		return github.NewWithToken(x.githubToken, repos)
	default:
		return nil, goerr.New("github-token or github-app-id is required when github-repository is set")
	}
}
