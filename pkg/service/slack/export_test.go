package slack

import (
	"context"

	"github.com/slack-go/slack"
)

type APIForTest struct {
	HistoryFn     func(ctx context.Context, channelID, oldest, cursor string) ([]slack.Message, string, error)
	RepliesFn     func(ctx context.Context, channelID, ts, cursor string) ([]slack.Message, string, error)
	ChannelNameFn func(ctx context.Context, channelID string) (string, error)
	UserNameFn    func(ctx context.Context, userID string) (string, error)
}

func (a *APIForTest) history(ctx context.Context, channelID, oldest, cursor string) ([]slack.Message, string, error) {
	return a.HistoryFn(ctx, channelID, oldest, cursor)
}

func (a *APIForTest) replies(ctx context.Context, channelID, ts, cursor string) ([]slack.Message, string, error) {
	return a.RepliesFn(ctx, channelID, ts, cursor)
}

func (a *APIForTest) channelName(ctx context.Context, channelID string) (string, error) {
	return a.ChannelNameFn(ctx, channelID)
}

func (a *APIForTest) userName(ctx context.Context, userID string) (string, error) {
	return a.UserNameFn(ctx, userID)
}

func NewWithAPIForTest(a *APIForTest, channelIDs []string, opts ...Option) *Client {
	return newClient(a, channelIDs, opts...)
}

var (
	ParseTS  = parseTS
	FormatTS = formatTS
)
