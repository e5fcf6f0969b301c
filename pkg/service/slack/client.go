package slack

import (
	"context"
	"fmt"
	"iter"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mnemosyne/pkg/domain/interfaces"
	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
	"github.com/slack-go/slack"
	"golang.org/x/time/rate"
)

const (
	// DefaultCacheTTL is the default TTL of channel and user name lookups
	DefaultCacheTTL = 10 * time.Minute

	// maxTitleRunes bounds the message excerpt used as document title
	maxTitleRunes = 80

	pageLimit = 200
)

// Metadata keys of Slack items
const (
	MetaChannelID = "slack_channel_id"
	MetaChannel   = "slack_channel"
	MetaThreadTS  = "slack_thread_ts"
	MetaReplies   = "slack_reply_count"
)

// api is the subset of the Slack Web API used for syncing
type api interface {
	history(ctx context.Context, channelID, oldest, cursor string) ([]slack.Message, string, error)
	replies(ctx context.Context, channelID, ts, cursor string) ([]slack.Message, string, error)
	channelName(ctx context.Context, channelID string) (string, error)
	userName(ctx context.Context, userID string) (string, error)
}

type restAPI struct {
	client *slack.Client
}

func (a *restAPI) history(ctx context.Context, channelID, oldest, cursor string) ([]slack.Message, string, error) {
	resp, err := a.client.GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
		ChannelID: channelID,
		Oldest:    oldest,
		Cursor:    cursor,
		Limit:     pageLimit,
	})
	if err != nil {
		return nil, "", err
	}
	return resp.Messages, resp.ResponseMetaData.NextCursor, nil
}

func (a *restAPI) replies(ctx context.Context, channelID, ts, cursor string) ([]slack.Message, string, error) {
	msgs, _, next, err := a.client.GetConversationRepliesContext(ctx, &slack.GetConversationRepliesParameters{
		ChannelID: channelID,
		Timestamp: ts,
		Cursor:    cursor,
		Limit:     pageLimit,
	})
	return msgs, next, err
}

func (a *restAPI) channelName(ctx context.Context, channelID string) (string, error) {
	info, err := a.client.GetConversationInfoContext(ctx, &slack.GetConversationInfoInput{ChannelID: channelID})
	if err != nil {
		return "", err
	}
	return info.Name, nil
}

func (a *restAPI) userName(ctx context.Context, userID string) (string, error) {
	user, err := a.client.GetUserInfoContext(ctx, userID)
	if err != nil {
		return "", err
	}
	if user.RealName != "" {
		return user.RealName, nil
	}
	return user.Name, nil
}

// cacheEntry holds a resolved name with expiration
type cacheEntry struct {
	name      string
	expiresAt time.Time
}

// Client reads threads of Slack channels as source items. One top-level message and
// its replies become one item.
type Client struct {
	api        api
	channelIDs []string
	cacheTTL   time.Duration
	limiter    *rate.Limiter

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

var _ interfaces.SourceClient = &Client{}

// Option is a functional option for Client configuration
type Option func(*Client)

// WithCacheTTL sets the TTL of channel and user name lookups
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *Client) {
		c.cacheTTL = ttl
	}
}

// WithRequestsPerSecond throttles Web API calls. Tier 3 methods allow about 50 per
// minute.
func WithRequestsPerSecond(rps float64) Option {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

// New creates a client with the provided bot token
func New(token string, channelIDs []string, opts ...Option) (*Client, error) {
	if token == "" {
		return nil, goerr.New("Slack bot token is required")
	}
	if len(channelIDs) == 0 {
		return nil, goerr.New("at least one Slack channel ID is required")
	}
	return newClient(&restAPI{client: slack.New(token)}, channelIDs, opts...), nil
}

func newClient(a api, channelIDs []string, opts ...Option) *Client {
	c := &Client{
		api:        a,
		channelIDs: channelIDs,
		cacheTTL:   DefaultCacheTTL,
		limiter:    rate.NewLimiter(rate.Every(time.Second), 1),
		cache:      make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) SourceType() types.SourceType {
	return types.SourceTypeSlack
}

// FetchUpdated yields threads started after since. Replies posted later to an older
// thread are not picked up.
func (c *Client) FetchUpdated(ctx context.Context, since time.Time) iter.Seq2[*model.SourceItem, error] {
	return func(yield func(*model.SourceItem, error) bool) {
		for _, channelID := range c.channelIDs {
			if !c.fetchChannel(ctx, channelID, since, yield) {
				return
			}
		}
	}
}

func (c *Client) fetchChannel(ctx context.Context, channelID string, since time.Time, yield func(*model.SourceItem, error) bool) bool {
	channel := c.resolve(ctx, "channel:"+channelID, func(ctx context.Context) (string, error) {
		return c.api.channelName(ctx, channelID)
	})
	if channel == "" {
		channel = channelID
	}

	var cursor string
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return yield(nil, goerr.Wrap(err, "rate limiter wait interrupted"))
		}
		msgs, next, err := c.api.history(ctx, channelID, formatTS(since), cursor)
		if err != nil {
			return yield(nil, goerr.Wrap(err, "failed to get conversation history",
				goerr.V("channel_id", channelID), goerr.V("since", since)))
		}

		for _, msg := range msgs {
			if !isThreadRoot(msg) {
				continue
			}
			thread := []slack.Message{msg}
			if msg.ReplyCount > 0 {
				replies, err := c.fetchReplies(ctx, channelID, msg.Timestamp)
				if err != nil {
					if !yield(nil, err) {
						return false
					}
					continue
				}
				thread = append(thread, replies...)
			}

			item := c.toSourceItem(ctx, channelID, channel, thread)
			if item == nil {
				continue
			}
			if !yield(item, nil) {
				return false
			}
		}

		if next == "" {
			return true
		}
		cursor = next
	}
}

// fetchReplies returns replies of a thread without its root message
func (c *Client) fetchReplies(ctx context.Context, channelID, ts string) ([]slack.Message, error) {
	var replies []slack.Message
	var cursor string
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, goerr.Wrap(err, "rate limiter wait interrupted")
		}
		msgs, next, err := c.api.replies(ctx, channelID, ts, cursor)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to get thread replies",
				goerr.V("channel_id", channelID), goerr.V("thread_ts", ts))
		}
		for _, m := range msgs {
			if m.Timestamp != ts && isContent(m) {
				replies = append(replies, m)
			}
		}
		if next == "" {
			return replies, nil
		}
		cursor = next
	}
}

// isContent excludes join, leave and other system messages
func isContent(msg slack.Message) bool {
	switch msg.SubType {
	case "", "bot_message", "thread_broadcast", "file_share", "me_message":
		return strings.TrimSpace(msg.Text) != ""
	}
	return false
}

func isThreadRoot(msg slack.Message) bool {
	if msg.ThreadTimestamp != "" && msg.ThreadTimestamp != msg.Timestamp {
		return false
	}
	return isContent(msg)
}

func (c *Client) toSourceItem(ctx context.Context, channelID, channel string, thread []slack.Message) *model.SourceItem {
	root := thread[0]
	created := parseTS(root.Timestamp)
	updated := created

	lines := make([]string, 0, len(thread))
	for _, m := range thread {
		lines = append(lines, c.author(ctx, m)+": "+strings.TrimSpace(m.Text))
		if ts := parseTS(m.Timestamp); ts.After(updated) {
			updated = ts
		}
		if m.Edited != nil {
			if ts := parseTS(m.Edited.Timestamp); ts.After(updated) {
				updated = ts
			}
		}
	}

	return &model.SourceItem{
		SourceID:  channelID + ":" + root.Timestamp,
		Title:     "#" + channel + ": " + excerpt(root.Text, maxTitleRunes),
		Content:   strings.Join(lines, "\n\n"),
		CreatedAt: created,
		UpdatedAt: updated,
		Metadata: map[string]any{
			MetaChannelID: channelID,
			MetaChannel:   channel,
			MetaThreadTS:  root.Timestamp,
			MetaReplies:   len(thread) - 1,
		},
	}
}

func (c *Client) author(ctx context.Context, msg slack.Message) string {
	if msg.User == "" {
		if msg.Username != "" {
			return msg.Username
		}
		return "bot"
	}
	name := c.resolve(ctx, "user:"+msg.User, func(ctx context.Context) (string, error) {
		return c.api.userName(ctx, msg.User)
	})
	if name == "" {
		return msg.User
	}
	return name
}

// resolve returns a cached name, or looks it up. A failed lookup yields "" and is
// not cached.
func (c *Client) resolve(ctx context.Context, key string, lookup func(context.Context) (string, error)) string {
	now := time.Now()

	c.mu.RLock()
	entry, ok := c.cache[key]
	c.mu.RUnlock()
	if ok && entry.expiresAt.After(now) {
		return entry.name
	}

	name, err := lookup(ctx)
	if err != nil {
		return ""
	}

	c.mu.Lock()
	c.cache[key] = cacheEntry{name: name, expiresAt: now.Add(c.cacheTTL)}
	c.mu.Unlock()
	return name
}

func excerpt(text string, maxRunes int) string {
	line, _, _ := strings.Cut(strings.TrimSpace(text), "\n")
	runes := []rune(line)
	if len(runes) <= maxRunes {
		return line
	}
	return string(runes[:maxRunes]) + "..."
}

// parseTS converts a Slack message timestamp ("1700000000.000200") to time
func parseTS(ts string) time.Time {
	sec, frac, _ := strings.Cut(ts, ".")
	s, err := strconv.ParseInt(sec, 10, 64)
	if err != nil {
		return time.Time{}
	}
	var micro int64
	if frac != "" {
		micro, _ = strconv.ParseInt(frac, 10, 64)
	}
	return time.Unix(s, micro*int64(time.Microsecond)).UTC()
}

func formatTS(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return fmt.Sprintf("%d.%06d", t.Unix(), t.Nanosecond()/int(time.Microsecond))
}
