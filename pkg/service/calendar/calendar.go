package calendar

import (
	"context"
	"iter"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mnemosyne/pkg/domain/interfaces"
	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
	"golang.org/x/time/rate"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// Metadata keys of calendar items
const (
	MetaCalendarID = "calendar_id"
	MetaStartTime  = "start_time"
	MetaEndTime    = "end_time"
	MetaLocation   = "location"
	MetaOrganizer  = "organizer"
)

const maxResults = 250

type lister interface {
	listEvents(ctx context.Context, calendarID string, since time.Time, pageToken string) (*gcal.Events, error)
}

type restLister struct {
	svc *gcal.Service
}

func (l *restLister) listEvents(ctx context.Context, calendarID string, since time.Time, pageToken string) (*gcal.Events, error) {
	call := l.svc.Events.List(calendarID).
		UpdatedMin(since.UTC().Format(time.RFC3339)).
		SingleEvents(true).
		ShowDeleted(false).
		MaxResults(maxResults).
		Context(ctx)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	return call.Do()
}

// Client reads Google Calendar events as source items
type Client struct {
	lister      lister
	calendarIDs []string
	limiter     *rate.Limiter
}

var _ interfaces.SourceClient = &Client{}

// Option is a functional option for Client
type Option func(*Client)

// WithRequestsPerSecond throttles Calendar API calls
func WithRequestsPerSecond(rps float64) Option {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

// New creates a client with application default credentials, or the given
// service account key file when credentialsFile is not empty.
func New(ctx context.Context, calendarIDs []string, credentialsFile string, opts ...Option) (*Client, error) {
	if len(calendarIDs) == 0 {
		return nil, goerr.New("at least one calendar ID is required")
	}

	var clientOpts []option.ClientOption
	clientOpts = append(clientOpts, option.WithScopes(gcal.CalendarReadonlyScope))
	if credentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(credentialsFile))
	}

	svc, err := gcal.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create calendar service")
	}
	return newClient(&restLister{svc: svc}, calendarIDs, opts...), nil
}

func newClient(l lister, calendarIDs []string, opts ...Option) *Client {
	c := &Client{
		lister:      l,
		calendarIDs: calendarIDs,
		limiter:     rate.NewLimiter(rate.Limit(5), 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) SourceType() types.SourceType {
	return types.SourceTypeGoogleCalendar
}

// FetchUpdated yields events updated after since. Cancelled events and events with no
// text are skipped.
func (c *Client) FetchUpdated(ctx context.Context, since time.Time) iter.Seq2[*model.SourceItem, error] {
	return func(yield func(*model.SourceItem, error) bool) {
		for _, calendarID := range c.calendarIDs {
			if !c.fetchCalendar(ctx, calendarID, since, yield) {
				return
			}
		}
	}
}

func (c *Client) fetchCalendar(ctx context.Context, calendarID string, since time.Time, yield func(*model.SourceItem, error) bool) bool {
	var pageToken string
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return yield(nil, goerr.Wrap(err, "rate limiter wait interrupted"))
		}

		events, err := c.lister.listEvents(ctx, calendarID, since, pageToken)
		if err != nil {
			return yield(nil, goerr.Wrap(err, "failed to list events",
				goerr.V("calendarID", calendarID), goerr.V("since", since)))
		}

		for _, event := range events.Items {
			item := toSourceItem(calendarID, event)
			if item == nil {
				continue
			}
			if !yield(item, nil) {
				return false
			}
		}

		if events.NextPageToken == "" {
			return true
		}
		pageToken = events.NextPageToken
	}
}

func toSourceItem(calendarID string, event *gcal.Event) *model.SourceItem {
	if event == nil || event.Id == "" || event.Status == "cancelled" {
		return nil
	}
	content := eventContent(event)
	if content == "" {
		return nil
	}

	start, end := eventTimes(event)
	meta := map[string]any{
		MetaCalendarID:      calendarID,
		MetaStartTime:       start,
		MetaEndTime:         end,
		model.MetaSourceURL: event.HtmlLink,
	}
	if event.Location != "" {
		meta[MetaLocation] = event.Location
	}
	if event.Organizer != nil && event.Organizer.Email != "" {
		meta[MetaOrganizer] = event.Organizer.Email
	}

	title := event.Summary
	if title == "" {
		title = "(no title)"
	}
	return &model.SourceItem{
		SourceID:  event.Id,
		Title:     title,
		Content:   content,
		URL:       event.HtmlLink,
		CreatedAt: parseTime(event.Created),
		UpdatedAt: parseTime(event.Updated),
		Metadata:  meta,
	}
}

func eventContent(event *gcal.Event) string {
	var parts []string
	if event.Summary != "" {
		parts = append(parts, event.Summary)
	}
	if start, end := eventTimes(event); start != "" {
		parts = append(parts, "When: "+start+" - "+end)
	}
	if event.Location != "" {
		parts = append(parts, "Location: "+event.Location)
	}
	if attendees := attendeeNames(event.Attendees); len(attendees) > 0 {
		parts = append(parts, "Attendees: "+strings.Join(attendees, ", "))
	}
	if event.Description != "" {
		parts = append(parts, event.Description)
	}
	return strings.Join(parts, "\n\n")
}

func attendeeNames(attendees []*gcal.EventAttendee) []string {
	var names []string
	for _, a := range attendees {
		switch {
		case a.DisplayName != "":
			names = append(names, a.DisplayName)
		case a.Email != "":
			names = append(names, a.Email)
		}
	}
	return names
}

// eventTimes prefers the timed value and falls back to the all-day date
func eventTimes(event *gcal.Event) (string, string) {
	pick := func(dt *gcal.EventDateTime) string {
		if dt == nil {
			return ""
		}
		if dt.DateTime != "" {
			return dt.DateTime
		}
		return dt.Date
	}
	return pick(event.Start), pick(event.End)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
