package calendar

import (
	"context"
	"time"

	gcal "google.golang.org/api/calendar/v3"
)

type ListerForTest func(ctx context.Context, calendarID string, since time.Time, pageToken string) (*gcal.Events, error)

func (f ListerForTest) listEvents(ctx context.Context, calendarID string, since time.Time, pageToken string) (*gcal.Events, error) {
	return f(ctx, calendarID, since, pageToken)
}

func NewWithListerForTest(l ListerForTest, calendarIDs []string, opts ...Option) *Client {
	return newClient(l, calendarIDs, opts...)
}
