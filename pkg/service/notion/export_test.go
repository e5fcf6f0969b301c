package notion

import (
	"context"
	"time"

	"github.com/jomei/notionapi"
)

type APIForTest struct {
	QueryDatabaseFn func(ctx context.Context, dbID string, since time.Time, cursor notionapi.Cursor) (*notionapi.DatabaseQueryResponse, error)
	GetChildrenFn   func(ctx context.Context, blockID string, cursor notionapi.Cursor) (*notionapi.GetChildrenResponse, error)
}

func (a *APIForTest) queryDatabase(ctx context.Context, dbID string, since time.Time, cursor notionapi.Cursor) (*notionapi.DatabaseQueryResponse, error) {
	return a.QueryDatabaseFn(ctx, dbID, since, cursor)
}

func (a *APIForTest) getChildren(ctx context.Context, blockID string, cursor notionapi.Cursor) (*notionapi.GetChildrenResponse, error) {
	return a.GetChildrenFn(ctx, blockID, cursor)
}

func NewWithAPIForTest(a *APIForTest, databaseIDs ...string) *Client {
	return &Client{api: a, databaseIDs: databaseIDs}
}
