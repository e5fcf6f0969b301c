package notion_test

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jomei/notionapi"
	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
	"github.com/secmon-lab/mnemosyne/pkg/service/notion"
)

func paragraph(id, text string, hasChildren bool) notionapi.Block {
	return &notionapi.ParagraphBlock{
		BasicBlock: notionapi.BasicBlock{
			ID:          notionapi.BlockID(id),
			Type:        notionapi.BlockTypeParagraph,
			HasChildren: hasChildren,
		},
		Paragraph: notionapi.Paragraph{
			RichText: []notionapi.RichText{{PlainText: text}},
		},
	}
}

func testPage(id, title string, edited time.Time) notionapi.Page {
	return notionapi.Page{
		ID:             notionapi.ObjectID(id),
		CreatedTime:    edited.Add(-time.Hour),
		LastEditedTime: edited,
		URL:            "https://notion.so/" + id,
		Properties: notionapi.Properties{
			"Name": &notionapi.TitleProperty{
				Title: []notionapi.RichText{{PlainText: title}},
			},
			"Status": &notionapi.StatusProperty{
				Status: notionapi.Status{Name: "Done"},
			},
		},
	}
}

func TestClient_FetchUpdated(t *testing.T) {
	edited := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("yields pages across cursors with nested blocks", func(t *testing.T) {
		var queries []notionapi.Cursor
		api := &notion.APIForTest{
			QueryDatabaseFn: func(ctx context.Context, dbID string, since time.Time, cursor notionapi.Cursor) (*notionapi.DatabaseQueryResponse, error) {
				gt.Value(t, dbID).Equal("db-1")
				queries = append(queries, cursor)
				if cursor == "" {
					return &notionapi.DatabaseQueryResponse{
						Results:    []notionapi.Page{testPage("page-1", "Runbook", edited)},
						HasMore:    true,
						NextCursor: "next",
					}, nil
				}
				return &notionapi.DatabaseQueryResponse{
					Results: []notionapi.Page{testPage("page-2", "Postmortem", edited)},
				}, nil
			},
			GetChildrenFn: func(ctx context.Context, blockID string, cursor notionapi.Cursor) (*notionapi.GetChildrenResponse, error) {
				switch blockID {
				case "page-1":
					return &notionapi.GetChildrenResponse{
						Results: []notionapi.Block{paragraph("b1", "Restart the service", true)},
					}, nil
				case "b1":
					return &notionapi.GetChildrenResponse{
						Results: []notionapi.Block{paragraph("b2", "then check logs", false)},
					}, nil
				}
				return &notionapi.GetChildrenResponse{}, nil
			},
		}

		client := notion.NewWithAPIForTest(api, "db-1")
		gt.Value(t, client.SourceType()).Equal(types.SourceTypeNotion)

		var items []*model.SourceItem
		for item, err := range client.FetchUpdated(context.Background(), edited.Add(-24*time.Hour)) {
			gt.NoError(t, err).Required()
			items = append(items, item)
		}

		gt.Array(t, items).Length(2).Required()
		gt.Array(t, queries).Length(2)
		gt.Value(t, items[0].SourceID).Equal("page-1")
		gt.Value(t, items[0].Title).Equal("Runbook")
		gt.Value(t, items[0].URL).Equal("https://notion.so/page-1")
		gt.Value(t, items[0].UpdatedAt).Equal(edited)
		gt.Value(t, items[0].Content).Equal("Status: Done\n\nRestart the service\n  then check logs\n")
		gt.Value(t, items[0].Metadata[notion.MetaDatabaseID]).Equal(any("db-1"))
		gt.Value(t, items[1].Title).Equal("Postmortem")
	})

	t.Run("page failure does not stop iteration", func(t *testing.T) {
		api := &notion.APIForTest{
			QueryDatabaseFn: func(ctx context.Context, dbID string, since time.Time, cursor notionapi.Cursor) (*notionapi.DatabaseQueryResponse, error) {
				return &notionapi.DatabaseQueryResponse{
					Results: []notionapi.Page{testPage("broken", "A", edited), testPage("ok", "B", edited)},
				}, nil
			},
			GetChildrenFn: func(ctx context.Context, blockID string, cursor notionapi.Cursor) (*notionapi.GetChildrenResponse, error) {
				if blockID == "broken" {
					return nil, errors.New("rate limited")
				}
				return &notionapi.GetChildrenResponse{}, nil
			},
		}

		var errs, ok int
		for item, err := range notion.NewWithAPIForTest(api, "db").FetchUpdated(context.Background(), edited) {
			if err != nil {
				errs++
				continue
			}
			gt.Value(t, item.SourceID).Equal("ok")
			ok++
		}
		gt.Value(t, errs).Equal(1)
		gt.Value(t, ok).Equal(1)
	})

	t.Run("stops when consumer breaks", func(t *testing.T) {
		calls := 0
		api := &notion.APIForTest{
			QueryDatabaseFn: func(ctx context.Context, dbID string, since time.Time, cursor notionapi.Cursor) (*notionapi.DatabaseQueryResponse, error) {
				calls++
				return &notionapi.DatabaseQueryResponse{
					Results: []notionapi.Page{testPage("p", "P", edited)},
				}, nil
			},
			GetChildrenFn: func(ctx context.Context, blockID string, cursor notionapi.Cursor) (*notionapi.GetChildrenResponse, error) {
				return &notionapi.GetChildrenResponse{}, nil
			},
		}

		for range notion.NewWithAPIForTest(api, "db-1", "db-2").FetchUpdated(context.Background(), edited) {
			break
		}
		gt.Value(t, calls).Equal(1)
	})
}

func TestNew(t *testing.T) {
	_, err := notion.New("", []string{"db"})
	gt.Error(t, err)

	_, err = notion.New("token", nil)
	gt.Error(t, err)

	_, err = notion.New("token", []string{"not-an-id"})
	gt.Error(t, err).Is(notion.ErrInvalidDatabaseID)

	_, err = notion.New("token", []string{"https://www.notion.so/acme/0123abcdef4567890123456789abcdef"})
	gt.NoError(t, err)
}

func TestClient_Live(t *testing.T) {
	token := os.Getenv("TEST_NOTION_TOKEN")
	dbID := os.Getenv("TEST_NOTION_DATABASE_ID")
	if token == "" || dbID == "" {
		t.Skip("TEST_NOTION_TOKEN or TEST_NOTION_DATABASE_ID not set")
	}

	client, err := notion.New(token, []string{dbID})
	gt.NoError(t, err).Required()

	for item, err := range client.FetchUpdated(context.Background(), time.Now().Add(-30*24*time.Hour)) {
		gt.NoError(t, err).Required()
		gt.String(t, item.SourceID).NotEqual("")
		gt.Bool(t, strings.HasPrefix(item.URL, "https://")).True()
		break
	}
}
