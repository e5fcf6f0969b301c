package notion

import (
	"context"
	"iter"
	"time"

	"github.com/jomei/notionapi"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mnemosyne/pkg/domain/interfaces"
	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
)

// MetaDatabaseID is the metadata key of the Notion database a page belongs to
const MetaDatabaseID = "notion_database_id"

const pageSize = 100

// api is the subset of the Notion API used for syncing
type api interface {
	queryDatabase(ctx context.Context, dbID string, since time.Time, cursor notionapi.Cursor) (*notionapi.DatabaseQueryResponse, error)
	getChildren(ctx context.Context, blockID string, cursor notionapi.Cursor) (*notionapi.GetChildrenResponse, error)
}

type restAPI struct {
	client *notionapi.Client
}

func (a *restAPI) queryDatabase(ctx context.Context, dbID string, since time.Time, cursor notionapi.Cursor) (*notionapi.DatabaseQueryResponse, error) {
	onOrAfter := notionapi.Date(since)
	return a.client.Database.Query(ctx, notionapi.DatabaseID(dbID), &notionapi.DatabaseQueryRequest{
		Filter: &notionapi.TimestampFilter{
			Timestamp: "last_edited_time",
			LastEditedTime: &notionapi.DateFilterCondition{
				OnOrAfter: &onOrAfter,
			},
		},
		StartCursor: cursor,
		PageSize:    pageSize,
	})
}

func (a *restAPI) getChildren(ctx context.Context, blockID string, cursor notionapi.Cursor) (*notionapi.GetChildrenResponse, error) {
	return a.client.Block.GetChildren(ctx, notionapi.BlockID(blockID), &notionapi.Pagination{
		StartCursor: cursor,
		PageSize:    pageSize,
	})
}

// Client reads pages of Notion databases as source items
type Client struct {
	api         api
	databaseIDs []string
}

var _ interfaces.SourceClient = &Client{}

// New creates a client for the given databases
func New(token string, databaseIDs []string) (*Client, error) {
	if token == "" {
		return nil, goerr.New("Notion API token is required")
	}
	if len(databaseIDs) == 0 {
		return nil, goerr.New("at least one Notion database ID is required")
	}

	ids := make([]string, len(databaseIDs))
	for i, ref := range databaseIDs {
		id, err := ParseDatabaseID(ref)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}

	return &Client{
		api: &restAPI{
			// retries on HTTP 429
			client: notionapi.NewClient(notionapi.Token(token), notionapi.WithRetry(3)),
		},
		databaseIDs: ids,
	}, nil
}

func (c *Client) SourceType() types.SourceType {
	return types.SourceTypeNotion
}

// FetchUpdated yields pages edited on or after since. A page whose blocks cannot be
// read yields an error and iteration continues with the next page.
func (c *Client) FetchUpdated(ctx context.Context, since time.Time) iter.Seq2[*model.SourceItem, error] {
	return func(yield func(*model.SourceItem, error) bool) {
		for _, dbID := range c.databaseIDs {
			if !c.fetchDatabase(ctx, dbID, since, yield) {
				return
			}
		}
	}
}

func (c *Client) fetchDatabase(ctx context.Context, dbID string, since time.Time, yield func(*model.SourceItem, error) bool) bool {
	var cursor notionapi.Cursor
	for {
		resp, err := c.api.queryDatabase(ctx, dbID, since, cursor)
		if err != nil {
			return yield(nil, goerr.Wrap(err, "failed to query database", goerr.V("dbID", dbID), goerr.V("since", since)))
		}

		for _, page := range resp.Results {
			item, err := c.toSourceItem(ctx, dbID, page)
			if !yield(item, err) {
				return false
			}
		}

		if !resp.HasMore {
			return true
		}
		cursor = resp.NextCursor
	}
}

func (c *Client) toSourceItem(ctx context.Context, dbID string, page notionapi.Page) (*model.SourceItem, error) {
	pageID := page.ID.String()
	blocks, err := c.fetchBlocks(ctx, pageID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to fetch page blocks", goerr.V("pageID", pageID))
	}

	title, props := splitProperties(page.Properties)
	return &model.SourceItem{
		SourceID:  pageID,
		Title:     title,
		Content:   renderPage(props, blocks),
		URL:       page.URL,
		CreatedAt: page.CreatedTime,
		UpdatedAt: page.LastEditedTime,
		Metadata: map[string]any{
			MetaDatabaseID:      dbID,
			model.MetaSourceURL: page.URL,
		},
	}, nil
}

func (c *Client) fetchBlocks(ctx context.Context, blockID string) (Blocks, error) {
	var blocks Blocks
	var cursor notionapi.Cursor

	for {
		resp, err := c.api.getChildren(ctx, blockID, cursor)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to get block children", goerr.V("blockID", blockID))
		}

		for _, raw := range resp.Results {
			block := convertBlock(raw)
			if raw.GetHasChildren() {
				children, err := c.fetchBlocks(ctx, raw.GetID().String())
				if err != nil {
					return nil, err
				}
				block.Children = children
			}
			blocks = append(blocks, block)
		}

		if !resp.HasMore {
			return blocks, nil
		}
		cursor = notionapi.Cursor(resp.NextCursor)
	}
}

func convertBlock(raw notionapi.Block) Block {
	block := Block{Type: raw.GetType()}

	switch b := raw.(type) {
	case *notionapi.ParagraphBlock:
		block.Text = b.Paragraph.RichText
	case *notionapi.Heading1Block:
		block.Text = b.Heading1.RichText
	case *notionapi.Heading2Block:
		block.Text = b.Heading2.RichText
	case *notionapi.Heading3Block:
		block.Text = b.Heading3.RichText
	case *notionapi.BulletedListItemBlock:
		block.Text = b.BulletedListItem.RichText
	case *notionapi.NumberedListItemBlock:
		block.Text = b.NumberedListItem.RichText
	case *notionapi.CodeBlock:
		block.Text = b.Code.RichText
		block.Language = b.Code.Language
	case *notionapi.QuoteBlock:
		block.Text = b.Quote.RichText
	case *notionapi.CalloutBlock:
		block.Text = b.Callout.RichText
	case *notionapi.ToggleBlock:
		block.Text = b.Toggle.RichText
	case *notionapi.ToDoBlock:
		block.Text = b.ToDo.RichText
		block.Checked = b.ToDo.Checked
	}
	return block
}
