package notion_test

import (
	"testing"

	"github.com/jomei/notionapi"
	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/mnemosyne/pkg/service/notion"
)

func text(s string) []notionapi.RichText {
	return []notionapi.RichText{{PlainText: s}}
}

func TestBlocks_ToMarkdown(t *testing.T) {
	tests := []struct {
		name   string
		blocks notion.Blocks
		want   string
	}{
		{
			name: "headings",
			blocks: notion.Blocks{
				{Type: notionapi.BlockTypeHeading1, Text: text("One")},
				{Type: notionapi.BlockTypeHeading2, Text: text("Two")},
				{Type: notionapi.BlockTypeHeading3, Text: text("Three")},
			},
			want: "# One\n## Two\n### Three\n",
		},
		{
			name: "numbered list restarts after other block",
			blocks: notion.Blocks{
				{Type: notionapi.BlockTypeNumberedListItem, Text: text("a")},
				{Type: notionapi.BlockTypeNumberedListItem, Text: text("b")},
				{Type: notionapi.BlockTypeParagraph, Text: text("break")},
				{Type: notionapi.BlockTypeNumberedListItem, Text: text("c")},
			},
			want: "1. a\n2. b\nbreak\n1. c\n",
		},
		{
			name: "nested bullets",
			blocks: notion.Blocks{
				{
					Type: notionapi.BlockTypeBulletedListItem, Text: text("parent"),
					Children: notion.Blocks{{Type: notionapi.BlockTypeBulletedListItem, Text: text("child")}},
				},
			},
			want: "- parent\n  - child\n",
		},
		{
			name: "todo and quote",
			blocks: notion.Blocks{
				{Type: notionapi.BlockTypeToDo, Text: text("done"), Checked: true},
				{Type: notionapi.BlockTypeToDo, Text: text("open")},
				{Type: notionapi.BlockTypeQuote, Text: text("cited")},
			},
			want: "- [x] done\n- [ ] open\n> cited\n",
		},
		{
			name: "code block",
			blocks: notion.Blocks{
				{Type: notionapi.BlockTypeCode, Text: text("go test ./..."), Language: "bash"},
			},
			want: "```bash\ngo test ./...\n```\n",
		},
		{
			name: "toggle body stays at same depth",
			blocks: notion.Blocks{
				{
					Type: notionapi.BlockTypeToggle, Text: text("Details"),
					Children: notion.Blocks{{Type: notionapi.BlockTypeParagraph, Text: text("hidden")}},
				},
			},
			want: "Details\nhidden\n",
		},
		{
			name: "empty paragraph and divider",
			blocks: notion.Blocks{
				{Type: notionapi.BlockTypeParagraph},
				{Type: notionapi.BlockTypeDivider},
			},
			want: "---\n",
		},
		{
			name: "annotations and links",
			blocks: notion.Blocks{
				{Type: notionapi.BlockTypeParagraph, Text: []notionapi.RichText{
					{PlainText: "bold", Annotations: &notionapi.Annotations{Bold: true}},
					{PlainText: " and "},
					{PlainText: "link", Href: "https://example.com"},
				}},
			},
			want: "**bold** and [link](https://example.com)\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gt.Value(t, tt.blocks.ToMarkdown()).Equal(tt.want)
		})
	}
}
