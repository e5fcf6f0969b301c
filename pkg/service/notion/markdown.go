package notion

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/jomei/notionapi"
)

// Block is a Notion block reduced to what is needed for text rendering
type Block struct {
	Type     notionapi.BlockType
	Text     []notionapi.RichText
	Language string
	Checked  bool
	Children Blocks
}

// Blocks is an ordered list of sibling blocks
type Blocks []Block

// ToMarkdown renders blocks as Markdown. Nested blocks are indented by two spaces.
func (b Blocks) ToMarkdown() string {
	var sb strings.Builder
	b.render(&sb, 0)
	return sb.String()
}

func (b Blocks) render(sb *strings.Builder, depth int) {
	indent := strings.Repeat("  ", depth)
	number := 0

	for _, block := range b {
		if block.Type == notionapi.BlockTypeNumberedListItem {
			number++
		} else {
			number = 0
		}
		text := richText(block.Text)

		switch block.Type {
		case notionapi.BlockTypeHeading1:
			fmt.Fprintf(sb, "%s# %s\n", indent, text)
		case notionapi.BlockTypeHeading2:
			fmt.Fprintf(sb, "%s## %s\n", indent, text)
		case notionapi.BlockTypeHeading3:
			fmt.Fprintf(sb, "%s### %s\n", indent, text)
		case notionapi.BlockTypeBulletedListItem:
			fmt.Fprintf(sb, "%s- %s\n", indent, text)
		case notionapi.BlockTypeNumberedListItem:
			fmt.Fprintf(sb, "%s%d. %s\n", indent, number, text)
		case notionapi.BlockTypeToDo:
			mark := " "
			if block.Checked {
				mark = "x"
			}
			fmt.Fprintf(sb, "%s- [%s] %s\n", indent, mark, text)
		case notionapi.BlockTypeQuote, notionapi.BlockTypeCallout:
			fmt.Fprintf(sb, "%s> %s\n", indent, text)
		case notionapi.BlockTypeCode:
			fmt.Fprintf(sb, "%s```%s\n%s%s\n%s```\n", indent, block.Language, indent, text, indent)
		case notionapi.BlockTypeDivider:
			fmt.Fprintf(sb, "%s---\n", indent)
		case notionapi.BlockTypeToggle:
			// children of a toggle are its body and stay at the same depth
			fmt.Fprintf(sb, "%s%s\n", indent, text)
			block.Children.render(sb, depth)
			continue
		default:
			if text != "" {
				fmt.Fprintf(sb, "%s%s\n", indent, text)
			}
		}

		if len(block.Children) > 0 {
			block.Children.render(sb, depth+1)
		}
	}
}

func richText(texts []notionapi.RichText) string {
	var sb strings.Builder
	for _, rt := range texts {
		text := rt.PlainText
		if rt.Annotations != nil {
			if rt.Annotations.Code {
				text = "`" + text + "`"
			}
			if rt.Annotations.Bold {
				text = "**" + text + "**"
			}
			if rt.Annotations.Italic {
				text = "*" + text + "*"
			}
			if rt.Annotations.Strikethrough {
				text = "~~" + text + "~~"
			}
		}
		if rt.Href != "" {
			text = "[" + text + "](" + rt.Href + ")"
		}
		sb.WriteString(text)
	}
	return sb.String()
}

// splitProperties returns the page title and the remaining properties rendered as
// plain strings. Empty values are dropped.
func splitProperties(props notionapi.Properties) (string, map[string]string) {
	var title string
	values := make(map[string]string, len(props))
	for name, prop := range props {
		if t, ok := titleOf(prop); ok {
			title = t
			continue
		}
		if v := propertyValue(prop); v != "" {
			values[name] = v
		}
	}
	return title, values
}

func titleOf(prop notionapi.Property) (string, bool) {
	switch p := prop.(type) {
	case *notionapi.TitleProperty:
		return plainText(p.Title), true
	case notionapi.TitleProperty:
		return plainText(p.Title), true
	}
	return "", false
}

func propertyValue(prop notionapi.Property) string {
	switch p := prop.(type) {
	case *notionapi.RichTextProperty:
		return plainText(p.RichText)
	case *notionapi.SelectProperty:
		return p.Select.Name
	case *notionapi.StatusProperty:
		return p.Status.Name
	case *notionapi.MultiSelectProperty:
		names := make([]string, 0, len(p.MultiSelect))
		for _, o := range p.MultiSelect {
			names = append(names, o.Name)
		}
		return strings.Join(names, ", ")
	case *notionapi.NumberProperty:
		return strconv.FormatFloat(p.Number, 'f', -1, 64)
	case *notionapi.CheckboxProperty:
		return strconv.FormatBool(p.Checkbox)
	case *notionapi.URLProperty:
		return p.URL
	case *notionapi.EmailProperty:
		return p.Email
	case *notionapi.DateProperty:
		if p.Date != nil && p.Date.Start != nil {
			return time.Time(*p.Date.Start).Format(time.RFC3339)
		}
	}
	return ""
}

func plainText(texts []notionapi.RichText) string {
	var sb strings.Builder
	for _, rt := range texts {
		sb.WriteString(rt.PlainText)
	}
	return sb.String()
}

// renderPage prefixes the block Markdown with one "Name: value" line per property
func renderPage(props map[string]string, blocks Blocks) string {
	body := blocks.ToMarkdown()
	if len(props) == 0 {
		return body
	}

	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	slices.Sort(names)

	var sb strings.Builder
	for _, name := range names {
		fmt.Fprintf(&sb, "%s: %s\n", name, props[name])
	}
	sb.WriteString("\n")
	sb.WriteString(body)
	return sb.String()
}
