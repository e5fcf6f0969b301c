package model

import "time"

// SourceItem is one piece of content fetched from an external source, ready to be
// ingested as raw text
type SourceItem struct {
	SourceID  string
	Title     string
	Content   string
	URL       string
	CreatedAt time.Time
	UpdatedAt time.Time
	Metadata  map[string]any
}
