package types

import "fmt"

// SourceType identifies where a document came from
type SourceType string

const (
	SourceTypeFileUpload     SourceType = "file_upload"
	SourceTypeNotion         SourceType = "notion"
	SourceTypeGoogleCalendar SourceType = "google_calendar"
	SourceTypeSlack          SourceType = "slack"
	SourceTypeGitHub         SourceType = "github"
	SourceTypeGmail          SourceType = "gmail"
)

// IsValid checks if the source type is valid
func (s SourceType) IsValid() bool {
	switch s {
	case SourceTypeFileUpload,
		SourceTypeNotion,
		SourceTypeGoogleCalendar,
		SourceTypeSlack,
		SourceTypeGitHub,
		SourceTypeGmail:
		return true
	default:
		return false
	}
}

// IsExternal reports whether documents of this type are synced from another system
func (s SourceType) IsExternal() bool {
	return s.IsValid() && s != SourceTypeFileUpload
}

func (s SourceType) String() string {
	return string(s)
}

// ParseSourceType parses a string into a SourceType
func ParseSourceType(s string) (SourceType, error) {
	v := SourceType(s)
	if !v.IsValid() {
		return "", fmt.Errorf("invalid source type: %s", s)
	}
	return v, nil
}
