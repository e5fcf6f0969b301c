package types

import "fmt"

// DocumentStatus represents the ingestion state of a document
type DocumentStatus string

const (
	DocumentStatusPending    DocumentStatus = "pending"
	DocumentStatusProcessing DocumentStatus = "processing"
	DocumentStatusProcessed  DocumentStatus = "processed"
	DocumentStatusError      DocumentStatus = "error"
)

// AllDocumentStatuses returns all valid document statuses
func AllDocumentStatuses() []DocumentStatus {
	return []DocumentStatus{
		DocumentStatusPending,
		DocumentStatusProcessing,
		DocumentStatusProcessed,
		DocumentStatusError,
	}
}

// IsValid checks if the document status is valid
func (s DocumentStatus) IsValid() bool {
	switch s {
	case DocumentStatusPending,
		DocumentStatusProcessing,
		DocumentStatusProcessed,
		DocumentStatusError:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transition is expected
func (s DocumentStatus) IsTerminal() bool {
	return s == DocumentStatusProcessed || s == DocumentStatusError
}

// String returns the string representation of the document status
func (s DocumentStatus) String() string {
	return string(s)
}

// ParseDocumentStatus parses a string into a DocumentStatus
func ParseDocumentStatus(s string) (DocumentStatus, error) {
	status := DocumentStatus(s)
	if !status.IsValid() {
		return "", fmt.Errorf("invalid document status: %s", s)
	}
	return status, nil
}
