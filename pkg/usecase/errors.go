package usecase

import "github.com/m-mizutani/goerr/v2"

var (
	// ErrUnauthorized is returned when a bearer token is missing or invalid
	ErrUnauthorized = goerr.New("unauthorized")

	// ErrInvalidInput marks a document request rejected before any processing
	ErrInvalidInput = goerr.New("invalid ingestion input")

	// ErrSyncDisabled is returned when a sync is requested without any source
	ErrSyncDisabled = goerr.New("source sync is not configured")
)
