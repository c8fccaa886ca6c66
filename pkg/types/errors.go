package types

import "errors"

// Domain errors for type validation
var (
	// Record errors
	ErrEmptyRecordID    = errors.New("record id cannot be empty")
	ErrEmptyContentHash = errors.New("content hash cannot be empty")
	ErrEmptyFilePath    = errors.New("file path cannot be empty")
	ErrInvalidPage      = errors.New("page number must be >= 1")

	// Search result errors
	ErrInvalidScore   = errors.New("score must be between 0 and 1")
	ErrUnknownMetric  = errors.New("unknown distance metric")
	ErrEmptyHitSource = errors.New("search hit requires a file path")
)
