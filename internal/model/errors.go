package model

import "errors"

// Error taxonomy. Everything below ErrFatalStartup is handled at the
// narrowest scope and never stops the process.
var (
	ErrSourceUnavailable = errors.New("source unavailable")
	ErrFetchFailed       = errors.New("fetch failed")
	ErrDeliveryFailed    = errors.New("delivery failed")
	ErrPersistenceFailed = errors.New("persistence failed")
	ErrFatalStartup      = errors.New("fatal startup")

	ErrNotFound = errors.New("not found")
)
