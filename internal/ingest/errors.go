package ingest

import (
	"errors"
	"fmt"
)

var (
	// ErrStoreRequired is returned by New when no store is given.
	ErrStoreRequired = errors.New("document store is required")

	// ErrSourceNotFound matches errors for sources that are missing or cannot be opened.
	ErrSourceNotFound = errors.New("source not found")

	// ErrMissingHeader is returned for sources without a header row.
	ErrMissingHeader = errors.New("source has no header row")
)

type sourceNotFoundError struct {
	path  string
	cause error
}

func (e *sourceNotFoundError) Error() string {
	return fmt.Sprintf("File '%s' not found", e.path)
}

func (e *sourceNotFoundError) Unwrap() error { return e.cause }

func (e *sourceNotFoundError) Is(target error) bool { return target == ErrSourceNotFound }
