package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrFeedBlockMissing means the feed page had no <pre> block. Ingestion
	// treats it as zero records; the change watcher treats it as no change.
	ErrFeedBlockMissing = errors.New("feed block missing")

	// ErrMalformedRecord marks a single row whose fields failed to parse.
	ErrMalformedRecord = errors.New("malformed record")

	// ErrRefreshThrottled is returned when an on-demand refresh arrives
	// before the minimum refresh interval has elapsed.
	ErrRefreshThrottled = errors.New("refresh throttled")
)

// FetchError reports a failed feed request: transport error, timeout, or a
// non-2xx response.
type FetchError struct {
	URL        string
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// PersistenceError reports a failed store operation. A failed batch insert
// leaves no partial rows behind.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsFetchFailure reports whether err is (or wraps) a FetchError.
func IsFetchFailure(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe)
}

// IsPersistenceFailure reports whether err is (or wraps) a PersistenceError.
func IsPersistenceFailure(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}
