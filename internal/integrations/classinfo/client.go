package classinfo

import (
	"context"
	"errors"
	"fmt"
)

// NA marks a catalog field the scraper could not extract. It is a display
// sentinel, never a real value: status comparisons must ignore it.
const NA = "N/A"

// ClassStatus is the scraper's view of one class listing. Only SeatStatus and
// the check timestamp are folded back into the persisted watch; the rest is
// used for the notification email.
type ClassStatus struct {
	ClassNumber string
	Course      string
	Title       string
	Instructors []string
	Days        string
	StartTime   string
	EndTime     string
	Location    string
	Dates       string
	Units       string
	SeatStatus  string
}

type ErrorKind string

const (
	ErrTimeout        ErrorKind = "timeout"
	ErrProcessFailure ErrorKind = "process_failure"
	ErrParseFailure   ErrorKind = "parse_failure"
	ErrNotFound       ErrorKind = "not_found"
)

// LookupError classifies a failed lookup. NotFound is permanent (the class
// number does not exist in the catalog); everything else is transient and may
// be retried by the caller.
type LookupError struct {
	Kind        ErrorKind
	ClassNumber string
	Err         error
}

func (e *LookupError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("lookup class %s: %s: %v", e.ClassNumber, e.Kind, e.Err)
	}
	return fmt.Sprintf("lookup class %s: %s", e.ClassNumber, e.Kind)
}

func (e *LookupError) Unwrap() error { return e.Err }

func (e *LookupError) Retryable() bool { return e.Kind != ErrNotFound }

// KindOf extracts the error kind from err, or "" if err is not a LookupError.
func KindOf(err error) ErrorKind {
	var le *LookupError
	if errors.As(err, &le) {
		return le.Kind
	}
	return ""
}

// Retryable reports whether err is a lookup failure worth retrying.
// Non-lookup errors are treated as transient.
func Retryable(err error) bool {
	var le *LookupError
	if errors.As(err, &le) {
		return le.Retryable()
	}
	return true
}

type Client interface {
	Lookup(ctx context.Context, classNumber string) (ClassStatus, error)
}
