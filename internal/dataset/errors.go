package dataset

import (
	"errors"
	"fmt"
)

// ErrDataUnavailable is returned when a dataset cannot be fetched or parsed.
// Callers substitute an empty dataset; it is never fatal to a session.
var ErrDataUnavailable = errors.New("dataset unavailable")

// FetchError describes a failed load of a named dataset.
type FetchError struct {
	Dataset string
	Source  string
	Err     error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("dataset %q from %s: %v", e.Dataset, e.Source, e.Err)
}

func (e *FetchError) Unwrap() []error {
	return []error{ErrDataUnavailable, e.Err}
}

// ErrMalformedGeometry indicates a record's geometry could not be interpreted.
type ErrMalformedGeometry struct {
	Reason string
}

func (e *ErrMalformedGeometry) Error() string {
	return "malformed geometry: " + e.Reason
}
