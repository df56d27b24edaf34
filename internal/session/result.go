package session

import (
	"fmt"
	"strings"
)

// Attempt is one request to one endpoint. Err is nil when the endpoint answered.
type Attempt struct {
	Endpoint string
	Err      error
}

// Result describes how a report travelled through the endpoint list.
// Endpoint is the server that answered, empty when none did.
type Result struct {
	Endpoint string
	Attempts []Attempt
}

// Attempted returns the endpoints tried, in order.
func (r *Result) Attempted() []string {
	out := make([]string, 0, len(r.Attempts))
	for _, a := range r.Attempts {
		out = append(out, a.Endpoint)
	}
	return out
}

// FailoverError is returned when no endpoint answered.
type FailoverError struct {
	Attempts []Attempt
}

func (e *FailoverError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", a.Endpoint, a.Err))
	}
	return fmt.Sprintf("all %d endpoints failed: %s", len(e.Attempts), strings.Join(parts, "; "))
}

func (e *FailoverError) Unwrap() []error {
	errs := make([]error, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		if a.Err != nil {
			errs = append(errs, a.Err)
		}
	}
	return errs
}
