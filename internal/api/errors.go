package api

import (
	"errors"
	"fmt"
)

var (
	// ErrThrottled matches an APIError whose error_name is throttle_violation.
	ErrThrottled = errors.New("throttle violation")

	// ErrTooManyIDs is returned when an answer lookup names more than MaxIDsPerLookup ids.
	ErrTooManyIDs = errors.New("too many ids in one lookup")

	// ErrUnexpectedResponse is returned for a 2xx body lacking has_more or quota_remaining.
	ErrUnexpectedResponse = errors.New("unexpected response")

	// ErrTimeoutExhausted matches a TimeoutError.
	ErrTimeoutExhausted = errors.New("request timed out on every attempt")
)

const throttleViolation = "throttle_violation"

// APIError is a non-2xx response from the API.
type APIError struct {
	Endpoint   string
	StatusCode int
	ErrorID    int
	ErrorName  string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.ErrorName != "" {
		return fmt.Sprintf("%s: status %d: %s: %s", e.Endpoint, e.StatusCode, e.ErrorName, e.Message)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// Is lets errors.Is(err, ErrThrottled) recognise throttle violations.
func (e *APIError) Is(target error) bool {
	return target == ErrThrottled && e.ErrorName == throttleViolation
}

// TimeoutError reports that every attempt of a request timed out.
type TimeoutError struct {
	Endpoint string
	Attempts int
	Err      error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: timed out after %d attempt(s): %v", e.Endpoint, e.Attempts, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeoutExhausted }
