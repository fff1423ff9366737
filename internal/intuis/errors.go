package intuis

import (
	"errors"
	"net/http"
	"strconv"
)

var (
	// ErrAuth indicates the client has no usable token, or refreshing/relogging failed.
	ErrAuth = errors.New("authentication failed")
	// ErrRateLimited indicates the retry budget for 429 responses was exhausted.
	ErrRateLimited = errors.New("rate limited")
	// ErrConnectivity indicates the API could not be reached after retrying.
	ErrConnectivity = errors.New("cannot connect")
)

// An APIError is returned for non-retriable API failures: a 4xx response (other
// than 401/429), a 5xx response that survived all retries, or a malformed body.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Reason     string
}

func (e *APIError) Error() string {
	msg := e.Method + " " + e.Path
	if e.StatusCode != 0 {
		msg += ": " + strconv.Itoa(e.StatusCode) + " " + http.StatusText(e.StatusCode)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *APIError) Is(err error) bool {
	var apiError *APIError
	return errors.As(err, &apiError)
}
