package api

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNoValidImages means a record carried image URLs but none could be
	// staged for the initial request.
	ErrNoValidImages = errors.New("no image could be staged for upload")
)

// Error is a non-2xx answer from the remote API, carrying enough context for
// the retry classifier: the HTTP status plus the server-side error code from
// the response body.
type Error struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// IsBlocked reports a defensive rejection from the server's request-shape
// heuristics (Mod_Security answers 406). Distinct from validation errors and
// from rate limiting.
func IsBlocked(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotAcceptable
}

func IsRateLimited(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests
}

func IsConflict(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict
}

// IsValidation reports a 400-class rejection that retrying cannot fix.
func IsValidation(err error) bool {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 &&
		apiErr.StatusCode != http.StatusNotAcceptable &&
		apiErr.StatusCode != http.StatusTooManyRequests &&
		apiErr.StatusCode != http.StatusUnauthorized
}

// IsTransient reports server-side or transport failures worth retrying with
// backoff.
func IsTransient(err error) bool {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500
	}
	// Network-level failures arrive unwrapped from the transport.
	return err != nil
}

// ValidationCode extracts the server error code from a 400 answer, empty
// otherwise.
func ValidationCode(err error) string {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}
