package insta

import (
	"errors"
	"fmt"
	"strings"
)

// APIError is a failed API call: a non-2xx status or a body with
// status "fail". Code carries the machine-readable error_type when the
// response includes one.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("instagram api: %s (status %d)", e.Code, e.Status)
	}
	return fmt.Sprintf("instagram api: %s (status %d)", e.Message, e.Status)
}

// IsRateLimited reports whether err is a throttling response. The API signals
// this with HTTP 429, feedback_required, or a "please wait" message.
func IsRateLimited(err error) bool {
	var ae *APIError
	if !errors.As(err, &ae) {
		return false
	}
	if ae.Status == 429 {
		return true
	}
	switch ae.Code {
	case "rate_limit_error", "feedback_required":
		return true
	}
	return strings.Contains(strings.ToLower(ae.Message), "please wait a few minutes")
}

// IsAuthExpired reports whether err means the session is no longer valid and
// a fresh login is needed.
func IsAuthExpired(err error) bool {
	var ae *APIError
	if !errors.As(err, &ae) {
		return false
	}
	return ae.Status == 401 || ae.Code == "login_required"
}

// IsAccessRestricted reports whether err means the account cannot use the
// inbox APIs at all (checkpoint or challenge lock).
func IsAccessRestricted(err error) bool {
	var ae *APIError
	if !errors.As(err, &ae) {
		return false
	}
	switch ae.Code {
	case "challenge_required", "checkpoint_required", "inactive user":
		return true
	}
	return ae.Status == 403
}
