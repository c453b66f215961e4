package platform

import (
	"errors"
	"fmt"
	"time"
)

// Upstream error envelope codes. Code 190 is the platform's "access token
// invalid or expired" code; 4/17/32 are its per-app and per-page throttles.
const (
	codeAuthInvalid  = 190
	codeAppThrottle  = 4
	codeUserThrottle = 17
	codePageThrottle = 32
)

// APIError is a classified upstream failure. Classification drives the
// retry wrapper: auth-invalid is never retried, transient errors back off,
// everything else fails fast.
type APIError struct {
	HTTPStatus int
	Code       int
	Subcode    int
	Type       string
	Message    string
	Hint       time.Duration // from Retry-After, 0 when absent
}

func (e *APIError) Error() string {
	return fmt.Sprintf("upstream error: status=%d code=%d type=%s: %s", e.HTTPStatus, e.Code, e.Type, e.Message)
}

func (e *APIError) RetryAfter() time.Duration {
	return e.Hint
}

// AuthInvalid reports whether the upstream rejected the credential itself.
func (e *APIError) AuthInvalid() bool {
	if e.Code == codeAuthInvalid {
		return true
	}
	return e.HTTPStatus == 401
}

// Transient reports whether the failure is a rate limit or server error.
func (e *APIError) Transient() bool {
	if e.AuthInvalid() {
		return false
	}
	switch e.Code {
	case codeAppThrottle, codeUserThrottle, codePageThrottle:
		return true
	}
	return e.HTTPStatus == 429 || e.HTTPStatus >= 500
}

func IsAuthInvalid(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.AuthInvalid()
}

func IsTransient(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Transient()
}
