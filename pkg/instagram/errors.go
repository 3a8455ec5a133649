package instagram

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrPermissionDenied       = errors.New("instagram: permission denied")
	ErrMessagingWindowExpired = errors.New("instagram: messaging window expired")
	ErrRateLimited            = errors.New("instagram: rate limited")
	ErrCircuitOpen            = errors.New("instagram: circuit breaker open")
	ErrUnavailable            = errors.New("instagram: platform unavailable")
)

// Graph API error codes the client classifies.
const (
	codeAPITooManyCalls    = 4
	codeAPIPermission      = 10
	codeUserTooManyCalls   = 17
	codeAppRateLimit       = 32
	codeAccessTokenInvalid = 190
	codePermissionDenied   = 200
	codeCallLimitReached   = 613
	codeMessagingThrottled = 80006

	subcodeOutsideWindow = 2534022
	subcodeUserUnavail   = 2018278
)

// APIError 平台返回的错误，保留原始错误文本
type APIError struct {
	StatusCode int
	Code       int
	Subcode    int
	Type       string
	Message    string
	TraceID    string
	kind       error
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("instagram API error [%d] code=%d subcode=%d: %s", e.StatusCode, e.Code, e.Subcode, e.Message)
	}
	return fmt.Sprintf("instagram API error [%d]: %s", e.StatusCode, e.Message)
}

// Unwrap exposes the classified sentinel so callers can use errors.Is.
func (e *APIError) Unwrap() error { return e.kind }

// Retryable reports whether a later attempt could succeed; the engine never retries,
// the breaker uses it to decide what counts as an outage.
func (e *APIError) Retryable() bool {
	return e.StatusCode >= http.StatusInternalServerError || errors.Is(e.kind, ErrRateLimited)
}

func classify(status, code, subcode int) error {
	switch {
	case subcode == subcodeOutsideWindow || subcode == subcodeUserUnavail:
		return ErrMessagingWindowExpired
	case code == codeAPITooManyCalls || code == codeUserTooManyCalls || code == codeAppRateLimit ||
		code == codeCallLimitReached || code == codeMessagingThrottled || status == http.StatusTooManyRequests:
		return ErrRateLimited
	case code == codeAPIPermission || code == codePermissionDenied || code == codeAccessTokenInvalid ||
		status == http.StatusForbidden || status == http.StatusUnauthorized:
		return ErrPermissionDenied
	case status >= http.StatusInternalServerError:
		return ErrUnavailable
	default:
		return nil
	}
}
