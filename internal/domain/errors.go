package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrUpstreamTimeout     = errors.New("upstream timeout")
	ErrUpstreamError       = errors.New("upstream error")
	ErrVisualizationFailed = errors.New("visualization failed")
	ErrDeliveryFailed      = errors.New("delivery failed")
)

// UpstreamStatusError is returned by the model gateway when the inference
// service answered with a non-success status. It matches ErrUpstreamError
// (or ErrUpstreamUnavailable for gateway-style 5xx codes) with errors.Is.
type UpstreamStatusError struct {
	Backend    string
	StatusCode int
	Message    string
}

func (e *UpstreamStatusError) Error() string {
	return fmt.Sprintf("%s: HTTP %d: %s", e.Backend, e.StatusCode, e.Message)
}

func (e *UpstreamStatusError) Is(target error) bool {
	switch target {
	case ErrUpstreamUnavailable:
		return e.Unavailable()
	case ErrUpstreamError:
		return !e.Unavailable()
	}
	return false
}

// Unavailable reports whether the status means the service could not be reached
// rather than that it rejected the request.
func (e *UpstreamStatusError) Unavailable() bool {
	switch e.StatusCode {
	case 502, 503, 504:
		return true
	}
	return false
}
