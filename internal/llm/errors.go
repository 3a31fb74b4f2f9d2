package llm

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyResponse is returned when the service answers without any choice.
	ErrEmptyResponse = errors.New("empty response: no choices returned")

	// ErrContinuationLimit is returned when a response is still truncated after
	// the configured number of continuation rounds.
	ErrContinuationLimit = errors.New("continuation limit exceeded")
)

// UpstreamError wraps a rejected or failed call to the completion service.
// StatusCode is zero when no HTTP response was received.
type UpstreamError struct {
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("upstream error %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("upstream unreachable: %v", e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// IsUpstream reports whether err came from the completion service.
func IsUpstream(err error) bool {
	var upstream *UpstreamError
	return errors.As(err, &upstream)
}
