package rag

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrProviderUnavailable means no embedding or generation backend is
	// reachable at all.
	ErrProviderUnavailable = errors.New("no provider available")

	// ErrStoreUnavailable means the vector index cannot be reached.
	ErrStoreUnavailable = errors.New("vector store unavailable")

	// ErrSearchUnavailable means every query variant failed.
	ErrSearchUnavailable = errors.New("search unavailable")

	// ErrValidation marks a malformed query or context.
	ErrValidation = errors.New("validation error")
)

// AllProvidersFailedError is raised when every fallback provider was tried
// for one request and all of them failed.
type AllProvidersFailedError struct {
	Errs map[string]error // provider name -> failure
}

func (e *AllProvidersFailedError) Error() string {
	if len(e.Errs) == 0 {
		return "all providers failed"
	}
	parts := make([]string, 0, len(e.Errs))
	for name, err := range e.Errs {
		parts = append(parts, fmt.Sprintf("%s: %v", name, err))
	}
	return "all providers failed: " + strings.Join(parts, "; ")
}

// Unwrap lets errors.Is(err, ErrProviderUnavailable) match: exhausting
// every fallback means no backend was usable for this request.
func (e *AllProvidersFailedError) Unwrap() error {
	return ErrProviderUnavailable
}
