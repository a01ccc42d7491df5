package completion

import (
	"context"
	"errors"
	"fmt"

	"github.com/ent0n29/welli/internal/reliability"
)

// ProviderError is a non-success status returned by the completion provider.
type ProviderError struct {
	Provider  string
	Status    int
	Body      string
	Retryable bool
}

func newProviderError(provider string, status int, body string) *ProviderError {
	return &ProviderError{
		Provider:  provider,
		Status:    status,
		Body:      body,
		Retryable: reliability.IsRetryableHTTPStatus(status),
	}
}

func (e *ProviderError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s status %d", e.Provider, e.Status)
	}
	return fmt.Sprintf("%s status %d: %s", e.Provider, e.Status, e.Body)
}

// IsRetryable reports whether err is worth retrying by the caller.
func IsRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return errors.Is(err, context.DeadlineExceeded)
}
