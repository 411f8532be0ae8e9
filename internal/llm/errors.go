package llm

import "fmt"

// TransportError wraps a network-level failure (connect, timeout, broken
// body). Transport failures are retried.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("transport: %v", e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// ProviderError is a non-200 response from the provider. Server-side (5xx)
// statuses are retried; client-side (4xx) statuses fail immediately.
type ProviderError struct {
	Provider string
	Status   int
	Body     string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s returned HTTP %d", e.Provider, e.Status)
}

// Retryable reports whether another attempt could help.
func (e *ProviderError) Retryable() bool { return e.Status >= 500 }

// ValidationError means the provider answered but the summary failed the
// completeness checks. Never retried by the client; nothing gets persisted.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "summary validation: " + e.Reason }

// MissingKeyError means the provider's API key environment variable is unset.
type MissingKeyError struct {
	EnvVar string
}

func (e *MissingKeyError) Error() string { return "api key missing: set " + e.EnvVar }
