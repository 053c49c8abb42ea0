package llm

import "errors"

// Failure classes surfaced after retries are exhausted. Callers match with
// errors.Is.
var (
	// ErrTransport covers network failures and provider 5xx/429 responses.
	ErrTransport = errors.New("llm transport error")

	// ErrSchema means the provider output never conformed to the declared
	// schema within the retry budget.
	ErrSchema = errors.New("llm schema violation")

	// ErrTimeout means the per-call deadline expired.
	ErrTimeout = errors.New("llm timeout")
)
