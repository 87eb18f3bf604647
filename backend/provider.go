package backend

import "context"

// Provider is the interface every LLM provider must implement. It accepts a
// serialized conversation and a model identifier, and returns response text
// with a stop reason. Failures must map to the error kinds in errors.go so
// the retry policy can discriminate them.
type Provider interface {
	// Name returns the provider identifier (e.g. "openai", "anthropic").
	Name() string

	// Complete sends a blocking request and returns the full response.
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Optional methods that providers may implement.

// Closer is implemented by providers that hold resources.
type Closer interface {
	Close() error
}

// Initializer is implemented by providers that need startup validation.
type Initializer interface {
	Initialize() error
}
