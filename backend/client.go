package backend

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Middleware wraps a provider call. It receives the request and a next
// function that calls the downstream handler, and returns the response.
type Middleware func(ctx context.Context, req Request, next func(context.Context, Request) (*Response, error)) (*Response, error)

// Client routes requests to registered providers, applies middleware, and
// retries transient failures under its RetryPolicy.
type Client struct {
	providers       map[string]Provider
	defaultProvider string
	middleware      []Middleware
	retry           RetryPolicy
	logger          zerolog.Logger
	mu              sync.RWMutex
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithProvider registers a provider.
func WithProvider(name string, provider Provider) ClientOption {
	return func(c *Client) {
		c.providers[name] = provider
	}
}

// WithDefaultProvider sets the default provider name.
func WithDefaultProvider(name string) ClientOption {
	return func(c *Client) {
		c.defaultProvider = name
	}
}

// WithMiddleware adds middleware to the client.
func WithMiddleware(mw ...Middleware) ClientOption {
	return func(c *Client) {
		c.middleware = append(c.middleware, mw...)
	}
}

// WithRetryPolicy overrides the default retry policy.
func WithRetryPolicy(policy RetryPolicy) ClientOption {
	return func(c *Client) {
		c.retry = policy
	}
}

// WithLogger sets the client logger. Defaults to a no-op logger.
func WithLogger(logger zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a new Client with the given options.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		providers: make(map[string]Provider),
		retry:     DefaultRetryPolicy(),
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	// If no default and exactly one provider, use it.
	if c.defaultProvider == "" && len(c.providers) == 1 {
		for name := range c.providers {
			c.defaultProvider = name
		}
	}
	return c
}

// RegisterProvider adds a provider to the client.
func (c *Client) RegisterProvider(name string, provider Provider) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.providers[name] = provider
	if c.defaultProvider == "" {
		c.defaultProvider = name
	}
}

// RetryPolicy returns the client's retry policy.
func (c *Client) RetryPolicy() RetryPolicy {
	return c.retry
}

// resolveProvider determines which provider to use for a request.
func (c *Client) resolveProvider(req Request) (Provider, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	name := req.Provider
	if name == "" {
		name = c.defaultProvider
	}
	if name == "" {
		// Try to infer from the model catalog.
		if info := GetModelInfo(req.Model); info != nil {
			name = info.Provider
		}
	}
	if name == "" {
		return nil, &ConfigurationError{BackendError: BackendError{
			Message: "no provider specified and no default provider configured",
		}}
	}

	provider, ok := c.providers[name]
	if !ok {
		return nil, &ConfigurationError{BackendError: BackendError{
			Message: fmt.Sprintf("provider %q is not registered", name),
		}}
	}
	return provider, nil
}

// Complete sends a blocking request through middleware to the resolved
// provider, retrying transient failures per the client's policy. Every
// retry attempt is logged with its attempt number and backoff duration; the
// final failure after exhausting attempts is returned, never swallowed.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	provider, err := c.resolveProvider(req)
	if err != nil {
		return nil, err
	}

	if req.Provider == "" {
		req.Provider = provider.Name()
	}

	handler := func(ctx context.Context, r Request) (*Response, error) {
		return provider.Complete(ctx, r)
	}

	// Apply middleware in reverse order so first registered runs first.
	for i := len(c.middleware) - 1; i >= 0; i-- {
		mw := c.middleware[i]
		next := handler
		handler = func(ctx context.Context, r Request) (*Response, error) {
			return mw(ctx, r, next)
		}
	}

	policy := c.retry
	onRetry := policy.OnRetry
	policy.OnRetry = func(retryErr error, attempt int, delay time.Duration) {
		c.logger.Warn().
			Err(retryErr).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Str("model", req.Model).
			Str("provider", req.Provider).
			Msg("backend request failed, retrying")
		if onRetry != nil {
			onRetry(retryErr, attempt, delay)
		}
	}

	resp, err := Retry(ctx, policy, func(ctx context.Context) (*Response, error) {
		return handler(ctx, req)
	})
	if err != nil {
		c.logger.Error().
			Err(err).
			Str("model", req.Model).
			Str("provider", req.Provider).
			Msg("backend request failed")
		return nil, err
	}
	return resp, nil
}

// Initialize runs startup validation on every registered provider that
// implements Initializer. The first failure surfaces as a
// ConfigurationError; configuration problems are fatal at startup, never
// retried.
func (c *Client) Initialize() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for name, provider := range c.providers {
		if init, ok := provider.(Initializer); ok {
			if err := init.Initialize(); err != nil {
				return &ConfigurationError{BackendError: BackendError{
					Message: fmt.Sprintf("provider %q failed startup validation", name),
					Cause:   err,
				}}
			}
		}
	}
	return nil
}

// Close releases resources held by all registered providers.
func (c *Client) Close() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var firstErr error
	for _, provider := range c.providers {
		if closer, ok := provider.(Closer); ok {
			if err := closer.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// NewClientFromEnv creates a Client by probing environment variables for
// API keys and registering a GollmProvider for each detected provider.
func NewClientFromEnv(opts ...ClientOption) *Client {
	c := NewClient(opts...)
	for _, provider := range []string{"openai", "anthropic"} {
		p, err := NewGollmProvider(provider, "")
		if err == nil {
			c.RegisterProvider(provider, p)
		}
	}
	return c
}
