// Package backend provides a provider-agnostic LLM client used by the
// tether orchestration core.
//
// # Architecture
//
// The package is organized in three layers:
//
//   - Provider contract: the Provider interface and the shared Request,
//     Response, and Message types.
//   - Provider utilities: the typed error hierarchy, error classification
//     helpers, and the retry policy with exponential backoff.
//   - Core client: Client with provider routing, middleware, and retry.
//
// Model selection is explicit per call: the caller sets Request.Model, and
// the orchestrator decides which tier (capable or fast) each call uses. The
// client never substitutes a model on its own.
//
// # Quick Start
//
//	provider, _ := backend.NewGollmProvider("anthropic", os.Getenv("ANTHROPIC_API_KEY"))
//	client := backend.NewClient(backend.WithProvider("anthropic", provider))
//
//	resp, err := client.Complete(ctx, backend.Request{
//	    Model:    "claude-sonnet-4-5",
//	    Messages: []backend.Message{backend.UserMessage("Hello")},
//	})
//
// Transient failures (rate limits, timeouts) are retried with exponential
// backoff up to the policy's attempt ceiling; authorization and provider
// errors surface immediately. Every retry attempt is logged with the attempt
// number and backoff duration.
package backend
