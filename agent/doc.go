// Package agent implements the tether orchestration core: a stateful loop
// that mediates between a user, an LLM backend, and a set of callable tools.
//
// The core maintains bounded conversation context under a token budget,
// issues backend requests with explicit model selection, parses free-text
// model output for tool directives, dispatches them through a validated
// registry with per-tool failure isolation, and folds results back into
// context, compressing history through a cheaper auxiliary model when the
// budget is exceeded.
//
// # Architecture
//
//   - Manager: the per-session orchestrator running the request/parse/
//     dispatch/fold loop with a bounded number of tool rounds per turn.
//   - ContextManager: ordered conversation history with a running token
//     estimate, turn-boundary compression, and hard-truncation fallback.
//   - ToolRegistry: immutable-after-build tool registration and lookup.
//   - Executor: argument validation, failure isolation, and concurrent
//     fan-out with extraction-order result folding.
//   - Parser: tolerant extraction of tool directives from model text.
//   - EventEmitter: typed turn-lifecycle events for host applications.
//
// # Quick Start
//
//	registry := agent.NewToolRegistry()
//	env := agent.NewLocalEnvironment("/path/to/workspace")
//	_ = agent.RegisterCoreTools(registry, agent.DefaultConfig())
//
//	client := backend.NewClientFromEnv()
//	mgr, _ := agent.NewManager(agent.DefaultConfig(), client, registry, env)
//	defer mgr.Close()
//
//	result, err := mgr.ProcessTurn(ctx, "Summarize the README")
//
// The core is headless: the event channel is the only outward surface, and
// nothing in this package depends on a presentation layer.
package agent
