// Command tether is a minimal line-based REPL over the agent core. It is a
// host for manual testing, not the product surface: the core stays headless
// and any richer frontend consumes the same event channel this one does.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/martinemde/tether/agent"
	"github.com/martinemde/tether/backend"
)

func main() {
	configPath := flag.String("config", "", "path to a tether config file (yaml/json/toml)")
	workDir := flag.String("workdir", "", "workspace directory for tools (default: cwd)")
	verbose := flag.Bool("v", false, "verbose logging")
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().Timestamp().Logger().
		Level(zerolog.WarnLevel)
	if *verbose {
		logger = logger.Level(zerolog.DebugLevel)
	}

	if err := run(*configPath, *workDir, logger); err != nil {
		logger.Error().Err(err).Msg("tether exited with error")
		os.Exit(1)
	}
}

func run(configPath, workDir string, logger zerolog.Logger) error {
	cfg, err := agent.LoadConfig(configPath)
	if err != nil {
		return err
	}

	client := backend.NewClientFromEnv(
		backend.WithRetryPolicy(cfg.Retry.Policy()),
		backend.WithLogger(logger),
	)
	defer client.Close()

	if err := client.Initialize(); err != nil {
		return err
	}

	registry := agent.NewToolRegistry()
	if err := agent.RegisterCoreTools(registry, cfg); err != nil {
		return err
	}

	env := agent.NewLocalEnvironment(workDir)
	mgr, err := agent.NewManager(cfg, client, registry, env, agent.WithLogger(logger))
	if err != nil {
		return err
	}
	defer mgr.Close()

	go renderEvents(mgr.Events())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("tether %s | model %s | workspace %s\n", mgr.ID(), cfg.CapableModel, env.WorkingDirectory())
	fmt.Println(`type a message, or "exit" to quit`)

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			break
		}

		result, err := mgr.ProcessTurn(ctx, input)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}

		switch result.Status {
		case agent.TurnCompleted:
			fmt.Println(result.Message)
		case agent.TurnAborted:
			fmt.Fprintf(os.Stderr, "turn aborted: %s after %d rounds\n", result.AbortReason, result.Rounds)
		}
		if result.Degraded {
			fmt.Fprintln(os.Stderr, "(context was truncated this turn)")
		}
	}
	return scanner.Err()
}

// renderEvents prints tool activity as it happens so long turns are not
// silent.
func renderEvents(events <-chan agent.Event) {
	for evt := range events {
		switch evt.Kind {
		case agent.EventToolDispatched:
			fmt.Fprintf(os.Stderr, "  [tool] %v %v\n", evt.Data["tool"], evt.Data["args"])
		case agent.EventToolCompleted:
			if isErr, _ := evt.Data["is_err"].(bool); isErr {
				fmt.Fprintf(os.Stderr, "  [tool] %v failed: %v\n", evt.Data["tool"], evt.Data["error"])
			}
		case agent.EventContextCompressed:
			fmt.Fprintf(os.Stderr, "  [context] compressed %v -> %v tokens\n",
				evt.Data["before_tokens"], evt.Data["after_tokens"])
		case agent.EventWarning:
			fmt.Fprintf(os.Stderr, "  [warn] %v\n", evt.Data["warning"])
		}
	}
}
