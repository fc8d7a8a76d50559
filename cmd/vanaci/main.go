// Vanaci is the conversational agent behind the Vanaci pharmacy
// storefront.
//
// It serves the /chat HTTP API (JSON, Server-Sent Events and WebSocket)
// and offers a one-shot CLI for smoke tests. Configuration is loaded
// from a single YAML file discovered automatically (see
// [config.DefaultSearchPaths]).
//
// Usage:
//
//	vanaci serve                 Start the API server
//	vanaci ask <message>         Run a single turn and print the answer
//	vanaci version               Print version and build information
//	vanaci version -o json       Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/RaphaelMalburg/vanaci-task-2-sub000/internal/agent"
	"github.com/RaphaelMalburg/vanaci-task-2-sub000/internal/buildinfo"
	"github.com/RaphaelMalburg/vanaci-task-2-sub000/internal/config"
	"github.com/RaphaelMalburg/vanaci-task-2-sub000/internal/dependency"
)

// shutdownTimeout bounds graceful shutdown of the HTTP server and the
// telemetry connection.
const shutdownTimeout = 10 * time.Second

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run] so the full
// lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. Cancelling ctx shuts the server down.
// Structured logs go to stdout for serve and to stderr for ask, whose
// stdout carries the answer.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// newRootCmd builds a fresh command tree so concurrent tests never share
// flag state.
func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "vanaci",
		Short:         "Vanaci storefront agent",
		Long:          "Vanaci storefront agent: an LLM-driven shopping assistant for a pharmacy e-commerce.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default: auto-discover)")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), stdout, configPath)
		},
	}

	var sessionID string
	var stream bool
	ask := &cobra.Command{
		Use:   "ask <message>",
		Short: "Run a single turn and print the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd.Context(), stdout, stderr, configPath, sessionID, stream, strings.Join(args, " "))
		},
	}
	ask.Flags().StringVarP(&sessionID, "session", "s", "", "session id to continue")
	ask.Flags().BoolVar(&stream, "stream", false, "print the answer as it streams")

	var outputFmt string
	version := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runVersion(stdout, outputFmt)
		},
	}
	version.Flags().StringVarP(&outputFmt, "output", "o", "text", "output format: text or json")

	root.AddCommand(serve, ask, version)
	return root
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	switch outputFmt {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	case "text":
	default:
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}
	fmt.Fprintln(w, buildinfo.String())
	// Stable order for human readability.
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// loadConfig locates and parses the YAML configuration file. Returns
// the parsed config, the path that was loaded, and any error.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	return cfg, cfgPath, nil
}

func newLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	// Validate has already rejected unparseable levels.
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	return config.NewLogger(w, level, cfg.LogFormat)
}

// runServe starts the API server, the session sweeper, and the optional
// telemetry publisher, and blocks until ctx is cancelled or a signal
// arrives.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(stdout, cfg)
	logger.Info("starting", "build", buildinfo.String(), "config", cfgPath)

	c, err := dependency.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("wire services: %w", err)
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Warn("close session database", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.Server().Start(gctx) })
	g.Go(func() error { return c.Sweeper().Run(gctx) })
	if pub := c.Publisher(); pub != nil {
		g.Go(func() error { return pub.Start(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if pub := c.Publisher(); pub != nil {
			if err := pub.Stop(shutdownCtx); err != nil {
				logger.Warn("mqtt disconnect", "error", err)
			}
		}
		return c.Server().Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

// runAsk runs one turn against the configured providers and prints the
// answer. Sessions persist when the config names a session database, so
// --session continues a conversation across invocations.
func runAsk(ctx context.Context, stdout, stderr io.Writer, configPath, sessionID string, stream bool, message string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(stderr, cfg)

	c, err := dependency.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("wire services: %w", err)
	}
	defer c.Close()

	svc := c.Service()
	p, err := svc.Begin(ctx, agent.TurnRequest{SessionID: sessionID, Message: message})
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}

	var emit agent.Emitter
	if stream {
		emit = func(e agent.Event) {
			switch e.Type {
			case agent.EventText:
				fmt.Fprint(stdout, e.Text)
			case agent.EventToolCall:
				logger.Info("tool call", "tool", e.Name, "args", e.Args)
			case agent.EventError:
				fmt.Fprintln(stdout, e.Message)
			}
		}
	}
	res := p.Run(ctx, emit)
	if stream {
		fmt.Fprintln(stdout)
	} else {
		fmt.Fprintln(stdout, res.Response)
	}
	logger.Info("turn finished",
		"session", res.SessionID, "tool_calls", res.Summary.ToolCalls, "iterations", res.Summary.Iterations)
	return nil
}
