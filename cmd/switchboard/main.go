// Switchboard routes customer conversations between specialist LLM
// handlers under a supervisor, and turns CRM events into conversations
// and customer notifications.
//
// Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	switchboard serve                     Start the API server
//	switchboard ask <message>             Run one conversation and print the reply
//	switchboard dispatch <event> <json>   Dispatch one CRM event
//	switchboard version                   Print version and build information
//	switchboard -o json version           Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nugget/switchboard/internal/api"
	"github.com/nugget/switchboard/internal/buildinfo"
	"github.com/nugget/switchboard/internal/config"
	"github.com/nugget/switchboard/internal/connwatch"
	"github.com/nugget/switchboard/internal/conversation"
	"github.com/nugget/switchboard/internal/dispatch"
	"github.com/nugget/switchboard/internal/mqtt"
)

// main builds the OS-level environment and hands off to [run], which
// keeps os.Exit and os.Args out of the application logic so the whole
// lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. ctx controls the process lifetime;
// cancelling it shuts everything down. Logs from serve go to stdout,
// logs from the one-shot commands go to stderr so stdout carries only
// their result.
//
// Arguments are parsed by hand: the flag package's globals would stop
// tests from calling run concurrently.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: switchboard ask <message>")
		}
		return runAsk(ctx, stdout, stderr, configPath, outputFmt, cmdArgs)
	case "dispatch":
		if len(cmdArgs) != 2 {
			return fmt.Errorf("usage: switchboard dispatch <event_type> <json_payload>")
		}
		return runDispatch(ctx, stdout, stderr, configPath, cmdArgs[0], cmdArgs[1])
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Switchboard - LLM supervisor router for support and CRM conversations")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: switchboard [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve                       Start the API server")
	fmt.Fprintln(w, "  ask <message>               Run one conversation and print the reply")
	fmt.Fprintln(w, "  dispatch <event> <payload>  Dispatch one CRM event (payload is a JSON object)")
	fmt.Fprintln(w, "  version                     Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	for _, p := range config.DefaultSearchPaths() {
		fmt.Fprintf(w, "  %s\n", p)
	}
	return nil
}

// runAsk runs one DIRECT conversation to completion and prints the
// final reply, or the whole result as JSON with -o json.
func runAsk(ctx context.Context, stdout, stderr io.Writer, configPath, outputFmt string, args []string) error {
	cfg, logger, err := setup(stderr, configPath)
	if err != nil {
		return err
	}

	a, err := buildApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	message := strings.Join(args, " ")
	st := conversation.New("", conversation.ModeDirect,
		conversation.NewMessage(conversation.SenderUser, message))

	res, err := a.loop.Run(ctx, st)
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}

	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	fmt.Fprintln(stdout, res.Reply)
	return nil
}

// runDispatch decodes and dispatches one CRM event, as a webhook or
// MQTT delivery would, and waits for every binding to finish.
func runDispatch(ctx context.Context, stdout, stderr io.Writer, configPath, kind, payload string) error {
	e, err := dispatch.Decode(kind, []byte(payload))
	if err != nil {
		return fmt.Errorf("dispatch: %w", err)
	}

	cfg, logger, err := setup(stderr, configPath)
	if err != nil {
		return err
	}

	a, err := buildApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	err = a.dispatcher.Dispatch(ctx, e)
	switch {
	case errors.Is(err, dispatch.ErrUnknownKind):
		fmt.Fprintf(stdout, "%s: unhandled\n", e.Kind)
		return nil
	case err != nil:
		return fmt.Errorf("dispatch %s: %w", e.Kind, err)
	}
	fmt.Fprintf(stdout, "%s: dispatched\n", e.Kind)
	return nil
}

// runServe starts the API server with every configured integration and
// blocks until ctx is cancelled or SIGINT/SIGTERM arrives.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	cfg, logger, err := setup(stdout, configPath)
	if err != nil {
		return err
	}

	logger.Info("starting switchboard",
		"version", buildinfo.Version,
		"commit", buildinfo.GitCommit,
		"branch", buildinfo.GitBranch,
		"built", buildinfo.BuildTime,
	)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	a, err := buildApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Backend health. Watchers log and publish transitions; /health
	// reports degraded while a required backend is down.
	watchers := connwatch.NewManager(logger, a.bus)
	defer watchers.Stop()

	watchers.Watch(ctx, connwatch.WatcherConfig{
		Name:  "llm",
		Probe: a.llm.Ping,
	})
	if a.crm != nil {
		watchers.Watch(ctx, connwatch.WatcherConfig{
			Name:     "crm",
			Probe:    a.crm.Ping,
			Optional: true,
		})
	}

	var mqttClient *mqtt.Client
	if cfg.MQTT.Configured() {
		instanceID, err := mqtt.LoadOrCreateInstanceID(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("mqtt instance id: %w", err)
		}
		mqttClient = mqtt.New(cfg.MQTT, instanceID, a.dispatcher, a.bus, statusAdapter{router: a.router}, logger)

		watchers.Watch(ctx, connwatch.WatcherConfig{
			Name: "mqtt",
			Probe: func(pctx context.Context) error {
				return mqttClient.AwaitConnection(pctx)
			},
		})

		go func() {
			if err := mqttClient.Start(ctx); err != nil {
				logger.Error("mqtt client stopped", "error", err)
			}
		}()
		logger.Info("MQTT enabled", "broker", cfg.MQTT.Broker, "instance_id", instanceID)
	}

	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, a.loop, a.router, logger)
	server.SetDispatcher(a.dispatcher)
	server.SetConversationStore(a.store)
	server.SetEventBus(a.bus)
	server.SetConnWatcher(watchers)

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if mqttClient != nil {
			if err := mqttClient.Stop(shutdownCtx); err != nil {
				logger.Warn("mqtt shutdown", "error", err)
			}
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", "error", err)
		}
	}()

	if err := server.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: %w", err)
	}

	logger.Info("switchboard stopped")
	return nil
}

// setup loads and validates the configuration and builds the logger it
// asks for.
func setup(w io.Writer, configPath string) (*config.Config, *slog.Logger, error) {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}

	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	logger := newLogger(w, level, cfg.LogFormat)
	logger.Debug("config loaded", "path", cfgPath)
	return cfg, logger, nil
}

// newLogger creates a structured logger writing to w. format is "text"
// or "json".
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// loadConfig locates, parses and validates the YAML configuration. If
// explicit is non-empty that exact path is used and must exist.
// Otherwise [config.FindConfig] searches the default locations.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, cfgPath, fmt.Errorf("invalid config %s: %w", cfgPath, err)
	}
	return cfg, cfgPath, nil
}
