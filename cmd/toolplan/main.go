package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	zLog "github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/ZanzyTHEbar/toolplan"
	"github.com/ZanzyTHEbar/toolplan/internal/api"
	"github.com/ZanzyTHEbar/toolplan/internal/config"
	"github.com/ZanzyTHEbar/toolplan/internal/eventbus"
	"github.com/ZanzyTHEbar/toolplan/internal/executor"
	"github.com/ZanzyTHEbar/toolplan/internal/logging"
	"github.com/ZanzyTHEbar/toolplan/internal/planfile"
	"github.com/ZanzyTHEbar/toolplan/internal/registry"
	"github.com/ZanzyTHEbar/toolplan/internal/session"
	"github.com/ZanzyTHEbar/toolplan/internal/tools"
)

const usage = `usage:
  toolplan serve [-config file]          serve session turns over HTTP
  toolplan run [-config file] plan.yaml  execute a plan file and print the outcome`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "serve":
		err = serve(ctx, os.Args[2:])
	case "run":
		err = run(ctx, os.Args[2:], os.Stdout)
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		zLog.Error().Err(err).Str("code", toolplan.ErrorCode(err)).Msg("toolplan exited")
		os.Exit(1)
	}
}

// app holds the components shared by both modes.
type app struct {
	cfg      *config.Config
	registry *registry.Registry
	bus      *eventbus.ChannelEventBus
	executor *executor.Executor
}

func setup(name string, args []string) (*app, []string, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a YAML config file")
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return nil, nil, err
	}
	if err := logging.NewGlobal(cfg.Log.Level, cfg.Log.Pretty); err != nil {
		return nil, nil, toolplan.NewConfigurationError("failed to initialize logger", err)
	}
	logger := zLog.Logger

	if cfg.Backend.URL == "" {
		return nil, nil, toolplan.NewConfigurationError(
			fmt.Sprintf("backend url is required, set backend.url or %s", config.EnvBackendURL), nil)
	}
	client, err := tools.NewClient(cfg.Backend.URL, cfg.Backend.Token,
		tools.WithHTTPClient(&http.Client{Timeout: cfg.Backend.Timeout}),
		tools.WithLogger(logger.With().Str("component", "backend").Logger()),
	)
	if err != nil {
		return nil, nil, toolplan.NewConfigurationError("invalid backend", err)
	}
	reg := registry.MustNew()
	if err := tools.Register(reg, client); err != nil {
		return nil, nil, err
	}

	bus := eventbus.NewChannelEventBus(
		eventbus.WithBufferSize(cfg.EventBus.BufferSize),
		eventbus.WithWorkerCount(cfg.EventBus.Workers),
		eventbus.WithLogger(logger),
	)
	if _, err := bus.SubscribeAll(traceEvents(logger)); err != nil {
		return nil, nil, err
	}

	exec := executor.New(reg,
		executor.WithMaxRetries(cfg.Executor.MaxRetries),
		executor.WithRetryDelay(cfg.Executor.RetryDelay),
		executor.WithExecTimeout(cfg.Executor.ExecTimeout),
		executor.WithEventBus(bus),
		executor.WithLogger(logger.With().Str("component", "executor").Logger()),
	)

	return &app{cfg: cfg, registry: reg, bus: bus, executor: exec}, fs.Args(), nil
}

func traceEvents(logger zerolog.Logger) eventbus.EventHandler {
	return func(_ context.Context, evt eventbus.Event) error {
		logger.Trace().
			Str("event", string(evt.Type())).
			Str("source", evt.Source()).
			Interface("payload", evt.Payload()).
			Msg("event")
		return nil
	}
}

type closableStore interface {
	session.Store
	Close() error
}

func openStore(cfg config.StoreConfig, logger zerolog.Logger) (closableStore, error) {
	if strings.EqualFold(cfg.Kind, config.StoreSQLite) {
		store, err := session.NewSQLiteStore(cfg.Path)
		if err != nil {
			return nil, toolplan.NewStoreError("startup", "open", err)
		}
		return store, nil
	}
	return session.NewMemoryStore(cfg.TTL,
		session.WithMemoryLogger(logger),
		session.WithCleanupInterval(cfg.CleanupInterval),
	), nil
}

func serve(ctx context.Context, args []string) error {
	a, _, err := setup("serve", args)
	if err != nil {
		return err
	}
	defer a.bus.Close()
	logger := zLog.Logger

	store, err := openStore(a.cfg.Store, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	manager := session.NewManager(a.executor, store,
		session.WithVerifier(a.registry),
		session.WithEventBus(a.bus),
		session.WithLogger(logger.With().Str("component", "sessions").Logger()),
		session.WithSettle(a.cfg.Sessions.Settle),
		session.WithResumeLimit(a.cfg.Sessions.ResumeLimit),
	)

	// Plans that outlived the last process pick up where they stopped.
	if strings.EqualFold(a.cfg.Store.Kind, config.StoreSQLite) {
		n, err := manager.ResumeAll(ctx)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to resume stored plans")
		}
		logger.Info().Int("resumed", n).Msg("stored plans resumed")
	}

	server := api.New(a.cfg.HTTP.Addr, manager, a.registry,
		api.WithLogger(logger.With().Str("component", "http").Logger()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return server.Stop(shutdownCtx)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info().Msg("server exiting")
	return nil
}

type runOutput struct {
	Summary string             `json:"summary"`
	Plan    toolplan.DebugView `json:"plan"`
}

func run(ctx context.Context, args []string, out io.Writer) error {
	a, rest, err := setup("run", args)
	if err != nil {
		return err
	}
	defer a.bus.Close()
	if len(rest) != 1 {
		return toolplan.NewValidationError("run", "expected exactly one plan file", nil)
	}

	file, err := planfile.LoadAndValidate(rest[0])
	if err != nil {
		return err
	}
	if err := file.VerifyTools(a.registry); err != nil {
		return err
	}

	plan := a.executor.Build(file.Calls(), file.Message)
	a.executor.Settle(ctx, plan)

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(runOutput{Summary: session.Summary(plan), Plan: a.executor.DebugView(plan)}); err != nil {
		return err
	}
	if plan.Status == toolplan.PlanStatusFailed {
		return toolplan.NewError(toolplan.ErrCodeToolExecution, "run",
			fmt.Sprintf("plan %s failed", plan.ID), nil)
	}
	return nil
}
