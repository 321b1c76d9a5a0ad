// syncd runs the realtime sync client as a daemon. It opens the
// connections listed in its config, keeps them alive, and exposes an
// HTTP API for inspecting and driving them.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v3"
	"github.com/orchestra-mcp/realtime/config"
	"github.com/orchestra-mcp/realtime/providers"
	"github.com/orchestra-mcp/realtime/src/events"
	"github.com/orchestra-mcp/realtime/src/types"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath string
		listen     string
		baseURL    string
		logLevel   string
		logJSON    bool
	)
	flagSet := pflag.NewFlagSet("syncd", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	flagSet.StringVar(&listen, "listen", "", "HTTP listen address (overrides config)")
	flagSet.StringVar(&baseURL, "base-url", "", "dashboard base URL (overrides config)")
	flagSet.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flagSet.BoolVar(&logJSON, "log-json", false, "emit JSON logs instead of console output")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	logger, err := newLogger(logLevel, logJSON)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if listen != "" {
		cfg.Listen = listen
	}
	if baseURL != "" {
		cfg.Sync.BaseURL = baseURL
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	provider := providers.NewSyncProvider(cfg, nil, logger)
	provider.Service().On(types.Wildcard, func(ev events.Event) error {
		logger.Debug().Str("kind", ev.Kind).Str("origin", ev.Origin).Interface("payload", ev.Payload).Msg("event")
		return nil
	})
	if err := provider.Activate(); err != nil {
		return err
	}
	defer provider.Deactivate()

	app := fiber.New(fiber.Config{AppName: "syncd"})
	provider.RegisterRoutes(app)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("listen", cfg.Listen).Msg("syncd listening")
		return app.Listen(cfg.Listen, fiber.ListenConfig{DisableStartupMessage: true})
	})
	g.Go(func() error {
		<-gctx.Done()
		return app.Shutdown()
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info().Msg("syncd stopped")
	return nil
}

func loadConfig(path string) (*config.DaemonConfig, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.LoadAndValidate(path)
}

func newLogger(level string, jsonOutput bool) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", level, err)
	}
	var logger zerolog.Logger
	if jsonOutput {
		logger = zerolog.New(os.Stderr)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	return logger.Level(lvl).With().Timestamp().Logger(), nil
}
