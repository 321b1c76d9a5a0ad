// sync-devserver runs a local backend that speaks the sync envelope
// protocol, for developing against syncd without the real dashboard.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/orchestra-mcp/realtime/src/devserver"
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
		listen       string
		opts         devserver.Options
		demoChannel  string
		demoInterval time.Duration
		logLevel     string
	)
	flagSet := pflag.NewFlagSet("sync-devserver", pflag.ContinueOnError)
	flagSet.StringVar(&listen, "listen", ":8080", "listen address")
	flagSet.StringVar(&opts.Token, "token", "", "require this bearer token on upgrade")
	flagSet.BoolVar(&opts.Echo, "echo", false, "echo every data envelope back to its sender")
	flagSet.StringVar(&demoChannel, "demo-channel", "", "broadcast a demo.tick envelope to this channel")
	flagSet.DurationVar(&demoInterval, "demo-interval", 5*time.Second, "interval between demo ticks")
	flagSet.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	lvl, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", logLevel, err)
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(lvl).With().Timestamp().Logger()

	srv := devserver.New(opts, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.ListenAndServe(listen) })
	g.Go(func() error {
		<-gctx.Done()
		return srv.Shutdown()
	})
	if demoChannel != "" {
		g.Go(func() error { return tick(gctx, srv, demoChannel, demoInterval, logger) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func tick(ctx context.Context, srv *devserver.Server, channel string, interval time.Duration, logger zerolog.Logger) error {
	t := time.NewTicker(interval)
	defer t.Stop()

	seq := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-t.C:
			seq++
			env, err := types.NewEnvelope("demo.tick", map[string]int{"seq": seq}, now)
			if err != nil {
				return err
			}
			n := srv.Broadcast(channel, env)
			logger.Debug().Str("channel", channel).Int("seq", seq).Int("recipients", n).Msg("demo tick")
		}
	}
}
