package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/die-net/socksgate/internal/config"
	"github.com/die-net/socksgate/internal/dialer"
	"github.com/die-net/socksgate/internal/proxy"
	"github.com/die-net/socksgate/internal/resolver"
)

func main() {
	configureLogging()

	if err := run(); err != nil {
		log.Error().Err(err).Msg("exiting")
		os.Exit(1)
	}
}

// configureLogging sets up a console writer until the configured level is
// known.
func configureLogging() {
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: "15:04:05",
	})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func run() error {
	var (
		configPath = pflag.String("config", config.DefaultPath, "Path to the YAML configuration file")
		verbose    = pflag.Bool("verbose", false, "Enable debug logging, overriding log_level")
	)

	pflag.CommandLine.SortFlags = false
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	level := cfg.Level()
	if *verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Info().
		Str("bind", cfg.Bind).
		Str("socks5", cfg.SOCKS5).
		Str("resolver", cfg.Resolver).
		Dur("idle_timeout", cfg.IdleTimeout).
		Int("max_conns", cfg.MaxConns).
		Msg("configuration loaded")

	dialCfg := dialer.Config{
		DialTimeout:        cfg.DialTimeout,
		NegotiationTimeout: cfg.NegotiationTimeout,
		KeepAlive:          cfg.KeepAlive(),
	}

	var res dialer.Resolver
	if cfg.Resolver != "" {
		res = resolver.New(cfg.Resolver, cfg.DialTimeout, cfg.ResolverCacheTTL)
	}

	d, err := dialer.New(dialCfg, cfg.SOCKS5, res)
	if err != nil {
		return fmt.Errorf("invalid socks5 relay: %w", err)
	}

	g, ctx := errgroup.WithContext(context.Background())

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ln, err := proxy.ListenTCP(ctx, "tcp", cfg.Bind, proxy.ListenConfig{
		KeepAlive: cfg.KeepAlive(),
		ReuseAddr: cfg.ReuseAddr,
	})
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}

	srv := proxy.NewHTTPProxyServer(ctx, proxy.Config{
		NegotiationTimeout: cfg.NegotiationTimeout,
		IdleTimeout:        cfg.IdleTimeout,
		MaxConns:           cfg.MaxConns,
		MaxLineBytes:       cfg.MaxLineBytes,
		MaxHeaderBytes:     cfg.MaxHeaderBytes,
		Dialer:             d,
		Logger:             log.Logger,
	})
	context.AfterFunc(ctx, func() {
		_ = ln.Close()
	})

	g.Go(func() error {
		if err := srv.Serve(ln); err != nil {
			return fmt.Errorf("http proxy serve: %w", err)
		}
		return nil
	})
	log.Info().Str("addr", ln.Addr().String()).Msg("http proxy listening")

	err = g.Wait()
	if errors.Is(err, proxy.ErrServerClosed) {
		err = nil
	}

	log.Info().Msg("shutting down")
	return err
}
