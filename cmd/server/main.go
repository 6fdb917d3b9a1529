package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/christopherjohns/guestsync/internal/claim"
	"github.com/christopherjohns/guestsync/internal/config"
	"github.com/christopherjohns/guestsync/internal/coordination"
	"github.com/christopherjohns/guestsync/internal/guest"
	"github.com/christopherjohns/guestsync/internal/logging"
	"github.com/christopherjohns/guestsync/internal/metrics"
	"github.com/christopherjohns/guestsync/internal/ratelimit"
	"github.com/christopherjohns/guestsync/internal/server"
	"github.com/christopherjohns/guestsync/internal/ws"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "guestsync",
		Short: "Real-time guest selection server",
		Long: `guestsync lets the members of a group pick guests together. The first
pick of a guest wins, everyone in the group sees it immediately, and the
pick is then stored through the configured backend.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			config.SetDefaults(v)
			if err := config.ReadFile(v, cfgFile); err != nil {
				return err
			}
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			log := logging.Setup(cfg.Log.Level, cfg.Log.Format)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := run(ctx, cfg, log, prometheus.DefaultRegisterer, prometheus.DefaultGatherer); err != nil {
				log.Error("server stopped", "error", err)
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./guestsync.yaml)")
	cmd.Flags().Int("port", 0, "port to listen on (overrides PORT)")
	cmd.Flags().String("log-level", "", "log level: debug, info, warn, error")
	_ = v.BindPFlag("port", cmd.Flags().Lookup("port"))
	_ = v.BindPFlag("log.level", cmd.Flags().Lookup("log-level"))
	return cmd
}

// run wires every component from cfg and serves until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, log *slog.Logger, reg prometheus.Registerer, gatherer prometheus.Gatherer) error {
	m := metrics.New(reg)

	registry, closeRegistry, err := newRegistry(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeRegistry()

	persister, closePersister, err := newPersister(cfg)
	if err != nil {
		return err
	}
	defer closePersister()

	hub := ws.NewHub(log, m,
		ws.WithMaxConns(cfg.WS.MaxConns),
		ws.WithIdleTimeout(cfg.WS.IdleTimeout),
	)
	svc := coordination.New(registry, persister, hub,
		coordination.WithLogger(log),
		coordination.WithMetrics(m),
		coordination.WithPersistTimeout(cfg.Persistence.Timeout),
		coordination.WithReleaseOnFailure(cfg.Claims.ReleaseOnFailure),
	)
	srv := server.New(cfg.Addr(), hub, svc,
		server.WithLogger(log),
		server.WithAllowedOrigins(cfg.CORS.AllowedOrigins...),
		server.WithRateLimiter(ratelimit.New(cfg.WS.RateLimit, cfg.WS.RateWindow)),
		server.WithGatherer(gatherer),
	)

	log.Info("starting guestsync",
		"addr", cfg.Addr(),
		"claims", cfg.Claims.Backend,
		"persistence", cfg.Persistence.Backend,
	)
	return srv.Run(ctx)
}

// newRegistry builds the claim registry named by cfg.
func newRegistry(ctx context.Context, cfg *config.Config, log *slog.Logger) (claim.Registry, func(), error) {
	switch cfg.Claims.Backend {
	case config.ClaimsRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			rdb.Close()
			return nil, nil, fmt.Errorf("connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		log.Info("connected to redis", "addr", cfg.Redis.Addr)
		return claim.NewRedisRegistry(rdb), func() { rdb.Close() }, nil
	default:
		return claim.NewMemoryRegistry(), func() {}, nil
	}
}

// newPersister builds the guest store named by cfg.
func newPersister(cfg *config.Config) (guest.Persister, func(), error) {
	switch cfg.Persistence.Backend {
	case config.PersistenceSQLite:
		store, err := guest.NewSQLiteStore(cfg.Persistence.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { closeQuietly(store) }, nil
	default:
		p, err := guest.NewHTTPPersister(cfg.Persistence.Endpoint)
		if err != nil {
			return nil, nil, err
		}
		return p, func() {}, nil
	}
}

func closeQuietly(c io.Closer) {
	if err := c.Close(); err != nil {
		slog.Warn("close failed", "error", err)
	}
}
