// Command authcored runs the credential engine as a standalone process:
// store and Redis wiring, audit output on stdout, and the ghost-account
// reaper. The HTTP surface in front of it is a separate concern; this binary
// exists for local development and smoke testing.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/caarlos0/env/v11"
	"github.com/redis/go-redis/v9"

	"github.com/sableio/authcore"
	"github.com/sableio/authcore/password"
	"github.com/sableio/authcore/store/memory"
	"github.com/sableio/authcore/store/postgres"
)

type config struct {
	RedisAddr   string `env:"REDIS_ADDR"`
	DatabaseDSN string `env:"DATABASE_DSN"`
	JWTSecret   string `env:"JWT_SECRET,required"`
	JWTIssuer   string `env:"JWT_ISSUER" envDefault:"authcore"`
	DetectReuse bool   `env:"SESSION_DETECT_REUSE"`
	ReaperRunAt string `env:"REAPER_RUN_AT" envDefault:"03:00"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store authcore.CredentialStore
	if cfg.DatabaseDSN != "" {
		pg, err := postgres.Open(ctx, cfg.DatabaseDSN)
		if err != nil {
			return err
		}
		defer pg.Close()
		if err := pg.RunMigrations(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		store = pg
		logger.Info("using postgres credential store")
	} else {
		store = memory.New()
		logger.Warn("DATABASE_DSN unset, using in-memory credential store")
	}

	var rdb redis.UniversalClient
	if cfg.RedisAddr != "" {
		rdb = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{cfg.RedisAddr},
		})
		defer rdb.Close()
	}

	hasher, err := password.NewArgon2(password.DefaultConfig())
	if err != nil {
		return err
	}

	engineCfg := authcore.DefaultConfig()
	engineCfg.JWT.PrivateKey = []byte(cfg.JWTSecret)
	engineCfg.JWT.Issuer = cfg.JWTIssuer
	engineCfg.Session.DetectReuse = cfg.DetectReuse
	engineCfg.Reaper.RunAt = cfg.ReaperRunAt

	builder := authcore.New().
		WithConfig(engineCfg).
		WithStore(store).
		WithHasher(hasher).
		WithAuditSink(authcore.NewJSONWriterSink(os.Stdout)).
		WithLogger(logger)
	if rdb != nil {
		builder = builder.WithRedis(rdb)
	}

	engine, err := builder.Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	reaper, err := authcore.NewReaper(engine)
	if err != nil {
		return err
	}
	if err := reaper.Start(ctx); err != nil {
		return err
	}
	defer reaper.Stop()

	logger.Info("authcored running", "redis", cfg.RedisAddr != "", "reaper_run_at", cfg.ReaperRunAt)
	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}
