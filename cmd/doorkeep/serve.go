// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Doorkeep Contributors

package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/doorkeep/doorkeep/internal/auth"
	"github.com/doorkeep/doorkeep/internal/auth/memory"
	"github.com/doorkeep/doorkeep/internal/auth/postgres"
	"github.com/doorkeep/doorkeep/internal/config"
	"github.com/doorkeep/doorkeep/internal/logging"
	"github.com/doorkeep/doorkeep/internal/observability"
	"github.com/doorkeep/doorkeep/internal/store"
	"github.com/doorkeep/doorkeep/internal/web"
	"github.com/doorkeep/doorkeep/pkg/errutil"
)

const shutdownTimeout = 10 * time.Second

// serveOptions holds flags that are not part of the config file.
type serveOptions struct {
	dev         bool
	autoMigrate bool
}

// AutoMigrator is the subset of the migrator used during startup.
type AutoMigrator interface {
	Up() error
	Close() error
}

// ServeDeps holds injectable dependencies for the serve command.
// Production uses defaultServeDeps; tests substitute mocks.
type ServeDeps struct {
	// RepositoryFactory opens the user store for the given database URL
	// and returns the repository, a readiness probe, and a cleanup func.
	RepositoryFactory func(ctx context.Context, databaseURL string) (auth.UserRepository, observability.ReadinessChecker, func(), error)

	// MigratorFactory creates a migrator for startup auto-migration.
	MigratorFactory func(databaseURL string) (AutoMigrator, error)
}

func defaultServeDeps() *ServeDeps {
	return &ServeDeps{
		RepositoryFactory: func(ctx context.Context, databaseURL string) (auth.UserRepository, observability.ReadinessChecker, func(), error) {
			pool, err := store.Connect(ctx, databaseURL)
			if err != nil {
				return nil, nil, nil, err
			}
			ready := func() bool {
				pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				return pool.Ping(pingCtx) == nil
			}
			return postgres.NewUserRepository(pool), ready, pool.Close, nil
		},
		MigratorFactory: func(databaseURL string) (AutoMigrator, error) {
			return store.NewMigrator(databaseURL)
		},
	}
}

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	opts := &serveOptions{}
	defaults := config.Default()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the authentication service",
		Long: `Start the HTTP authentication service and its observability
endpoints, run pending database migrations, and serve until interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configFile, cmd.Flags())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runServeWithDeps(ctx, cfg, opts, defaultServeDeps())
		},
	}

	cmd.Flags().String("http.addr", defaults.HTTP.Addr, "API listen address")
	cmd.Flags().String("observability.addr", defaults.Observability.Addr, "metrics/health listen address (empty to disable)")
	cmd.Flags().String("database.url", "", "PostgreSQL connection URL")
	cmd.Flags().Duration("session.ttl", defaults.Session.TTL, "session token lifetime")
	cmd.Flags().String("log.format", defaults.Log.Format, "log format: json or text")
	cmd.Flags().BoolVar(&opts.dev, "dev", false, "run with an in-memory store and an ephemeral signing secret")
	cmd.Flags().BoolVar(&opts.autoMigrate, "auto-migrate", true, "apply pending database migrations on startup")

	return cmd
}

func runServeWithDeps(ctx context.Context, cfg config.Config, opts *serveOptions, deps *ServeDeps) error {
	logging.SetDefault("doorkeep", version, cfg.Log.Format)
	logger := slog.Default()

	var (
		repo    auth.UserRepository
		ready   observability.ReadinessChecker
		cleanup func()
	)

	if opts.dev {
		// Dev mode never touches a database. The signing secret is
		// random per process, so tokens do not survive a restart.
		secret, err := ephemeralSecret()
		if err != nil {
			return err
		}
		cfg.Session.Secret = secret
		repo = memory.NewUserRepository()
		ready = func() bool { return true }
		cleanup = func() {}
		logger.Warn("dev mode: in-memory store, sessions will not survive a restart")
	} else {
		if err := cfg.Validate(); err != nil {
			return err
		}

		if opts.autoMigrate {
			if err := runAutoMigration(cfg.Database.URL, deps.MigratorFactory); err != nil {
				return err
			}
		}

		var err error
		repo, ready, cleanup, err = deps.RepositoryFactory(ctx, cfg.Database.URL)
		if err != nil {
			return oops.Code("SERVE_STORE_FAILED").Wrap(err)
		}
	}
	defer cleanup()

	tokens, err := auth.NewTokenManager([]byte(cfg.Session.Secret), cfg.Session.TTL)
	if err != nil {
		return err
	}

	svc, err := auth.NewService(repo, auth.NewArgon2idHasher(), tokens)
	if err != nil {
		return err
	}

	var (
		obs      *observability.Server
		obsErrCh <-chan error
		metrics  *observability.Metrics
	)
	if cfg.Observability.Addr != "" {
		obs = observability.NewServer(cfg.Observability.Addr, ready)
		obsErrCh, err = obs.Start()
		if err != nil {
			return oops.Code("SERVE_OBSERVABILITY_FAILED").Wrap(err)
		}
		metrics = obs.Metrics()
	}

	api := web.NewServer(cfg.HTTP.Addr, web.NewRouter(svc, logger, metrics))
	apiErrCh, err := api.Start()
	if err != nil {
		stopServers(nil, obs)
		return oops.Code("SERVE_API_FAILED").Wrap(err)
	}

	logger.Info("doorkeep started",
		"api_addr", api.Addr(),
		"session_ttl", tokens.TTL().String(),
		"dev", opts.dev,
	)

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err = <-apiErrCh:
		if err != nil {
			errutil.LogError(logger, "api server failed", err)
		}
	case err = <-obsErrCh:
		if err != nil {
			errutil.LogError(logger, "observability server failed", err)
		}
	}

	stopServers(api, obs)
	return err
}

// stopServers shuts down the API server before the observability server
// so health probes stay accurate during drain.
func stopServers(api *web.Server, obs *observability.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if api != nil {
		if err := api.Stop(ctx); err != nil {
			errutil.LogError(slog.Default(), "api server shutdown", err)
		}
	}
	if obs != nil {
		if err := obs.Stop(ctx); err != nil {
			errutil.LogError(slog.Default(), "observability server shutdown", err)
		}
	}
}

// runAutoMigration applies pending migrations during startup.
func runAutoMigration(databaseURL string, factory func(string) (AutoMigrator, error)) error {
	migrator, err := factory(databaseURL)
	if err != nil {
		return oops.Code("MIGRATION_INIT_FAILED").Wrap(err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			slog.Warn("error closing migrator; connection may leak", "error", closeErr)
		}
	}()

	if err := migrator.Up(); err != nil {
		return oops.Code("AUTO_MIGRATION_FAILED").Wrap(err)
	}

	slog.Info("database migrations applied")
	return nil
}

// ephemeralSecret generates a random signing secret for dev mode.
func ephemeralSecret() (string, error) {
	raw := make([]byte, auth.MinSecretLength)
	if _, err := rand.Read(raw); err != nil {
		return "", oops.Code("SECRET_GENERATION_FAILED").Wrap(err)
	}
	return hex.EncodeToString(raw), nil
}
