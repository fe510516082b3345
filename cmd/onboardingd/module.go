package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/goliatone/go-onboarding"
	"github.com/goliatone/go-onboarding/activitymap"
	"github.com/goliatone/go-onboarding/config"
	"github.com/goliatone/go-onboarding/database"
	"github.com/goliatone/go-onboarding/logging"
	"github.com/goliatone/go-onboarding/provider/auth0"
	"github.com/goliatone/go-onboarding/provider/memory"
	"github.com/goliatone/go-onboarding/provider/redis"
	"github.com/goliatone/go-onboarding/provider/smtp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/uptrace/bun"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module wires every onboarding component from the config at configPath.
func Module(configPath string) fx.Option {
	return fx.Module("onboarding",
		fx.Provide(
			func() (*config.Config, error) { return config.Load(configPath) },
			ProvideLogger,
			ProvideDB,
			ProvideRepositoryManager,
			ProvideRegistry,
			ProvideMetrics,
			ProvideDirectory,
			ProvideDispatcher,
			ProvideCooldownGate,
			ProvidePasswordSealer,
			ProvideActivitySink,
			ProvideTokenService,
			ProvideOtpService,
			ProvideOrchestrator,
			ProvideSweeper,
		),
	)
}

func ProvideLogger(lc fx.Lifecycle, cfg *config.Config) (*zap.Logger, onboarding.Logger, error) {
	zl, err := logging.New(logging.Config{
		Level:        cfg.Logging.Level,
		Development:  cfg.Logging.Development,
		File:         cfg.Logging.File,
		RotationTime: cfg.Logging.RotationTime,
		MaxAge:       cfg.Logging.MaxAge,
	})
	if err != nil {
		return nil, nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			_ = zl.Sync()
			return nil
		},
	})

	return zl, logging.Adapt(zl).Named("onboarding"), nil
}

func ProvideDB(lc fx.Lifecycle, cfg *config.Config) (*bun.DB, error) {
	dbCfg := database.Config{
		Driver:       cfg.Database.Driver,
		DSN:          cfg.Database.DSN,
		Debug:        cfg.Database.Debug,
		MaxOpenConns: cfg.Database.MaxOpenConns,
	}

	open := database.Open
	if cfg.Database.AutoMigrate {
		open = database.OpenAndMigrate
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := open(ctx, dbCfg)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return db.Close()
		},
	})

	return db, nil
}

func ProvideRepositoryManager(db *bun.DB) (onboarding.RepositoryManager, error) {
	repo := onboarding.NewRepositoryManager(db)
	if err := repo.Validate(); err != nil {
		return nil, err
	}
	return repo, nil
}

func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func ProvideMetrics(reg *prometheus.Registry) *onboarding.Metrics {
	return onboarding.NewMetrics(reg)
}

func ProvideDirectory(cfg *config.Config, logger onboarding.Logger) (onboarding.IdentityDirectory, error) {
	switch cfg.Directory.Provider {
	case "auth0":
		ac := auth0.DefaultConfig(cfg.Auth0.Domain, cfg.Auth0.ClientID, cfg.Auth0.ClientSecret)
		ac.Connection = cfg.Auth0.Connection
		if cfg.Auth0.GroupCacheTTL != 0 {
			ac.GroupCacheTTL = cfg.Auth0.GroupCacheTTL
		}
		return auth0.NewDirectory(context.Background(), ac)
	default:
		if cfg.IsProduction() {
			return nil, errors.New("memory directory can not be used in production")
		}
		logger.Warn("using in-memory identity directory, identities are lost on restart")
		return memory.NewDirectory(), nil
	}
}

func ProvideDispatcher(cfg *config.Config, logger onboarding.Logger) (onboarding.NotificationDispatcher, error) {
	if cfg.SMTP.Host == "" {
		return onboarding.LogDispatcher{Logger: logger}, nil
	}

	return smtp.NewDispatcher(smtp.Config{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
	}, smtp.WithLogger(logger))
}

// ProvideCooldownGate returns the redis gate when an address is configured.
// A nil gate keeps the token service on its store backed default.
func ProvideCooldownGate(lc fx.Lifecycle, cfg *config.Config, repo onboarding.RepositoryManager) (onboarding.CooldownGate, error) {
	if cfg.Redis.Addr == "" {
		return nil, nil
	}

	client := redis.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})

	history := onboarding.NewStoreCooldownGate(repo.Tokens(), cfg.GetRateLimitCooldown(), nil)
	return redis.NewGate(client, cfg.GetRateLimitCooldown(), redis.WithHistory(history))
}

func ProvidePasswordSealer(cfg *config.Config) (onboarding.PasswordSealer, error) {
	secret := cfg.GetPasswordSecret()
	if secret == "" {
		return nil, errors.New("security.password_secret is required to stage registrations")
	}
	return onboarding.NewPasswordSealer(secret)
}

func ProvideActivitySink(zl *zap.Logger) onboarding.ActivitySink {
	return activitymap.NewZapSink(zl.Named("activity"))
}

func ProvideTokenService(
	repo onboarding.RepositoryManager,
	cfg *config.Config,
	gate onboarding.CooldownGate,
	logger onboarding.Logger,
	metrics *onboarding.Metrics,
	sink onboarding.ActivitySink,
) *onboarding.TokenService {
	opts := []onboarding.TokenServiceOption{
		onboarding.WithTokenTTL(onboarding.TokenSelfReg, cfg.GetSelfRegTokenTTL()),
		onboarding.WithTokenTTL(onboarding.TokenInvited, cfg.GetInvitedTokenTTL()),
		onboarding.WithTokenTTL(onboarding.TokenAppUser, cfg.GetAppUserTokenTTL()),
		onboarding.WithTokenLogger(logger),
		onboarding.WithTokenMetrics(metrics),
		onboarding.WithTokenActivitySink(sink),
	}
	if gate != nil {
		opts = append(opts, onboarding.WithCooldownGate(gate))
	} else {
		opts = append(opts, onboarding.WithCooldownGate(
			onboarding.NewStoreCooldownGate(repo.Tokens(), cfg.GetRateLimitCooldown(), nil),
		))
	}
	return onboarding.NewTokenService(repo, opts...)
}

func ProvideOtpService(
	repo onboarding.RepositoryManager,
	cfg *config.Config,
	logger onboarding.Logger,
	metrics *onboarding.Metrics,
) *onboarding.OtpService {
	opts := []onboarding.OtpServiceOption{
		onboarding.WithOtpTTL(cfg.GetOtpTTL()),
		onboarding.WithOtpCooldown(cfg.GetOtpCooldown()),
		onboarding.WithOtpLogger(logger),
		onboarding.WithOtpMetrics(metrics),
	}
	if cfg.Otp.AttemptsPerMin > 0 {
		opts = append(opts, onboarding.WithOtpAttemptLimiter(cfg.Otp.AttemptsPerMin, cfg.Otp.AttemptsBurst))
	}
	return onboarding.NewOtpService(repo, opts...)
}

func ProvideOrchestrator(
	repo onboarding.RepositoryManager,
	directory onboarding.IdentityDirectory,
	cfg *config.Config,
	tokens *onboarding.TokenService,
	otps *onboarding.OtpService,
	dispatcher onboarding.NotificationDispatcher,
	sealer onboarding.PasswordSealer,
	logger onboarding.Logger,
	metrics *onboarding.Metrics,
	sink onboarding.ActivitySink,
) *onboarding.Orchestrator {
	invitations := onboarding.NewInvitationService(repo,
		onboarding.WithInvitationLogger(logger),
		onboarding.WithInvitationActivitySink(sink),
	)

	return onboarding.NewOrchestrator(repo, directory,
		onboarding.WithConfig(cfg),
		onboarding.WithTokenService(tokens),
		onboarding.WithOtpService(otps),
		onboarding.WithInvitationService(invitations),
		onboarding.WithDispatcher(dispatcher),
		onboarding.WithPasswordSealer(sealer),
		onboarding.WithOrchestratorLogger(logger),
		onboarding.WithOrchestratorMetrics(metrics),
		onboarding.WithOrchestratorActivitySink(sink),
	)
}

func ProvideSweeper(
	repo onboarding.RepositoryManager,
	cfg *config.Config,
	logger onboarding.Logger,
	metrics *onboarding.Metrics,
) *onboarding.Sweeper {
	return onboarding.NewSweeper(repo,
		onboarding.WithSweepInterval(cfg.Sweeper.Interval),
		onboarding.WithSweepTimeout(cfg.Sweeper.Timeout),
		onboarding.WithPendingGrace(cfg.Sweeper.PendingGrace),
		onboarding.WithSweeperLogger(logger),
		onboarding.WithSweeperMetrics(metrics),
	)
}

func StartSweeper(lc fx.Lifecycle, cfg *config.Config, sweeper *onboarding.Sweeper) {
	if !cfg.Sweeper.Enabled {
		return
	}
	runInBackground(lc, sweeper.RunForever)
}

func StartOtpLimiter(lc fx.Lifecycle, otps *onboarding.OtpService) {
	runInBackground(lc, otps.Run)
}

func StartMetricsServer(lc fx.Lifecycle, cfg *config.Config, reg *prometheus.Registry, logger onboarding.Logger) {
	if cfg.Metrics.Addr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{
		Addr:              cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("metrics server stopped", "error", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

func LogReady(cfg *config.Config, logger onboarding.Logger, _ *onboarding.Orchestrator) {
	logger.Info("onboarding ready",
		"environment", cfg.Environment,
		"directory", cfg.Directory.Provider,
		"database", cfg.Database.Driver,
	)
}

func runInBackground(lc fx.Lifecycle, run func(ctx context.Context)) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				run(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})
}
