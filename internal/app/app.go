package app

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vovakirdan/wirechat-signaling/internal/admission"
	"github.com/vovakirdan/wirechat-signaling/internal/auth"
	"github.com/vovakirdan/wirechat-signaling/internal/config"
	"github.com/vovakirdan/wirechat-signaling/internal/core"
	"github.com/vovakirdan/wirechat-signaling/internal/presence"
	"github.com/vovakirdan/wirechat-signaling/internal/relay"
	"github.com/vovakirdan/wirechat-signaling/internal/store"
	"github.com/vovakirdan/wirechat-signaling/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/wirechat-signaling/internal/transport/http"
)

// App wires together core and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	relay           *relay.Relay
	store           store.Store
	redis           *redis.Client
	mirror          *presence.Mirror
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	a := &App{
		shutdownTimeout: cfg.Server.ShutdownTimeout,
		log:             logger,
	}

	var ctlOpts []admission.Option
	if cfg.Storage.DatabasePath != "" {
		st, err := sqlite.New(cfg.Storage.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("init store: %w", err)
		}
		a.store = st
		ctlOpts = append(ctlOpts, admission.WithStore(st))
		logger.Info().Str("db_path", cfg.Storage.DatabasePath).Msg("database initialized")
	}

	regOpts := []core.RegistryOption{core.WithFirstJoinerHost(cfg.Relay.FirstJoinerHost)}
	if cfg.Presence.RedisAddr != "" {
		client, err := presence.Connect(ctx, cfg.Presence)
		if err != nil {
			a.cleanup()
			return nil, err
		}
		a.redis = client
		a.mirror = presence.NewMirror(client, cfg.Presence.KeyPrefix, cfg.Presence.TTL, logger)
		regOpts = append(regOpts, core.WithObserver(a.mirror))
		logger.Info().Str("redis_addr", cfg.Presence.RedisAddr).Msg("presence mirror enabled")
	}

	jwtConfig := &auth.JWTConfig{
		Secret:   []byte(cfg.Auth.JWTSecret),
		Issuer:   cfg.Auth.JWTIssuer,
		Audience: cfg.Auth.JWTAudience,
		TTL:      cfg.Auth.TokenTTL,
	}
	authService := auth.NewService(jwtConfig, cfg.Auth.AllowAnonymous)
	if cfg.Auth.JWTSecret == "" && !cfg.Auth.AllowAnonymous {
		logger.Warn().Msg("no jwt secret and anonymous access disabled; every connection will be rejected")
	}

	ctl := admission.New(admission.Config{
		Defaults: admission.Settings{
			Enabled:   cfg.Admission.Enabled,
			Capacity:  cfg.Admission.Capacity,
			AutoAdmit: cfg.Admission.AutoAdmit,
		},
		AutoAdmitDelay: cfg.Admission.AutoAdmitDelay,
	}, nil, logger, ctlOpts...)

	a.relay = relay.New(core.NewRegistry(regOpts...), ctl, relay.Config{
		HeartbeatTimeout: cfg.Relay.HeartbeatTimeout,
		SweepInterval:    cfg.Relay.SweepInterval,
		ConnBuffer:       cfg.Relay.ConnBuffer,
	}, logger)
	var mirrored transporthttp.PresenceReader
	if a.mirror != nil {
		mirrored = a.mirror
	}
	a.server = transporthttp.NewServer(a.relay, authService, mirrored, cfg, logger)

	return a, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	defer a.cleanup()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.relay.Run(gctx)
		return nil
	})
	if a.mirror != nil {
		g.Go(func() error {
			a.mirror.Run(gctx)
			return nil
		})
	}
	g.Go(func() error {
		a.log.Info().Str("addr", a.server.Addr).Msg("starting signaling server")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		return a.server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// cleanup closes database and other resources.
func (a *App) cleanup() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close redis client")
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
