package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"imgrelay/internal/config"
	"imgrelay/internal/delivery/channels"
	tgchannel "imgrelay/internal/delivery/channels/telegram"
	"imgrelay/internal/httpclient"
	"imgrelay/internal/imagestore"
	tginfra "imgrelay/internal/infra/telegram"
	"imgrelay/internal/observability"
	"imgrelay/internal/relay"
	serverHTTP "imgrelay/internal/server/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

const observabilityShutdownTimeout = 5 * time.Second

// App is the wired process. Client, Relay and Gateway are nil when no bot
// credential is configured or the platform rejected it.
type App struct {
	Config   config.Config
	Logger   *observability.Logger
	Store    *imagestore.Store
	Sweeper  *imagestore.Sweeper
	Client   *tginfra.Client
	Relay    *relay.Relay
	Gateway  *tgchannel.Gateway
	Router   *gin.Engine
	Server   *serverHTTP.Server
	Degraded *DegradedComponents
}

// Run builds the process from cfg and serves until ctx is cancelled.
func Run(ctx context.Context, cfg config.Config) error {
	obs, obsErr := observability.New(cfg.Observability)
	logger := obs.Logger
	if obsErr != nil {
		logger.Warn("observability partially unavailable", "error", obsErr)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), observabilityShutdownTimeout)
		defer cancel()
		if err := obs.Shutdown(shutdownCtx); err != nil {
			logger.Warn("observability shutdown failed", "error", err)
		}
	}()

	LogConfiguration(logger, cfg)

	app, err := Build(ctx, cfg, obs)
	if err != nil {
		return err
	}
	return app.Run(ctx)
}

// Build wires every component. Platform failures degrade the process to a
// bare web server instead of aborting startup. ctx bounds the connection
// retries made while authorizing the bot.
func Build(ctx context.Context, cfg config.Config, obs *observability.Observability) (*App, error) {
	if obs == nil {
		obs = &observability.Observability{}
	}
	logger := observability.OrNop(obs.Logger)
	metrics := obs.Metrics
	tracer := obs.Tracer()

	app := &App{
		Config:   cfg,
		Logger:   logger,
		Degraded: NewDegradedComponents(),
	}

	stages := []BootstrapStage{
		{
			Name: "store", Required: true,
			Init: func() error {
				app.Store = imagestore.NewStore(metrics)
				app.Sweeper = imagestore.NewSweeper(app.Store, imagestore.SweeperConfig{
					Retention: cfg.Store.Retention,
					Interval:  cfg.Store.SweepInterval,
				}, logger)
				return nil
			},
		},
		{
			Name: "telegram", Required: false,
			Init: func() error {
				if cfg.Telegram.Token == "" {
					logger.Warn("BOT_TOKEN not set, running as web server only")
					return nil
				}
				client, err := tginfra.NewClient(ctx, tginfra.Config{
					Token:        cfg.Telegram.Token,
					APIEndpoint:  cfg.Telegram.APIEndpoint,
					FileEndpoint: cfg.Telegram.FileEndpoint,
					HTTPTimeout:  cfg.Relay.HTTPTimeout,
				}, logger)
				if err != nil {
					return err
				}
				app.Client = client
				return nil
			},
		},
		{
			Name: "relay", Required: false,
			Init: func() error {
				if app.Client == nil {
					return nil
				}
				breaker := httpclient.NewCircuitBreaker("image-host", httpclient.DefaultBreakerConfig(), logger)
				app.Relay = relay.New(relay.Config{
					UploadURL:     cfg.Relay.UploadURL,
					HostBaseURL:   cfg.Relay.HostBaseURL,
					LinkBaseURL:   cfg.Relay.LinkBaseURL,
					MaxConcurrent: cfg.Relay.MaxConcurrent,
					HTTPClient:    httpclient.NewWithCircuitBreaker(cfg.Relay.HTTPTimeout, breaker),
				}, app.Client, newDownloader(cfg), logger, metrics, tracer)

				gateway, err := tgchannel.NewGateway(tgchannel.Config{
					BaseConfig:    channels.BaseConfig{ReplyTimeout: tgchannel.DefaultHandleTimeout},
					LinkBaseURL:   cfg.Relay.LinkBaseURL,
					WebhookSecret: cfg.Telegram.SecretToken,
				}, app.Client, app.Relay, app.Store, logger, metrics, tracer)
				if err != nil {
					app.Relay = nil
					return err
				}
				app.Gateway = gateway
				return nil
			},
		},
		{
			Name: "http", Required: true,
			Init: func() error {
				deps := serverHTTP.RouterDeps{
					Store:   app.Store,
					Logger:  logger,
					Metrics: metrics,
					Tracer:  tracer,
				}
				if app.Gateway != nil {
					deps.Files = app.Client
					deps.Fetcher = newDownloader(cfg)
					deps.Webhook = app.Gateway
				}
				app.Router = serverHTTP.NewRouter(serverHTTP.RouterConfig{
					BotConfigured:  cfg.Telegram.Token != "",
					TrustedProxies: cfg.Server.TrustedProxies,
					RateLimit: serverHTTP.RateLimitConfig{
						RequestsPerMinute: cfg.Server.RateLimitRPM,
						Burst:             cfg.Server.RateLimitBurst,
					},
				}, deps)
				app.Server = serverHTTP.NewServer(serverHTTP.ServerConfig{
					Host: cfg.Server.Host,
					Port: cfg.Server.Port,
				}, app.Router, logger)
				return nil
			},
		},
	}

	if err := RunStages(stages, app.Degraded, logger); err != nil {
		return nil, err
	}
	if !app.Degraded.IsEmpty() {
		logger.Warn("starting in degraded mode", "degraded", app.Degraded.Names())
	}
	return app, nil
}

func newDownloader(cfg config.Config) *tginfra.Downloader {
	return tginfra.NewDownloader(httpclient.New(cfg.Relay.HTTPTimeout))
}

// Run listens on the configured address until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	return a.serve(ctx, a.Server.Start)
}

// Serve runs the process on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	return a.serve(ctx, func() error { return a.Server.Serve(ln) })
}

func (a *App) serve(ctx context.Context, listen func() error) error {
	subsystems := NewSubsystemManager(a.Logger)
	defer subsystems.StopAll()

	if err := subsystems.Start(ctx, &funcSubsystem{
		name: "sweeper",
		startFn: func(context.Context) (func(), error) {
			if err := a.Sweeper.Start(); err != nil {
				return nil, err
			}
			return a.Sweeper.Stop, nil
		},
	}); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(listen)
	g.Go(func() error {
		<-gctx.Done()
		a.Logger.Info("shutting down")
		return a.Server.Shutdown(gctx)
	})
	if a.Gateway != nil {
		g.Go(func() error {
			a.receiveUpdates(gctx)
			return nil
		})
	}

	err := g.Wait()
	if a.Gateway != nil {
		a.Gateway.Wait()
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// receiveUpdates registers the webhook or polls, depending on the mode.
// Failures are logged and leave the HTTP surface running.
func (a *App) receiveUpdates(ctx context.Context) {
	switch a.Config.Mode() {
	case config.ModeWebhook:
		endpoint := a.Config.WebhookEndpoint()
		if err := a.Client.RegisterWebhook(ctx, endpoint, a.Config.Telegram.SecretToken); err != nil && ctx.Err() == nil {
			a.Logger.Error("webhook registration failed, no updates will arrive", "url", endpoint, "error", err)
			a.Degraded.Record("webhook", err.Error())
		}
	case config.ModePolling:
		if err := a.Gateway.Poll(ctx, a.Client); err != nil && ctx.Err() == nil {
			a.Logger.Error("polling failed, no updates will arrive", "error", err)
			a.Degraded.Record("polling", err.Error())
		}
	}
}
