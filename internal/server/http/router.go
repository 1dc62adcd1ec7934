package http

import (
	"net/http"

	"imgrelay/internal/observability"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

const (
	healthyText      = "✅ Bot is running!"
	unconfiguredText = "⚠️ Bot is not configured (missing BOT_TOKEN)"
)

// NewRouter creates the HTTP router with every endpoint.
func NewRouter(cfg RouterConfig, deps RouterDeps) *gin.Engine {
	logger := observability.OrNop(deps.Logger).With("component", "http")
	tracer := deps.Tracer
	if tracer == nil {
		tracer = observability.NoopTracer()
	}

	engine := gin.New()
	// ClientIP keys the rate limiter, so forwarding headers count only when
	// they come from a configured proxy.
	if err := engine.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		logger.Warn("invalid trusted proxies, trusting none", "proxies", cfg.TrustedProxies, "error", err)
		_ = engine.SetTrustedProxies(nil)
	}
	engine.Use(gin.Recovery())
	engine.Use(RequestIDMiddleware())
	engine.Use(ObservabilityMiddleware(logger, deps.Metrics.HTTP(), tracer))
	engine.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{http.MethodGet, http.MethodHead, http.MethodOptions},
		AllowHeaders:    []string{"Origin", "Content-Type"},
		ExposeHeaders:   []string{RequestIDHeader},
	}))

	images := &imageHandler{
		store:   deps.Store,
		files:   deps.Files,
		fetcher: deps.Fetcher,
		timeout: cfg.ImageTimeout,
		logger:  logger,
		metrics: deps.Metrics,
		tracer:  tracer,
	}
	webhook := &webhookHandler{handler: deps.Webhook, logger: logger}

	engine.GET("/", func(c *gin.Context) {
		if cfg.BotConfigured {
			c.String(http.StatusOK, healthyText)
			return
		}
		c.String(http.StatusOK, unconfiguredText)
	})

	imageRoutes := engine.Group("/", RateLimitMiddleware(cfg.RateLimit))
	imageRoutes.GET("/image/:id", images.serve)
	// Links handed to users have the shape <base>/imeg/<id>.jpg.
	imageRoutes.GET("/imeg/:id", images.serve)

	engine.POST("/webhook", webhook.serve)

	if handler := deps.Metrics.Handler(); handler != nil {
		engine.GET("/metrics", gin.WrapH(handler))
	}
	return engine
}
