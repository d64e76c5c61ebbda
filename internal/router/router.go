package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"
	health "github.com/soulteary/health-kit"
	logger "github.com/soulteary/logger-kit"
	middlewarekit "github.com/soulteary/middleware-kit"
	rediskit "github.com/soulteary/redis-kit/client"

	"github.com/soulteary/herald-captcha/internal/config"
	"github.com/soulteary/herald-captcha/internal/handler"
	"github.com/soulteary/herald-captcha/internal/store"
)

// Setup mounts routes on app. Call config.Initialize(log) before this.
func Setup(app *fiber.App, svc handler.Captcha, log *logger.Logger) (*store.Store, error) {
	cfg := rediskit.DefaultConfig().
		WithAddr(config.RedisAddr).
		WithPassword(config.RedisPassword).
		WithDB(config.RedisDB)
	redisClient, err := rediskit.NewClient(cfg)
	if err != nil {
		return nil, err
	}

	rateIPTTL := time.Minute
	st := store.NewStore(redisClient, rateIPTTL)

	app.Use(recover.New())
	app.Use(logger.FiberMiddleware(logger.MiddlewareConfig{
		Logger:           log,
		SkipPaths:        []string{"/healthz"},
		IncludeRequestID: true,
		IncludeLatency:   true,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins:  "*",
		AllowMethods:  "GET,POST,OPTIONS",
		AllowHeaders:  "Content-Type,Authorization,X-Service,X-Signature,X-Timestamp,X-API-Key,X-Key-Id",
		ExposeHeaders: handler.TokenHeader,
	}))

	healthConfig := health.DefaultConfig().WithServiceName(config.ServiceName)
	healthAgg := health.NewAggregator(healthConfig)
	healthAgg.AddChecker(health.NewRedisChecker(redisClient))
	app.Get("/healthz", health.FiberHandler(healthAgg))

	v1 := app.Group("/v1")
	zerologLogger := log.Zerolog()
	authHandler := middlewarekit.CombinedAuth(authConfig(&zerologLogger))

	v1.Post("/challenge", authHandler, handler.Challenge(svc, st, log))
	v1.Get("/challenge.png", authHandler, handler.ChallengeImage(svc, st, log))
	v1.Post("/verify", authHandler, handler.Verify(svc, st, log))
	v1.Get("/stats", authHandler, handler.Stats(svc))

	return st, nil
}

// authConfig enables only the methods that have credentials. A non-nil KeyProvider
// counts as configured HMAC, so it must stay unset in dev no-auth mode.
func authConfig(log *zerolog.Logger) middlewarekit.AuthConfig {
	cfg := middlewarekit.AuthConfig{
		AllowNoAuth: config.AllowNoAuth(),
		Logger:      log,
	}
	if config.HMACSecret != "" || config.HasHMACKeys() {
		cfg.HMACConfig = &middlewarekit.HMACConfig{KeyProvider: config.GetHMACSecret}
	}
	if config.APIKey != "" {
		cfg.APIKeyConfig = &middlewarekit.APIKeyConfig{APIKey: config.APIKey}
	}
	return cfg
}
