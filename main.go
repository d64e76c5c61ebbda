package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/pterm/pterm"
	"github.com/pterm/pterm/putils"
	"github.com/soulteary/logger-kit"
	version "github.com/soulteary/version-kit"

	"github.com/soulteary/herald-captcha/internal/captcha"
	"github.com/soulteary/herald-captcha/internal/config"
	"github.com/soulteary/herald-captcha/internal/render"
	"github.com/soulteary/herald-captcha/internal/router"
)

func showBanner() {
	pterm.DefaultBox.Println(
		putils.CenterText(
			"Herald Captcha\n" +
				"Zero Storage Captcha Service (Challenge / Verify)\n" +
				"Version: " + version.Version,
		),
	)
	time.Sleep(time.Millisecond)
}

func main() {
	showBanner()

	level := logger.ParseLevelFromEnv("LOG_LEVEL", logger.InfoLevel)
	log := logger.New(logger.Config{
		Level:          level,
		ServiceName:    "herald-captcha",
		ServiceVersion: version.Version,
	})
	config.Initialize(log)

	port := config.Port
	if !strings.HasPrefix(port, ":") {
		port = ":" + port
	}
	if config.AllowNoAuth() {
		log.Warn().Msg("API_KEY / HMAC_SECRET not set; /v1 routes are open (dev only)")
	}

	svc, err := captcha.New(config.CaptchaConfig(), render.New(log), log)
	if err != nil {
		log.Fatal().Err(err).Msg("captcha service setup failed")
	}
	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	svc.Start(ctx)
	if config.CachePrefill {
		go func() {
			if err := svc.Prefill(ctx); err != nil && ctx.Err() == nil {
				log.Warn().Err(err).Msg("cache prefill failed")
			}
		}()
	}

	app := fiber.New(fiber.Config{DisableStartupMessage: false})
	if _, err := router.Setup(app, svc, log); err != nil {
		log.Fatal().Err(err).Msg("router setup failed")
	}

	go func() {
		if err := app.Listen(port); err != nil {
			log.Fatal().Err(err).Msg("listen failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("shutdown error")
	}
	stop()
	svc.Close()
}
