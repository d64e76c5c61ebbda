package handler

import (
	"encoding/base64"

	"github.com/gofiber/fiber/v2"
	logger "github.com/soulteary/logger-kit"

	"github.com/soulteary/herald-captcha/internal/config"
	"github.com/soulteary/herald-captcha/internal/store"
)

// TokenHeader carries the token when the image is served raw.
const TokenHeader = "X-Captcha-Token"

const mimePNG = "image/png"

// ChallengeResponse is the response for POST /v1/challenge.
type ChallengeResponse struct {
	Token string `json:"token"`
	Image string `json:"image"` // base64 (std) encoded PNG
	MIME  string `json:"mime"`
}

// Challenge handles POST /v1/challenge.
func Challenge(svc Captcha, st *store.Store, log *logger.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if limited(c, st) {
			return respondRateLimited(c)
		}
		ch, err := svc.Challenge()
		if err != nil {
			log.Warn().Err(err).Msg("challenge: build failed")
			return respondInternalError(c)
		}
		return c.JSON(ChallengeResponse{
			Token: ch.Token,
			Image: base64.StdEncoding.EncodeToString(ch.Image),
			MIME:  mimePNG,
		})
	}
}

// ChallengeImage handles GET /v1/challenge.png: raw PNG body, token in X-Captcha-Token.
func ChallengeImage(svc Captcha, st *store.Store, log *logger.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if limited(c, st) {
			return respondRateLimited(c)
		}
		ch, err := svc.Challenge()
		if err != nil {
			log.Warn().Err(err).Msg("challenge: build failed")
			return respondInternalError(c)
		}
		c.Set(TokenHeader, ch.Token)
		c.Set(fiber.HeaderCacheControl, "no-store")
		c.Set(fiber.HeaderContentType, mimePNG)
		return c.Send(ch.Image)
	}
}

// limited counts a challenge request for the caller IP; counter errors fail open like the verify path.
func limited(c *fiber.Ctx, st *store.Store) bool {
	n, _ := st.IncrRateChallenge(c.Context(), c.IP())
	return n > int64(config.RateLimitPerIP)
}
