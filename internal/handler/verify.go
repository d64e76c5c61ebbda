package handler

import (
	"github.com/gofiber/fiber/v2"
	logger "github.com/soulteary/logger-kit"
	secure "github.com/soulteary/secure-kit"

	"github.com/soulteary/herald-captcha/internal/config"
	"github.com/soulteary/herald-captcha/internal/store"
)

// VerifyRequest is the request body for POST /v1/verify.
type VerifyRequest struct {
	Answer string `json:"answer"`
	Token  string `json:"token"`
}

// VerifyResponse is the response for POST /v1/verify.
type VerifyResponse struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

// Verify handles POST /v1/verify. Every rejection looks the same to the caller.
func Verify(svc Captcha, st *store.Store, log *logger.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req VerifyRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(VerifyResponse{
				OK: false, Reason: "invalid_request",
			})
		}
		if req.Answer == "" || req.Token == "" {
			return c.Status(fiber.StatusBadRequest).JSON(VerifyResponse{
				OK: false, Reason: "invalid_request",
			})
		}

		ipCount, _ := st.IncrRateIP(c.Context(), c.IP())
		if ipCount > int64(config.RateLimitPerIP) {
			return respondRateLimited(c)
		}

		if !svc.Validate(req.Answer, req.Token) {
			log.Debug().Str("token", secure.MaskString(req.Token, 4)).Msg("verify: rejected")
			return c.Status(fiber.StatusUnauthorized).JSON(VerifyResponse{
				OK: false, Reason: "invalid",
			})
		}
		return c.JSON(VerifyResponse{OK: true})
	}
}
