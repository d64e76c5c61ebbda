package handler

import (
	"github.com/soulteary/herald-captcha/internal/cache"
	"github.com/soulteary/herald-captcha/internal/captcha"
)

// Captcha is the part of the captcha service the handlers use.
type Captcha interface {
	Challenge() (cache.Challenge, error)
	Validate(answer, token string) bool
	Stats() captcha.Stats
}
