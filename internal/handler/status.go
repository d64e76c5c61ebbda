package handler

import (
	"github.com/gofiber/fiber/v2"
)

// StatsResponse is the response for GET /v1/stats.
type StatsResponse struct {
	CacheSize      int  `json:"cache_size"`
	CacheCapacity  int  `json:"cache_capacity"`
	ReplayTracked  int  `json:"replay_tracked"`
	ReplayCapacity int  `json:"replay_capacity"`
	AnswerLength   int  `json:"answer_length"`
	Difficulty     int  `json:"difficulty"`
	CaseSensitive  bool `json:"case_sensitive"`
	NumbersOnly    bool `json:"numbers_only"`
}

// Stats handles GET /v1/stats.
func Stats(svc Captcha) fiber.Handler {
	return func(c *fiber.Ctx) error {
		s := svc.Stats()
		return c.JSON(StatsResponse{
			CacheSize:      s.CacheSize,
			CacheCapacity:  s.CacheCapacity,
			ReplayTracked:  s.ReplayTracked,
			ReplayCapacity: s.ReplayCapacity,
			AnswerLength:   s.AnswerLength,
			Difficulty:     s.Difficulty,
			CaseSensitive:  s.CaseSensitive,
			NumbersOnly:    s.NumbersOnly,
		})
	}
}
