package config

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/soulteary/cli-kit/env"
	logger "github.com/soulteary/logger-kit"

	"github.com/soulteary/herald-captcha/internal/captcha"
	"github.com/soulteary/herald-captcha/internal/render"
	"github.com/soulteary/herald-captcha/internal/replay"
	"github.com/soulteary/herald-captcha/internal/token"
)

var log *logger.Logger

var (
	Port     = env.Get("PORT", ":8085")
	LogLevel = env.Get("LOG_LEVEL", "info")

	// Redis (rate limit counters only)
	RedisAddr     = env.Get("REDIS_ADDR", "localhost:6379")
	RedisPassword = env.Get("REDIS_PASSWORD", "")
	RedisDB       = env.GetInt("REDIS_DB", 0)

	// Captcha protocol
	CaseSensitive  = ParseBoolEnv("CAPTCHA_CASE_SENSITIVE", false)
	NumbersOnly    = ParseBoolEnv("CAPTCHA_NUMBERS_ONLY", false)
	ReplayCapacity = env.GetInt("CAPTCHA_REPLAY_CAPACITY", replay.DefaultCapacity)
	EpochInterval  = env.GetDuration("CAPTCHA_EPOCH_INTERVAL", 90*time.Second)
	Signer         = env.Get("CAPTCHA_SIGNER", token.SignerBLAKE3)
	CompactStride  = env.GetInt("CAPTCHA_COMPACT_STRIDE", token.DefaultStride)

	// Pregeneration cache
	CacheCapacity    = env.GetInt("CAPTCHA_CACHE_CAPACITY", 256)
	CachePrefill     = ParseBoolEnv("CAPTCHA_CACHE_PREFILL", true)
	CacheAsyncRefill = ParseBoolEnv("CAPTCHA_CACHE_ASYNC_REFILL", true)
	AnswerLength     = env.GetInt("CAPTCHA_ANSWER_LENGTH", render.DefaultLength)
	Difficulty       = env.GetInt("CAPTCHA_DIFFICULTY", render.DefaultDifficulty)

	// Service auth: API Key or HMAC
	APIKey       = env.Get("API_KEY", "")
	HMACSecret   = env.Get("HMAC_SECRET", "")
	HMACKeysJSON = env.Get("HERALD_CAPTCHA_HMAC_KEYS", "")
	ServiceName  = env.Get("SERVICE_NAME", "herald-captcha")

	hmacKeysMap      map[string]string
	hmacDefaultKeyID string

	// Rate limit
	RateLimitPerIP = env.GetInt("RATE_LIMIT_PER_IP", 60) // per minute
)

// Initialize sets the logger and parses HMAC keys if present.
func Initialize(l *logger.Logger) {
	log = l
	if HMACKeysJSON != "" {
		if err := parseHMACKeys(); err != nil {
			log.Warn().Err(err).Msg("Failed to parse HERALD_CAPTCHA_HMAC_KEYS")
		} else {
			for keyID := range hmacKeysMap {
				hmacDefaultKeyID = keyID
				break
			}
		}
	}
	if d := render.ClampDifficulty(Difficulty); d != Difficulty {
		log.Warn().Int("difficulty", Difficulty).Int("using", d).Msg("CAPTCHA_DIFFICULTY out of range (0..5)")
		Difficulty = d
	}
}

func parseHMACKeys() error {
	return json.Unmarshal([]byte(HMACKeysJSON), &hmacKeysMap)
}

// ParseBoolEnv reads an env var as bool: "true"/"1"/"yes" (case-insensitive) = true, "false"/"0"/etc = false, empty = defaultVal.
func ParseBoolEnv(key string, defaultVal bool) bool {
	v := strings.ToLower(strings.TrimSpace(env.Get(key, "")))
	if v == "" {
		return defaultVal
	}
	return v == "true" || v == "1" || v == "yes"
}

// CaptchaConfig maps the environment onto the service configuration.
func CaptchaConfig() captcha.Config {
	return captcha.Config{
		CaseSensitive:  CaseSensitive,
		NumbersOnly:    NumbersOnly,
		ReplayCapacity: ReplayCapacity,
		EpochInterval:  EpochInterval,
		CacheCapacity:  CacheCapacity,
		AnswerLength:   AnswerLength,
		Difficulty:     Difficulty,
		AsyncRefill:    CacheAsyncRefill,
		Signer:         Signer,
		CompactStride:  CompactStride,
	}
}

// GetHMACSecret returns the HMAC secret for the given key ID.
func GetHMACSecret(keyID string) string {
	if len(hmacKeysMap) > 0 {
		if keyID == "" {
			keyID = hmacDefaultKeyID
		}
		if s, ok := hmacKeysMap[keyID]; ok {
			return s
		}
		return ""
	}
	return HMACSecret
}

// HasHMACKeys returns true if multiple HMAC keys are configured.
func HasHMACKeys() bool {
	return len(hmacKeysMap) > 0
}

// AllowNoAuth returns true when no API key or HMAC is set (dev only).
func AllowNoAuth() bool {
	return APIKey == "" && HMACSecret == "" && !HasHMACKeys()
}
