package config

import (
	"os"
	"testing"
	"time"

	logger "github.com/soulteary/logger-kit"
)

func TestInitialize(t *testing.T) {
	log := logger.New(logger.Config{Level: logger.Disabled})
	Initialize(log)
	if log == nil {
		t.Fatal("logger should be set")
	}
}

func TestInitialize_ClampsDifficulty(t *testing.T) {
	old := Difficulty
	defer func() { Difficulty = old }()
	Difficulty = 9
	Initialize(logger.New(logger.Config{Level: logger.Disabled}))
	if Difficulty != 5 {
		t.Errorf("Difficulty = %d, want 5", Difficulty)
	}
}

func TestCaptchaConfig(t *testing.T) {
	oldCS, oldCap, oldInt := CaseSensitive, CacheCapacity, EpochInterval
	defer func() { CaseSensitive, CacheCapacity, EpochInterval = oldCS, oldCap, oldInt }()
	CaseSensitive = true
	CacheCapacity = 12
	EpochInterval = 30 * time.Second

	cfg := CaptchaConfig()
	if !cfg.CaseSensitive || cfg.CacheCapacity != 12 || cfg.EpochInterval != 30*time.Second {
		t.Errorf("CaptchaConfig = %+v", cfg)
	}
	if cfg.ReplayCapacity != ReplayCapacity || cfg.Signer != Signer {
		t.Errorf("CaptchaConfig = %+v", cfg)
	}
}

func TestGetHMACSecret_NoKeys(t *testing.T) {
	// With no HERALD_CAPTCHA_HMAC_KEYS, hmacKeysMap is empty; GetHMACSecret returns HMACSecret (env default "")
	got := GetHMACSecret("")
	if got != HMACSecret {
		t.Errorf("GetHMACSecret(\"\") = %q, want %q (HMACSecret)", got, HMACSecret)
	}
	got = GetHMACSecret("any-key")
	if got != HMACSecret {
		t.Errorf("GetHMACSecret(\"any-key\") = %q, want HMACSecret", got)
	}
}

func TestGetHMACSecret_Keys(t *testing.T) {
	oldJSON := HMACKeysJSON
	defer func() {
		HMACKeysJSON = oldJSON
		hmacKeysMap = nil
		hmacDefaultKeyID = ""
	}()
	HMACKeysJSON = `{"k1":"s1"}`
	Initialize(logger.New(logger.Config{Level: logger.Disabled}))
	if !HasHMACKeys() {
		t.Fatal("HasHMACKeys = false")
	}
	if got := GetHMACSecret("k1"); got != "s1" {
		t.Errorf("GetHMACSecret(k1) = %q", got)
	}
	if got := GetHMACSecret(""); got != "s1" {
		t.Errorf("GetHMACSecret(default) = %q", got)
	}
	if got := GetHMACSecret("nope"); got != "" {
		t.Errorf("GetHMACSecret(nope) = %q", got)
	}
	if AllowNoAuth() {
		t.Error("AllowNoAuth should be false with HMAC keys")
	}
}

func TestParseBoolEnv(t *testing.T) {
	key := "HERALD_CAPTCHA_TEST_BOOL_" + t.Name()
	defer func() { _ = os.Unsetenv(key) }()

	// unset -> default true
	if got := ParseBoolEnv(key, true); !got {
		t.Errorf("ParseBoolEnv(unset, true) = false, want true")
	}
	if got := ParseBoolEnv(key, false); got {
		t.Errorf("ParseBoolEnv(unset, false) = true, want false")
	}

	// "true" / "1" / "yes" -> true
	for _, v := range []string{"true", "TRUE", "1", "yes", "YES"} {
		_ = os.Setenv(key, v)
		if got := ParseBoolEnv(key, false); !got {
			t.Errorf("ParseBoolEnv(%q, false) = false, want true", v)
		}
	}

	// "false" / "0" / other -> false
	for _, v := range []string{"false", "FALSE", "0", "no", "x"} {
		_ = os.Setenv(key, v)
		if got := ParseBoolEnv(key, true); got {
			t.Errorf("ParseBoolEnv(%q, true) = true, want false", v)
		}
	}

	// empty string after trim -> default
	_ = os.Setenv(key, "  ")
	if got := ParseBoolEnv(key, true); !got {
		t.Errorf("ParseBoolEnv(space, true) = false, want true")
	}
}
