package audio

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/charmbracelet/log"
	"github.com/spf13/viper"
)

// Config holds the engine configuration. It is static after startup;
// the only runtime volume control is SetTypeVolume, which stays under
// the Governor's clamp.
type Config struct {
	// SafetyCap is the hard ceiling on effective volume for any
	// session. It cannot be raised by callers, only lowered here.
	SafetyCap float64 `mapstructure:"safety_cap" env:"SAFETY_CAP"`

	// MaxCacheBytes bounds the unpinned bytes retained by the cache.
	MaxCacheBytes int64 `mapstructure:"max_cache_bytes" env:"MAX_CACHE_BYTES"`

	// DefaultFadeIn/DefaultFadeOut apply when a request does not set
	// its own fades.
	DefaultFadeIn  time.Duration `mapstructure:"default_fade_in" env:"DEFAULT_FADE_IN"`
	DefaultFadeOut time.Duration `mapstructure:"default_fade_out" env:"DEFAULT_FADE_OUT"`

	// PreemptFade is the short ramp applied to a session being
	// preempted by a higher priority request.
	PreemptFade time.Duration `mapstructure:"preempt_fade" env:"PREEMPT_FADE"`

	// ForceStopTimeout bounds how long a cancelled session may take to
	// reach Idle before the stream is forcibly halted.
	ForceStopTimeout time.Duration `mapstructure:"force_stop_timeout" env:"FORCE_STOP_TIMEOUT"`

	// DefaultLanguage is the catalog fallback language.
	DefaultLanguage string `mapstructure:"default_language" env:"DEFAULT_LANGUAGE"`

	// DuckingFactor multiplies Background volume while Foreground
	// holds a High or Critical session.
	DuckingFactor float64 `mapstructure:"ducking_factor" env:"DUCKING_FACTOR"`

	// SubscriberQueue is the bounded per-subscriber event queue size.
	// Overflow drops the oldest event, never the publisher.
	SubscriberQueue int `mapstructure:"subscriber_queue" env:"SUBSCRIBER_QUEUE"`
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		SafetyCap:        0.85,
		MaxCacheBytes:    50 * 1024 * 1024,
		DefaultFadeIn:    0,
		DefaultFadeOut:   150 * time.Millisecond,
		PreemptFade:      150 * time.Millisecond,
		ForceStopTimeout: 500 * time.Millisecond,
		DefaultLanguage:  "en",
		DuckingFactor:    0.2,
		SubscriberQueue:  16,
	}
}

// LoadConfig reads configuration from an optional YAML file, then
// applies CHIME_* environment overrides, then validates. A missing
// file is not an error; defaults apply.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		v := viper.New()
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return cfg, wrapError(err, ErrInvalidConfig, "config", "read "+path)
		}
		if err := v.Unmarshal(&cfg); err != nil {
			return cfg, wrapError(err, ErrInvalidConfig, "config", "unmarshal "+path)
		}
		log.Debug("config loaded", "path", path)
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "CHIME_"}); err != nil {
		return cfg, wrapError(err, ErrInvalidConfig, "config", "env overlay")
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks ranges and normalizes nothing; bad values are
// rejected rather than silently corrected so misconfiguration is
// visible at startup, not at bedtime volume.
func (c Config) Validate() error {
	if c.SafetyCap <= 0 || c.SafetyCap > 1 {
		return newError(ErrInvalidConfig, "config", fmt.Sprintf("safety_cap %.2f outside (0,1]", c.SafetyCap))
	}
	if c.MaxCacheBytes <= 0 {
		return newError(ErrInvalidConfig, "config", "max_cache_bytes must be positive")
	}
	if c.DuckingFactor < 0 || c.DuckingFactor > 1 {
		return newError(ErrInvalidConfig, "config", fmt.Sprintf("ducking_factor %.2f outside [0,1]", c.DuckingFactor))
	}
	if c.DefaultFadeIn < 0 || c.DefaultFadeOut < 0 || c.PreemptFade < 0 {
		return newError(ErrInvalidConfig, "config", "fade durations must not be negative")
	}
	if c.ForceStopTimeout <= 0 {
		return newError(ErrInvalidConfig, "config", "force_stop_timeout must be positive")
	}
	if c.DefaultLanguage == "" {
		return newError(ErrInvalidConfig, "config", "default_language must be set")
	}
	if c.SubscriberQueue <= 0 {
		return newError(ErrInvalidConfig, "config", "subscriber_queue must be positive")
	}
	return nil
}
