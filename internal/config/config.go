package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/shresthakamal/try-on/internal/compose"
)

// ErrInvalidConfig is returned when a variable cannot be parsed or is missing.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds all configuration for the application.
type Config struct {
	Port          string
	Env           string
	MediaDir      string
	PublicBaseURL string
	RedisURL      string

	// Messaging provider
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioAPIBase    string

	// Composition service
	ComposerURL    string
	Compose        compose.Options
	ComposeTimeout time.Duration

	FetchTimeout time.Duration
	SessionTTL   time.Duration
	DedupeTTL    time.Duration
}

// Load reads configuration from environment variables.
// It loads a .env file first if one is present.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return fromEnv(os.Getenv)
}

func fromEnv(getenv func(string) string) (*Config, error) {
	env := func(key, def string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return def
	}

	p := &parser{env: env}

	port := env("PORT", "8080")
	cfg := &Config{
		Port:             port,
		Env:              env("ENV", "development"),
		MediaDir:         env("MEDIA_DIR", "media"),
		PublicBaseURL:    strings.TrimRight(env("PUBLIC_BASE_URL", "http://localhost:"+port), "/"),
		RedisURL:         getenv("REDIS_URL"),
		TwilioAccountSID: getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:  getenv("TWILIO_AUTH_TOKEN"),
		TwilioAPIBase:    env("TWILIO_API_BASE", "https://api.twilio.com"),
		ComposerURL:      getenv("COMPOSER_URL"),
		ComposeTimeout:   p.durationVar("COMPOSE_TIMEOUT", 120*time.Second),
		FetchTimeout:     p.durationVar("FETCH_TIMEOUT", 30*time.Second),
		SessionTTL:       p.durationVar("SESSION_TTL", 24*time.Hour),
		DedupeTTL:        p.durationVar("DEDUPE_TTL", 24*time.Hour),
	}

	opts := compose.DefaultOptions()
	opts.DenoiseSteps = p.intVar("COMPOSE_DENOISE_STEPS", opts.DenoiseSteps)
	opts.Seed = int64(p.intVar("COMPOSE_SEED", int(opts.Seed)))
	opts.CropEnabled = p.boolVar("COMPOSE_CROP", opts.CropEnabled)
	opts.GarmentDescription = env("COMPOSE_GARMENT_DESCRIPTION", opts.GarmentDescription)
	opts.MaxDimension = p.intVar("RESULT_MAX_DIMENSION", 0)
	cfg.Compose = opts

	// Handled message IDs must expire.
	if cfg.DedupeTTL <= 0 {
		p.fail("DEDUPE_TTL", getenv("DEDUPE_TTL"))
	}

	if p.err != nil {
		return nil, p.err
	}
	if err := cfg.Compose.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	// In production, require provider credentials and the composition service
	if cfg.Env == "production" {
		for name, v := range map[string]string{
			"TWILIO_ACCOUNT_SID": cfg.TwilioAccountSID,
			"TWILIO_AUTH_TOKEN":  cfg.TwilioAuthToken,
			"COMPOSER_URL":       cfg.ComposerURL,
			"PUBLIC_BASE_URL":    getenv("PUBLIC_BASE_URL"),
		} {
			if v == "" {
				return nil, fmt.Errorf("%w: %s is required in production", ErrInvalidConfig, name)
			}
		}
	}

	return cfg, nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// parser records the first parse failure.
type parser struct {
	env func(key, def string) string
	err error
}

func (p *parser) fail(key, value string) {
	if p.err == nil {
		p.err = fmt.Errorf("%w: %s=%q", ErrInvalidConfig, key, value)
	}
}

func (p *parser) intVar(key string, def int) int {
	v := p.env(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(key, v)
		return def
	}
	return n
}

func (p *parser) boolVar(key string, def bool) bool {
	v := p.env(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(key, v)
		return def
	}
	return b
}

func (p *parser) durationVar(key string, def time.Duration) time.Duration {
	v := p.env(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		p.fail(key, v)
		return def
	}
	return d
}
