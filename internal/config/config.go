// Package config resolves the totem configuration from the process
// environment, an optional .env file and a YAML defaults file.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Named keys understood by Has and the loaders.
const (
	KeySupabaseURL           = "SUPABASE_URL"
	KeySupabaseAnonKey       = "SUPABASE_ANON_KEY"
	KeySupabaseJWTSecret     = "SUPABASE_JWT_SECRET"
	KeyGeminiAPIKey          = "GEMINI_API_KEY"
	KeyGeminiModel           = "GEMINI_MODEL"
	KeyGeminiBaseURL         = "GEMINI_BASE_URL"
	KeyWebhookURL            = "N8N_WEBHOOK_URL"
	KeyAddr                  = "TOTEM_ADDR"
	KeyLogLevel              = "TOTEM_LOG_LEVEL"
	KeyLogFormat             = "TOTEM_LOG_FORMAT"
	KeyStore                 = "TOTEM_STORE"
	KeyDatabaseURL           = "DATABASE_URL"
	KeyRedisURL              = "REDIS_URL"
	KeyStateTTL              = "TOTEM_STATE_TTL"
	KeyRateLimit             = "TOTEM_RATE_LIMIT"
	KeyRateBurst             = "TOTEM_RATE_BURST"
	KeyCORSOrigins           = "TOTEM_CORS_ORIGINS"
	KeyGenerationMaxAttempts = "GENERATION_MAX_ATTEMPTS"
	KeyGenerationBaseDelay   = "GENERATION_BASE_DELAY"
	KeyGenerationImageSize   = "GENERATION_IMAGE_SIZE"
	KeyDashboardRefresh      = "DASHBOARD_REFRESH"
)

// Keys lists every key in resolution order of the YAML file.
var Keys = []string{
	KeySupabaseURL, KeySupabaseAnonKey, KeySupabaseJWTSecret,
	KeyGeminiAPIKey, KeyGeminiModel, KeyGeminiBaseURL,
	KeyWebhookURL, KeyAddr, KeyLogLevel, KeyLogFormat, KeyStore,
	KeyDatabaseURL, KeyRedisURL, KeyStateTTL, KeyRateLimit, KeyRateBurst,
	KeyCORSOrigins, KeyGenerationMaxAttempts, KeyGenerationBaseDelay,
	KeyGenerationImageSize, KeyDashboardRefresh,
}

// Store backends.
const (
	StoreSupabase = "supabase"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

var defaults = map[string]string{
	KeyGeminiModel:           "gemini-3-pro-image-preview",
	KeyGeminiBaseURL:         "https://generativelanguage.googleapis.com/v1beta",
	KeyAddr:                  ":8080",
	KeyLogLevel:              "info",
	KeyLogFormat:             "json",
	KeyStore:                 StoreSupabase,
	KeyStateTTL:              "30m",
	KeyRateLimit:             "20",
	KeyRateBurst:             "40",
	KeyCORSOrigins:           "*",
	KeyGenerationMaxAttempts: "3",
	KeyGenerationBaseDelay:   "2s",
	KeyGenerationImageSize:   "2K",
	KeyDashboardRefresh:      "30s",
}

// Config is the resolved configuration.
type Config struct {
	SupabaseURL       string
	SupabaseAnonKey   string
	SupabaseJWTSecret string

	GeminiAPIKey  string
	GeminiModel   string
	GeminiBaseURL string

	WebhookURL string

	Addr      string
	LogLevel  string
	LogFormat string
	Store     string

	DatabaseURL string
	RedisURL    string

	StateTTL    time.Duration
	RateLimit   float64
	RateBurst   int
	CORSOrigins []string

	GenerationMaxAttempts int
	GenerationBaseDelay   time.Duration
	GenerationImageSize   string

	DashboardRefresh time.Duration

	values map[string]string
}

// envLayer is decoded from the process environment. The VITE_ aliases are
// the names the kiosk front-end build uses for the same values.
type envLayer struct {
	SupabaseURL           string `env:"SUPABASE_URL"`
	ViteSupabaseURL       string `env:"VITE_SUPABASE_URL"`
	SupabaseAnonKey       string `env:"SUPABASE_ANON_KEY"`
	ViteSupabaseAnonKey   string `env:"VITE_SUPABASE_ANON_KEY"`
	SupabaseJWTSecret     string `env:"SUPABASE_JWT_SECRET"`
	GeminiAPIKey          string `env:"GEMINI_API_KEY"`
	ViteGeminiAPIKey      string `env:"VITE_GEMINI_API_KEY"`
	GeminiModel           string `env:"GEMINI_MODEL"`
	GeminiBaseURL         string `env:"GEMINI_BASE_URL"`
	WebhookURL            string `env:"N8N_WEBHOOK_URL"`
	ViteWebhookURL        string `env:"VITE_N8N_WEBHOOK_URL"`
	Addr                  string `env:"TOTEM_ADDR"`
	LogLevel              string `env:"TOTEM_LOG_LEVEL"`
	LogFormat             string `env:"TOTEM_LOG_FORMAT"`
	Store                 string `env:"TOTEM_STORE"`
	DatabaseURL           string `env:"DATABASE_URL"`
	RedisURL              string `env:"REDIS_URL"`
	StateTTL              string `env:"TOTEM_STATE_TTL"`
	RateLimit             string `env:"TOTEM_RATE_LIMIT"`
	RateBurst             string `env:"TOTEM_RATE_BURST"`
	CORSOrigins           string `env:"TOTEM_CORS_ORIGINS"`
	GenerationMaxAttempts string `env:"GENERATION_MAX_ATTEMPTS"`
	GenerationBaseDelay   string `env:"GENERATION_BASE_DELAY"`
	GenerationImageSize   string `env:"GENERATION_IMAGE_SIZE"`
	DashboardRefresh      string `env:"DASHBOARD_REFRESH"`
}

func (e envLayer) values() map[string]string {
	return map[string]string{
		KeySupabaseURL:           firstSet(e.SupabaseURL, e.ViteSupabaseURL),
		KeySupabaseAnonKey:       firstSet(e.SupabaseAnonKey, e.ViteSupabaseAnonKey),
		KeySupabaseJWTSecret:     e.SupabaseJWTSecret,
		KeyGeminiAPIKey:          firstSet(e.GeminiAPIKey, e.ViteGeminiAPIKey),
		KeyGeminiModel:           e.GeminiModel,
		KeyGeminiBaseURL:         e.GeminiBaseURL,
		KeyWebhookURL:            firstSet(e.WebhookURL, e.ViteWebhookURL),
		KeyAddr:                  e.Addr,
		KeyLogLevel:              e.LogLevel,
		KeyLogFormat:             e.LogFormat,
		KeyStore:                 e.Store,
		KeyDatabaseURL:           e.DatabaseURL,
		KeyRedisURL:              e.RedisURL,
		KeyStateTTL:              e.StateTTL,
		KeyRateLimit:             e.RateLimit,
		KeyRateBurst:             e.RateBurst,
		KeyCORSOrigins:           e.CORSOrigins,
		KeyGenerationMaxAttempts: e.GenerationMaxAttempts,
		KeyGenerationBaseDelay:   e.GenerationBaseDelay,
		KeyGenerationImageSize:   e.GenerationImageSize,
		KeyDashboardRefresh:      e.DashboardRefresh,
	}
}

// IsPlaceholder reports whether v is an unreplaced injection placeholder
// such as __VITE_SUPABASE_URL__.
func IsPlaceholder(v string) bool {
	return strings.HasPrefix(strings.TrimSpace(v), "__")
}

func usable(v string) bool {
	v = strings.TrimSpace(v)
	return v != "" && !IsPlaceholder(v)
}

func firstSet(vals ...string) string {
	for _, v := range vals {
		if usable(v) {
			return v
		}
	}
	return ""
}

// Options controls where Load looks for its file layers.
type Options struct {
	// YAMLPath is the defaults file. Missing files are ignored.
	YAMLPath string
	// EnvFile is loaded with godotenv without overriding the process
	// environment. Missing files are ignored.
	EnvFile string
}

// Load resolves the configuration from config/totem.yaml and .env.
func Load() (*Config, error) {
	return LoadWithOptions(Options{YAMLPath: "config/totem.yaml", EnvFile: ".env"})
}

// LoadWithOptions resolves each key from the environment, then the .env
// file, then the YAML file, then compiled defaults. Placeholders count as
// unset at every layer.
func LoadWithOptions(opts Options) (*Config, error) {
	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load env file %s: %w", opts.EnvFile, err)
		}
	}

	fileValues := map[string]string{}
	if opts.YAMLPath != "" {
		data, err := os.ReadFile(opts.YAMLPath)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &fileValues); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", opts.YAMLPath, err)
			}
		case !errors.Is(err, os.ErrNotExist):
			return nil, fmt.Errorf("failed to read config %s: %w", opts.YAMLPath, err)
		}
	}

	var env envLayer
	if err := envdecode.Decode(&env); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	envValues := env.values()

	resolved := make(map[string]string, len(Keys))
	for _, key := range Keys {
		if v := firstSet(envValues[key], fileValues[key], defaults[key]); v != "" {
			resolved[key] = strings.TrimSpace(v)
		}
	}
	return FromValues(resolved)
}

// FromValues builds a Config from already resolved key/value pairs. Keys
// that are missing fall back to compiled defaults.
func FromValues(values map[string]string) (*Config, error) {
	v := make(map[string]string, len(Keys))
	for _, key := range Keys {
		if s := firstSet(values[key], defaults[key]); s != "" {
			v[key] = s
		}
	}

	cfg := &Config{
		SupabaseURL:         strings.TrimRight(v[KeySupabaseURL], "/"),
		SupabaseAnonKey:     v[KeySupabaseAnonKey],
		SupabaseJWTSecret:   v[KeySupabaseJWTSecret],
		GeminiAPIKey:        v[KeyGeminiAPIKey],
		GeminiModel:         v[KeyGeminiModel],
		GeminiBaseURL:       strings.TrimRight(v[KeyGeminiBaseURL], "/"),
		WebhookURL:          v[KeyWebhookURL],
		Addr:                v[KeyAddr],
		LogLevel:            v[KeyLogLevel],
		LogFormat:           v[KeyLogFormat],
		Store:               strings.ToLower(v[KeyStore]),
		DatabaseURL:         v[KeyDatabaseURL],
		RedisURL:            v[KeyRedisURL],
		GenerationImageSize: strings.ToUpper(v[KeyGenerationImageSize]),
		values:              v,
	}

	var err error
	if cfg.StateTTL, err = parseDuration(v, KeyStateTTL); err != nil {
		return nil, err
	}
	if cfg.GenerationBaseDelay, err = parseDuration(v, KeyGenerationBaseDelay); err != nil {
		return nil, err
	}
	if cfg.DashboardRefresh, err = parseDuration(v, KeyDashboardRefresh); err != nil {
		return nil, err
	}
	if cfg.GenerationMaxAttempts, err = parseInt(v, KeyGenerationMaxAttempts); err != nil {
		return nil, err
	}
	if cfg.RateBurst, err = parseInt(v, KeyRateBurst); err != nil {
		return nil, err
	}
	if cfg.RateLimit, err = strconv.ParseFloat(v[KeyRateLimit], 64); err != nil {
		return nil, fmt.Errorf("%s: %w", KeyRateLimit, err)
	}
	for _, origin := range strings.Split(v[KeyCORSOrigins], ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			cfg.CORSOrigins = append(cfg.CORSOrigins, origin)
		}
	}

	return cfg, nil
}

func parseDuration(v map[string]string, key string) (time.Duration, error) {
	d, err := time.ParseDuration(v[key])
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func parseInt(v map[string]string, key string) (int, error) {
	n, err := strconv.Atoi(v[key])
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

// Has reports whether key resolved to a usable value.
func (c *Config) Has(key string) bool {
	return usable(c.values[key])
}

// Get returns the resolved raw value for key.
func (c *Config) Get(key string) string {
	return c.values[key]
}

// SupabaseConfigured reports whether both the project URL and anon key are set.
func (c *Config) SupabaseConfigured() bool {
	return c.Has(KeySupabaseURL) && c.Has(KeySupabaseAnonKey)
}

// Validate rejects malformed URLs and out-of-range settings.
func (c *Config) Validate() error {
	for _, key := range []string{KeySupabaseURL, KeyWebhookURL, KeyGeminiBaseURL} {
		if !c.Has(key) {
			continue
		}
		u, err := url.Parse(c.values[key])
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%s: invalid URL %q", key, c.values[key])
		}
	}

	switch c.Store {
	case StoreSupabase, StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("%s is required when %s=%s", KeyDatabaseURL, KeyStore, StorePostgres)
		}
	default:
		return fmt.Errorf("%s: unknown store %q", KeyStore, c.Store)
	}

	switch c.GenerationImageSize {
	case "1K", "2K", "4K":
	default:
		return fmt.Errorf("%s: unsupported image size %q", KeyGenerationImageSize, c.GenerationImageSize)
	}

	if c.GenerationMaxAttempts <= 0 {
		return fmt.Errorf("%s must be positive", KeyGenerationMaxAttempts)
	}
	if c.GenerationBaseDelay <= 0 {
		return fmt.Errorf("%s must be positive", KeyGenerationBaseDelay)
	}
	if c.StateTTL <= 0 {
		return fmt.Errorf("%s must be positive", KeyStateTTL)
	}
	if c.RateLimit <= 0 || c.RateBurst <= 0 {
		return fmt.Errorf("%s and %s must be positive", KeyRateLimit, KeyRateBurst)
	}
	return nil
}
