package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Route categories. Each gets its own defense pipeline.
const (
	CategoryGeneral = "general"
	CategoryAuth    = "auth"
	CategoryPayment = "payment"
)

// Store backends.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

var (
	ErrInvalidProfile = errors.New("invalid security profile")
	ErrInvalidStore   = errors.New("invalid guard store configuration")
)

// Config captures runtime configuration sourced from environment variables.
type Config struct {
	Environment  string
	HTTPPort     string
	DatabasePath string
	LogDir       string
	Debug        bool
	JWTSecret    string
	Security     SecurityConfig
}

// SecurityConfig configures the request-defense pipelines.
type SecurityConfig struct {
	Enabled           bool
	TrustedProxies    []string
	BlockedCIDRs      []string
	Store             StoreConfig
	FloodRPS          float64
	FloodBurst        int
	FreshnessWindow   time.Duration
	SigningSecret     string
	DetectorSkipKeys  []string
	CSRFTTL           time.Duration
	DecisionRetention time.Duration
	AlertURLs         []string
	PolicyFile        string
	Profiles          map[string]ProfileConfig
}

// StoreConfig selects where guard state lives.
type StoreConfig struct {
	Backend       string
	Capacity      int
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// ProfileConfig holds the per-category guard settings. A zero
// MaxAuthAttempts disables the lockout tracker for the category.
type ProfileConfig struct {
	Window          time.Duration
	MaxRequests     int
	MaxAuthAttempts int
	LockoutWindow   time.Duration
	Replay          bool
	Detector        bool
	CSRF            bool
}

// DefaultProfiles returns the built-in per-category limits.
func DefaultProfiles() map[string]ProfileConfig {
	return map[string]ProfileConfig{
		CategoryGeneral: {Window: 15 * time.Minute, MaxRequests: 100, Replay: true, Detector: true, CSRF: true},
		CategoryAuth: {
			Window: 15 * time.Minute, MaxRequests: 20,
			MaxAuthAttempts: 5, LockoutWindow: 15 * time.Minute,
			Replay: true, Detector: true, CSRF: true,
		},
		CategoryPayment: {
			Window: 15 * time.Minute, MaxRequests: 10,
			MaxAuthAttempts: 5, LockoutWindow: 15 * time.Minute,
			Replay: true, Detector: true, CSRF: true,
		},
	}
}

// Load reads env vars and falls back to defaults so the server can boot with zero configuration.
func Load() (Config, error) {
	cfg := Config{
		Environment:  getEnv("MW_ENV", "development"),
		HTTPPort:     getEnv("MW_HTTP_PORT", "8080"),
		DatabasePath: getEnv("MW_DB_PATH", filepath.Join("data", "messwallah.db")),
		LogDir:       getEnv("MW_LOG_DIR", filepath.Join("data", "logs")),
		Debug:        getEnvBool("MW_DEBUG", false),
		JWTSecret:    getEnv("MW_JWT_SECRET", "change-me-in-production"),
		Security:     loadSecurity(),
	}

	if cfg.Security.PolicyFile != "" {
		policy, err := LoadPolicy(cfg.Security.PolicyFile)
		if err != nil {
			return Config{}, err
		}
		policy.Apply(&cfg.Security)
	}

	if err := cfg.Security.Validate(); err != nil {
		return Config{}, err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0o755); err != nil {
		return Config{}, fmt.Errorf("ensure data directory: %w", err)
	}

	return cfg, nil
}

func loadSecurity() SecurityConfig {
	sec := SecurityConfig{
		Enabled:        getEnvBool("MW_SECURITY_ENABLED", true),
		TrustedProxies: getEnvList("MW_TRUSTED_PROXIES"),
		BlockedCIDRs:   getEnvList("MW_BLOCKED_CIDRS"),
		Store: StoreConfig{
			Backend:       getEnv("MW_GUARD_STORE", StoreMemory),
			Capacity:      getEnvInt("MW_GUARD_STORE_CAPACITY", 100_000),
			RedisAddr:     getEnv("MW_REDIS_ADDR", "localhost:6379"),
			RedisPassword: getEnv("MW_REDIS_PASSWORD", ""),
			RedisDB:       getEnvInt("MW_REDIS_DB", 0),
			RedisPrefix:   getEnv("MW_REDIS_PREFIX", "mw:guard:"),
		},
		FloodRPS:          getEnvFloat("MW_FLOOD_RPS", 0),
		FloodBurst:        getEnvInt("MW_FLOOD_BURST", 0),
		FreshnessWindow:   getEnvDuration("MW_FRESHNESS_WINDOW", 5*time.Minute),
		SigningSecret:     getEnv("MW_SIGNING_SECRET", ""),
		DetectorSkipKeys:  getEnvList("MW_DETECTOR_SKIP_KEYS"),
		CSRFTTL:           getEnvDuration("MW_CSRF_TTL", time.Hour),
		DecisionRetention: getEnvDuration("MW_DECISION_RETENTION", 30*24*time.Hour),
		AlertURLs:         getEnvList("MW_ALERT_URLS"),
		PolicyFile:        getEnv("MW_POLICY_FILE", ""),
		Profiles:          DefaultProfiles(),
	}

	for name, p := range sec.Profiles {
		prefix := "MW_" + strings.ToUpper(name) + "_"
		p.Window = getEnvDuration(prefix+"WINDOW", p.Window)
		p.MaxRequests = getEnvInt(prefix+"MAX_REQUESTS", p.MaxRequests)
		p.MaxAuthAttempts = getEnvInt(prefix+"MAX_AUTH_ATTEMPTS", p.MaxAuthAttempts)
		p.LockoutWindow = getEnvDuration(prefix+"LOCKOUT_WINDOW", p.LockoutWindow)
		p.Replay = getEnvBool(prefix+"REPLAY", p.Replay)
		p.Detector = getEnvBool(prefix+"DETECTOR", p.Detector)
		p.CSRF = getEnvBool(prefix+"CSRF", p.CSRF)
		sec.Profiles[name] = p
	}
	return sec
}

// Validate rejects configurations the guards cannot run with.
func (s SecurityConfig) Validate() error {
	switch s.Store.Backend {
	case StoreMemory:
		if s.Store.Capacity <= 0 {
			return fmt.Errorf("%w: capacity must be positive", ErrInvalidStore)
		}
	case StoreRedis:
		if s.Store.RedisAddr == "" {
			return fmt.Errorf("%w: redis address required", ErrInvalidStore)
		}
	default:
		return fmt.Errorf("%w: unknown backend %q", ErrInvalidStore, s.Store.Backend)
	}
	if s.FreshnessWindow <= 0 || s.CSRFTTL <= 0 {
		return fmt.Errorf("%w: freshness window and csrf ttl must be positive", ErrInvalidProfile)
	}
	for name, p := range s.Profiles {
		if p.Window <= 0 || p.MaxRequests <= 0 {
			return fmt.Errorf("%w: %s needs a positive window and request ceiling", ErrInvalidProfile, name)
		}
		if p.MaxAuthAttempts < 0 || (p.MaxAuthAttempts > 0 && p.LockoutWindow <= 0) {
			return fmt.Errorf("%w: %s lockout settings", ErrInvalidProfile, name)
		}
	}
	return nil
}

// Profile returns the settings for category, falling back to general.
func (s SecurityConfig) Profile(category string) ProfileConfig {
	if p, ok := s.Profiles[category]; ok {
		return p
	}
	return s.Profiles[CategoryGeneral]
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}

	return fallback
}

func getEnvInt(key string, fallback int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if f, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return f
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if b, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return b
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return d
	}
	return fallback
}

func getEnvList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
