package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"mallku/internal/merrorkind"
)

// Config holds every environment-tunable knob the core reads at startup.
// Everything has a documented default so a missing .env never blocks boot;
// values that fail to parse surface a ConfigurationError rather than panic.
type Config struct {
	// Store / persistence
	StoreDSN           string
	SkipDatabase       bool
	ThresholdsStateDir string

	// Engine tuning
	WindowSize    time.Duration
	OverlapFactor float64
	RingBufferCap int
	LearningBatch int
	TickSoftCapMs int

	// Redis (feedback queue / broadcast channel)
	RedisAddr string

	// HTTP surface (optional, for `engine serve`)
	Port      string
	GinMode   string
	JWTSecret string
}

// Load reads the process environment (after optionally loading a .env
// file) into a Config.
func Load() (*Config, error) {
	_ = godotenv.Load()

	windowSize, err := parseDuration("MALLKU_WINDOW_SIZE", 2*time.Hour)
	if err != nil {
		return nil, err
	}
	overlap, err := parseFloat("MALLKU_OVERLAP_FACTOR", 0.3)
	if err != nil {
		return nil, err
	}
	ringCap, err := parseInt("MALLKU_RING_BUFFER_CAP", 10000)
	if err != nil {
		return nil, err
	}
	learningBatch, err := parseInt("MALLKU_LEARNING_BATCH", 50)
	if err != nil {
		return nil, err
	}
	tickCap, err := parseInt("MALLKU_TICK_SOFT_CAP_MS", 2000)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		StoreDSN:           getEnv("MALLKU_STORE_DSN", "host=localhost port=5432 user=mallku dbname=mallku sslmode=disable"),
		SkipDatabase:       getEnv("MALLKU_SKIP_DATABASE", "false") == "true",
		ThresholdsStateDir: getEnv("MALLKU_STATE_DIR", "./state"),

		WindowSize:    windowSize,
		OverlapFactor: overlap,
		RingBufferCap: ringCap,
		LearningBatch: learningBatch,
		TickSoftCapMs: tickCap,

		RedisAddr: getEnv("REDIS_ADDR", ""),

		Port:      getEnv("PORT", "8080"),
		GinMode:   getEnv("GIN_MODE", "release"),
		JWTSecret: getEnv("JWT_SECRET", "mallku-dev-secret"),
	}

	if cfg.RingBufferCap < 10000 {
		return nil, merrorkind.Configuration("config", "MALLKU_RING_BUFFER_CAP must be >= 10000", nil)
	}
	if cfg.OverlapFactor < 0 || cfg.OverlapFactor > 1 {
		return nil, merrorkind.Configuration("config", "MALLKU_OVERLAP_FACTOR must be in [0,1]", nil)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseDuration(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, merrorkind.Configuration("config", "invalid duration for "+key, err)
	}
	return d, nil
}

func parseFloat(key string, def float64) (float64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, merrorkind.Configuration("config", "invalid float for "+key, err)
	}
	return f, nil
}

func parseInt(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	i, err := strconv.Atoi(raw)
	if err != nil {
		return 0, merrorkind.Configuration("config", "invalid int for "+key, err)
	}
	return i, nil
}
