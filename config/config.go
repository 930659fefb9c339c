package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds process-wide ambient defaults. Per-dump parameters (layer URL, field list,
// output format, ...) are constructor inputs (see internal/dumper), not environment
// variables — only defaults shared across every dump live here.
type Config struct {
	DBUrl                  string
	ProxyURL               string
	DefaultTimeoutSeconds  int
	DefaultMaxPageSize     int
	DefaultPauseSeconds    int
	DefaultRequestsToPause int
	DefaultNumRetry        int
	ListenAddr             string
}

// Load reads configuration from the environment, falling back to sensible defaults.
func Load() *Config {
	_ = godotenv.Load()

	listenAddr := os.Getenv("LISTEN_ADDR")
	if listenAddr == "" {
		listenAddr = ":8080"
	}

	return &Config{
		DBUrl:                  os.Getenv("DATABASE_URL"),
		ProxyURL:               os.Getenv("ESRI_PROXY_URL"),
		DefaultTimeoutSeconds:  envInt("ESRI_TIMEOUT_SECONDS", 30),
		DefaultMaxPageSize:     envInt("ESRI_MAX_PAGE_SIZE", 1000),
		DefaultPauseSeconds:    envInt("ESRI_PAUSE_SECONDS", 10),
		DefaultRequestsToPause: envInt("ESRI_REQUESTS_TO_PAUSE", 5),
		DefaultNumRetry:        envInt("ESRI_NUM_RETRY", 5),
		ListenAddr:             listenAddr,
	}
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
