package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration from environment variables.
type Config struct {
	Port    int
	DBPath  string
	GTFSDir string

	// Live vehicle feed. VehicleURLs are tried in order; empty means the
	// realtime path is disabled.
	VehicleURLs []string
	APIKey      string
}

// Load reads configuration from the environment, after loading a .env file if
// one is present. A missing .env is not an error.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:        envInt("TRANSITMAP_PORT", 8080),
		DBPath:      envStr("TRANSITMAP_DB_PATH", "./transitmap.db"),
		GTFSDir:     envStr("TRANSITMAP_GTFS_DIR", "./google_transit"),
		VehicleURLs: envList("TRANSITMAP_VEHICLES_URL"),
		APIKey:      envStr("TRANSITMAP_API_KEY", ""),
	}
}

// RealtimeEnabled reports whether a live vehicle feed is configured.
func (c *Config) RealtimeEnabled() bool {
	return len(c.VehicleURLs) > 0
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// envList splits a comma-separated env value into trimmed non-empty entries.
func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
