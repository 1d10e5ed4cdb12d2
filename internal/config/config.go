// Package config reads client settings from the environment, with an
// optional .env file for local development.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config carries everything the terminal client needs to reach the
// game server.
type Config struct {
	APIBaseURL  string
	SocketURL   string
	Token       string
	UserID      string
	DisplayName string

	ReconnectAttempts int
	ReconnectDelay    time.Duration
}

// Load reads .env when present, then the environment. Missing values
// fall back to local-development defaults; the token has no default.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		APIBaseURL:        getenv("BATTLE_API_URL", "http://localhost:8080"),
		SocketURL:         getenv("BATTLE_WS_URL", "ws://localhost:8080/socket"),
		Token:             os.Getenv("BATTLE_TOKEN"),
		UserID:            os.Getenv("BATTLE_USER_ID"),
		DisplayName:       getenv("BATTLE_DISPLAY_NAME", "Player"),
		ReconnectAttempts: getint("BATTLE_RECONNECT_ATTEMPTS", 5),
		ReconnectDelay:    getduration("BATTLE_RECONNECT_DELAY", 2*time.Second),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getint(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func getduration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}
