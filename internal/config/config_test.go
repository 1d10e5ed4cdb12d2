package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"BATTLE_API_URL", "BATTLE_WS_URL", "BATTLE_TOKEN",
		"BATTLE_RECONNECT_ATTEMPTS", "BATTLE_RECONNECT_DELAY",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()
	assert.Equal(t, "http://localhost:8080", cfg.APIBaseURL)
	assert.Equal(t, "ws://localhost:8080/socket", cfg.SocketURL)
	assert.Empty(t, cfg.Token)
	assert.Equal(t, 5, cfg.ReconnectAttempts)
	assert.Equal(t, 2*time.Second, cfg.ReconnectDelay)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("BATTLE_API_URL", "https://api.example.com")
	t.Setenv("BATTLE_WS_URL", "wss://api.example.com/socket")
	t.Setenv("BATTLE_TOKEN", "tok")
	t.Setenv("BATTLE_RECONNECT_ATTEMPTS", "3")
	t.Setenv("BATTLE_RECONNECT_DELAY", "500ms")

	cfg := Load()
	assert.Equal(t, "https://api.example.com", cfg.APIBaseURL)
	assert.Equal(t, "wss://api.example.com/socket", cfg.SocketURL)
	assert.Equal(t, "tok", cfg.Token)
	assert.Equal(t, 3, cfg.ReconnectAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.ReconnectDelay)
}

func TestLoadRejectsBadOverrides(t *testing.T) {
	t.Setenv("BATTLE_RECONNECT_ATTEMPTS", "zero")
	t.Setenv("BATTLE_RECONNECT_DELAY", "-1s")

	cfg := Load()
	assert.Equal(t, 5, cfg.ReconnectAttempts)
	assert.Equal(t, 2*time.Second, cfg.ReconnectDelay)
}
