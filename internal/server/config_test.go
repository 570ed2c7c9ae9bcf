package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, 50, cfg.MaxClients)
	assert.Equal(t, 20, cfg.MaxRooms)
	assert.Equal(t, 30*time.Second, cfg.IdleTimeout)
	assert.Equal(t, 60*time.Second, cfg.AuthTimeout)
	assert.Equal(t, "224.1.1.", cfg.MulticastBase)
	assert.Equal(t, 9000, cfg.MulticastPortStart)
	assert.Equal(t, 5, cfg.ChatBurst)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("CHATROOM_MAX_CLIENTS", "7")
	t.Setenv("CHATROOM_LISTEN_ADDR", ":9999")
	t.Setenv("CHATROOM_IDLE_TIMEOUT", "45s")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.MaxClients)
	assert.Equal(t, ":9999", cfg.ListenAddr)
	assert.Equal(t, 45*time.Second, cfg.IdleTimeout)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig("/nonexistent/chat.yaml")
	assert.Error(t, err)
}

func TestSanitizeClampsNonsense(t *testing.T) {
	cfg := &Config{
		ListenAddr:         "  ",
		MaxClients:         -1,
		MaxRooms:           100000,
		IdleTimeout:        -time.Second,
		AuthTimeout:        0,
		MulticastPortStart: -5,
		MulticastTTL:       4000,
		ChatBurst:          0,
	}
	cfg.sanitize()

	def := DefaultConfig()
	assert.Equal(t, def.ListenAddr, cfg.ListenAddr)
	assert.Equal(t, def.MaxClients, cfg.MaxClients)
	assert.Equal(t, def.MaxRooms, cfg.MaxRooms)
	assert.Equal(t, def.IdleTimeout, cfg.IdleTimeout)
	assert.Equal(t, def.MulticastPortStart, cfg.MulticastPortStart)
	assert.Equal(t, def.MulticastTTL, cfg.MulticastTTL)
	assert.Equal(t, def.ChatBurst, cfg.ChatBurst)
}

func TestSanitizeKeepsAuthBudgetCoarser(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IdleTimeout = 2 * time.Minute
	cfg.AuthTimeout = 10 * time.Second
	cfg.sanitize()

	assert.Equal(t, cfg.IdleTimeout, cfg.AuthTimeout)
}
