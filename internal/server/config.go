// Package server provides configuration helpers that define runtime defaults,
// validation, and timeout parameters for the chat service.
package server

import (
	"strings"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/viper"
)

// Config holds the server configuration. Every field has a sane default and
// can be overridden through a config file or a CHATROOM_* environment
// variable.
type Config struct {
	// ListenAddr is the TCP address of the control channel.
	ListenAddr string
	// MonitorAddr is the HTTP address of the operations monitor. Empty
	// disables the monitor entirely.
	MonitorAddr string
	// MonitorOrigins is the origin allow-list for monitor websocket viewers.
	MonitorOrigins []string

	// MaxClients bounds concurrent sessions; MaxRooms bounds active rooms.
	MaxClients int
	MaxRooms   int

	// IdleTimeout expires a session with no inbound traffic. AuthTimeout is
	// the coarser budget applied while a session is still authenticating.
	IdleTimeout time.Duration
	AuthTimeout time.Duration

	// Multicast group derivation: room N publishes to MulticastBase+N on
	// port MulticastPortStart+N.
	MulticastBase      string
	MulticastPortStart int
	MulticastTTL       int

	// Chat rate limiting per session.
	ChatBurst          int
	ChatRefillInterval time.Duration
}

// DefaultConfig returns the built-in defaults, matching the protocol's
// documented constants.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:         ":8080",
		MonitorAddr:        "",
		MonitorOrigins:     []string{"http://localhost:8081"},
		MaxClients:         50,
		MaxRooms:           20,
		IdleTimeout:        30 * time.Second,
		AuthTimeout:        60 * time.Second,
		MulticastBase:      "224.1.1.",
		MulticastPortStart: 9000,
		MulticastTTL:       32,
		ChatBurst:          5,
		ChatRefillInterval: time.Second,
	}
}

// LoadConfig reads configuration from the optional YAML file at path and
// from CHATROOM_* environment variables, on top of the defaults.
func LoadConfig(path string) (*Config, error) {
	def := DefaultConfig()

	v := viper.New()
	v.SetDefault("listen_addr", def.ListenAddr)
	v.SetDefault("monitor_addr", def.MonitorAddr)
	v.SetDefault("monitor_origins", def.MonitorOrigins)
	v.SetDefault("max_clients", def.MaxClients)
	v.SetDefault("max_rooms", def.MaxRooms)
	v.SetDefault("idle_timeout", def.IdleTimeout)
	v.SetDefault("auth_timeout", def.AuthTimeout)
	v.SetDefault("multicast_base", def.MulticastBase)
	v.SetDefault("multicast_port_start", def.MulticastPortStart)
	v.SetDefault("multicast_ttl", def.MulticastTTL)
	v.SetDefault("chat_burst", def.ChatBurst)
	v.SetDefault("chat_refill_interval", def.ChatRefillInterval)

	v.SetEnvPrefix("chatroom")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, oops.Wrapf(err, "reading config file %s", path)
		}
	}

	cfg := &Config{
		ListenAddr:         v.GetString("listen_addr"),
		MonitorAddr:        v.GetString("monitor_addr"),
		MonitorOrigins:     v.GetStringSlice("monitor_origins"),
		MaxClients:         v.GetInt("max_clients"),
		MaxRooms:           v.GetInt("max_rooms"),
		IdleTimeout:        v.GetDuration("idle_timeout"),
		AuthTimeout:        v.GetDuration("auth_timeout"),
		MulticastBase:      v.GetString("multicast_base"),
		MulticastPortStart: v.GetInt("multicast_port_start"),
		MulticastTTL:       v.GetInt("multicast_ttl"),
		ChatBurst:          v.GetInt("chat_burst"),
		ChatRefillInterval: v.GetDuration("chat_refill_interval"),
	}
	cfg.sanitize()
	return cfg, nil
}

// sanitize clamps nonsense values back to their defaults.
func (c *Config) sanitize() {
	def := DefaultConfig()

	if strings.TrimSpace(c.ListenAddr) == "" {
		c.ListenAddr = def.ListenAddr
	}
	if c.MaxClients <= 0 || c.MaxClients > 255 {
		c.MaxClients = def.MaxClients
	}
	if c.MaxRooms <= 0 || c.MaxRooms > 200 {
		c.MaxRooms = def.MaxRooms
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = def.IdleTimeout
	}
	if c.AuthTimeout <= 0 {
		c.AuthTimeout = def.AuthTimeout
	}
	if c.AuthTimeout < c.IdleTimeout {
		// The authenticating budget is the coarser of the two.
		c.AuthTimeout = c.IdleTimeout
	}
	if strings.TrimSpace(c.MulticastBase) == "" {
		c.MulticastBase = def.MulticastBase
	}
	if c.MulticastPortStart <= 0 || c.MulticastPortStart > 65000 {
		c.MulticastPortStart = def.MulticastPortStart
	}
	if c.MulticastTTL <= 0 || c.MulticastTTL > 255 {
		c.MulticastTTL = def.MulticastTTL
	}
	if c.ChatBurst <= 0 {
		c.ChatBurst = def.ChatBurst
	}
	if c.ChatRefillInterval <= 0 {
		c.ChatRefillInterval = def.ChatRefillInterval
	}
}
