package livefeed

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/kingrea/looptrack/internal/config"
)

const (
	// DefaultHost is the loopback interface used when no host override is provided.
	DefaultHost = "127.0.0.1"
	// DefaultPort is the default TCP port for the feed.
	DefaultPort = 8765
	// DefaultReadTimeout guards hung clients.
	DefaultReadTimeout = 5 * time.Second
	// DefaultWriteTimeout bounds handler writes.
	DefaultWriteTimeout = 5 * time.Second
	// DefaultIdleTimeout bounds keep-alive connections.
	DefaultIdleTimeout = 60 * time.Second
)

// Settings captures runtime configuration for the feed server.
type Settings struct {
	Enabled      bool
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// SettingsFromConfig builds Settings from the project config, which has
// already folded in environment overrides.
func SettingsFromConfig(cfg *config.Config) Settings {
	settings := Settings{Host: DefaultHost, Port: DefaultPort}
	if cfg != nil {
		feed := cfg.Project.Feed
		settings.Enabled = feed.Enabled
		settings.Host = feed.Host
		settings.Port = feed.Port
	}
	settings.normalize()
	return settings
}

func (s *Settings) normalize() {
	s.Host = strings.TrimSpace(s.Host)
	if s.Host == "" {
		s.Host = DefaultHost
	}
	if s.Port < 0 || s.Port > 65535 {
		s.Port = DefaultPort
	}
	if s.ReadTimeout <= 0 {
		s.ReadTimeout = DefaultReadTimeout
	}
	if s.WriteTimeout <= 0 {
		s.WriteTimeout = DefaultWriteTimeout
	}
	if s.IdleTimeout <= 0 {
		s.IdleTimeout = DefaultIdleTimeout
	}
}

// Address returns the TCP bind address in host:port form. Port 0 asks the
// kernel for a free port.
func (s Settings) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// URL returns the HTTP base URL for the server.
func (s Settings) URL() string {
	return "http://" + s.Address()
}
