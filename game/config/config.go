package config

import (
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	DefaultProfile = "local"
	LocalServerURL = "ws://localhost:8080/ws"
	ProductionURL  = "wss://paperserver-prd.dingodream.org/ws"
	defaultWSPath  = "/ws"
	defaultTimeout = 10 * time.Second
	defaultTick    = 50 * time.Millisecond
	defaultListen  = "127.0.0.1:8090"
	defaultHistory = "history"
)

// Duration is a time.Duration written as "10s" in profile files
type Duration time.Duration

// Std returns d as a time.Duration
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return errors.Wrapf(err, "invalid duration %q", string(text))
	}
	*d = Duration(v)
	return nil
}

// Config holds everything needed to run a client
type Config struct {
	Name           string   `json:"name"`
	Description    string   `json:"description,omitempty"`
	ServerURL      string   `json:"server_url"`
	PlayerName     string   `json:"player_name,omitempty"`
	ConnectTimeout Duration `json:"connect_timeout,omitempty"`
	TickInterval   Duration `json:"tick_interval,omitempty"`
	HistoryDir     string   `json:"history_dir,omitempty"`
	ListenAddr     string   `json:"listen_addr,omitempty"`
	Reconnect      bool     `json:"reconnect,omitempty"`
	Debug          bool     `json:"debug,omitempty"`
}

// Default returns the built-in local profile
func Default() *Config {
	return &Config{
		Name:           DefaultProfile,
		Description:    "Game server on this machine",
		ServerURL:      LocalServerURL,
		ConnectTimeout: Duration(defaultTimeout),
		TickInterval:   Duration(defaultTick),
		HistoryDir:     defaultHistory,
		ListenAddr:     defaultListen,
	}
}

// Production returns the built-in profile for the hosted server
func Production() *Config {
	c := Default()
	c.Name = "production"
	c.Description = "Hosted game server"
	c.ServerURL = ProductionURL
	c.Reconnect = true
	return c
}

// builtins are always available, even without a config directory
func builtins() map[string]*Config {
	return map[string]*Config{
		DefaultProfile: Default(),
		"production":   Production(),
	}
}

// Clone returns a copy of c
func (c *Config) Clone() *Config {
	cp := *c
	return &cp
}

// withDefaults fills zero fields from Default
func (c *Config) withDefaults() *Config {
	d := Default()
	out := c.Clone()
	if out.ServerURL == "" {
		out.ServerURL = d.ServerURL
	}
	if out.ConnectTimeout == 0 {
		out.ConnectTimeout = d.ConnectTimeout
	}
	if out.TickInterval == 0 {
		out.TickInterval = d.TickInterval
	}
	if out.HistoryDir == "" {
		out.HistoryDir = d.HistoryDir
	}
	if out.ListenAddr == "" {
		out.ListenAddr = d.ListenAddr
	}
	return out
}

// Validate checks the server URL and timeouts
func (c *Config) Validate() error {
	if _, err := ParseServerURL(c.ServerURL); err != nil {
		return errors.Wrap(ErrInvalidConfig, err.Error())
	}
	if c.ConnectTimeout <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "connect_timeout must be positive, got %s", c.ConnectTimeout)
	}
	if c.TickInterval <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "tick_interval must be positive, got %s", c.TickInterval)
	}
	return nil
}

// ParseServerURL checks that raw is a ws:// or wss:// URL with a host
func ParseServerURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "server url %q", raw)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, errors.Errorf("server url %q: scheme must be ws or wss", raw)
	}
	if u.Host == "" {
		return nil, errors.Errorf("server url %q: missing host", raw)
	}
	return u, nil
}

// NormalizeServerURL turns user input such as "localhost:8080" or
// "https://host" into a websocket URL ending in /ws when no path is given.
func NormalizeServerURL(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", errors.New("server url is empty")
	}

	switch {
	case strings.HasPrefix(s, "http://"):
		s = "ws://" + strings.TrimPrefix(s, "http://")
	case strings.HasPrefix(s, "https://"):
		s = "wss://" + strings.TrimPrefix(s, "https://")
	case !strings.Contains(s, "://"):
		s = "ws://" + s
	}

	u, err := ParseServerURL(s)
	if err != nil {
		return "", err
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = defaultWSPath
	}
	return u.String(), nil
}
