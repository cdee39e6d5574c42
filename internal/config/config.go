// Package config loads the socksgate YAML configuration file.
package config

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// DefaultPath is read when no --config flag is given.
const DefaultPath = "config.yml"

// ErrConfigLoad wraps every failure to read or validate the configuration.
var ErrConfigLoad = errors.New("config load failed")

type Config struct {
	// Bind is the proxy listen address (host:port).
	Bind string `yaml:"bind"`
	// SOCKS5 is the relay address (host:port).
	SOCKS5 string `yaml:"socks5"`

	DialTimeout        time.Duration `yaml:"dial_timeout"`
	NegotiationTimeout time.Duration `yaml:"negotiation_timeout"`
	IdleTimeout        time.Duration `yaml:"idle_timeout"`

	MaxConns       int `yaml:"max_conns"`
	MaxLineBytes   int `yaml:"max_line_bytes"`
	MaxHeaderBytes int `yaml:"max_header_bytes"`

	TCPKeepAlive string `yaml:"tcp_keepalive"`
	ReuseAddr    bool   `yaml:"reuse_addr"`

	LogLevel string `yaml:"log_level"`

	// Resolver, if set, is a DNS server used to resolve destination names
	// locally instead of passing them to the relay.
	Resolver         string        `yaml:"resolver"`
	ResolverCacheTTL time.Duration `yaml:"resolver_cache_ttl"`

	keepAlive net.KeepAliveConfig
	level     zerolog.Level
}

// Default returns a Config with every optional field set.
func Default() Config {
	return Config{
		DialTimeout:        10 * time.Second,
		NegotiationTimeout: 10 * time.Second,
		IdleTimeout:        5 * time.Minute,
		MaxLineBytes:       8 << 10,
		MaxHeaderBytes:     64 << 10,
		TCPKeepAlive:       "45:45:3",
		LogLevel:           "info",
		ResolverCacheTTL:   time.Minute,
	}
}

// Load reads and validates the YAML file at path. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfigLoad, err)
	}
	defer f.Close()

	cfg, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes and validates a configuration document.
func Parse(r io.Reader) (*Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", ErrConfigLoad)
		}
		return nil, fmt.Errorf("%w: %w", ErrConfigLoad, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfigLoad, err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if err := validateHostPort("bind", c.Bind, true); err != nil {
		return err
	}
	if err := validateHostPort("socks5", c.SOCKS5, false); err != nil {
		return err
	}

	for name, d := range map[string]time.Duration{
		"dial_timeout":        c.DialTimeout,
		"negotiation_timeout": c.NegotiationTimeout,
		"idle_timeout":        c.IdleTimeout,
		"resolver_cache_ttl":  c.ResolverCacheTTL,
	} {
		if d < 0 {
			return fmt.Errorf("%s: must not be negative", name)
		}
	}
	for name, n := range map[string]int{
		"max_conns":        c.MaxConns,
		"max_line_bytes":   c.MaxLineBytes,
		"max_header_bytes": c.MaxHeaderBytes,
	} {
		if n < 0 {
			return fmt.Errorf("%s: must not be negative", name)
		}
	}

	ka, err := ParseTCPKeepAlive(c.TCPKeepAlive)
	if err != nil {
		return fmt.Errorf("tcp_keepalive: %w", err)
	}
	c.keepAlive = ka

	level, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil || c.LogLevel == "" {
		return fmt.Errorf("log_level: unknown level %q", c.LogLevel)
	}
	c.level = level

	return nil
}

// KeepAlive returns the parsed tcp_keepalive setting.
func (c *Config) KeepAlive() net.KeepAliveConfig {
	return c.keepAlive
}

// Level returns the parsed log_level.
func (c *Config) Level() zerolog.Level {
	return c.level
}

func validateHostPort(name, s string, allowEmptyHost bool) error {
	if s == "" {
		return fmt.Errorf("%s: required", name)
	}
	host, port, err := net.SplitHostPort(s)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if host == "" && !allowEmptyHost {
		return fmt.Errorf("%s: missing host", name)
	}
	if _, err := strconv.ParseUint(port, 10, 16); err != nil {
		return fmt.Errorf("%s: invalid port %q", name, port)
	}
	return nil
}

// ParseTCPKeepAlive parses "on", "off" or "keepidle:keepintvl:keepcnt" with
// the first two in seconds.
func ParseTCPKeepAlive(s string) (net.KeepAliveConfig, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return net.KeepAliveConfig{}, errors.New("empty")
	}
	if s == "on" {
		return net.KeepAliveConfig{Enable: true}, nil
	}
	if s == "off" {
		return net.KeepAliveConfig{Enable: false}, nil
	}

	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return net.KeepAliveConfig{}, errors.New("expected on|off|keepidle:keepintvl:keepcnt")
	}
	keepIdle, err := parsePositiveSeconds(parts[0])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepidle: %w", err)
	}
	keepIntvl, err := parsePositiveSeconds(parts[1])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepintvl: %w", err)
	}
	keepCnt, err := parsePositiveInt(parts[2])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepcnt: %w", err)
	}

	return net.KeepAliveConfig{
		Enable:   true,
		Idle:     keepIdle,
		Interval: keepIntvl,
		Count:    keepCnt,
	}, nil
}

func parsePositiveSeconds(s string) (time.Duration, error) {
	n, err := parsePositiveInt(s)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Second, nil
}

func parsePositiveInt(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, errors.New("must be > 0")
	}
	return n, nil
}
