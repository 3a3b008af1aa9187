// Package config loads the bridge configuration from YAML, with environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/jdginn/showctl/engine"
	"github.com/jdginn/showctl/logging"
	"github.com/jdginn/showctl/osc"
	"github.com/jdginn/showctl/router"
)

// Environment variables that override the file.
const (
	EnvAPIBaseURL = "SHOWCTL_API_BASE_URL"
	EnvPushURL    = "SHOWCTL_PUSH_URL"
	EnvOSCPort    = "SHOWCTL_OSC_PORT"
	EnvUserID     = "SHOWCTL_USER_ID"
)

type OSCConfig struct {
	ListenIP    string        `yaml:"listen_ip"`
	Port        int           `yaml:"port"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
	QueueSize   int           `yaml:"queue_size"`
	Workers     int           `yaml:"workers"`
}

// Addr is the UDP address to bind.
func (c OSCConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.ListenIP, c.Port)
}

type BackendConfig struct {
	BaseURL string `yaml:"base_url"`
	// PushURL is the websocket endpoint. Empty disables push.
	PushURL        string        `yaml:"push_url"`
	UserID         string        `yaml:"user_id"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type EngineConfig struct {
	DefaultCueDuration  time.Duration `yaml:"default_cue_duration"`
	AutoRefresh         time.Duration `yaml:"auto_refresh"`
	PushRefreshThrottle time.Duration `yaml:"push_refresh_throttle"`
	TickInterval        time.Duration `yaml:"tick_interval"`
	FullRenderEvery     int           `yaml:"full_render_every"`
}

type WebConfig struct {
	// Listen is the HTTP address of the status page. Empty disables it.
	Listen string `yaml:"listen"`
}

// Config is the top-level configuration.
type Config struct {
	OSC     OSCConfig         `yaml:"osc"`
	Backend BackendConfig     `yaml:"backend"`
	Engine  EngineConfig      `yaml:"engine"`
	Web     WebConfig         `yaml:"web"`
	Logging map[string]string `yaml:"logging,omitempty"`
}

const defaultAutoRefresh = 30 * time.Second

func Default() *Config {
	return &Config{
		OSC: OSCConfig{
			ListenIP:    "0.0.0.0",
			Port:        osc.DefaultPort,
			ReadTimeout: osc.DefaultReadTimeout,
			QueueSize:   osc.DefaultQueueSize,
			Workers:     router.DefaultWorkers,
		},
		Backend: BackendConfig{
			BaseURL:        "http://localhost:3001",
			UserID:         engine.DefaultUserID,
			RequestTimeout: 10 * time.Second,
		},
		Engine: EngineConfig{
			DefaultCueDuration:  engine.DefaultCueDuration,
			AutoRefresh:         defaultAutoRefresh,
			PushRefreshThrottle: engine.DefaultPushRefreshThrottle,
			TickInterval:        engine.DefaultTickInterval,
			FullRenderEvery:     engine.DefaultFullRenderEvery,
		},
		Web: WebConfig{Listen: "127.0.0.1:8080"},
	}
}

// Normalize fills zero values with defaults so that partial files still work. A negative
// AutoRefresh disables the periodic refresh and is kept.
func (c *Config) Normalize() {
	d := Default()
	if c.OSC.ListenIP == "" {
		c.OSC.ListenIP = d.OSC.ListenIP
	}
	if c.OSC.Port <= 0 {
		c.OSC.Port = d.OSC.Port
	}
	if c.OSC.ReadTimeout <= 0 {
		c.OSC.ReadTimeout = d.OSC.ReadTimeout
	}
	if c.OSC.QueueSize <= 0 {
		c.OSC.QueueSize = d.OSC.QueueSize
	}
	if c.OSC.Workers <= 0 {
		c.OSC.Workers = d.OSC.Workers
	}
	c.Backend.BaseURL = strings.TrimRight(c.Backend.BaseURL, "/")
	if c.Backend.BaseURL == "" {
		c.Backend.BaseURL = d.Backend.BaseURL
	}
	if c.Backend.UserID == "" {
		c.Backend.UserID = d.Backend.UserID
	}
	if c.Backend.RequestTimeout <= 0 {
		c.Backend.RequestTimeout = d.Backend.RequestTimeout
	}
	if c.Engine.DefaultCueDuration <= 0 {
		c.Engine.DefaultCueDuration = d.Engine.DefaultCueDuration
	}
	if c.Engine.AutoRefresh == 0 {
		c.Engine.AutoRefresh = d.Engine.AutoRefresh
	}
	if c.Engine.PushRefreshThrottle <= 0 {
		c.Engine.PushRefreshThrottle = d.Engine.PushRefreshThrottle
	}
	if c.Engine.TickInterval <= 0 {
		c.Engine.TickInterval = d.Engine.TickInterval
	}
	if c.Engine.FullRenderEvery <= 0 {
		c.Engine.FullRenderEvery = d.Engine.FullRenderEvery
	}
}

// Validate rejects settings that Normalize cannot repair.
func (c *Config) Validate() error {
	if c.OSC.Port > 65535 {
		return fmt.Errorf("osc.port %d out of range", c.OSC.Port)
	}
	u, err := url.Parse(c.Backend.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("backend.base_url %q is not an absolute URL", c.Backend.BaseURL)
	}
	if c.Backend.PushURL != "" {
		u, err := url.Parse(c.Backend.PushURL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			return fmt.Errorf("backend.push_url %q must be a ws:// or wss:// URL", c.Backend.PushURL)
		}
	}
	for name, lvl := range c.Logging {
		if _, ok := logging.ParseCategory(name); !ok {
			return fmt.Errorf("logging: unknown category %q", name)
		}
		if _, err := logging.ParseLevel(lvl); err != nil {
			return fmt.Errorf("logging.%s: %w", name, err)
		}
	}
	return nil
}

// EngineOptions converts the engine section. A negative AutoRefresh becomes 0 (disabled).
func (c *Config) EngineOptions() engine.Options {
	auto := c.Engine.AutoRefresh
	if auto < 0 {
		auto = 0
	}
	return engine.Options{
		UserID:              c.Backend.UserID,
		DefaultCueDuration:  c.Engine.DefaultCueDuration,
		TickInterval:        c.Engine.TickInterval,
		FullRenderEvery:     c.Engine.FullRenderEvery,
		PushRefreshThrottle: c.Engine.PushRefreshThrottle,
		AutoRefresh:         auto,
		MutationTimeout:     c.Backend.RequestTimeout,
	}
}

// Load reads path. A missing file yields the defaults; an empty path does too.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Default(), nil
		}
		return nil, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Normalize()
	return cfg, nil
}

// LoadEnv reads the given dotenv files into the process environment (missing files are
// skipped) and applies the SHOWCTL_* overrides to c.
func (c *Config) LoadEnv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	if v := os.Getenv(EnvAPIBaseURL); v != "" {
		c.Backend.BaseURL = strings.TrimRight(v, "/")
	}
	if v := os.Getenv(EnvPushURL); v != "" {
		c.Backend.PushURL = v
	}
	if v := os.Getenv(EnvUserID); v != "" {
		c.Backend.UserID = v
	}
	if v := os.Getenv(EnvOSCPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 {
			return fmt.Errorf("%s: invalid port %q", EnvOSCPort, v)
		}
		c.OSC.Port = port
	}
	return nil
}

// Save writes cfg to path atomically with 0600 permissions.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}
	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".showctl-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
