// Package config handles reading and writing joules/config.yaml and the
// environment overrides applied on top of it.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	StoreFile   = "file"
	StoreSQLite = "sqlite"

	DefaultSlot = "joulesV2Meetings"

	configDir  = "joules"
	configFile = "config.yaml"
)

// Config is the top-level structure for config.yaml.
type Config struct {
	DataDir string        `yaml:"data_dir"`
	Server  ServerConfig  `yaml:"server"`
	Backend BackendConfig `yaml:"backend"`
	Store   StoreConfig   `yaml:"store"`
	Capture CaptureConfig `yaml:"capture"`
}

type ServerConfig struct {
	Port           int      `yaml:"port"`
	AuthToken      string   `yaml:"auth_token"`
	DevMode        bool     `yaml:"dev_mode"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// BackendConfig points at the transcription/summarization service.
type BackendConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"` // 0 = unbounded
}

type StoreConfig struct {
	Backend string `yaml:"backend"` // "file" | "sqlite"
	Slot    string `yaml:"slot"`
}

// CaptureConfig selects the ffmpeg input used for recording.
type CaptureConfig struct {
	FFmpeg string `yaml:"ffmpeg"`
	Format string `yaml:"format"`
	Input  string `yaml:"input"`
}

// DefaultConfig returns a Config populated with defaults for this platform.
func DefaultConfig() *Config {
	dataDir := ".joules"
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".joules")
	}

	format, input := defaultCaptureInput(runtime.GOOS)

	return &Config{
		DataDir: dataDir,
		Server: ServerConfig{
			Port:           8080,
			AllowedOrigins: []string{"*"},
		},
		Backend: BackendConfig{
			URL: "http://localhost:5001",
		},
		Store: StoreConfig{
			Backend: StoreFile,
			Slot:    DefaultSlot,
		},
		Capture: CaptureConfig{
			FFmpeg: "ffmpeg",
			Format: format,
			Input:  input,
		},
	}
}

func defaultCaptureInput(goos string) (format, input string) {
	switch goos {
	case "darwin":
		return "avfoundation", ":default"
	case "windows":
		return "dshow", "audio=default"
	default:
		return "pulse", "default"
	}
}

// DefaultPath is $XDG_CONFIG_HOME/joules/config.yaml (or the platform
// equivalent).
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, configDir, configFile)
}

// Load reads the YAML file at path over the defaults. An empty path means
// DefaultPath, which may be absent; an explicit path must exist.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
		if path == "" {
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}

// Write writes cfg to path, creating parent directories.
func Write(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	return nil
}

// ApplyEnv overrides fields from the environment. JOULES_* names win over
// the short aliases.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	lookup := func(names ...string) string {
		for _, name := range names {
			if v := getenv(name); v != "" {
				return v
			}
		}
		return ""
	}

	if v := lookup("JOULES_DATA_DIR", "DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := lookup("JOULES_PORT", "SERVER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid port %q: %w", v, err)
		}
		c.Server.Port = port
	}
	if v := lookup("JOULES_AUTH_TOKEN", "AUTH_TOKEN"); v != "" {
		c.Server.AuthToken = v
	}
	if v := lookup("JOULES_DEV_MODE", "DEV_MODE"); v != "" {
		c.Server.DevMode = v == "true" || v == "1"
	}
	if v := lookup("JOULES_ALLOWED_ORIGINS"); v != "" {
		c.Server.AllowedOrigins = strings.Split(v, ",")
	}
	if v := lookup("JOULES_BACKEND_URL", "BACKEND_URL"); v != "" {
		c.Backend.URL = v
	}
	if v := lookup("JOULES_BACKEND_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid backend timeout %q: %w", v, err)
		}
		c.Backend.Timeout = d
	}
	if v := lookup("JOULES_STORE_BACKEND"); v != "" {
		c.Store.Backend = v
	}
	if v := lookup("JOULES_STORE_SLOT"); v != "" {
		c.Store.Slot = v
	}
	if v := lookup("JOULES_FFMPEG"); v != "" {
		c.Capture.FFmpeg = v
	}
	if v := lookup("JOULES_CAPTURE_FORMAT"); v != "" {
		c.Capture.Format = v
	}
	if v := lookup("JOULES_CAPTURE_INPUT"); v != "" {
		c.Capture.Input = v
	}
	return nil
}

// Validate checks the fields every command depends on. The auth token is
// checked by serve alone.
func (c *Config) Validate() error {
	var errs []error

	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if u, err := url.Parse(c.Backend.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("backend.url %q must be an http(s) URL", c.Backend.URL))
	}
	if c.Backend.Timeout < 0 {
		errs = append(errs, errors.New("backend.timeout must not be negative"))
	}
	if c.Store.Backend != StoreFile && c.Store.Backend != StoreSQLite {
		errs = append(errs, fmt.Errorf("store.backend %q must be %q or %q", c.Store.Backend, StoreFile, StoreSQLite))
	}
	if strings.TrimSpace(c.Store.Slot) == "" {
		errs = append(errs, errors.New("store.slot is required"))
	}

	return errors.Join(errs...)
}

// Addr is the listen address for the server.
func (c *Config) Addr() string {
	return ":" + strconv.Itoa(c.Server.Port)
}
