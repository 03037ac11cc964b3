package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// EnvBackendURL overrides Backend.BaseURL when set.
const EnvBackendURL = "ISSTRACK_BACKEND_URL"

// Config holds the application configuration.
type Config struct {
	Backend BackendConfig `yaml:"backend"`
	Request RequestConfig `yaml:"request"`
	Poll    PollConfig    `yaml:"poll"`
	Map     MapConfig     `yaml:"map"`
	Charts  ChartsConfig  `yaml:"charts"`
	Log     LogConfig     `yaml:"log"`
	Server  ServerConfig  `yaml:"server"`
}

// BackendConfig points at the telemetry backend API.
type BackendConfig struct {
	BaseURL string `yaml:"base_url" validate:"required,url"`
}

// RequestConfig holds HTTP request settings.
type RequestConfig struct {
	Retries int           `yaml:"retries" validate:"gte=1,lte=10"`
	Timeout Duration      `yaml:"timeout" validate:"gt=0"`
	Backoff BackoffConfig `yaml:"backoff"`
}

// BackoffConfig holds exponential backoff settings.
type BackoffConfig struct {
	BaseDelay Duration `yaml:"base_delay" validate:"gt=0"`
	MaxDelay  Duration `yaml:"max_delay" validate:"gtefield=BaseDelay"`
}

// PollConfig controls how often the latest position and trend window are fetched.
type PollConfig struct {
	Interval   Duration `yaml:"interval" validate:"gt=0"`
	TrendHours int      `yaml:"trend_hours" validate:"gte=1,lte=168"`
	TrendLimit int      `yaml:"trend_limit" validate:"gte=1,lte=1000"`
}

// MapConfig holds the initial map view.
type MapConfig struct {
	InitialZoom float64 `yaml:"initial_zoom" validate:"gte=0,lte=22"`
}

// ChartsConfig controls the trend chart page.
type ChartsConfig struct {
	// AssetsHost serves the echarts javascript. Empty uses the public CDN.
	AssetsHost string `yaml:"assets_host" validate:"omitempty,url"`
	Theme      string `yaml:"theme" validate:"omitempty,oneof=dark white chalk essos macarons shine vintage westeros wonderland"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Server   LogSettings `yaml:"server"`
	Requests LogSettings `yaml:"requests"`
}

// LogSettings holds settings for a specific logger.
type LogSettings struct {
	Path  string `yaml:"path"`
	Level string `yaml:"level" validate:"omitempty,oneof=DEBUG INFO WARN ERROR debug info warn error"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Address string `yaml:"address" validate:"required,listen_addr"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Backend: BackendConfig{
			BaseURL: "http://localhost:8080",
		},
		Request: RequestConfig{
			Retries: 3,
			Timeout: Duration(10 * time.Second),
			Backoff: BackoffConfig{
				BaseDelay: Duration(500 * time.Millisecond),
				MaxDelay:  Duration(10 * time.Second),
			},
		},
		Poll: PollConfig{
			Interval:   Duration(30 * time.Second),
			TrendHours: 24,
			TrendLimit: 30,
		},
		Map: MapConfig{
			InitialZoom: 3,
		},
		Charts: ChartsConfig{
			Theme: "dark",
		},
		Log: LogConfig{
			Server: LogSettings{
				Path:  "./logs/server.log",
				Level: "INFO",
			},
			Requests: LogSettings{
				Path:  "./logs/requests.log",
				Level: "INFO",
			},
		},
		Server: ServerConfig{
			Address: "localhost:8090",
		},
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.RegisterValidation("listen_addr", isListenAddr); err != nil {
		panic(fmt.Sprintf("register listen_addr validation: %v", err))
	}
	return v
}

// isListenAddr accepts host:port as passed to net.Listen: the host may be empty,
// an IP (IPv6 in brackets) or a hostname, and port 0 picks a free port.
func isListenAddr(fl validator.FieldLevel) bool {
	host, port, err := net.SplitHostPort(fl.Field().String())
	if err != nil {
		return false
	}
	n, err := strconv.ParseUint(port, 10, 16)
	if err != nil || strconv.FormatUint(n, 10) != port {
		return false
	}
	if host == "" || net.ParseIP(host) != nil {
		return true
	}
	return hostnameRE.MatchString(host)
}

var hostnameRE = regexp.MustCompile(`^([a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$`)

// Validate checks value ranges. Errors name the yaml path of the offending field.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed '%s' (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// Load loads the configuration from the given path.
// If the file does not exist, it creates it with default values.
// If the file exists, it merges defaults with existing values but does NOT save back to disk.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if err := Save(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to save config file: %w", err)
	}

	// Env wins over the file but is never written back.
	if u := os.Getenv(EnvBackendURL); u != "" {
		cfg.Backend.BaseURL = u
	}
	cfg.Backend.BaseURL = strings.TrimRight(cfg.Backend.BaseURL, "/")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to the path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# isstrack configuration
# -----------------------
# Supported Units:
#   Duration: ns, us (or µs), ms, s, m, h, d (day), w (week)
# The backend URL can be overridden with ` + EnvBackendURL + ` (also read from .env).

`)
	data = append(header, data...)

	reHours := regexp.MustCompile(`(?m)^(\s+)trend_hours:`)
	data = reHours.ReplaceAll(data, []byte("${1}# Range: 1-168\n${1}trend_hours:"))

	reLimit := regexp.MustCompile(`(?m)^(\s+)trend_limit:`)
	data = reLimit.ReplaceAll(data, []byte("${1}# Range: 1-1000\n${1}trend_limit:"))

	reZoom := regexp.MustCompile(`(?m)^(\s+)initial_zoom:`)
	data = reZoom.ReplaceAll(data, []byte("${1}# Range: 0-22, kept when the map recentres\n${1}initial_zoom:"))

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GenerateDefault creates a default config file at the given path.
// Returns nil if the file already exists.
func GenerateDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return Save(path, DefaultConfig())
}
