// Package config handles configuration file loading, environment overrides
// and validation for aura.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Environment variables consulted by Load and ResolvePath.
const (
	EnvConfigPath  = "AURA_CONFIG"
	EnvAPIToken    = "GRAYLOG_API_TOKEN"
	EnvRequestedBy = "GRAYLOG_REQ_BY"
)

// Default configuration values.
const (
	DefaultPath          = "config.json"
	DefaultGraylogPort   = "9000"
	DefaultTimeout       = 60 * time.Second
	DefaultSlowThreshold = 30 * time.Second
	DefaultToneScale     = time.Millisecond
	DefaultToneMax       = 2 * time.Second
	DefaultVolumeRamp    = time.Second
	DefaultVolume        = 50
	DefaultAlertFailures = 3
)

// QueryMode selects how severity counts are retrieved from Graylog.
type QueryMode string

const (
	// QueryModeCombined fetches every message with its level in one request.
	QueryModeCombined QueryMode = "combined"
	// QueryModeSeparate issues a count request and a severity-filtered request.
	QueryModeSeparate QueryMode = "separate"
)

// Config is the process-wide aura configuration.
// It is loaded once at startup and treated as immutable afterwards.
type Config struct {
	SoundFile    string        `json:"soundFile" toml:"soundFile" yaml:"soundFile" validate:"required,readable"`
	PollInterval int           `json:"pollInterval" toml:"pollInterval" yaml:"pollInterval" validate:"min=1"` // seconds
	Graylog      GraylogConfig `json:"graylog" toml:"graylog" yaml:"graylog"`
	Tones        ToneConfig    `json:"tones" toml:"tones" yaml:"tones"`
	Volume       VolumeConfig  `json:"volume" toml:"volume" yaml:"volume"`
	Alerts       AlertConfig   `json:"alerts" toml:"alerts" yaml:"alerts"`
}

// GraylogConfig describes the search API and the streams to sample.
type GraylogConfig struct {
	Host          string    `json:"host" toml:"host" yaml:"host" validate:"required,graylog_host"`
	APIToken      string    `json:"apiToken" toml:"apiToken" yaml:"apiToken" validate:"required"`
	RequestedBy   string    `json:"requestedBy" toml:"requestedBy" yaml:"requestedBy" validate:"required"`
	Streams       []string  `json:"streams" toml:"streams" yaml:"streams" validate:"min=1,dive,required"`
	Mean          float64   `json:"mean" toml:"mean" yaml:"mean" validate:"gt=0"` // expected messages per window
	Timeout       Duration  `json:"timeout" toml:"timeout" yaml:"timeout" validate:"gt=0"`
	QueryMode     QueryMode `json:"queryMode" toml:"queryMode" yaml:"queryMode" validate:"oneof=combined separate"`
	SlowThreshold Duration  `json:"slowThreshold" toml:"slowThreshold" yaml:"slowThreshold" validate:"min=0,ltfield=Timeout"` // 0 disables
}

// ToneConfig controls how severity counts become tone durations.
type ToneConfig struct {
	Scale       Duration `json:"scale" toml:"scale" yaml:"scale" validate:"gt=0"` // duration per counted message
	MinCount    int      `json:"minCount" toml:"minCount" yaml:"minCount" validate:"min=1"`
	MaxDuration Duration `json:"maxDuration" toml:"maxDuration" yaml:"maxDuration" validate:"gt=0"`
	Failure     bool     `json:"failure" toml:"failure" yaml:"failure"` // tone on failed polls
}

// VolumeConfig controls the background sound level.
type VolumeConfig struct {
	Initial int      `json:"initial" toml:"initial" yaml:"initial" validate:"min=0,max=100"`
	Ramp    Duration `json:"ramp" toml:"ramp" yaml:"ramp" validate:"min=0"`
}

// AlertConfig controls operator notifications for persistent audio failures.
type AlertConfig struct {
	Enabled       bool `json:"enabled" toml:"enabled" yaml:"enabled"`
	AfterFailures int  `json:"afterFailures" toml:"afterFailures" yaml:"afterFailures" validate:"min=1"`
}

// Default returns a Config with every optional field set.
// Required fields (sound file, Graylog host, credentials, streams, mean) are left empty.
func Default() *Config {
	return &Config{
		Graylog: GraylogConfig{
			Timeout:       Duration(DefaultTimeout),
			QueryMode:     QueryModeCombined,
			SlowThreshold: Duration(DefaultSlowThreshold),
		},
		Tones: ToneConfig{
			Scale:       Duration(DefaultToneScale),
			MinCount:    1,
			MaxDuration: Duration(DefaultToneMax),
			Failure:     true,
		},
		Volume: VolumeConfig{
			Initial: DefaultVolume,
			Ramp:    Duration(DefaultVolumeRamp),
		},
		Alerts: AlertConfig{
			Enabled:       true,
			AfterFailures: DefaultAlertFailures,
		},
	}
}

// ResolvePath returns the configuration file path.
// An explicit path wins, then AURA_CONFIG, then config.json in the working directory.
func ResolvePath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	return DefaultPath
}

// Load reads the configuration at path, applies environment overrides and
// validates the result. Every failure is reported as a *ConfigurationError.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigurationError{Reason: "cannot read " + path, Err: err}
	}

	cfg := Default()
	if err := decode(path, data, cfg); err != nil {
		return nil, &ConfigurationError{Reason: "cannot parse " + path, Err: err}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decode unmarshals data according to the file extension. Unknown extensions are read as JSON.
func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return toml.Unmarshal(data, cfg)
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	default:
		return json.NewDecoder(bytes.NewReader(data)).Decode(cfg)
	}
}

// applyEnv overwrites credentials with non-empty environment values.
func (c *Config) applyEnv() {
	if v := os.Getenv(EnvAPIToken); v != "" {
		c.Graylog.APIToken = v
	}
	if v := os.Getenv(EnvRequestedBy); v != "" {
		c.Graylog.RequestedBy = v
	}
}

// BaseURL normalises the configured host into a base URL without a trailing slash.
func (g GraylogConfig) BaseURL() (string, error) {
	return BaseURL(g.Host)
}

// BaseURL normalises host into a base URL without a trailing slash.
// A bare host name becomes http://host:9000; full URLs are kept as given.
func BaseURL(host string) (string, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return "", errors.New("graylog host is empty")
	}

	if !strings.Contains(host, "://") {
		if _, _, err := net.SplitHostPort(host); err != nil {
			host = net.JoinHostPort(host, DefaultGraylogPort)
		}
		host = "http://" + host
	}

	u, err := url.Parse(host)
	if err != nil {
		return "", fmt.Errorf("invalid graylog host %q: %w", host, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid graylog host %q: missing host name", host)
	}
	return strings.TrimRight(u.String(), "/"), nil
}

// Interval returns the poll interval as a duration.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.PollInterval) * time.Second
}

// Duration is a time.Duration that can be unmarshaled from human-readable strings.
// Supports formats like "5s", "250ms", "1m30s", or integer milliseconds.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler for TOML and YAML parsing.
func (d *Duration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))

	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		*d = Duration(time.Duration(ms) * time.Millisecond)
		return nil
	}

	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: must be like '5s', '250ms', '1m' or milliseconds: %w", s, err)
	}
	*d = Duration(dur)
	return nil
}

// UnmarshalJSON accepts both quoted duration strings and bare millisecond numbers.
func (d *Duration) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		return d.UnmarshalText([]byte(s))
	}
	return d.UnmarshalText(data)
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}
