package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultBaseURL is the root of the vendor cloud API.
	DefaultBaseURL = "https://api.wall-box.com/"

	MinPollIntervalSeconds = 30
	MaxPollIntervalSeconds = 600

	// requestTimeoutMargin is subtracted from the poll interval so a request
	// always gives up before the next tick fires.
	requestTimeoutMargin = 5 * time.Second
)

// Config represents the overall application configuration.
type Config struct {
	Wallbox    WallboxConfig    `yaml:"wallbox"`
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
	Log        LogConfig        `yaml:"log"`
}

// WallboxConfig holds the vendor account and polling settings.
type WallboxConfig struct {
	Email               string `yaml:"email"`
	Password            string `yaml:"password"`
	ChargerID           string `yaml:"charger_id"`
	PollIntervalSeconds int    `yaml:"poll_interval_seconds"`
	UnlockBeforeResume  bool   `yaml:"unlock_before_resume"`
	BaseURL             string `yaml:"base_url"`
	HTTPProxy           string `yaml:"http_proxy"`
	Timezone            string `yaml:"timezone"`
	RefreshDelaySeconds int    `yaml:"refresh_delay_seconds"`

	PollInterval   time.Duration  `yaml:"-"`
	RequestTimeout time.Duration  `yaml:"-"`
	RefreshDelay   time.Duration  `yaml:"-"`
	Location       *time.Location `yaml:"-"`
}

// ServerConfig holds the HTTP API configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// DatabaseConfig holds the state tree database connection configuration.
type DatabaseConfig struct {
	Driver                 string `yaml:"driver"`
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// MQTTConfig configures the optional broker mirror. An empty host disables it.
type MQTTConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	ClientID    string `yaml:"client_id"`
}

// Enabled reports whether a broker is configured.
func (m MQTTConfig) Enabled() bool {
	return m.Host != ""
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// Enabled reports whether both VAPID keys are present.
func (p PushConfig) Enabled() bool {
	return p.PublicKey != "" && p.PrivateKey != ""
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// LogConfig selects the logger level and encoder.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	applyEnv(&cfg)

	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v, ok := os.LookupEnv("WALLBOX_EMAIL"); ok && v != "" {
		cfg.Wallbox.Email = v
	}
	if v, ok := os.LookupEnv("WALLBOX_PASSWORD"); ok && v != "" {
		cfg.Wallbox.Password = v
	}
	if v, ok := os.LookupEnv("WALLBOX_CHARGER_ID"); ok && v != "" {
		cfg.Wallbox.ChargerID = v
	}
}

func (cfg *Config) applyDefaults() error {
	w := &cfg.Wallbox
	if w.Email == "" || w.Password == "" {
		return errors.New("wallbox.email and wallbox.password must be set")
	}
	if w.ChargerID == "" {
		return errors.New("wallbox.charger_id must be set")
	}

	w.PollIntervalSeconds = ClampPollInterval(w.PollIntervalSeconds)
	w.PollInterval = time.Duration(w.PollIntervalSeconds) * time.Second
	w.RequestTimeout = w.PollInterval - requestTimeoutMargin

	if w.BaseURL == "" {
		w.BaseURL = DefaultBaseURL
	}
	if w.RefreshDelaySeconds <= 0 {
		w.RefreshDelaySeconds = 5
	}
	w.RefreshDelay = time.Duration(w.RefreshDelaySeconds) * time.Second

	w.Location = time.Local
	if w.Timezone != "" {
		loc, err := time.LoadLocation(w.Timezone)
		if err != nil {
			return fmt.Errorf("failed to load timezone %q: %w", w.Timezone, err)
		}
		w.Location = loc
	}

	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 300
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" && cfg.Database.Driver == "sqlite" {
		cfg.Database.DSN = "wallbox.db"
	}

	if cfg.MQTT.Port <= 0 {
		cfg.MQTT.Port = 1883
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "wallbox"
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "wallbox-bridge-" + w.ChargerID
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}
	if cfg.WorkerPool.Size <= 0 {
		cfg.WorkerPool.Size = 1
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	return nil
}

// ClampPollInterval bounds the poll interval to [30,600] seconds. Zero or
// negative values fall back to the minimum.
func ClampPollInterval(seconds int) int {
	if seconds < MinPollIntervalSeconds {
		return MinPollIntervalSeconds
	}
	if seconds > MaxPollIntervalSeconds {
		return MaxPollIntervalSeconds
	}
	return seconds
}
