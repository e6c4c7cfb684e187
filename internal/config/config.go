// Package config loads application configuration from a YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the root application configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Log       LogConfig       `koanf:"log"`
	Database  DatabaseConfig  `koanf:"database"`
	Redis     RedisConfig     `koanf:"redis"`
	CORS      CORSConfig      `koanf:"cors"`
	Dispatch  DispatchConfig  `koanf:"dispatch"`
	Queue     QueueConfig     `koanf:"queue"`
	Quiet     QuietConfig     `koanf:"quiet"`
	Dedup     DedupConfig     `koanf:"dedup"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
	Delivery  DeliveryConfig  `koanf:"delivery"`
	Analytics AnalyticsConfig `koanf:"analytics"`
	Transport TransportConfig `koanf:"transport"`
	Source    SourceConfig    `koanf:"source"`
	Renderer  RendererConfig  `koanf:"renderer"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              string        `koanf:"port"`
	MetricsPort       string        `koanf:"metrics_port"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// DatabaseConfig contains PostgreSQL settings.
type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout"`
	ConnectAttempts int           `koanf:"connect_attempts"`
}

// RedisConfig contains the recent-sends cache settings. The cache is
// optional; with an empty address the dedup filter falls back to the
// delivery log repository.
type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

// CORSConfig contains CORS settings for the admin API.
type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// DispatchConfig contains dispatch trigger settings.
type DispatchConfig struct {
	TickInterval time.Duration `koanf:"tick_interval"`
	SourceWindow time.Duration `koanf:"source_window"`
}

// QueueConfig contains queue manager settings.
type QueueConfig struct {
	PollInterval     time.Duration `koanf:"poll_interval"`
	MaxWorkers       int           `koanf:"max_workers"`
	MaxRetries       int           `koanf:"max_retries"`
	RetryBaseDelay   time.Duration `koanf:"retry_base_delay"`
	RetryMaxDelay    time.Duration `koanf:"retry_max_delay"`
	SendTimeout      time.Duration `koanf:"send_timeout"`
	RetentionPeriod  time.Duration `koanf:"retention_period"`
	CleanupInterval  time.Duration `koanf:"cleanup_interval"`
	RecoverOnStartup bool          `koanf:"recover_on_startup"`
}

// QuietWindow is one configured hold window.
type QuietWindow struct {
	Start    string   `koanf:"start"` // "HH:MM"
	End      string   `koanf:"end"`   // "HH:MM"
	Weekdays []string `koanf:"weekdays,omitempty"`
	Reason   string   `koanf:"reason"`
}

// QuietConfig contains quiet-period gate settings.
type QuietConfig struct {
	Timezone string        `koanf:"timezone"`
	Windows  []QuietWindow `koanf:"windows"`
}

// DedupConfig contains dedup filter settings.
type DedupConfig struct {
	Strategy  string        `koanf:"strategy"` // "token_overlap" | "levenshtein"
	Threshold float64       `koanf:"threshold"`
	Lookback  time.Duration `koanf:"lookback"`
	MaxRecent int           `koanf:"max_recent"`
}

// RateLimitConfig contains send pacing settings.
type RateLimitConfig struct {
	IntraTargetDelay time.Duration `koanf:"intra_target_delay"`
	InterTargetDelay time.Duration `koanf:"inter_target_delay"`
	MaxWait          time.Duration `koanf:"max_wait"`
}

// DeliveryConfig contains delivery confirmation tracker settings.
type DeliveryConfig struct {
	ReceiptTimeout time.Duration `koanf:"receipt_timeout"`
}

// AnalyticsConfig contains timing analytics and risk analyzer settings.
type AnalyticsConfig struct {
	LookbackDays    int         `koanf:"lookback_days"`
	HalfLifeDays    float64     `koanf:"half_life_days"`
	PriorAlpha      float64     `koanf:"prior_alpha"`
	PriorBeta       float64     `koanf:"prior_beta"`
	ResponseBoost   float64     `koanf:"response_boost"`
	FatiguePenalty  float64     `koanf:"fatigue_penalty"`
	MinObservations float64     `koanf:"min_observations"`
	TopSlots        int         `koanf:"top_slots"`
	RiskWeights     RiskWeights `koanf:"risk_weights"`
}

// RiskWeights are the configurable weights of the target risk score.
type RiskWeights struct {
	Failure    float64 `koanf:"failure"`
	Unobserved float64 `koanf:"unobserved"`
	Silence    float64 `koanf:"silence"`
	Inactivity float64 `koanf:"inactivity"`
}

// TransportConfig contains the outbound webhook transport settings.
type TransportConfig struct {
	WebhookURL string        `koanf:"webhook_url"`
	AuthToken  string        `koanf:"auth_token"`
	Timeout    time.Duration `koanf:"timeout"`
}

// SourceConfig points at the external content source gateway. Optional;
// without it only immediate ingest and manual sends produce queue items.
type SourceConfig struct {
	URL       string        `koanf:"url"`
	AuthToken string        `koanf:"auth_token"`
	Timeout   time.Duration `koanf:"timeout"`
}

// RendererConfig points at the external template renderer gateway. Optional;
// without it items are rendered from their raw "text" field.
type RendererConfig struct {
	URL       string        `koanf:"url"`
	AuthToken string        `koanf:"auth_token"`
	Timeout   time.Duration `koanf:"timeout"`
}

// Default returns the configuration defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              "8080",
			MetricsPort:       "9090",
			ReadTimeout:       10 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		Log: LogConfig{Level: "info", Format: "json"},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 30 * time.Minute,
			ConnectTimeout:  30 * time.Second,
			ConnectAttempts: 5,
		},
		CORS: CORSConfig{AllowedOrigins: []string{"*"}},
		Dispatch: DispatchConfig{
			TickInterval: 30 * time.Second,
			SourceWindow: 24 * time.Hour,
		},
		Queue: QueueConfig{
			PollInterval:     2 * time.Second,
			MaxWorkers:       8,
			MaxRetries:       5,
			RetryBaseDelay:   30 * time.Second,
			RetryMaxDelay:    30 * time.Minute,
			SendTimeout:      30 * time.Second,
			RetentionPeriod:  30 * 24 * time.Hour,
			CleanupInterval:  1 * time.Hour,
			RecoverOnStartup: true,
		},
		Quiet: QuietConfig{Timezone: "UTC"},
		Dedup: DedupConfig{
			Strategy:  "token_overlap",
			Threshold: 0.9,
			Lookback:  48 * time.Hour,
			MaxRecent: 20,
		},
		RateLimit: RateLimitConfig{
			IntraTargetDelay: 30 * time.Second,
			InterTargetDelay: 5 * time.Second,
			MaxWait:          2 * time.Minute,
		},
		Delivery: DeliveryConfig{ReceiptTimeout: 30 * time.Second},
		Analytics: AnalyticsConfig{
			LookbackDays:    60,
			HalfLifeDays:    14,
			PriorAlpha:      1,
			PriorBeta:       1,
			ResponseBoost:   0.1,
			FatiguePenalty:  0.05,
			MinObservations: 3,
			TopSlots:        3,
			RiskWeights: RiskWeights{
				Failure:    0.4,
				Unobserved: 0.2,
				Silence:    0.2,
				Inactivity: 0.2,
			},
		},
		Transport: TransportConfig{Timeout: 15 * time.Second},
		Source:    SourceConfig{Timeout: 10 * time.Second},
		Renderer:  RendererConfig{Timeout: 10 * time.Second},
	}
}

// Load reads configuration from the given YAML file (optional) and applies
// RELAYBIRD_* environment overrides. Sections are separated by double
// underscores so keys may contain single ones:
// RELAYBIRD_DATABASE__URL -> database.url,
// RELAYBIRD_TRANSPORT__WEBHOOK_URL -> transport.webhook_url.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("load config file: %w", err)
			}
		}
	}

	err := k.Load(env.Provider("RELAYBIRD_", ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, "RELAYBIRD_")), "__", ".")
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks configuration invariants that cannot be defaulted away.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database.url is required")
	}
	if c.Transport.WebhookURL == "" {
		return fmt.Errorf("transport.webhook_url is required")
	}
	if c.Dedup.Threshold < 0.5 || c.Dedup.Threshold > 1.0 {
		return fmt.Errorf("dedup.threshold must be in [0.5, 1.0], got %v", c.Dedup.Threshold)
	}
	if c.Queue.MaxRetries < 0 {
		return fmt.Errorf("queue.max_retries must be >= 0")
	}
	if c.Queue.MaxWorkers <= 0 {
		return fmt.Errorf("queue.max_workers must be > 0")
	}
	if _, err := time.LoadLocation(c.Quiet.Timezone); err != nil {
		return fmt.Errorf("quiet.timezone: %w", err)
	}
	for _, w := range c.Quiet.Windows {
		if !validClock(w.Start) || !validClock(w.End) {
			return fmt.Errorf("quiet window %q-%q: times must be HH:MM", w.Start, w.End)
		}
	}
	return nil
}

func validClock(s string) bool {
	_, err := time.Parse("15:04", s)
	return err == nil
}
