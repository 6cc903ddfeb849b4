package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full drguard configuration. It is loaded once at startup
// and treated as immutable for the lifetime of the orchestrator.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	DR       DRConfig       `yaml:"dr"`
	Database DatabaseConfig `yaml:"database"`
	Backup   BackupConfig   `yaml:"backup"`
	Alerting AlertingConfig `yaml:"alerting"`
}

type ServerConfig struct {
	Port     int    `yaml:"port" default:"8080"`
	LogLevel string `yaml:"log_level" default:"info"`
}

// DRConfig holds the disaster-recovery orchestration settings.
type DRConfig struct {
	PrimaryRegion   string `yaml:"primary_region"`
	SecondaryRegion string `yaml:"secondary_region"`

	RTOMinutes int `yaml:"rto_minutes" default:"15"`
	RPOMinutes int `yaml:"rpo_minutes" default:"5"`

	HealthCheckInterval time.Duration `yaml:"health_check_interval" default:"30s"`
	HealthCheckTimeout  time.Duration `yaml:"health_check_timeout" default:"5s"`

	FailureThreshold       int  `yaml:"failure_threshold" default:"3"`
	AutoFailover           bool `yaml:"auto_failover" default:"true"`
	ManualApprovalRequired bool `yaml:"manual_approval_required"`

	PrimaryEndpoints   []ServiceEndpoint `yaml:"primary_endpoints"`
	SecondaryEndpoints []ServiceEndpoint `yaml:"secondary_endpoints"`
}

// ServiceEndpoint identifies one probeable service.
type ServiceEndpoint struct {
	Service string `yaml:"service"`
	URL     string `yaml:"url"`
}

// DatabaseConfig holds the per-region database locators.
type DatabaseConfig struct {
	Primary   DatabaseLocator `yaml:"primary"`
	Secondary DatabaseLocator `yaml:"secondary"`
}

type DatabaseLocator struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port" default:"5432"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode" default:"disable"`
}

// BackupConfig is opaque to the orchestrator core; it is handed to the
// backup subsystem unmodified.
type BackupConfig struct {
	BucketURL     string        `yaml:"bucket_url"`
	RetentionDays int           `yaml:"retention_days" default:"30"`
	Timeout       time.Duration `yaml:"timeout" default:"30m"`
}

type AlertingConfig struct {
	WebhookURL     string        `yaml:"webhook_url"`
	Timeout        time.Duration `yaml:"timeout" default:"10s"`
	MinInterval    time.Duration `yaml:"min_interval" default:"30s"`
	BurstAllowance int           `yaml:"burst_allowance" default:"5"`
}

// Load reads configuration from a yaml file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 - operator-supplied path
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a config with sensible defaults applied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:     8080,
			LogLevel: "info",
		},
		DR: DRConfig{
			PrimaryRegion:       "primary",
			SecondaryRegion:     "secondary",
			RTOMinutes:          15,
			RPOMinutes:          5,
			HealthCheckInterval: 30 * time.Second,
			HealthCheckTimeout:  5 * time.Second,
			FailureThreshold:    3,
			AutoFailover:        true,
		},
		Backup: BackupConfig{
			RetentionDays: 30,
			Timeout:       30 * time.Minute,
		},
		Alerting: AlertingConfig{
			Timeout:        10 * time.Second,
			MinInterval:    30 * time.Second,
			BurstAllowance: 5,
		},
	}
}

// Validate checks the configuration for values the orchestrator cannot
// operate with.
func (c *Config) Validate() error {
	if c.DR.PrimaryRegion == "" {
		return errors.New("config: dr.primary_region is required")
	}
	if c.DR.SecondaryRegion == "" {
		return errors.New("config: dr.secondary_region is required")
	}
	if c.DR.PrimaryRegion == c.DR.SecondaryRegion {
		return errors.New("config: primary and secondary regions must differ")
	}
	if c.DR.FailureThreshold <= 0 {
		return fmt.Errorf("config: failure_threshold must be positive, got %d", c.DR.FailureThreshold)
	}
	if c.DR.HealthCheckInterval <= 0 {
		return errors.New("config: health_check_interval must be positive")
	}
	if c.DR.HealthCheckTimeout <= 0 {
		return errors.New("config: health_check_timeout must be positive")
	}
	for i, ep := range c.DR.PrimaryEndpoints {
		if ep.URL == "" {
			return fmt.Errorf("config: primary_endpoints[%d] has no url", i)
		}
	}
	for i, ep := range c.DR.SecondaryEndpoints {
		if ep.URL == "" {
			return fmt.Errorf("config: secondary_endpoints[%d] has no url", i)
		}
	}
	return nil
}

// EndpointsFor returns the probe targets for a region identifier.
func (c *DRConfig) EndpointsFor(region string) []ServiceEndpoint {
	if region == c.SecondaryRegion {
		return c.SecondaryEndpoints
	}
	return c.PrimaryEndpoints
}
