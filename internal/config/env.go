package config

import (
	"os"
	"strconv"
	"time"
)

// LoadFromEnv applies environment variable overrides on top of a loaded
// config. Used for secrets and deploy-time tweaks.
func LoadFromEnv(cfg *Config) {
	if port := os.Getenv("DRGUARD_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}

	if logLevel := os.Getenv("DRGUARD_LOG_LEVEL"); logLevel != "" {
		cfg.Server.LogLevel = logLevel
	}

	if interval := os.Getenv("DRGUARD_HEALTH_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			cfg.DR.HealthCheckInterval = d
		}
	}

	if threshold := os.Getenv("DRGUARD_FAILURE_THRESHOLD"); threshold != "" {
		if n, err := strconv.Atoi(threshold); err == nil && n > 0 {
			cfg.DR.FailureThreshold = n
		}
	}

	if auto := os.Getenv("DRGUARD_AUTO_FAILOVER"); auto != "" {
		if b, err := strconv.ParseBool(auto); err == nil {
			cfg.DR.AutoFailover = b
		}
	}

	if pw := os.Getenv("DRGUARD_PRIMARY_DB_PASSWORD"); pw != "" {
		cfg.Database.Primary.Password = pw
	}
	if pw := os.Getenv("DRGUARD_SECONDARY_DB_PASSWORD"); pw != "" {
		cfg.Database.Secondary.Password = pw
	}

	if url := os.Getenv("DRGUARD_ALERT_WEBHOOK"); url != "" {
		cfg.Alerting.WebhookURL = url
	}
}

// GetEnvOrDefault returns environment variable or default value
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
