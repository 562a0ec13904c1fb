package config

import (
	yamlenv "github.com/ifuryst/go-yaml-env"

	"github.com/omarreid/syndicate/pkg/logger"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Logger    logger.Config   `yaml:"logger"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Publisher PublisherConfig `yaml:"publisher"`
}

type ServerConfig struct {
	Port     int    `yaml:"port"`
	Host     string `yaml:"host"`
	Mode     string `yaml:"mode"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

type DatabaseConfig struct {
	Type     string `yaml:"type"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
	TimeZone string `yaml:"timezone"`
}

type SchedulerConfig struct {
	// Enabled must be true on exactly one process per deployment: the
	// scheduler is a singleton against a shared job store.
	Enabled         bool   `yaml:"enabled"`
	PollInterval    string `yaml:"poll_interval"`
	MisfireGrace    string `yaml:"misfire_grace"`
	RetryBackoff    string `yaml:"retry_backoff"`
	MaxRetryBackoff string `yaml:"max_retry_backoff"`
}

type PublisherConfig struct {
	Mastodon MastodonConfig `yaml:"mastodon"`
	Webhook  WebhookConfig  `yaml:"webhook"`
}

type MastodonConfig struct {
	Enabled bool `yaml:"enabled"`
}

type WebhookConfig struct {
	Enabled bool `yaml:"enabled"`
}

func LoadConfig(configPath string) (*Config, error) {
	cfg, err := yamlenv.LoadConfig[Config](configPath)
	if err != nil {
		return nil, err
	}

	// Set default values
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 5380
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "debug"
	}
	if cfg.Database.Type == "" {
		cfg.Database.Type = "postgres"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.TimeZone == "" {
		cfg.Database.TimeZone = "UTC"
	}
	if cfg.Scheduler.PollInterval == "" {
		cfg.Scheduler.PollInterval = "15s"
	}
	if cfg.Scheduler.MisfireGrace == "" {
		cfg.Scheduler.MisfireGrace = "1h"
	}
	if cfg.Scheduler.RetryBackoff == "" {
		cfg.Scheduler.RetryBackoff = "30s"
	}
	if cfg.Scheduler.MaxRetryBackoff == "" {
		cfg.Scheduler.MaxRetryBackoff = "15m"
	}

	return cfg, nil
}
