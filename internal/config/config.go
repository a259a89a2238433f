package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level service configuration, loaded from YAML with
// environment variable overrides for deployment-specific values.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Storage  StorageConfig  `yaml:"storage"`
	NATS     NATSConfig     `yaml:"nats"`
	Engine   EngineConfig   `yaml:"engine"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type StorageConfig struct {
	Path                 string `yaml:"path"`
	PoolMemoryMB         int    `yaml:"pool_memory_mb"`
	SweepIntervalMinutes int    `yaml:"sweep_interval_minutes"`
	HeartbeatSeconds     int    `yaml:"heartbeat_seconds"`
}

type NATSConfig struct {
	URL              string `yaml:"url"`
	MotionSubject    string `yaml:"motion_subject"`
	LifecycleSubject string `yaml:"lifecycle_subject"`
}

type EngineConfig struct {
	MaxStreams         int `yaml:"max_streams"`
	QueueCapacity      int `yaml:"queue_capacity"`
	GracePeriodSeconds int `yaml:"grace_period_seconds"`
}

func Default() Config {
	return Config{
		Server:   ServerConfig{Addr: ":8080"},
		Database: DatabaseConfig{Path: "./data/nvr.db"},
		Storage: StorageConfig{
			Path:                 "./recordings",
			PoolMemoryMB:         50,
			SweepIntervalMinutes: 15,
			HeartbeatSeconds:     60,
		},
		NATS: NATSConfig{
			MotionSubject:    "nvr.motion.events",
			LifecycleSubject: "nvr.recording.lifecycle",
		},
		Engine: EngineConfig{
			MaxStreams:         16,
			QueueCapacity:      100,
			GracePeriodSeconds: 2,
		},
	}
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides. A missing file is not an error; env-only
// deployments are supported.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	applyEnv(&cfg)
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("NVR_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("NVR_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("NVR_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
}

func (c Config) validate() error {
	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}
	if c.Storage.PoolMemoryMB <= 0 {
		return fmt.Errorf("storage.pool_memory_mb must be positive")
	}
	if c.Engine.MaxStreams <= 0 {
		return fmt.Errorf("engine.max_streams must be positive")
	}
	if c.Engine.QueueCapacity <= 0 {
		return fmt.Errorf("engine.queue_capacity must be positive")
	}
	return nil
}

func (c StorageConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalMinutes) * time.Minute
}

func (c StorageConfig) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatSeconds) * time.Second
}

func (c EngineConfig) GracePeriod() time.Duration {
	return time.Duration(c.GracePeriodSeconds) * time.Second
}
