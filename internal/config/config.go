package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	env "github.com/Netflix/go-env"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Redis       RedisConfig               `json:"redis"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Username string `json:"username"`
	Password string `json:"password"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type BasicConfig struct {
	ServerAddress      string   `json:"server_address"`
	FileBaseDir        string   `json:"file_base_dir"`
	AllowedOrigins     []string `json:"allowed_origins"`
	SessionTTLMinutes  int      `json:"session_ttl_minutes"`
	SweepIntervalMin   int      `json:"sweep_interval_minutes"`
	ExecTimeoutSeconds int      `json:"exec_timeout_seconds"`
	MinWorkers         int      `json:"min_workers"`
	MaxWorkers         int      `json:"max_workers"`
	QueueSize          int      `json:"queue_size"`
	WorkerIdleTimeout  int      `json:"worker_idle_timeout_minutes"`
	UploadsPerMinute   int      `json:"uploads_per_minute"`
}

// envOverrides are applied on top of the file-based config so deployments can
// tweak the service without editing config.json.
type envOverrides struct {
	ServerAddress string `env:"FILETOOLS_ADDR"`
	FileBaseDir   string `env:"FILETOOLS_DATA_DIR"`
	RedisHost     string `env:"FILETOOLS_REDIS_HOST"`
	SessionTTL    int    `env:"FILETOOLS_SESSION_TTL_MINUTES"`
	SweepInterval int    `env:"FILETOOLS_SWEEP_INTERVAL_MINUTES"`
	ExecTimeout   int    `env:"FILETOOLS_EXEC_TIMEOUT_SECONDS"`
}

// Default returns the configuration used when no config file is present.
func Default() *Config {
	return &Config{
		BasicConfig: BasicConfig{
			ServerAddress:      ":8090",
			FileBaseDir:        "./data",
			SessionTTLMinutes:  4,
			SweepIntervalMin:   5,
			ExecTimeoutSeconds: 120,
			MinWorkers:         2,
			MaxWorkers:         8,
			QueueSize:          32,
			WorkerIdleTimeout:  5,
			UploadsPerMinute:   30,
		},
		Databases: map[string]DatabaseConfig{
			"sqlite3": {DSN: "./data/filetools.db"},
		},
	}
}

// Load reads configuration from the provided path (defaults to config.json).
// A missing default config file falls back to Default(); an explicitly named
// file must exist. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	cfg := Default()
	file, err := os.Open(absPath)
	switch {
	case err == nil:
		defer file.Close()
		if err := json.NewDecoder(file).Decode(cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	case os.IsNotExist(err) && !explicit:
		// fall back to defaults
	default:
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}

	var overrides envOverrides
	if _, err := env.UnmarshalFromEnviron(&overrides); err != nil {
		return nil, fmt.Errorf("read env overrides: %w", err)
	}
	applyOverrides(cfg, overrides)

	if cfg.BasicConfig.FileBaseDir == "" {
		return nil, fmt.Errorf("file_base_dir must be configured")
	}
	if cfg.BasicConfig.SessionTTLMinutes <= 0 {
		return nil, fmt.Errorf("session_ttl_minutes must be positive")
	}
	return cfg, nil
}

func applyOverrides(cfg *Config, o envOverrides) {
	if o.ServerAddress != "" {
		cfg.BasicConfig.ServerAddress = o.ServerAddress
	}
	if o.FileBaseDir != "" {
		cfg.BasicConfig.FileBaseDir = o.FileBaseDir
	}
	if o.RedisHost != "" {
		cfg.Redis.Host = o.RedisHost
	}
	if o.SessionTTL > 0 {
		cfg.BasicConfig.SessionTTLMinutes = o.SessionTTL
	}
	if o.SweepInterval > 0 {
		cfg.BasicConfig.SweepIntervalMin = o.SweepInterval
	}
	if o.ExecTimeout > 0 {
		cfg.BasicConfig.ExecTimeoutSeconds = o.ExecTimeout
	}
}
