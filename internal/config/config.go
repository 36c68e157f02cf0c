package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Configuration struct {
	Server   ServerConfig   `json:"server"`
	Security SecurityConfig `json:"security"`
	Signing  SigningConfig  `json:"signing"`
	Logging  LoggingConfig  `json:"logging"`
	Database DatabaseConfig `json:"database"`
}

type ServerConfig struct {
	Port         string        `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

type SecurityConfig struct {
	JWTSecret      string        `json:"jwt_secret"`
	SessionTimeout time.Duration `json:"session_timeout"`
}

type SigningConfig struct {
	// LinkExpiry is the default validity window applied to each recipient's
	// signing link at send time.
	LinkExpiry time.Duration `json:"link_expiry"`
	// BlobRoot is the filesystem root for stored document content.
	BlobRoot string `json:"blob_root"`
	// BlobBucket namespaces all content keys within the store.
	BlobBucket string `json:"blob_bucket"`
	// RequireApproverCompletion, when set, counts approvers toward the
	// completion evidence of a document.
	RequireApproverCompletion bool `json:"require_approver_completion"`
	NotifyWorkers             int  `json:"notify_workers"`
}

type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

type DatabaseConfig struct {
	Host            string `json:"host"`
	Port            string `json:"port"`
	Username        string `json:"username"`
	Password        string `json:"password"`
	Name            string `json:"name"`
	SSLMode         string `json:"ssl_mode"`
	MaxIdleConns    int    `json:"max_idle_conns"`
	MaxOpenConns    int    `json:"max_open_conns"`
	ConnMaxLifetime int    `json:"conn_max_lifetime"`
}

var (
	config     *Configuration
	configOnce sync.Once
	configLock sync.RWMutex
)

func applyDefaults(cfg *Configuration) {
	if cfg.Server.Port == "" {
		cfg.Server.Port = "8000"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 10 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30 * time.Second
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = 120 * time.Second
	}
	if cfg.Security.SessionTimeout == 0 {
		cfg.Security.SessionTimeout = 24 * time.Hour
	}
if cfg.Signing.LinkExpiry == 0 {
		cfg.Signing.LinkExpiry = 14 * 24 * time.Hour
	}
	if cfg.Signing.BlobRoot == "" {
		cfg.Signing.BlobRoot = "data/blobs"
	}
	if cfg.Signing.BlobBucket == "" {
		cfg.Signing.BlobBucket = "documents"
	}
	if cfg.Signing.NotifyWorkers == 0 {
		cfg.Signing.NotifyWorkers = 10
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
}

func LoadConfig(filePath string) (*Configuration, error) {
	var err error

	configOnce.Do(func() {
		var file *os.File
		file, err = os.Open(filePath)
		if err != nil {
			err = fmt.Errorf("failed to open config file: %w", err)
			return
		}
		defer file.Close()

		decoder := json.NewDecoder(file)
		config = &Configuration{}
		err = decoder.Decode(config)
		if err != nil {
			err = fmt.Errorf("failed to decode config file: %w", err)
			return
		}

		applyDefaults(config)
	})

	return config, err
}

func GetConfig() *Configuration {
	configLock.RLock()
	defer configLock.RUnlock()
	return config
}

func InitializeDefaultConfig() *Configuration {
	configLock.Lock()
	defer configLock.Unlock()

	config = &Configuration{
		Security: SecurityConfig{
			JWTSecret: os.Getenv("JWT_SECRET"),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Database: DatabaseConfig{
			Host:            envOr("DB_HOST", "localhost"),
			Port:            envOr("DB_PORT", "5432"),
			Username:        envOr("DB_USER", "postgres"),
			Password:        os.Getenv("DB_PASSWORD"),
			Name:            envOr("DB_NAME", "contract_esign"),
			SSLMode:         "disable",
			MaxIdleConns:    10,
			MaxOpenConns:    100,
			ConnMaxLifetime: 300,
		},
	}
	applyDefaults(config)

	return config
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func LogConfig(logger *zap.Logger) {
	configLock.RLock()
	defer configLock.RUnlock()

	logger.Info("Application configuration",
		zap.String("port", config.Server.Port),
		zap.Duration("read_timeout", config.Server.ReadTimeout),
		zap.Duration("write_timeout", config.Server.WriteTimeout),
		zap.Duration("link_expiry", config.Signing.LinkExpiry),
		zap.String("blob_root", config.Signing.BlobRoot),
		zap.Bool("require_approver_completion", config.Signing.RequireApproverCompletion),
		zap.String("database_host", config.Database.Host),
		zap.String("database_name", config.Database.Name),
	)
}
