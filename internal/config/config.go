package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	envPrefix           = "CONTENTDB"
	defaultHTTPAddress  = "0.0.0.0:8080"
	defaultDatabasePath = "contentdb.db"
	defaultLogLevel     = "info"
	defaultMaxLimit     = 1000
	defaultHashLength   = 8
	defaultHashRetries  = 50
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress    string
	SigningSecret  string
	DatabasePath   string
	LogLevel       string
	MaxSearchLimit int
	HashLength     int
	HashRetries    int
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("search.max_limit", defaultMaxLimit)
	configViper.SetDefault("content.hash_length", defaultHashLength)
	configViper.SetDefault("content.hash_retries", defaultHashRetries)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:    configViper.GetString("http.address"),
		SigningSecret:  configViper.GetString("auth.signing_secret"),
		DatabasePath:   configViper.GetString("database.path"),
		LogLevel:       configViper.GetString("log.level"),
		MaxSearchLimit: configViper.GetInt("search.max_limit"),
		HashLength:     configViper.GetInt("content.hash_length"),
		HashRetries:    configViper.GetInt("content.hash_retries"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.MaxSearchLimit <= 0 {
		return fmt.Errorf("search.max_limit must be positive")
	}
	if c.HashLength < 4 {
		return fmt.Errorf("content.hash_length must be at least 4")
	}
	if c.HashRetries <= 0 {
		return fmt.Errorf("content.hash_retries must be positive")
	}
	return nil
}
