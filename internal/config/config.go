package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix           = "FEEDS"
	defaultHTTPAddress  = "0.0.0.0:8080"
	defaultDatabasePath = "feeds.db"
	defaultLogLevel     = "info"
	defaultIssuer       = "feeds-auth"
	defaultAudience     = "feeds-api"
	defaultTokenTTL     = 30 * time.Minute
	defaultBaseURL      = "http://127.0.0.1:8080"
	defaultPageLimit    = 25
)

// AppConfig captures runtime configuration for the development backend.
type AppConfig struct {
	HTTPAddress   string
	SigningSecret string
	TokenIssuer   string
	TokenAudience string
	TokenTTL      time.Duration
	DatabasePath  string
	LogLevel      string
}

// ClientConfig captures runtime configuration for the watch client.
type ClientConfig struct {
	BaseURL   string
	UserID    string
	Token     string
	PageLimit int
	LogLevel  string
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
	configViper.SetDefault("auth.issuer", defaultIssuer)
	configViper.SetDefault("auth.audience", defaultAudience)
	configViper.SetDefault("auth.token_ttl", defaultTokenTTL)
	configViper.SetDefault("client.base_url", defaultBaseURL)
	configViper.SetDefault("client.page_limit", defaultPageLimit)
}

// Load parses backend configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:   configViper.GetString("http.address"),
		SigningSecret: configViper.GetString("auth.signing_secret"),
		TokenIssuer:   configViper.GetString("auth.issuer"),
		TokenAudience: configViper.GetString("auth.audience"),
		TokenTTL:      configViper.GetDuration("auth.token_ttl"),
		DatabasePath:  configViper.GetString("database.path"),
		LogLevel:      configViper.GetString("log.level"),
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
	if strings.TrimSpace(c.TokenIssuer) == "" {
		return fmt.Errorf("auth.issuer is required")
	}
	if strings.TrimSpace(c.TokenAudience) == "" {
		return fmt.Errorf("auth.audience is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be positive")
	}
	return nil
}

// LoadClient parses watch client configuration from viper.
func LoadClient(configViper *viper.Viper) (ClientConfig, error) {
	cfg := ClientConfig{
		BaseURL:   strings.TrimRight(configViper.GetString("client.base_url"), "/"),
		UserID:    configViper.GetString("client.user_id"),
		Token:     configViper.GetString("client.token"),
		PageLimit: configViper.GetInt("client.page_limit"),
		LogLevel:  configViper.GetString("log.level"),
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return ClientConfig{}, fmt.Errorf("client.base_url is required")
	}
	if strings.TrimSpace(cfg.UserID) == "" && strings.TrimSpace(cfg.Token) == "" {
		return ClientConfig{}, fmt.Errorf("client.user_id or client.token is required")
	}
	if cfg.PageLimit <= 0 {
		return ClientConfig{}, fmt.Errorf("client.page_limit must be positive")
	}
	return cfg, nil
}
