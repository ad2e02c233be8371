package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix             = "FEEDSYNC"
	defaultHTTPAddress    = "0.0.0.0:8080"
	defaultDatabasePath   = "feedsync-server.db"
	defaultCachePath      = "feedsync-cache.db"
	defaultServerBaseURL  = "http://localhost:8080"
	defaultLogLevel       = "info"
	defaultIssuer         = "feedsync-api"
	defaultAudience       = "feedsync-client"
	defaultTokenTTL       = 60
	defaultRequestTimeout = 30
)

// ServerConfig captures runtime configuration for the API server.
type ServerConfig struct {
	HTTPAddress   string
	DatabasePath  string
	SigningSecret string
	Issuer        string
	Audience      string
	TokenTTL      time.Duration
	LogLevel      string
}

// ClientConfig captures runtime configuration for the feed client.
type ClientConfig struct {
	ServerBaseURL  string
	Token          string
	CachePath      string
	RequestTimeout time.Duration
	LogLevel       string
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
	configViper.SetDefault("token.ttl_minutes", defaultTokenTTL)
	configViper.SetDefault("server.base_url", defaultServerBaseURL)
	configViper.SetDefault("cache.path", defaultCachePath)
	configViper.SetDefault("http.timeout_seconds", defaultRequestTimeout)
}

// LoadServer parses API server configuration from viper.
func LoadServer(configViper *viper.Viper) (ServerConfig, error) {
	cfg := ServerConfig{
		HTTPAddress:   configViper.GetString("http.address"),
		DatabasePath:  configViper.GetString("database.path"),
		SigningSecret: configViper.GetString("auth.signing_secret"),
		Issuer:        configViper.GetString("auth.issuer"),
		Audience:      configViper.GetString("auth.audience"),
		TokenTTL:      time.Duration(configViper.GetInt("token.ttl_minutes")) * time.Minute,
		LogLevel:      configViper.GetString("log.level"),
	}

	if err := cfg.validate(); err != nil {
		return ServerConfig{}, err
	}

	return cfg, nil
}

// LoadClient parses feed client configuration from viper.
func LoadClient(configViper *viper.Viper) (ClientConfig, error) {
	cfg := ClientConfig{
		ServerBaseURL:  strings.TrimRight(configViper.GetString("server.base_url"), "/"),
		Token:          configViper.GetString("auth.token"),
		CachePath:      configViper.GetString("cache.path"),
		RequestTimeout: time.Duration(configViper.GetInt("http.timeout_seconds")) * time.Second,
		LogLevel:       configViper.GetString("log.level"),
	}

	if err := cfg.validate(); err != nil {
		return ClientConfig{}, err
	}

	return cfg, nil
}

func (c ServerConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.Issuer) == "" {
		return fmt.Errorf("auth.issuer is required")
	}
	if strings.TrimSpace(c.Audience) == "" {
		return fmt.Errorf("auth.audience is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("token.ttl_minutes must be positive")
	}
	return nil
}

func (c ClientConfig) validate() error {
	if strings.TrimSpace(c.ServerBaseURL) == "" {
		return fmt.Errorf("server.base_url is required")
	}
	if strings.TrimSpace(c.CachePath) == "" {
		return fmt.Errorf("cache.path is required")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("http.timeout_seconds must be positive")
	}
	return nil
}
