package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix            = "JIWAR"
	defaultHTTPAddress   = "0.0.0.0:8080"
	defaultDatabasePath  = "jiwar.db"
	defaultLogLevel      = "info"
	defaultCookieName    = "jiwar_session"
	defaultBotAPIURL     = "https://api.telegram.org"
	defaultSessionTTL    = 12 * 60 // minutes
	defaultSweepInterval = 30      // minutes
)

// AppConfig captures runtime configuration for the membership API server.
type AppConfig struct {
	HTTPAddress       string
	DatabasePath      string
	LogLevel          string
	AppOrigin         string
	BotToken          string
	BotAPIURL         string
	ProviderEndpoint  string
	ProviderProjectID string
	ProviderAPIKey    string
	SigningSecret     string
	CookieName        string
	SessionTTL        time.Duration
	SweepInterval     time.Duration
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
	configViper.SetDefault("bot.api_url", defaultBotAPIURL)
	configViper.SetDefault("session.cookie_name", defaultCookieName)
	configViper.SetDefault("session.ttl_minutes", defaultSessionTTL)
	configViper.SetDefault("sweep.interval_minutes", defaultSweepInterval)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:       configViper.GetString("http.address"),
		DatabasePath:      configViper.GetString("database.path"),
		LogLevel:          configViper.GetString("log.level"),
		AppOrigin:         configViper.GetString("app.origin"),
		BotToken:          configViper.GetString("bot.token"),
		BotAPIURL:         configViper.GetString("bot.api_url"),
		ProviderEndpoint:  configViper.GetString("provider.endpoint"),
		ProviderProjectID: configViper.GetString("provider.project_id"),
		ProviderAPIKey:    configViper.GetString("provider.api_key"),
		SigningSecret:     configViper.GetString("session.signing_secret"),
		CookieName:        configViper.GetString("session.cookie_name"),
		SessionTTL:        time.Duration(configViper.GetInt("session.ttl_minutes")) * time.Minute,
		SweepInterval:     time.Duration(configViper.GetInt("sweep.interval_minutes")) * time.Minute,
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.AppOrigin) == "" {
		return fmt.Errorf("app.origin is required")
	}
	if strings.TrimSpace(c.BotToken) == "" {
		return fmt.Errorf("bot.token is required")
	}
	if strings.TrimSpace(c.ProviderEndpoint) == "" {
		return fmt.Errorf("provider.endpoint is required")
	}
	if strings.TrimSpace(c.ProviderProjectID) == "" {
		return fmt.Errorf("provider.project_id is required")
	}
	if strings.TrimSpace(c.ProviderAPIKey) == "" {
		return fmt.Errorf("provider.api_key is required")
	}
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("session.signing_secret is required")
	}
	if strings.TrimSpace(c.CookieName) == "" {
		return fmt.Errorf("session.cookie_name is required")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("session.ttl_minutes must be positive")
	}
	return nil
}
