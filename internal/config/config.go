package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                 = "CANVA"
	defaultListenAddress      = "0.0.0.0:8080"
	defaultDatabasePath       = "canva-indexer.db"
	defaultLogLevel           = "info"
	defaultPollIntervalMs     = 5000
	defaultEventsLimit        = 100
	defaultInitialSize        = 16
	defaultMaxCredits         = 10
	defaultCreditRegenSeconds = 600
	defaultResolverEndpoint   = "https://resolver.pubky-canva.net"
)

// AppConfig captures runtime configuration for the indexer.
type AppConfig struct {
	ListenAddress      string
	DatabasePath       string
	LogLevel           string
	PollInterval       time.Duration
	EventsLimit        int
	InitialSize        int
	MaxCredits         int
	CreditRegenSeconds int
	ResolverEndpoint   string
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

	configViper.SetDefault("server.listen", defaultListenAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("watcher.poll_interval_ms", defaultPollIntervalMs)
	configViper.SetDefault("watcher.events_limit", defaultEventsLimit)
	configViper.SetDefault("canvas.initial_size", defaultInitialSize)
	configViper.SetDefault("canvas.max_credits", defaultMaxCredits)
	configViper.SetDefault("canvas.credit_regen_seconds", defaultCreditRegenSeconds)
	configViper.SetDefault("resolver.endpoint", defaultResolverEndpoint)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		ListenAddress:      configViper.GetString("server.listen"),
		DatabasePath:       configViper.GetString("database.path"),
		LogLevel:           configViper.GetString("log.level"),
		PollInterval:       time.Duration(configViper.GetUint32("watcher.poll_interval_ms")) * time.Millisecond,
		EventsLimit:        int(configViper.GetUint32("watcher.events_limit")),
		InitialSize:        int(configViper.GetUint32("canvas.initial_size")),
		MaxCredits:         int(configViper.GetUint32("canvas.max_credits")),
		CreditRegenSeconds: int(configViper.GetUint32("canvas.credit_regen_seconds")),
		ResolverEndpoint:   configViper.GetString("resolver.endpoint"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.ListenAddress) == "" {
		return fmt.Errorf("server.listen is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("watcher.poll_interval_ms must be positive")
	}
	if c.EventsLimit <= 0 {
		return fmt.Errorf("watcher.events_limit must be positive")
	}
	if c.InitialSize < 1 || c.InitialSize&(c.InitialSize-1) != 0 {
		return fmt.Errorf("canvas.initial_size must be a power of two >= 1, got %d", c.InitialSize)
	}
	if c.MaxCredits < 1 {
		return fmt.Errorf("canvas.max_credits must be >= 1, got %d", c.MaxCredits)
	}
	if c.CreditRegenSeconds < 1 {
		return fmt.Errorf("canvas.credit_regen_seconds must be >= 1, got %d", c.CreditRegenSeconds)
	}
	if strings.TrimSpace(c.ResolverEndpoint) == "" {
		return fmt.Errorf("resolver.endpoint is required")
	}
	return nil
}
