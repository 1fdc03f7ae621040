package config

import (
	"fmt"
	"path/filepath"
	"time"

	internal "github.com/orbitalgrid/orbital-insight/orbital"

	"github.com/spf13/viper"
)

// Config stores all configuration of the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Provider   ProviderConfig   `mapstructure:"provider"`
	Agents     AgentsConfig     `mapstructure:"agents"`
	Stream     StreamConfig     `mapstructure:"stream"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Gateway    GatewayConfig    `mapstructure:"gateway"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
}

// ProviderConfig stores the generative-language API client settings. The
// API key is usually supplied as ORBITAL_PROVIDER_API_KEY.
type ProviderConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"` // per-request ceiling

	// Per-model token bucket; a zero capacity disables rate limiting.
	RateCapacity int           `mapstructure:"rate_capacity"`
	RateRefill   time.Duration `mapstructure:"rate_refill"`
}

// AgentsConfig stores model selection and orchestration policy for the roles.
type AgentsConfig struct {
	ChatModel  string `mapstructure:"chat_model"`  // conversational replies
	QuickModel string `mapstructure:"quick_model"` // research, coding, synthesis
	DeepModel  string `mapstructure:"deep_model"`  // deep-research mode

	Temperature    float32 `mapstructure:"temperature"`     // sampling temperature for code generation
	TopP           float32 `mapstructure:"top_p"`           // nucleus sampling
	ThinkingBudget int     `mapstructure:"thinking_budget"` // reasoning-token budget per call

	// Question-resolution loop between pipeline stages.
	MaxResolveRounds int           `mapstructure:"max_resolve_rounds"` // hard stop after this many rounds
	ResolveBackoff   time.Duration `mapstructure:"resolve_backoff"`    // pause between rounds
}

// StreamConfig stores broadcaster tuning.
type StreamConfig struct {
	KeepaliveInterval time.Duration `mapstructure:"keepalive_interval"` // synthetic keepalive cadence for idle subscribers
	SubscriberBuffer  int           `mapstructure:"subscriber_buffer"`  // bounded per-subscriber channel capacity
}

// ClassifierConfig stores the closed keyword sets used by intent routing.
// Sets are matched as case-insensitive substrings, in rule order.
type ClassifierConfig struct {
	RefineKeywords        []string `mapstructure:"refine_keywords"`
	AnalysisKeywords      []string `mapstructure:"analysis_keywords"`
	InterrogativePrefixes []string `mapstructure:"interrogative_prefixes"`
}

// GatewayConfig stores the HTTP/WebSocket listener settings.
type GatewayConfig struct {
	Addr           string        `mapstructure:"addr"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

// ArchiveConfig stores the optional durable archive settings.
type ArchiveConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"` // path to the embedded libsql database file
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(configPath string) (*Config, error) {
	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath(filepath.Join("etc", internal.DefaultAppName))
		viper.AddConfigPath(internal.DefaultConfigPath)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	// Provider defaults
	viper.SetDefault("provider.base_url", "https://generativelanguage.googleapis.com")
	viper.SetDefault("provider.timeout", "120s")
	viper.SetDefault("provider.rate_capacity", 0)
	viper.SetDefault("provider.rate_refill", "500ms")

	// Agent defaults
	viper.SetDefault("agents.chat_model", "gemini-1.5-pro")
	viper.SetDefault("agents.quick_model", "gemini-3-pro-preview")
	viper.SetDefault("agents.deep_model", "gemini-3-pro-preview")
	viper.SetDefault("agents.temperature", 0.7)
	viper.SetDefault("agents.top_p", 0.95)
	viper.SetDefault("agents.thinking_budget", 2048)
	viper.SetDefault("agents.max_resolve_rounds", 3)
	viper.SetDefault("agents.resolve_backoff", "100ms")

	// Stream defaults
	viper.SetDefault("stream.keepalive_interval", "30s")
	viper.SetDefault("stream.subscriber_buffer", 100)

	// Classifier defaults. Rule order is significant: refinement is checked
	// before analysis, and only routes there when a script already exists.
	viper.SetDefault("classifier.refine_keywords", []string{
		"change the", "modify", "update", "fix", "adjust",
		"add", "remove", "instead", "rather than", "make it",
	})
	viper.SetDefault("classifier.analysis_keywords", []string{
		"analyze", "show me", "detect", "find", "calculate",
		"create a map", "generate", "visualize", "monitor",
		"ndvi", "deforestation", "flood", "fire", "change detection",
	})
	viper.SetDefault("classifier.interrogative_prefixes", []string{
		"what", "how", "why", "which", "can you explain",
	})

	// Gateway defaults
	viper.SetDefault("gateway.addr", internal.DefaultGatewayAddr)
	viper.SetDefault("gateway.read_timeout", "30s")
	viper.SetDefault("gateway.write_timeout", "30s")
	viper.SetDefault("gateway.idle_timeout", "120s")
	viper.SetDefault("gateway.allowed_origins", []string{
		"http://localhost:3000", "http://127.0.0.1:3000",
	})

	// Archive defaults
	viper.SetDefault("archive.enabled", false)
	viper.SetDefault("archive.dsn", internal.DefaultArchiveDSN)

	viper.SetEnvPrefix("ORBITAL")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// No config file: defaults and environment only.
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks invariants the rest of the system relies on.
func (c *Config) Validate() error {
	if c.Provider.BaseURL == "" {
		return fmt.Errorf("provider.base_url must not be empty")
	}
	if c.Agents.MaxResolveRounds < 1 {
		return fmt.Errorf("agents.max_resolve_rounds must be >= 1, got %d", c.Agents.MaxResolveRounds)
	}
	if c.Agents.ResolveBackoff < 0 {
		return fmt.Errorf("agents.resolve_backoff must not be negative")
	}
	if c.Stream.KeepaliveInterval <= 0 {
		return fmt.Errorf("stream.keepalive_interval must be positive")
	}
	if c.Stream.SubscriberBuffer < 1 {
		return fmt.Errorf("stream.subscriber_buffer must be >= 1, got %d", c.Stream.SubscriberBuffer)
	}
	if c.Gateway.Addr == "" {
		return fmt.Errorf("gateway.addr must not be empty")
	}
	if c.Archive.Enabled && c.Archive.DSN == "" {
		return fmt.Errorf("archive.dsn must be set when the archive is enabled")
	}
	return nil
}
