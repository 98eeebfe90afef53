package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/crmboard/internal/analytics"
)

// Config holds the full application configuration.
type Config struct {
	Kommo     KommoConfig     `yaml:"kommo" mapstructure:"kommo"`
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Cache     CacheConfig     `yaml:"cache" mapstructure:"cache"`
	Analytics AnalyticsConfig `yaml:"analytics" mapstructure:"analytics"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// KommoConfig holds the CRM OAuth client settings. The token pair lives in
// the connection store, not here.
type KommoConfig struct {
	Domain       string  `yaml:"domain" mapstructure:"domain"`
	ClientID     string  `yaml:"client_id" mapstructure:"client_id"`
	ClientSecret string  `yaml:"client_secret" mapstructure:"client_secret"`
	RedirectURI  string  `yaml:"redirect_uri" mapstructure:"redirect_uri"`
	RateLimitRPS float64 `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
}

// StoreConfig configures the connection-store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// CacheConfig configures the shared result cache.
type CacheConfig struct {
	TTLMins    int `yaml:"ttl_mins" mapstructure:"ttl_mins"`
	MaxEntries int `yaml:"max_entries" mapstructure:"max_entries"`
}

// AnalyticsConfig configures aggregation behavior.
type AnalyticsConfig struct {
	Stages analytics.Stages `yaml:"stages" mapstructure:"stages"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CRMBOARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	stages := analytics.DefaultStages()
	v.SetDefault("kommo.domain", "")
	v.SetDefault("kommo.client_id", "")
	v.SetDefault("kommo.client_secret", "")
	v.SetDefault("kommo.redirect_uri", "")
	v.SetDefault("kommo.rate_limit_rps", 7)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "crmboard.db")
	v.SetDefault("cache.ttl_mins", 5)
	v.SetDefault("cache.max_entries", 256)
	v.SetDefault("analytics.stages.incoming", stages.Incoming)
	v.SetDefault("analytics.stages.proposal_sent", stages.ProposalSent)
	v.SetDefault("analytics.stages.closing", stages.Closing)
	v.SetDefault("analytics.stages.post_sale", stages.PostSale)
	v.SetDefault("analytics.stages.lost", stages.Lost)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the fields a command mode depends on are present and
// within bounds. Mode is "connect" or "serve"; bounds shared by every mode
// are always checked. Commands that only read an existing connection skip
// validation and report a missing connection through the store instead.
func (c *Config) Validate(mode string) error {
	var problems []string

	if c.Kommo.RateLimitRPS <= 0 {
		problems = append(problems, "kommo.rate_limit_rps must be > 0")
	}
	if c.Cache.TTLMins <= 0 {
		problems = append(problems, "cache.ttl_mins must be > 0")
	}
	if c.Cache.MaxEntries <= 0 {
		problems = append(problems, "cache.max_entries must be > 0")
	}
	if c.Store.Driver != "sqlite" && c.Store.Driver != "postgres" {
		problems = append(problems, "store.driver must be sqlite or postgres")
	}

	switch mode {
	case "connect":
		if c.Kommo.Domain == "" {
			problems = append(problems, "kommo.domain is required")
		}
		if c.Kommo.ClientID == "" {
			problems = append(problems, "kommo.client_id is required")
		}
		if c.Kommo.ClientSecret == "" {
			problems = append(problems, "kommo.client_secret is required")
		}
		if c.Kommo.RedirectURI == "" {
			problems = append(problems, "kommo.redirect_uri is required")
		}
	case "serve":
		if c.Kommo.Domain == "" {
			problems = append(problems, "kommo.domain is required")
		}
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
