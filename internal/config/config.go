package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key          string  `yaml:"key" mapstructure:"key"`
	VisionModel  string  `yaml:"vision_model" mapstructure:"vision_model"`
	ScoringModel string  `yaml:"scoring_model" mapstructure:"scoring_model"`
	RPS          float64 `yaml:"rps" mapstructure:"rps"`
}

// PipelineConfig configures the evaluation pipeline token budgets.
type PipelineConfig struct {
	OCRMaxTokens     int64 `yaml:"ocr_max_tokens" mapstructure:"ocr_max_tokens"`
	ScoringMaxTokens int64 `yaml:"scoring_max_tokens" mapstructure:"scoring_max_tokens"`
}

// ServerConfig configures the HTTP server.
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
	v.SetEnvPrefix("GRADER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("anthropic.vision_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.scoring_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.rps", 0)
	v.SetDefault("pipeline.ocr_max_tokens", 3000)
	v.SetDefault("pipeline.scoring_max_tokens", 2000)

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

// Validate checks the configuration for the given run mode ("grade" or
// "serve"). Both modes call the inference endpoint, so both need a key.
func (c *Config) Validate(mode string) error {
	var missing []string

	switch mode {
	case "grade":
	case "serve":
		if c.Server.Port <= 0 {
			missing = append(missing, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Anthropic.Key == "" {
		missing = append(missing, "anthropic.key is required (GRADER_ANTHROPIC_KEY)")
	}
	if c.Anthropic.RPS < 0 {
		missing = append(missing, "anthropic.rps must be >= 0")
	}
	if c.Pipeline.OCRMaxTokens < 0 || c.Pipeline.ScoringMaxTokens < 0 {
		missing = append(missing, "pipeline token budgets must be >= 0")
	}

	if len(missing) > 0 {
		return eris.New("config: " + strings.Join(missing, "; "))
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
