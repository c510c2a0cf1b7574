package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	AppPort      int    `mapstructure:"APP_PORT"`
	StoreDriver  string `mapstructure:"STORE_DRIVER"`
	DatabasePath string `mapstructure:"DATABASE_PATH"`

	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	OllamaURL      string `mapstructure:"OLLAMA_URL"`
	WaitForRuntime bool   `mapstructure:"WAIT_FOR_RUNTIME"`
	LogLevel       string `mapstructure:"LOG_LEVEL"`

	StreamIdleTimeout  time.Duration `mapstructure:"STREAM_IDLE_TIMEOUT"`
	StreamTotalTimeout time.Duration `mapstructure:"STREAM_TOTAL_TIMEOUT"`
	HeartbeatInterval  time.Duration `mapstructure:"HEARTBEAT_INTERVAL"`

	ModelCacheTTL  time.Duration `mapstructure:"MODEL_CACHE_TTL"`
	FallbackModels []string      `mapstructure:"FALLBACK_MODELS"`

	PromptMaxLength        int `mapstructure:"PROMPT_MAX_LENGTH"`
	RuntimePromptMaxLength int `mapstructure:"RUNTIME_PROMPT_MAX_LENGTH"`
	HistoryLimit           int `mapstructure:"HISTORY_LIMIT"`

	JWTSecret string        `mapstructure:"JWT_SECRET"`
	JWTTTL    time.Duration `mapstructure:"JWT_TTL"`

	ChatRateLimit float64 `mapstructure:"CHAT_RATE_LIMIT"`
	ChatRateBurst int     `mapstructure:"CHAT_RATE_BURST"`

	OpenAIAPIKey     string `mapstructure:"OPENAI_API_KEY"`
	AnthropicAPIKey  string `mapstructure:"ANTHROPIC_API_KEY"`
	GeminiAPIKey     string `mapstructure:"GEMINI_API_KEY"`
	GroqAPIKey       string `mapstructure:"GROQ_API_KEY"`
	OpenRouterAPIKey string `mapstructure:"OPENROUTER_API_KEY"`
	DeepSeekAPIKey   string `mapstructure:"DEEPSEEK_API_KEY"`
	MistralAPIKey    string `mapstructure:"MISTRAL_API_KEY"`
	ValidateKeys     bool   `mapstructure:"VALIDATE_KEYS"`
}

// ErrMissingJWTSecret is returned by Validate when no signing secret is configured.
var ErrMissingJWTSecret = errors.New("JWT_SECRET must be set")

func setDefaults() {
	viper.SetDefault("APP_PORT", 8000)
	viper.SetDefault("STORE_DRIVER", "sqlite")
	viper.SetDefault("DATABASE_PATH", "/data/openchat.db")
	viper.SetDefault("REDIS_ADDR", "localhost:6379")
	viper.SetDefault("REDIS_PASSWORD", "")
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("OLLAMA_URL", "http://ollama:11434")
	viper.SetDefault("WAIT_FOR_RUNTIME", true)
	viper.SetDefault("LOG_LEVEL", "INFO")
	viper.SetDefault("STREAM_IDLE_TIMEOUT", 5*time.Minute)
	viper.SetDefault("STREAM_TOTAL_TIMEOUT", 10*time.Minute)
	viper.SetDefault("HEARTBEAT_INTERVAL", 30*time.Second)
	viper.SetDefault("MODEL_CACHE_TTL", 5*time.Minute)
	viper.SetDefault("FALLBACK_MODELS", "gemma:2b,llama3:8b,mistral:7b")
	viper.SetDefault("PROMPT_MAX_LENGTH", 2000)
	viper.SetDefault("RUNTIME_PROMPT_MAX_LENGTH", 1000)
	viper.SetDefault("HISTORY_LIMIT", 100)
	viper.SetDefault("JWT_SECRET", "")
	viper.SetDefault("JWT_TTL", 24*time.Hour)
	viper.SetDefault("CHAT_RATE_LIMIT", 1.0)
	viper.SetDefault("CHAT_RATE_BURST", 5)
	viper.SetDefault("VALIDATE_KEYS", true)
	for _, key := range []string{
		"OPENAI_API_KEY", "ANTHROPIC_API_KEY", "GEMINI_API_KEY", "GROQ_API_KEY",
		"OPENROUTER_API_KEY", "DEEPSEEK_API_KEY", "MISTRAL_API_KEY",
	} {
		viper.SetDefault(key, "")
	}
}

// LoadConfig reads configuration from defaults, an optional config file and the
// environment. An empty configFile falls back to a .env file in the working
// directory.
func LoadConfig(configFile string) (*Config, error) {
	setDefaults()

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName(".env")
		viper.SetConfigType("env")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./backend")
	}

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg.FallbackModels = splitList(cfg.FallbackModels)

	return &cfg, nil
}

// Validate checks settings that have no usable default.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return ErrMissingJWTSecret
	}
	switch c.StoreDriver {
	case "sqlite", "redis":
	default:
		return errors.New("STORE_DRIVER must be sqlite or redis")
	}
	return nil
}

// ProviderKeys returns the process-wide fallback API keys by provider name.
func (c *Config) ProviderKeys() map[string]string {
	return map[string]string{
		"openai":     c.OpenAIAPIKey,
		"anthropic":  c.AnthropicAPIKey,
		"gemini":     c.GeminiAPIKey,
		"groq":       c.GroqAPIKey,
		"openrouter": c.OpenRouterAPIKey,
		"deepseek":   c.DeepSeekAPIKey,
		"mistral":    c.MistralAPIKey,
	}
}

// splitList normalizes list values that arrive either as a real slice or as a
// single comma-separated env string.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
