package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultTimezone = "UTC"
	defaultDriver   = "sqlite"

	configPathEnv      = "KNOWLEDGE_DIGEST_CONFIG"
	envFileEnv         = "KNOWLEDGE_DIGEST_ENV_FILE"
	databaseDriverEnv  = "DATABASE_DRIVER"
	transactionsDSNEnv = "TRANSACTIONS_DSN"
	newsDSNEnv         = "NEWS_DSN"
	pricesDSNEnv       = "PRICES_DSN"
	knowledgeDSNEnv    = "KNOWLEDGE_DSN"
	llmProviderEnv     = "LLM_PROVIDER"
	llmModelEnv        = "LLM_MODEL"
	openAIAPIKeyEnv    = "OPENAI_API_KEY"
	anthropicAPIKeyEnv = "ANTHROPIC_API_KEY"
	telegramTokenEnv   = "TELEGRAM_BOT_TOKEN"
	telegramChatIDEnv  = "TELEGRAM_CHAT_ID"
	redisURLEnv        = "REDIS_URL"
	logLevelEnv        = "LOG_LEVEL"
)

// Config holds high-level settings required across the application.
type Config struct {
	Logging       LoggingConfig      `yaml:"logging"`
	Database      DatabaseConfig     `yaml:"database"`
	LLM           LLMConfig          `yaml:"llm"`
	Pipeline      PipelineConfig     `yaml:"pipeline"`
	Sources       SourcesConfig      `yaml:"sources"`
	Retention     RetentionConfig    `yaml:"retention"`
	Scheduler     SchedulerConfig    `yaml:"scheduler"`
	Notifications NotificationConfig `yaml:"notifications"`
	Lock          LockConfig         `yaml:"lock"`
	HTTP          HTTPConfig         `yaml:"http"`
	Feeds         []FeedConfig       `yaml:"feeds"`
}

// LoggingConfig selects slog level and handler format (text or json).
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DatabaseConfig locates every store. The DSNs may point at the same database.
type DatabaseConfig struct {
	Driver          string `yaml:"driver"`
	TransactionsDSN string `yaml:"transactionsDsn"`
	NewsDSN         string `yaml:"newsDsn"`
	PricesDSN       string `yaml:"pricesDsn"`
	KnowledgeDSN    string `yaml:"knowledgeDsn"`
}

// LLMConfig defines how to contact the text-generation service.
type LLMConfig struct {
	Provider  string        `yaml:"provider"`
	BaseURL   string        `yaml:"baseUrl"`
	APIKey    string        `yaml:"apiKey"`
	Model     string        `yaml:"model"`
	Timeout   time.Duration `yaml:"timeout"`
	MaxTokens int64         `yaml:"maxTokens"`
}

// PipelineConfig tunes the orchestrator.
type PipelineConfig struct {
	LookbackMonths   int           `yaml:"lookbackMonths"`
	MaxAttempts      int           `yaml:"maxAttempts"`
	RetryDelay       time.Duration `yaml:"retryDelay"`
	NewsContentLimit int           `yaml:"newsContentLimit"`
}

// SourcesConfig holds per-source parameters.
type SourcesConfig struct {
	Transactions SourceConfig `yaml:"transactions"`
	News         SourceConfig `yaml:"news"`
	Prices       SourceConfig `yaml:"prices"`
}

// SourceConfig parameterizes one source pipeline.
type SourceConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	// MinDetails skips groups with fewer context rows; they stay unprocessed.
	MinDetails int `yaml:"minDetails"`
}

// RetentionConfig drives the knowledge base sweep.
type RetentionConfig struct {
	MaxAge     time.Duration `yaml:"maxAge"`
	Categories []string      `yaml:"categories"`
}

// SchedulerConfig defines how often serve mode runs the pipelines.
type SchedulerConfig struct {
	Interval time.Duration  `yaml:"interval"`
	Timezone string         `yaml:"timezone"`
	location *time.Location `yaml:"-"`
}

// Location resolves the scheduler timezone string to a time.Location.
func (s SchedulerConfig) Location() *time.Location {
	if s.location != nil {
		return s.location
	}
	loc, _ := time.LoadLocation(defaultTimezone)
	return loc
}

// NotificationConfig encapsulates outbound channels (Telegram, etc.).
type NotificationConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig wires all data required to send messages.
type TelegramConfig struct {
	BotToken string `yaml:"botToken"`
	ChatID   string `yaml:"chatId"`
}

// LockConfig enables the Redis run lock when RedisURL is set.
type LockConfig struct {
	RedisURL string        `yaml:"redisUrl"`
	TTL      time.Duration `yaml:"ttl"`
}

// HTTPConfig configures serve mode.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// FeedConfig names an RSS feed ingested into the news store.
type FeedConfig struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// Load reads YAML configuration (if present), the dotenv file (if present)
// and applies environment overrides.
func Load() (Config, error) {
	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	envFile := os.Getenv(envFileEnv)
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load env file %s: %w", envFile, err)
	}

	cfg.applyEnvOverrides()
	cfg.bindTimezone()
	cfg.applySourceDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	overrides := []struct {
		env    string
		target *string
	}{
		{databaseDriverEnv, &c.Database.Driver},
		{transactionsDSNEnv, &c.Database.TransactionsDSN},
		{newsDSNEnv, &c.Database.NewsDSN},
		{pricesDSNEnv, &c.Database.PricesDSN},
		{knowledgeDSNEnv, &c.Database.KnowledgeDSN},
		{llmProviderEnv, &c.LLM.Provider},
		{llmModelEnv, &c.LLM.Model},
		{telegramTokenEnv, &c.Notifications.Telegram.BotToken},
		{telegramChatIDEnv, &c.Notifications.Telegram.ChatID},
		{redisURLEnv, &c.Lock.RedisURL},
		{logLevelEnv, &c.Logging.Level},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.env); v != "" {
			*o.target = v
		}
	}

	if c.LLM.APIKey == "" {
		switch c.LLM.Provider {
		case "openai":
			c.LLM.APIKey = os.Getenv(openAIAPIKeyEnv)
		case "anthropic":
			c.LLM.APIKey = os.Getenv(anthropicAPIKeyEnv)
		}
	}
}

func (c *Config) bindTimezone() {
	tz := c.Scheduler.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	// An unknown zone leaves location unset; Validate reports it.
	if loc, err := time.LoadLocation(tz); err == nil {
		c.Scheduler.location = loc
	}
}

func (c *Config) applySourceDefaults() {
	for _, s := range []*SourceConfig{&c.Sources.Transactions, &c.Sources.News, &c.Sources.Prices} {
		if s.Model == "" {
			s.Model = c.LLM.Model
		}
	}
}

// Validate rejects configurations the pipeline cannot run with.
func (c Config) Validate() error {
	var errs []error

	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("database.driver %q is not supported", c.Database.Driver))
	}
	switch c.LLM.Provider {
	case "openai", "anthropic":
	default:
		errs = append(errs, fmt.Errorf("llm.provider %q is not supported", c.LLM.Provider))
	}
	if c.Pipeline.LookbackMonths <= 0 {
		errs = append(errs, errors.New("pipeline.lookbackMonths must be positive"))
	}
	if c.Pipeline.MaxAttempts <= 0 {
		errs = append(errs, errors.New("pipeline.maxAttempts must be positive"))
	}
	for name, s := range map[string]SourceConfig{
		"transactions": c.Sources.Transactions,
		"news":         c.Sources.News,
		"prices":       c.Sources.Prices,
	} {
		if s.Temperature < 0 || s.Temperature > 2 {
			errs = append(errs, fmt.Errorf("sources.%s.temperature %v is outside [0, 2]", name, s.Temperature))
		}
		if s.MinDetails < 0 {
			errs = append(errs, fmt.Errorf("sources.%s.minDetails must not be negative", name))
		}
	}
	if c.Retention.MaxAge <= 0 {
		errs = append(errs, errors.New("retention.maxAge must be positive"))
	}
	if c.Scheduler.Timezone != "" {
		if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
			errs = append(errs, fmt.Errorf("scheduler.timezone %q: %w", c.Scheduler.Timezone, err))
		}
	}

	return errors.Join(errs...)
}

func defaultConfig() Config {
	tz, _ := time.LoadLocation(defaultTimezone)
	return Config{
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Database: DatabaseConfig{
			Driver:          defaultDriver,
			TransactionsDSN: "data/crypto_transactions.sqlite3",
			NewsDSN:         "data/crypto.sqlite3",
			PricesDSN:       "data/crypto_prices.sqlite3",
			KnowledgeDSN:    "data/knowledge_base.sqlite",
		},
		LLM: LLMConfig{
			Provider: "openai",
			Model:    "gpt-4o-mini",
			Timeout:  60 * time.Second,
		},
		Pipeline: PipelineConfig{
			LookbackMonths:   6,
			MaxAttempts:      1,
			RetryDelay:       2 * time.Second,
			NewsContentLimit: 12000,
		},
		Sources: SourcesConfig{
			Transactions: SourceConfig{Enabled: true, Temperature: 0.7},
			News:         SourceConfig{Enabled: true, Temperature: 0.7},
			Prices:       SourceConfig{Enabled: true, Temperature: 0.5},
		},
		Retention: RetentionConfig{
			MaxAge:     180 * 24 * time.Hour,
			Categories: []string{"transactions", "news", "prices"},
		},
		Scheduler: SchedulerConfig{Interval: time.Hour, Timezone: defaultTimezone, location: tz},
		Lock:      LockConfig{TTL: 30 * time.Minute},
		HTTP:      HTTPConfig{Addr: ":8080"},
	}
}
