package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AlpacaConfig       AlpacaConfig       `json:"alpaca"`
	AnalysisConfig     AnalysisConfig     `json:"analysis"`
	RiskConfig         RiskConfig         `json:"risk"`
	ServerConfig       ServerConfig       `json:"server"`
	NotificationConfig NotificationConfig `json:"notification"`
	LoggingConfig      LoggingConfig      `json:"logging"`
}

// AlpacaConfig holds broker credentials and endpoints
type AlpacaConfig struct {
	APIKey    string `json:"api_key"`
	SecretKey string `json:"secret_key"`
	BaseURL   string `json:"base_url"`
}

// IsPaper reports whether the configured endpoint is the paper-trading API
func (a AlpacaConfig) IsPaper() bool {
	return strings.Contains(a.BaseURL, "paper-api")
}

// AnalysisConfig holds the per-symbol pipeline parameters
type AnalysisConfig struct {
	DefaultSymbols       []string      `json:"default_symbols"`
	LookbackDays         int           `json:"lookback_days"`
	RegimePeriods        []int         `json:"regime_periods"`
	WalkForwardTrainDays int           `json:"walk_forward_train_days"`
	WalkForwardTestDays  int           `json:"walk_forward_test_days"`
	Workers              int           `json:"workers"`
	SymbolTimeout        time.Duration `json:"symbol_timeout"`
}

type RiskConfig struct {
	MaxPositionFraction float64 `json:"max_position_fraction"`
	MinAccountBalance   float64 `json:"min_account_balance"`
	EnablePDTProtection bool    `json:"enable_pdt_protection"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int    `json:"port"`
	Host            string `json:"host"`
	AllowedOrigins  string `json:"allowed_origins"`
	ReadTimeout     int    `json:"read_timeout"`     // Seconds
	WriteTimeout    int    `json:"write_timeout"`    // Seconds
	ShutdownTimeout int    `json:"shutdown_timeout"` // Seconds
}

type NotificationConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
}

type TelegramConfig struct {
	BotToken string `json:"bot_token"`
	ChatID   string `json:"chat_id"`
}

type DiscordConfig struct {
	WebhookURL string `json:"webhook_url"`
}

type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // console or json
}

// Load reads configuration from the environment, honoring a local .env
// file when present, and validates it.
func Load() (*Config, error) {
	// A missing .env is fine; real environments set variables directly
	_ = godotenv.Load()

	cfg := &Config{
		AlpacaConfig: AlpacaConfig{
			APIKey:    getEnvOrDefault("ALPACA_API_KEY", ""),
			SecretKey: getEnvOrDefault("ALPACA_SECRET_KEY", ""),
			BaseURL:   getEnvOrDefault("ALPACA_BASE_URL", "https://paper-api.alpaca.markets"),
		},
		AnalysisConfig: AnalysisConfig{
			DefaultSymbols:       getEnvListOrDefault("DEFAULT_STOCKS", []string{"AAPL", "MSFT", "GOOGL", "AMZN", "TSLA"}),
			LookbackDays:         getEnvIntOrDefault("LOOKBACK_DAYS", 60),
			RegimePeriods:        getEnvIntListOrDefault("REGIME_PERIODS", []int{20, 50, 200}),
			WalkForwardTrainDays: getEnvIntOrDefault("WALK_FORWARD_TRAIN_DAYS", 30),
			WalkForwardTestDays:  getEnvIntOrDefault("WALK_FORWARD_TEST_DAYS", 5),
			Workers:              getEnvIntOrDefault("ANALYSIS_WORKERS", 4),
			SymbolTimeout:        getEnvDurationOrDefault("SYMBOL_TIMEOUT", 30*time.Second),
		},
		RiskConfig: RiskConfig{
			MaxPositionFraction: getEnvFloatOrDefault("MAX_POSITION_FRACTION", 0.10),
			MinAccountBalance:   getEnvFloatOrDefault("MIN_ACCOUNT_BALANCE", 1000),
			EnablePDTProtection: getEnvOrDefault("ENABLE_PDT_PROTECTION", "true") == "true",
		},
		ServerConfig: ServerConfig{
			Port:            getEnvIntOrDefault("SERVER_PORT", 5000),
			Host:            getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			AllowedOrigins:  getEnvOrDefault("SERVER_ALLOWED_ORIGINS", "*"),
			ReadTimeout:     getEnvIntOrDefault("SERVER_READ_TIMEOUT", 30),
			WriteTimeout:    getEnvIntOrDefault("SERVER_WRITE_TIMEOUT", 120),
			ShutdownTimeout: getEnvIntOrDefault("SERVER_SHUTDOWN_TIMEOUT", 30),
		},
		NotificationConfig: NotificationConfig{
			Telegram: TelegramConfig{
				BotToken: getEnvOrDefault("TELEGRAM_BOT_TOKEN", ""),
				ChatID:   getEnvOrDefault("TELEGRAM_CHAT_ID", ""),
			},
			Discord: DiscordConfig{
				WebhookURL: getEnvOrDefault("DISCORD_WEBHOOK_URL", ""),
			},
		},
		LoggingConfig: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "console"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects parameter combinations that would make the analysis
// meaningless. It runs once at startup; nothing downstream re-checks.
func (c *Config) Validate() error {
	if c.AlpacaConfig.APIKey == "" || c.AlpacaConfig.SecretKey == "" {
		return fmt.Errorf("ALPACA_API_KEY and ALPACA_SECRET_KEY are required")
	}

	a := c.AnalysisConfig
	if a.WalkForwardTrainDays < 1 || a.WalkForwardTestDays < 1 {
		return fmt.Errorf("walk-forward window sizes must be positive, got train=%d test=%d",
			a.WalkForwardTrainDays, a.WalkForwardTestDays)
	}
	if a.WalkForwardTestDays >= a.WalkForwardTrainDays {
		return fmt.Errorf("walk-forward test window (%d) must be shorter than the train window (%d)",
			a.WalkForwardTestDays, a.WalkForwardTrainDays)
	}
	if a.LookbackDays < a.WalkForwardTrainDays+2*a.WalkForwardTestDays {
		return fmt.Errorf("LOOKBACK_DAYS=%d cannot fit two walk-forward windows (need %d)",
			a.LookbackDays, a.WalkForwardTrainDays+2*a.WalkForwardTestDays)
	}
	if len(a.RegimePeriods) == 0 {
		return fmt.Errorf("REGIME_PERIODS must name at least one moving-average period")
	}
	for _, p := range a.RegimePeriods {
		if p < 1 {
			return fmt.Errorf("REGIME_PERIODS contains a non-positive period %d", p)
		}
	}
	if a.Workers < 1 {
		return fmt.Errorf("ANALYSIS_WORKERS must be at least 1, got %d", a.Workers)
	}
	if len(a.DefaultSymbols) == 0 {
		return fmt.Errorf("DEFAULT_STOCKS must name at least one symbol")
	}

	r := c.RiskConfig
	if r.MaxPositionFraction <= 0 || r.MaxPositionFraction > 1 {
		return fmt.Errorf("MAX_POSITION_FRACTION must be in (0, 1], got %v", r.MaxPositionFraction)
	}
	if r.MinAccountBalance < 0 {
		return fmt.Errorf("MIN_ACCOUNT_BALANCE must not be negative, got %v", r.MinAccountBalance)
	}

	if c.ServerConfig.Port < 1 || c.ServerConfig.Port > 65535 {
		return fmt.Errorf("SERVER_PORT %d out of range", c.ServerConfig.Port)
	}

	return nil
}

// Safe returns the config with credentials blanked for the config
// endpoint and logs.
func (c *Config) Safe() Config {
	safe := *c
	safe.AlpacaConfig.APIKey = mask(safe.AlpacaConfig.APIKey)
	safe.AlpacaConfig.SecretKey = mask(safe.AlpacaConfig.SecretKey)
	safe.NotificationConfig.Telegram.BotToken = mask(safe.NotificationConfig.Telegram.BotToken)
	safe.NotificationConfig.Discord.WebhookURL = mask(safe.NotificationConfig.Discord.WebhookURL)
	return safe
}

func mask(s string) string {
	if len(s) <= 4 {
		if s == "" {
			return ""
		}
		return "****"
	}
	return s[:4] + strings.Repeat("*", len(s)-4)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvListOrDefault(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, strings.ToUpper(trimmed))
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

func getEnvIntListOrDefault(key string, defaultValue []int) []int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var out []int
	for _, part := range strings.Split(value, ",") {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		n, err := strconv.Atoi(trimmed)
		if err != nil {
			return defaultValue
		}
		out = append(out, n)
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
