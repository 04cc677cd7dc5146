package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv               string
	BotToken             string
	BotUsername          string
	AdminIDs             []int64
	RequiredChannelID    int64
	PaymentProviderToken string
	KieAPIKey            string
	KieAPIBase           string
	KieUploadBase        string
	DBPath               string
	TimeZone             string
	VatCode              int
	TaxSystemCode        *int
	OpsPort              string
	HTTPReadTimeout      time.Duration
	HTTPWriteTimeout     time.Duration
	HTTPIdleTimeout      time.Duration
	WorkerCount          int
	PollInterval         time.Duration
	PollBudget           int
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:               getEnv("APP_ENV", "development"),
		BotToken:             os.Getenv("BOT_TOKEN"),
		BotUsername:          os.Getenv("BOT_USERNAME"),
		AdminIDs:             getEnvInt64List("ADMIN_IDS"),
		RequiredChannelID:    getEnvInt64("REQUIRED_CHANNEL_ID", 0),
		PaymentProviderToken: os.Getenv("PAYMENT_PROVIDER_TOKEN"),
		KieAPIKey:            os.Getenv("KIE_API_KEY"),
		KieAPIBase:           getEnv("KIE_API_BASE", "https://api.kie.ai"),
		KieUploadBase:        getEnv("KIE_UPLOAD_BASE", "https://kieai.redpandaai.co"),
		DBPath:               getEnv("BOT_DB_PATH", "data/bot.db"),
		TimeZone:             getEnv("BOT_TIMEZONE", "Europe/Moscow"),
		VatCode:              getEnvInt("YOOKASSA_VAT_CODE", 1),
		OpsPort:              getEnv("OPS_PORT", "8090"),
		HTTPReadTimeout:      time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout:     time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:      time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		WorkerCount:          getEnvInt("GENERATION_WORKERS", 64),
		PollInterval:         time.Second * time.Duration(getEnvInt("POLL_INTERVAL_SECONDS", 3)),
		PollBudget:           getEnvInt("POLL_ATTEMPTS", 200),
	}

	if raw := strings.TrimSpace(os.Getenv("YOOKASSA_TAX_SYSTEM_CODE")); raw != "" {
		code, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("YOOKASSA_TAX_SYSTEM_CODE is not a number: %w", err)
		}
		cfg.TaxSystemCode = &code
	}

	if cfg.BotToken == "" {
		return nil, fmt.Errorf("BOT_TOKEN is required")
	}

	if cfg.BotUsername == "" {
		return nil, fmt.Errorf("BOT_USERNAME is required")
	}

	if cfg.KieAPIKey == "" {
		return nil, fmt.Errorf("KIE_API_KEY is required")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvInt64List(key string) []int64 {
	raw := os.Getenv(key)
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if id, err := strconv.ParseInt(part, 10, 64); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}
