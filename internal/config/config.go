package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Режимы доставки обновлений Telegram
const (
	ModePolling = "polling"
	ModeWebhook = "webhook"
)

// DefaultAreaCodes коды областей, из которых выбирает поиск без кода
var DefaultAreaCodes = []string{
	"201", "212", "213", "305", "312", "347", "404", "415", "469", "512",
	"617", "646", "702", "718", "773", "818", "917", "929",
}

// Config конфигурация процесса, читается из окружения
type Config struct {
	App struct {
		Port          string        `mapstructure:"port" validate:"required"`
		Env           string        `mapstructure:"env"`
		LogLevel      string        `mapstructure:"log_level" validate:"oneof=debug info warn error"`
		PublicBaseURL string        `mapstructure:"public_base_url" validate:"required,url"`
		Workers       int           `mapstructure:"workers" validate:"min=1"`
		ShutdownGrace time.Duration `mapstructure:"shutdown_grace"`
	} `mapstructure:"app"`

	Telegram struct {
		Token         string        `mapstructure:"bot_token" validate:"required"`
		AdminChatID   int64         `mapstructure:"admin_chat_id" validate:"required"`
		Mode          string        `mapstructure:"mode" validate:"oneof=polling webhook"`
		WebhookSecret string        `mapstructure:"webhook_secret"`
		BaseURL       string        `mapstructure:"base_url" validate:"omitempty,url"`
		RatePerSecond float64       `mapstructure:"rate_per_second" validate:"gt=0"`
		PollTimeout   time.Duration `mapstructure:"poll_timeout"`
	} `mapstructure:"telegram"`

	Provisioning struct {
		BaseURL           string        `mapstructure:"twilio_base_url" validate:"omitempty,url"`
		Timeout           time.Duration `mapstructure:"backend_timeout"`
		MaxRetries        uint64        `mapstructure:"backend_max_retries"`
		ReferenceCurrency string        `mapstructure:"reference_currency" validate:"len=3"`
		NumberPrice       float64       `mapstructure:"number_price" validate:"gte=0"`
		Country           string        `mapstructure:"country" validate:"len=2"`
		AreaCodes         []string      `mapstructure:"area_codes"`
		SearchSampleSize  int           `mapstructure:"search_sample_size" validate:"min=1"`
		ReleasePrevious   bool          `mapstructure:"release_previous_numbers"`
	} `mapstructure:"provisioning"`

	Exchange struct {
		BaseURL string        `mapstructure:"base_url" validate:"required,url"`
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"exchange"`

	Entitlement struct {
		SweepInterval       time.Duration `mapstructure:"sweep_interval"`
		EphemeralTTL        time.Duration `mapstructure:"ephemeral_ttl"`
		PaymentInstructions string        `mapstructure:"payment_instructions"`
	} `mapstructure:"entitlement"`

	Redis struct {
		Enabled  bool          `mapstructure:"enabled"`
		Addr     string        `mapstructure:"addr"`
		Password string        `mapstructure:"password"`
		DB       int           `mapstructure:"db"`
		RateTTL  time.Duration `mapstructure:"rate_ttl"`
	} `mapstructure:"redis"`

	Kafka struct {
		Brokers []string `mapstructure:"brokers"`
		Topic   string   `mapstructure:"topic"`
	} `mapstructure:"kafka"`

	GRPC struct {
		Port string `mapstructure:"port"`
	} `mapstructure:"grpc"`

	Auth struct {
		JWTSecret string `mapstructure:"jwt_secret"`
	} `mapstructure:"auth"`
}

// env сопоставляет ключи конфигурации с именами переменных окружения
var env = map[string]string{
	"app.port":            "PORT",
	"app.env":             "APP_ENV",
	"app.log_level":       "LOG_LEVEL",
	"app.public_base_url": "PUBLIC_BASE_URL",
	"app.workers":         "WORKERS",
	"app.shutdown_grace":  "SHUTDOWN_GRACE",

	"telegram.bot_token":       "BOT_TOKEN",
	"telegram.admin_chat_id":   "ADMIN_CHAT_ID",
	"telegram.mode":            "TELEGRAM_MODE",
	"telegram.webhook_secret":  "TELEGRAM_WEBHOOK_SECRET",
	"telegram.base_url":        "TELEGRAM_BASE_URL",
	"telegram.rate_per_second": "TELEGRAM_RATE_PER_SECOND",
	"telegram.poll_timeout":    "TELEGRAM_POLL_TIMEOUT",

	"provisioning.twilio_base_url":          "TWILIO_BASE_URL",
	"provisioning.backend_timeout":          "BACKEND_TIMEOUT",
	"provisioning.backend_max_retries":      "BACKEND_MAX_RETRIES",
	"provisioning.reference_currency":       "REFERENCE_CURRENCY",
	"provisioning.number_price":             "NUMBER_PRICE",
	"provisioning.country":                  "COUNTRY",
	"provisioning.area_codes":               "AREA_CODES",
	"provisioning.search_sample_size":       "SEARCH_SAMPLE_SIZE",
	"provisioning.release_previous_numbers": "RELEASE_PREVIOUS_NUMBERS",

	"exchange.base_url": "EXCHANGE_BASE_URL",
	"exchange.timeout":  "EXCHANGE_TIMEOUT",

	"entitlement.sweep_interval":       "SWEEP_INTERVAL",
	"entitlement.ephemeral_ttl":        "EPHEMERAL_TTL",
	"entitlement.payment_instructions": "PAYMENT_INSTRUCTIONS",

	"redis.enabled":  "REDIS_ENABLED",
	"redis.addr":     "REDIS_ADDR",
	"redis.password": "REDIS_PASSWORD",
	"redis.db":       "REDIS_DB",
	"redis.rate_ttl": "REDIS_RATE_TTL",

	"kafka.brokers": "KAFKA_BROKERS",
	"kafka.topic":   "KAFKA_TOPIC",

	"grpc.port": "GRPC_PORT",

	"auth.jwt_secret": "ADMIN_JWT_SECRET",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.port", "8080")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.public_base_url", "")
	v.SetDefault("app.workers", 8)
	v.SetDefault("app.shutdown_grace", 15*time.Second)

	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.admin_chat_id", 0)
	v.SetDefault("telegram.mode", ModePolling)
	v.SetDefault("telegram.webhook_secret", "")
	v.SetDefault("telegram.base_url", "")
	v.SetDefault("telegram.rate_per_second", 25.0)
	v.SetDefault("telegram.poll_timeout", 30*time.Second)

	v.SetDefault("provisioning.twilio_base_url", "")
	v.SetDefault("provisioning.backend_timeout", 15*time.Second)
	v.SetDefault("provisioning.backend_max_retries", 2)
	v.SetDefault("provisioning.reference_currency", "USD")
	v.SetDefault("provisioning.number_price", 1.15)
	v.SetDefault("provisioning.country", "US")
	v.SetDefault("provisioning.area_codes", DefaultAreaCodes)
	v.SetDefault("provisioning.search_sample_size", 5)
	v.SetDefault("provisioning.release_previous_numbers", false)

	v.SetDefault("exchange.base_url", "https://open.er-api.com")
	v.SetDefault("exchange.timeout", 5*time.Second)

	v.SetDefault("entitlement.sweep_interval", time.Hour)
	v.SetDefault("entitlement.ephemeral_ttl", 5*time.Minute)
	v.SetDefault("entitlement.payment_instructions", "")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.rate_ttl", time.Hour)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "numgate.events")

	v.SetDefault("grpc.port", "")

	v.SetDefault("auth.jwt_secret", "")
}

// LoadConfig читает envFile, если он есть, затем окружение и проверяет
// результат. Отсутствие envFile не ошибка, вне production это лишь удобство.
func LoadConfig(envFile string) (*Config, error) {
	if envFile != "" && os.Getenv("APP_ENV") != "production" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	v := viper.New()
	setDefaults(v)
	for key, name := range env {
		if err := v.BindEnv(key, name); err != nil {
			return nil, fmt.Errorf("bind %s: %w", name, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Provisioning.AreaCodes = splitList(cfg.Provisioning.AreaCodes)
	cfg.Kafka.Brokers = splitList(cfg.Kafka.Brokers)
	cfg.Provisioning.ReferenceCurrency = strings.ToUpper(cfg.Provisioning.ReferenceCurrency)
	cfg.App.PublicBaseURL = strings.TrimRight(cfg.App.PublicBaseURL, "/")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate проверяет ограничения полей и правила между полями
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Telegram.Mode == ModeWebhook && c.Telegram.WebhookSecret == "" {
		return errors.New("invalid config: webhook mode needs TELEGRAM_WEBHOOK_SECRET")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return errors.New("invalid config: REDIS_ENABLED needs REDIS_ADDR")
	}
	return nil
}

// KafkaEnabled сообщает, нужно ли публиковать события в брокер
func (c *Config) KafkaEnabled() bool {
	return len(c.Kafka.Brokers) > 0 && c.Kafka.Topic != ""
}

// splitList разворачивает значения через запятую, в таком виде списки приходят
// из окружения.
func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
