package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Payment  PaymentConfig
	Lava     LavaConfig
	Stars    StarsConfig
	Ton      TonConfig
	Sweep    SweepConfig
	Kafka    KafkaConfig
	Telegram TelegramConfig
}

type ServerConfig struct {
	Port         string
	Env          string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// ServiceSecret authenticates the bot backend on the payer-facing API.
	ServiceSecret string
}

type DatabaseConfig struct {
	DSN             string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	AccessSecret  string
	RefreshSecret string
	AccessExpiry  time.Duration
	RefreshExpiry time.Duration
	Issuer        string
}

type PaymentConfig struct {
	// PendingMaxAge is how long a card payment may stay PENDING before the stale
	// sweep re-queries the provider.
	PendingMaxAge time.Duration
	// ExpireOnQueryError finalizes a stale card payment as EXPIRED when the
	// provider status query itself fails. Trades fund-loss risk for availability;
	// product signed off on the current value.
	ExpireOnQueryError bool
	// RateLockWindow is how long a quoted TON amount stays valid with no
	// matching transaction before the payment expires.
	RateLockWindow time.Duration
}

// LavaConfig for the card gateway (hosted checkout + HMAC-signed webhooks).
type LavaConfig struct {
	BaseURL       string
	ShopID        string
	APIKey        string
	WebhookSecret string
}

// StarsConfig for Telegram Stars payments through the Bot API.
type StarsConfig struct {
	BotToken string
	// WebhookSecret is the value Telegram echoes back in
	// X-Telegram-Bot-Api-Secret-Token on every update.
	WebhookSecret string
}

// TonConfig for the TON deposit rail. There is no push channel; the chain
// monitor sweep polls for incoming transactions.
type TonConfig struct {
	BaseURL       string
	APIKey        string
	WalletAddress string
	// MinTxAge: a matched transaction older than this is treated as fully
	// confirmed. Stands in for a confirmation-depth query.
	MinTxAge time.Duration
}

type SweepConfig struct {
	// Secret authenticates the external scheduler on /internal routes.
	Secret string
	// Budget bounds the wall-clock time of a single sweep run.
	Budget time.Duration
	// BatchSize caps rows examined per run.
	BatchSize int
	// StuckJobRunning: a RUNNING job silent for this long is failed and refunded.
	StuckJobRunning time.Duration
	// StuckJobQueued: a QUEUED job never started within this window is failed.
	StuckJobQueued time.Duration
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
	Enabled bool
}

type TelegramConfig struct {
	BotToken string
	Enabled  bool
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:          getEnv("PORT", "8099"),
			Env:           getEnv("ENV", "development"),
			ReadTimeout:   10 * time.Second,
			WriteTimeout:  10 * time.Second,
			ServiceSecret: getEnv("SERVICE_SECRET", ""),
		},
		Database: DatabaseConfig{
			DSN:             getEnv("DB_DSN", "lumora:lumora@tcp(localhost:3306)/lumora?charset=utf8mb4&parseTime=True&loc=Local"),
			MaxIdleConns:    10,
			MaxOpenConns:    100,
			ConnMaxLifetime: time.Hour,
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       0,
		},
		JWT: JWTConfig{
			AccessSecret:  getEnv("JWT_ACCESS_SECRET", "change-me-in-production"),
			RefreshSecret: getEnv("JWT_REFRESH_SECRET", "change-me-refresh"),
			AccessExpiry:  15 * time.Minute,
			RefreshExpiry: 168 * time.Hour,
			Issuer:        "lumora",
		},
		Payment: PaymentConfig{
			PendingMaxAge:      5 * time.Minute,
			ExpireOnQueryError: getEnvBool("CARD_EXPIRE_ON_QUERY_ERROR", true),
			RateLockWindow:     30 * time.Minute,
		},
		Lava: LavaConfig{
			BaseURL:       getEnv("LAVA_BASE_URL", "https://gate.lava.top"),
			ShopID:        getEnv("LAVA_SHOP_ID", ""),
			APIKey:        getEnv("LAVA_API_KEY", ""),
			WebhookSecret: getEnv("LAVA_WEBHOOK_SECRET", ""),
		},
		Stars: StarsConfig{
			BotToken:      getEnv("BOT_TOKEN", ""),
			WebhookSecret: getEnv("TG_WEBHOOK_SECRET", ""),
		},
		Ton: TonConfig{
			BaseURL:       getEnv("TON_API_BASE_URL", "https://toncenter.com/api/v2"),
			APIKey:        getEnv("TON_API_KEY", ""),
			WalletAddress: getEnv("TON_WALLET_ADDRESS", ""),
			MinTxAge:      60 * time.Second,
		},
		Sweep: SweepConfig{
			Secret:          getEnv("SWEEP_SECRET", ""),
			Budget:          60 * time.Second,
			BatchSize:       50,
			StuckJobRunning: 10 * time.Minute,
			StuckJobQueued:  15 * time.Minute,
		},
		Kafka: func() KafkaConfig {
			broker := getEnv("KAFKA_BROKER", "")
			return KafkaConfig{
				Brokers: []string{broker},
				Topic:   getEnv("KAFKA_TOPIC", "lumora.payments"),
				Enabled: broker != "",
			}
		}(),
		Telegram: func() TelegramConfig {
			token := getEnv("BOT_TOKEN", "")
			return TelegramConfig{BotToken: token, Enabled: token != ""}
		}(),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
