package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	DBSource string `env:"DB_SOURCE" validate:"required"`
	Env      string `env:"ENVIRONMENT" env-default:"development" validate:"oneof=development staging production"`

	Server   ServerConfig
	Ledger   LedgerConfig
	Log      LogConfig
	Sweep    SweepConfig
	Redis    RedisConfig
	Telegram TelegramConfig
}

type ServerConfig struct {
	Port         string        `env:"SERVER_PORT"          env-default:"8080" validate:"required,numeric"`
	ReadTimeout  time.Duration `env:"SERVER_READ_TIMEOUT"  env-default:"10s"  validate:"gt=0"`
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" env-default:"15s"  validate:"gt=0"`
	IdleTimeout  time.Duration `env:"SERVER_IDLE_TIMEOUT"  env-default:"60s"  validate:"gt=0"`
}

type LedgerConfig struct {
	Mode      string        `env:"LEDGER_MODE"       env-default:"memory" validate:"oneof=rpc memory"`
	RPCURL    string        `env:"LEDGER_RPC_URL"    env-default:"http://127.0.0.1:8899" validate:"required,url"`
	ProgramID string        `env:"LEDGER_PROGRAM_ID" env-default:"TDoetY1LKXn5vxxgkpE3keKhpRvbwHV6a2ep2Lreqov" validate:"required"`
	Timeout   time.Duration `env:"LEDGER_TIMEOUT"    env-default:"5s" validate:"gt=0"`
}

type LogConfig struct {
	Level  string `env:"LOG_LEVEL"  env-default:"info" validate:"oneof=debug info warn error"`
	Format string `env:"LOG_FORMAT" env-default:"text" validate:"oneof=text json"`
}

type SweepConfig struct {
	Interval    time.Duration `env:"SWEEP_INTERVAL"       env-default:"15s" validate:"gt=0"`
	Batch       int           `env:"SWEEP_BATCH"          env-default:"50"  validate:"min=1,max=1000"`
	Concurrency int           `env:"SWEEP_CONCURRENCY"    env-default:"4"   validate:"min=1,max=64"`
	PendingTTL  time.Duration `env:"PENDING_TTL"          env-default:"30m" validate:"gt=0"`
	MaxAttempts int           `env:"CONFIRM_MAX_ATTEMPTS" env-default:"20"  validate:"min=1"`
}

type RedisConfig struct {
	Addr    string        `env:"REDIS_ADDR"`
	HoldTTL time.Duration `env:"HOLD_TTL" env-default:"2m" validate:"gt=0"`
}

type TelegramConfig struct {
	BotToken string `env:"TELEGRAM_BOT_TOKEN"`
	ChatID   int64  `env:"TELEGRAM_CHAT_ID"`
}

func (c *Config) MemoryLedger() bool {
	return c.Ledger.Mode == "memory"
}

// Load reads the configuration from the environment and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read env: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.Env == "production" && cfg.MemoryLedger() {
		return nil, fmt.Errorf("invalid configuration: LEDGER_MODE=memory is not allowed in production")
	}
	if strings.HasPrefix(cfg.DBSource, "sqlite") && cfg.Env == "production" {
		return nil, fmt.Errorf("invalid configuration: the SQLite store is for development only")
	}
	return &cfg, nil
}
