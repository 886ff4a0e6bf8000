package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	ServerPort          string        `mapstructure:"SERVER_PORT" validate:"required"`
	LogLevel            string        `mapstructure:"LOG_LEVEL" validate:"oneof=debug info warn error"`
	CORSOrigins         string        `mapstructure:"CORS_ORIGINS" validate:"required"`
	PostgresURL         string        `mapstructure:"POSTGRES_URL"`
	RedisAddr           string        `mapstructure:"REDIS_ADDR" validate:"omitempty,hostname_port"`
	RedisPassword       string        `mapstructure:"REDIS_PASSWORD"`
	NATSURL             string        `mapstructure:"NATS_URL" validate:"omitempty,url"`
	NATSSubjectPrefix   string        `mapstructure:"NATS_SUBJECT_PREFIX" validate:"required"`
	SeedDemo            bool          `mapstructure:"SEED_DEMO"`
	SeedFile            string        `mapstructure:"SEED_FILE"`
	RealtimeErrorEvents bool          `mapstructure:"REALTIME_ERROR_EVENTS"`
	WSSendBuffer        int           `mapstructure:"WS_SEND_BUFFER" validate:"min=1"`
	MirrorQueueSize     int           `mapstructure:"MIRROR_QUEUE_SIZE" validate:"min=1"`
	ShutdownTimeout     time.Duration `mapstructure:"SHUTDOWN_TIMEOUT" validate:"gt=0"`
}

// Load reads .env (if present) and the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("SERVER_PORT", ":3000")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CORS_ORIGINS", "*")
	v.SetDefault("POSTGRES_URL", "")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("NATS_URL", "")
	v.SetDefault("NATS_SUBJECT_PREFIX", "tripshare")
	v.SetDefault("SEED_DEMO", true)
	v.SetDefault("SEED_FILE", "")
	v.SetDefault("REALTIME_ERROR_EVENTS", true)
	v.SetDefault("WS_SEND_BUFFER", 64)
	v.SetDefault("MIRROR_QUEUE_SIZE", 1024)
	v.SetDefault("SHUTDOWN_TIMEOUT", 5*time.Second)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SlogLevel maps LogLevel onto slog, defaulting to info.
func (c Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}
