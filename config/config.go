// Package config loads the server settings from the environment.
package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

type Config struct {
	HTTPAddr string `env:"HTTP_ADDR,default=:8080" validate:"required"`

	DBDriver string `env:"DB_DRIVER,default=sqlite" validate:"oneof=mysql sqlite"`
	DBDSN    string `env:"DB_DSN,required=true" validate:"required"`

	// An empty RedisAddr keeps fan-out in process.
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB,default=0" validate:"gte=0"`

	JWTSecret string        `env:"JWT_SECRET,required=true" validate:"required,min=16"`
	JWTIssuer string        `env:"JWT_ISSUER,default=chatgate" validate:"required"`
	TokenTTL  time.Duration `env:"TOKEN_TTL,default=24h" validate:"gt=0"`

	LogLevel  string `env:"LOG_LEVEL,default=info"`
	LogPretty bool   `env:"LOG_PRETTY,default=false"`

	WSSendBuffer  int           `env:"WS_SEND_BUFFER,default=64" validate:"gt=0"`
	WSReadLimit   int64         `env:"WS_READ_LIMIT,default=65536" validate:"gt=0"`
	WSPongWait    time.Duration `env:"WS_PONG_WAIT,default=60s" validate:"gt=0"`
	WSAuthTimeout time.Duration `env:"WS_AUTH_TIMEOUT,default=10s" validate:"gt=0"`
}

// Load reads a .env file if present, then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Config{}, fmt.Errorf("config error: %w", err)
	}
	cfg.DBDriver = strings.ToLower(strings.TrimSpace(cfg.DBDriver))
	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	if _, err := zerolog.ParseLevel(cfg.LogLevel); err != nil {
		return Config{}, fmt.Errorf("invalid LOG_LEVEL %q: %w", cfg.LogLevel, err)
	}
	return cfg, nil
}

// Logger builds the root logger. Pretty output is meant for development.
func (c Config) Logger(out io.Writer) zerolog.Logger {
	if out == nil {
		out = os.Stdout
	}
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	if c.LogPretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Str("service", "chatgate").Logger()
}
