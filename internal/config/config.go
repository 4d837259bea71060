// Package config читает конфигурацию сервиса из переменных окружения.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrInvalidConfig — невалидное значение переменной окружения.
var ErrInvalidConfig = errors.New("invalid config")

// Хранилища runs.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Config — конфигурация tta-agent.
type Config struct {
	// Метаданные сервиса для /status.
	ServiceName string
	Version     string
	CommitSHA   string

	// API
	Port string

	// Logging
	LogLevel  string
	LogFormat string

	// Store
	Store string
	DBURL string

	// RabbitMQ; пусто — события run.finished не публикуются.
	RabbitMQURL string

	// Pipeline
	Pipeline       []string
	StepTimeout    time.Duration
	Async          bool
	RemoteAgentURL string

	// Retention
	RetentionTTL      time.Duration
	RetentionSchedule string
}

// Addr возвращает адрес HTTP сервера.
func (c *Config) Addr() string {
	return ":" + c.Port
}

// Load читает конфигурацию из окружения и проверяет её.
func Load() (*Config, error) {
	cfg := &Config{
		ServiceName:       getenv("SERVICE_NAME", "tta-agent"),
		Version:           getenv("VERSION", "dev"),
		CommitSHA:         getenv("COMMIT_SHA", "none"),
		Port:              getenv("API_PORT", "8080"),
		LogLevel:          getenv("LOG_LEVEL", "INFO"),
		LogFormat:         getenv("LOG_FORMAT", "json"),
		Store:             strings.ToLower(getenv("STORE", StoreMemory)),
		DBURL:             os.Getenv("DB_URL"),
		RabbitMQURL:       os.Getenv("RABBITMQ_URL"),
		Pipeline:          splitList(getenv("PIPELINE", "agentA,agentB,agentC")),
		RemoteAgentURL:    os.Getenv("REMOTE_AGENT_URL"),
		RetentionSchedule: getenv("RETENTION_SCHEDULE", "@every 10m"),
	}

	var errs []error

	var err error
	if cfg.StepTimeout, err = parseDuration("STEP_TIMEOUT", 0); err != nil {
		errs = append(errs, err)
	}
	if cfg.RetentionTTL, err = parseDuration("RETENTION_TTL", 24*time.Hour); err != nil {
		errs = append(errs, err)
	}
	if cfg.Async, err = parseBool("ASYNC", true); err != nil {
		errs = append(errs, err)
	}

	if err := cfg.validate(); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error

	if _, err := strconv.ParseUint(c.Port, 10, 16); err != nil {
		errs = append(errs, fmt.Errorf("%w: API_PORT=%q", ErrInvalidConfig, c.Port))
	}
	switch c.Store {
	case StoreMemory:
	case StorePostgres:
		if c.DBURL == "" {
			errs = append(errs, fmt.Errorf("%w: DB_URL is required for STORE=postgres", ErrInvalidConfig))
		}
	default:
		errs = append(errs, fmt.Errorf("%w: STORE=%q (want memory or postgres)", ErrInvalidConfig, c.Store))
	}
	if len(c.Pipeline) == 0 {
		errs = append(errs, fmt.Errorf("%w: PIPELINE is empty", ErrInvalidConfig))
	}
	if c.RetentionTTL <= 0 {
		errs = append(errs, fmt.Errorf("%w: RETENTION_TTL must be positive", ErrInvalidConfig))
	}
	if _, err := cron.ParseStandard(c.RetentionSchedule); err != nil {
		errs = append(errs, fmt.Errorf("%w: RETENTION_SCHEDULE=%q: %v", ErrInvalidConfig, c.RetentionSchedule, err))
	}
	return errors.Join(errs...)
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func parseDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("%w: %s=%q", ErrInvalidConfig, key, v)
	}
	return d, nil
}

func parseBool(key string, def bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%w: %s=%q", ErrInvalidConfig, key, v)
	}
	return b, nil
}

// splitList разбирает список через запятую, пропуская пустые элементы.
func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
