package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"

	"github.com/shaiso/mediaflow/internal/domain"
	"github.com/shaiso/mediaflow/internal/mq"
	"github.com/shaiso/mediaflow/internal/repo"
	"github.com/shaiso/mediaflow/internal/sweeper"
)

// EnvConfigPath — переменная окружения с путём к TOML-файлу.
const EnvConfigPath = "MEDIAFLOW_CONFIG"

// Config — конфигурация всех бинарников mediaflow.
type Config struct {
	Database DatabaseConfig `toml:"database"`
	RabbitMQ RabbitMQConfig `toml:"rabbitmq"`
	API      APIConfig      `toml:"api"`
	Worker   WorkerConfig   `toml:"worker"`
	Sweeper  SweeperConfig  `toml:"sweeper"`

	// Flows — определения flow. Пусто — встроенные label-detection и transcode.
	Flows []FlowConfig `toml:"flows"`

	// Steps — таблица маршрутизации: тип шага → сервис.
	Steps map[string]StepConfig `toml:"steps"`
}

// DatabaseConfig — подключение к PostgreSQL.
type DatabaseConfig struct {
	URL      string `toml:"url"`
	MaxConns int32  `toml:"max_conns"`
}

// RabbitMQConfig — подключение к брокеру.
type RabbitMQConfig struct {
	URL string `toml:"url"`
}

// APIConfig — HTTP API.
type APIConfig struct {
	Port int `toml:"port"`
}

// WorkerConfig — worker и оркестратор.
type WorkerConfig struct {
	Port               int `toml:"port"`
	Concurrency        int `toml:"concurrency"`
	BatchSize          int `toml:"batch_size"`
	PollIntervalSec    int `toml:"poll_interval_sec"`
	MaxConflictRetries int `toml:"max_conflict_retries"`
	ReportTimeoutSec   int `toml:"report_timeout_sec"`
}

// SweeperConfig — обслуживание очереди.
type SweeperConfig struct {
	Port          int    `toml:"port"`
	Schedule      string `toml:"schedule"`
	StaleAfterSec int    `toml:"stale_after_sec"`
	LockPath      string `toml:"lock_path"`
}

// FlowConfig — определение flow в TOML.
type FlowConfig struct {
	Name             string             `toml:"name"`
	Steps            []string           `toml:"steps"`
	Policy           string             `toml:"policy"`
	IndependentSteps []string           `toml:"independent_steps"`
	Retry            domain.RetryPolicy `toml:"retry"`

	// Inputs — шаблоны input по типу шага.
	Inputs map[string]map[string]any `toml:"inputs"`
}

// StepConfig — маршрут шага к внешнему сервису.
type StepConfig struct {
	Endpoint      string            `toml:"endpoint"`
	Method        string            `toml:"method"`
	TimeoutSec    int               `toml:"timeout_sec"`
	DedupEntities bool              `toml:"dedup_entities"`
	Headers       map[string]string `toml:"headers"`
}

// Default возвращает конфигурацию по умолчанию.
func Default() Config {
	return Config{
		Database: DatabaseConfig{URL: repo.DefaultDSN, MaxConns: 10},
		RabbitMQ: RabbitMQConfig{URL: mq.DefaultURL()},
		API:      APIConfig{Port: 8080},
		Worker: WorkerConfig{
			Port:               8082,
			Concurrency:        4,
			BatchSize:          50,
			PollIntervalSec:    10,
			MaxConflictRetries: 10,
			ReportTimeoutSec:   3,
		},
		Sweeper: SweeperConfig{
			Port:          8081,
			Schedule:      sweeper.DefaultSchedule,
			StaleAfterSec: int(sweeper.DefaultStaleAfter.Seconds()),
		},
		Steps: map[string]StepConfig{},
	}
}

// Load собирает конфигурацию.
//
// 1. .env в текущей директории (если есть)
// 2. Значения по умолчанию
// 3. TOML-файл: path или $MEDIAFLOW_CONFIG (если задан)
// 4. Переменные окружения
// 5. Валидация
func Load(path string) (*Config, error) {
	// 1. .env
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	// 2. Defaults
	cfg := Default()

	// 3. TOML
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		if err := cfg.decodeFile(path); err != nil {
			return nil, err
		}
	}

	// 4. Env overrides
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	// 5. Validate
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) decodeFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := toml.NewDecoder(file)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// applyEnv переопределяет значения из переменных окружения.
func (c *Config) applyEnv() error {
	if v := os.Getenv("DB_URL"); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv("RABBITMQ_URL"); v != "" {
		c.RabbitMQ.URL = v
	}
	if v := os.Getenv("SWEEPER_SCHEDULE"); v != "" {
		c.Sweeper.Schedule = v
	}

	ports := []struct {
		env  string
		dest *int
	}{
		{"API_PORT", &c.API.Port},
		{"WORKER_PORT", &c.Worker.Port},
		{"SWEEPER_PORT", &c.Sweeper.Port},
		{"WORKER_CONCURRENCY", &c.Worker.Concurrency},
	}
	for _, p := range ports {
		v := os.Getenv(p.env)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not a number", ErrInvalidConfig, p.env, v)
		}
		*p.dest = n
	}

	return nil
}
