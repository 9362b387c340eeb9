// Package config 載入服務配置
//
// 來源依序覆蓋：Default() → YAML 檔 → TYPETRIAL_ 前綴的環境變數 → DATABASE_URL。
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/koopa0/typetrial/internal/events"
	"github.com/koopa0/typetrial/internal/race"
	"github.com/koopa0/typetrial/internal/ws"
)

// EnvPrefix 環境變數前綴，例如 TYPETRIAL_SERVER_PORT
const EnvPrefix = "TYPETRIAL"

// Config 整個應用的配置
type Config struct {
	Server struct {
		Port            int           `yaml:"port" validate:"min=1,max=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" split_words:"true" validate:"gt=0"`
		WriteTimeout    time.Duration `yaml:"write_timeout" split_words:"true" validate:"gt=0"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" split_words:"true" validate:"gt=0"`
	} `yaml:"server"`

	Postgres struct {
		Host     string `yaml:"host" validate:"required"`
		Port     int    `yaml:"port" validate:"min=1,max=65535"`
		User     string `yaml:"user" validate:"required"`
		Password string `yaml:"password"`
		DBName   string `yaml:"dbname" validate:"required"`
		MaxConns int32  `yaml:"max_conns" split_words:"true" validate:"min=1"`
		MinConns int32  `yaml:"min_conns" split_words:"true" validate:"min=0,ltefield=MaxConns"`
		// 由 DATABASE_URL 覆蓋時填入
		URL string `yaml:"url"`
	} `yaml:"postgres"`

	Redis struct {
		Addr         string        `yaml:"addr" validate:"required"`
		Password     string        `yaml:"password"`
		DB           int           `yaml:"db" validate:"min=0"`
		PoolSize     int           `yaml:"pool_size" split_words:"true" validate:"min=1"`
		MinIdleConns int           `yaml:"min_idle_conns" split_words:"true" validate:"min=0"`
		ReadTimeout  time.Duration `yaml:"read_timeout" split_words:"true" validate:"gt=0"`
		WriteTimeout time.Duration `yaml:"write_timeout" split_words:"true" validate:"gt=0"`
		UserCacheTTL time.Duration `yaml:"user_cache_ttl" split_words:"true" validate:"gt=0"`
	} `yaml:"redis"`

	NATS struct {
		Enabled       bool `yaml:"enabled"`
		events.Config `yaml:",inline"`
	} `yaml:"nats"`

	Race race.Config `yaml:"race"`

	WebSocket ws.Config `yaml:"websocket"`

	Log struct {
		Level  string `yaml:"level" validate:"oneof=debug info warn warning error"`
		Format string `yaml:"format" validate:"oneof=text json"`
	} `yaml:"log"`
}

// Default 返回完整的預設配置
func Default() Config {
	var c Config

	c.Server.Port = 8080
	c.Server.ReadTimeout = 10 * time.Second
	c.Server.WriteTimeout = 10 * time.Second
	c.Server.ShutdownTimeout = 15 * time.Second

	c.Postgres.Host = "localhost"
	c.Postgres.Port = 5432
	c.Postgres.User = "postgres"
	c.Postgres.Password = "postgres"
	c.Postgres.DBName = "typetrial"
	c.Postgres.MaxConns = 10
	c.Postgres.MinConns = 2

	c.Redis.Addr = "localhost:6379"
	c.Redis.PoolSize = 10
	c.Redis.MinIdleConns = 2
	c.Redis.ReadTimeout = 3 * time.Second
	c.Redis.WriteTimeout = 3 * time.Second
	c.Redis.UserCacheTTL = time.Minute

	c.NATS.Config = events.DefaultConfig()
	c.NATS.URL = "nats://localhost:4222"

	c.Race = race.DefaultConfig()
	c.WebSocket = ws.DefaultConfig()

	c.Log.Level = "info"
	c.Log.Format = "text"

	return c
}

// Load 讀取配置檔並套用環境變數
//
// path 為空或檔案不存在時只用預設值與環境變數。
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("apply environment: %w", err)
	}

	// 生產環境常用
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		cfg.Postgres.URL = dsn
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate 檢查配置
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := c.Race.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.WebSocket.PingPeriod >= c.WebSocket.PongWait {
		return fmt.Errorf("invalid config: websocket.ping_period (%s) must be less than pong_wait (%s)",
			c.WebSocket.PingPeriod, c.WebSocket.PongWait)
	}
	if c.WebSocket.SendBuffer <= 0 || c.WebSocket.MaxMessageSize <= 0 {
		return errors.New("invalid config: websocket.send_buffer and max_message_size must be positive")
	}
	if c.WebSocket.RateCapacity <= 0 || c.WebSocket.RateRefill <= 0 {
		return errors.New("invalid config: websocket rate limit must be positive")
	}
	if c.NATS.Enabled && (c.NATS.URL == "" || c.NATS.StreamName == "" || c.NATS.SubjectPrefix == "") {
		return errors.New("invalid config: nats.url, stream_name and subject_prefix are required when enabled")
	}
	return nil
}

// PostgresDSN 生成 PostgreSQL 連線字串
func (c Config) PostgresDSN() string {
	if c.Postgres.URL != "" {
		return c.Postgres.URL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Postgres.User,
		c.Postgres.Password,
		c.Postgres.Host,
		c.Postgres.Port,
		c.Postgres.DBName,
	)
}

// Addr HTTP 監聽位址
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}
