package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Search    SearchConfig    `mapstructure:"search"`
	Mail      MailConfig      `mapstructure:"mail"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Feed      FeedConfig      `mapstructure:"feed"`
	Log       LogConfig       `mapstructure:"log"`
	Sentry    SentryConfig    `mapstructure:"sentry"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	NATS      NATSConfig      `mapstructure:"nats"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Avatar    AvatarConfig    `mapstructure:"avatar"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"` // debug, release, test
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// 邮件中链接使用的外部地址
	PublicURL string `mapstructure:"public_url"`
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"` // postgres, sqlite
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	LogLevel     string `mapstructure:"log_level"` // silent, error, warn, info
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// SearchConfig 搜索后端配置，ElasticsearchURL 为空表示不启用搜索
type SearchConfig struct {
	ElasticsearchURL string        `mapstructure:"elasticsearch_url"`
	IndexPrefix      string        `mapstructure:"index_prefix"`
	SyncTimeout      time.Duration `mapstructure:"sync_timeout"`
	ReindexBatch     int           `mapstructure:"reindex_batch"`
	ReindexWorkers   int           `mapstructure:"reindex_workers"`
}

type MailConfig struct {
	Server    string   `mapstructure:"server"`
	Port      int      `mapstructure:"port"`
	UseTLS    bool     `mapstructure:"use_tls"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	Sender    string   `mapstructure:"sender"`
	Admins    []string `mapstructure:"admins"`
	QueueSize int      `mapstructure:"queue_size"`
	Workers   int      `mapstructure:"workers"`
}

type JWTConfig struct {
	Secret    string        `mapstructure:"secret"`
	AccessTTL time.Duration `mapstructure:"access_ttl"`
	ResetTTL  time.Duration `mapstructure:"reset_ttl"`
}

type FeedConfig struct {
	PostsPerPage int `mapstructure:"posts_per_page"`
}

type LogConfig struct {
	Level    string `mapstructure:"level"`
	ToStdout bool   `mapstructure:"to_stdout"`
	File     string `mapstructure:"file"`
}

type SentryConfig struct {
	DSN         string `mapstructure:"dsn"`
	Environment string `mapstructure:"environment"`
}

type TracingConfig struct {
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"service_name"`
}

// NATSConfig URL 为空时 outbox 事件只记录日志
type NATSConfig struct {
	URL           string        `mapstructure:"url"`
	RelayWorkers  int           `mapstructure:"relay_workers"`
	RelayBatch    int           `mapstructure:"relay_batch"`
	RelayInterval time.Duration `mapstructure:"relay_interval"`
}

type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

type AvatarConfig struct {
	// available: mp, identicon, monsterid, wavatar, retro, robohash, blank
	Style string `mapstructure:"style"`
}

// 仅用于本地开发，release 模式下必须覆盖
const defaultSecret = "microblog-dev-secret"

// 兼容旧部署使用的环境变量名
var legacyEnv = map[string]string{
	"jwt.secret":               "SECRET_KEY",
	"database.dsn":             "DATABASE_URL",
	"mail.server":              "MAIL_SERVER",
	"mail.port":                "MAIL_PORT",
	"mail.use_tls":             "MAIL_USE_TLS",
	"mail.username":            "MAIL_USERNAME",
	"mail.password":            "MAIL_PASSWORD",
	"search.elasticsearch_url": "ELASTICSEARCH_URL",
	"log.to_stdout":            "LOG_TO_STDOUT",
	"redis.addr":               "REDIS_ADDR",
	"nats.url":                 "NATS_URL",
	"sentry.dsn":               "SENTRY_DSN",
	"tracing.endpoint":         "OTEL_EXPORTER_OTLP_ENDPOINT",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.public_url", "http://localhost:8080")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "app.db")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("search.elasticsearch_url", "")
	v.SetDefault("search.index_prefix", "")
	v.SetDefault("search.sync_timeout", 5*time.Second)
	v.SetDefault("search.reindex_batch", 500)
	v.SetDefault("search.reindex_workers", 4)

	v.SetDefault("mail.server", "")
	v.SetDefault("mail.port", 25)
	v.SetDefault("mail.use_tls", false)
	v.SetDefault("mail.username", "")
	v.SetDefault("mail.password", "")
	v.SetDefault("mail.sender", "")
	v.SetDefault("mail.admins", []string{"test@mail.com"})
	v.SetDefault("mail.queue_size", 1000)
	v.SetDefault("mail.workers", 2)

	v.SetDefault("jwt.secret", defaultSecret)
	v.SetDefault("jwt.access_ttl", 24*time.Hour)
	v.SetDefault("jwt.reset_ttl", 15*time.Minute)

	v.SetDefault("feed.posts_per_page", 10)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.to_stdout", false)
	v.SetDefault("log.file", "logs/microblog.log")

	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.environment", "development")

	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.service_name", "microblog")

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.relay_workers", 2)
	v.SetDefault("nats.relay_batch", 64)
	v.SetDefault("nats.relay_interval", 500*time.Millisecond)

	v.SetDefault("rate_limit.rps", 5)
	v.SetDefault("rate_limit.burst", 10)

	v.SetDefault("avatar.style", "retro")
}

// Load 读取配置：默认值 < config.yaml < 环境变量
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path := os.Getenv("MICROBLOG_CONFIG"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix("MICROBLOG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		if err := v.BindEnv(key, "MICROBLOG_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.Mail.Sender == "" && len(cfg.Mail.Admins) > 0 {
		cfg.Mail.Sender = cfg.Mail.Admins[0]
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 校验关键配置项
func (c *Config) Validate() error {
	if c.Feed.PostsPerPage <= 0 {
		return fmt.Errorf("feed.posts_per_page must be positive, got %d", c.Feed.PostsPerPage)
	}
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.JWT.Secret == "" {
		return errors.New("jwt.secret must not be empty")
	}
	if c.JWT.Secret == defaultSecret && c.Server.Mode == "release" {
		return errors.New("jwt.secret must be set explicitly in release mode")
	}
	return nil
}

// Addr 返回 HTTP 监听地址
func (c *Config) Addr() string { return fmt.Sprintf(":%d", c.Server.Port) }
