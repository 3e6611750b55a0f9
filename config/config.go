package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config 服务全局配置
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Log        LogConfig        `mapstructure:"log"`
	Feed       FeedConfig       `mapstructure:"feed"`
	Heater     HeaterConfig     `mapstructure:"heater"`
	Engagement EngagementConfig `mapstructure:"engagement"`
	Fanout     FanoutConfig     `mapstructure:"fanout"`
	JWT        JWTConfig        `mapstructure:"jwt"`
	Sentry     SentryConfig     `mapstructure:"sentry"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
}

type ServerConfig struct {
	Port           int           `mapstructure:"port" validate:"min=1,max=65535"`
	Mode           string        `mapstructure:"mode" validate:"oneof=debug release test"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" validate:"gt=0"`
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver" validate:"oneof=postgres sqlite"`
	DSN          string `mapstructure:"dsn" validate:"required"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	AutoMigrate  bool   `mapstructure:"auto_migrate"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json console"`
}

// FeedConfig 新闻流核心参数
type FeedConfig struct {
	// Backend 选择索引与实体缓存的存储: redis 或 memory（单机调试）
	Backend       string        `mapstructure:"backend" validate:"oneof=redis memory"`
	PageSize      int           `mapstructure:"page_size" validate:"min=1,max=200"`
	HeatBatchSize int           `mapstructure:"heat_batch_size" validate:"min=1"`
	CacheTTL      time.Duration `mapstructure:"cache_ttl"`
	IndexTTL      time.Duration `mapstructure:"index_ttl"`
	CoalesceLoads bool          `mapstructure:"coalesce_loads"`
}

// HeaterConfig 预热触发相关配置
type HeaterConfig struct {
	Workers   int    `mapstructure:"workers" validate:"min=1"`
	QueueSize int    `mapstructure:"queue_size" validate:"min=1"`
	Stream    string `mapstructure:"stream"`
	Group     string `mapstructure:"group"`
	Consumer  string `mapstructure:"consumer"`
	// Cron 为空则不启用定时全量预热
	Cron string `mapstructure:"cron"`
}

// EngagementConfig 点赞/浏览事件流；无 redis 时同步落库
type EngagementConfig struct {
	Stream   string `mapstructure:"stream"`
	Group    string `mapstructure:"group"`
	Consumer string `mapstructure:"consumer"`
}

type FanoutConfig struct {
	Workers      int           `mapstructure:"workers"`
	BatchSize    int           `mapstructure:"batch_size"`
	ClaimLimit   int           `mapstructure:"claim_limit"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret" validate:"required"`
}

type SentryConfig struct {
	DSN         string `mapstructure:"dsn"`
	Environment string `mapstructure:"environment"`
}

type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Endpoint    string `mapstructure:"endpoint" validate:"required_if=Enabled true"`
	ServiceName string `mapstructure:"service_name"`
}

type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.request_timeout", 3*time.Second)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.dsn", "host=localhost user=postgres password=postgres dbname=postgres port=5434 sslmode=disable")
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.addr", "localhost:6380")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("feed.backend", "redis")
	v.SetDefault("feed.page_size", 20)
	v.SetDefault("feed.heat_batch_size", 500)
	v.SetDefault("feed.cache_ttl", 24*time.Hour)
	v.SetDefault("feed.index_ttl", 72*time.Hour)
	v.SetDefault("feed.coalesce_loads", true)

	v.SetDefault("heater.workers", 4)
	v.SetDefault("heater.queue_size", 10000)
	v.SetDefault("heater.stream", "feed:heat")
	v.SetDefault("heater.group", "feed-heater")
	v.SetDefault("heater.consumer", "heater-1")

	v.SetDefault("engagement.stream", "feed:engagement")
	v.SetDefault("engagement.group", "feed-engagement")
	v.SetDefault("engagement.consumer", "engagement-1")

	v.SetDefault("fanout.workers", 4)
	v.SetDefault("fanout.batch_size", 500)
	v.SetDefault("fanout.claim_limit", 128)
	v.SetDefault("fanout.poll_interval", 50*time.Millisecond)

	v.SetDefault("jwt.secret", "change-me")
	v.SetDefault("tracing.service_name", "newsfeed")
	v.SetDefault("rate_limit.rps", 100.0)
	v.SetDefault("rate_limit.burst", 200)
}

// Load 读取 config.yaml 并叠加 NEWSFEED_ 前缀的环境变量
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("NEWSFEED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// 没有配置文件时只用默认值 + 环境变量
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 校验配置取值范围
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
