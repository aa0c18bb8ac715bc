// Package config 负责加载和管理应用程序的配置。
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	JWT           JWTConfig           `mapstructure:"jwt"`
	Log           LogConfig           `mapstructure:"log"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Inference     InferenceConfig     `mapstructure:"inference"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Reaper        ReaperConfig        `mapstructure:"reaper"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	Driver string      `mapstructure:"driver"` // postgres | mysql
	DSN    string      `mapstructure:"dsn"`
	Redis  RedisConfig `mapstructure:"redis"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// JWTConfig 存储 JWT 相关的配置。身份由外部认证服务签发，这里只做校验。
type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储 Kafka 相关的配置。
// 对象存储的 ObjectCreated 事件投递到 Topic，由消费者驱动处理管道。
type KafkaConfig struct {
	Brokers     string `mapstructure:"brokers"`
	Topic       string `mapstructure:"topic"`
	GroupID     string `mapstructure:"group_id"`
	MaxAttempts int    `mapstructure:"max_attempts"`
}

// StorageConfig 存储对象存储（MinIO 或 AWS S3）的配置。
type StorageConfig struct {
	Provider        string        `mapstructure:"provider"` // minio | s3
	Endpoint        string        `mapstructure:"endpoint"`
	Region          string        `mapstructure:"region"`
	AccessKeyID     string        `mapstructure:"access_key_id"`
	SecretAccessKey string        `mapstructure:"secret_access_key"`
	UseSSL          bool          `mapstructure:"use_ssl"`
	BucketName      string        `mapstructure:"bucket_name"`
	PresignExpiry   time.Duration `mapstructure:"presign_expiry"`
}

// InferenceConfig 存储视觉模型推理相关的配置。
type InferenceConfig struct {
	Provider    string        `mapstructure:"provider"` // openai | bedrock
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	Region      string        `mapstructure:"region"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// ElasticsearchConfig 存储营养条目检索索引的配置，Enabled 为 false 时不启用。
type ElasticsearchConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
}

// NotificationsConfig 存储对象存储 webhook 回调的共享密钥。
type NotificationsConfig struct {
	Token string `mapstructure:"token"`
}

// ReaperConfig 控制长期停留在非终态的记录的回收。
type ReaperConfig struct {
	Interval          time.Duration `mapstructure:"interval"`
	ProcessingTimeout time.Duration `mapstructure:"processing_timeout"`
	PendingTimeout    time.Duration `mapstructure:"pending_timeout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.redis.addr", "localhost:6379")
	v.SetDefault("kafka.topic", "nutrition-uploads")
	v.SetDefault("kafka.group_id", "nutri-snap-go-consumer")
	v.SetDefault("kafka.max_attempts", 3)
	v.SetDefault("storage.provider", "minio")
	v.SetDefault("storage.region", "us-west-2")
	v.SetDefault("storage.presign_expiry", time.Hour)
	v.SetDefault("inference.provider", "openai")
	v.SetDefault("inference.temperature", 0.1)
	v.SetDefault("inference.max_tokens", 1024)
	v.SetDefault("inference.timeout", 30*time.Second)
	v.SetDefault("elasticsearch.index_name", "food_nutrition")
	v.SetDefault("reaper.interval", time.Minute)
	v.SetDefault("reaper.processing_timeout", 10*time.Minute)
	v.SetDefault("reaper.pending_timeout", 2*time.Hour)
}

// Load 从指定路径读取 YAML 配置文件，并允许以 NUTRI_ 前缀的环境变量覆盖。
// 例如 NUTRI_DATABASE_DSN 覆盖 database.dsn。
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("NUTRI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 检查必填项和枚举取值。
func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case "postgres", "mysql":
	default:
		errs = append(errs, fmt.Errorf("database.driver 不支持: %q", c.Database.Driver))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn 不能为空"))
	}
	if c.JWT.Secret == "" {
		errs = append(errs, errors.New("jwt.secret 不能为空"))
	}
	switch c.Storage.Provider {
	case "minio", "s3":
	default:
		errs = append(errs, fmt.Errorf("storage.provider 不支持: %q", c.Storage.Provider))
	}
	if c.Storage.BucketName == "" {
		errs = append(errs, errors.New("storage.bucket_name 不能为空"))
	}
	switch c.Inference.Provider {
	case "openai", "bedrock":
	default:
		errs = append(errs, fmt.Errorf("inference.provider 不支持: %q", c.Inference.Provider))
	}
	if c.Inference.Timeout <= 0 {
		errs = append(errs, errors.New("inference.timeout 必须大于 0"))
	}
	if c.Kafka.Brokers == "" {
		errs = append(errs, errors.New("kafka.brokers 不能为空"))
	}
	return errors.Join(errs...)
}
