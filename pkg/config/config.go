package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	App       AppConfig
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Log       LogConfig
	Telemetry TelemetryConfig
	Channel   ChannelConfig
}

// AppConfig 应用配置
type AppConfig struct {
	Name         string
	Version      string
	JWTSecret    string
	SuperAdminID string // 可移除任意频道成员的超级管理员用户ID
}

// ServerConfig 服务器配置
type ServerConfig struct {
	HTTP HTTPConfig
}

// HTTPConfig HTTP服务配置
type HTTPConfig struct {
	Network string
	Addr    string
	Timeout time.Duration
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	MongoDB    MongoDBConfig
	PostgreSQL PostgreSQLConfig
}

// MongoDBConfig MongoDB配置
type MongoDBConfig struct {
	URI    string
	DBName string
}

// PostgreSQLConfig PostgreSQL配置，Enabled为false时不写审计日志
type PostgreSQLConfig struct {
	Enabled bool
	DSN     string
	DBName  string
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// KafkaConfig Kafka配置
type KafkaConfig struct {
	Enabled           bool
	Brokers           []string
	NotificationTopic string
}

// LogConfig 日志配置
type LogConfig struct {
	Level string
}

// TelemetryConfig 链路追踪配置
type TelemetryConfig struct {
	Enabled    bool
	SampleRate float64
}

// ChannelConfig 频道引擎配置
type ChannelConfig struct {
	StorageDriver    string // mongo | memory
	LockBackend      string // local | redis
	BroadcastBackend string // local | redis
	LockTTL          time.Duration
	OpTimeout        time.Duration
	ReportThreshold  int
	ConflictRetries  int
	UserCacheTTL     time.Duration
	WSSendBuffer     int
	MachineID        int64
}

const (
	StorageMongo  = "mongo"
	StorageMemory = "memory"
	BackendLocal  = "local"
	BackendRedis  = "redis"
)

// LoadConfig 从环境变量和可选的配置文件加载配置
func LoadConfig(serviceName string) (*Config, error) {
	v := viper.New()
	setDefaults(v, serviceName)
	v.AutomaticEnv()

	if file := v.GetString("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件失败 %s: %w", file, err)
		}
	}

	cfg := &Config{
		App: AppConfig{
			Name:         serviceName,
			Version:      v.GetString("APP_VERSION"),
			JWTSecret:    v.GetString("JWT_SECRET"),
			SuperAdminID: v.GetString("SUPER_ADMIN_ID"),
		},
		Server: ServerConfig{
			HTTP: HTTPConfig{
				Network: "tcp",
				Addr:    ":" + v.GetString("HTTP_PORT"),
				Timeout: v.GetDuration("HTTP_TIMEOUT"),
			},
		},
		Database: DatabaseConfig{
			MongoDB: MongoDBConfig{
				URI:    v.GetString("MONGODB_URI"),
				DBName: v.GetString("MONGODB_DB"),
			},
			PostgreSQL: PostgreSQLConfig{
				Enabled: v.GetBool("AUDIT_ENABLED"),
				DSN:     v.GetString("POSTGRESQL_DSN"),
				DBName:  v.GetString("POSTGRESQL_DB"),
			},
		},
		Redis: RedisConfig{
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		Kafka: KafkaConfig{
			Enabled:           v.GetBool("KAFKA_ENABLED"),
			Brokers:           splitList(v.GetString("KAFKA_BROKERS")),
			NotificationTopic: v.GetString("KAFKA_NOTIFICATION_TOPIC"),
		},
		Log: LogConfig{
			Level: v.GetString("LOG_LEVEL"),
		},
		Telemetry: TelemetryConfig{
			Enabled:    v.GetBool("TELEMETRY_ENABLED"),
			SampleRate: v.GetFloat64("TELEMETRY_SAMPLE_RATE"),
		},
		Channel: ChannelConfig{
			StorageDriver:    strings.ToLower(v.GetString("STORAGE_DRIVER")),
			LockBackend:      strings.ToLower(v.GetString("LOCK_BACKEND")),
			BroadcastBackend: strings.ToLower(v.GetString("BROADCAST_BACKEND")),
			LockTTL:          v.GetDuration("LOCK_TTL"),
			OpTimeout:        v.GetDuration("OP_TIMEOUT"),
			ReportThreshold:  v.GetInt("REPORT_THRESHOLD"),
			ConflictRetries:  v.GetInt("CONFLICT_RETRIES"),
			UserCacheTTL:     v.GetDuration("USER_CACHE_TTL"),
			WSSendBuffer:     v.GetInt("WS_SEND_BUFFER"),
			MachineID:        v.GetInt64("MACHINE_ID"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置取值
func (c *Config) Validate() error {
	switch c.Channel.StorageDriver {
	case StorageMongo, StorageMemory:
	default:
		return fmt.Errorf("不支持的存储驱动: %s", c.Channel.StorageDriver)
	}
	for name, backend := range map[string]string{
		"LOCK_BACKEND":      c.Channel.LockBackend,
		"BROADCAST_BACKEND": c.Channel.BroadcastBackend,
	} {
		if backend != BackendLocal && backend != BackendRedis {
			return fmt.Errorf("%s 取值无效: %s", name, backend)
		}
	}
	if c.Channel.ReportThreshold <= 0 {
		return fmt.Errorf("REPORT_THRESHOLD 必须大于0")
	}
	if c.Channel.ConflictRetries <= 0 {
		return fmt.Errorf("CONFLICT_RETRIES 必须大于0")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("启用Kafka时 KAFKA_BROKERS 不能为空")
	}
	return nil
}

func setDefaults(v *viper.Viper, serviceName string) {
	v.SetDefault("APP_VERSION", "1.0.0")
	v.SetDefault("JWT_SECRET", "focusandinsist")
	v.SetDefault("SUPER_ADMIN_ID", "")
	v.SetDefault("HTTP_PORT", "21010")
	v.SetDefault("HTTP_TIMEOUT", "30s")

	v.SetDefault("MONGODB_URI", "mongodb://localhost:27017")
	v.SetDefault("MONGODB_DB", serviceName+"DB")
	v.SetDefault("AUDIT_ENABLED", false)
	v.SetDefault("POSTGRESQL_DSN", "host=localhost user=postgres password=postgres dbname="+serviceName+"DB port=5432 sslmode=disable TimeZone=Asia/Shanghai")
	v.SetDefault("POSTGRESQL_DB", serviceName+"DB")

	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("KAFKA_ENABLED", false)
	v.SetDefault("KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("KAFKA_NOTIFICATION_TOPIC", "channel-notifications")

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("TELEMETRY_ENABLED", true)
	v.SetDefault("TELEMETRY_SAMPLE_RATE", 1.0)

	v.SetDefault("STORAGE_DRIVER", StorageMongo)
	v.SetDefault("LOCK_BACKEND", BackendLocal)
	v.SetDefault("BROADCAST_BACKEND", BackendLocal)
	v.SetDefault("LOCK_TTL", "10s")
	v.SetDefault("OP_TIMEOUT", "30s")
	v.SetDefault("REPORT_THRESHOLD", 10)
	v.SetDefault("CONFLICT_RETRIES", 5)
	v.SetDefault("USER_CACHE_TTL", "5m")
	v.SetDefault("WS_SEND_BUFFER", 256)
	v.SetDefault("MACHINE_ID", 1)
}

// splitList 按逗号拆分，去掉空白项
func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			result = append(result, p)
		}
	}
	return result
}
