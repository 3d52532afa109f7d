package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestLoadConfigDefaults 未设置环境变量时使用默认值
func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("channel-service")
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	if cfg.Server.HTTP.Addr != ":21010" {
		t.Errorf("默认HTTP地址错误: %s", cfg.Server.HTTP.Addr)
	}
	if cfg.Channel.ReportThreshold != 10 {
		t.Errorf("默认举报阈值应为10，实际为 %d", cfg.Channel.ReportThreshold)
	}
	if cfg.Channel.ConflictRetries != 5 {
		t.Errorf("默认冲突重试次数应为5，实际为 %d", cfg.Channel.ConflictRetries)
	}
	if cfg.Channel.StorageDriver != StorageMongo || cfg.Channel.LockBackend != BackendLocal {
		t.Errorf("默认后端错误: %+v", cfg.Channel)
	}
	if cfg.Database.MongoDB.DBName != "channel-serviceDB" {
		t.Errorf("默认数据库名错误: %s", cfg.Database.MongoDB.DBName)
	}
	if cfg.Kafka.NotificationTopic != "channel-notifications" {
		t.Errorf("默认通知主题错误: %s", cfg.Kafka.NotificationTopic)
	}
}

// TestLoadConfigFromEnv 环境变量覆盖默认值
func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("HTTP_PORT", "8080")
	t.Setenv("REPORT_THRESHOLD", "3")
	t.Setenv("STORAGE_DRIVER", "MEMORY")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("OP_TIMEOUT", "5s")
	t.Setenv("SUPER_ADMIN_ID", "root")

	cfg, err := LoadConfig("channel-service")
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	if cfg.Server.HTTP.Addr != ":8080" {
		t.Errorf("HTTP地址错误: %s", cfg.Server.HTTP.Addr)
	}
	if cfg.Channel.ReportThreshold != 3 {
		t.Errorf("举报阈值错误: %d", cfg.Channel.ReportThreshold)
	}
	if cfg.Channel.StorageDriver != StorageMemory {
		t.Errorf("存储驱动错误: %s", cfg.Channel.StorageDriver)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Errorf("Kafka地址解析错误: %v", cfg.Kafka.Brokers)
	}
	if cfg.Channel.OpTimeout != 5*time.Second {
		t.Errorf("操作超时错误: %v", cfg.Channel.OpTimeout)
	}
	if cfg.App.SuperAdminID != "root" {
		t.Errorf("超级管理员错误: %s", cfg.App.SuperAdminID)
	}
}

// TestLoadConfigFile 配置文件中的值生效，环境变量优先
func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "channel.yaml")
	content := "report_threshold: 7\nlock_backend: redis\nredis_addr: cache:6379\n"
	if err := os.WriteFile(file, []byte(content), 0o600); err != nil {
		t.Fatalf("写入配置文件失败: %v", err)
	}
	t.Setenv("CONFIG_FILE", file)
	t.Setenv("REDIS_ADDR", "override:6379")

	cfg, err := LoadConfig("channel-service")
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	if cfg.Channel.ReportThreshold != 7 {
		t.Errorf("配置文件中的阈值未生效: %d", cfg.Channel.ReportThreshold)
	}
	if cfg.Channel.LockBackend != BackendRedis {
		t.Errorf("配置文件中的锁后端未生效: %s", cfg.Channel.LockBackend)
	}
	if cfg.Redis.Addr != "override:6379" {
		t.Errorf("环境变量应覆盖配置文件: %s", cfg.Redis.Addr)
	}
}

// TestLoadConfigInvalid 非法取值返回错误
func TestLoadConfigInvalid(t *testing.T) {
	cases := map[string]string{
		"STORAGE_DRIVER":    "sqlite",
		"LOCK_BACKEND":      "etcd",
		"BROADCAST_BACKEND": "nats",
		"REPORT_THRESHOLD":  "0",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			if _, err := LoadConfig("channel-service"); err == nil {
				t.Errorf("%s=%s 应当返回错误", key, value)
			}
		})
	}
}
