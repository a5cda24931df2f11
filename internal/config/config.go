package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"bloodbank-sync/common/config"
)

// Config 血库看板同步服务配置
type Config struct {
	Database config.DatabaseConfig
	Redis    config.RedisConfig
	MQTT     config.MQTTConfig

	// 看板同步引擎
	Dashboard struct {
		CacheFreshness    time.Duration // 缓存新鲜窗口，默认 5 分钟
		SecondaryInterval time.Duration // 次要数据定时刷新间隔，默认 5 分钟
		IdleTimeout       time.Duration // 空闲调度超时，主数据 2s，次要数据在此基础上翻倍
		HistoryLimit      int           // 预约/捐献一次性查询条数上限
	}

	Cache struct {
		KeyPrefix string        // 如 "dashboard:cache:"
		TTL       time.Duration // 0 表示不过期
	}

	// 持久消息队列
	Queue struct {
		Backend      string // redis | file
		RedisKey     string
		FilePath     string
		SignalStream string // 队列变更信号 stream
		SignalGroup  string
		Consumer     string
	}

	// 通知桥接
	Notify struct {
		AllowedRoles []string
		TopicPrefix  string // 推送主题前缀，如 "bloodbank/push/"
	}

	HTTP struct {
		Addr string
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Database.Host = "localhost"
	cfg.Database.Port = 5432
	cfg.Database.User = "postgres"
	cfg.Database.Password = "postgres"
	cfg.Database.Database = "bloodbank"
	cfg.Database.SSLMode = "disable"
	cfg.Database.MaxConns = 10
	cfg.Database.MaxIdle = 5
	cfg.Database.LoadFromEnv("DB")

	cfg.Redis.Addr = "localhost:6379"
	cfg.Redis.LoadFromEnv("REDIS")

	cfg.MQTT.Broker = "tcp://localhost:1883"
	cfg.MQTT.ClientID = "bloodbank-sync"
	cfg.MQTT.QoS = 1
	cfg.MQTT.LoadFromEnv("MQTT")

	var err error
	if cfg.Dashboard.CacheFreshness, err = getDuration("DASHBOARD_CACHE_FRESHNESS", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.Dashboard.SecondaryInterval, err = getDuration("DASHBOARD_SECONDARY_INTERVAL", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.Dashboard.IdleTimeout, err = getDuration("DASHBOARD_IDLE_TIMEOUT", 2*time.Second); err != nil {
		return nil, err
	}
	if cfg.Dashboard.HistoryLimit, err = getInt("DASHBOARD_HISTORY_LIMIT", 100); err != nil {
		return nil, err
	}

	cfg.Cache.KeyPrefix = getEnv("CACHE_KEY_PREFIX", "dashboard:cache:")
	if cfg.Cache.TTL, err = getDuration("CACHE_TTL", 24*time.Hour); err != nil {
		return nil, err
	}

	cfg.Queue.Backend = strings.ToLower(getEnv("PUSH_QUEUE_BACKEND", "redis"))
	cfg.Queue.RedisKey = getEnv("PUSH_QUEUE_KEY", "push:queue:default")
	cfg.Queue.FilePath = getEnv("PUSH_QUEUE_FILE", "/var/lib/bloodbank-sync/push-queue.json")
	cfg.Queue.SignalStream = getEnv("PUSH_QUEUE_STREAM", "push:queue:events")
	cfg.Queue.SignalGroup = getEnv("PUSH_QUEUE_GROUP", "bloodbank-sync-group")
	cfg.Queue.Consumer = getEnv("PUSH_QUEUE_CONSUMER", hostnameOr("bloodbank-sync-1"))

	cfg.Notify.AllowedRoles = splitList(getEnv("NOTIFY_ALLOWED_ROLES", "bloodbank,admin"))
	cfg.Notify.TopicPrefix = getEnv("NOTIFY_TOPIC_PREFIX", "bloodbank/push/")

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8080")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

// AllowedRoleSet 允许接收通知的角色集合
func (c *Config) AllowedRoleSet() map[string]bool {
	set := make(map[string]bool, len(c.Notify.AllowedRoles))
	for _, r := range c.Notify.AllowedRoles {
		set[r] = true
	}
	return set
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getInt(key string, defaultValue int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.ToLower(strings.TrimSpace(part)); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func hostnameOr(fallback string) string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return fallback
}
