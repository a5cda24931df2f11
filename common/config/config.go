package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// DatabaseConfig 远端文档库（PostgreSQL）连接配置
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// RedisConfig Redis配置（本地缓存 / 持久队列 / 队列变更信号）
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// MQTTConfig 推送通道配置
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	QoS      byte
}

// GetDSN 获取数据库连接字符串（同时用于 database/sql 和 pq.Listener）
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// LoadFromEnv 从环境变量加载数据库配置，prefix 如 "DB"
func (c *DatabaseConfig) LoadFromEnv(prefix string) {
	if v := lookup(prefix, "HOST"); v != "" {
		c.Host = v
	}
	if v := lookup(prefix, "PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Port = port
		}
	}
	if v := lookup(prefix, "USER"); v != "" {
		c.User = v
	}
	if v := lookup(prefix, "PASSWORD"); v != "" {
		c.Password = v
	}
	if v := lookup(prefix, "NAME"); v != "" {
		c.Database = v
	}
	if v := lookup(prefix, "SSLMODE"); v != "" {
		c.SSLMode = v
	}
	if v := lookup(prefix, "MAX_CONNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxConns = n
		}
	}
	if v := lookup(prefix, "MAX_IDLE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxIdle = n
		}
	}
}

// LoadFromEnv 从环境变量加载Redis配置
func (c *RedisConfig) LoadFromEnv(prefix string) {
	if v := lookup(prefix, "ADDR"); v != "" {
		c.Addr = v
	}
	if v := lookup(prefix, "PASSWORD"); v != "" {
		c.Password = v
	}
	if v := lookup(prefix, "DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			c.DB = db
		}
	}
}

// LoadFromEnv 从环境变量加载MQTT配置
func (c *MQTTConfig) LoadFromEnv(prefix string) {
	if v := lookup(prefix, "BROKER"); v != "" {
		c.Broker = v
	}
	if v := lookup(prefix, "CLIENT_ID"); v != "" {
		c.ClientID = v
	}
	if v := lookup(prefix, "USERNAME"); v != "" {
		c.Username = v
	}
	if v := lookup(prefix, "PASSWORD"); v != "" {
		c.Password = v
	}
	if v := lookup(prefix, "QOS"); v != "" {
		if qos, err := strconv.Atoi(v); err == nil && qos >= 0 && qos <= 2 {
			c.QoS = byte(qos)
		}
	}
}

func lookup(prefix, key string) string {
	return strings.TrimSpace(os.Getenv(prefix + "_" + key))
}
