package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"bloodbank-sync/common/config"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

const pingTimeout = 5 * time.Second

// NewPostgresDB 创建PostgreSQL数据库连接
func NewPostgresDB(ctx context.Context, cfg *config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	}
	if cfg.MaxIdle > 0 {
		db.SetMaxIdleConns(cfg.MaxIdle)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// NewListener 创建 LISTEN/NOTIFY 监听连接（实时快照订阅使用）
func NewListener(cfg *config.DatabaseConfig, logger *zap.Logger) *pq.Listener {
	return pq.NewListener(cfg.GetDSN(), 2*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnected:
			logger.Info("Postgres listener connected")
		case pq.ListenerEventDisconnected:
			logger.Warn("Postgres listener disconnected", zap.Error(err))
		case pq.ListenerEventReconnected:
			logger.Info("Postgres listener reconnected")
		case pq.ListenerEventConnectionAttemptFailed:
			logger.Warn("Postgres listener connection attempt failed", zap.Error(err))
		}
	})
}

// Close 关闭数据库连接
func Close(db *sql.DB) error {
	if db != nil {
		return db.Close()
	}
	return nil
}
