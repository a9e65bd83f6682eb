package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"newsdesk/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"
)

const pingTimeout = 5 * time.Second

// Connect 打开媒体目录数据库。容器编排下数据库可能晚于服务就绪，
// ping 失败时按 DB_CONNECT_ATTEMPTS 线性退避重试。
func Connect(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*sql.DB, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	db, err := sql.Open("pgx", cfg.PostgresDSN())
	if err != nil {
		return nil, fmt.Errorf("open media catalog: %w", err)
	}

	maxOpen := cfg.DBMaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 10
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen / 2)
	db.SetConnMaxIdleTime(5 * time.Minute)

	attempts := max(cfg.DBConnectAttempts, 1)
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = ping(ctx, db); err == nil {
			return db, nil
		}
		if attempt == attempts {
			break
		}
		log.Warn().Err(err).Int("attempt", attempt).Msg("media catalog not reachable, retrying")
		select {
		case <-ctx.Done():
			_ = db.Close()
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt) * time.Second):
		}
	}

	_ = db.Close()
	return nil, fmt.Errorf("ping media catalog after %d attempt(s): %w", attempts, err)
}

func ping(ctx context.Context, db *sql.DB) error {
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return db.PingContext(pingCtx)
}
