package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Pool sizes the connection pool. Load-history writes are short and happen
// once per load request, so a small pool is enough.
type Pool struct {
	MaxOpen     int
	MaxIdle     int
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
}

var DefaultPool = Pool{
	MaxOpen:     10,
	MaxIdle:     4,
	MaxLifetime: 30 * time.Minute,
	MaxIdleTime: 5 * time.Minute,
}

const pingTimeout = 5 * time.Second

// Open connects to Postgres through the pgx driver with DefaultPool.
func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	return OpenWithPool(ctx, databaseURL, DefaultPool)
}

func OpenWithPool(ctx context.Context, databaseURL string, pool Pool) (*sql.DB, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open load history db: %w", err)
	}
	db.SetMaxOpenConns(pool.MaxOpen)
	db.SetMaxIdleConns(pool.MaxIdle)
	db.SetConnMaxLifetime(pool.MaxLifetime)
	db.SetConnMaxIdleTime(pool.MaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping load history db: %w", err)
	}
	return db, nil
}
