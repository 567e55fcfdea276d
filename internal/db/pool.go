package db

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool holds the shared pgx connection pool. The engines, repositories and
// checkpoint store use database/sql through db.DB; the pool feeds the
// scrape-time pool-stat gauges.
var Pool *pgxpool.Pool

// InitPool initializes a pgxpool.Pool if DATABASE_URL is set. Safe to call multiple times.
func InitPool(ctx context.Context) (*pgxpool.Pool, error) {
	if Pool != nil {
		return Pool, nil
	}
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		return nil, nil
	}
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = int32(envInt("DB_POOL_MAX_CONNS", 10))
	cfg.MinConns = 0
	cfg.MaxConnIdleTime = 5 * time.Minute
	cfg.HealthCheckPeriod = 30 * time.Second
	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	// Ping to verify connectivity
	ctxPing, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := p.Ping(ctxPing); err != nil {
		p.Close()
		return nil, err
	}
	Pool = p
	return Pool, nil
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
