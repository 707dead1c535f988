package database

import (
	"context"
	"fmt"
	"time"

	"github.com/ipick/shop-analytics/internal/config"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Reporting reads are short. Connections are recycled with jitter so a
// replica failover does not reconnect the whole pool at once.
const (
	connLifetime       = 30 * time.Minute
	connLifetimeJitter = 5 * time.Minute
	connIdleTime       = 10 * time.Minute
	poolHealthCheck    = 30 * time.Second
)

// PostgresDB is the read-only pool over shops, orders, checkouts and
// referrals.
type PostgresDB struct {
	Pool   *pgxpool.Pool
	logger *zap.Logger
}

// poolConfig turns the service config into pgxpool settings. Sessions are
// read-only and tagged with ApplicationName.
func poolConfig(cfg config.DatabaseConfig) (*pgxpool.Config, error) {
	pc, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	if cfg.MaxConns > 0 {
		pc.MaxConns = int32(cfg.MaxConns)
	}
	pc.MinConns = int32(min(max(cfg.MinConns, 0), int(pc.MaxConns)))
	pc.MaxConnLifetime = connLifetime
	pc.MaxConnLifetimeJitter = connLifetimeJitter
	pc.MaxConnIdleTime = connIdleTime
	pc.HealthCheckPeriod = poolHealthCheck

	if pc.ConnConfig.RuntimeParams == nil {
		pc.ConnConfig.RuntimeParams = make(map[string]string)
	}
	pc.ConnConfig.RuntimeParams["application_name"] = ApplicationName
	pc.ConnConfig.RuntimeParams["default_transaction_read_only"] = "on"
	return pc, nil
}

// NewPostgresDB builds the pool and fails fast when the server does not
// answer within connectTimeout.
func NewPostgresDB(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*PostgresDB, error) {
	pc, err := poolConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pingWithin(ctx, connectTimeout, pool.Ping); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres %s:%d: %w", cfg.Host, cfg.Port, err)
	}

	logger.Info("PostgreSQL pool ready",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.DBName),
		zap.Int32("max_conns", pc.MaxConns),
		zap.Int32("min_conns", pc.MinConns),
	)
	return &PostgresDB{Pool: pool, logger: logger}, nil
}

func (db *PostgresDB) Close() {
	if db.Pool == nil {
		return
	}
	db.Pool.Close()
	db.logger.Info("PostgreSQL pool closed")
}

func (db *PostgresDB) Health(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// PoolCounts feeds the pool gauges: idle, in-use and total connections.
func (db *PostgresDB) PoolCounts() (idle, inUse, total int) {
	st := db.Pool.Stat()
	return int(st.IdleConns()), int(st.AcquiredConns()), int(st.TotalConns())
}
