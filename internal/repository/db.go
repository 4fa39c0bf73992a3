package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier 仓库依赖的最小数据库接口，*pgxpool.Pool 与测试 mock 都满足
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DB 数据库连接池封装
type DB struct {
	Pool *pgxpool.Pool
}

// New 创建数据库连接
func New(ctx context.Context, databaseURL string) (*DB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	// 连接池配置
	config.MaxConns = 10
	config.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	// 测试连接
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close 关闭连接池
func (db *DB) Close() {
	db.Pool.Close()
}

// Migrate 执行数据库迁移
func (db *DB) Migrate(ctx context.Context) error {
	migrations := []string{
		migrationCreateVehicles,
		migrationCreateTrips,
		migrationCreateTripPositions,
		migrationCreateMaintenanceEvents,
	}

	for _, m := range migrations {
		if _, err := db.Pool.Exec(ctx, m); err != nil {
			return fmt.Errorf("execute migration: %w", err)
		}
	}

	return nil
}

// 数据库迁移 SQL
const migrationCreateVehicles = `
CREATE TABLE IF NOT EXISTS vehicles (
    id TEXT PRIMARY KEY,
    name VARCHAR(255) NOT NULL,
    initial_fuel_level_percent DOUBLE PRECISION NOT NULL DEFAULT 100,
    created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
);
`

const migrationCreateTrips = `
CREATE TABLE IF NOT EXISTS trips (
    id TEXT PRIMARY KEY,
    vehicle_id TEXT NOT NULL REFERENCES vehicles(id),
    started_at TIMESTAMP WITH TIME ZONE NOT NULL,
    ended_at TIMESTAMP WITH TIME ZONE,
    duration_min DOUBLE PRECISION DEFAULT 0,
    distance_km DOUBLE PRECISION DEFAULT 0,
    avg_speed_kmh DOUBLE PRECISION DEFAULT 0,
    fuel_start_percent DOUBLE PRECISION,
    fuel_end_percent DOUBLE PRECISION,
    fuel_consumed_percent DOUBLE PRECISION DEFAULT 0,
    low_fuel_warning BOOLEAN DEFAULT FALSE,
    status VARCHAR(20)
);
CREATE INDEX IF NOT EXISTS idx_trips_vehicle_id ON trips(vehicle_id);
CREATE INDEX IF NOT EXISTS idx_trips_started_at ON trips(started_at);
`

const migrationCreateTripPositions = `
CREATE TABLE IF NOT EXISTS trip_positions (
    id BIGSERIAL PRIMARY KEY,
    trip_id TEXT NOT NULL REFERENCES trips(id),
    latitude DOUBLE PRECISION NOT NULL,
    longitude DOUBLE PRECISION NOT NULL,
    speed_kmh DOUBLE PRECISION,
    recorded_at_ms BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trip_positions_trip_id ON trip_positions(trip_id);
`

const migrationCreateMaintenanceEvents = `
CREATE TABLE IF NOT EXISTS maintenance_events (
    id BIGSERIAL PRIMARY KEY,
    trip_id TEXT NOT NULL REFERENCES trips(id),
    type VARCHAR(20) NOT NULL,
    timestamp_ms BIGINT NOT NULL,
    cost_minor_units BIGINT,
    quantity_liters DOUBLE PRECISION,
    price_per_liter_minor BIGINT,
    resulting_fuel_percent DOUBLE PRECISION,
    notes TEXT
);
CREATE INDEX IF NOT EXISTS idx_maintenance_events_trip_id ON maintenance_events(trip_id);
`
