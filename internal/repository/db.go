package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("record not found")

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
		migrationCreateDevices,
		migrationCreateBatterySamples,
		migrationCreatePositions,
		migrationCreateStates,
		migrationUniqueSamples,
		migrationCreateStuckAlerts,
	}

	for _, m := range migrations {
		if _, err := db.Pool.Exec(ctx, m); err != nil {
			return fmt.Errorf("execute migration: %w", err)
		}
	}

	return nil
}

// notFound 将 pgx.ErrNoRows 转换为 ErrNotFound
func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// 数据库迁移 SQL
const migrationCreateDevices = `
CREATE TABLE IF NOT EXISTS devices (
    id BIGSERIAL PRIMARY KEY,
    serial VARCHAR(64) NOT NULL UNIQUE,
    name VARCHAR(255),
    model VARCHAR(50),
    created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_devices_serial ON devices(serial);
`

const migrationCreateBatterySamples = `
CREATE TABLE IF NOT EXISTS battery_samples (
    id BIGSERIAL PRIMARY KEY,
    device_id BIGINT NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
    level DOUBLE PRECISION NOT NULL,
    recorded_at TIMESTAMP WITH TIME ZONE NOT NULL
);
`

const migrationCreatePositions = `
CREATE TABLE IF NOT EXISTS positions (
    id BIGSERIAL PRIMARY KEY,
    device_id BIGINT NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
    latitude DOUBLE PRECISION NOT NULL,
    longitude DOUBLE PRECISION NOT NULL,
    recorded_at TIMESTAMP WITH TIME ZONE NOT NULL
);
`

const migrationCreateStates = `
CREATE TABLE IF NOT EXISTS states (
    id BIGSERIAL PRIMARY KEY,
    device_id BIGINT NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
    state SMALLINT NOT NULL,
    recorded_at TIMESTAMP WITH TIME ZONE NOT NULL
);
`

// 同一设备同一时刻只保留一条采样，重复导入归档或重放推送时直接跳过
const migrationUniqueSamples = `
DELETE FROM battery_samples a USING battery_samples b
    WHERE a.device_id = b.device_id AND a.recorded_at = b.recorded_at AND a.id > b.id;
DELETE FROM positions a USING positions b
    WHERE a.device_id = b.device_id AND a.recorded_at = b.recorded_at AND a.id > b.id;
DELETE FROM states a USING states b
    WHERE a.device_id = b.device_id AND a.recorded_at = b.recorded_at AND a.id > b.id;
DROP INDEX IF EXISTS idx_battery_samples_device_time;
DROP INDEX IF EXISTS idx_positions_device_time;
DROP INDEX IF EXISTS idx_states_device_time;
CREATE UNIQUE INDEX IF NOT EXISTS uq_battery_samples_device_time ON battery_samples(device_id, recorded_at);
CREATE UNIQUE INDEX IF NOT EXISTS uq_positions_device_time ON positions(device_id, recorded_at);
CREATE UNIQUE INDEX IF NOT EXISTS uq_states_device_time ON states(device_id, recorded_at);
`

const migrationCreateStuckAlerts = `
CREATE TABLE IF NOT EXISTS stuck_alerts (
    id BIGSERIAL PRIMARY KEY,
    device_id BIGINT NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
    latitude DOUBLE PRECISION NOT NULL,
    longitude DOUBLE PRECISION NOT NULL,
    elapsed_seconds DOUBLE PRECISION NOT NULL,
    detected_at TIMESTAMP WITH TIME ZONE NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_stuck_alerts_device ON stuck_alerts(device_id, detected_at DESC);
`
