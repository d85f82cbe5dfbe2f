package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/langchou/mowgazer/internal/models"
)

// ErrDeviceNotArchived 归档中没有该设备
var ErrDeviceNotArchived = errors.New("device not in archive")

// Archive 单文件 SQLite 遥测归档
type Archive struct {
	conn *sql.DB
}

// Open 打开（或创建）归档文件
func Open(path string) (*Archive, error) {
	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on", path)

	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	// SQLite 单写者
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(time.Hour)

	a := &Archive{conn: conn}
	if err := a.initialize(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initialize archive: %w", err)
	}
	return a, nil
}

// initialize 建表，时间统一存毫秒时间戳
func (a *Archive) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS devices (
		serial TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		model TEXT NOT NULL DEFAULT '',
		exported_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS battery_samples (
		serial TEXT NOT NULL REFERENCES devices(serial) ON DELETE CASCADE,
		level REAL NOT NULL,
		recorded_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS positions (
		serial TEXT NOT NULL REFERENCES devices(serial) ON DELETE CASCADE,
		latitude REAL NOT NULL,
		longitude REAL NOT NULL,
		recorded_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS states (
		serial TEXT NOT NULL REFERENCES devices(serial) ON DELETE CASCADE,
		state INTEGER NOT NULL,
		recorded_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_battery_serial_time ON battery_samples(serial, recorded_at);
	CREATE INDEX IF NOT EXISTS idx_positions_serial_time ON positions(serial, recorded_at);
	CREATE INDEX IF NOT EXISTS idx_states_serial_time ON states(serial, recorded_at);
	`

	_, err := a.conn.Exec(schema)
	return err
}

// Close 关闭归档
func (a *Archive) Close() error {
	return a.conn.Close()
}

// Snapshot 一台设备在时间窗口内的全部测量
type Snapshot struct {
	Device    *models.Device
	Battery   []models.BatterySample
	Positions []models.GpsSample
	States    []models.StateSample
}

// Write 写入一台设备的数据，覆盖该设备已有的归档
func (a *Archive) Write(ctx context.Context, snap *Snapshot) error {
	tx, err := a.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	serial := snap.Device.Serial
	if _, err := tx.ExecContext(ctx, `DELETE FROM devices WHERE serial = ?`, serial); err != nil {
		return fmt.Errorf("clear device: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO devices (serial, name, model, exported_at) VALUES (?, ?, ?, ?)`,
		serial, snap.Device.Name, snap.Device.Model, time.Now().UnixMilli(),
	); err != nil {
		return fmt.Errorf("insert device: %w", err)
	}

	batteryStmt, err := tx.PrepareContext(ctx, `INSERT INTO battery_samples (serial, level, recorded_at) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare battery insert: %w", err)
	}
	defer batteryStmt.Close()
	for _, s := range snap.Battery {
		if _, err := batteryStmt.ExecContext(ctx, serial, s.Level, s.Timestamp.UnixMilli()); err != nil {
			return fmt.Errorf("insert battery sample: %w", err)
		}
	}

	posStmt, err := tx.PrepareContext(ctx, `INSERT INTO positions (serial, latitude, longitude, recorded_at) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare position insert: %w", err)
	}
	defer posStmt.Close()
	for _, s := range snap.Positions {
		if _, err := posStmt.ExecContext(ctx, serial, s.Latitude, s.Longitude, s.Timestamp.UnixMilli()); err != nil {
			return fmt.Errorf("insert position: %w", err)
		}
	}

	stateStmt, err := tx.PrepareContext(ctx, `INSERT INTO states (serial, state, recorded_at) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare state insert: %w", err)
	}
	defer stateStmt.Close()
	for _, s := range snap.States {
		if _, err := stateStmt.ExecContext(ctx, serial, int(s.State), s.Timestamp.UnixMilli()); err != nil {
			return fmt.Errorf("insert state: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit archive: %w", err)
	}
	return nil
}

// Devices 归档中的设备
func (a *Archive) Devices(ctx context.Context) ([]*models.Device, error) {
	rows, err := a.conn.QueryContext(ctx, `SELECT serial, name, model FROM devices ORDER BY serial`)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var devices []*models.Device
	for rows.Next() {
		d := &models.Device{}
		if err := rows.Scan(&d.Serial, &d.Name, &d.Model); err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// Device 按序列号读取设备
func (a *Archive) Device(ctx context.Context, serial string) (*models.Device, error) {
	d := &models.Device{}
	err := a.conn.QueryRowContext(ctx, `SELECT serial, name, model FROM devices WHERE serial = ?`, serial).
		Scan(&d.Serial, &d.Name, &d.Model)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDeviceNotArchived
	}
	if err != nil {
		return nil, fmt.Errorf("get device: %w", err)
	}
	return d, nil
}

// FetchBatteryHistory 读取电量采样（按时间升序）
func (a *Archive) FetchBatteryHistory(ctx context.Context, serial string, from, to time.Time) ([]models.BatterySample, error) {
	rows, err := a.conn.QueryContext(ctx,
		`SELECT level, recorded_at FROM battery_samples WHERE serial = ? AND recorded_at BETWEEN ? AND ? ORDER BY recorded_at`,
		serial, from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("query battery samples: %w", err)
	}
	defer rows.Close()

	samples := make([]models.BatterySample, 0)
	for rows.Next() {
		var (
			s  models.BatterySample
			ms int64
		)
		if err := rows.Scan(&s.Level, &ms); err != nil {
			return nil, fmt.Errorf("scan battery sample: %w", err)
		}
		s.Timestamp = time.UnixMilli(ms)
		samples = append(samples, s)
	}
	return samples, rows.Err()
}

// FetchGpsHistory 读取位置（按时间升序）
func (a *Archive) FetchGpsHistory(ctx context.Context, serial string, from, to time.Time) ([]models.GpsSample, error) {
	rows, err := a.conn.QueryContext(ctx,
		`SELECT latitude, longitude, recorded_at FROM positions WHERE serial = ? AND recorded_at BETWEEN ? AND ? ORDER BY recorded_at`,
		serial, from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	samples := make([]models.GpsSample, 0)
	for rows.Next() {
		var (
			s  models.GpsSample
			ms int64
		)
		if err := rows.Scan(&s.Latitude, &s.Longitude, &ms); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		s.Timestamp = time.UnixMilli(ms)
		samples = append(samples, s)
	}
	return samples, rows.Err()
}

// FetchStateHistory 读取状态序列（按时间升序）
func (a *Archive) FetchStateHistory(ctx context.Context, serial string, from, to time.Time) ([]models.StateSample, error) {
	rows, err := a.conn.QueryContext(ctx,
		`SELECT state, recorded_at FROM states WHERE serial = ? AND recorded_at BETWEEN ? AND ? ORDER BY recorded_at`,
		serial, from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("query states: %w", err)
	}
	defer rows.Close()

	samples := make([]models.StateSample, 0)
	for rows.Next() {
		var (
			raw int
			ms  int64
		)
		if err := rows.Scan(&raw, &ms); err != nil {
			return nil, fmt.Errorf("scan state: %w", err)
		}
		samples = append(samples, models.StateSample{State: models.DeviceState(raw), Timestamp: time.UnixMilli(ms)})
	}
	return samples, rows.Err()
}

// Read 读取一台设备在窗口内的全部数据
func (a *Archive) Read(ctx context.Context, serial string, from, to time.Time) (*Snapshot, error) {
	device, err := a.Device(ctx, serial)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{Device: device}
	if snap.Battery, err = a.FetchBatteryHistory(ctx, serial, from, to); err != nil {
		return nil, err
	}
	if snap.Positions, err = a.FetchGpsHistory(ctx, serial, from, to); err != nil {
		return nil, err
	}
	if snap.States, err = a.FetchStateHistory(ctx, serial, from, to); err != nil {
		return nil, err
	}
	return snap, nil
}
