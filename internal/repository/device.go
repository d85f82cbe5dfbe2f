package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/langchou/mowgazer/internal/models"
)

// DeviceRepository 设备数据仓库
type DeviceRepository struct {
	db *DB
}

// NewDeviceRepository 创建设备仓库
func NewDeviceRepository(db *DB) *DeviceRepository {
	return &DeviceRepository{db: db}
}

const deviceColumns = `id, serial, name, model, created_at, updated_at`

func scanDevice(row pgx.Row) (*models.Device, error) {
	d := &models.Device{}
	err := row.Scan(
		&d.ID,
		&d.Serial,
		&d.Name,
		&d.Model,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Create 创建设备
func (r *DeviceRepository) Create(ctx context.Context, d *models.Device) error {
	query := `
		INSERT INTO devices (serial, name, model, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	now := time.Now()
	err := r.db.Pool.QueryRow(ctx, query, d.Serial, d.Name, d.Model, now, now).Scan(&d.ID)
	if err != nil {
		return fmt.Errorf("insert device: %w", err)
	}

	d.CreatedAt = now
	d.UpdatedAt = now
	return nil
}

// GetByID 通过 ID 获取设备
func (r *DeviceRepository) GetByID(ctx context.Context, id int64) (*models.Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE id = $1`
	d, err := scanDevice(r.db.Pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("get device by id: %w", notFound(err))
	}
	return d, nil
}

// GetBySerial 通过序列号获取设备
func (r *DeviceRepository) GetBySerial(ctx context.Context, serial string) (*models.Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE serial = $1`
	d, err := scanDevice(r.db.Pool.QueryRow(ctx, query, serial))
	if err != nil {
		return nil, fmt.Errorf("get device by serial: %w", notFound(err))
	}
	return d, nil
}

// List 获取所有设备
func (r *DeviceRepository) List(ctx context.Context) ([]*models.Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices ORDER BY id`
	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	devices := make([]*models.Device, 0)
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// Update 更新设备
func (r *DeviceRepository) Update(ctx context.Context, d *models.Device) error {
	query := `
		UPDATE devices SET serial = $2, name = $3, model = $4, updated_at = $5
		WHERE id = $1
	`
	d.UpdatedAt = time.Now()
	tag, err := r.db.Pool.Exec(ctx, query, d.ID, d.Serial, d.Name, d.Model, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update device: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update device: %w", ErrNotFound)
	}
	return nil
}

// Delete 删除设备（级联删除遥测历史）
func (r *DeviceRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM devices WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete device: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete device: %w", ErrNotFound)
	}
	return nil
}

// Upsert 按序列号插入或更新设备
func (r *DeviceRepository) Upsert(ctx context.Context, d *models.Device) error {
	query := `
		INSERT INTO devices (serial, name, model, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (serial) DO UPDATE SET
			name = EXCLUDED.name,
			model = EXCLUDED.model,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at, updated_at
	`
	err := r.db.Pool.QueryRow(ctx, query, d.Serial, d.Name, d.Model, time.Now()).Scan(&d.ID, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert device: %w", err)
	}
	return nil
}
