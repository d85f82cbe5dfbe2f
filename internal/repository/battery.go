package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/langchou/mowgazer/internal/models"
)

// BatteryRepository 电量采样仓库
type BatteryRepository struct {
	db *DB
}

// NewBatteryRepository 创建电量仓库
func NewBatteryRepository(db *DB) *BatteryRepository {
	return &BatteryRepository{db: db}
}

const insertBatterySample = `
	INSERT INTO battery_samples (device_id, level, recorded_at) VALUES ($1, $2, $3)
	ON CONFLICT (device_id, recorded_at) DO NOTHING
`

// Create 写入电量采样，同一时刻已有记录时忽略
func (r *BatteryRepository) Create(ctx context.Context, deviceID int64, s models.BatterySample) error {
	if _, err := r.db.Pool.Exec(ctx, insertBatterySample, deviceID, s.Level, s.Timestamp); err != nil {
		return fmt.Errorf("insert battery sample: %w", err)
	}
	return nil
}

// ListRange 获取时间范围内的电量采样（按时间升序）
func (r *BatteryRepository) ListRange(ctx context.Context, deviceID int64, from, to time.Time) ([]models.BatterySample, error) {
	query := `
		SELECT level, recorded_at FROM battery_samples
		WHERE device_id = $1 AND recorded_at >= $2 AND recorded_at <= $3
		ORDER BY recorded_at
	`
	rows, err := r.db.Pool.Query(ctx, query, deviceID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list battery samples: %w", err)
	}
	defer rows.Close()

	samples := make([]models.BatterySample, 0)
	for rows.Next() {
		var s models.BatterySample
		if err := rows.Scan(&s.Level, &s.Timestamp); err != nil {
			return nil, fmt.Errorf("scan battery sample: %w", err)
		}
		samples = append(samples, s)
	}
	return samples, rows.Err()
}
