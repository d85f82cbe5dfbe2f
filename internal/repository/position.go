package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/langchou/mowgazer/internal/models"
)

// PositionRepository 位置数据仓库
type PositionRepository struct {
	db *DB
}

// NewPositionRepository 创建位置仓库
func NewPositionRepository(db *DB) *PositionRepository {
	return &PositionRepository{db: db}
}

const insertPosition = `
	INSERT INTO positions (device_id, latitude, longitude, recorded_at) VALUES ($1, $2, $3, $4)
	ON CONFLICT (device_id, recorded_at) DO NOTHING
`

// Create 创建位置记录
func (r *PositionRepository) Create(ctx context.Context, deviceID int64, s models.GpsSample) error {
	if _, err := r.db.Pool.Exec(ctx, insertPosition, deviceID, s.Latitude, s.Longitude, s.Timestamp); err != nil {
		return fmt.Errorf("insert position: %w", err)
	}
	return nil
}

// GetLatest 获取设备最新位置
func (r *PositionRepository) GetLatest(ctx context.Context, deviceID int64) (*models.GpsSample, error) {
	query := `
		SELECT latitude, longitude, recorded_at
		FROM positions WHERE device_id = $1 ORDER BY recorded_at DESC LIMIT 1
	`
	s := &models.GpsSample{}
	err := r.db.Pool.QueryRow(ctx, query, deviceID).Scan(&s.Latitude, &s.Longitude, &s.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("get latest position: %w", notFound(err))
	}
	return s, nil
}

// ListRange 获取时间范围内的位置（按时间升序）
func (r *PositionRepository) ListRange(ctx context.Context, deviceID int64, from, to time.Time) ([]models.GpsSample, error) {
	query := `
		SELECT latitude, longitude, recorded_at FROM positions
		WHERE device_id = $1 AND recorded_at >= $2 AND recorded_at <= $3
		ORDER BY recorded_at
	`
	rows, err := r.db.Pool.Query(ctx, query, deviceID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	defer rows.Close()

	positions := make([]models.GpsSample, 0)
	for rows.Next() {
		var s models.GpsSample
		if err := rows.Scan(&s.Latitude, &s.Longitude, &s.Timestamp); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		positions = append(positions, s)
	}
	return positions, rows.Err()
}
