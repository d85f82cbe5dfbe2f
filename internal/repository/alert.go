package repository

import (
	"context"
	"fmt"

	"github.com/langchou/mowgazer/internal/models"
)

// AlertRepository 卡死告警仓库
type AlertRepository struct {
	db *DB
}

// NewAlertRepository 创建告警仓库
func NewAlertRepository(db *DB) *AlertRepository {
	return &AlertRepository{db: db}
}

// Create 写入告警
func (r *AlertRepository) Create(ctx context.Context, alert *models.StuckAlert) error {
	query := `
		INSERT INTO stuck_alerts (device_id, latitude, longitude, elapsed_seconds, detected_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	err := r.db.Pool.QueryRow(ctx, query,
		alert.DeviceID,
		alert.Latitude,
		alert.Longitude,
		alert.ElapsedSeconds,
		alert.DetectedAt,
	).Scan(&alert.ID)
	if err != nil {
		return fmt.Errorf("insert stuck alert: %w", err)
	}
	return nil
}

// ListByDeviceID 获取设备的告警（最新在前）
func (r *AlertRepository) ListByDeviceID(ctx context.Context, deviceID int64, limit int) ([]*models.StuckAlert, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, device_id, latitude, longitude, elapsed_seconds, detected_at
		FROM stuck_alerts WHERE device_id = $1
		ORDER BY detected_at DESC LIMIT $2
	`
	rows, err := r.db.Pool.Query(ctx, query, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("list stuck alerts: %w", err)
	}
	defer rows.Close()

	alerts := make([]*models.StuckAlert, 0)
	for rows.Next() {
		a := &models.StuckAlert{}
		if err := rows.Scan(&a.ID, &a.DeviceID, &a.Latitude, &a.Longitude, &a.ElapsedSeconds, &a.DetectedAt); err != nil {
			return nil, fmt.Errorf("scan stuck alert: %w", err)
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}
