package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/langchou/mowgazer/internal/models"
)

// StateRepository 设备状态变化仓库
type StateRepository struct {
	db *DB
}

// NewStateRepository 创建状态仓库
func NewStateRepository(db *DB) *StateRepository {
	return &StateRepository{db: db}
}

const insertState = `
	INSERT INTO states (device_id, state, recorded_at) VALUES ($1, $2, $3)
	ON CONFLICT (device_id, recorded_at) DO NOTHING
`

// Create 写入状态采样
func (r *StateRepository) Create(ctx context.Context, deviceID int64, s models.StateSample) error {
	if _, err := r.db.Pool.Exec(ctx, insertState, deviceID, int16(s.State), s.Timestamp); err != nil {
		return fmt.Errorf("insert state: %w", err)
	}
	return nil
}

// ListRange 获取时间范围内的状态序列
// 额外带上 from 之前的最后一条记录，使窗口起点的状态可知
func (r *StateRepository) ListRange(ctx context.Context, deviceID int64, from, to time.Time) ([]models.StateSample, error) {
	query := `
		(SELECT state, recorded_at FROM states
		 WHERE device_id = $1 AND recorded_at < $2
		 ORDER BY recorded_at DESC LIMIT 1)
		UNION ALL
		(SELECT state, recorded_at FROM states
		 WHERE device_id = $1 AND recorded_at >= $2 AND recorded_at <= $3)
		ORDER BY recorded_at
	`
	rows, err := r.db.Pool.Query(ctx, query, deviceID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list states: %w", err)
	}
	defer rows.Close()

	samples := make([]models.StateSample, 0)
	for rows.Next() {
		var (
			raw int16
			s   models.StateSample
		)
		if err := rows.Scan(&raw, &s.Timestamp); err != nil {
			return nil, fmt.Errorf("scan state: %w", err)
		}
		s.State = models.DeviceState(raw)
		samples = append(samples, clampStateStart(s, from))
	}
	return samples, rows.Err()
}

// ListRecorded 只返回窗口内真实记录的状态变化，不带窗口前的起点状态
func (r *StateRepository) ListRecorded(ctx context.Context, deviceID int64, from, to time.Time) ([]models.StateSample, error) {
	query := `
		SELECT state, recorded_at FROM states
		WHERE device_id = $1 AND recorded_at >= $2 AND recorded_at <= $3
		ORDER BY recorded_at
	`
	rows, err := r.db.Pool.Query(ctx, query, deviceID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list recorded states: %w", err)
	}
	defer rows.Close()

	samples := make([]models.StateSample, 0)
	for rows.Next() {
		var (
			raw int16
			s   models.StateSample
		)
		if err := rows.Scan(&raw, &s.Timestamp); err != nil {
			return nil, fmt.Errorf("scan state: %w", err)
		}
		s.State = models.DeviceState(raw)
		samples = append(samples, s)
	}
	return samples, rows.Err()
}

// clampStateStart 把窗口前的状态起点截到窗口起点
func clampStateStart(s models.StateSample, from time.Time) models.StateSample {
	if s.Timestamp.Before(from) {
		s.Timestamp = from
	}
	return s
}
