package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/langchou/mowgazer/internal/models"
)

// HistoryStore 组合各遥测仓库，提供历史查询与实时写入
type HistoryStore struct {
	Battery   *BatteryRepository
	Positions *PositionRepository
	States    *StateRepository
	Alerts    *AlertRepository
}

// NewHistoryStore 创建历史存储
func NewHistoryStore(db *DB) *HistoryStore {
	return &HistoryStore{
		Battery:   NewBatteryRepository(db),
		Positions: NewPositionRepository(db),
		States:    NewStateRepository(db),
		Alerts:    NewAlertRepository(db),
	}
}

func (h *HistoryStore) FetchBatteryHistory(ctx context.Context, deviceID int64, from, to time.Time) ([]models.BatterySample, error) {
	return h.Battery.ListRange(ctx, deviceID, from, to)
}

func (h *HistoryStore) FetchGpsHistory(ctx context.Context, deviceID int64, from, to time.Time) ([]models.GpsSample, error) {
	return h.Positions.ListRange(ctx, deviceID, from, to)
}

func (h *HistoryStore) FetchStateHistory(ctx context.Context, deviceID int64, from, to time.Time) ([]models.StateSample, error) {
	return h.States.ListRange(ctx, deviceID, from, to)
}

// FetchStateRecords 窗口内实际写入的状态记录，供归档导出
func (h *HistoryStore) FetchStateRecords(ctx context.Context, deviceID int64, from, to time.Time) ([]models.StateSample, error) {
	return h.States.ListRecorded(ctx, deviceID, from, to)
}

// Record 持久化一条实时测量
func (h *HistoryStore) Record(ctx context.Context, ev models.Event) error {
	switch m := ev.Measurement.(type) {
	case models.BatterySample:
		return h.Battery.Create(ctx, ev.DeviceID, m)
	case *models.BatterySample:
		return h.Battery.Create(ctx, ev.DeviceID, *m)
	case models.GpsSample:
		return h.Positions.Create(ctx, ev.DeviceID, m)
	case *models.GpsSample:
		return h.Positions.Create(ctx, ev.DeviceID, *m)
	case models.StateSample:
		return h.States.Create(ctx, ev.DeviceID, m)
	case *models.StateSample:
		return h.States.Create(ctx, ev.DeviceID, *m)
	default:
		return fmt.Errorf("record measurement: unsupported type %T", ev.Measurement)
	}
}

// RecordAlert 持久化卡死告警
func (h *HistoryStore) RecordAlert(ctx context.Context, alert *models.StuckAlert) error {
	return h.Alerts.Create(ctx, alert)
}

// ListAlerts 获取设备最近的告警
func (h *HistoryStore) ListAlerts(ctx context.Context, deviceID int64, limit int) ([]*models.StuckAlert, error) {
	return h.Alerts.ListByDeviceID(ctx, deviceID, limit)
}
