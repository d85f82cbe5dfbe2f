package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/mowgazer/internal/models"
	"github.com/langchou/mowgazer/internal/telemetry"
)

// RangeMode 图表时间窗口模式
type RangeMode string

const (
	RangeLive    RangeMode = "live"    // 短时滚动窗口
	RangeHistory RangeMode = "history" // 长时静态窗口
)

// ParseRangeMode 解析窗口模式，空字符串视为 live
func ParseRangeMode(s string) (RangeMode, error) {
	switch RangeMode(s) {
	case "", RangeLive:
		return RangeLive, nil
	case RangeHistory:
		return RangeHistory, nil
	}
	return "", fmt.Errorf("unknown range %q", s)
}

// Window 计算窗口起止时间
func (s *CockpitService) Window(mode RangeMode, now time.Time) (time.Time, time.Time) {
	if mode == RangeHistory {
		return now.Add(-s.opts.HistoryRange), now
	}
	return now.Add(-s.opts.LiveRange), now
}

// selected 若 deviceID 是当前选中设备则返回其会话
func (s *CockpitService) selected(deviceID int64) *telemetry.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session != nil && s.session.DeviceID() == deviceID {
		return s.session
	}
	return nil
}

// Messages 当前会话的消息日志（最新在前）
func (s *CockpitService) Messages() ([]models.Message, error) {
	_, session, err := s.Current()
	if err != nil {
		return nil, err
	}
	return session.Messages(), nil
}

// Prediction 当前会话的电量趋势预测；无趋势时返回 nil
func (s *CockpitService) Prediction(now time.Time) (*models.Prediction, error) {
	_, session, err := s.Current()
	if err != nil {
		return nil, err
	}
	return session.Predict(now), nil
}

// Snapshot 设备快照：选中设备取会话，其余取缓存
func (s *CockpitService) Snapshot(ctx context.Context, deviceID int64) (*models.DeviceSnapshot, error) {
	if session := s.selected(deviceID); session != nil {
		return session.Snapshot(), nil
	}
	if s.opts.Cache == nil {
		return nil, ErrNoSnapshot
	}

	snap, err := s.opts.Cache.LoadSnapshot(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoSnapshot, err)
	}
	return snap, nil
}

// Nearby 某点半径内设备的最近快照，按距离由近到远；缓存过期的设备跳过
func (s *CockpitService) Nearby(ctx context.Context, lat, lon, radiusMeters float64) ([]*models.DeviceSnapshot, error) {
	if s.opts.Cache == nil {
		return nil, ErrCacheDisabled
	}

	ids, err := s.opts.Cache.Nearby(ctx, lat, lon, radiusMeters)
	if err != nil {
		return nil, fmt.Errorf("search nearby devices: %w", err)
	}

	snapshots := make([]*models.DeviceSnapshot, 0, len(ids))
	for _, id := range ids {
		if session := s.selected(id); session != nil {
			snapshots = append(snapshots, session.Snapshot())
			continue
		}
		snap, err := s.opts.Cache.LoadSnapshot(ctx, id)
		if err != nil {
			s.logger.Debug("Skipping device without snapshot", zap.Int64("device_id", id), zap.Error(err))
			continue
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots, nil
}

// BatteryHistory 电量曲线数据；选中设备的 live 窗口直接取会话
func (s *CockpitService) BatteryHistory(ctx context.Context, deviceID int64, mode RangeMode) ([]models.BatterySample, error) {
	if mode == RangeLive {
		if session := s.selected(deviceID); session != nil {
			return session.BatteryHistory(), nil
		}
	}

	device, err := s.lookupDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	from, to := s.Window(mode, time.Now())
	return s.batteryHistory(ctx, device, from, to)
}

// Positions 轨迹数据
func (s *CockpitService) Positions(ctx context.Context, deviceID int64, mode RangeMode) ([]models.GpsSample, error) {
	device, err := s.lookupDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	from, to := s.Window(mode, time.Now())

	positions, err := s.opts.History.FetchGpsHistory(ctx, device.ID, from, to)
	if err != nil {
		return nil, fmt.Errorf("fetch gps history: %w", err)
	}
	if len(positions) == 0 && s.opts.Remote != nil {
		return s.opts.Remote.FetchGpsHistory(ctx, device.Serial, from, to)
	}
	return positions, nil
}

// StatusReport 状态时长分布与时间线
func (s *CockpitService) StatusReport(ctx context.Context, deviceID int64, from, to time.Time) (*models.StatusReport, error) {
	if !to.After(from) {
		return nil, errors.New("invalid range: to must be after from")
	}

	device, err := s.lookupDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	history, err := s.stateHistory(ctx, device, from, to)
	if err != nil {
		return nil, err
	}

	distribution, timeline := telemetry.Aggregate(history, to)
	return &models.StatusReport{
		DeviceID:     deviceID,
		From:         from,
		To:           to,
		Distribution: distribution,
		Timeline:     timeline,
	}, nil
}

// Alerts 设备最近的卡死告警
func (s *CockpitService) Alerts(ctx context.Context, deviceID int64, limit int) ([]*models.StuckAlert, error) {
	if s.opts.Recorder == nil {
		return []*models.StuckAlert{}, nil
	}
	alerts, err := s.opts.Recorder.ListAlerts(ctx, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	return alerts, nil
}

// batteryHistory 先查本地，为空时回退到后端
func (s *CockpitService) batteryHistory(ctx context.Context, device *models.Device, from, to time.Time) ([]models.BatterySample, error) {
	samples, err := s.opts.History.FetchBatteryHistory(ctx, device.ID, from, to)
	if err != nil {
		return nil, fmt.Errorf("fetch battery history: %w", err)
	}
	if len(samples) == 0 && s.opts.Remote != nil {
		return s.opts.Remote.FetchBatteryHistory(ctx, device.Serial, from, to)
	}
	return samples, nil
}

// stateHistory 先查本地，为空时回退到后端
func (s *CockpitService) stateHistory(ctx context.Context, device *models.Device, from, to time.Time) ([]models.StateSample, error) {
	samples, err := s.opts.History.FetchStateHistory(ctx, device.ID, from, to)
	if err != nil {
		return nil, fmt.Errorf("fetch state history: %w", err)
	}
	if len(samples) == 0 && s.opts.Remote != nil {
		return s.opts.Remote.FetchStateHistory(ctx, device.Serial, from, to)
	}
	return samples, nil
}
