package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/langchou/mowgazer/internal/models"
)

// HistorySource 按设备 ID 查询历史（PostgreSQL 仓库）
// 状态只取窗口内真实记录的变化，窗口前补出的起点状态不能进归档
type HistorySource interface {
	FetchBatteryHistory(ctx context.Context, deviceID int64, from, to time.Time) ([]models.BatterySample, error)
	FetchGpsHistory(ctx context.Context, deviceID int64, from, to time.Time) ([]models.GpsSample, error)
	FetchStateRecords(ctx context.Context, deviceID int64, from, to time.Time) ([]models.StateSample, error)
}

// Importer 导入目标
type Importer interface {
	Upsert(ctx context.Context, d *models.Device) error
}

// EventRecorder 逐条写入测量
type EventRecorder interface {
	Record(ctx context.Context, ev models.Event) error
}

// Counts 导入/导出的记录数
type Counts struct {
	Battery   int
	Positions int
	States    int
}

func (c Counts) String() string {
	return fmt.Sprintf("battery=%d positions=%d states=%d", c.Battery, c.Positions, c.States)
}

// Export 将设备窗口内的历史写入归档
func Export(ctx context.Context, src HistorySource, device *models.Device, from, to time.Time, dst *Archive) (Counts, error) {
	snap := &Snapshot{Device: device}

	var err error
	if snap.Battery, err = src.FetchBatteryHistory(ctx, device.ID, from, to); err != nil {
		return Counts{}, fmt.Errorf("export battery: %w", err)
	}
	if snap.Positions, err = src.FetchGpsHistory(ctx, device.ID, from, to); err != nil {
		return Counts{}, fmt.Errorf("export positions: %w", err)
	}
	states, err := src.FetchStateRecords(ctx, device.ID, from, to)
	if err != nil {
		return Counts{}, fmt.Errorf("export states: %w", err)
	}
	snap.States = statesSince(states, from)

	if err := dst.Write(ctx, snap); err != nil {
		return Counts{}, err
	}
	return Counts{Battery: len(snap.Battery), Positions: len(snap.Positions), States: len(snap.States)}, nil
}

// statesSince 丢弃早于窗口起点的状态
func statesSince(states []models.StateSample, from time.Time) []models.StateSample {
	kept := make([]models.StateSample, 0, len(states))
	for _, s := range states {
		if s.Timestamp.Before(from) {
			continue
		}
		kept = append(kept, s)
	}
	return kept
}

// 导入时读取归档的全部数据
var (
	allFrom = time.UnixMilli(0)
	allTo   = time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)
)

// Import 将归档中的一台设备导入名册和历史
// 同一时刻的采样由存储端去重，重复导入同一归档不会产生重复记录
func Import(ctx context.Context, src *Archive, serial string, devices Importer, recorder EventRecorder) (*models.Device, Counts, error) {
	snap, err := src.Read(ctx, serial, allFrom, allTo)
	if err != nil {
		return nil, Counts{}, err
	}

	device := snap.Device
	if err := devices.Upsert(ctx, device); err != nil {
		return nil, Counts{}, fmt.Errorf("import device: %w", err)
	}

	var counts Counts
	record := func(m models.Measurement) error {
		return recorder.Record(ctx, models.Event{DeviceID: device.ID, Measurement: m})
	}
	for _, s := range snap.States {
		if err := record(s); err != nil {
			return nil, counts, fmt.Errorf("import state: %w", err)
		}
		counts.States++
	}
	for _, s := range snap.Battery {
		if err := record(s); err != nil {
			return nil, counts, fmt.Errorf("import battery: %w", err)
		}
		counts.Battery++
	}
	for _, s := range snap.Positions {
		if err := record(s); err != nil {
			return nil, counts, fmt.Errorf("import position: %w", err)
		}
		counts.Positions++
	}
	return device, counts, nil
}
