package models

import "time"

// MeasurementKind 测量类型
type MeasurementKind string

const (
	KindBattery MeasurementKind = "battery"
	KindGps     MeasurementKind = "gps"
	KindState   MeasurementKind = "state"
)

// Measurement 一条带时间戳的测量数据，创建后不可修改
type Measurement interface {
	Kind() MeasurementKind
	MeasuredAt() time.Time
}

// BatterySample 电量采样
type BatterySample struct {
	Level     float64   `json:"level"` // 0-100
	Timestamp time.Time `json:"timestamp"`
}

func (BatterySample) Kind() MeasurementKind   { return KindBattery }
func (b BatterySample) MeasuredAt() time.Time { return b.Timestamp }

// GpsSample GPS 定位采样
type GpsSample struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
}

func (GpsSample) Kind() MeasurementKind   { return KindGps }
func (g GpsSample) MeasuredAt() time.Time { return g.Timestamp }

// StateSample 状态变化采样
type StateSample struct {
	State     DeviceState `json:"state"`
	Timestamp time.Time   `json:"timestamp"`
}

func (StateSample) Kind() MeasurementKind   { return KindState }
func (s StateSample) MeasuredAt() time.Time { return s.Timestamp }

// Event 数据源推送的单条设备测量
type Event struct {
	DeviceID    int64
	Measurement Measurement
}
