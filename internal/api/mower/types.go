package mower

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/langchou/mowgazer/internal/models"
)

// DeviceInfo 后端返回的设备信息
type DeviceInfo struct {
	Serial string `json:"serial"`
	Name   string `json:"name"`
	Model  string `json:"model"`
	Online bool   `json:"online"`
}

// ToDevice 转换为本地设备模型
func (d DeviceInfo) ToDevice() *models.Device {
	return &models.Device{
		Serial: d.Serial,
		Name:   d.Name,
		Model:  d.Model,
	}
}

// BatteryPoint 电量历史点
type BatteryPoint struct {
	Level     float64 `json:"level"`
	Timestamp int64   `json:"timestamp"` // 毫秒
}

// GpsPoint 位置历史点
type GpsPoint struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
	Timestamp int64   `json:"timestamp"`
}

// StatePoint 状态历史点
type StatePoint struct {
	State     int   `json:"state"`
	Timestamp int64 `json:"timestamp"`
}

// LatestTelemetry 最近一次遥测（轮询用）
type LatestTelemetry struct {
	Battery *BatteryPoint `json:"battery,omitempty"`
	Gps     *GpsPoint     `json:"gps,omitempty"`
	State   *StatePoint   `json:"state,omitempty"`
}

// 消息类型
const (
	FrameBattery   = "battery"
	FrameGps       = "gps"
	FrameState     = "state"
	FrameError     = "error"
	FrameHello     = "hello"
	FrameSubscribe = "subscribe"
)

// Frame 推送通道（WebSocket / MQTT）上的一条消息
type Frame struct {
	Type      string   `json:"type"`
	Device    string   `json:"device,omitempty"` // 设备序列号
	Level     *float64 `json:"level,omitempty"`
	Latitude  *float64 `json:"lat,omitempty"`
	Longitude *float64 `json:"lon,omitempty"`
	State     *int     `json:"state,omitempty"`
	Timestamp int64    `json:"timestamp,omitempty"` // 毫秒
	Error     string   `json:"error,omitempty"`
	Token     string   `json:"token,omitempty"`
}

// ErrMalformedFrame 消息缺少字段或数值非法
var ErrMalformedFrame = errors.New("malformed frame")

// Measurement 将消息转换为测量数据
func (f *Frame) Measurement() (models.Measurement, error) {
	ts := fromMillis(f.Timestamp)

	switch f.Type {
	case FrameBattery:
		if f.Level == nil || !finite(*f.Level) {
			return nil, fmt.Errorf("battery frame: %w", ErrMalformedFrame)
		}
		return models.BatterySample{Level: *f.Level, Timestamp: ts}, nil
	case FrameGps:
		if f.Latitude == nil || f.Longitude == nil || !finite(*f.Latitude) || !finite(*f.Longitude) {
			return nil, fmt.Errorf("gps frame: %w", ErrMalformedFrame)
		}
		return models.GpsSample{Latitude: *f.Latitude, Longitude: *f.Longitude, Timestamp: ts}, nil
	case FrameState:
		if f.State == nil {
			return nil, fmt.Errorf("state frame: %w", ErrMalformedFrame)
		}
		return models.StateSample{State: models.DeviceState(*f.State), Timestamp: ts}, nil
	default:
		return nil, fmt.Errorf("frame type %q: %w", f.Type, ErrMalformedFrame)
	}
}

// Measurements 展开最近遥测为测量列表
// 没有服务端时间戳的点无法去重，直接丢弃。
func (t *LatestTelemetry) Measurements() []models.Measurement {
	var out []models.Measurement
	if t.State != nil && t.State.Timestamp > 0 {
		out = append(out, models.StateSample{State: models.DeviceState(t.State.State), Timestamp: time.UnixMilli(t.State.Timestamp)})
	}
	if t.Battery != nil && t.Battery.Timestamp > 0 && finite(t.Battery.Level) {
		out = append(out, models.BatterySample{Level: t.Battery.Level, Timestamp: time.UnixMilli(t.Battery.Timestamp)})
	}
	if t.Gps != nil && t.Gps.Timestamp > 0 && finite(t.Gps.Latitude) && finite(t.Gps.Longitude) {
		out = append(out, models.GpsSample{Latitude: t.Gps.Latitude, Longitude: t.Gps.Longitude, Timestamp: time.UnixMilli(t.Gps.Timestamp)})
	}
	return out
}

func fromMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Now()
	}
	return time.UnixMilli(ms)
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
