package models

import "time"

// StatusDuration 时间窗口内某个状态的累计时长
type StatusDuration struct {
	State        DeviceState `json:"state"`
	Name         string      `json:"name"`
	TotalSeconds float64     `json:"total_seconds"`
	Percentage   float64     `json:"percentage"`
}

// TimelineSegment 状态时间轴上的一段
type TimelineSegment struct {
	State           DeviceState `json:"state"`
	Name            string      `json:"name"`
	StyleClass      string      `json:"style_class"`
	StartTime       time.Time   `json:"start_time"`
	EndTime         time.Time   `json:"end_time"`
	DurationSeconds float64     `json:"duration_seconds"`
}

// StatusReport 状态分布 + 时间轴
type StatusReport struct {
	DeviceID     int64             `json:"device_id"`
	From         time.Time         `json:"from"`
	To           time.Time         `json:"to"`
	Distribution []StatusDuration  `json:"distribution"`
	Timeline     []TimelineSegment `json:"timeline"`
}
