package models

import "time"

// Device 割草机设备信息
type Device struct {
	ID        int64     `json:"id" db:"id"`
	Serial    string    `json:"serial" db:"serial"`
	Name      string    `json:"name" db:"name"`
	Model     string    `json:"model" db:"model"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// DeviceSnapshot 设备最近一次已知状态
type DeviceSnapshot struct {
	DeviceID      int64        `json:"device_id"`
	State         *DeviceState `json:"state,omitempty"`
	StateInfo     *StateInfo   `json:"state_info,omitempty"`
	BatteryLevel  *float64     `json:"battery_level,omitempty"`
	Latitude      *float64     `json:"latitude,omitempty"`
	Longitude     *float64     `json:"longitude,omitempty"`
	StuckTracking bool         `json:"stuck_tracking"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// StuckAlert 卡死告警
type StuckAlert struct {
	ID             int64     `json:"id,omitempty" db:"id"`
	DeviceID       int64     `json:"device_id" db:"device_id"`
	Latitude       float64   `json:"latitude" db:"latitude"`
	Longitude      float64   `json:"longitude" db:"longitude"`
	ElapsedSeconds float64   `json:"elapsed_seconds" db:"elapsed_seconds"`
	DetectedAt     time.Time `json:"detected_at" db:"detected_at"`
}
