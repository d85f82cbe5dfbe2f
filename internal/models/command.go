package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CommandAction 远程控制指令
type CommandAction string

const (
	CommandStartMowing     CommandAction = "start_mowing"
	CommandPause           CommandAction = "pause"
	CommandResume          CommandAction = "resume"
	CommandReturnToStation CommandAction = "return_to_station"
	CommandStop            CommandAction = "stop"
)

// ParseCommandAction 解析指令名
func ParseCommandAction(s string) (CommandAction, error) {
	switch a := CommandAction(s); a {
	case CommandStartMowing, CommandPause, CommandResume, CommandReturnToStation, CommandStop:
		return a, nil
	}
	return "", fmt.Errorf("unknown command %q", s)
}

// Command 发往设备的指令
type Command struct {
	RequestID uuid.UUID     `json:"request_id"`
	DeviceID  int64         `json:"device_id"`
	Serial    string        `json:"serial"`
	Action    CommandAction `json:"action"`
	IssuedAt  time.Time     `json:"issued_at"`
}

// NewCommand 创建带请求 ID 的指令
func NewCommand(device *Device, action CommandAction) *Command {
	return &Command{
		RequestID: uuid.New(),
		DeviceID:  device.ID,
		Serial:    device.Serial,
		Action:    action,
		IssuedAt:  time.Now(),
	}
}
