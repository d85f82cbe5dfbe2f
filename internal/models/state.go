package models

// DeviceState 割草机运行状态
type DeviceState int

// 状态取值与后端约定一致，不可重新编号
const (
	StateStationCharging          DeviceState = 0
	StateStationChargingCompleted DeviceState = 1
	StateMowing                   DeviceState = 2
	StateReturningToStation       DeviceState = 3
	StatePaused                   DeviceState = 4
	StateError                    DeviceState = 5
)

// UnknownStateName 未知状态的显示名
const UnknownStateName = "Unknown"

type stateMeta struct {
	name  string
	style string
}

var stateTable = map[DeviceState]stateMeta{
	StateStationCharging:          {name: "Charging", style: "state-charging"},
	StateStationChargingCompleted: {name: "Charging completed", style: "state-charged"},
	StateMowing:                   {name: "Mowing", style: "state-mowing"},
	StateReturningToStation:       {name: "Returning to station", style: "state-returning"},
	StatePaused:                   {name: "Paused", style: "state-paused"},
	StateError:                    {name: "Error", style: "state-error"},
}

// AllStates 按编号顺序返回全部已知状态
func AllStates() []DeviceState {
	return []DeviceState{
		StateStationCharging,
		StateStationChargingCompleted,
		StateMowing,
		StateReturningToStation,
		StatePaused,
		StateError,
	}
}

// Valid 是否为已知状态
func (s DeviceState) Valid() bool {
	_, ok := stateTable[s]
	return ok
}

// DisplayName 显示名称，未知状态返回 "Unknown"
func (s DeviceState) DisplayName() string {
	if meta, ok := stateTable[s]; ok {
		return meta.name
	}
	return UnknownStateName
}

// StyleClass 前端样式标记，未知状态返回空字符串
func (s DeviceState) StyleClass() string {
	if meta, ok := stateTable[s]; ok {
		return meta.style
	}
	return ""
}

func (s DeviceState) String() string {
	return s.DisplayName()
}

// StuckEligible 是否需要做卡死检测（仅割草和回站时设备应当在移动）
func (s DeviceState) StuckEligible() bool {
	return s == StateMowing || s == StateReturningToStation
}

// Discharging 是否处于耗电状态
func (s DeviceState) Discharging() bool {
	switch s {
	case StateMowing, StateReturningToStation, StatePaused, StateError:
		return true
	}
	return false
}

// StateInfo 状态及其展示信息
type StateInfo struct {
	ID         int    `json:"id"`
	Name       string `json:"name"`
	StyleClass string `json:"style_class"`
}

// Info 返回状态展示信息
func (s DeviceState) Info() StateInfo {
	return StateInfo{
		ID:         int(s),
		Name:       s.DisplayName(),
		StyleClass: s.StyleClass(),
	}
}
