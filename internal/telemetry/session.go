package telemetry

import (
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/mowgazer/internal/models"
	"github.com/langchou/mowgazer/internal/state"
)

// Config 遥测解释参数
type Config struct {
	StuckThreshold      time.Duration // 静止多久判定卡死
	MovementEpsilon     float64       // 位移阈值 (米)
	BatteryLowThreshold float64       // 低电量阈值 (%)
	LiveRange           time.Duration // 实时窗口长度
	MaxMessages         int           // 消息日志容量
}

// DefaultConfig 默认参数
func DefaultConfig() Config {
	return Config{
		StuckThreshold:      state.DefaultStuckThreshold,
		MovementEpsilon:     state.DefaultMovementEpsilon,
		BatteryLowThreshold: 10,
		LiveRange:           5 * time.Minute,
		MaxMessages:         DefaultMaxMessages,
	}
}

// Effects 一次数据处理产生的副作用，交由调用方分发
type Effects struct {
	Messages []models.Message
	Alert    *models.StuckAlert
}

// Empty 是否无副作用
func (e Effects) Empty() bool {
	return len(e.Messages) == 0 && e.Alert == nil
}

// Session 单台选中设备的遥测会话
// 持有最近状态、最近位置、卡死检测器和消息日志；与设备一一绑定，不跨设备共享。
type Session struct {
	mu     sync.Mutex
	cfg    Config
	logger *zap.Logger

	deviceID     int64
	lastState    *models.DeviceState
	lastPosition *models.GpsSample
	battery      *BatteryWindow
	stuck        *state.StuckDetector
	log          *MessageLog
	updatedAt    time.Time
}

// NewSession 创建会话
func NewSession(deviceID int64, cfg Config, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Session{
		cfg:      cfg,
		logger:   logger.With(zap.Int64("device_id", deviceID)),
		deviceID: deviceID,
		battery:  NewBatteryWindow(cfg.LiveRange),
		log:      NewMessageLog(cfg.MaxMessages),
	}
	s.stuck = state.NewStuckDetector(cfg.StuckThreshold, cfg.MovementEpsilon, s.onStuckTransition)
	return s
}

// DeviceID 会话绑定的设备
func (s *Session) DeviceID() int64 {
	return s.deviceID
}

// Apply 按测量类型分发
func (s *Session) Apply(ev models.Event) Effects {
	switch m := ev.Measurement.(type) {
	case models.BatterySample:
		return s.OnBatteryUpdate(ev.DeviceID, m)
	case *models.BatterySample:
		return s.OnBatteryUpdate(ev.DeviceID, *m)
	case models.GpsSample:
		return s.OnGpsUpdate(ev.DeviceID, m)
	case *models.GpsSample:
		return s.OnGpsUpdate(ev.DeviceID, *m)
	case models.StateSample:
		return s.OnStateUpdate(ev.DeviceID, m)
	case *models.StateSample:
		return s.OnStateUpdate(ev.DeviceID, *m)
	}
	return Effects{}
}

// OnBatteryUpdate 处理电量更新
func (s *Session) OnBatteryUpdate(deviceID int64, sample models.BatterySample) Effects {
	if deviceID != s.deviceID {
		return Effects{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.battery.Add(sample)
	s.touch(sample.Timestamp)

	var effects Effects
	switch {
	case sample.Level <= 0:
		effects.Messages = append(effects.Messages,
			s.appendLocked("Battery empty! Device needs charging", models.SeverityError, sample.Timestamp))
	case sample.Level < s.cfg.BatteryLowThreshold:
		effects.Messages = append(effects.Messages,
			s.appendLocked(fmt.Sprintf("Battery low: %s%%", strconv.FormatFloat(sample.Level, 'f', -1, 64)), models.SeverityWarning, sample.Timestamp))
	}
	return effects
}

// OnGpsUpdate 处理位置更新，必要时产生卡死告警
func (s *Session) OnGpsUpdate(deviceID int64, sample models.GpsSample) Effects {
	if deviceID != s.deviceID {
		return Effects{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pos := sample
	s.lastPosition = &pos
	s.touch(sample.Timestamp)

	alert := s.stuck.Observe(sample)
	if alert == nil {
		return Effects{}
	}
	alert.DeviceID = s.deviceID

	s.logger.Warn("Device appears to be stuck",
		zap.Float64("latitude", alert.Latitude),
		zap.Float64("longitude", alert.Longitude),
		zap.Float64("elapsed_seconds", alert.ElapsedSeconds))

	text := fmt.Sprintf("Device appears to be stuck (%ds without movement)", int(math.Round(alert.ElapsedSeconds)))
	return Effects{
		Messages: []models.Message{s.appendLocked(text, models.SeverityError, sample.Timestamp)},
		Alert:    alert,
	}
}

// OnStateUpdate 处理状态更新；首次观测到的状态不算状态变化
func (s *Session) OnStateUpdate(deviceID int64, sample models.StateSample) Effects {
	if deviceID != s.deviceID {
		return Effects{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var effects Effects
	if s.lastState != nil && *s.lastState != sample.State {
		prev := *s.lastState
		effects.Messages = append(effects.Messages,
			s.appendLocked(fmt.Sprintf("State changed: %s → %s", prev.DisplayName(), sample.State.DisplayName()), models.SeverityInfo, sample.Timestamp))

		if prev == models.StatePaused && sample.State == models.StateMowing {
			effects.Messages = append(effects.Messages,
				s.appendLocked("Device resumed operation", models.SeverityInfo, sample.Timestamp))
		}
	}

	st := sample.State
	s.lastState = &st
	s.stuck.SetDeviceState(st)
	s.touch(sample.Timestamp)

	return effects
}

// Seed 用历史数据预热会话，不产生消息也不驱动卡死检测
func (s *Session) Seed(battery []models.BatterySample, last *models.StateSample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range battery {
		s.battery.Add(b)
		s.touch(b.Timestamp)
	}
	if last != nil && s.lastState == nil {
		st := last.State
		s.lastState = &st
		s.stuck.SetDeviceState(st)
		s.touch(last.Timestamp)
	}
}

// Messages 消息日志快照，最新在前
func (s *Session) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.log.Snapshot()
}

// BatteryHistory 实时窗口内的电量采样
func (s *Session) BatteryHistory() []models.BatterySample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.battery.Samples()
}

// LastState 最近一次已知状态
func (s *Session) LastState() (models.DeviceState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastState == nil {
		return 0, false
	}
	return *s.lastState, true
}

// LastPosition 最近一次已知位置
func (s *Session) LastPosition() (models.GpsSample, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastPosition == nil {
		return models.GpsSample{}, false
	}
	return *s.lastPosition, true
}

// Predict 基于实时窗口的电量趋势预测
func (s *Session) Predict(now time.Time) *models.Prediction {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastState == nil {
		return nil
	}
	return Predict(s.battery.Samples(), *s.lastState, now)
}

// Snapshot 设备当前快照
func (s *Session) Snapshot() *models.DeviceSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := &models.DeviceSnapshot{
		DeviceID:      s.deviceID,
		StuckTracking: s.stuck.Tracking(),
		UpdatedAt:     s.updatedAt,
	}
	if s.lastState != nil {
		st := *s.lastState
		info := st.Info()
		snap.State = &st
		snap.StateInfo = &info
	}
	if latest, ok := s.battery.Latest(); ok {
		level := latest.Level
		snap.BatteryLevel = &level
	}
	if s.lastPosition != nil {
		lat, lon := s.lastPosition.Latitude, s.lastPosition.Longitude
		snap.Latitude = &lat
		snap.Longitude = &lon
	}
	return snap
}

func (s *Session) appendLocked(text string, severity models.Severity, at time.Time) models.Message {
	if at.IsZero() {
		at = time.Now()
	}
	return s.log.Append(text, severity, at)
}

func (s *Session) touch(at time.Time) {
	if at.After(s.updatedAt) {
		s.updatedAt = at
	}
}

func (s *Session) onStuckTransition(from, to string) {
	s.logger.Debug("Stuck tracking changed", zap.String("from", from), zap.String("to", to))
}
