package state

import (
	"context"
	"time"

	"github.com/looplab/fsm"

	"github.com/langchou/mowgazer/internal/geo"
	"github.com/langchou/mowgazer/internal/models"
)

// 卡死检测状态
const (
	StateIdle     = "idle"
	StateTracking = "tracking"
)

// 卡死检测事件
const (
	EventAnchor  = "anchor"
	EventRelease = "release"
)

// 默认参数
const (
	DefaultStuckThreshold  = 90 * time.Second
	DefaultMovementEpsilon = 1.0 // 米
)

// Anchor 静止计时的锚点
type Anchor struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
}

// StuckDetector 单台设备的卡死检测器
// 只在割草/回站状态下跟踪位置；位移超过 epsilon 或告警后重置锚点。
// 不加锁，由所属 Session 保证串行调用。
type StuckDetector struct {
	threshold time.Duration
	epsilon   float64

	fsm          *fsm.FSM
	anchor       *Anchor
	deviceState  models.DeviceState
	stateKnown   bool
	onTransition func(from, to string)
}

// NewStuckDetector 创建卡死检测器，非正数参数使用默认值
func NewStuckDetector(threshold time.Duration, epsilonMeters float64, onTransition func(from, to string)) *StuckDetector {
	if threshold <= 0 {
		threshold = DefaultStuckThreshold
	}
	if epsilonMeters <= 0 {
		epsilonMeters = DefaultMovementEpsilon
	}

	d := &StuckDetector{
		threshold:    threshold,
		epsilon:      epsilonMeters,
		onTransition: onTransition,
	}

	d.fsm = fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: EventAnchor, Src: []string{StateIdle}, Dst: StateTracking},
			{Name: EventRelease, Src: []string{StateTracking}, Dst: StateIdle},
		},
		fsm.Callbacks{
			"enter_state": func(ctx context.Context, e *fsm.Event) {
				if d.onTransition != nil {
					d.onTransition(e.Src, e.Dst)
				}
			},
		},
	)

	return d
}

// Threshold 静止告警阈值
func (d *StuckDetector) Threshold() time.Duration {
	return d.threshold
}

// Current 当前检测状态 (idle / tracking)
func (d *StuckDetector) Current() string {
	return d.fsm.Current()
}

// Tracking 是否正在跟踪
func (d *StuckDetector) Tracking() bool {
	return d.fsm.Current() == StateTracking
}

// Anchor 当前锚点
func (d *StuckDetector) Anchor() (Anchor, bool) {
	if d.anchor == nil {
		return Anchor{}, false
	}
	return *d.anchor, true
}

// SetDeviceState 更新设备状态；离开割草/回站状态时丢弃锚点
func (d *StuckDetector) SetDeviceState(s models.DeviceState) {
	d.deviceState = s
	d.stateKnown = true

	if !s.StuckEligible() {
		d.release()
	}
}

// Observe 处理一条 GPS 采样，静止超过阈值时返回告警
func (d *StuckDetector) Observe(sample models.GpsSample) *models.StuckAlert {
	if !d.stateKnown || !d.deviceState.StuckEligible() {
		d.release()
		return nil
	}

	if d.anchor == nil {
		d.setAnchor(sample)
		if d.fsm.Can(EventAnchor) {
			_ = d.fsm.Event(context.Background(), EventAnchor)
		}
		return nil
	}

	distance := geo.DistanceMeters(d.anchor.Latitude, d.anchor.Longitude, sample.Latitude, sample.Longitude)
	if distance > d.epsilon {
		d.setAnchor(sample)
		return nil
	}

	elapsed := sample.Timestamp.Sub(d.anchor.Timestamp)
	if elapsed <= d.threshold {
		return nil
	}

	alert := &models.StuckAlert{
		Latitude:       sample.Latitude,
		Longitude:      sample.Longitude,
		ElapsedSeconds: elapsed.Seconds(),
		DetectedAt:     sample.Timestamp,
	}
	// 告警后重新计时，避免每个采样都重复告警
	d.setAnchor(sample)
	return alert
}

// Reset 清空全部检测状态
func (d *StuckDetector) Reset() {
	d.release()
	d.stateKnown = false
}

func (d *StuckDetector) setAnchor(sample models.GpsSample) {
	d.anchor = &Anchor{
		Latitude:  sample.Latitude,
		Longitude: sample.Longitude,
		Timestamp: sample.Timestamp,
	}
}

func (d *StuckDetector) release() {
	d.anchor = nil
	if d.fsm.Can(EventRelease) {
		_ = d.fsm.Event(context.Background(), EventRelease)
	}
}
