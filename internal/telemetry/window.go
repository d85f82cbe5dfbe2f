package telemetry

import (
	"time"

	"github.com/langchou/mowgazer/internal/models"
)

// maxWindowSamples 实时窗口的硬上限，防止高频上报时无限增长
const maxWindowSamples = 4096

// BatteryWindow 实时电量采样窗口
// 保留最新采样 liveRange 时间内的所有采样，且至少保留最近 PredictionWindow 个。
type BatteryWindow struct {
	liveRange time.Duration
	samples   []models.BatterySample
}

// NewBatteryWindow 创建电量窗口
func NewBatteryWindow(liveRange time.Duration) *BatteryWindow {
	return &BatteryWindow{liveRange: liveRange}
}

// Add 追加一条采样，早于最新采样的数据按时间插入
func (w *BatteryWindow) Add(sample models.BatterySample) {
	i := len(w.samples)
	for i > 0 && w.samples[i-1].Timestamp.After(sample.Timestamp) {
		i--
	}
	w.samples = append(w.samples, models.BatterySample{})
	copy(w.samples[i+1:], w.samples[i:])
	w.samples[i] = sample

	w.prune()
}

// Samples 按时间升序返回副本
func (w *BatteryWindow) Samples() []models.BatterySample {
	out := make([]models.BatterySample, len(w.samples))
	copy(out, w.samples)
	return out
}

// Latest 最新采样
func (w *BatteryWindow) Latest() (models.BatterySample, bool) {
	if len(w.samples) == 0 {
		return models.BatterySample{}, false
	}
	return w.samples[len(w.samples)-1], true
}

// Len 采样数
func (w *BatteryWindow) Len() int {
	return len(w.samples)
}

func (w *BatteryWindow) prune() {
	n := len(w.samples)
	if n <= PredictionWindow {
		return
	}

	cutoff := w.samples[n-1].Timestamp.Add(-w.liveRange)
	drop := 0
	for drop < n-PredictionWindow && w.samples[drop].Timestamp.Before(cutoff) {
		drop++
	}
	if n-drop > maxWindowSamples {
		drop = n - maxWindowSamples
	}
	if drop > 0 {
		w.samples = append(w.samples[:0], w.samples[drop:]...)
	}
}
