package telemetry

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/langchou/mowgazer/internal/models"
)

// PredictionWindow 趋势预测使用的最近采样数
const PredictionWindow = 10

// Predict 根据最近的电量采样做线性外推，估算充满或耗尽时间
// 只看最近 PredictionWindow 个采样，刚开始充电时不会被之前的放电趋势拖累。
// 数据不足、时间跨度为零或趋势与当前状态矛盾时返回 nil。
func Predict(samples []models.BatterySample, current models.DeviceState, now time.Time) *models.Prediction {
	if len(samples) < 2 {
		return nil
	}

	window := make([]models.BatterySample, len(samples))
	copy(window, samples)
	sort.SliceStable(window, func(i, j int) bool {
		return window[i].Timestamp.Before(window[j].Timestamp)
	})
	if len(window) > PredictionWindow {
		window = window[len(window)-PredictionWindow:]
	}

	first := window[0]
	last := window[len(window)-1]

	spanMs := float64(last.Timestamp.Sub(first.Timestamp)) / float64(time.Millisecond)
	if spanMs <= 0 {
		return nil
	}
	delta := last.Level - first.Level
	ratePerMs := delta / spanMs

	// minutes = remaining / (ratePerMs * 60000)，展开后计算以减少舍入误差
	switch {
	case current == models.StateStationCharging && ratePerMs > 0:
		minutes := (100 - last.Level) * spanMs / (delta * 60000)
		return buildPrediction(now, last.Level, 100, minutes, "Full in ~%d min")

	case current.Discharging() && ratePerMs < 0:
		minutes := last.Level * spanMs / (-delta * 60000)
		return buildPrediction(now, last.Level, 0, minutes, "Empty in ~%d min")
	}

	return nil
}

func buildPrediction(now time.Time, level, target, minutes float64, labelFormat string) *models.Prediction {
	if math.IsNaN(minutes) || math.IsInf(minutes, 0) || minutes < 0 {
		return nil
	}

	end := now.Add(time.Duration(math.Round(minutes * float64(time.Minute))))
	return &models.Prediction{
		Points: [2]models.PredictionPoint{
			{Timestamp: now, Level: level},
			{Timestamp: end, Level: target},
		},
		Label:   fmt.Sprintf(labelFormat, int(math.Round(minutes))),
		Minutes: minutes,
	}
}
