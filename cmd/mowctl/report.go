package main

import (
	"fmt"
	"io"
	"time"

	"github.com/langchou/mowgazer/internal/models"
	"github.com/langchou/mowgazer/internal/telemetry"
)

var (
	archiveStart = time.UnixMilli(0)
	archiveEnd   = time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)
)

// statusWindow 解析统计窗口，缺省为首末采样
func statusWindow(states []models.StateSample, from, to string) (time.Time, time.Time, error) {
	start := states[0].Timestamp
	end := states[len(states)-1].Timestamp

	if from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --from: %w", err)
		}
		start = t
	}
	if to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --to: %w", err)
		}
		end = t
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("window end %s must be after start %s", end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	return start, end, nil
}

// clipStates 丢弃窗口开始前的采样，最后一个被丢弃的状态从 start 开始计
func clipStates(states []models.StateSample, start time.Time) []models.StateSample {
	var (
		clipped []models.StateSample
		carry   *models.StateSample
	)
	for i := range states {
		s := states[i]
		if s.Timestamp.Before(start) {
			carry = &s
			continue
		}
		clipped = append(clipped, s)
	}
	if carry != nil && (len(clipped) == 0 || clipped[0].Timestamp.After(start)) {
		clipped = append([]models.StateSample{{State: carry.State, Timestamp: start}}, clipped...)
	}
	return clipped
}

func printStatusReport(w io.Writer, start, end time.Time, distribution []models.StatusDuration, timeline []models.TimelineSegment) {
	fmt.Fprintf(w, "Window: %s - %s\n\n", start.Format(time.RFC3339), end.Format(time.RFC3339))
	fmt.Fprintf(w, "%-22s %10s %8s\n", "STATE", "DURATION", "SHARE")
	for _, d := range distribution {
		dur := time.Duration(d.TotalSeconds * float64(time.Second)).Round(time.Second)
		fmt.Fprintf(w, "%-22s %10s %7.1f%%\n", d.Name, dur, d.Percentage)
	}

	fmt.Fprintf(w, "\nTimeline:\n")
	for _, seg := range timeline {
		fmt.Fprintf(w, "  %s  %-22s %s\n", seg.StartTime.Format("15:04:05"), seg.Name,
			time.Duration(seg.DurationSeconds*float64(time.Second)).Round(time.Second))
	}
}

// predictionSummary 以最后一次电量采样为当前时刻做预测
func predictionSummary(battery []models.BatterySample, states []models.StateSample) string {
	if len(battery) == 0 {
		return "No battery samples"
	}
	current := models.StateStationCharging
	if len(states) > 0 {
		current = states[len(states)-1].State
	}

	last := battery[len(battery)-1]
	p := telemetry.Predict(battery, current, last.Timestamp)
	if p == nil {
		return fmt.Sprintf("Battery %.0f%% (%s): no prediction", last.Level, current.DisplayName())
	}
	return fmt.Sprintf("Battery %.0f%% (%s): %s, at %s", last.Level, current.DisplayName(), p.Label,
		p.Points[1].Timestamp.Format(time.RFC3339))
}
