package telemetry

import (
	"sort"
	"time"

	"github.com/langchou/mowgazer/internal/models"
)

// TimelineMergeGap 相同状态相邻段间隔小于该值时视为抖动并合并
const TimelineMergeGap = 60 * time.Second

// Aggregate 计算时间窗口内各状态的累计时长和合并后的时间轴
// 每条记录持续到下一条记录，最后一条持续到 windowEnd；百分比按总时长归一化。
func Aggregate(history []models.StateSample, windowEnd time.Time) ([]models.StatusDuration, []models.TimelineSegment) {
	if len(history) == 0 {
		return []models.StatusDuration{}, []models.TimelineSegment{}
	}

	sorted := make([]models.StateSample, len(history))
	copy(sorted, history)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	raw := make([]models.TimelineSegment, 0, len(sorted))
	for i, sample := range sorted {
		end := windowEnd
		if i+1 < len(sorted) {
			end = sorted[i+1].Timestamp
		}
		// windowEnd 早于最后一条记录时不产生负时长
		if end.Before(sample.Timestamp) {
			end = sample.Timestamp
		}
		raw = append(raw, newSegment(sample.State, sample.Timestamp, end))
	}

	return distribution(raw), mergeTimeline(raw)
}

func distribution(segments []models.TimelineSegment) []models.StatusDuration {
	var order []models.DeviceState
	totals := make(map[models.DeviceState]float64)
	var total float64

	for _, seg := range segments {
		if _, seen := totals[seg.State]; !seen {
			order = append(order, seg.State)
		}
		totals[seg.State] += seg.DurationSeconds
		total += seg.DurationSeconds
	}

	out := make([]models.StatusDuration, 0, len(order))
	for _, st := range order {
		d := models.StatusDuration{
			State:        st,
			Name:         st.DisplayName(),
			TotalSeconds: totals[st],
		}
		if total > 0 {
			d.Percentage = totals[st] / total * 100
		}
		out = append(out, d)
	}
	return out
}

func mergeTimeline(raw []models.TimelineSegment) []models.TimelineSegment {
	merged := make([]models.TimelineSegment, 0, len(raw))
	for _, seg := range raw {
		if n := len(merged); n > 0 {
			prev := &merged[n-1]
			if prev.State == seg.State && seg.StartTime.Sub(prev.EndTime) < TimelineMergeGap {
				*prev = newSegment(prev.State, prev.StartTime, seg.EndTime)
				continue
			}
		}
		merged = append(merged, seg)
	}
	return merged
}

func newSegment(st models.DeviceState, start, end time.Time) models.TimelineSegment {
	return models.TimelineSegment{
		State:           st,
		Name:            st.DisplayName(),
		StyleClass:      st.StyleClass(),
		StartTime:       start,
		EndTime:         end,
		DurationSeconds: end.Sub(start).Seconds(),
	}
}
