package telemetry

import (
	"math"
	"testing"
	"time"

	"github.com/langchou/mowgazer/internal/models"
)

func stateAt(st models.DeviceState, offset time.Duration) models.StateSample {
	return models.StateSample{State: st, Timestamp: t0.Add(offset)}
}

func TestAggregateMergesSameState(t *testing.T) {
	history := []models.StateSample{
		stateAt(models.StateMowing, 0),
		stateAt(models.StateMowing, 30*time.Second),
		stateAt(models.StateStationCharging, 45*time.Second),
	}

	dist, timeline := Aggregate(history, t0.Add(60*time.Second))

	if len(timeline) != 2 {
		t.Fatalf("expected 2 segments, got %d: %+v", len(timeline), timeline)
	}
	if timeline[0].State != models.StateMowing || timeline[0].DurationSeconds != 45 {
		t.Errorf("first segment = %+v", timeline[0])
	}
	if !timeline[0].StartTime.Equal(t0) || !timeline[0].EndTime.Equal(t0.Add(45*time.Second)) {
		t.Errorf("first segment bounds = %v..%v", timeline[0].StartTime, timeline[0].EndTime)
	}
	if timeline[1].State != models.StateStationCharging || timeline[1].DurationSeconds != 15 {
		t.Errorf("second segment = %+v", timeline[1])
	}

	if len(dist) != 2 {
		t.Fatalf("expected 2 distribution entries, got %+v", dist)
	}
	want := map[models.DeviceState]float64{models.StateMowing: 75, models.StateStationCharging: 25}
	for _, d := range dist {
		if math.Abs(d.Percentage-want[d.State]) > 1e-9 {
			t.Errorf("%s = %v%%, want %v%%", d.Name, d.Percentage, want[d.State])
		}
	}
	if dist[0].State != models.StateMowing || dist[0].TotalSeconds != 45 {
		t.Errorf("distribution should follow first appearance, got %+v", dist[0])
	}
}

func TestAggregateEmpty(t *testing.T) {
	dist, timeline := Aggregate(nil, t0)
	if dist == nil || timeline == nil {
		t.Fatal("empty history should yield empty, non-nil slices")
	}
	if len(dist) != 0 || len(timeline) != 0 {
		t.Errorf("expected empty results, got %+v %+v", dist, timeline)
	}
}

func TestAggregateSingleSample(t *testing.T) {
	dist, timeline := Aggregate([]models.StateSample{stateAt(models.StatePaused, 0)}, t0.Add(10*time.Minute))

	if len(timeline) != 1 || timeline[0].DurationSeconds != 600 || !timeline[0].EndTime.Equal(t0.Add(10*time.Minute)) {
		t.Fatalf("timeline = %+v", timeline)
	}
	if len(dist) != 1 || dist[0].Percentage != 100 {
		t.Errorf("dist = %+v", dist)
	}
}

func TestAggregateUnorderedInput(t *testing.T) {
	history := []models.StateSample{
		stateAt(models.StateStationCharging, 2*time.Minute),
		stateAt(models.StateMowing, 0),
		stateAt(models.StateReturningToStation, time.Minute),
	}

	_, timeline := Aggregate(history, t0.Add(3*time.Minute))

	wantOrder := []models.DeviceState{models.StateMowing, models.StateReturningToStation, models.StateStationCharging}
	if len(timeline) != len(wantOrder) {
		t.Fatalf("timeline = %+v", timeline)
	}
	for i, st := range wantOrder {
		if timeline[i].State != st || timeline[i].DurationSeconds != 60 {
			t.Errorf("segment %d = %+v", i, timeline[i])
		}
	}
	if history[0].State != models.StateStationCharging {
		t.Error("input must not be reordered")
	}
}

func TestAggregateKeepsDistinctRunsApart(t *testing.T) {
	history := []models.StateSample{
		stateAt(models.StateMowing, 0),
		stateAt(models.StatePaused, 10*time.Second),
		stateAt(models.StateMowing, 20*time.Second),
	}

	dist, timeline := Aggregate(history, t0.Add(30*time.Second))
	if len(timeline) != 3 {
		t.Fatalf("different states in between must not merge: %+v", timeline)
	}
	if len(dist) != 2 || dist[0].TotalSeconds != 20 {
		t.Errorf("dist = %+v", dist)
	}
}

func TestAggregateWindowEndBeforeLastSample(t *testing.T) {
	history := []models.StateSample{
		stateAt(models.StateMowing, 0),
		stateAt(models.StateError, time.Minute),
	}

	dist, timeline := Aggregate(history, t0.Add(30*time.Second))
	if timeline[len(timeline)-1].DurationSeconds != 0 {
		t.Errorf("truncated segment should have zero duration, got %+v", timeline[len(timeline)-1])
	}
	for _, d := range dist {
		if math.IsNaN(d.Percentage) || d.TotalSeconds < 0 {
			t.Errorf("invalid distribution entry %+v", d)
		}
	}
}

func TestMergeTimelineGap(t *testing.T) {
	raw := []models.TimelineSegment{
		newSegment(models.StateMowing, t0, t0.Add(time.Minute)),
		newSegment(models.StateMowing, t0.Add(time.Minute+59*time.Second), t0.Add(3*time.Minute)),
		newSegment(models.StateMowing, t0.Add(5*time.Minute), t0.Add(6*time.Minute)),
	}

	merged := mergeTimeline(raw)
	if len(merged) != 2 {
		t.Fatalf("expected 2 segments, got %+v", merged)
	}
	if merged[0].DurationSeconds != 180 {
		t.Errorf("merged duration = %v, want 180", merged[0].DurationSeconds)
	}
	if !merged[1].StartTime.Equal(t0.Add(5 * time.Minute)) {
		t.Errorf("gap of 120s should not merge, got %+v", merged[1])
	}
}
