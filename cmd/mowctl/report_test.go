package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/langchou/mowgazer/internal/models"
	"github.com/langchou/mowgazer/internal/telemetry"
)

var t0 = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

func TestStatusWindow(t *testing.T) {
	states := []models.StateSample{
		{State: models.StateMowing, Timestamp: t0},
		{State: models.StatePaused, Timestamp: t0.Add(time.Hour)},
	}

	tests := []struct {
		name      string
		from, to  string
		wantStart time.Time
		wantEnd   time.Time
		wantErr   bool
	}{
		{name: "defaults", wantStart: t0, wantEnd: t0.Add(time.Hour)},
		{name: "explicit", from: "2024-06-01T08:30:00Z", to: "2024-06-01T10:00:00Z", wantStart: t0.Add(30 * time.Minute), wantEnd: t0.Add(2 * time.Hour)},
		{name: "bad from", from: "yesterday", wantErr: true},
		{name: "inverted", from: "2024-06-01T12:00:00Z", to: "2024-06-01T09:00:00Z", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end, err := statusWindow(states, tt.from, tt.to)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if !start.Equal(tt.wantStart) || !end.Equal(tt.wantEnd) {
				t.Errorf("window = %v - %v", start, end)
			}
		})
	}
}

func TestClipStates(t *testing.T) {
	states := []models.StateSample{
		{State: models.StateStationCharging, Timestamp: t0},
		{State: models.StateMowing, Timestamp: t0.Add(10 * time.Minute)},
		{State: models.StatePaused, Timestamp: t0.Add(40 * time.Minute)},
	}

	clipped := clipStates(states, t0.Add(20*time.Minute))
	if len(clipped) != 2 {
		t.Fatalf("len = %d, want 2", len(clipped))
	}
	if clipped[0].State != models.StateMowing || !clipped[0].Timestamp.Equal(t0.Add(20*time.Minute)) {
		t.Errorf("first = %+v, want mowing from window start", clipped[0])
	}

	if got := clipStates(states, t0); len(got) != 3 {
		t.Errorf("unclipped len = %d", len(got))
	}
}

func TestPrintStatusReport(t *testing.T) {
	states := []models.StateSample{
		{State: models.StateMowing, Timestamp: t0},
		{State: models.StateReturningToStation, Timestamp: t0.Add(45 * time.Minute)},
	}
	distribution, timeline := telemetry.Aggregate(states, t0.Add(time.Hour))

	var buf bytes.Buffer
	printStatusReport(&buf, t0, t0.Add(time.Hour), distribution, timeline)
	out := buf.String()

	for _, want := range []string{"Mowing", "45m0s", "75.0%", "Returning to station", "25.0%", "08:45:00"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPredictionSummary(t *testing.T) {
	battery := []models.BatterySample{
		{Level: 50, Timestamp: t0},
		{Level: 40, Timestamp: t0.Add(10 * time.Minute)},
	}

	tests := []struct {
		name    string
		battery []models.BatterySample
		states  []models.StateSample
		want    string
	}{
		{name: "no samples", want: "No battery samples"},
		{
			name:    "discharging",
			battery: battery,
			states:  []models.StateSample{{State: models.StateMowing, Timestamp: t0}},
			want:    "Empty in ~40 min",
		},
		{
			name:    "contradicting trend",
			battery: battery,
			states:  []models.StateSample{{State: models.StateStationCharging, Timestamp: t0}},
			want:    "no prediction",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := predictionSummary(tt.battery, tt.states); !strings.Contains(got, tt.want) {
				t.Errorf("summary = %q, want to contain %q", got, tt.want)
			}
		})
	}
}
