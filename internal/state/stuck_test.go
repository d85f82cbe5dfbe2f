package state

import (
	"testing"
	"time"

	"github.com/langchou/mowgazer/internal/models"
)

var base = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

func gps(lat, lon float64, offset time.Duration) models.GpsSample {
	return models.GpsSample{Latitude: lat, Longitude: lon, Timestamp: base.Add(offset)}
}

func TestStuckDetectorSingleAlertWhileMotionless(t *testing.T) {
	d := NewStuckDetector(90*time.Second, 1.0, nil)
	d.SetDeviceState(models.StateMowing)

	// 全部采样相距 < 0.5 m，总时长 91 s
	samples := []models.GpsSample{
		gps(47.000000, 8.000000, 0),
		gps(47.000001, 8.000001, 23*time.Second),
		gps(47.000002, 8.000000, 46*time.Second),
		gps(47.000001, 8.000002, 69*time.Second),
		gps(47.000000, 8.000001, 91*time.Second),
	}

	alerts := 0
	var last *models.StuckAlert
	for _, s := range samples {
		if a := d.Observe(s); a != nil {
			alerts++
			last = a
		}
	}

	if alerts != 1 {
		t.Fatalf("expected exactly 1 alert, got %d", alerts)
	}
	if last.ElapsedSeconds != 91 {
		t.Errorf("ElapsedSeconds = %v, want 91", last.ElapsedSeconds)
	}
	if !last.DetectedAt.Equal(base.Add(91 * time.Second)) {
		t.Errorf("DetectedAt = %v", last.DetectedAt)
	}

	anchor, ok := d.Anchor()
	if !ok || !anchor.Timestamp.Equal(base.Add(91*time.Second)) {
		t.Errorf("anchor should be reset to the alert sample, got %+v (ok=%v)", anchor, ok)
	}
}

func TestStuckDetectorMovementResetsClock(t *testing.T) {
	d := NewStuckDetector(90*time.Second, 1.0, nil)
	d.SetDeviceState(models.StateMowing)

	if a := d.Observe(gps(47.0, 8.0, 0)); a != nil {
		t.Fatal("first sample must not alert")
	}
	if a := d.Observe(gps(47.0, 8.0, 80*time.Second)); a != nil {
		t.Fatal("80s stationary must not alert")
	}
	// 约 2.2 m 位移
	if a := d.Observe(gps(47.00002, 8.0, 85*time.Second)); a != nil {
		t.Fatal("movement must not alert")
	}
	anchor, _ := d.Anchor()
	if !anchor.Timestamp.Equal(base.Add(85 * time.Second)) {
		t.Errorf("anchor should move with the device, got %v", anchor.Timestamp)
	}
	if a := d.Observe(gps(47.00002, 8.0, 170*time.Second)); a != nil {
		t.Fatal("85s since the last movement must not alert")
	}
}

func TestStuckDetectorDebounce(t *testing.T) {
	d := NewStuckDetector(90*time.Second, 1.0, nil)
	d.SetDeviceState(models.StateReturningToStation)

	var alertTimes []time.Duration
	for sec := 0; sec <= 200; sec += 10 {
		off := time.Duration(sec) * time.Second
		if a := d.Observe(gps(47.0, 8.0, off)); a != nil {
			alertTimes = append(alertTimes, off)
		}
	}

	want := []time.Duration{100 * time.Second, 200 * time.Second}
	if len(alertTimes) != len(want) {
		t.Fatalf("alerts at %v, want %v", alertTimes, want)
	}
	for i := range want {
		if alertTimes[i] != want[i] {
			t.Errorf("alert %d at %v, want %v", i, alertTimes[i], want[i])
		}
	}
}

func TestStuckDetectorIneligibleStates(t *testing.T) {
	tests := []struct {
		name  string
		state *models.DeviceState
	}{
		{name: "state unknown", state: nil},
		{name: "paused", state: ptr(models.StatePaused)},
		{name: "error", state: ptr(models.StateError)},
		{name: "charging", state: ptr(models.StateStationCharging)},
		{name: "out of range", state: ptr(models.DeviceState(9))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewStuckDetector(90*time.Second, 1.0, nil)
			if tt.state != nil {
				d.SetDeviceState(*tt.state)
			}
			for sec := 0; sec <= 300; sec += 30 {
				if a := d.Observe(gps(47.0, 8.0, time.Duration(sec)*time.Second)); a != nil {
					t.Fatalf("unexpected alert at %ds", sec)
				}
			}
			if d.Tracking() {
				t.Error("detector must stay idle")
			}
			if _, ok := d.Anchor(); ok {
				t.Error("no anchor expected")
			}
		})
	}
}

func TestStuckDetectorLeavingEligibleStateDropsAnchor(t *testing.T) {
	var transitions []string
	d := NewStuckDetector(90*time.Second, 1.0, func(from, to string) {
		transitions = append(transitions, from+"->"+to)
	})

	d.SetDeviceState(models.StateMowing)
	d.Observe(gps(47.0, 8.0, 0))
	if !d.Tracking() {
		t.Fatal("expected tracking after first sample in mowing")
	}

	d.SetDeviceState(models.StatePaused)
	if d.Tracking() {
		t.Fatal("pausing must stop tracking")
	}

	d.SetDeviceState(models.StateMowing)
	if a := d.Observe(gps(47.0, 8.0, 100*time.Second)); a != nil {
		t.Fatal("anchor from before the pause must not count")
	}
	if a := d.Observe(gps(47.0, 8.0, 150*time.Second)); a != nil {
		t.Fatal("only 50s since re-anchoring")
	}
	if a := d.Observe(gps(47.0, 8.0, 191*time.Second)); a == nil {
		t.Fatal("expected alert 91s after re-anchoring")
	}

	want := []string{"idle->tracking", "tracking->idle", "idle->tracking"}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %s, want %s", i, transitions[i], want[i])
		}
	}
}

func TestStuckDetectorDefaults(t *testing.T) {
	d := NewStuckDetector(0, 0, nil)
	if d.Threshold() != DefaultStuckThreshold {
		t.Errorf("Threshold() = %v, want %v", d.Threshold(), DefaultStuckThreshold)
	}
	if d.Current() != StateIdle {
		t.Errorf("Current() = %s, want %s", d.Current(), StateIdle)
	}
}

func ptr(s models.DeviceState) *models.DeviceState { return &s }
