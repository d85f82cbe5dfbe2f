package mower

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/langchou/mowgazer/internal/models"
)

type fakeFetcher struct {
	mu      sync.Mutex
	calls   int
	results []*LatestTelemetry
	err     error
}

func (f *fakeFetcher) GetLatestTelemetry(ctx context.Context, serial string) (*LatestTelemetry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	i := f.calls
	if i >= len(f.results) {
		i = len(f.results) - 1
	}
	f.calls++
	return f.results[i], nil
}

func TestPollingSourceDedup(t *testing.T) {
	fetcher := &fakeFetcher{results: []*LatestTelemetry{
		{Battery: &BatteryPoint{Level: 50, Timestamp: 1000}, State: &StatePoint{State: 2, Timestamp: 1000}},
		{Battery: &BatteryPoint{Level: 50, Timestamp: 1000}, State: &StatePoint{State: 2, Timestamp: 1000}},
		{Battery: &BatteryPoint{Level: 49, Timestamp: 2000}, State: &StatePoint{State: 2, Timestamp: 1000}},
	}}

	src := NewPollingSource(zaptest.NewLogger(t), fetcher, 10*time.Millisecond)
	events := make(chan models.Event, 20)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := src.Subscribe(ctx, &models.Device{ID: 3, Serial: "M-3"}, func(ev models.Event) { events <- ev }); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	var got []models.Event
	timeout := time.After(2 * time.Second)
	for len(got) < 3 {
		select {
		case ev := <-events:
			got = append(got, ev)
		case <-timeout:
			t.Fatalf("timed out with %d events", len(got))
		}
	}
	src.Unsubscribe(3)

	b, ok := got[2].Measurement.(models.BatterySample)
	if !ok || b.Level != 49 {
		t.Errorf("third event = %#v, want battery 49", got[2].Measurement)
	}

	// 取消订阅后不再产生事件
	select {
	case ev := <-events:
		t.Errorf("unexpected event after unsubscribe: %#v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPollingSourceUnauthorized(t *testing.T) {
	src := NewPollingSource(zaptest.NewLogger(t), &fakeFetcher{err: ErrUnauthorized}, time.Second)

	err := src.Subscribe(context.Background(), &models.Device{ID: 1, Serial: "M-1"}, func(models.Event) {})
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}
}

func TestPollingSourceSkipsUndatedSamples(t *testing.T) {
	fetcher := &fakeFetcher{results: []*LatestTelemetry{
		{Battery: &BatteryPoint{Level: 5}, Gps: &GpsPoint{Latitude: 47.1, Longitude: 8.2}},
	}}

	src := NewPollingSource(zaptest.NewLogger(t), fetcher, 5*time.Millisecond)
	events := make(chan models.Event, 20)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := src.Subscribe(ctx, &models.Device{ID: 4, Serial: "M-4"}, func(ev models.Event) { events <- ev }); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	// 等待若干轮询周期
	deadline := time.After(2 * time.Second)
	for {
		fetcher.mu.Lock()
		calls := fetcher.calls
		fetcher.mu.Unlock()
		if calls >= 4 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("only %d polls", calls)
		case <-time.After(5 * time.Millisecond):
		}
	}
	src.Unsubscribe(4)

	if n := len(events); n != 0 {
		t.Errorf("forwarded %d undated samples, want 0", n)
	}
}
