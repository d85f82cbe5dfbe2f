package mower

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/mowgazer/internal/models"
)

// LatestFetcher 获取最近遥测
type LatestFetcher interface {
	GetLatestTelemetry(ctx context.Context, serial string) (*LatestTelemetry, error)
}

// PollingSource 定时轮询数据源（推送不可用时的兜底）
type PollingSource struct {
	logger   *zap.Logger
	fetcher  LatestFetcher
	interval time.Duration

	mu      sync.Mutex
	pollers map[int64]*poller
}

type poller struct {
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewPollingSource 创建轮询数据源
func NewPollingSource(logger *zap.Logger, fetcher LatestFetcher, interval time.Duration) *PollingSource {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &PollingSource{
		logger:   logger.With(zap.String("source", "polling")),
		fetcher:  fetcher,
		interval: interval,
		pollers:  make(map[int64]*poller),
	}
}

func (s *PollingSource) Name() string { return "polling" }

// Subscribe 立即轮询一次，随后按间隔轮询；鉴权失败直接返回错误
func (s *PollingSource) Subscribe(ctx context.Context, device *models.Device, handler func(models.Event)) error {
	seen := make(map[models.MeasurementKind]time.Time)

	if err := s.pollOnce(ctx, device, seen, handler); err != nil {
		if errors.Is(err, ErrUnauthorized) {
			return fmt.Errorf("initial poll: %w", err)
		}
		s.logger.Warn("Initial poll failed, will retry", zap.String("serial", device.Serial), zap.Error(err))
	}

	p := &poller{stopCh: make(chan struct{})}

	s.mu.Lock()
	if old, ok := s.pollers[device.ID]; ok {
		close(old.stopCh)
	}
	s.pollers[device.ID] = p
	s.mu.Unlock()

	p.wg.Add(1)
	go s.pollLoop(ctx, p, device, seen, handler)
	return nil
}

// Unsubscribe 停止设备的轮询
func (s *PollingSource) Unsubscribe(deviceID int64) {
	s.mu.Lock()
	p, ok := s.pollers[deviceID]
	delete(s.pollers, deviceID)
	s.mu.Unlock()

	if ok {
		close(p.stopCh)
		p.wg.Wait()
	}
}

// pollLoop 轮询循环
func (s *PollingSource) pollLoop(ctx context.Context, p *poller, device *models.Device, seen map[models.MeasurementKind]time.Time, handler func(models.Event)) {
	defer p.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			if err := s.pollOnce(ctx, device, seen, handler); err != nil {
				s.logger.Warn("Poll failed", zap.String("serial", device.Serial), zap.Error(err))
			}
		}
	}
}

// pollOnce 拉取最近遥测，只转发比上次更新的测量
func (s *PollingSource) pollOnce(ctx context.Context, device *models.Device, seen map[models.MeasurementKind]time.Time, handler func(models.Event)) error {
	latest, err := s.fetcher.GetLatestTelemetry(ctx, device.Serial)
	if err != nil {
		return err
	}

	for _, m := range latest.Measurements() {
		last, ok := seen[m.Kind()]
		if ok && !m.MeasuredAt().After(last) {
			continue
		}
		seen[m.Kind()] = m.MeasuredAt()
		handler(models.Event{DeviceID: device.ID, Measurement: m})
	}
	return nil
}
