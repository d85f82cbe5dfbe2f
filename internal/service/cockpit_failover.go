package service

import (
	"time"

	"go.uber.org/zap"
)

// LossReporter 订阅建立后仍可能失效的数据源（设备离线、重连放弃）
type LossReporter interface {
	OnLost(fn func(deviceID int64, err error))
}

// sourceLost 数据源回调；切换在独立协程中进行，避免阻塞数据源自身的读循环
func (s *CockpitService) sourceLost(src MeasurementSource, deviceID int64, reason error) {
	s.logger.Warn("Measurement source lost",
		zap.String("source", src.Name()),
		zap.Int64("device_id", deviceID),
		zap.Error(reason))

	go s.failover(src, deviceID)
}

// failover 改用优先级更低的数据源，并安排稍后恢复
func (s *CockpitService) failover(lost MeasurementSource, deviceID int64) {
	s.selectMu.Lock()
	defer s.selectMu.Unlock()

	s.mu.RLock()
	device, current, ctx := s.device, s.source, s.runCtx
	s.mu.RUnlock()

	// 已切换设备或已换过数据源
	if device == nil || device.ID != deviceID || current != lost {
		return
	}
	lost.Unsubscribe(deviceID)

	next, err := s.subscribeRange(ctx, device, s.sourceIndex(lost)+1, len(s.opts.Sources))

	s.mu.Lock()
	s.source = next
	s.mu.Unlock()

	if next == nil {
		s.logger.Error("No measurement source available",
			zap.Int64("device_id", deviceID),
			zap.Error(err))
	} else {
		s.logger.Info("Switched measurement source",
			zap.Int64("device_id", deviceID),
			zap.String("from", lost.Name()),
			zap.String("to", next.Name()))
	}
	s.scheduleRearm()
}

// scheduleRearm 调用方需持有 selectMu
func (s *CockpitService) scheduleRearm() {
	if s.rearm != nil {
		s.rearm.Stop()
	}
	s.rearm = time.AfterFunc(s.opts.RearmInterval, s.rearmSource)
}

// rearmSource 尝试恢复比当前更优先的数据源，失败则继续定时重试
func (s *CockpitService) rearmSource() {
	s.selectMu.Lock()
	defer s.selectMu.Unlock()

	s.mu.RLock()
	device, current, ctx := s.device, s.source, s.runCtx
	s.mu.RUnlock()
	if device == nil {
		return
	}

	limit := len(s.opts.Sources)
	if current != nil {
		limit = s.sourceIndex(current)
	}
	if limit <= 0 {
		return
	}

	next, err := s.subscribeRange(ctx, device, 0, limit)
	if next == nil {
		s.logger.Debug("Preferred measurement source still unavailable",
			zap.Int64("device_id", device.ID),
			zap.Error(err))
		s.scheduleRearm()
		return
	}

	if current != nil {
		current.Unsubscribe(device.ID)
	}
	s.mu.Lock()
	s.source = next
	s.mu.Unlock()

	s.logger.Info("Measurement source restored",
		zap.Int64("device_id", device.ID),
		zap.String("source", next.Name()))

	if s.sourceIndex(next) > 0 {
		s.scheduleRearm()
	}
}

func (s *CockpitService) sourceIndex(src MeasurementSource) int {
	if src == nil {
		return -1
	}
	for i, candidate := range s.opts.Sources {
		if candidate == src {
			return i
		}
	}
	return -1
}
