package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/mowgazer/internal/api/mower"
	"github.com/langchou/mowgazer/internal/models"
	"github.com/langchou/mowgazer/internal/repository"
	"github.com/langchou/mowgazer/internal/telemetry"
	"github.com/langchou/mowgazer/pkg/ws"
)

// 错误定义
var (
	ErrNoSession     = errors.New("no device selected")
	ErrUnknownDevice = errors.New("unknown device")
	ErrNoSnapshot    = errors.New("no snapshot available")
	ErrCacheDisabled = errors.New("snapshot cache not configured")
)

// DeviceStore 设备名册
type DeviceStore interface {
	GetByID(ctx context.Context, id int64) (*models.Device, error)
	List(ctx context.Context) ([]*models.Device, error)
	Upsert(ctx context.Context, d *models.Device) error
}

// HistoryFetcher 历史测量查询（按时间升序）
type HistoryFetcher interface {
	FetchBatteryHistory(ctx context.Context, deviceID int64, from, to time.Time) ([]models.BatterySample, error)
	FetchGpsHistory(ctx context.Context, deviceID int64, from, to time.Time) ([]models.GpsSample, error)
	FetchStateHistory(ctx context.Context, deviceID int64, from, to time.Time) ([]models.StateSample, error)
}

// RemoteHistory 后端按序列号提供的历史查询，本地无数据时使用
type RemoteHistory interface {
	FetchBatteryHistory(ctx context.Context, serial string, from, to time.Time) ([]models.BatterySample, error)
	FetchGpsHistory(ctx context.Context, serial string, from, to time.Time) ([]models.GpsSample, error)
	FetchStateHistory(ctx context.Context, serial string, from, to time.Time) ([]models.StateSample, error)
}

// Recorder 实时数据持久化
type Recorder interface {
	Record(ctx context.Context, ev models.Event) error
	RecordAlert(ctx context.Context, alert *models.StuckAlert) error
	ListAlerts(ctx context.Context, deviceID int64, limit int) ([]*models.StuckAlert, error)
}

// MeasurementSource 实时测量数据源（推送或轮询）
type MeasurementSource interface {
	Name() string
	Subscribe(ctx context.Context, device *models.Device, handler func(models.Event)) error
	Unsubscribe(deviceID int64)
}

// SnapshotStore 设备快照缓存
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snap *models.DeviceSnapshot) error
	LoadSnapshot(ctx context.Context, deviceID int64) (*models.DeviceSnapshot, error)
	PublishAlert(ctx context.Context, alert *models.StuckAlert) error
	Nearby(ctx context.Context, lat, lon, radiusMeters float64) ([]int64, error)
}

// Broadcaster 向界面推送
type Broadcaster interface {
	BroadcastStateUpdate(snapshot interface{})
	BroadcastLogMessage(message interface{})
	BroadcastStuckAlert(alert interface{})
}

// Commander 远程命令下发
type Commander interface {
	SendCommand(ctx context.Context, cmd *models.Command) error
}

// RosterSource 后端设备列表
type RosterSource interface {
	ListDevices(ctx context.Context) ([]mower.DeviceInfo, error)
}

// Options 驾驶舱服务依赖；除 Devices 和 History 外均可为空
type Options struct {
	Telemetry     telemetry.Config
	LiveRange     time.Duration
	HistoryRange  time.Duration
	RearmInterval time.Duration // 降级后多久尝试恢复高优先级数据源

	Devices   DeviceStore
	History   HistoryFetcher
	Remote    RemoteHistory
	Recorder  Recorder
	Cache     SnapshotStore
	Hub       Broadcaster
	Commander Commander
	Roster    RosterSource
	Sources   []MeasurementSource // 按优先级排列
}

// CockpitService 驾驶舱服务：同一时刻只跟踪一台选中的设备
type CockpitService struct {
	opts   Options
	logger *zap.Logger

	selectMu sync.Mutex // 串行化选择/取消选择
	mu       sync.RWMutex
	device   *models.Device
	session  *telemetry.Session
	source   MeasurementSource

	rearm *time.Timer // 受 selectMu 保护

	events  chan models.Event
	runCtx  context.Context
	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
}

// NewCockpitService 创建驾驶舱服务
func NewCockpitService(logger *zap.Logger, opts Options) *CockpitService {
	if opts.LiveRange <= 0 {
		opts.LiveRange = 5 * time.Minute
	}
	if opts.HistoryRange <= 0 {
		opts.HistoryRange = time.Hour
	}
	if opts.Telemetry.LiveRange <= 0 {
		opts.Telemetry.LiveRange = opts.LiveRange
	}
	if opts.RearmInterval <= 0 {
		opts.RearmInterval = time.Minute
	}

	s := &CockpitService{
		opts:   opts,
		logger: logger,
		events: make(chan models.Event, 256),
		runCtx: context.Background(),
		stopCh: make(chan struct{}),
	}
	for _, src := range opts.Sources {
		if r, ok := src.(LossReporter); ok {
			src := src
			r.OnLost(func(deviceID int64, err error) {
				s.sourceLost(src, deviceID, err)
			})
		}
	}
	return s
}

// Start 启动事件处理循环
func (s *CockpitService) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.runCtx = ctx
	s.mu.Unlock()

	s.wg.Add(1)
	go s.runLoop()

	s.logger.Info("Cockpit service started", zap.Int("sources", len(s.opts.Sources)))
}

// Stop 停止服务并释放当前会话
func (s *CockpitService) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.Deselect()

	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("Cockpit service stopped")
}

// Select 选中设备：拆除旧会话，预热新会话并订阅实时数据
func (s *CockpitService) Select(ctx context.Context, deviceID int64) (*models.Device, error) {
	device, err := s.lookupDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	s.selectMu.Lock()
	defer s.selectMu.Unlock()

	s.teardown()

	session := telemetry.NewSession(device.ID, s.opts.Telemetry, s.logger)
	s.seed(ctx, session, device)

	s.mu.Lock()
	s.device = device
	s.session = session
	runCtx := s.runCtx
	s.mu.Unlock()

	source, err := s.subscribeRange(runCtx, device, 0, len(s.opts.Sources))
	if err != nil {
		s.mu.Lock()
		s.device = nil
		s.session = nil
		s.mu.Unlock()
		return nil, fmt.Errorf("subscribe measurements: %w", err)
	}

	s.mu.Lock()
	s.source = source
	s.mu.Unlock()

	if s.sourceIndex(source) > 0 {
		s.scheduleRearm()
	}

	s.logger.Info("Device selected",
		zap.Int64("device_id", device.ID),
		zap.String("serial", device.Serial),
		zap.String("source", sourceName(source)))

	if s.opts.Hub != nil {
		s.opts.Hub.BroadcastStateUpdate(session.Snapshot())
	}
	return device, nil
}

// Deselect 取消选中，丢弃会话的全部状态
func (s *CockpitService) Deselect() {
	s.selectMu.Lock()
	defer s.selectMu.Unlock()
	s.teardown()
}

// teardown 先退订再清空会话；调用方需持有 selectMu
func (s *CockpitService) teardown() {
	if s.rearm != nil {
		s.rearm.Stop()
		s.rearm = nil
	}

	s.mu.Lock()
	device, source := s.device, s.source
	s.device = nil
	s.session = nil
	s.source = nil
	s.mu.Unlock()

	if device != nil && source != nil {
		source.Unsubscribe(device.ID)
		s.logger.Info("Device deselected", zap.Int64("device_id", device.ID))
	}
}

// subscribeRange 按优先级尝试 Sources[start:end]，首个成功的生效
func (s *CockpitService) subscribeRange(ctx context.Context, device *models.Device, start, end int) (MeasurementSource, error) {
	if start < 0 {
		start = 0
	}
	if end > len(s.opts.Sources) {
		end = len(s.opts.Sources)
	}
	if start >= end {
		return nil, nil
	}

	var lastErr error
	for _, src := range s.opts.Sources[start:end] {
		if err := src.Subscribe(ctx, device, s.enqueue); err != nil {
			s.logger.Warn("Measurement source unavailable, trying next",
				zap.String("source", src.Name()),
				zap.Int64("device_id", device.ID),
				zap.Error(err))
			lastErr = err
			continue
		}
		return src, nil
	}
	return nil, lastErr
}

// seed 用实时窗口内的历史数据预热会话
func (s *CockpitService) seed(ctx context.Context, session *telemetry.Session, device *models.Device) {
	to := time.Now()
	from := to.Add(-s.opts.LiveRange)

	battery, err := s.batteryHistory(ctx, device, from, to)
	if err != nil {
		s.logger.Warn("Failed to load battery history", zap.Int64("device_id", device.ID), zap.Error(err))
	}
	states, err := s.stateHistory(ctx, device, from, to)
	if err != nil {
		s.logger.Warn("Failed to load state history", zap.Int64("device_id", device.ID), zap.Error(err))
	}

	var last *models.StateSample
	if n := len(states); n > 0 {
		last = &states[n-1]
	}
	session.Seed(battery, last)
}

// enqueue 数据源回调，交由单一消费协程处理
func (s *CockpitService) enqueue(ev models.Event) {
	select {
	case s.events <- ev:
	case <-s.stopCh:
	}
}

// runLoop 单消费者事件循环
func (s *CockpitService) runLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopCh:
			return
		case ev := <-s.events:
			s.handleEvent(ev)
		}
	}
}

// handleEvent 处理一条实时测量
func (s *CockpitService) handleEvent(ev models.Event) {
	s.mu.RLock()
	session := s.session
	ctx := s.runCtx
	s.mu.RUnlock()

	// 过期事件（已切换设备）直接丢弃
	if session == nil || session.DeviceID() != ev.DeviceID || ev.Measurement == nil {
		return
	}

	effects := session.Apply(ev)

	if s.opts.Recorder != nil {
		if err := s.opts.Recorder.Record(ctx, ev); err != nil {
			s.logger.Error("Failed to record measurement",
				zap.Int64("device_id", ev.DeviceID),
				zap.String("kind", string(ev.Measurement.Kind())),
				zap.Error(err))
		}
	}

	snapshot := session.Snapshot()
	if s.opts.Cache != nil {
		if err := s.opts.Cache.SaveSnapshot(ctx, snapshot); err != nil {
			s.logger.Warn("Failed to cache snapshot", zap.Int64("device_id", ev.DeviceID), zap.Error(err))
		}
	}
	if s.opts.Hub != nil {
		s.opts.Hub.BroadcastStateUpdate(snapshot)
		for _, msg := range effects.Messages {
			s.opts.Hub.BroadcastLogMessage(msg)
		}
	}

	if effects.Alert != nil {
		s.dispatchAlert(ctx, effects.Alert)
	}
}

// dispatchAlert 持久化并推送卡死告警
func (s *CockpitService) dispatchAlert(ctx context.Context, alert *models.StuckAlert) {
	if s.opts.Recorder != nil {
		if err := s.opts.Recorder.RecordAlert(ctx, alert); err != nil {
			s.logger.Error("Failed to record stuck alert", zap.Int64("device_id", alert.DeviceID), zap.Error(err))
		}
	}
	if s.opts.Cache != nil {
		if err := s.opts.Cache.PublishAlert(ctx, alert); err != nil {
			s.logger.Warn("Failed to publish stuck alert", zap.Int64("device_id", alert.DeviceID), zap.Error(err))
		}
	}
	if s.opts.Hub != nil {
		s.opts.Hub.BroadcastStuckAlert(alert)
	}
}

// lookupDevice 查询设备，不存在时返回 ErrUnknownDevice
func (s *CockpitService) lookupDevice(ctx context.Context, deviceID int64) (*models.Device, error) {
	device, err := s.opts.Devices.GetByID(ctx, deviceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUnknownDevice
		}
		return nil, fmt.Errorf("get device: %w", err)
	}
	return device, nil
}

// Current 当前选中的设备及会话
func (s *CockpitService) Current() (*models.Device, *telemetry.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return nil, nil, ErrNoSession
	}
	return s.device, s.session, nil
}

// SourceName 当前生效的数据源
func (s *CockpitService) SourceName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sourceName(s.source)
}

// InitData WebSocket 新连接的初始数据
func (s *CockpitService) InitData() *ws.InitData {
	device, session, err := s.Current()
	if err != nil {
		return &ws.InitData{}
	}
	return &ws.InitData{
		Device:   device,
		Snapshot: session.Snapshot(),
		Messages: session.Messages(),
	}
}

func sourceName(src MeasurementSource) string {
	if src == nil {
		return "none"
	}
	return src.Name()
}
