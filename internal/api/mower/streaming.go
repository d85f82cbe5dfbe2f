package mower

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/langchou/mowgazer/internal/models"
)

// ErrorDeviceOffline 后端推送的设备离线错误码
const ErrorDeviceOffline = "device_offline"

var errClientStopped = errors.New("streaming client stopped")

// StreamingCallbacks 流数据回调函数
type StreamingCallbacks struct {
	OnFrame         func(serial string, frame *Frame) // 收到测量数据
	OnConnect       func(serial string)               // 连接成功
	OnDisconnect    func(serial string)               // 断开连接
	OnDeviceOffline func(serial string)               // 设备离线，停止重连
	OnGiveUp        func(serial string, err error)    // 连续重连失败，放弃
}

// StreamingClient 单台设备的 WebSocket 推送客户端
type StreamingClient struct {
	logger    *zap.Logger
	serial    string
	token     string
	host      string
	callbacks StreamingCallbacks

	mu            sync.RWMutex
	conn          *websocket.Conn
	connected     bool
	deviceOffline bool // 设备离线标记，停止自动重连
	stopOnce      sync.Once
	stopCh        chan struct{}
	reconnectCh   chan struct{}

	// 重连配置
	reconnectDelay       time.Duration
	maxReconnectDelay    time.Duration
	currentDelay         time.Duration
	maxReconnectAttempts int
}

// DefaultMaxReconnectAttempts 连续重连失败多少次后放弃
const DefaultMaxReconnectAttempts = 5

// NewStreamingClient 创建 Streaming 客户端
func NewStreamingClient(logger *zap.Logger, host, serial, token string) *StreamingClient {
	return &StreamingClient{
		logger:               logger,
		serial:               serial,
		token:                token,
		host:                 host,
		stopCh:               make(chan struct{}),
		reconnectCh:          make(chan struct{}, 1),
		reconnectDelay:       1 * time.Second,
		maxReconnectDelay:    30 * time.Second,
		currentDelay:         1 * time.Second,
		maxReconnectAttempts: DefaultMaxReconnectAttempts,
	}
}

// SetCallbacks 设置回调函数
func (c *StreamingClient) SetCallbacks(callbacks StreamingCallbacks) {
	c.callbacks = callbacks
}

// Connect 建立连接并发送订阅
func (c *StreamingClient) Connect(ctx context.Context) error {
	select {
	case <-c.stopCh:
		return errClientStopped
	default:
	}

	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, c.host, nil)
	if err != nil {
		return fmt.Errorf("dial streaming: %w", err)
	}

	sub := Frame{Type: FrameSubscribe, Device: c.serial, Token: c.token}
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		return fmt.Errorf("subscribe: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.currentDelay = c.reconnectDelay // 重置重连延迟
	c.mu.Unlock()

	c.logger.Info("Streaming connected", zap.String("serial", c.serial))

	if c.callbacks.OnConnect != nil {
		c.callbacks.OnConnect(c.serial)
	}

	go c.readLoop(conn)

	return nil
}

// IsConnected 检查连接状态
func (c *StreamingClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// IsDeviceOffline 检查设备是否离线
func (c *StreamingClient) IsDeviceOffline() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.deviceOffline
}

// closeConn 关闭当前连接
func (c *StreamingClient) closeConn() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.connected = false
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// readLoop 消息读取循环
func (c *StreamingClient) readLoop(conn *websocket.Conn) {
	defer func() {
		c.mu.Lock()
		current := c.conn == conn
		if current {
			c.connected = false
		}
		c.mu.Unlock()

		if !current {
			return
		}
		if c.callbacks.OnDisconnect != nil {
			c.callbacks.OnDisconnect(c.serial)
		}
		c.triggerReconnect()
	}()

	for {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.stopCh:
				return
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				c.logger.Debug("Streaming connection closed normally", zap.String("serial", c.serial))
			} else {
				c.logger.Warn("Streaming read error", zap.String("serial", c.serial), zap.Error(err))
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(message, &frame); err != nil {
			c.logger.Warn("Failed to parse streaming message",
				zap.String("serial", c.serial),
				zap.String("message", string(message)),
				zap.Error(err))
			continue
		}

		c.handleFrame(&frame)
	}
}

// handleFrame 处理消息
func (c *StreamingClient) handleFrame(frame *Frame) {
	switch frame.Type {
	case FrameBattery, FrameGps, FrameState:
		if frame.Device != "" && frame.Device != c.serial {
			return
		}
		if c.callbacks.OnFrame != nil {
			c.callbacks.OnFrame(c.serial, frame)
		}

	case FrameError:
		c.logger.Warn("Streaming error",
			zap.String("serial", c.serial),
			zap.String("error", frame.Error))

		if frame.Error == ErrorDeviceOffline {
			c.mu.Lock()
			c.deviceOffline = true
			c.mu.Unlock()

			c.logger.Info("Device is offline, stopping streaming reconnect", zap.String("serial", c.serial))
			if c.callbacks.OnDeviceOffline != nil {
				c.callbacks.OnDeviceOffline(c.serial)
			}
		}

	case FrameHello:
		c.logger.Debug("Streaming hello received", zap.String("serial", c.serial))

	default:
		c.logger.Debug("Unknown streaming message type",
			zap.String("serial", c.serial),
			zap.String("type", frame.Type))
	}
}

// triggerReconnect 触发重连
func (c *StreamingClient) triggerReconnect() {
	select {
	case c.reconnectCh <- struct{}{}:
	default:
		// 已有重连请求排队
	}
}

// run 等待断线信号并按指数退避重连
func (c *StreamingClient) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			c.Stop()
			return
		case <-c.stopCh:
			return
		case <-c.reconnectCh:
		}

		if c.IsDeviceOffline() {
			c.logger.Debug("Device offline, not reconnecting", zap.String("serial", c.serial))
			c.closeConn()
			return
		}

		c.closeConn()
		for attempt := 1; ; attempt++ {
			c.logger.Info("Reconnecting streaming", zap.String("serial", c.serial), zap.Int("attempt", attempt))
			err := c.Connect(ctx)
			if err == nil {
				break
			}

			if c.maxReconnectAttempts > 0 && attempt >= c.maxReconnectAttempts {
				c.logger.Warn("Streaming reconnect gave up",
					zap.String("serial", c.serial),
					zap.Int("attempts", attempt),
					zap.Error(err))
				c.Stop()
				if c.callbacks.OnGiveUp != nil {
					c.callbacks.OnGiveUp(c.serial, err)
				}
				return
			}

			c.mu.RLock()
			delay := c.currentDelay
			c.mu.RUnlock()

			c.logger.Warn("Streaming connect failed, will retry",
				zap.String("serial", c.serial),
				zap.Duration("delay", delay),
				zap.Error(err))

			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-time.After(delay):
			}

			// 指数退避
			c.mu.Lock()
			c.currentDelay *= 2
			if c.currentDelay > c.maxReconnectDelay {
				c.currentDelay = c.maxReconnectDelay
			}
			c.mu.Unlock()
		}
	}
}

// Stop 停止客户端（包括重连循环）
func (c *StreamingClient) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
	c.closeConn()
}

// StreamingSource WebSocket 推送数据源
// 设备离线或重连放弃时移除订阅，并通过 OnLost 通知调用方切换数据源。
type StreamingSource struct {
	logger *zap.Logger
	host   string
	token  string

	mu      sync.Mutex
	clients map[int64]*StreamingClient
	onLost  func(deviceID int64, err error)
}

// NewStreamingSource 创建推送数据源
func NewStreamingSource(logger *zap.Logger, host, token string) *StreamingSource {
	return &StreamingSource{
		logger:  logger.With(zap.String("source", "streaming")),
		host:    host,
		token:   token,
		clients: make(map[int64]*StreamingClient),
	}
}

func (s *StreamingSource) Name() string { return "streaming" }

// OnLost 注册订阅失效回调
func (s *StreamingSource) OnLost(fn func(deviceID int64, err error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onLost = fn
}

// Subscribe 首次连接同步完成，失败时返回错误以便调用方切换数据源
func (s *StreamingSource) Subscribe(ctx context.Context, device *models.Device, handler func(models.Event)) error {
	client := NewStreamingClient(s.logger, s.host, device.Serial, s.token)
	deviceID := device.ID
	client.SetCallbacks(StreamingCallbacks{
		OnFrame: func(serial string, frame *Frame) {
			m, err := frame.Measurement()
			if err != nil {
				s.logger.Debug("Dropping malformed frame", zap.String("serial", serial), zap.Error(err))
				return
			}
			handler(models.Event{DeviceID: deviceID, Measurement: m})
		},
		OnDisconnect: func(serial string) {
			s.logger.Info("Streaming disconnected", zap.String("serial", serial))
		},
		OnDeviceOffline: func(serial string) {
			s.lost(deviceID, client, fmt.Errorf("streaming %s: %w", serial, ErrDeviceUnavailable))
		},
		OnGiveUp: func(serial string, err error) {
			s.lost(deviceID, client, fmt.Errorf("reconnect streaming %s: %w", serial, err))
		},
	})

	// 先登记再连接，连接期间收到的离线通知也能找到该客户端
	s.mu.Lock()
	old, hadOld := s.clients[deviceID]
	s.clients[deviceID] = client
	s.mu.Unlock()
	if hadOld {
		old.Stop()
	}

	if err := client.Connect(ctx); err != nil {
		s.remove(deviceID, client)
		client.Stop()
		return fmt.Errorf("connect streaming: %w", err)
	}

	go client.run(ctx)
	return nil
}

// remove 仅当登记的仍是该客户端时移除
func (s *StreamingSource) remove(deviceID int64, client *StreamingClient) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clients[deviceID] != client {
		return false
	}
	delete(s.clients, deviceID)
	return true
}

// lost 订阅失效：停止客户端并通知调用方
func (s *StreamingSource) lost(deviceID int64, client *StreamingClient, reason error) {
	if !s.remove(deviceID, client) {
		return
	}
	client.Stop()

	s.logger.Warn("Streaming subscription lost", zap.Int64("device_id", deviceID), zap.Error(reason))

	s.mu.Lock()
	onLost := s.onLost
	s.mu.Unlock()
	if onLost != nil {
		onLost(deviceID, reason)
	}
}

// Unsubscribe 断开设备的推送连接
func (s *StreamingSource) Unsubscribe(deviceID int64) {
	s.mu.Lock()
	client, ok := s.clients[deviceID]
	delete(s.clients, deviceID)
	s.mu.Unlock()

	if ok {
		client.Stop()
	}
}
