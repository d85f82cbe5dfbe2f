package mower

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/langchou/mowgazer/internal/models"
)

// MQTTOptions MQTT 连接参数
type MQTTOptions struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	Timeout     time.Duration
}

type mqttSubscription struct {
	device  *models.Device
	handler func(models.Event)
}

// MQTTSource MQTT 推送数据源，同时负责命令下发
type MQTTSource struct {
	logger  *zap.Logger
	client  mqtt.Client
	prefix  string
	qos     byte
	timeout time.Duration

	mu   sync.RWMutex
	subs map[int64]mqttSubscription
}

// NewMQTTSource 连接 Broker
func NewMQTTSource(logger *zap.Logger, opts MQTTOptions) (*MQTTSource, error) {
	s := &MQTTSource{
		logger:  logger.With(zap.String("source", "mqtt")),
		prefix:  strings.Trim(opts.TopicPrefix, "/"),
		qos:     1,
		timeout: opts.Timeout,
		subs:    make(map[int64]mqttSubscription),
	}
	if s.timeout <= 0 {
		s.timeout = 5 * time.Second
	}

	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetUsername(opts.Username).
		SetPassword(opts.Password).
		SetKeepAlive(60 * time.Second).
		SetPingTimeout(1 * time.Second).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(10 * time.Second).
		SetCleanSession(true)

	clientOpts.SetOnConnectHandler(s.onConnect)
	clientOpts.SetConnectionLostHandler(s.onConnectionLost)

	s.client = mqtt.NewClient(clientOpts)
	if token := s.client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect mqtt broker: %w", token.Error())
	}
	return s, nil
}

func (s *MQTTSource) Name() string { return "mqtt" }

// TelemetryTopic 设备遥测主题
func (s *MQTTSource) TelemetryTopic(serial string) string {
	return s.prefix + "/" + serial + "/telemetry"
}

// CommandTopic 设备命令主题
func (s *MQTTSource) CommandTopic(serial string) string {
	return s.prefix + "/" + serial + "/commands"
}

// onConnect 重连后重新订阅
func (s *MQTTSource) onConnect(client mqtt.Client) {
	s.mu.RLock()
	subs := make([]mqttSubscription, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.RUnlock()

	s.logger.Info("Connected to MQTT broker", zap.Int("subscriptions", len(subs)))
	for _, sub := range subs {
		if err := s.subscribeTopic(sub); err != nil {
			s.logger.Error("Failed to resubscribe", zap.String("serial", sub.device.Serial), zap.Error(err))
		}
	}
}

func (s *MQTTSource) onConnectionLost(client mqtt.Client, err error) {
	s.logger.Error("MQTT connection lost, reconnecting", zap.Error(err))
}

func (s *MQTTSource) subscribeTopic(sub mqttSubscription) error {
	topic := s.TelemetryTopic(sub.device.Serial)
	token := s.client.Subscribe(topic, s.qos, func(_ mqtt.Client, msg mqtt.Message) {
		s.handleMessage(sub, msg.Payload())
	})
	if !token.WaitTimeout(s.timeout) {
		return fmt.Errorf("subscribe %s: timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return nil
}

// handleMessage 解析遥测消息
func (s *MQTTSource) handleMessage(sub mqttSubscription, payload []byte) {
	var frame Frame
	if err := json.Unmarshal(payload, &frame); err != nil {
		s.logger.Warn("Failed to parse mqtt message", zap.String("serial", sub.device.Serial), zap.Error(err))
		return
	}

	m, err := frame.Measurement()
	if err != nil {
		s.logger.Debug("Dropping malformed frame", zap.String("serial", sub.device.Serial), zap.Error(err))
		return
	}
	sub.handler(models.Event{DeviceID: sub.device.ID, Measurement: m})
}

// Subscribe 订阅设备遥测主题
func (s *MQTTSource) Subscribe(ctx context.Context, device *models.Device, handler func(models.Event)) error {
	if !s.client.IsConnected() {
		return fmt.Errorf("mqtt client is not connected")
	}

	sub := mqttSubscription{device: device, handler: handler}
	if err := s.subscribeTopic(sub); err != nil {
		return err
	}

	s.mu.Lock()
	s.subs[device.ID] = sub
	s.mu.Unlock()
	return nil
}

// Unsubscribe 取消订阅
func (s *MQTTSource) Unsubscribe(deviceID int64) {
	s.mu.Lock()
	sub, ok := s.subs[deviceID]
	delete(s.subs, deviceID)
	s.mu.Unlock()

	if !ok {
		return
	}
	token := s.client.Unsubscribe(s.TelemetryTopic(sub.device.Serial))
	if token.WaitTimeout(s.timeout) && token.Error() != nil {
		s.logger.Warn("Failed to unsubscribe", zap.String("serial", sub.device.Serial), zap.Error(token.Error()))
	}
}

// SendCommand 通过 MQTT 下发命令
func (s *MQTTSource) SendCommand(ctx context.Context, cmd *models.Command) error {
	if !s.client.IsConnected() {
		return fmt.Errorf("mqtt client is not connected")
	}

	payload, err := json.Marshal(newCommandRequest(cmd))
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}

	topic := s.CommandTopic(cmd.Serial)
	token := s.client.Publish(topic, s.qos, false, payload)

	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt publish cancelled: %w", ctx.Err())
	case <-token.Done():
	case <-time.After(s.timeout):
		return fmt.Errorf("mqtt publish timed out after %v", s.timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish failed: %w", err)
	}

	s.logger.Info("Command published", zap.String("topic", topic), zap.String("action", string(cmd.Action)))
	return nil
}

// Close 断开连接
func (s *MQTTSource) Close() {
	if s.client.IsConnected() {
		s.client.Disconnect(250)
		s.logger.Info("MQTT client disconnected")
	}
}
