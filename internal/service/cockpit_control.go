package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/langchou/mowgazer/internal/models"
)

// ErrCommandsDisabled 未配置命令通道
var ErrCommandsDisabled = errors.New("remote commands not configured")

// SendCommand 向设备下发远程命令
func (s *CockpitService) SendCommand(ctx context.Context, deviceID int64, action models.CommandAction) (*models.Command, error) {
	if s.opts.Commander == nil {
		return nil, ErrCommandsDisabled
	}

	device, err := s.lookupDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	cmd := models.NewCommand(device, action)
	if err := s.opts.Commander.SendCommand(ctx, cmd); err != nil {
		s.logger.Error("Failed to send command",
			zap.Int64("device_id", deviceID),
			zap.String("action", string(action)),
			zap.String("request_id", cmd.RequestID.String()),
			zap.Error(err))
		return nil, fmt.Errorf("send command: %w", err)
	}

	s.logger.Info("Command sent",
		zap.Int64("device_id", deviceID),
		zap.String("action", string(action)),
		zap.String("request_id", cmd.RequestID.String()))
	return cmd, nil
}

// SyncDevices 从后端同步设备名册（按序列号插入或更新）
func (s *CockpitService) SyncDevices(ctx context.Context) ([]*models.Device, error) {
	if s.opts.Roster == nil {
		return nil, errors.New("roster source not configured")
	}

	infos, err := s.opts.Roster.ListDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("list devices from backend: %w", err)
	}

	synced := make([]*models.Device, 0, len(infos))
	for _, info := range infos {
		if info.Serial == "" {
			continue
		}
		device := info.ToDevice()
		if err := s.opts.Devices.Upsert(ctx, device); err != nil {
			s.logger.Error("Failed to upsert device", zap.String("serial", info.Serial), zap.Error(err))
			continue
		}
		synced = append(synced, device)
		s.logger.Info("Synced device", zap.String("name", device.Name), zap.String("serial", device.Serial))
	}
	return synced, nil
}
