package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/langchou/mowgazer/internal/api/mower"
	"github.com/langchou/mowgazer/internal/models"
	"github.com/langchou/mowgazer/internal/repository"
	"github.com/langchou/mowgazer/internal/service"
	"github.com/langchou/mowgazer/internal/telemetry"
	"github.com/langchou/mowgazer/pkg/ws"
)

// DeviceRepository 设备名册读写
type DeviceRepository interface {
	Create(ctx context.Context, d *models.Device) error
	GetByID(ctx context.Context, id int64) (*models.Device, error)
	List(ctx context.Context) ([]*models.Device, error)
	Update(ctx context.Context, d *models.Device) error
	Delete(ctx context.Context, id int64) error
}

// Cockpit 驾驶舱服务
type Cockpit interface {
	Select(ctx context.Context, deviceID int64) (*models.Device, error)
	Deselect()
	Current() (*models.Device, *telemetry.Session, error)
	SourceName() string
	Messages() ([]models.Message, error)
	Prediction(now time.Time) (*models.Prediction, error)
	Snapshot(ctx context.Context, deviceID int64) (*models.DeviceSnapshot, error)
	BatteryHistory(ctx context.Context, deviceID int64, mode service.RangeMode) ([]models.BatterySample, error)
	Positions(ctx context.Context, deviceID int64, mode service.RangeMode) ([]models.GpsSample, error)
	StatusReport(ctx context.Context, deviceID int64, from, to time.Time) (*models.StatusReport, error)
	Alerts(ctx context.Context, deviceID int64, limit int) ([]*models.StuckAlert, error)
	SendCommand(ctx context.Context, deviceID int64, action models.CommandAction) (*models.Command, error)
	SyncDevices(ctx context.Context) ([]*models.Device, error)
	Nearby(ctx context.Context, lat, lon, radiusMeters float64) ([]*models.DeviceSnapshot, error)
	Window(mode service.RangeMode, now time.Time) (time.Time, time.Time)
}

// Handler HTTP 处理器
type Handler struct {
	logger   *zap.Logger
	devices  DeviceRepository
	cockpit  Cockpit
	wsHub    *ws.Hub
	upgrader websocket.Upgrader
}

// NewHandler 创建处理器
func NewHandler(logger *zap.Logger, devices DeviceRepository, cockpit Cockpit, wsHub *ws.Hub) *Handler {
	return &Handler{
		logger:  logger,
		devices: devices,
		cockpit: cockpit,
		wsHub:   wsHub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 开发环境允许所有来源
			},
		},
	}
}

// parseID 解析路径中的设备 ID
func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid device ID"})
		return 0, false
	}
	return id, true
}

// parseTime 支持 RFC3339 或毫秒时间戳
func parseTime(s string) (time.Time, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms), nil
	}
	return time.Parse(time.RFC3339, s)
}

// respondError 将领域错误映射为 HTTP 状态码
func (h *Handler) respondError(c *gin.Context, err error, msg string) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrUnknownDevice), errors.Is(err, repository.ErrNotFound):
		status = http.StatusNotFound
		msg = "Device not found"
	case errors.Is(err, service.ErrNoSession):
		status = http.StatusNotFound
		msg = "No device selected"
	case errors.Is(err, service.ErrNoSnapshot):
		status = http.StatusNotFound
		msg = "No snapshot available"
	case errors.Is(err, service.ErrCommandsDisabled), errors.Is(err, service.ErrCacheDisabled):
		status = http.StatusServiceUnavailable
		msg = err.Error()
	case errors.Is(err, mower.ErrDeviceUnavailable),
		errors.Is(err, mower.ErrUnauthorized),
		errors.Is(err, mower.ErrRateLimited):
		status = http.StatusBadGateway
		msg = msg + ": " + err.Error()
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, zap.Error(err), zap.String("path", c.FullPath()))
	}
	c.JSON(status, gin.H{"error": msg})
}
