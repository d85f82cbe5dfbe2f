package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/langchou/mowgazer/internal/models"
)

// deviceRequest 创建/更新设备请求
type deviceRequest struct {
	Serial string `json:"serial" binding:"required"`
	Name   string `json:"name"`
	Model  string `json:"model"`
}

// ListDevices 获取设备列表
func (h *Handler) ListDevices(c *gin.Context) {
	devices, err := h.devices.List(c.Request.Context())
	if err != nil {
		h.respondError(c, err, "Failed to list devices")
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": devices})
}

// CreateDevice 新增设备
func (h *Handler) CreateDevice(c *gin.Context) {
	var req deviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	device := &models.Device{Serial: req.Serial, Name: req.Name, Model: req.Model}
	if err := h.devices.Create(c.Request.Context(), device); err != nil {
		h.respondError(c, err, "Failed to create device")
		return
	}

	h.logger.Info("Device created", zap.Int64("device_id", device.ID), zap.String("serial", device.Serial))
	c.JSON(http.StatusCreated, gin.H{"data": device})
}

// GetDevice 获取设备详情
func (h *Handler) GetDevice(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	device, err := h.devices.GetByID(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err, "Failed to get device")
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": device})
}

// UpdateDevice 更新设备
func (h *Handler) UpdateDevice(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var req deviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	device, err := h.devices.GetByID(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err, "Failed to get device")
		return
	}

	device.Serial = req.Serial
	device.Name = req.Name
	device.Model = req.Model
	if err := h.devices.Update(c.Request.Context(), device); err != nil {
		h.respondError(c, err, "Failed to update device")
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": device})
}

// DeleteDevice 删除设备；若为当前选中设备则先取消选中
func (h *Handler) DeleteDevice(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	if current, _, err := h.cockpit.Current(); err == nil && current.ID == id {
		h.cockpit.Deselect()
	}

	if err := h.devices.Delete(c.Request.Context(), id); err != nil {
		h.respondError(c, err, "Failed to delete device")
		return
	}

	h.logger.Info("Device deleted", zap.Int64("device_id", id))
	c.Status(http.StatusNoContent)
}

// SyncDevices 从后端同步设备名册
func (h *Handler) SyncDevices(c *gin.Context) {
	devices, err := h.cockpit.SyncDevices(c.Request.Context())
	if err != nil {
		h.respondError(c, err, "Failed to sync devices")
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": devices, "synced": len(devices)})
}

// commandRequest 远程命令请求
type commandRequest struct {
	Action string `json:"action" binding:"required"`
}

// SendCommand 下发远程命令
// POST /api/devices/:id/commands
func (h *Handler) SendCommand(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	action, err := models.ParseCommandAction(req.Action)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cmd, err := h.cockpit.SendCommand(c.Request.Context(), id, action)
	if err != nil {
		h.respondError(c, err, "Failed to send command")
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"data": cmd})
}
