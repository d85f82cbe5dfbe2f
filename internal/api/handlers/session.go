package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// SelectDevice 选中设备并开始实时跟踪
// POST /api/devices/:id/select
func (h *Handler) SelectDevice(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	device, err := h.cockpit.Select(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err, "Failed to select device")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": gin.H{
			"device": device,
			"source": h.cockpit.SourceName(),
		},
	})
}

// GetSession 当前选中设备及快照
func (h *Handler) GetSession(c *gin.Context) {
	device, session, err := h.cockpit.Current()
	if err != nil {
		h.respondError(c, err, "Failed to get session")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": gin.H{
			"device":   device,
			"snapshot": session.Snapshot(),
			"source":   h.cockpit.SourceName(),
		},
	})
}

// DeleteSession 取消选中
func (h *Handler) DeleteSession(c *gin.Context) {
	h.cockpit.Deselect()
	c.Status(http.StatusNoContent)
}

// GetMessages 消息日志（最新在前）
func (h *Handler) GetMessages(c *gin.Context) {
	messages, err := h.cockpit.Messages()
	if err != nil {
		h.respondError(c, err, "Failed to get messages")
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": messages})
}

// GetPrediction 电量趋势预测；无趋势时 data 为 null
func (h *Handler) GetPrediction(c *gin.Context) {
	prediction, err := h.cockpit.Prediction(time.Now())
	if err != nil {
		h.respondError(c, err, "Failed to get prediction")
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": prediction})
}
