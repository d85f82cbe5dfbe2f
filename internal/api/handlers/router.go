package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/langchou/mowgazer/pkg/ws"
)

// RegisterRoutes 注册路由
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	// API 路由
	api := r.Group("/api")
	{
		// 设备名册
		api.GET("/devices", h.ListDevices)
		api.POST("/devices", h.CreateDevice)
		api.POST("/devices/sync", h.SyncDevices)
		api.GET("/devices/nearby", h.GetNearby)
		api.GET("/devices/:id", h.GetDevice)
		api.PUT("/devices/:id", h.UpdateDevice)
		api.DELETE("/devices/:id", h.DeleteDevice)

		// 遥测
		api.GET("/devices/:id/snapshot", h.GetSnapshot)
		api.GET("/devices/:id/battery", h.GetBattery)
		api.GET("/devices/:id/positions", h.GetPositions)
		api.GET("/devices/:id/status", h.GetStatus)
		api.GET("/devices/:id/alerts", h.GetAlerts)

		// 控制
		api.POST("/devices/:id/commands", h.SendCommand)
		api.POST("/devices/:id/select", h.SelectDevice)

		// 当前会话
		api.GET("/session", h.GetSession)
		api.DELETE("/session", h.DeleteSession)
		api.GET("/session/messages", h.GetMessages)
		api.GET("/session/prediction", h.GetPrediction)
	}

	// WebSocket
	r.GET("/ws", h.HandleWebSocket)

	// 健康检查
	r.GET("/health", h.HealthCheck)
}

// HandleWebSocket WebSocket 处理
func (h *Handler) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade websocket", zap.Error(err))
		return
	}

	client := ws.NewClient(h.wsHub, conn)
	client.Register()

	// 启动读写协程
	go client.ReadPump()
	go client.WritePump()
}

// HealthCheck 健康检查
func (h *Handler) HealthCheck(c *gin.Context) {
	resp := gin.H{
		"status": "ok",
		"source": h.cockpit.SourceName(),
	}
	if h.wsHub != nil {
		resp["ws_clients"] = h.wsHub.ClientCount()
	}
	c.JSON(http.StatusOK, resp)
}
