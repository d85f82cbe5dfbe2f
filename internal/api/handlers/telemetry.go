package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/langchou/mowgazer/internal/service"
)

// parseRange 解析 range 查询参数
func parseRange(c *gin.Context) (service.RangeMode, bool) {
	mode, err := service.ParseRangeMode(c.Query("range"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return "", false
	}
	return mode, true
}

// GetSnapshot 设备最近一次已知状态
func (h *Handler) GetSnapshot(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	snap, err := h.cockpit.Snapshot(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err, "Failed to get snapshot")
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": snap})
}

// GetBattery 电量曲线
// GET /api/devices/:id/battery?range=live|history
func (h *Handler) GetBattery(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	mode, ok := parseRange(c)
	if !ok {
		return
	}

	samples, err := h.cockpit.BatteryHistory(c.Request.Context(), id, mode)
	if err != nil {
		h.respondError(c, err, "Failed to get battery history")
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": samples, "range": mode})
}

// GetPositions 轨迹
func (h *Handler) GetPositions(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	mode, ok := parseRange(c)
	if !ok {
		return
	}

	positions, err := h.cockpit.Positions(c.Request.Context(), id, mode)
	if err != nil {
		h.respondError(c, err, "Failed to get positions")
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": positions, "range": mode})
}

// GetStatus 状态时长分布与时间线
// GET /api/devices/:id/status?from=&to=  缺省为 history 窗口
func (h *Handler) GetStatus(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	from, to := h.cockpit.Window(service.RangeHistory, time.Now())
	if v := c.Query("from"); v != "" {
		t, err := parseTime(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid from"})
			return
		}
		from = t
	}
	if v := c.Query("to"); v != "" {
		t, err := parseTime(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid to"})
			return
		}
		to = t
	}
	if !to.After(from) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "to must be after from"})
		return
	}

	report, err := h.cockpit.StatusReport(c.Request.Context(), id, from, to)
	if err != nil {
		h.respondError(c, err, "Failed to build status report")
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": report})
}

// GetAlerts 卡死告警
func (h *Handler) GetAlerts(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit < 1 || limit > 500 {
		limit = 50
	}

	alerts, err := h.cockpit.Alerts(c.Request.Context(), id, limit)
	if err != nil {
		h.respondError(c, err, "Failed to list alerts")
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": alerts})
}

// defaultNearbyRadius 未指定半径时的搜索范围（米）
const defaultNearbyRadius = 500.0

// GetNearby 某点附近设备的最近快照（地图视图）
// GET /api/devices/nearby?lat=&lon=&radius=
func (h *Handler) GetNearby(c *gin.Context) {
	lat, err := strconv.ParseFloat(c.Query("lat"), 64)
	if err != nil || lat < -90 || lat > 90 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid lat"})
		return
	}
	lon, err := strconv.ParseFloat(c.Query("lon"), 64)
	if err != nil || lon < -180 || lon > 180 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid lon"})
		return
	}

	radius := defaultNearbyRadius
	if v := c.Query("radius"); v != "" {
		radius, err = strconv.ParseFloat(v, 64)
		if err != nil || radius <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid radius"})
			return
		}
	}

	snapshots, err := h.cockpit.Nearby(c.Request.Context(), lat, lon, radius)
	if err != nil {
		h.respondError(c, err, "Failed to search nearby devices")
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": snapshots, "radius": radius})
}
