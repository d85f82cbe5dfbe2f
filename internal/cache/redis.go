package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/langchou/mowgazer/internal/models"
)

// SnapshotTTL 快照在 Redis 中的保留时间
const SnapshotTTL = 24 * time.Hour

const geoKey = "mowers:geo"

// ErrNoSnapshot 缓存中没有该设备的快照
var ErrNoSnapshot = errors.New("snapshot not cached")

// RedisCache 设备实时快照缓存
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache 连接 Redis
func NewRedisCache(ctx context.Context, addr, password string, db int) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func snapshotKey(deviceID int64) string {
	return fmt.Sprintf("mower:%d:snapshot", deviceID)
}

func telemetryChannel(deviceID int64) string {
	return fmt.Sprintf("mower:%d:telemetry", deviceID)
}

func alertChannel(deviceID int64) string {
	return fmt.Sprintf("mower:%d:alerts", deviceID)
}

// SaveSnapshot 写入快照、更新地理索引并发布更新
func (c *RedisCache) SaveSnapshot(ctx context.Context, snap *models.DeviceSnapshot) error {
	fields := snapshotFields(snap)

	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	key := snapshotKey(snap.DeviceID)
	pipe := c.client.Pipeline()

	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, SnapshotTTL)
	if snap.Latitude != nil && snap.Longitude != nil {
		pipe.GeoAdd(ctx, geoKey, &redis.GeoLocation{
			Name:      strconv.FormatInt(snap.DeviceID, 10),
			Longitude: *snap.Longitude,
			Latitude:  *snap.Latitude,
		})
	}
	pipe.Publish(ctx, telemetryChannel(snap.DeviceID), payload)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline failed: %w", err)
	}
	return nil
}

// LoadSnapshot 读取设备快照
func (c *RedisCache) LoadSnapshot(ctx context.Context, deviceID int64) (*models.DeviceSnapshot, error) {
	values, err := c.client.HGetAll(ctx, snapshotKey(deviceID)).Result()
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if len(values) == 0 {
		return nil, ErrNoSnapshot
	}
	return parseSnapshot(deviceID, values)
}

// PublishAlert 发布卡死告警
func (c *RedisCache) PublishAlert(ctx context.Context, alert *models.StuckAlert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	if err := c.client.Publish(ctx, alertChannel(alert.DeviceID), payload).Err(); err != nil {
		return fmt.Errorf("publish alert: %w", err)
	}
	return nil
}

// Nearby 查询某点半径内的设备 ID
func (c *RedisCache) Nearby(ctx context.Context, lat, lon, radiusMeters float64) ([]int64, error) {
	locations, err := c.client.GeoSearch(ctx, geoKey, &redis.GeoSearchQuery{
		Longitude:  lon,
		Latitude:   lat,
		Radius:     radiusMeters,
		RadiusUnit: "m",
		Sort:       "ASC",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("geo search: %w", err)
	}

	ids := make([]int64, 0, len(locations))
	for _, name := range locations {
		id, err := strconv.ParseInt(name, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func snapshotFields(snap *models.DeviceSnapshot) map[string]interface{} {
	fields := map[string]interface{}{
		"device_id":      snap.DeviceID,
		"stuck_tracking": strconv.FormatBool(snap.StuckTracking),
		"updated_at":     snap.UpdatedAt.UnixMilli(),
	}
	if snap.State != nil {
		fields["state"] = int(*snap.State)
	}
	if snap.BatteryLevel != nil {
		fields["battery"] = *snap.BatteryLevel
	}
	if snap.Latitude != nil && snap.Longitude != nil {
		fields["lat"] = *snap.Latitude
		fields["lng"] = *snap.Longitude
	}
	return fields
}

func parseSnapshot(deviceID int64, values map[string]string) (*models.DeviceSnapshot, error) {
	snap := &models.DeviceSnapshot{DeviceID: deviceID}

	if v, ok := values["state"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("parse state: %w", err)
		}
		st := models.DeviceState(n)
		info := st.Info()
		snap.State = &st
		snap.StateInfo = &info
	}
	if v, ok := values["battery"]; ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("parse battery: %w", err)
		}
		snap.BatteryLevel = &f
	}
	lat, latOK := values["lat"]
	lng, lngOK := values["lng"]
	if latOK && lngOK {
		la, err := strconv.ParseFloat(lat, 64)
		if err != nil {
			return nil, fmt.Errorf("parse lat: %w", err)
		}
		lo, err := strconv.ParseFloat(lng, 64)
		if err != nil {
			return nil, fmt.Errorf("parse lng: %w", err)
		}
		snap.Latitude = &la
		snap.Longitude = &lo
	}
	if v, ok := values["stuck_tracking"]; ok {
		snap.StuckTracking, _ = strconv.ParseBool(v)
	}
	if v, ok := values["updated_at"]; ok {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse updated_at: %w", err)
		}
		snap.UpdatedAt = time.UnixMilli(ms)
	}
	return snap, nil
}
