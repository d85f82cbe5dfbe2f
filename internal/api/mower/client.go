package mower

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/langchou/mowgazer/internal/models"
)

// 错误定义
var (
	ErrDeviceUnavailable = errors.New("device unavailable")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrRateLimited       = errors.New("rate limited")
)

// Client 割草机后端 REST 客户端
type Client struct {
	httpClient *http.Client
	apiHost    string
	token      string
}

// NewClient 创建 REST 客户端
func NewClient(apiHost, token string) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		apiHost: strings.TrimRight(apiHost, "/"),
		token:   token,
	}
}

// Token 返回访问令牌（推送通道鉴权用）
func (c *Client) Token() string {
	return c.token
}

// StreamingURL 由 API 地址推导 WebSocket 地址
func (c *Client) StreamingURL() string {
	return DeriveStreamingURL(c.apiHost)
}

// DeriveStreamingURL http(s)://host -> ws(s)://host/hub
func DeriveStreamingURL(apiHost string) string {
	u, err := url.Parse(apiHost)
	if err != nil || u.Host == "" {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/hub"
	return u.String()
}

// doRequest 执行带认证的请求
func (c *Client) doRequest(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.apiHost+path, body)
	if err != nil {
		return nil, err
	}

	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "mowgazer/1.0")

	return c.httpClient.Do(req)
}

// getJSON GET 并解码响应，按状态码映射错误
func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	resp, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// checkStatus 处理不同状态码
func checkStatus(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusOK, http.StatusAccepted, http.StatusNoContent:
		return nil
	case http.StatusNotFound, http.StatusRequestTimeout, http.StatusServiceUnavailable:
		return ErrDeviceUnavailable
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	case http.StatusTooManyRequests:
		return ErrRateLimited
	default:
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status=%d body=%s", resp.StatusCode, string(body))
	}
}

func devicePath(serial, suffix string) string {
	return "/api/v1/devices/" + url.PathEscape(serial) + suffix
}

func rangeQuery(from, to time.Time) string {
	q := url.Values{}
	q.Set("from", strconv.FormatInt(toMillis(from), 10))
	q.Set("to", strconv.FormatInt(toMillis(to), 10))
	return "?" + q.Encode()
}

// ListDevices 获取设备列表
func (c *Client) ListDevices(ctx context.Context) ([]DeviceInfo, error) {
	var devices []DeviceInfo
	if err := c.getJSON(ctx, "/api/v1/devices", &devices); err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	return devices, nil
}

// FetchBatteryHistory 获取电量历史
func (c *Client) FetchBatteryHistory(ctx context.Context, serial string, from, to time.Time) ([]models.BatterySample, error) {
	var points []BatteryPoint
	if err := c.getJSON(ctx, devicePath(serial, "/battery")+rangeQuery(from, to), &points); err != nil {
		return nil, fmt.Errorf("fetch battery history: %w", err)
	}

	samples := make([]models.BatterySample, 0, len(points))
	for _, p := range points {
		if !finite(p.Level) {
			continue
		}
		samples = append(samples, models.BatterySample{Level: p.Level, Timestamp: fromMillis(p.Timestamp)})
	}
	return samples, nil
}

// FetchGpsHistory 获取位置历史
func (c *Client) FetchGpsHistory(ctx context.Context, serial string, from, to time.Time) ([]models.GpsSample, error) {
	var points []GpsPoint
	if err := c.getJSON(ctx, devicePath(serial, "/gps")+rangeQuery(from, to), &points); err != nil {
		return nil, fmt.Errorf("fetch gps history: %w", err)
	}

	samples := make([]models.GpsSample, 0, len(points))
	for _, p := range points {
		if !finite(p.Latitude) || !finite(p.Longitude) {
			continue
		}
		samples = append(samples, models.GpsSample{Latitude: p.Latitude, Longitude: p.Longitude, Timestamp: fromMillis(p.Timestamp)})
	}
	return samples, nil
}

// FetchStateHistory 获取状态历史
func (c *Client) FetchStateHistory(ctx context.Context, serial string, from, to time.Time) ([]models.StateSample, error) {
	var points []StatePoint
	if err := c.getJSON(ctx, devicePath(serial, "/state")+rangeQuery(from, to), &points); err != nil {
		return nil, fmt.Errorf("fetch state history: %w", err)
	}

	samples := make([]models.StateSample, 0, len(points))
	for _, p := range points {
		samples = append(samples, models.StateSample{State: models.DeviceState(p.State), Timestamp: fromMillis(p.Timestamp)})
	}
	return samples, nil
}

// GetLatestTelemetry 获取最近一次遥测
func (c *Client) GetLatestTelemetry(ctx context.Context, serial string) (*LatestTelemetry, error) {
	var latest LatestTelemetry
	if err := c.getJSON(ctx, devicePath(serial, "/telemetry/latest"), &latest); err != nil {
		return nil, fmt.Errorf("get latest telemetry: %w", err)
	}
	return &latest, nil
}

// commandRequest 下发命令请求体
type commandRequest struct {
	RequestID string `json:"request_id"`
	Action    string `json:"action"`
	IssuedAt  int64  `json:"issued_at"`
}

func newCommandRequest(cmd *models.Command) commandRequest {
	return commandRequest{
		RequestID: cmd.RequestID.String(),
		Action:    string(cmd.Action),
		IssuedAt:  toMillis(cmd.IssuedAt),
	}
}

// SendCommand 下发远程命令
func (c *Client) SendCommand(ctx context.Context, cmd *models.Command) error {
	data, err := json.Marshal(newCommandRequest(cmd))
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}

	resp, err := c.doRequest(ctx, http.MethodPost, devicePath(cmd.Serial, "/commands"), bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("send command request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return fmt.Errorf("send command %s: %w", cmd.Action, err)
	}
	return nil
}
