package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/langchou/mowgazer/internal/api/mower"
	"github.com/langchou/mowgazer/internal/models"
	"github.com/langchou/mowgazer/internal/repository"
	"github.com/langchou/mowgazer/internal/service"
	"github.com/langchou/mowgazer/internal/telemetry"
)

type memDevices struct {
	devices map[int64]*models.Device
	nextID  int64
}

func newMemDevices(devices ...*models.Device) *memDevices {
	m := &memDevices{devices: make(map[int64]*models.Device), nextID: 10}
	for _, d := range devices {
		m.devices[d.ID] = d
	}
	return m
}

func (m *memDevices) Create(ctx context.Context, d *models.Device) error {
	m.nextID++
	d.ID = m.nextID
	m.devices[d.ID] = d
	return nil
}

func (m *memDevices) GetByID(ctx context.Context, id int64) (*models.Device, error) {
	d, ok := m.devices[id]
	if !ok {
		return nil, fmt.Errorf("get device by id: %w", repository.ErrNotFound)
	}
	copied := *d
	return &copied, nil
}

func (m *memDevices) List(ctx context.Context) ([]*models.Device, error) {
	out := make([]*models.Device, 0, len(m.devices))
	for _, d := range m.devices {
		out = append(out, d)
	}
	return out, nil
}

func (m *memDevices) Update(ctx context.Context, d *models.Device) error {
	if _, ok := m.devices[d.ID]; !ok {
		return fmt.Errorf("update device: %w", repository.ErrNotFound)
	}
	m.devices[d.ID] = d
	return nil
}

func (m *memDevices) Delete(ctx context.Context, id int64) error {
	if _, ok := m.devices[id]; !ok {
		return fmt.Errorf("delete device: %w", repository.ErrNotFound)
	}
	delete(m.devices, id)
	return nil
}

// stubCockpit 可配置返回值的驾驶舱
type stubCockpit struct {
	device     *models.Device
	session    *telemetry.Session
	deselected bool

	selectErr  error
	commandErr error
	report     *models.StatusReport
	gotFrom    time.Time
	gotTo      time.Time
	gotMode    service.RangeMode

	nearby    []*models.DeviceSnapshot
	nearbyErr error
	gotNearby [3]float64
}

func (s *stubCockpit) Select(ctx context.Context, id int64) (*models.Device, error) {
	if s.selectErr != nil {
		return nil, s.selectErr
	}
	s.device = &models.Device{ID: id, Serial: "M-1"}
	s.session = telemetry.NewSession(id, telemetry.DefaultConfig(), nil)
	return s.device, nil
}

func (s *stubCockpit) Deselect() {
	s.deselected = true
	s.device, s.session = nil, nil
}

func (s *stubCockpit) Current() (*models.Device, *telemetry.Session, error) {
	if s.session == nil {
		return nil, nil, service.ErrNoSession
	}
	return s.device, s.session, nil
}

func (s *stubCockpit) SourceName() string { return "streaming" }

func (s *stubCockpit) Messages() ([]models.Message, error) {
	if s.session == nil {
		return nil, service.ErrNoSession
	}
	return s.session.Messages(), nil
}

func (s *stubCockpit) Prediction(now time.Time) (*models.Prediction, error) {
	if s.session == nil {
		return nil, service.ErrNoSession
	}
	return s.session.Predict(now), nil
}

func (s *stubCockpit) Snapshot(ctx context.Context, id int64) (*models.DeviceSnapshot, error) {
	if s.session != nil && s.session.DeviceID() == id {
		return s.session.Snapshot(), nil
	}
	return nil, service.ErrNoSnapshot
}

func (s *stubCockpit) BatteryHistory(ctx context.Context, id int64, mode service.RangeMode) ([]models.BatterySample, error) {
	s.gotMode = mode
	return []models.BatterySample{{Level: 80, Timestamp: time.UnixMilli(1000)}}, nil
}

func (s *stubCockpit) Positions(ctx context.Context, id int64, mode service.RangeMode) ([]models.GpsSample, error) {
	s.gotMode = mode
	return []models.GpsSample{}, nil
}

func (s *stubCockpit) StatusReport(ctx context.Context, id int64, from, to time.Time) (*models.StatusReport, error) {
	s.gotFrom, s.gotTo = from, to
	if s.report != nil {
		return s.report, nil
	}
	return &models.StatusReport{DeviceID: id, From: from, To: to}, nil
}

func (s *stubCockpit) Alerts(ctx context.Context, id int64, limit int) ([]*models.StuckAlert, error) {
	return []*models.StuckAlert{}, nil
}

func (s *stubCockpit) SendCommand(ctx context.Context, id int64, action models.CommandAction) (*models.Command, error) {
	if s.commandErr != nil {
		return nil, s.commandErr
	}
	return models.NewCommand(&models.Device{ID: id, Serial: "M-1"}, action), nil
}

func (s *stubCockpit) SyncDevices(ctx context.Context) ([]*models.Device, error) {
	return []*models.Device{{ID: 1, Serial: "M-1"}}, nil
}

func (s *stubCockpit) Nearby(ctx context.Context, lat, lon, radiusMeters float64) ([]*models.DeviceSnapshot, error) {
	s.gotNearby = [3]float64{lat, lon, radiusMeters}
	if s.nearbyErr != nil {
		return nil, s.nearbyErr
	}
	return s.nearby, nil
}

func (s *stubCockpit) Window(mode service.RangeMode, now time.Time) (time.Time, time.Time) {
	return now.Add(-time.Hour), now
}

func newTestRouter(devices *memDevices, cockpit *stubCockpit) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler(zap.NewNop(), devices, cockpit, nil).RegisterRoutes(r)
	return r
}

func doRequest(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode body %q: %v", w.Body.String(), err)
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		t.Fatalf("decode data: %v", err)
	}
}

func TestDeviceCRUD(t *testing.T) {
	devices := newMemDevices()
	r := newTestRouter(devices, &stubCockpit{})

	w := doRequest(r, http.MethodPost, "/api/devices", `{"serial":"M-9","name":"Garden"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d body=%s", w.Code, w.Body.String())
	}
	var created models.Device
	decodeData(t, w, &created)
	if created.ID == 0 || created.Serial != "M-9" {
		t.Fatalf("created = %+v", created)
	}

	path := fmt.Sprintf("/api/devices/%d", created.ID)

	w = doRequest(r, http.MethodPut, path, `{"serial":"M-9","name":"Orchard","model":"X5"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("update status = %d", w.Code)
	}
	if devices.devices[created.ID].Name != "Orchard" {
		t.Errorf("name not updated: %+v", devices.devices[created.ID])
	}

	w = doRequest(r, http.MethodGet, path, "")
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}

	w = doRequest(r, http.MethodDelete, path, "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", w.Code)
	}

	w = doRequest(r, http.MethodGet, path, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d", w.Code)
	}
}

func TestDeviceValidation(t *testing.T) {
	r := newTestRouter(newMemDevices(), &stubCockpit{})

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"missing serial", http.MethodPost, "/api/devices", `{"name":"x"}`, http.StatusBadRequest},
		{"bad id", http.MethodGet, "/api/devices/abc", "", http.StatusBadRequest},
		{"unknown id", http.MethodGet, "/api/devices/77", "", http.StatusNotFound},
		{"bad range", http.MethodGet, "/api/devices/1/battery?range=week", "", http.StatusBadRequest},
		{"bad status from", http.MethodGet, "/api/devices/1/status?from=yesterday", "", http.StatusBadRequest},
		{"inverted status range", http.MethodGet, "/api/devices/1/status?from=5000&to=1000", "", http.StatusBadRequest},
		{"unknown command", http.MethodPost, "/api/devices/1/commands", `{"action":"fly"}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(r, tt.method, tt.path, tt.body)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (body=%s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestSessionLifecycle(t *testing.T) {
	cockpit := &stubCockpit{}
	r := newTestRouter(newMemDevices(&models.Device{ID: 1, Serial: "M-1"}), cockpit)

	if w := doRequest(r, http.MethodGet, "/api/session", ""); w.Code != http.StatusNotFound {
		t.Fatalf("session before select = %d, want 404", w.Code)
	}

	w := doRequest(r, http.MethodPost, "/api/devices/1/select", "")
	if w.Code != http.StatusOK {
		t.Fatalf("select status = %d", w.Code)
	}

	base := time.Now()
	cockpit.session.OnStateUpdate(1, models.StateSample{State: models.StateMowing, Timestamp: base})
	cockpit.session.OnBatteryUpdate(1, models.BatterySample{Level: 3, Timestamp: base})

	w = doRequest(r, http.MethodGet, "/api/session/messages", "")
	if w.Code != http.StatusOK {
		t.Fatalf("messages status = %d", w.Code)
	}
	var messages []models.Message
	decodeData(t, w, &messages)
	if len(messages) != 1 || messages[0].Text != "Battery low: 3%" {
		t.Errorf("messages = %+v", messages)
	}

	w = doRequest(r, http.MethodGet, "/api/devices/1/snapshot", "")
	if w.Code != http.StatusOK {
		t.Fatalf("snapshot status = %d", w.Code)
	}
	var snap models.DeviceSnapshot
	decodeData(t, w, &snap)
	if snap.StateInfo == nil || snap.StateInfo.Name != "Mowing" {
		t.Errorf("snapshot = %+v", snap)
	}

	w = doRequest(r, http.MethodGet, "/api/session/prediction", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"data":null`) {
		t.Errorf("prediction = %d %s", w.Code, w.Body.String())
	}

	if w := doRequest(r, http.MethodDelete, "/api/session", ""); w.Code != http.StatusNoContent {
		t.Fatalf("deselect status = %d", w.Code)
	}
	if w := doRequest(r, http.MethodGet, "/api/session/messages", ""); w.Code != http.StatusNotFound {
		t.Errorf("messages after deselect = %d", w.Code)
	}
}

func TestDeleteSelectedDeviceDeselects(t *testing.T) {
	cockpit := &stubCockpit{}
	r := newTestRouter(newMemDevices(&models.Device{ID: 1, Serial: "M-1"}), cockpit)

	doRequest(r, http.MethodPost, "/api/devices/1/select", "")
	if w := doRequest(r, http.MethodDelete, "/api/devices/1", ""); w.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", w.Code)
	}
	if !cockpit.deselected {
		t.Error("deleting the selected device should deselect it")
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"unknown device", service.ErrUnknownDevice, http.StatusNotFound},
		{"backend unavailable", fmt.Errorf("connect streaming: %w", mower.ErrDeviceUnavailable), http.StatusBadGateway},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRouter(newMemDevices(), &stubCockpit{selectErr: tt.err})
			w := doRequest(r, http.MethodPost, "/api/devices/1/select", "")
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestSendCommand(t *testing.T) {
	r := newTestRouter(newMemDevices(), &stubCockpit{})

	w := doRequest(r, http.MethodPost, "/api/devices/1/commands", `{"action":"return_to_station"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
	var cmd models.Command
	decodeData(t, w, &cmd)
	if cmd.Action != models.CommandReturnToStation || cmd.RequestID.String() == "" {
		t.Errorf("cmd = %+v", cmd)
	}

	disabled := newTestRouter(newMemDevices(), &stubCockpit{commandErr: service.ErrCommandsDisabled})
	if w := doRequest(disabled, http.MethodPost, "/api/devices/1/commands", `{"action":"pause"}`); w.Code != http.StatusServiceUnavailable {
		t.Errorf("disabled status = %d", w.Code)
	}
}

func TestStatusQueryParsing(t *testing.T) {
	cockpit := &stubCockpit{}
	r := newTestRouter(newMemDevices(), cockpit)

	w := doRequest(r, http.MethodGet, "/api/devices/1/status?from=2024-06-01T12:00:00Z&to=1717243260000", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}

	wantFrom := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	if !cockpit.gotFrom.Equal(wantFrom) {
		t.Errorf("from = %v, want %v", cockpit.gotFrom, wantFrom)
	}
	if !cockpit.gotTo.Equal(time.UnixMilli(1717243260000)) {
		t.Errorf("to = %v", cockpit.gotTo)
	}

	doRequest(r, http.MethodGet, "/api/devices/1/battery?range=history", "")
	if cockpit.gotMode != service.RangeHistory {
		t.Errorf("mode = %q, want history", cockpit.gotMode)
	}
}

func TestHealthCheck(t *testing.T) {
	r := newTestRouter(newMemDevices(), &stubCockpit{})
	w := doRequest(r, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"source":"streaming"`) {
		t.Errorf("health = %d %s", w.Code, w.Body.String())
	}
}

func TestGetNearby(t *testing.T) {
	level := 42.0
	cockpit := &stubCockpit{nearby: []*models.DeviceSnapshot{{DeviceID: 3, BatteryLevel: &level}}}
	r := newTestRouter(newMemDevices(), cockpit)

	w := doRequest(r, http.MethodGet, "/api/devices/nearby?lat=47.1&lon=8.2&radius=250", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if cockpit.gotNearby != [3]float64{47.1, 8.2, 250} {
		t.Errorf("query = %v", cockpit.gotNearby)
	}
	if !strings.Contains(w.Body.String(), `"device_id":3`) {
		t.Errorf("body = %s", w.Body.String())
	}

	w = doRequest(r, http.MethodGet, "/api/devices/nearby?lat=47.1&lon=8.2", "")
	if w.Code != http.StatusOK || cockpit.gotNearby[2] != 500 {
		t.Errorf("default radius: status = %d, radius = %v", w.Code, cockpit.gotNearby[2])
	}

	tests := []struct {
		name  string
		query string
	}{
		{"missing lat", "lon=8.2"},
		{"lat out of range", "lat=91&lon=8.2"},
		{"bad lon", "lat=47&lon=east"},
		{"zero radius", "lat=47&lon=8&radius=0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(r, http.MethodGet, "/api/devices/nearby?"+tt.query, "")
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}

	cockpit.nearbyErr = service.ErrCacheDisabled
	w = doRequest(r, http.MethodGet, "/api/devices/nearby?lat=47&lon=8", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("cache disabled status = %d, want 503", w.Code)
	}
}
