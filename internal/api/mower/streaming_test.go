package mower

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap/zaptest"

	"github.com/langchou/mowgazer/internal/models"
)

// newHubServer 模拟后端推送：校验订阅后依次发送 frames
func newHubServer(t *testing.T, frames []string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		var sub Frame
		if err := conn.ReadJSON(&sub); err != nil {
			t.Errorf("read subscribe: %v", err)
			return
		}
		if sub.Type != FrameSubscribe || sub.Device != "M-1" || sub.Token != "tok" {
			t.Errorf("subscribe frame = %+v", sub)
		}

		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}

		// 保持连接直到客户端关闭
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestStreamingSourceDeliversEvents(t *testing.T) {
	srv := newHubServer(t, []string{
		`{"type":"hello"}`,
		`{"type":"state","device":"M-1","state":2,"timestamp":1000}`,
		`{"type":"battery","device":"OTHER","level":10,"timestamp":1500}`,
		`not json`,
		`{"type":"gps","device":"M-1","lat":"bad"}`,
		`{"type":"battery","device":"M-1","level":64.5,"timestamp":2000}`,
	})
	defer srv.Close()

	src := NewStreamingSource(zaptest.NewLogger(t), wsURL(srv), "tok")
	events := make(chan models.Event, 10)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	device := &models.Device{ID: 7, Serial: "M-1"}
	if err := src.Subscribe(ctx, device, func(ev models.Event) { events <- ev }); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer src.Unsubscribe(7)

	var got []models.Event
	timeout := time.After(3 * time.Second)
	for len(got) < 2 {
		select {
		case ev := <-events:
			got = append(got, ev)
		case <-timeout:
			t.Fatalf("timed out, got %d events", len(got))
		}
	}

	if got[0].DeviceID != 7 {
		t.Errorf("DeviceID = %d, want 7", got[0].DeviceID)
	}
	st, ok := got[0].Measurement.(models.StateSample)
	if !ok || st.State != models.StateMowing {
		t.Errorf("first event = %#v", got[0].Measurement)
	}
	b, ok := got[1].Measurement.(models.BatterySample)
	if !ok || b.Level != 64.5 {
		t.Errorf("second event = %#v", got[1].Measurement)
	}
}

func TestStreamingSourceConnectFailure(t *testing.T) {
	src := NewStreamingSource(zaptest.NewLogger(t), "ws://127.0.0.1:1/hub", "tok")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := src.Subscribe(ctx, &models.Device{ID: 1, Serial: "M-1"}, func(models.Event) {})
	if err == nil {
		src.Unsubscribe(1)
		t.Fatal("expected dial error")
	}
}

func TestStreamingClientDeviceOffline(t *testing.T) {
	srv := newHubServer(t, []string{`{"type":"error","error":"device_offline"}`})
	defer srv.Close()

	offline := make(chan string, 1)
	client := NewStreamingClient(zaptest.NewLogger(t), wsURL(srv), "M-1", "tok")
	client.SetCallbacks(StreamingCallbacks{
		OnDeviceOffline: func(serial string) { offline <- serial },
	})

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Stop()

	select {
	case serial := <-offline:
		if serial != "M-1" {
			t.Errorf("serial = %q", serial)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("offline callback not invoked")
	}

	if !client.IsDeviceOffline() {
		t.Error("IsDeviceOffline() = false")
	}
}

func TestStreamingSourceDeviceOfflineReportsLost(t *testing.T) {
	srv := newHubServer(t, []string{`{"type":"error","error":"device_offline"}`})
	defer srv.Close()

	src := NewStreamingSource(zaptest.NewLogger(t), wsURL(srv), "tok")
	lost := make(chan error, 1)
	src.OnLost(func(deviceID int64, err error) {
		if deviceID != 9 {
			t.Errorf("lost deviceID = %d, want 9", deviceID)
		}
		lost <- err
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := src.Subscribe(ctx, &models.Device{ID: 9, Serial: "M-1"}, func(models.Event) {}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	select {
	case err := <-lost:
		if !errors.Is(err, ErrDeviceUnavailable) {
			t.Errorf("lost err = %v, want ErrDeviceUnavailable", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("lost callback not invoked")
	}

	src.mu.Lock()
	n := len(src.clients)
	src.mu.Unlock()
	if n != 0 {
		t.Errorf("clients = %d, want subscription removed", n)
	}

	// 已移除的订阅再次退订是空操作
	src.Unsubscribe(9)
}

func TestStreamingClientGivesUpReconnecting(t *testing.T) {
	drop := make(chan struct{})
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var sub Frame
		conn.ReadJSON(&sub)
		<-drop
	}))

	client := NewStreamingClient(zaptest.NewLogger(t), wsURL(srv), "M-1", "tok")
	client.reconnectDelay = 5 * time.Millisecond
	client.currentDelay = 5 * time.Millisecond
	client.maxReconnectDelay = 10 * time.Millisecond
	client.maxReconnectAttempts = 2

	gaveUp := make(chan error, 1)
	client.SetCallbacks(StreamingCallbacks{
		OnGiveUp: func(serial string, err error) { gaveUp <- err },
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	go client.run(ctx)

	// 关闭监听后断开现有连接，之后的重连全部失败
	srv.Close()
	close(drop)

	select {
	case err := <-gaveUp:
		if err == nil {
			t.Error("give-up error is nil")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("client never gave up")
	}

	if err := client.Connect(ctx); err == nil {
		t.Error("Connect() after give-up should fail")
	}
}
