package monitor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/lidar.console/internal/device"
	"github.com/banshee-data/lidar.console/internal/rosbridge"
)

// scriptedCaller answers each service with a canned JSON reply or error.
type scriptedCaller struct {
	mu      sync.Mutex
	replies map[string]string
	errs    map[string]error
	args    map[string]interface{}
}

func newScriptedCaller() *scriptedCaller {
	return &scriptedCaller{
		replies: map[string]string{},
		errs:    map[string]error{},
		args:    map[string]interface{}{},
	}
}

func (c *scriptedCaller) CallService(ctx context.Context, service, srvType string, args, reply interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.args[service] = args
	if err := c.errs[service]; err != nil {
		return err
	}
	raw, ok := c.replies[service]
	if !ok {
		return fmt.Errorf("%w: %s", rosbridge.ErrServiceFailed, service)
	}
	return json.Unmarshal([]byte(raw), reply)
}

func newDeviceServer(c *scriptedCaller) *WebServer {
	return NewWebServer(WebServerConfig{Device: device.NewClient(c, device.Options{})})
}

func TestDeviceVersionAndProjects(t *testing.T) {
	c := newScriptedCaller()
	c.replies[device.SrvVersion] = `{"success": true, "message": "v2.3.1"}`
	c.replies[device.SrvProjectList] = `{"success": true, "message": "room_a,room_b"}`
	ws := newDeviceServer(c)

	rec := do(t, ws.Handler(), http.MethodGet, "/api/device/version", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"version": "v2.3.1"}`, rec.Body.String())

	rec = do(t, ws.Handler(), http.MethodGet, "/api/device/projects", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"projects": ["room_a", "room_b"]}`, rec.Body.String())

	rec = do(t, ws.Handler(), http.MethodPost, "/api/device/version", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestDeviceErrorStatus(t *testing.T) {
	tests := []struct {
		name  string
		setup func(c *scriptedCaller)
		want  int
	}{
		{
			name:  "rejected",
			setup: func(c *scriptedCaller) { c.replies[device.SrvProjectDelete] = `{"success": false, "message": "busy"}` },
			want:  http.StatusConflict,
		},
		{
			name:  "not connected",
			setup: func(c *scriptedCaller) { c.errs[device.SrvProjectDelete] = rosbridge.ErrNotConnected },
			want:  http.StatusServiceUnavailable,
		},
		{
			name:  "timeout",
			setup: func(c *scriptedCaller) { c.errs[device.SrvProjectDelete] = context.DeadlineExceeded },
			want:  http.StatusGatewayTimeout,
		},
		{
			name:  "service failure",
			setup: func(c *scriptedCaller) { c.errs[device.SrvProjectDelete] = errors.New("boom") },
			want:  http.StatusBadGateway,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newScriptedCaller()
			tt.setup(c)
			ws := newDeviceServer(c)
			rec := do(t, ws.Handler(), http.MethodPost, "/api/device/project/delete", `{"name": "room_a"}`)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestProjectDelete(t *testing.T) {
	c := newScriptedCaller()
	c.replies[device.SrvProjectDelete] = `{"success": true, "message": "deleted"}`
	ws := newDeviceServer(c)

	rec := do(t, ws.Handler(), http.MethodPost, "/api/device/project/delete", `{"name": "room_a"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, ws.Handler(), http.MethodPost, "/api/device/project/delete?name=room_b", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, ws.Handler(), http.MethodPost, "/api/device/project/delete", `{"name": "  "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, ws.Handler(), http.MethodPost, "/api/device/project/delete", `{`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCapture(t *testing.T) {
	c := newScriptedCaller()
	c.replies[device.SrvProjectControl] = `{"success": true, "message": "capturing"}`
	ws := newDeviceServer(c)

	rec := do(t, ws.Handler(), http.MethodPost, "/api/device/capture/start", `{"name": "scan1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success": true, "message": "capturing"}`, rec.Body.String())

	rec = do(t, ws.Handler(), http.MethodPost, "/api/device/capture/stop", `{"name": "scan1"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	// Task names may not contain the params separator.
	rec = do(t, ws.Handler(), http.MethodPost, "/api/device/capture/stop", `{"name": "a/b"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCameraAndUSB(t *testing.T) {
	c := newScriptedCaller()
	c.replies[device.SrvCameraControl] = `{"success": true, "message": "applied"}`
	c.replies[device.SrvUSBOperation] = `{"success": true, "message": ""}`
	ws := newDeviceServer(c)

	rec := do(t, ws.Handler(), http.MethodPost, "/api/device/camera",
		`{"resolution": "1920x1080", "frame_rate": "30", "white_balance": "auto", "exposure": "10"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, ws.Handler(), http.MethodPost, "/api/device/usb/clean", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestIPEndpoint(t *testing.T) {
	c := newScriptedCaller()
	c.replies[device.SrvCurrentIP] = `{"success": true, "message": "192.168.1.10/255.255.255.0/192.168.1.1/8.8.8.8"}`
	c.replies[device.SrvIPConfig] = `{"success": true, "message": "ok"}`
	ws := newDeviceServer(c)

	rec := do(t, ws.Handler(), http.MethodGet, "/api/device/ip", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ip": "192.168.1.10", "mask": "255.255.255.0", "gateway": "192.168.1.1", "dns": "8.8.8.8"}`, rec.Body.String())

	rec = do(t, ws.Handler(), http.MethodPost, "/api/device/ip",
		`{"ip": "192.168.1.20", "mask": "255.255.255.0", "gateway": "192.168.1.1", "dns": "1.1.1.1"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, ws.Handler(), http.MethodPost, "/api/device/ip",
		`{"ip": "fe80::1", "mask": "255.255.255.0", "gateway": "192.168.1.1", "dns": "1.1.1.1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, ws.Handler(), http.MethodDelete, "/api/device/ip", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestProjectDownloads(t *testing.T) {
	c := newScriptedCaller()
	// "ply\nformat ascii" in base64
	c.replies[device.SrvProjectCloud] = `{"success": true, "message": "", "data": "cGx5CmZvcm1hdCBhc2NpaQ=="}`
	c.replies[device.SrvProjectImage] = `{"success": true, "message": "", "data": []}`
	ws := newDeviceServer(c)

	rec := do(t, ws.Handler(), http.MethodGet, "/api/device/project/cloud?name=room_a", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `attachment; filename=room_a.ply`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "ply\nformat ascii", rec.Body.String())

	rec = do(t, ws.Handler(), http.MethodGet, "/api/device/project/image?name=room_a", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, ws.Handler(), http.MethodGet, "/api/device/project/cloud", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeviceNotConfigured(t *testing.T) {
	ws := NewWebServer(WebServerConfig{})
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/device/version"},
		{http.MethodGet, "/api/device/ip"},
		{http.MethodPost, "/api/device/capture/start"},
	} {
		rec := do(t, ws.Handler(), tc.method, tc.path, "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, tc.path)
	}
}

func TestBreakerOpenIsUnavailable(t *testing.T) {
	c := newScriptedCaller()
	c.errs[device.SrvUSBOperation] = errors.New("link down")
	ws := newDeviceServer(c)

	for i := 0; i < 5; i++ {
		rec := do(t, ws.Handler(), http.MethodPost, "/api/device/usb/clean", "")
		require.Equal(t, http.StatusBadGateway, rec.Code)
	}
	rec := do(t, ws.Handler(), http.MethodPost, "/api/device/usb/clean", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "open", ws.Status().Device)
}
