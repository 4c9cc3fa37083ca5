package monitor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"mime"
	"net/http"
	"strings"

	"github.com/banshee-data/lidar.console/internal/device"
	"github.com/banshee-data/lidar.console/internal/httputil"
	"github.com/banshee-data/lidar.console/internal/rosbridge"
)

func (ws *WebServer) attachDeviceRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/device/version", ws.deviceHandler(http.MethodGet, ws.handleDeviceVersion))
	mux.HandleFunc("/api/device/projects", ws.deviceHandler(http.MethodGet, ws.handleProjects))
	mux.HandleFunc("/api/device/project/delete", ws.deviceHandler(http.MethodPost, ws.handleProjectDelete))
	mux.HandleFunc("/api/device/project/cloud", ws.deviceHandler(http.MethodGet, ws.handleProjectCloud))
	mux.HandleFunc("/api/device/project/image", ws.deviceHandler(http.MethodGet, ws.handleProjectImage))
	mux.HandleFunc("/api/device/capture/start", ws.deviceHandler(http.MethodPost, ws.handleCapture(device.ActionStart)))
	mux.HandleFunc("/api/device/capture/stop", ws.deviceHandler(http.MethodPost, ws.handleCapture(device.ActionStop)))
	mux.HandleFunc("/api/device/camera", ws.deviceHandler(http.MethodPost, ws.handleCamera))
	mux.HandleFunc("/api/device/usb/clean", ws.deviceHandler(http.MethodPost, ws.handleUSBClean))
	mux.HandleFunc("/api/device/ip", ws.handleIP)
}

// deviceHandler rejects other methods and answers 503 when no device
// client is configured.
func (ws *WebServer) deviceHandler(method string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			httputil.MethodNotAllowed(w)
			return
		}
		if ws.device == nil {
			httputil.ServiceUnavailable(w, "device control not configured")
			return
		}
		h(w, r)
	}
}

// writeDeviceError maps a device call failure to an HTTP status.
func writeDeviceError(w http.ResponseWriter, op string, err error) {
	status := http.StatusBadGateway
	switch {
	case errors.Is(err, device.ErrInvalid):
		status = http.StatusBadRequest
	case errors.Is(err, device.ErrEmptyData):
		status = http.StatusNotFound
	case errors.Is(err, device.ErrRejected):
		status = http.StatusConflict
	case errors.Is(err, device.ErrUnavailable), errors.Is(err, rosbridge.ErrNotConnected):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	if status >= 500 {
		log.Printf("[Monitor] device %s failed: %v", op, err)
	}
	httputil.WriteJSONError(w, status, fmt.Sprintf("%s: %v", op, err))
}

func (ws *WebServer) handleDeviceVersion(w http.ResponseWriter, r *http.Request) {
	v, err := ws.device.Version(r.Context())
	if err != nil {
		writeDeviceError(w, "version", err)
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"version": v})
}

func (ws *WebServer) handleProjects(w http.ResponseWriter, r *http.Request) {
	names, err := ws.device.Projects(r.Context())
	if err != nil {
		writeDeviceError(w, "project list", err)
		return
	}
	if names == nil {
		names = []string{}
	}
	httputil.WriteJSONOK(w, map[string]interface{}{"projects": names})
}

type projectRequest struct {
	Name string `json:"name"`
}

// projectName reads the project name from the JSON body or the name query
// parameter.
func projectName(r *http.Request) (string, error) {
	var req projectRequest
	if r.Method == http.MethodPost {
		if err := httputil.DecodeJSON(r, &req); err != nil {
			return "", err
		}
	}
	if req.Name == "" {
		req.Name = r.URL.Query().Get("name")
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return "", errors.New("missing project name")
	}
	return name, nil
}

func (ws *WebServer) handleProjectDelete(w http.ResponseWriter, r *http.Request) {
	name, err := projectName(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if err := ws.device.DeleteProject(r.Context(), name); err != nil {
		writeDeviceError(w, "project delete", err)
		return
	}
	log.Printf("[Monitor] deleted project %q", name)
	httputil.WriteJSONOK(w, map[string]interface{}{"success": true, "project": name})
}

func (ws *WebServer) handleCapture(action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name, err := projectName(r)
		if err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		msg, err := ws.device.ControlCapture(r.Context(), name, action)
		if err != nil {
			writeDeviceError(w, "capture "+action, err)
			return
		}
		log.Printf("[Monitor] capture %s for %q: %s", action, name, msg)
		httputil.WriteJSONOK(w, map[string]interface{}{"success": true, "message": msg})
	}
}

func (ws *WebServer) handleCamera(w http.ResponseWriter, r *http.Request) {
	var s device.CameraSettings
	if err := httputil.DecodeJSON(r, &s); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	msg, err := ws.device.SetCamera(r.Context(), s)
	if err != nil {
		writeDeviceError(w, "camera", err)
		return
	}
	httputil.WriteJSONOK(w, map[string]interface{}{"success": true, "message": msg})
}

func (ws *WebServer) handleUSBClean(w http.ResponseWriter, r *http.Request) {
	if err := ws.device.CleanUSB(r.Context()); err != nil {
		writeDeviceError(w, "usb clean", err)
		return
	}
	httputil.WriteJSONOK(w, map[string]bool{"success": true})
}

// handleIP reads (GET) or applies (POST) the scanner's network configuration.
func (ws *WebServer) handleIP(w http.ResponseWriter, r *http.Request) {
	if ws.device == nil {
		httputil.ServiceUnavailable(w, "device control not configured")
		return
	}
	switch r.Method {
	case http.MethodGet:
		cfg, err := ws.device.CurrentIP(r.Context())
		if err != nil {
			writeDeviceError(w, "current ip", err)
			return
		}
		httputil.WriteJSONOK(w, cfg)
	case http.MethodPost:
		var cfg device.IPConfig
		if err := httputil.DecodeJSON(r, &cfg); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		msg, err := ws.device.SetIP(r.Context(), cfg)
		if err != nil {
			writeDeviceError(w, "ip config", err)
			return
		}
		log.Printf("[Monitor] applied ip config %s/%s", cfg.IP, cfg.Mask)
		httputil.WriteJSONOK(w, map[string]interface{}{"success": true, "message": msg})
	default:
		httputil.MethodNotAllowed(w)
	}
}

func (ws *WebServer) handleProjectCloud(w http.ResponseWriter, r *http.Request) {
	name, err := projectName(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	cloud, err := ws.device.ProjectCloud(r.Context(), name)
	if err != nil {
		writeDeviceError(w, "project cloud", err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": cloud.Filename(name)}))
	_, _ = w.Write(cloud.Data)
}

func (ws *WebServer) handleProjectImage(w http.ResponseWriter, r *http.Request) {
	name, err := projectName(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	img, err := ws.device.ProjectImage(r.Context(), name)
	if err != nil {
		writeDeviceError(w, "project image", err)
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(img))
	_, _ = w.Write(img)
}
