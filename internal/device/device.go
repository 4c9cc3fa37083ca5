// Package device wraps the scanner's ROS control services: firmware
// version, project management, capture control, camera and network
// settings, USB maintenance and project downloads.
package device

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/banshee-data/lidar.console/internal/security"
	"github.com/sony/gobreaker"
)

// Service names and types exposed by the scanner.
const (
	SrvVersion        = "/get_version"
	SrvProjectList    = "/project_list"
	SrvProjectDelete  = "/project_delete"
	SrvProjectControl = "/project_control"
	SrvCameraControl  = "/camera_control"
	SrvIPConfig       = "/ip_config"
	SrvCurrentIP      = "/current_ip"
	SrvUSBOperation   = "/usb_operation"
	SrvProjectImage   = "/project_image"
	SrvProjectCloud   = "/project_cloud"

	TypeBase       = "project_control/Base"
	TypeMultiBytes = "project_control/MultiBytes"
	TypeDeviceBase = "device_control/Base"
)

// DefaultTimeout bounds a single service call.
const DefaultTimeout = 5 * time.Second

const (
	breakerName     = "scanner-services"
	breakerFailures = 5
)

// Capture actions for /project_control.
const (
	ActionStart = "start"
	ActionStop  = "stop"
)

var (
	// ErrRejected is returned when the scanner answers with success=false.
	ErrRejected = errors.New("device rejected request")
	// ErrEmptyData is returned when a download carries no bytes.
	ErrEmptyData = errors.New("device returned no data")
	// ErrUnavailable is returned while the circuit breaker is open.
	ErrUnavailable = errors.New("device services unavailable")
	// ErrInvalid is returned for arguments rejected before any call is made.
	ErrInvalid = errors.New("invalid argument")
)

// Caller performs a ROS service call. *rosbridge.Client satisfies it.
type Caller interface {
	CallService(ctx context.Context, service, srvType string, args, reply interface{}) error
}

// Response is the reply shape shared by the Base services.
type Response struct {
	Success bool     `json:"success" cbor:"success"`
	Message string   `json:"message" cbor:"message"`
	Version string   `json:"version,omitempty" cbor:"version,omitempty"`
	Tasks   []string `json:"tasks,omitempty" cbor:"tasks,omitempty"`
}

// BytesResponse is the reply shape of the MultiBytes services.
type BytesResponse struct {
	Success bool   `json:"success" cbor:"success"`
	Message string `json:"message" cbor:"message"`
	Data    Bytes  `json:"data" cbor:"data"`
}

type paramsArgs struct {
	Params string `json:"params" cbor:"params"`
}

type projectArgs struct {
	ProjectName string `json:"project_name" cbor:"project_name"`
}

// Options configures a Client.
type Options struct {
	// Timeout bounds each service call. Zero uses DefaultTimeout.
	Timeout time.Duration
	// BreakerTimeout is how long the breaker stays open before probing.
	BreakerTimeout time.Duration
}

// Client issues typed service calls through a circuit breaker.
type Client struct {
	caller  Caller
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker
}

// NewClient returns a Client calling through c.
func NewClient(c Caller, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.BreakerTimeout <= 0 {
		opts.BreakerTimeout = 30 * time.Second
	}
	settings := gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     opts.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailures
		},
		// A caller giving up is not a device fault.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("[Device] circuit breaker %s: %s -> %s", name, from, to)
		},
	}
	return &Client{
		caller:  c,
		timeout: opts.Timeout,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// BreakerState reports the circuit breaker state ("closed", "open" or
// "half-open").
func (c *Client) BreakerState() string {
	return c.breaker.State().String()
}

func (c *Client) call(ctx context.Context, service, srvType string, args, reply interface{}) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		if err := c.caller.CallService(ctx, service, srvType, args, reply); err != nil {
			return nil, err
		}
		return nil, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%s: %w", service, ErrUnavailable)
	}
	return err
}

// base calls a Base service and checks its success flag.
func (c *Client) base(ctx context.Context, service, srvType string, args interface{}) (Response, error) {
	var resp Response
	err := c.call(ctx, service, srvType, args, &resp)
	if err != nil {
		return resp, err
	}
	if !resp.Success {
		return resp, fmt.Errorf("%s: %w: %s", service, ErrRejected, resp.Message)
	}
	return resp, nil
}

// Version returns the scanner firmware version.
func (c *Client) Version(ctx context.Context) (string, error) {
	var resp Response
	if err := c.call(ctx, SrvVersion, TypeBase, struct{}{}, &resp); err != nil {
		return "", err
	}
	if resp.Version != "" {
		return resp.Version, nil
	}
	if !resp.Success && resp.Message == "" {
		return "", fmt.Errorf("%s: %w", SrvVersion, ErrRejected)
	}
	return resp.Message, nil
}

// Projects lists the projects stored on the scanner.
func (c *Client) Projects(ctx context.Context) ([]string, error) {
	resp, err := c.base(ctx, SrvProjectList, TypeBase, paramsArgs{})
	if err != nil {
		return nil, err
	}
	names := resp.Tasks
	if len(names) == 0 {
		names = strings.Split(resp.Message, ",")
	}
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, n)
		}
	}
	return out, nil
}

// DeleteProject removes a project from the scanner.
func (c *Client) DeleteProject(ctx context.Context, name string) error {
	if name == "" {
		return fmt.Errorf("%w: project name is required", ErrInvalid)
	}
	_, err := c.base(ctx, SrvProjectDelete, TypeBase, paramsArgs{Params: name})
	return err
}

// ControlCapture starts or stops capture for a task. action is ActionStart
// or ActionStop.
func (c *Client) ControlCapture(ctx context.Context, task, action string) (string, error) {
	if action != ActionStart && action != ActionStop {
		return "", fmt.Errorf("%w: unknown capture action %q", ErrInvalid, action)
	}
	if task == "" || strings.Contains(task, "/") {
		return "", fmt.Errorf("%w: task name %q", ErrInvalid, task)
	}
	resp, err := c.base(ctx, SrvProjectControl, TypeDeviceBase, paramsArgs{Params: task + "/" + action})
	return resp.Message, err
}

// CameraSettings are the tunable camera parameters.
type CameraSettings struct {
	Resolution   string `json:"resolution"`
	FrameRate    string `json:"frame_rate"`
	WhiteBalance string `json:"white_balance"`
	Exposure     string `json:"exposure"`
}

func (s CameraSettings) params() string {
	return strings.Join([]string{s.Resolution, s.FrameRate, s.WhiteBalance, s.Exposure}, "/")
}

// SetCamera applies camera settings.
func (c *Client) SetCamera(ctx context.Context, s CameraSettings) (string, error) {
	resp, err := c.base(ctx, SrvCameraControl, TypeBase, paramsArgs{Params: s.params()})
	return resp.Message, err
}

// CleanUSB wipes the attached USB drive.
func (c *Client) CleanUSB(ctx context.Context) error {
	_, err := c.base(ctx, SrvUSBOperation, TypeBase, struct{}{})
	return err
}

// ProjectImage downloads a project's preview image.
func (c *Client) ProjectImage(ctx context.Context, name string) ([]byte, error) {
	return c.download(ctx, SrvProjectImage, name)
}

// Cloud is a downloaded project point cloud.
type Cloud struct {
	Data []byte
	// Ext is the file extension detected from the data, e.g. ".ply".
	Ext string
}

// Filename returns a safe download name for the cloud of project name.
func (c Cloud) Filename(name string) string {
	return security.DownloadName(name, c.Ext)
}

// ProjectCloud downloads a project's point cloud.
func (c *Client) ProjectCloud(ctx context.Context, name string) (Cloud, error) {
	data, err := c.download(ctx, SrvProjectCloud, name)
	if err != nil {
		return Cloud{}, err
	}
	return Cloud{Data: data, Ext: DetectPointCloudFormat(data)}, nil
}

func (c *Client) download(ctx context.Context, service, name string) ([]byte, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: project name is required", ErrInvalid)
	}
	var resp BytesResponse
	if err := c.call(ctx, service, TypeMultiBytes, projectArgs{ProjectName: name}, &resp); err != nil {
		return nil, err
	}
	if !resp.Success && len(resp.Data) == 0 {
		return nil, fmt.Errorf("%s: %w: %s", service, ErrRejected, resp.Message)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("%s: %w", service, ErrEmptyData)
	}
	return resp.Data, nil
}
